package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/config"
	"quantumbank.org/internal/httpapi"
	"quantumbank.org/internal/ledger"
	"quantumbank.org/internal/obs"
	"quantumbank.org/internal/session"
	"quantumbank.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Accounts and ledger: Postgres when a DSN is set, in-memory otherwise.
	var (
		directory account.Directory
		lg        ledger.Ledger
		probe     httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		directory = store
		lg = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		directory = account.NewInMemory()
		lg = ledger.NewInMemory()
	}

	// Credentials: Redis when configured, in-memory otherwise.
	var credStore session.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		credStore = session.NewRedisStore(rdb)
	} else {
		credStore = session.NewInMemoryStore()
	}
	sessions := session.NewAuthority(credStore, session.WithTTL(cfg.SessionKeyTTL))

	api := httpapi.New(probe, version, sessions, directory, lg, httpapi.Options{
		OpeningBalance: cfg.OpeningBalance,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting quantumbank-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
