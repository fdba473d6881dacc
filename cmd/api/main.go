package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secma.org/internal/auth"
	"secma.org/internal/config"
	"secma.org/internal/httpapi"
	"secma.org/internal/obs"
	"secma.org/internal/store/mem"
	"secma.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

const pruneInterval = time.Hour

func main() {
	configPath := flag.String("config", os.Getenv("SECMA_CONFIG"), "Path to YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Postgres when a DSN is configured, otherwise an in-process store
	// for local development.
	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN, pg.Config{TablePrefix: cfg.TablePrefix, Schema: cfg.DBSchema})
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("SECMA_PG_DSN not set, using in-memory store")
		store = mem.New()
	}

	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	keys, err := auth.NewKeyring(cfg.TokenSecrets...)
	if err != nil {
		log.Fatalf("keyring: %v", err)
	}
	tokens, err := auth.NewEngine(keys, store,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token engine: %v", err)
	}
	resolver, err := auth.NewResolver(store, auth.WithCache())
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var svcOpts []auth.ServiceOption
	if cfg.SuperUserLogin != "" {
		svcOpts = append(svcOpts, auth.WithSuperUser(cfg.SuperUserLogin, cfg.SuperUserPassword))
	}
	svc, err := auth.NewService(store, hasher, tokens, resolver, svcOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	rbac, err := auth.NewRBACService(store, hasher, resolver)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rbac.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtins: %v", err)
	}

	// Expired revocation tombstones are garbage; sweep them periodically.
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.PurgeRevokedTokens(ctx, time.Now())
				if err != nil {
					log.Printf("purge revoked tokens: %v", err)
					continue
				}
				obs.ObservePurgedTokens(n)
			}
		}
	}()

	api := httpapi.New(svc, rbac, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithLoginRateLimit(cfg.LoginRate, cfg.LoginBurst))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting secma-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
