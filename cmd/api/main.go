package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
	"dealgate.io/internal/audit"
	"dealgate.io/internal/cache"
	"dealgate.io/internal/config"
	"dealgate.io/internal/httpapi"
	"dealgate.io/internal/obs"
	"dealgate.io/internal/release"
	"dealgate.io/internal/store/pg"
	"dealgate.io/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	deps := httpapi.Deps{
		Stream:   stream.New(),
		Version:  version,
		TokenTTL: cfg.Auth.TokenTTL,
	}

	// Postgres when a DSN is configured, in-memory otherwise. The in-memory
	// mode exists for demos and local development; it loses state on restart.
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer store.Close()
		deps.Agreements = store
		deps.Recorder = store
		deps.Deals = store
		deps.Identities = store
		deps.ReadyProbe = httpapi.ReadyProbe{DB: store.DB()}

		resolver := agreement.NewResolver(store)
		wireResolver(&deps, cfg, resolver)
		deps.Matrix = access.NewMatrix(store, deps.Resolver, store, store)
		deps.Ledger = release.NewLedger(store, deps.Resolver, store)
		log.Info().Msg("using postgres store")
	} else {
		recorder := audit.NewLog()
		agreements := agreement.NewInMemory(agreement.WithRecorder(recorder))
		directory := access.NewInMemoryDirectory()
		deps.Agreements = agreements
		deps.Recorder = recorder
		deps.Deals = directory
		deps.Identities = directory

		resolver := agreement.NewResolver(agreements)
		wireResolver(&deps, cfg, resolver)
		deps.Matrix = access.NewMatrix(access.NewInMemory(), deps.Resolver, directory, directory)
		deps.Ledger = release.NewLedger(release.NewInMemory(), deps.Resolver, directory)
		log.Warn().Msg("DEALGATE_PG_DSN not set, using in-memory store")
	}

	api := httpapi.New(deps)

	var handler http.Handler = api.Handler()
	handler = httpapi.PublicPathRateLimit(handler, "/l/",
		cfg.RateLimit.Burst, cfg.RateLimit.PerSecond,
		cfg.RateLimit.PublicBurst, cfg.RateLimit.PublicPerSecond)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // long enough for SSE consumers
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting dealgate-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("stopped")
}

// wireResolver installs the coverage resolver, wrapped in the Redis cache
// when an address is configured.
func wireResolver(deps *httpapi.Deps, cfg *config.Config, resolver *agreement.Resolver) {
	if cfg.Redis.Addr == "" {
		deps.Resolver = resolver
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	cached := cache.NewResolver(resolver, rdb, cfg.Redis.CacheTTL)
	deps.Resolver = cached
	deps.Invalidate = cached.Invalidate
	obs.Logger().Info().Str("addr", cfg.Redis.Addr).Msg("coverage cache enabled")
}
