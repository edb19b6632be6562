package infrastructure

import (
	"context"

	"creditledger/internal/config"
	"creditledger/internal/eventstore"
	"creditledger/internal/service"
	transportHTTP "creditledger/internal/transport/http"
	transportNATS "creditledger/internal/transport/nats"
	"creditledger/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Core wiring ───────────────────────────────────────────────────────────
	store := eventstore.NewStore(db)
	runner := eventstore.NewRunner(store)
	bus := transportNATS.NewBus(nc)
	cache := service.NewRedisCache(rdb)
	svc := service.New(runner, store, cache, bus)

	servers := []Server{
		transportNATS.NewHandler(svc, nc),
		worker.NewProjector(db, nc),
		worker.NewSweeper(svc, store, cfg.SweepInterval(), cfg.ReservationMaxAge()),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
