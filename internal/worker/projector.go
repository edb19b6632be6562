package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"creditledger/internal/model"
	"creditledger/internal/service"
)

// Projector listens for committed batches and keeps the account_balances
// read table current. The version guard in the upsert makes the projection
// idempotent and immune to out-of-order delivery.
type Projector struct {
	pool     *pgxpool.Pool
	natsConn *nats.Conn
}

func NewProjector(pool *pgxpool.Pool, nc *nats.Conn) *Projector {
	return &Projector{pool: pool, natsConn: nc}
}

// Start subscribes to the committed topic and blocks until ctx is cancelled.
// QueueSubscribe keeps the projection single-writer across replicas.
func (p *Projector) Start(ctx context.Context) error {
	sub, err := p.natsConn.QueueSubscribe(service.TopicCommitted, "projector_group", func(m *nats.Msg) {
		var batch model.CommittedBatch
		if err := json.Unmarshal(m.Data, &batch); err != nil {
			slog.Error("projector: failed to unmarshal batch", "error", err)
			return
		}

		if err := p.project(ctx, batch); err != nil {
			slog.Error("projector: failed to update read model",
				"account_id", batch.AccountID,
				"version", batch.Version,
				"error", err,
			)
			return
		}

		slog.Info("projector: read model updated",
			"account_id", batch.AccountID,
			"version", batch.Version,
			"events", len(batch.Events),
		)
	})
	if err != nil {
		return fmt.Errorf("projector: failed to subscribe: %w", err)
	}

	slog.Info("Balance projector is running")

	<-ctx.Done()

	slog.Info("Projector received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (p *Projector) project(ctx context.Context, batch model.CommittedBatch) error {
	_, err := p.pool.Exec(ctx, `
		insert into account_balances (account_id, version, available, spent, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (account_id) do update
			set version = excluded.version,
			    available = excluded.available,
			    spent = excluded.spent,
			    updated_at = excluded.updated_at
			where account_balances.version < excluded.version`,
		batch.AccountID, batch.Version, batch.Available, batch.Spent, batch.CommittedAt,
	)
	return err
}

// Stop implements the infrastructure.Server interface (shutdown is via ctx).
func (p *Projector) Stop(ctx context.Context) error {
	return nil
}
