// Package service exposes the ledger's business operations to the transport
// layers and owns the retry, cache, and bus concerns around the command runner.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"creditledger/internal/credit"
	"creditledger/internal/eventstore"
	"creditledger/internal/model"
)

// TopicCommitted carries model.CommittedBatch messages for every persisted
// command batch.
const TopicCommitted = "credits.committed"

// conflictRetries bounds how often a batch is re-run after losing the version
// race before the conflict is surfaced to the caller.
const conflictRetries = 5

// CreditService defines the ledger operations. All transports depend on this
// interface, not on the concrete implementation.
type CreditService interface {
	AccountStatus(ctx context.Context, accountID int64) (*model.AccountStatus, error)
	AddCredits(ctx context.Context, accountID, amount int64) (*model.AccountStatus, error)
	Reserve(ctx context.Context, accountID, amount int64, id uuid.UUID) (*model.AccountStatus, error)
	Allocate(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error)
	Cancel(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error)
	Spend(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error)
	Free(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error)
	EvictExpired(ctx context.Context, accountID int64, maxAge time.Duration) (*model.AccountStatus, error)
}

// Runner runs a command batch against an account, all-or-nothing.
type Runner interface {
	Run(ctx context.Context, accountID int64, cmds ...credit.Command) (*credit.Account, []credit.Event, error)
}

// Loader reads current account state without mutating anything.
type Loader interface {
	Load(ctx context.Context, accountID int64) (*credit.Account, error)
}

// MessageBus publishes committed batches for downstream consumers.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

type Service struct {
	runner Runner
	loader Loader
	cache  StatusCache
	bus    MessageBus
}

func New(runner Runner, loader Loader, cache StatusCache, bus MessageBus) *Service {
	return &Service{runner: runner, loader: loader, cache: cache, bus: bus}
}

var _ CreditService = (*Service)(nil)

// AccountStatus serves reads from the Redis cache when possible and falls
// back to an event-store load on a miss. The store is always authoritative;
// the cache is refreshed from whatever it returns.
func (s *Service) AccountStatus(ctx context.Context, accountID int64) (*model.AccountStatus, error) {
	if status, err := s.cache.Get(ctx, accountID); err == nil {
		return status, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("status cache read failed", "account_id", accountID, "error", err)
	}

	acc, err := s.loader.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	status := statusOf(acc)
	if err := s.cache.Set(ctx, status); err != nil {
		slog.Warn("status cache write failed", "account_id", accountID, "error", err)
	}
	return status, nil
}

func (s *Service) AddCredits(ctx context.Context, accountID, amount int64) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.AddCredits{Amount: amount})
}

func (s *Service) Reserve(ctx context.Context, accountID, amount int64, id uuid.UUID) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.ReserveCredits{Amount: amount, ID: id})
}

func (s *Service) Allocate(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.AllocateCredits{ID: id})
}

func (s *Service) Cancel(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.CancelReservation{ID: id})
}

func (s *Service) Spend(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.SpendReservation{ID: id})
}

func (s *Service) Free(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.FreeAllocation{ID: id})
}

func (s *Service) EvictExpired(ctx context.Context, accountID int64, maxAge time.Duration) (*model.AccountStatus, error) {
	return s.execute(ctx, accountID, credit.EvictExpiredReservations{MaxAge: maxAge})
}

// execute runs the batch through the runner, re-running it with freshly
// loaded state when it loses the version race. The runner itself never
// retries; this is the reload-and-retry caller.
func (s *Service) execute(ctx context.Context, accountID int64, cmds ...credit.Command) (*model.AccountStatus, error) {
	var (
		acc    *credit.Account
		events []credit.Event
	)
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		a, produced, err := s.runner.Run(ctx, accountID, cmds...)
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		acc, events = a, produced
		return nil
	})
	if err != nil {
		return nil, err
	}

	status := statusOf(acc)
	if len(events) > 0 {
		s.announce(acc, events)
		if err := s.cache.Set(ctx, status); err != nil {
			slog.Warn("status cache write failed", "account_id", accountID, "error", err)
		}
	}
	return status, nil
}

// announce publishes the committed batch. Publishing is best effort: the
// batch is already durable, so a bus failure only delays the read model.
func (s *Service) announce(acc *credit.Account, events []credit.Event) {
	kinds := make([]string, len(events))
	for i, evt := range events {
		kinds[i] = evt.Kind()
	}
	msg := model.CommittedBatch{
		AccountID:   acc.ID,
		Version:     acc.Version,
		Available:   acc.Available,
		Spent:       acc.Spent,
		Events:      kinds,
		CommittedAt: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal committed batch", "account_id", acc.ID, "error", err)
		return
	}
	if err := s.bus.Publish(TopicCommitted, data); err != nil {
		slog.Warn("publish committed batch", "account_id", acc.ID, "error", err)
	}
}

func statusOf(acc *credit.Account) *model.AccountStatus {
	return &model.AccountStatus{
		AccountID:          acc.ID,
		Version:            acc.Version,
		Available:          acc.Available,
		Spent:              acc.Spent,
		ActiveReservations: len(acc.Reservations),
		ActiveAllocations:  len(acc.Allocations),
	}
}
