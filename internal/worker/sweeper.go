package worker

import (
	"context"
	"log/slog"
	"time"

	"creditledger/internal/service"
)

// AccountLister enumerates the accounts the sweeper should visit.
type AccountLister interface {
	AccountIDs(ctx context.Context) ([]int64, error)
}

// Sweeper periodically retires reservations older than maxAge, so forgotten
// holds release their credits without any client traffic.
type Sweeper struct {
	svc      service.CreditService
	accounts AccountLister
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(svc service.CreditService, accounts AccountLister, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{svc: svc, accounts: accounts, interval: interval, maxAge: maxAge}
}

func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Reservation sweeper is running", "interval", s.interval, "max_age", s.maxAge)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper received shutdown signal")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids, err := s.accounts.AccountIDs(ctx)
	if err != nil {
		slog.Error("sweeper: failed to list accounts", "error", err)
		return
	}

	for _, id := range ids {
		if _, err := s.svc.EvictExpired(ctx, id, s.maxAge); err != nil {
			slog.Error("sweeper: eviction failed", "account_id", id, "error", err)
		}
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	return nil
}
