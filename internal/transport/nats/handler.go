package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"creditledger/internal/service"
)

// Handler subscribes to NATS command topics and delegates to the credit
// service. Command messages have no reply path; failures are logged.
type Handler struct {
	svc  service.CreditService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.CreditService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe("credits.commands.add", "credits_group", func(m *nats.Msg) {
		var req struct {
			AccountID int64 `json:"account_id"`
			Amount    int64 `json:"amount"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal add command", "error", err)
			return
		}
		if _, err := h.svc.AddCredits(ctx, req.AccountID, req.Amount); err != nil {
			slog.Error("nats: add credits failed", "error", err, "account_id", req.AccountID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe("credits.commands.reserve", "credits_group", func(m *nats.Msg) {
		var req struct {
			AccountID     int64     `json:"account_id"`
			Amount        int64     `json:"amount"`
			ReservationID uuid.UUID `json:"reservation_id"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal reserve command", "error", err)
			return
		}
		if _, err := h.svc.Reserve(ctx, req.AccountID, req.Amount, req.ReservationID); err != nil {
			slog.Error("nats: reserve failed", "error", err, "account_id", req.AccountID,
				"reservation_id", req.ReservationID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
