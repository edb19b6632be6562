package eventstore

import (
	"context"
	"time"

	"creditledger/internal/credit"
)

// Runner executes a batch of commands against a freshly loaded account and
// persists the result atomically. Each command is handled against the
// in-memory state already reflecting earlier commands in the same batch; a
// single validation failure discards the whole batch. The runner performs no
// retry on ErrConcurrencyConflict: the caller reloads by calling Run again.
type Runner struct {
	storage Storage
	now     func() time.Time
}

func NewRunner(storage Storage) *Runner {
	return &Runner{storage: storage, now: time.Now}
}

// Run returns the post-batch state and the events that were persisted.
func (r *Runner) Run(ctx context.Context, accountID int64, cmds ...credit.Command) (*credit.Account, []credit.Event, error) {
	acc, err := r.storage.Load(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	expected := acc.Version
	var produced []credit.Event
	for _, cmd := range cmds {
		events, err := acc.Handle(cmd, r.now())
		if err != nil {
			return nil, nil, err
		}
		if err := acc.ApplyAll(events); err != nil {
			return nil, nil, err
		}
		produced = append(produced, events...)
	}

	if err := r.storage.Save(ctx, accountID, expected, acc.Version, produced, acc); err != nil {
		return nil, nil, err
	}
	return acc, produced, nil
}
