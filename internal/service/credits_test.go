package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"creditledger/internal/credit"
	"creditledger/internal/eventstore"
	"creditledger/internal/model"
)

type mockRunner struct {
	conflicts int
	calls     int
	err       error
	acc       *credit.Account
	events    []credit.Event
}

func (m *mockRunner) Run(ctx context.Context, accountID int64, cmds ...credit.Command) (*credit.Account, []credit.Event, error) {
	m.calls++
	if m.calls <= m.conflicts {
		return nil, nil, eventstore.ErrConcurrencyConflict
	}
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.acc, m.events, nil
}

type mockLoader struct {
	acc *credit.Account
}

func (m *mockLoader) Load(ctx context.Context, accountID int64) (*credit.Account, error) {
	return m.acc, nil
}

type mockBus struct {
	topics   []string
	payloads [][]byte
}

func (m *mockBus) Publish(topic string, data []byte) error {
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, data)
	return nil
}

type mapCache struct {
	entries map[int64]*model.AccountStatus
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[int64]*model.AccountStatus)}
}

func (m *mapCache) Get(ctx context.Context, accountID int64) (*model.AccountStatus, error) {
	status, ok := m.entries[accountID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return status, nil
}

func (m *mapCache) Set(ctx context.Context, status *model.AccountStatus) error {
	m.entries[status.AccountID] = status
	return nil
}

func fundedAccount(t *testing.T, id int64, amount int64) *credit.Account {
	t.Helper()
	acc := credit.NewAccount(id)
	events, err := acc.Handle(credit.AddCredits{Amount: amount}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.ApplyAll(events); err != nil {
		t.Fatal(err)
	}
	return acc
}

func TestAddCreditsPublishesAndCaches(t *testing.T) {
	acc := fundedAccount(t, 42, 100)
	runner := &mockRunner{acc: acc, events: []credit.Event{credit.CreditsAdded{Amount: 100}}}
	bus := &mockBus{}
	cache := newMapCache()
	svc := New(runner, &mockLoader{acc: acc}, cache, bus)

	status, err := svc.AddCredits(context.Background(), 42, 100)
	if err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if status.Available != 100 || status.Version != 1 {
		t.Fatalf("status: %+v", status)
	}

	if len(bus.topics) != 1 || bus.topics[0] != TopicCommitted {
		t.Fatalf("published topics: %v", bus.topics)
	}
	var batch model.CommittedBatch
	if err := json.Unmarshal(bus.payloads[0], &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.AccountID != 42 || batch.Version != 1 || len(batch.Events) != 1 || batch.Events[0] != "CreditsAdded" {
		t.Fatalf("batch: %+v", batch)
	}

	if cached, err := cache.Get(context.Background(), 42); err != nil || cached.Available != 100 {
		t.Fatalf("cache after write: %+v, %v", cached, err)
	}
}

func TestExecuteRetriesConflictThenSucceeds(t *testing.T) {
	acc := fundedAccount(t, 1, 10)
	runner := &mockRunner{conflicts: 2, acc: acc, events: []credit.Event{credit.CreditsAdded{Amount: 10}}}
	svc := New(runner, &mockLoader{acc: acc}, newMapCache(), &mockBus{})

	if _, err := svc.AddCredits(context.Background(), 1, 10); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("runner called %d times, want 3", runner.calls)
	}
}

func TestExecuteGivesUpAfterRetries(t *testing.T) {
	acc := fundedAccount(t, 1, 10)
	runner := &mockRunner{conflicts: 100, acc: acc}
	svc := New(runner, &mockLoader{acc: acc}, newMapCache(), &mockBus{})

	_, err := svc.AddCredits(context.Background(), 1, 10)
	if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("got %v, want ErrConcurrencyConflict", err)
	}
}

func TestValidationErrorIsNotRetriedOrPublished(t *testing.T) {
	acc := fundedAccount(t, 1, 10)
	runner := &mockRunner{err: credit.ErrReservationNotFound}
	bus := &mockBus{}
	svc := New(runner, &mockLoader{acc: acc}, newMapCache(), bus)

	_, err := svc.Spend(context.Background(), 1, uuid.New())
	if !errors.Is(err, credit.ErrReservationNotFound) {
		t.Fatalf("got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("validation error retried: %d calls", runner.calls)
	}
	if len(bus.topics) != 0 {
		t.Fatal("rejected command was published")
	}
}

func TestEvictWithNothingExpiredPublishesNothing(t *testing.T) {
	acc := fundedAccount(t, 1, 10)
	runner := &mockRunner{acc: acc, events: nil}
	bus := &mockBus{}
	svc := New(runner, &mockLoader{acc: acc}, newMapCache(), bus)

	status, err := svc.EvictExpired(context.Background(), 1, time.Hour)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if status.Version != 1 {
		t.Fatalf("status: %+v", status)
	}
	if len(bus.topics) != 0 {
		t.Fatal("empty eviction was published")
	}
}

func TestAccountStatusReadThrough(t *testing.T) {
	acc := fundedAccount(t, 5, 70)
	cache := newMapCache()
	svc := New(&mockRunner{}, &mockLoader{acc: acc}, cache, &mockBus{})

	// Miss: served from the loader, then cached.
	status, err := svc.AccountStatus(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if status.Available != 70 {
		t.Fatalf("status from loader: %+v", status)
	}
	if _, err := cache.Get(context.Background(), 5); err != nil {
		t.Fatal("status not cached after miss")
	}

	// Hit: a doctored cache entry is returned as-is, proving no load happened.
	cache.entries[5].Available = 999
	status, err = svc.AccountStatus(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if status.Available != 999 {
		t.Fatalf("cache hit bypassed: %+v", status)
	}
}
