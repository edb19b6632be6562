package credit

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func run(t *testing.T, acc *Account, cmd Command, now time.Time) []Event {
	t.Helper()
	events, err := acc.Handle(cmd, now)
	if err != nil {
		t.Fatalf("handle %T: %v", cmd, err)
	}
	if err := acc.ApplyAll(events); err != nil {
		t.Fatalf("apply events of %T: %v", cmd, err)
	}
	return events
}

// checkInvariant verifies available + reserved + allocated + spent == added.
func checkInvariant(t *testing.T, acc *Account, totalAdded int64) {
	t.Helper()
	if acc.Available < 0 {
		t.Fatalf("available went negative: %d", acc.Available)
	}
	sum := acc.Available + acc.Spent
	for _, r := range acc.Reservations {
		sum += r.Amount
	}
	for _, r := range acc.Allocations {
		sum += r.Amount
	}
	if sum != totalAdded {
		t.Fatalf("balance invariant broken: parts sum to %d, added %d", sum, totalAdded)
	}
}

func TestAddReserveSpendScenario(t *testing.T) {
	acc := NewAccount(7)
	id := uuid.New()

	run(t, acc, AddCredits{Amount: 100}, testNow)
	if acc.Version != 1 || acc.Available != 100 {
		t.Fatalf("after add: version=%d available=%d", acc.Version, acc.Available)
	}

	run(t, acc, ReserveCredits{Amount: 30, ID: id}, testNow)
	if acc.Version != 2 || acc.Available != 70 {
		t.Fatalf("after reserve: version=%d available=%d", acc.Version, acc.Available)
	}

	run(t, acc, SpendReservation{ID: id}, testNow)
	if acc.Version != 3 || acc.Available != 70 || acc.Spent != 30 {
		t.Fatalf("after spend: version=%d available=%d spent=%d", acc.Version, acc.Available, acc.Spent)
	}
	if len(acc.Reservations) != 0 {
		t.Fatalf("reservation still active after spend")
	}

	// Nothing left to evict: no events, version unchanged.
	events := run(t, acc, EvictExpiredReservations{MaxAge: 0}, testNow)
	if len(events) != 0 || acc.Version != 3 {
		t.Fatalf("evict on empty account: %d events, version=%d", len(events), acc.Version)
	}

	checkInvariant(t, acc, 100)
}

func TestReserveCancelRestoresBalance(t *testing.T) {
	acc := NewAccount(1)
	id := uuid.New()
	run(t, acc, AddCredits{Amount: 50}, testNow)

	run(t, acc, ReserveCredits{Amount: 20, ID: id}, testNow)
	if acc.Available != 30 {
		t.Fatalf("available after reserve = %d, want 30", acc.Available)
	}

	run(t, acc, CancelReservation{ID: id}, testNow)
	if acc.Available != 50 {
		t.Fatalf("available after cancel = %d, want 50", acc.Available)
	}
	checkInvariant(t, acc, 50)
}

func TestSpendTwiceFails(t *testing.T) {
	acc := NewAccount(1)
	id := uuid.New()
	run(t, acc, AddCredits{Amount: 10}, testNow)
	run(t, acc, ReserveCredits{Amount: 5, ID: id}, testNow)
	run(t, acc, SpendReservation{ID: id}, testNow)

	if _, err := acc.Handle(SpendReservation{ID: id}, testNow); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("second spend: got %v, want ErrReservationNotFound", err)
	}
}

func TestOperationsOnRetiredID(t *testing.T) {
	acc := NewAccount(1)
	id := uuid.New()
	run(t, acc, AddCredits{Amount: 10}, testNow)
	run(t, acc, ReserveCredits{Amount: 5, ID: id}, testNow)
	run(t, acc, CancelReservation{ID: id}, testNow)

	if _, err := acc.Handle(AllocateCredits{ID: id}, testNow); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("allocate cancelled id: got %v", err)
	}
	if _, err := acc.Handle(SpendReservation{ID: id}, testNow); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("spend cancelled id: got %v", err)
	}

	// Terminal state reached: the id may be reserved again.
	run(t, acc, ReserveCredits{Amount: 3, ID: id}, testNow)
	checkInvariant(t, acc, 10)
}

func TestNotEnoughMoney(t *testing.T) {
	acc := NewAccount(1)
	run(t, acc, AddCredits{Amount: 40}, testNow)

	_, err := acc.Handle(ReserveCredits{Amount: 100, ID: uuid.New()}, testNow)
	var insufficient NotEnoughMoneyError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want NotEnoughMoneyError", err)
	}
	if insufficient.Has != 40 || insufficient.Needs != 60 {
		t.Fatalf("NotEnoughMoney{Has: %d, Needs: %d}, want {40, 60}", insufficient.Has, insufficient.Needs)
	}
	if !IsValidation(err) {
		t.Fatal("NotEnoughMoneyError should be a validation error")
	}
}

func TestReserveDuplicateID(t *testing.T) {
	acc := NewAccount(1)
	id := uuid.New()
	run(t, acc, AddCredits{Amount: 100}, testNow)
	run(t, acc, ReserveCredits{Amount: 10, ID: id}, testNow)

	if _, err := acc.Handle(ReserveCredits{Amount: 10, ID: id}, testNow); !errors.Is(err, ErrReservationExists) {
		t.Fatalf("duplicate reserve: got %v", err)
	}

	// Allocated reservations still hold the id.
	run(t, acc, AllocateCredits{ID: id}, testNow)
	if _, err := acc.Handle(ReserveCredits{Amount: 10, ID: id}, testNow); !errors.Is(err, ErrReservationExists) {
		t.Fatalf("reserve over allocation: got %v", err)
	}
}

func TestAllocateAndFree(t *testing.T) {
	acc := NewAccount(1)
	id := uuid.New()
	run(t, acc, AddCredits{Amount: 100}, testNow)
	run(t, acc, ReserveCredits{Amount: 25, ID: id}, testNow)

	run(t, acc, AllocateCredits{ID: id}, testNow.Add(time.Minute))
	if len(acc.Reservations) != 0 || len(acc.Allocations) != 1 {
		t.Fatalf("allocation did not move the entry")
	}
	if acc.Allocations[id].AllocatedAt.IsZero() {
		t.Fatal("allocation timestamp not set")
	}
	if acc.Available != 75 {
		t.Fatalf("available changed by allocation: %d", acc.Available)
	}
	checkInvariant(t, acc, 100)

	events := run(t, acc, FreeAllocation{ID: id}, testNow)
	freed := events[0].(AllocationFreed)
	if freed.Amount != 25 || freed.Available != 100 {
		t.Fatalf("AllocationFreed{Amount: %d, Available: %d}, want {25, 100}", freed.Amount, freed.Available)
	}
	if acc.Available != 100 || len(acc.Allocations) != 0 {
		t.Fatalf("free did not restore balance: available=%d", acc.Available)
	}

	if _, err := acc.Handle(FreeAllocation{ID: id}, testNow); !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("second free: got %v", err)
	}
}

func TestEvictExpiredReservations(t *testing.T) {
	acc := NewAccount(1)
	old1, old2, fresh := uuid.New(), uuid.New(), uuid.New()
	run(t, acc, AddCredits{Amount: 100}, testNow)
	run(t, acc, ReserveCredits{Amount: 10, ID: old1}, testNow.Add(-2*time.Hour))
	run(t, acc, ReserveCredits{Amount: 20, ID: old2}, testNow.Add(-1*time.Hour))
	run(t, acc, ReserveCredits{Amount: 30, ID: fresh}, testNow)

	events := run(t, acc, EvictExpiredReservations{MaxAge: 30 * time.Minute}, testNow)
	if len(events) != 2 {
		t.Fatalf("evicted %d reservations, want 2", len(events))
	}

	// Oldest first, with a per-event running available that matches replay.
	first := events[0].(ReservationExpired)
	second := events[1].(ReservationExpired)
	if first.ID != old1 || second.ID != old2 {
		t.Fatalf("eviction order: got %s, %s", first.ID, second.ID)
	}
	if first.Freed != 10 || first.Available != 50 {
		t.Fatalf("first expiry: freed=%d available=%d, want 10, 50", first.Freed, first.Available)
	}
	if second.Freed != 20 || second.Available != 70 {
		t.Fatalf("second expiry: freed=%d available=%d, want 20, 70", second.Freed, second.Available)
	}

	if acc.Available != 70 {
		t.Fatalf("available after eviction = %d, want 70", acc.Available)
	}
	if _, ok := acc.Reservations[fresh]; !ok {
		t.Fatal("fresh reservation was evicted")
	}
	checkInvariant(t, acc, 100)
}

func TestAmountPolicy(t *testing.T) {
	acc := NewAccount(1)

	if _, err := acc.Handle(AddCredits{Amount: 0}, testNow); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("add zero: got %v", err)
	}
	if _, err := acc.Handle(AddCredits{Amount: -5}, testNow); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("add negative: got %v", err)
	}
	if _, err := acc.Handle(ReserveCredits{Amount: 0, ID: uuid.New()}, testNow); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("reserve zero: got %v", err)
	}

	run(t, acc, AddCredits{Amount: math.MaxInt64 - 10}, testNow)
	if _, err := acc.Handle(AddCredits{Amount: 11}, testNow); !errors.Is(err, ErrBalanceOverflow) {
		t.Errorf("overflowing add: got %v", err)
	}
	run(t, acc, AddCredits{Amount: 10}, testNow)
}

func TestApplyOnWrongStateIsCorruption(t *testing.T) {
	acc := NewAccount(1)
	if err := acc.Apply(ReservationCancelled{ID: uuid.New(), Amount: 5}); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("cancel of unknown reservation: got %v", err)
	}
	if err := acc.Apply(AllocationFreed{ID: uuid.New(), Amount: 5}); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("free of unknown allocation: got %v", err)
	}
	if acc.Version != 0 {
		t.Fatalf("version advanced on corrupt event: %d", acc.Version)
	}
	if IsValidation(ErrCorruptStream) {
		t.Fatal("stream corruption must not be a validation error")
	}
}

func TestHandleDoesNotMutate(t *testing.T) {
	acc := NewAccount(1)
	run(t, acc, AddCredits{Amount: 100}, testNow)

	if _, err := acc.Handle(ReserveCredits{Amount: 40, ID: uuid.New()}, testNow); err != nil {
		t.Fatal(err)
	}
	if acc.Version != 1 || acc.Available != 100 || len(acc.Reservations) != 0 {
		t.Fatalf("handle mutated state: version=%d available=%d", acc.Version, acc.Available)
	}
}

func TestReplayEquivalence(t *testing.T) {
	acc := NewAccount(9)
	id1, id2 := uuid.New(), uuid.New()

	var log []Event
	for _, cmd := range []Command{
		AddCredits{Amount: 500},
		ReserveCredits{Amount: 120, ID: id1},
		ReserveCredits{Amount: 80, ID: id2},
		AllocateCredits{ID: id1},
		SpendReservation{ID: id2},
		FreeAllocation{ID: id1},
	} {
		log = append(log, run(t, acc, cmd, testNow)...)
	}

	replayed := NewAccount(9)
	if err := replayed.ApplyAll(log); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Version != acc.Version || replayed.Available != acc.Available || replayed.Spent != acc.Spent {
		t.Fatalf("replay diverged: %+v vs %+v", replayed, acc)
	}
	checkInvariant(t, replayed, 500)
}
