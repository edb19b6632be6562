// Package credit holds the account aggregate: a pure state machine that
// validates commands into events and rebuilds its state by replaying them.
package credit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Reservation is credits earmarked against a future spend. Until allocated,
// AllocatedAt is the zero time.
type Reservation struct {
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	AllocatedAt time.Time `json:"allocated_at,omitzero"`
}

// Account is the unit of consistency: one account's full state, derived
// exclusively from its event history. Version counts applied events.
type Account struct {
	ID           int64                     `json:"id"`
	Version      int64                     `json:"version"`
	Available    int64                     `json:"available"`
	Spent        int64                     `json:"spent"`
	Reservations map[uuid.UUID]Reservation `json:"reservations"`
	Allocations  map[uuid.UUID]Reservation `json:"allocations"`
}

// NewAccount returns the implicit zero state an account has before any event.
func NewAccount(id int64) *Account {
	return &Account{
		ID:           id,
		Reservations: make(map[uuid.UUID]Reservation),
		Allocations:  make(map[uuid.UUID]Reservation),
	}
}

// total is the sum every CreditsAdded ever contributed: available plus
// everything currently reserved, allocated, or spent.
func (a *Account) total() int64 {
	sum := a.Available + a.Spent
	for _, r := range a.Reservations {
		sum += r.Amount
	}
	for _, r := range a.Allocations {
		sum += r.Amount
	}
	return sum
}

// Handle validates cmd against the current state and returns the events it
// produces. It never mutates the account; now supplies the timestamp for
// events that carry one.
func (a *Account) Handle(cmd Command, now time.Time) ([]Event, error) {
	switch c := cmd.(type) {
	case AddCredits:
		return a.addCredits(c.Amount)
	case ReserveCredits:
		return a.reserveCredits(c.Amount, c.ID, now)
	case AllocateCredits:
		return a.allocateCredits(c.ID, now)
	case CancelReservation:
		return a.cancelReservation(c.ID)
	case SpendReservation:
		return a.spendReservation(c.ID)
	case FreeAllocation:
		return a.freeAllocation(c.ID)
	case EvictExpiredReservations:
		return a.evictExpired(c.MaxAge, now), nil
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}

func (a *Account) addCredits(amount int64) ([]Event, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("add %d: %w", amount, ErrInvalidAmount)
	}
	if amount > math.MaxInt64-a.total() {
		return nil, fmt.Errorf("add %d: %w", amount, ErrBalanceOverflow)
	}
	return []Event{CreditsAdded{Amount: amount}}, nil
}

func (a *Account) reserveCredits(amount int64, id uuid.UUID, now time.Time) ([]Event, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve %d: %w", amount, ErrInvalidAmount)
	}
	if a.Available-amount < 0 {
		return nil, NotEnoughMoneyError{Has: a.Available, Needs: amount - a.Available}
	}
	if _, ok := a.Reservations[id]; ok {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrReservationExists)
	}
	if _, ok := a.Allocations[id]; ok {
		return nil, fmt.Errorf("reservation %s is allocated: %w", id, ErrReservationExists)
	}
	return []Event{CreditsReserved{Amount: amount, ID: id, At: now}}, nil
}

func (a *Account) allocateCredits(id uuid.UUID, now time.Time) ([]Event, error) {
	res, ok := a.Reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrReservationNotFound)
	}
	return []Event{CreditsAllocated{ID: id, Amount: res.Amount, At: now}}, nil
}

func (a *Account) cancelReservation(id uuid.UUID) ([]Event, error) {
	res, ok := a.Reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrReservationNotFound)
	}
	return []Event{ReservationCancelled{ID: id, Amount: res.Amount}}, nil
}

func (a *Account) spendReservation(id uuid.UUID) ([]Event, error) {
	res, ok := a.Reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrReservationNotFound)
	}
	return []Event{ReservationSpent{ID: id, Amount: res.Amount}}, nil
}

func (a *Account) freeAllocation(id uuid.UUID) ([]Event, error) {
	alloc, ok := a.Allocations[id]
	if !ok {
		return nil, fmt.Errorf("allocation %s: %w", id, ErrAllocationNotFound)
	}
	return []Event{AllocationFreed{ID: id, Amount: alloc.Amount, Available: a.Available + alloc.Amount}}, nil
}

// evictExpired emits one ReservationExpired per reservation older than maxAge,
// oldest first so one call is deterministic for a given state and clock. The
// running Available on each event reflects the evictions emitted before it.
func (a *Account) evictExpired(maxAge time.Duration, now time.Time) []Event {
	var expired []uuid.UUID
	for id, res := range a.Reservations {
		if res.CreatedAt.Add(maxAge).Before(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		ri, rj := a.Reservations[expired[i]], a.Reservations[expired[j]]
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return expired[i].String() < expired[j].String()
	})

	available := a.Available
	events := make([]Event, 0, len(expired))
	for _, id := range expired {
		freed := a.Reservations[id].Amount
		available += freed
		events = append(events, ReservationExpired{ID: id, Freed: freed, Available: available})
	}
	return events
}

// Apply mutates the account with one event and advances the version by one.
// It must only ever receive an event in the order it was produced; a removal
// whose target is absent fails with ErrCorruptStream.
func (a *Account) Apply(evt Event) error {
	switch e := evt.(type) {
	case CreditsAdded:
		a.Available += e.Amount
	case CreditsReserved:
		a.Reservations[e.ID] = Reservation{Amount: e.Amount, CreatedAt: e.At}
		a.Available -= e.Amount
	case CreditsAllocated:
		res, ok := a.Reservations[e.ID]
		if !ok {
			return fmt.Errorf("allocate %s: %w", e.ID, ErrCorruptStream)
		}
		delete(a.Reservations, e.ID)
		res.AllocatedAt = e.At
		a.Allocations[e.ID] = res
	case ReservationCancelled:
		if _, ok := a.Reservations[e.ID]; !ok {
			return fmt.Errorf("cancel %s: %w", e.ID, ErrCorruptStream)
		}
		delete(a.Reservations, e.ID)
		a.Available += e.Amount
	case ReservationSpent:
		if _, ok := a.Reservations[e.ID]; !ok {
			return fmt.Errorf("spend %s: %w", e.ID, ErrCorruptStream)
		}
		delete(a.Reservations, e.ID)
		a.Spent += e.Amount
	case ReservationExpired:
		if _, ok := a.Reservations[e.ID]; !ok {
			return fmt.Errorf("expire %s: %w", e.ID, ErrCorruptStream)
		}
		delete(a.Reservations, e.ID)
		a.Available += e.Freed
	case AllocationFreed:
		if _, ok := a.Allocations[e.ID]; !ok {
			return fmt.Errorf("free %s: %w", e.ID, ErrCorruptStream)
		}
		delete(a.Allocations, e.ID)
		a.Available += e.Amount
	default:
		return fmt.Errorf("unknown event %T: %w", evt, ErrCorruptStream)
	}
	a.Version++
	return nil
}

// ApplyAll replays events in order, stopping at the first failure.
func (a *Account) ApplyAll(events []Event) error {
	for _, evt := range events {
		if err := a.Apply(evt); err != nil {
			return err
		}
	}
	return nil
}
