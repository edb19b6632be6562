package credit

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact recording a state change that already happened.
// The set of variants is closed; the event store only ever sees these.
type Event interface {
	Kind() string
	isEvent()
}

type CreditsAdded struct {
	Amount int64 `json:"amount"`
}

type CreditsReserved struct {
	Amount int64     `json:"amount"`
	ID     uuid.UUID `json:"id"`
	At     time.Time `json:"at"`
}

type CreditsAllocated struct {
	ID     uuid.UUID `json:"id"`
	Amount int64     `json:"amount"`
	At     time.Time `json:"at"`
}

type ReservationCancelled struct {
	ID     uuid.UUID `json:"id"`
	Amount int64     `json:"amount"`
}

type ReservationSpent struct {
	ID     uuid.UUID `json:"id"`
	Amount int64     `json:"amount"`
}

// ReservationExpired frees a reservation that outlived its maximum age.
// Available is the account's available amount immediately after this event;
// replay derives the balance from Freed alone, Available is informational.
type ReservationExpired struct {
	ID        uuid.UUID `json:"id"`
	Freed     int64     `json:"freed"`
	Available int64     `json:"available"`
}

// AllocationFreed releases an allocation back to the available balance.
type AllocationFreed struct {
	ID        uuid.UUID `json:"id"`
	Amount    int64     `json:"amount"`
	Available int64     `json:"available"`
}

func (CreditsAdded) Kind() string         { return "CreditsAdded" }
func (CreditsReserved) Kind() string      { return "CreditsReserved" }
func (CreditsAllocated) Kind() string     { return "CreditsAllocated" }
func (ReservationCancelled) Kind() string { return "ReservationCancelled" }
func (ReservationSpent) Kind() string     { return "ReservationSpent" }
func (ReservationExpired) Kind() string   { return "ReservationExpired" }
func (AllocationFreed) Kind() string      { return "AllocationFreed" }

func (CreditsAdded) isEvent()         {}
func (CreditsReserved) isEvent()      {}
func (CreditsAllocated) isEvent()     {}
func (ReservationCancelled) isEvent() {}
func (ReservationSpent) isEvent()     {}
func (ReservationExpired) isEvent()   {}
func (AllocationFreed) isEvent()      {}
