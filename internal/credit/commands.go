package credit

import (
	"time"

	"github.com/google/uuid"
)

// Command is a request to attempt a state change. Handle validates it against
// the current state and either produces events or rejects it.
type Command interface {
	isCommand()
}

type AddCredits struct {
	Amount int64
}

type ReserveCredits struct {
	Amount int64
	ID     uuid.UUID
}

type AllocateCredits struct {
	ID uuid.UUID
}

type CancelReservation struct {
	ID uuid.UUID
}

type SpendReservation struct {
	ID uuid.UUID
}

type FreeAllocation struct {
	ID uuid.UUID
}

// EvictExpiredReservations retires every active reservation older than MaxAge.
// It never fails; with nothing to evict it produces no events.
type EvictExpiredReservations struct {
	MaxAge time.Duration
}

func (AddCredits) isCommand()               {}
func (ReserveCredits) isCommand()           {}
func (AllocateCredits) isCommand()          {}
func (CancelReservation) isCommand()        {}
func (SpendReservation) isCommand()         {}
func (FreeAllocation) isCommand()           {}
func (EvictExpiredReservations) isCommand() {}
