package credit

import (
	"errors"
	"fmt"
)

var (
	ErrReservationExists   = errors.New("reservation already exists")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrBalanceOverflow     = errors.New("account balance limit exceeded")

	// ErrCorruptStream means an event targeted a reservation or allocation
	// that is not present in the state it was applied to. Events are only
	// produced against the state they mutate, so this can never happen on a
	// healthy log; it signals corruption, not a caller mistake.
	ErrCorruptStream = errors.New("corrupt event stream")
)

// NotEnoughMoneyError rejects a reservation larger than the available balance.
type NotEnoughMoneyError struct {
	Has   int64
	Needs int64
}

func (e NotEnoughMoneyError) Error() string {
	return fmt.Sprintf("not enough credits: has %d, needs %d more", e.Has, e.Needs)
}

// IsValidation reports whether err is a command rejection the caller can
// correct, as opposed to a storage or stream failure.
func IsValidation(err error) bool {
	var insufficient NotEnoughMoneyError
	if errors.As(err, &insufficient) {
		return true
	}
	return errors.Is(err, ErrReservationExists) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrBalanceOverflow)
}
