package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"creditledger/internal/credit"
)

// ErrBadPayload means a stored event or snapshot could not be decoded back
// into its variant. It is a data error, not a storage failure.
var ErrBadPayload = errors.New("malformed payload")

// envelope is the tagged-union wire form of an event: the variant name plus
// its fields, losslessly round-trippable.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func encodeEvent(evt credit.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.Kind(), err)
	}
	return json.Marshal(envelope{Type: evt.Kind(), Data: data})
}

func decodeEvent(raw []byte) (credit.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var (
		evt credit.Event
		err error
	)
	switch env.Type {
	case "CreditsAdded":
		evt, err = decodeAs[credit.CreditsAdded](env.Data)
	case "CreditsReserved":
		evt, err = decodeAs[credit.CreditsReserved](env.Data)
	case "CreditsAllocated":
		evt, err = decodeAs[credit.CreditsAllocated](env.Data)
	case "ReservationCancelled":
		evt, err = decodeAs[credit.ReservationCancelled](env.Data)
	case "ReservationSpent":
		evt, err = decodeAs[credit.ReservationSpent](env.Data)
	case "ReservationExpired":
		evt, err = decodeAs[credit.ReservationExpired](env.Data)
	case "AllocationFreed":
		evt, err = decodeAs[credit.AllocationFreed](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrBadPayload, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func decodeAs[E credit.Event](data json.RawMessage) (credit.Event, error) {
	var evt E
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return evt, nil
}

func encodeState(acc *credit.Account) ([]byte, error) {
	blob, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return blob, nil
}

func decodeState(raw []byte) (*credit.Account, error) {
	acc := credit.NewAccount(0)
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if acc.Reservations == nil {
		acc.Reservations = map[uuid.UUID]credit.Reservation{}
	}
	if acc.Allocations == nil {
		acc.Allocations = map[uuid.UUID]credit.Reservation{}
	}
	return acc, nil
}
