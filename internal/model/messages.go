package model

import "time"

// AccountStatus is the read view of an account returned by the service and
// cached in Redis.
type AccountStatus struct {
	AccountID          int64 `json:"account_id"`
	Version            int64 `json:"version"`
	Available          int64 `json:"available"`
	Spent              int64 `json:"spent"`
	ActiveReservations int   `json:"active_reservations"`
	ActiveAllocations  int   `json:"active_allocations"`
}

// CommittedBatch announces a successfully persisted command batch on the bus.
// The projector uses the balances to maintain the account_balances read table;
// Events carries the event kinds for observability.
type CommittedBatch struct {
	AccountID   int64     `json:"account_id"`
	Version     int64     `json:"version"`
	Available   int64     `json:"available"`
	Spent       int64     `json:"spent"`
	Events      []string  `json:"events"`
	CommittedAt time.Time `json:"committed_at"`
}
