// Package eventstore persists account events in PostgreSQL with optimistic
// concurrency control and snapshot-accelerated loads.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creditledger/internal/credit"
)

// ErrConcurrencyConflict means another writer advanced the account's version
// between load and save. Nothing was written; the caller should reload and
// retry the whole batch.
var ErrConcurrencyConflict = errors.New("concurrent update detected")

// snapshotInterval is how many versions apart snapshots are taken.
const snapshotInterval = 1000

// snapshotDue reports whether advancing from expected to newVersion crosses a
// snapshot boundary.
func snapshotDue(expected, newVersion int64) bool {
	return newVersion/snapshotInterval > expected/snapshotInterval
}

// Storage is the contract the command runner needs: load current state,
// persist a batch atomically behind a version check.
type Storage interface {
	Load(ctx context.Context, accountID int64) (*credit.Account, error)
	Save(ctx context.Context, accountID, expectedVersion, newVersion int64, events []credit.Event, state *credit.Account) error
}

// Store is the PostgreSQL-backed event store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ Storage = (*Store)(nil)

// Save appends events for one account as a single all-or-nothing unit. It
// conditionally advances the account's version from expectedVersion to
// newVersion; if the stored version no longer matches, no event is appended
// and the call fails with ErrConcurrencyConflict. Each event is tagged with
// its post-application version, which doubles as the per-account sequence.
// When newVersion crosses a snapshot boundary the passed state is persisted
// in the same transaction, unless a fresher snapshot already exists.
func (s *Store) Save(ctx context.Context, accountID, expectedVersion, newVersion int64, events []credit.Event, state *credit.Account) error {
	if len(events) == 0 {
		return nil
	}
	if newVersion != expectedVersion+int64(len(events)) {
		return fmt.Errorf("version %d -> %d does not match %d events", expectedVersion, newVersion, len(events))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The version row is the write lock: exactly one of two racing writers
	// with the same expected version gets a row out of this statement.
	var stmt string
	if expectedVersion == 0 {
		stmt = `insert into accounts (id, version) values ($1, $2)
			on conflict (id) do update set version = excluded.version
			where accounts.version = $3`
	} else {
		stmt = `update accounts set version = $2 where id = $1 and version = $3`
	}
	res, err := tx.Exec(ctx, stmt, accountID, newVersion, expectedVersion)
	if err != nil {
		return fmt.Errorf("advance version: %w", err)
	}
	if res.RowsAffected() != 1 {
		return ErrConcurrencyConflict
	}

	batch := &pgx.Batch{}
	version := expectedVersion
	for _, evt := range events {
		version++
		payload, err := encodeEvent(evt)
		if err != nil {
			return err
		}
		batch.Queue(
			`insert into events (account_id, version, payload) values ($1, $2, $3)`,
			accountID, version, payload,
		)
	}
	if err := flushBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	if snapshotDue(expectedVersion, newVersion) {
		blob, err := encodeState(state)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`insert into snapshots (account_id, version, state, taken_at)
			values ($1, $2, $3, now())
			on conflict (account_id) do update
				set version = excluded.version, state = excluded.state, taken_at = now()
				where snapshots.version < excluded.version`,
			accountID, newVersion, blob,
		)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func flushBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// LoadSnapshot returns the latest snapshot for the account, or nil if none
// has been taken yet.
func (s *Store) LoadSnapshot(ctx context.Context, accountID int64) (*credit.Account, int64, error) {
	var (
		version int64
		raw     []byte
	)
	err := s.pool.QueryRow(ctx,
		`select version, state from snapshots where account_id = $1`,
		accountID,
	).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}

	acc, err := decodeState(raw)
	if err != nil {
		return nil, 0, err
	}
	return acc, version, nil
}

// LoadEventsSince returns the account's events with version strictly greater
// than the given version, in ascending order.
func (s *Store) LoadEventsSince(ctx context.Context, accountID, version int64) ([]credit.Event, error) {
	rows, err := s.pool.Query(ctx,
		`select payload from events where account_id = $1 and version > $2 order by version asc`,
		accountID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []credit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		evt, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// Load rebuilds the account's current state: latest snapshot (or the implicit
// zero state) plus replay of everything newer. An account with no history
// loads as version 0 with zero balances.
func (s *Store) Load(ctx context.Context, accountID int64) (*credit.Account, error) {
	acc, version, err := s.LoadSnapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = credit.NewAccount(accountID)
	} else {
		acc.ID = accountID
		acc.Version = version
	}

	events, err := s.LoadEventsSince(ctx, accountID, acc.Version)
	if err != nil {
		return nil, err
	}
	if err := acc.ApplyAll(events); err != nil {
		return nil, fmt.Errorf("replay account %d: %w", accountID, err)
	}
	return acc, nil
}

// AccountIDs lists every account that has a version row. Used by the expiry
// sweeper to walk the population.
func (s *Store) AccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `select id from accounts order by id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
