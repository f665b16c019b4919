// Package retention persists the volatile state of checkables across restarts
// in a local SQLite database.
package retention

import (
	"context"
	"github.com/icinga/icinga-state-engine/pkg/icinga"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/icinga/icinga-state-engine/pkg/utils"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkable_state (
  kind                   TEXT NOT NULL,
  name                   TEXT NOT NULL,
  state                  TEXT NOT NULL,
  state_type             TEXT NOT NULL,
  checked_at             BIGINT,
  output                 TEXT NOT NULL DEFAULT '',
  flapping_buffer        INTEGER NOT NULL DEFAULT 0,
  flapping_index         INTEGER NOT NULL DEFAULT 0,
  flapping_current       DOUBLE PRECISION NOT NULL DEFAULT 0,
  flapping               TEXT NOT NULL DEFAULT 'n',
  flapping_last_change   BIGINT,
  acknowledgement        TEXT NOT NULL DEFAULT 'none',
  acknowledgement_expiry BIGINT,

  PRIMARY KEY (kind, name)
)
`

// Row is one persisted checkable state.
type Row struct {
	Kind                  string                     `db:"kind"`
	Name                  string                     `db:"name"`
	State                 types.State                `db:"state"`
	StateType             types.StateType            `db:"state_type"`
	CheckedAt             types.UnixMilli            `db:"checked_at"`
	Output                string                     `db:"output"`
	FlappingBuffer        uint32                     `db:"flapping_buffer"`
	FlappingIndex         uint8                      `db:"flapping_index"`
	FlappingCurrent       float64                    `db:"flapping_current"`
	Flapping              types.Bool                 `db:"flapping"`
	FlappingLastChange    types.UnixMilli            `db:"flapping_last_change"`
	Acknowledgement       types.AcknowledgementState `db:"acknowledgement"`
	AcknowledgementExpiry types.UnixMilli            `db:"acknowledgement_expiry"`
}

// RowOf converts an engine snapshot into its persisted form.
func RowOf(snap icinga.NamedSnapshot) Row {
	return Row{
		Kind:                  snap.Kind,
		Name:                  snap.Name,
		State:                 snap.State,
		StateType:             snap.StateType,
		CheckedAt:             snap.CheckedAt,
		Output:                snap.Output,
		FlappingBuffer:        snap.FlappingBuffer,
		FlappingIndex:         snap.FlappingIndex,
		FlappingCurrent:       snap.FlappingCurrent,
		Flapping:              types.Bool{Bool: snap.Flapping, Valid: true},
		FlappingLastChange:    snap.FlappingLastChange,
		Acknowledgement:       snap.Acknowledgement,
		AcknowledgementExpiry: snap.AcknowledgementExpiry,
	}
}

// Snapshot converts the row back into an engine snapshot.
func (r Row) Snapshot() icinga.NamedSnapshot {
	return icinga.NamedSnapshot{
		Kind: r.Kind,
		Name: r.Name,
		StateSnapshot: icinga.StateSnapshot{
			State:                 r.State,
			StateType:             r.StateType,
			CheckedAt:             r.CheckedAt,
			Output:                r.Output,
			FlappingBuffer:        r.FlappingBuffer,
			FlappingIndex:         r.FlappingIndex,
			FlappingCurrent:       r.FlappingCurrent,
			Flapping:              r.Flapping.Bool,
			FlappingLastChange:    r.FlappingLastChange,
			Acknowledgement:       r.Acknowledgement,
			AcknowledgementExpiry: r.AcknowledgementExpiry,
		},
	}
}

// Store reads and writes checkable state snapshots.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewStore opens (or creates) the retention database at the given path and
// ensures the schema exists. Use ":memory:" for an in-memory database.
func NewStore(path string, logger *logging.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open retention database")
	}

	// SQLite serializes writers itself, multiple pooled connections
	// just fight over the database lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "can't create retention schema")
	}

	return &Store{db: db, logger: logger}, nil
}

// Save replaces the stored state with the given snapshots in one transaction.
func (s *Store) Save(ctx context.Context, snaps []icinga.NamedSnapshot) error {
	defer utils.Timed(time.Now(), func(elapsed time.Duration) {
		s.logger.Debugw("Saved checkable states", "count", len(snaps), "took", elapsed)
	})

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM checkable_state"); err != nil {
		return errors.Wrap(err, "can't clear checkable states")
	}

	const stmt = `INSERT INTO checkable_state (kind, name, state, state_type, checked_at, output,
  flapping_buffer, flapping_index, flapping_current, flapping, flapping_last_change,
  acknowledgement, acknowledgement_expiry)
VALUES (:kind, :name, :state, :state_type, :checked_at, :output,
  :flapping_buffer, :flapping_index, :flapping_current, :flapping, :flapping_last_change,
  :acknowledgement, :acknowledgement_expiry)`

	for _, snap := range snaps {
		row := RowOf(snap)
		if _, err := tx.NamedExecContext(ctx, stmt, row); err != nil {
			return errors.Wrapf(err, "can't save state of %s %q", row.Kind, row.Name)
		}
	}

	return errors.Wrap(tx.Commit(), "can't commit transaction")
}

// Load reads all stored snapshots.
func (s *Store) Load(ctx context.Context) ([]icinga.NamedSnapshot, error) {
	var rows []Row
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM checkable_state ORDER BY kind, name",
	); err != nil {
		return nil, errors.Wrap(err, "can't load checkable states")
	}

	snaps := make([]icinga.NamedSnapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, row.Snapshot())
	}

	return snaps, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
