package property

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	selectItemSQL = `SELECT prop_key, prop_value, version FROM properties WHERE prop_key = ?`
	insertItemSQL = `INSERT INTO properties (prop_key, prop_value, version, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (prop_key) DO NOTHING`
	swapItemSQL = `UPDATE properties SET prop_value = ?, version = version + 1, updated_at = ?
WHERE prop_key = ? AND version = ?`
	upsertItemSQL = `INSERT INTO properties (prop_key, prop_value, version, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (prop_key) DO UPDATE SET prop_value = excluded.prop_value,
	version = properties.version + 1, updated_at = excluded.updated_at`
	deleteItemSQL = `DELETE FROM properties WHERE prop_key = ?`
)

// SQL stores properties in the "properties" table created by the migrations in
// core/database. Queries are written with '?' and rebound for the driver in use,
// so the same store serves Postgres and SQLite.
type SQL struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQL wraps an open database handle.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db, now: time.Now}
}

// Get returns the stored item for key.
func (s *SQL) Get(ctx context.Context, key string) (Item, error) {
	var it Item
	err := s.db.GetContext(ctx, &it, s.db.Rebind(selectItemSQL), key)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("property: get %q: %w", key, err)
	}
	return it, nil
}

// Put performs a compare-and-swap on the version column.
func (s *SQL) Put(ctx context.Context, key, value string, expected int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	now := s.now().UTC()
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(insertItemSQL), key, value, now)
	} else {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(swapItemSQL), value, now, key, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("property: put %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("property: put %q rows: %w", key, err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return expected + 1, nil
}

// Set upserts value regardless of the stored version.
func (s *SQL) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertItemSQL), key, value, s.now().UTC()); err != nil {
		return fmt.Errorf("property: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(deleteItemSQL), key); err != nil {
		return fmt.Errorf("property: delete %q: %w", key, err)
	}
	return nil
}
