package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a write transaction over the bus tables.
// Obtain one through Store.Update; it must not escape the callback.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn inside a single BEGIN IMMEDIATE transaction.
//
// The write lock is taken before fn runs, so every read fn performs sees a
// state no other process can change until commit. If fn returns an error the
// transaction is rolled back and that error is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
