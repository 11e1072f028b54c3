package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Busy-retry policy shared by Exec and RunTx.
const (
	busyAttempts = 3
	busyBaseWait = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLite lock contention: SQLITE_BUSY or a
// locked database/table.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withBusyRetry runs op, retrying lock contention with linear backoff
// (100/200 ms waits). Non-busy errors return immediately.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyAttempts-1 {
			break
		}
		t := time.NewTimer(busyBaseWait * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: retry wait: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// Exec runs a write statement, absorbing transient lock contention. Callers
// that need the sql.Result use the database handle directly.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) error {
	return withBusyRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// RunTx runs fn inside a transaction, retrying the whole transaction when
// the database is locked. fn must tolerate re-execution after a rollback.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}
