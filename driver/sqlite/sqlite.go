// Package sqlite implements the driver contract on top of SQLite.
// SQLite runs DDL inside transactions, so a change's define and
// backfill statements commit or roll back as one unit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/verran-io/alterant/change"
	"github.com/verran-io/alterant/driver"
)

type sqliteDriver struct {
	conn *sql.DB
}

func NewDriver(conn *sql.DB) driver.Driver {
	return &sqliteDriver{conn: conn}
}

// ---

const (
	tableExistsQuery = "SELECT COUNT(*) FROM sqlite_master " +
		"WHERE type = 'table' AND name = ?"
	columnExistsQuery = "SELECT COUNT(*) FROM pragma_table_info(?) " +
		"WHERE name = ?"
	indexExistsQuery = "SELECT COUNT(*) FROM sqlite_master " +
		"WHERE type = 'index' AND name = ?"
)

func (drv *sqliteDriver) Exists(ctx context.Context, pred change.Predicate) (bool, error) {
	var query string
	var args []any

	switch pred.Kind {
	case change.Table:
		query = tableExistsQuery
		args = []any{pred.Table}
	case change.Column:
		query = columnExistsQuery
		args = []any{pred.Table, pred.Name}
	case change.Index:
		query = indexExistsQuery
		args = []any{pred.Name}
	default:
		return false, fmt.Errorf("%w: %q", driver.ErrUnknownObjectKind, pred.Kind)
	}

	var count int
	err := drv.conn.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check presence of %s %q: %w", pred.Kind, pred.Object(), err)
	}

	return count > 0, nil
}

func (drv *sqliteDriver) Apply(ctx context.Context, chg change.Change) error {
	if chg.Define.SQL == "" {
		return fmt.Errorf("failed to apply change %q: %w", chg.Name, driver.ErrEmptyStatement)
	}

	tx, err := drv.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for change %q: %w", chg.Name, err)
	}

	if err = execStatements(ctx, tx, chg); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to roll back change %q after %q: %w", chg.Name, err, rbErr)
		}
		return fmt.Errorf("failed to apply change %q: %w", chg.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change %q: %w", chg.Name, err)
	}

	return nil
}

func execStatements(ctx context.Context, tx *sql.Tx, chg change.Change) error {
	if _, err := tx.ExecContext(ctx, chg.Define.SQL, chg.Define.Args...); err != nil {
		return fmt.Errorf("define statement rejected: %w", err)
	}

	for i, stmt := range chg.Backfill {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("backfill statement %d rejected: %w", i, err)
		}
	}

	return nil
}
