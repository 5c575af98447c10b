// Package mysql implements the driver contract on top of MySQL/MariaDB.
// Presence checks go through INFORMATION_SCHEMA so that re-running a
// plan never re-issues DDL for objects that already exist.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/verran-io/alterant/change"
	"github.com/verran-io/alterant/driver"
)

type DriverConfig struct {
	// DatabaseName scopes all presence checks. When empty, the schema
	// of the current connection (DATABASE()) is used.
	DatabaseName string
}

type mysqlDriver struct {
	conn   *sql.DB
	config DriverConfig
}

func NewDriver(conn *sql.DB, config DriverConfig) driver.Driver {
	return &mysqlDriver{
		conn:   conn,
		config: config,
	}
}

// ---

const (
	tableExistsQuery = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_SCHEMA = %s AND TABLE_NAME = ?"
	columnExistsQuery = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = %s AND TABLE_NAME = ? AND COLUMN_NAME = ?"
	indexExistsQuery = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.STATISTICS " +
		"WHERE TABLE_SCHEMA = %s AND TABLE_NAME = ? AND INDEX_NAME = ?"
)

func (drv *mysqlDriver) Exists(ctx context.Context, pred change.Predicate) (bool, error) {
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
		args = []any{pred.Table, pred.Name}
	default:
		return false, fmt.Errorf("%w: %q", driver.ErrUnknownObjectKind, pred.Kind)
	}

	schemaExpr := "DATABASE()"
	if drv.config.DatabaseName != "" {
		schemaExpr = "?"
		args = append([]any{drv.config.DatabaseName}, args...)
	}

	var count int
	err := drv.conn.QueryRowContext(ctx, fmt.Sprintf(query, schemaExpr), args...).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check presence of %s %q: %w", pred.Kind, pred.Object(), err)
	}

	return count > 0, nil
}

// Apply runs the change inside one transaction. MySQL commits DDL
// implicitly, so on a backfill failure only the DML part is guaranteed
// to be rolled back.
func (drv *mysqlDriver) Apply(ctx context.Context, chg change.Change) error {
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
