// Package purge bulk-deletes rows from a set of tables while keeping an
// explicit preserve list untouched. Targets run in declaration order so
// that child tables can be listed before their parents.
package purge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var (
	ErrNoTargets     = errors.New("no purge targets given")
	ErrMissingTable  = errors.New("purge target has no table")
	ErrMissingColumn = errors.New("purge target has no key column")
)

// Target describes one table to purge. Rows whose key column matches a
// Preserve value are never deleted.
type Target struct {
	Table     string   `yaml:"table"`
	KeyColumn string   `yaml:"key_column"`
	Preserve  []string `yaml:"preserve"`
}

// Summary reports how many rows each target lost.
type Summary struct {
	Deleted map[string]int64
	Total   int64
}

// ---

const defaultBatchSize = 500

type config struct {
	batchSize int
	progress  io.Writer
	log       *zap.Logger
}

type Option func(*config)

// WithBatchSize bounds how many rows are deleted per statement.
func WithBatchSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithProgress draws a progress bar onto writer while deleting.
func WithProgress(writer io.Writer) Option {
	return func(c *config) {
		c.progress = writer
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// ---

// Run deletes everything outside the preserve lists, one transaction per
// target. On the first failing target the transaction is rolled back and
// the run stops; earlier targets stay committed.
func Run(ctx context.Context, conn *sql.DB, targets []Target, opts ...Option) (*Summary, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	cfg := config{
		batchSize: defaultBatchSize,
		progress:  io.Discard,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	summary := Summary{
		Deleted: make(map[string]int64, len(targets)),
	}

	for _, target := range targets {
		deleted, err := purgeTarget(ctx, conn, target, &cfg)
		summary.Deleted[target.Table] = deleted
		summary.Total += deleted

		if err != nil {
			return &summary, err
		}

		cfg.log.Info("table purged",
			zap.String("table", target.Table),
			zap.Int64("deleted", deleted),
			zap.Int("preserved_keys", len(target.Preserve)))
	}

	return &summary, nil
}

func purgeTarget(ctx context.Context, conn *sql.DB, target Target, cfg *config) (int64, error) {
	if target.Table == "" {
		return 0, ErrMissingTable
	}
	if target.KeyColumn == "" {
		return 0, fmt.Errorf("%w: table %q", ErrMissingColumn, target.Table)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for table %q: %w", target.Table, err)
	}

	deleted, err := deleteInBatches(ctx, tx, target, cfg)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, fmt.Errorf("failed to roll back purge of table %q after %q: %w", target.Table, err, rbErr)
		}
		return 0, fmt.Errorf("failed to purge table %q: %w", target.Table, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge of table %q: %w", target.Table, err)
	}

	return deleted, nil
}

func deleteInBatches(ctx context.Context, tx *sql.Tx, target Target, cfg *config) (int64, error) {
	table := escapeIdentifier(target.Table)
	column := escapeIdentifier(target.KeyColumn)

	preserveArgs := make([]any, 0, len(target.Preserve))
	for _, value := range target.Preserve {
		preserveArgs = append(preserveArgs, value)
	}

	notPreserved := ""
	if len(preserveArgs) > 0 {
		notPreserved = fmt.Sprintf(" WHERE %s NOT IN (%s)", column, placeholders(len(preserveArgs)))
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, notPreserved)
	if err := tx.QueryRowContext(ctx, countQuery, preserveArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count deletable rows: %w", err)
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(cfg.progress),
		progressbar.OptionSetDescription(target.Table),
		progressbar.OptionShowCount(),
	)

	selectQuery := fmt.Sprintf("SELECT %s FROM %s%s LIMIT %d", column, table, notPreserved, cfg.batchSize)

	var deleted int64
	for {
		keys, err := fetchKeys(ctx, tx, selectQuery, preserveArgs)
		if err != nil {
			return deleted, err
		}
		if len(keys) == 0 {
			break
		}

		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, column, placeholders(len(keys)))
		result, err := tx.ExecContext(ctx, deleteQuery, keys...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete batch: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("failed to read affected row count: %w", err)
		}

		deleted += affected
		_ = bar.Add64(affected)
	}

	_ = bar.Finish()

	return deleted, nil
}

func fetchKeys(ctx context.Context, tx *sql.Tx, query string, args []any) ([]any, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select batch keys: %w", err)
	}
	defer rows.Close()

	var keys []any
	for rows.Next() {
		var key any
		if err = rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan batch key: %w", err)
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch keys: %w", err)
	}

	return keys, nil
}

// ---

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// Backtick quoting is understood by both MySQL and SQLite.
func escapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
