// Package report answers read-only questions about survey activity:
// which users responded, how often, and how much of the user base has
// responded at all.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Config names the tables and columns the queries run against.
type Config struct {
	UsersTable         string `yaml:"users_table"`
	UserKeyColumn      string `yaml:"user_key_column"`
	ResponsesTable     string `yaml:"responses_table"`
	ResponseUserColumn string `yaml:"response_user_column"`
}

func (cfg Config) withDefaults() Config {
	if cfg.UsersTable == "" {
		cfg.UsersTable = "users"
	}
	if cfg.UserKeyColumn == "" {
		cfg.UserKeyColumn = "user_id"
	}
	if cfg.ResponsesTable == "" {
		cfg.ResponsesTable = "survey_responses"
	}
	if cfg.ResponseUserColumn == "" {
		cfg.ResponseUserColumn = "user_id"
	}
	return cfg
}

// ---

// UserActivity is one row of the per-user response count report.
type UserActivity struct {
	UserID    string
	Responses int64
}

// Summary is the overall completion picture.
type Summary struct {
	Users       int64
	Respondents int64
	Responses   int64
}

// ---

// ResponseCounts lists responses per user, busiest users first. Users
// without any response are included with a zero count.
func ResponseCounts(ctx context.Context, conn *sql.DB, cfg Config) ([]UserActivity, error) {
	cfg = cfg.withDefaults()

	query := fmt.Sprintf(
		"SELECT u.%[1]s, COUNT(r.%[4]s) "+
			"FROM %[2]s u LEFT JOIN %[3]s r ON r.%[4]s = u.%[1]s "+
			"GROUP BY u.%[1]s "+
			"ORDER BY COUNT(r.%[4]s) DESC, u.%[1]s",
		escapeIdentifier(cfg.UserKeyColumn),
		escapeIdentifier(cfg.UsersTable),
		escapeIdentifier(cfg.ResponsesTable),
		escapeIdentifier(cfg.ResponseUserColumn),
	)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query response counts: %w", err)
	}
	defer rows.Close()

	result := make([]UserActivity, 0)
	for rows.Next() {
		var activity UserActivity
		if err = rows.Scan(&activity.UserID, &activity.Responses); err != nil {
			return nil, fmt.Errorf("failed to scan response count row: %w", err)
		}
		result = append(result, activity)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read response count rows: %w", err)
	}

	return result, nil
}

// Completion reports totals across the whole user base.
func Completion(ctx context.Context, conn *sql.DB, cfg Config) (*Summary, error) {
	cfg = cfg.withDefaults()

	query := fmt.Sprintf(
		"SELECT "+
			"(SELECT COUNT(*) FROM %[1]s), "+
			"(SELECT COUNT(DISTINCT %[3]s) FROM %[2]s), "+
			"(SELECT COUNT(*) FROM %[2]s)",
		escapeIdentifier(cfg.UsersTable),
		escapeIdentifier(cfg.ResponsesTable),
		escapeIdentifier(cfg.ResponseUserColumn),
	)

	var summary Summary
	err := conn.QueryRowContext(ctx, query).Scan(&summary.Users, &summary.Respondents, &summary.Responses)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion summary: %w", err)
	}

	return &summary, nil
}

// ---

// Backtick quoting is understood by both MySQL and SQLite.
func escapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
