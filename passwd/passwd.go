// Package passwd resets user passwords. Passwords are stored as bcrypt
// hashes; nothing here ever writes a plaintext value to the database.
package passwd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrUnknownUser   = errors.New("no user with that id")
)

// Config names the table and columns holding user credentials.
type Config struct {
	Table          string `yaml:"table"`
	UserColumn     string `yaml:"user_column"`
	PasswordColumn string `yaml:"password_column"`
	Cost           int    `yaml:"cost"`
}

func (cfg Config) withDefaults() Config {
	if cfg.Table == "" {
		cfg.Table = "users"
	}
	if cfg.UserColumn == "" {
		cfg.UserColumn = "user_id"
	}
	if cfg.PasswordColumn == "" {
		cfg.PasswordColumn = "password"
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	return cfg
}

// ---

// Reset sets one user's password.
func Reset(ctx context.Context, conn *sql.DB, cfg Config, userID, password string) error {
	cfg = cfg.withDefaults()

	hash, err := hashPassword(password, cfg.Cost)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE %s = ?",
		escapeIdentifier(cfg.Table),
		escapeIdentifier(cfg.PasswordColumn),
		escapeIdentifier(cfg.UserColumn),
	)

	result, err := conn.ExecContext(ctx, query, hash, userID)
	if err != nil {
		return fmt.Errorf("failed to reset password for %q: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected row count: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}

	return nil
}

// FillMissing gives every user without a password the same fallback
// password and returns how many rows were touched. Users that already
// have a password keep it.
func FillMissing(ctx context.Context, conn *sql.DB, cfg Config, password string) (int64, error) {
	cfg = cfg.withDefaults()

	hash, err := hashPassword(password, cfg.Cost)
	if err != nil {
		return 0, err
	}

	passwordColumn := escapeIdentifier(cfg.PasswordColumn)
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE %s IS NULL OR %s = ''",
		escapeIdentifier(cfg.Table),
		passwordColumn,
		passwordColumn,
		passwordColumn,
	)

	result, err := conn.ExecContext(ctx, query, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to fill missing passwords: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected row count: %w", err)
	}

	return affected, nil
}

// Verify checks a plaintext password against the stored hash.
func Verify(ctx context.Context, conn *sql.DB, cfg Config, userID, password string) (bool, error) {
	cfg = cfg.withDefaults()

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		escapeIdentifier(cfg.PasswordColumn),
		escapeIdentifier(cfg.Table),
		escapeIdentifier(cfg.UserColumn),
	)

	var hash sql.NullString
	err := conn.QueryRowContext(ctx, query, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load password for %q: %w", userID, err)
	}

	if !hash.Valid || hash.String == "" {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare password for %q: %w", userID, err)
	}

	return true, nil
}

// ---

func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// Backtick quoting is understood by both MySQL and SQLite.
func escapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
