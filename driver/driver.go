package driver

import (
	"context"
	"errors"

	"github.com/verran-io/alterant/change"
)

// Driver hides the database specifics of a schema evolution run: how to
// ask the catalog whether an object exists, and how to apply one change
// transactionally.
type Driver interface {
	// Exists reports whether the object described by pred is already
	// present. An error means the catalog could not be consulted;
	// callers must treat that as fatal rather than assume absence.
	Exists(ctx context.Context, pred change.Predicate) (bool, error)

	// Apply executes the change's DDL and backfill statements inside a
	// single transaction. On any error the transaction is rolled back
	// before the error is returned.
	Apply(ctx context.Context, chg change.Change) error
}

var (
	ErrUnknownObjectKind = errors.New("unknown schema object kind")
	ErrEmptyStatement    = errors.New("change has an empty DDL statement")
)
