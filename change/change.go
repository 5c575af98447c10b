// Package change defines the data model of a schema evolution run: a
// Change couples a presence check with the DDL that satisfies it and
// optional backfill statements. A Change whose check is already
// satisfied is skipped, which makes every run safe to repeat.
package change

import "time"

// ObjectKind identifies the kind of schema object a Predicate looks for.
type ObjectKind rune

const (
	Table  ObjectKind = 't'
	Column ObjectKind = 'c'
	Index  ObjectKind = 'i'
)

func (k ObjectKind) String() string {
	switch k {
	case Table:
		return "table"
	case Column:
		return "column"
	case Index:
		return "index"
	}
	return "unknown"
}

// ---

// Predicate is a presence check against the database catalog. For Table
// kind, Name is empty and Table carries the object name.
type Predicate struct {
	Kind  ObjectKind
	Table string
	Name  string
}

// Object returns the name of the object the predicate looks for.
func (p Predicate) Object() string {
	if p.Kind == Table {
		return p.Table
	}
	return p.Name
}

// ---

// Statement is a single SQL statement with its bind arguments. Values
// never get interpolated into SQL text.
type Statement struct {
	SQL  string
	Args []any
}

// Change is one additive, idempotent schema modification.
type Change struct {
	Name     string
	Creates  Predicate
	Define   Statement   // DDL, executed only when Creates is absent
	Backfill []Statement // follow-up DML, same transaction as Define
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result records the outcome of one Change within a run.
type Result struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
}
