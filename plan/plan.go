// Package plan loads an ordered list of schema changes from a YAML
// document. Loading is strict: an invalid entry fails the whole plan
// rather than silently dropping the change.
package plan

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/verran-io/alterant/change"
)

var (
	ErrEmptyPlan        = errors.New("plan contains no changes")
	ErrUnnamedChange    = errors.New("change has no name")
	ErrDuplicateName    = errors.New("change name already used by an earlier change")
	ErrUnknownKind      = errors.New("unknown predicate kind")
	ErrMissingTable     = errors.New("predicate has no table")
	ErrMissingObject    = errors.New("predicate has no object name")
	ErrEmptyDefine      = errors.New("change has no define statement")
	ErrEmptyBackfillSQL = errors.New("backfill entry has no sql")
)

// ---

type planDocument struct {
	Changes []changeEntry `yaml:"changes"`
}

type changeEntry struct {
	Name     string           `yaml:"name"`
	Creates  predicateEntry   `yaml:"creates"`
	Define   string           `yaml:"define"`
	Backfill []statementEntry `yaml:"backfill"`
}

type predicateEntry struct {
	Kind  string `yaml:"kind"`
	Table string `yaml:"table"`
	Name  string `yaml:"name"`
}

type statementEntry struct {
	SQL  string `yaml:"sql"`
	Args []any  `yaml:"args"`
}

// ---

func Load(reader io.Reader) ([]change.Change, error) {
	var doc planDocument

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if len(doc.Changes) == 0 {
		return nil, ErrEmptyPlan
	}

	seen := make(map[string]struct{}, len(doc.Changes))
	changes := make([]change.Change, 0, len(doc.Changes))

	for i, entry := range doc.Changes {
		chg, err := buildChange(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to load change %d (%q): %w", i, entry.Name, err)
		}

		if _, dup := seen[chg.Name]; dup {
			return nil, fmt.Errorf("failed to load change %d (%q): %w", i, entry.Name, ErrDuplicateName)
		}
		seen[chg.Name] = struct{}{}

		changes = append(changes, chg)
	}

	return changes, nil
}

func LoadFile(path string) ([]change.Change, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

// ---

func buildChange(entry changeEntry) (change.Change, error) {
	if entry.Name == "" {
		return change.Change{}, ErrUnnamedChange
	}

	pred, err := buildPredicate(entry.Creates)
	if err != nil {
		return change.Change{}, err
	}

	if entry.Define == "" {
		return change.Change{}, ErrEmptyDefine
	}

	backfill := make([]change.Statement, 0, len(entry.Backfill))
	for _, stmt := range entry.Backfill {
		if stmt.SQL == "" {
			return change.Change{}, ErrEmptyBackfillSQL
		}
		backfill = append(backfill, change.Statement{SQL: stmt.SQL, Args: stmt.Args})
	}

	return change.Change{
		Name:     entry.Name,
		Creates:  pred,
		Define:   change.Statement{SQL: entry.Define},
		Backfill: backfill,
	}, nil
}

func buildPredicate(entry predicateEntry) (change.Predicate, error) {
	var kind change.ObjectKind

	switch entry.Kind {
	case "table":
		kind = change.Table
	case "column":
		kind = change.Column
	case "index":
		kind = change.Index
	default:
		return change.Predicate{}, fmt.Errorf("%w: %q", ErrUnknownKind, entry.Kind)
	}

	if entry.Table == "" {
		return change.Predicate{}, ErrMissingTable
	}

	if kind != change.Table && entry.Name == "" {
		return change.Predicate{}, ErrMissingObject
	}

	return change.Predicate{
		Kind:  kind,
		Table: entry.Table,
		Name:  entry.Name,
	}, nil
}
