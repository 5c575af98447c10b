// Package alterant runs ordered, idempotent, additive schema changes.
// Each change carries its own presence check; a run applies whatever is
// missing, skips whatever is already there, and stops at the first
// failure so that later changes never build on a broken prerequisite.
package alterant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verran-io/alterant/change"
	"github.com/verran-io/alterant/driver"
)

// ---

type Runner interface {
	// Validate performs every presence check without touching the
	// schema and reports which changes a run would apply.
	Validate(ctx context.Context) (*ValidationResult, error)

	// Apply executes the plan in order, fail-fast. The returned report
	// covers every change that was reached, including the failed one.
	Apply(ctx context.Context) (*Report, error)
}

type ValidationResult struct {
	Changes        []change.Result
	PendingCount   uint
	SatisfiedCount uint
}

type Report struct {
	Results      []change.Result
	AppliedCount uint
	SkippedCount uint
}

// ---

type runnerImpl struct {
	plan   []change.Change
	driver driver.Driver
	log    *zap.Logger
}

type Option func(*runnerImpl)

func WithLogger(log *zap.Logger) Option {
	return func(r *runnerImpl) {
		r.log = log
	}
}

func New(plan []change.Change, driver driver.Driver, opts ...Option) Runner {
	runner := &runnerImpl{
		plan:   plan,
		driver: driver,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// ---

func (r *runnerImpl) Validate(ctx context.Context) (*ValidationResult, error) {
	result := ValidationResult{
		Changes: make([]change.Result, 0, len(r.plan)),
	}

	for _, chg := range r.plan {
		exists, err := r.driver.Exists(ctx, chg.Creates)
		if err != nil {
			return nil, fmt.Errorf("failed to validate change %q: %w", chg.Name, err)
		}

		status := change.Pending
		if exists {
			status = change.Skipped
			result.SatisfiedCount++
		} else {
			result.PendingCount++
		}

		result.Changes = append(result.Changes, change.Result{
			Name:   chg.Name,
			Status: status,
		})
	}

	return &result, nil
}

func (r *runnerImpl) Apply(ctx context.Context) (*Report, error) {
	report := Report{
		Results: make([]change.Result, 0, len(r.plan)),
	}

	for _, chg := range r.plan {
		result, err := r.applyOne(ctx, chg)
		report.Results = append(report.Results, result)

		switch result.Status {
		case change.Applied:
			report.AppliedCount++
		case change.Skipped:
			report.SkippedCount++
		case change.Failed:
			// Later changes may assume this one succeeded; stop here
			// and let the operator re-run after fixing the cause.
			return &report, err
		}
	}

	return &report, nil
}

func (r *runnerImpl) applyOne(ctx context.Context, chg change.Change) (change.Result, error) {
	start := time.Now()

	exists, err := r.driver.Exists(ctx, chg.Creates)
	if err != nil {
		err = fmt.Errorf("failed to run presence check for change %q: %w", chg.Name, err)
		r.log.Error("presence check failed",
			zap.String("change", chg.Name),
			zap.Error(err))
		return change.Result{Name: chg.Name, Status: change.Failed, Err: err, Duration: time.Since(start)}, err
	}

	if exists {
		r.log.Info("already applied, skipping",
			zap.String("change", chg.Name),
			zap.Stringer("kind", chg.Creates.Kind),
			zap.String("object", chg.Creates.Object()))
		return change.Result{Name: chg.Name, Status: change.Skipped, Duration: time.Since(start)}, nil
	}

	if err = r.driver.Apply(ctx, chg); err != nil {
		r.log.Error("change failed, transaction rolled back",
			zap.String("change", chg.Name),
			zap.Error(err))
		return change.Result{Name: chg.Name, Status: change.Failed, Err: err, Duration: time.Since(start)}, err
	}

	r.log.Info("change applied",
		zap.String("change", chg.Name),
		zap.Stringer("kind", chg.Creates.Kind),
		zap.String("object", chg.Creates.Object()),
		zap.Duration("took", time.Since(start)))

	return change.Result{Name: chg.Name, Status: change.Applied, Duration: time.Since(start)}, nil
}
