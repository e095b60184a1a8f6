// Package diag runs per-collaborator self-checks for the readiness probe.
package diag

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/elevate/internal/fanout"
)

// Result is one collaborator's self-check outcome. Details are logged, never
// returned in external responses.
type Result struct {
	Name       string
	Successful bool
	Details    string
}

// Diagnosable is anything that can self-check.
type Diagnosable interface {
	Name() string
	Check(ctx context.Context) Result
}

// Func adapts a named check function.
func Func(name string, check func(ctx context.Context) error) Diagnosable {
	return funcCheck{name: name, check: check}
}

type funcCheck struct {
	name  string
	check func(ctx context.Context) error
}

func (f funcCheck) Name() string { return f.name }

func (f funcCheck) Check(ctx context.Context) Result {
	if err := f.check(ctx); err != nil {
		return Result{Name: f.name, Successful: false, Details: err.Error()}
	}
	return Result{Name: f.name, Successful: true}
}

// Aggregator runs all registered checks concurrently on the shared executor.
type Aggregator struct {
	checks  []Diagnosable
	exec    *fanout.Executor
	timeout time.Duration
}

func NewAggregator(exec *fanout.Executor, checks ...Diagnosable) *Aggregator {
	return &Aggregator{checks: checks, exec: exec, timeout: 10 * time.Second}
}

// Ready ANDs all self-checks. Failures are logged with their details.
func (a *Aggregator) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]Result, len(a.checks))
	tasks := make([]fanout.Task, len(a.checks))
	for i, check := range a.checks {
		i, check := i, check
		tasks[i] = func(ctx context.Context) error {
			results[i] = check.Check(ctx)
			return nil
		}
	}
	if err := a.exec.Do(ctx, tasks...); err != nil {
		slog.Error("readiness checks did not run", "error", err)
		return false
	}

	ready := true
	for _, r := range results {
		if !r.Successful {
			ready = false
			slog.Error("readiness check failed", "check", r.Name, "details", r.Details)
		}
	}
	return ready
}
