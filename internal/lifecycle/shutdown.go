// Package lifecycle runs ordered shutdown of long-lived components.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Component is something that must be stopped before the process exits.
type Component interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// Result records how one component's shutdown went.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

type funcComponent struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcComponent) Name() string                       { return f.name }
func (f funcComponent) Shutdown(ctx context.Context) error { return f.fn(ctx) }

// Func adapts fn to a Component.
func Func(name string, fn func(ctx context.Context) error) Component {
	return funcComponent{name: name, fn: fn}
}

// ShutdownAll stops components in order. Every component is stopped even if
// an earlier one fails or panics; each outcome is logged and returned.
func ShutdownAll(ctx context.Context, logger *slog.Logger, components ...Component) []Result {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	results := make([]Result, 0, len(components))
	for _, c := range components {
		start := time.Now()
		err := shutdownOne(ctx, c)
		res := Result{Name: c.Name(), Err: err, Duration: time.Since(start)}
		if err != nil {
			logger.Error("shutdown failed", "component", res.Name, "err", err, "duration", res.Duration)
		} else {
			logger.Info("shutdown complete", "component", res.Name, "duration", res.Duration)
		}
		results = append(results, res)
	}
	return results
}

func shutdownOne(ctx context.Context, c Component) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Shutdown(ctx)
}

// Err joins the failures in results, labelled by component.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}
