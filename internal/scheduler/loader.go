package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workers"
)

// LoaderFactory produces the job that brings a unit to Loaded.
type LoaderFactory interface {
	NewLoader(u *unit.Unit) workers.Job
}

// LoaderFactoryFunc adapts a function to LoaderFactory.
type LoaderFactoryFunc func(u *unit.Unit) workers.Job

func (f LoaderFactoryFunc) NewLoader(u *unit.Unit) workers.Job { return f(u) }

type loaderFactory struct {
	fe     frontend.Frontend
	logger *slog.Logger
}

// NewLoaderFactory returns the default factory: a parse job for units that
// were never parsed and a reparse job for the rest.
func NewLoaderFactory(fe frontend.Frontend, logger *slog.Logger) LoaderFactory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &loaderFactory{fe: fe, logger: logger}
}

func (f *loaderFactory) NewLoader(u *unit.Unit) workers.Job {
	if u.Phase() == unit.AwaitingParsing {
		return f.parse(u)
	}
	return f.reparse(u)
}

func (f *loaderFactory) parse(u *unit.Unit) workers.Job {
	return func(ctx context.Context) error {
		prev, ok := u.BeginParse()
		if !ok {
			return nil
		}
		if prev != nil {
			// Loaded by someone else since the job was created.
			return f.refresh(ctx, u, prev)
		}
		return f.fresh(ctx, u)
	}
}

func (f *loaderFactory) reparse(u *unit.Unit) workers.Job {
	return func(ctx context.Context) error {
		prev, ok := u.BeginParse()
		if !ok {
			return nil
		}
		if prev == nil {
			return f.fresh(ctx, u)
		}
		return f.refresh(ctx, u, prev)
	}
}

func (f *loaderFactory) refresh(ctx context.Context, u *unit.Unit, prev frontend.Parsed) error {
	start := time.Now()
	if err := f.fe.Reparse(ctx, prev); err != nil {
		err = fmt.Errorf("reparse %s: %w", u.Path(), err)
		u.FailLoad(err)
		return err
	}
	f.logger.Debug("reparsed translation unit", "unit", u.Path(), "elapsed", time.Since(start))
	u.CompleteLoad(prev)
	return nil
}

func (f *loaderFactory) fresh(ctx context.Context, u *unit.Unit) error {
	start := time.Now()
	p, err := f.fe.Parse(ctx, u.Path(), u.CompileOptions())
	if err != nil {
		err = fmt.Errorf("parse %s: %w", u.Path(), err)
		u.FailLoad(err)
		return err
	}
	f.logger.Debug("parsed translation unit", "unit", u.Path(), "elapsed", time.Since(start))
	u.CompleteLoad(p)
	return nil
}
