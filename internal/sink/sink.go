// Package sink delivers surviving article records to the configured outputs.
package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Sink consumes the final record list of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []types.ArticleRecord) error
}

// Fanout delivers records to every configured sink. A failing sink does not
// prevent delivery to the others; all failures are joined into one error.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout builds a fanout over the given sinks. Returns nil when no sink
// is configured, which callers treat as "discard".
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return &Fanout{sinks: active, logger: logger}
}

// Write implements Sink.
func (f *Fanout) Write(ctx context.Context, records []types.ArticleRecord) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, records); err != nil {
			f.logger.Error("sink write failed", "sink", s.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		f.logger.Info("sink write complete", "sink", s.Name(), "records", len(records))
	}
	return errors.Join(errs...)
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Close releases resources held by sinks that own connections.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if closer, ok := s.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
