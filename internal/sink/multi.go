package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Multi fans every call out to each sink. One failing sink does not stop the
// others; their errors are joined.
type Multi struct {
	sinks []validator.ResultSink
}

// NewMulti combines sinks. Nil entries are dropped.
func NewMulti(sinks ...validator.ResultSink) *Multi {
	out := make([]validator.ResultSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out}
}

// Len reports how many sinks are combined.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Append implements validator.ResultSink.
func (m *Multi) Append(ctx context.Context, r validator.Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush implements validator.ResultSink.
func (m *Multi) Flush(ctx context.Context, results []validator.Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Flush(ctx, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements validator.ResultSink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
