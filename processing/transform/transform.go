// Package transform holds the text transformations the processing engine
// applies before a record is stored.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"logpipe/config"
)

// ErrTextTooLong is returned for texts the transformer refuses to process.
// Retrying cannot fix them.
var ErrTextTooLong = errors.New("text exceeds maximum length")

// Transformer turns the original text of a record into its stored form.
type Transformer interface {
	Transform(ctx context.Context, text string) (string, error)
}

// TransformFunc adapts a plain function to Transformer.
type TransformFunc func(ctx context.Context, text string) (string, error)

func (f TransformFunc) Transform(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Redactor replaces literal substrings and spends a fixed amount of time
// per input character, standing in for an expensive model call.
type Redactor struct {
	replacer    *strings.Replacer
	costPerChar time.Duration
	maxLength   int
	clock       clock.Clock
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithClock sets the clock the simulated cost waits on.
func WithClock(c clock.Clock) Option {
	return func(r *Redactor) { r.clock = c }
}

// NewRedactor builds a Redactor from the transform configuration.
func NewRedactor(cfg config.TransformConfig, opts ...Option) *Redactor {
	// Longer patterns first so overlapping keys resolve the same way on
	// every run.
	keys := make([]string, 0, len(cfg.Redactions))
	for k := range cfg.Redactions {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, cfg.Redactions[k])
	}

	r := &Redactor{
		replacer:    strings.NewReplacer(pairs...),
		costPerChar: cfg.CostPerChar,
		maxLength:   cfg.MaxTextLength,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cost is the simulated time spent on text.
func (r *Redactor) Cost(text string) time.Duration {
	return r.costPerChar * time.Duration(utf8.RuneCountInString(text))
}

// Transform implements Transformer.
func (r *Redactor) Transform(ctx context.Context, text string) (string, error) {
	if n := utf8.RuneCountInString(text); r.maxLength > 0 && n > r.maxLength {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, n, r.maxLength)
	}

	if cost := r.Cost(text); cost > 0 {
		timer := r.clock.NewTimer(cost)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
	return r.replacer.Replace(text), nil
}

var _ Transformer = (*Redactor)(nil)
