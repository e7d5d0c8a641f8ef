package log

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sampler decides whether a wide event should be emitted.
type Sampler interface {
	ShouldSample(ctx context.Context, e *Event) bool
}

// SamplerFunc is a function adapter for Sampler.
type SamplerFunc func(ctx context.Context, e *Event) bool

// ShouldSample implements Sampler.
func (f SamplerFunc) ShouldSample(ctx context.Context, e *Event) bool {
	return f(ctx, e)
}

// KeepAll samples every event.
var KeepAll = SamplerFunc(func(context.Context, *Event) bool { return true }) //nolint:gochecknoglobals

// DefaultSampler keeps events that failed, ran slowly or recorded a step with the
// kept outcome. Everything else is kept at a random rate.
type DefaultSampler struct {
	slowThreshold  time.Duration
	keepOutcome    string
	randomKeepRate float64
}

// NewDefaultSampler creates a rule-based sampler.
func NewDefaultSampler(slowThreshold time.Duration, keepOutcome string, randomKeepRate float64) *DefaultSampler {
	return &DefaultSampler{
		slowThreshold:  slowThreshold,
		keepOutcome:    keepOutcome,
		randomKeepRate: randomKeepRate,
	}
}

// ShouldSample decides if event should be logged.
func (s *DefaultSampler) ShouldSample(_ context.Context, e *Event) bool {
	if e.HasErrors() {
		return true
	}

	if s.slowThreshold > 0 && e.Duration() >= s.slowThreshold {
		return true
	}

	if s.keepOutcome != "" && e.StepCount(s.keepOutcome) > 0 {
		return true
	}

	//nolint:gosec // Non-cryptographic sampling is sufficient for log event retention.
	return rand.Float64() < s.randomKeepRate
}
