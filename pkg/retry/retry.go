// Package retry runs a remote call with exponential backoff. Whether a failure
// is worth another attempt is decided once per error by a Classifier supplied
// by the caller, so the loop knows nothing about the remote it is wrapping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Promptonauts/artdash/pkg/observability"
)

type Class int

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

type Classifier func(error) Class

var ErrRetriesExhausted = errors.New("max retries exceeded")

// ExhaustedError is returned after every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded on call to %s after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy is immutable once built; the zero value is not usable, start from
// DefaultPolicy or NewPolicy.
type Policy struct {
	maxAttempts  int
	initialDelay time.Duration
	multiplier   float64
}

func DefaultPolicy() Policy {
	return Policy{maxAttempts: 3, initialDelay: 5 * time.Second, multiplier: 2}
}

func NewPolicy(maxAttempts int, initialDelay time.Duration, multiplier float64) (Policy, error) {
	if maxAttempts < 1 {
		return Policy{}, fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
	}
	if initialDelay <= 0 {
		return Policy{}, fmt.Errorf("initial delay must be positive, got %s", initialDelay)
	}
	if multiplier <= 1 {
		return Policy{}, fmt.Errorf("backoff multiplier must be greater than 1, got %g", multiplier)
	}
	return Policy{maxAttempts: maxAttempts, initialDelay: initialDelay, multiplier: multiplier}, nil
}

func (p Policy) MaxAttempts() int            { return p.maxAttempts }
func (p Policy) InitialDelay() time.Duration { return p.initialDelay }
func (p Policy) Multiplier() float64         { return p.multiplier }

// Delays is the sleep taken before each attempt after the first.
func (p Policy) Delays() []time.Duration {
	if p.maxAttempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, 0, p.maxAttempts-1)
	d := p.initialDelay
	for i := 1; i < p.maxAttempts; i++ {
		delays = append(delays, d)
		d = time.Duration(float64(d) * p.multiplier)
	}
	return delays
}

// WorstCase is the total time spent sleeping when every attempt fails.
func (p Policy) WorstCase() time.Duration {
	var total time.Duration
	for _, d := range p.Delays() {
		total += d
	}
	return total
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func TimerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner carries what every wrapped call shares: the policy, how to sleep,
// and where to log and count.
type Runner struct {
	Policy  Policy
	Sleep   Sleeper
	Logger  *slog.Logger
	Metrics *observability.MetricsRegistry
}

func NewRunner(policy Policy, logger *slog.Logger, metrics *observability.MetricsRegistry) *Runner {
	return &Runner{
		Policy:  policy,
		Sleep:   TimerSleep,
		Logger:  observability.Component(logger, "retry"),
		Metrics: metrics,
	}
}

// Do calls op until it succeeds, fails fatally, or the policy runs out of
// attempts. A fatal error is returned as is; exhaustion yields an
// *ExhaustedError naming the operation.
func Do[T any](ctx context.Context, r *Runner, name string, classify Classifier, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = NewRunner(DefaultPolicy(), nil, nil)
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = TimerSleep
	}
	logger := r.Logger
	if logger == nil {
		logger = observability.Component(nil, "retry")
	}

	policy := r.Policy
	if policy.maxAttempts < 1 {
		policy = DefaultPolicy()
	}

	delay := policy.initialDelay
	var last error
	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		r.count(observability.Name(observability.MetricRemoteCalls, name))

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err

		if classify == nil || classify(err) == Fatal {
			r.count(observability.Name(observability.MetricRemoteFatal, name))
			logger.Warn("remote call failed", observability.FieldOperation, name,
				observability.FieldAttempt, attempt, observability.FieldError, err)
			return zero, err
		}
		if attempt == policy.maxAttempts {
			break
		}

		r.count(observability.Name(observability.MetricRemoteRetries, name))
		logger.Info("retryable remote error, backing off", observability.FieldOperation, name,
			observability.FieldAttempt, attempt, observability.FieldDelay, delay, observability.FieldError, err)
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		delay = time.Duration(float64(delay) * policy.multiplier)
	}

	r.count(observability.Name(observability.MetricRemoteExhausted, name))
	logger.Error("remote call retries exhausted", observability.FieldOperation, name,
		observability.FieldAttempt, policy.maxAttempts, observability.FieldError, last)
	return zero, &ExhaustedError{Operation: name, Attempts: policy.maxAttempts, Last: last}
}

func (r *Runner) count(name string) {
	if r.Metrics != nil {
		r.Metrics.Counter(name).Inc()
	}
}
