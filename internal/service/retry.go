package service

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// RetryPolicy bounds how an identifier is retried after a fault.
type RetryPolicy struct {
	MaxRetries         int
	Cooldown           time.Duration // after a generic transient fault
	ConnectionCooldown time.Duration // after a transport failure
	ThrottleCeiling    time.Duration // longer provider waits abort the run
	ThrottleJitterMin  time.Duration
	ThrottleJitterMax  time.Duration
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:         3,
		Cooldown:           5 * time.Second,
		ConnectionCooldown: 10 * time.Second,
		ThrottleCeiling:    2 * time.Hour,
		ThrottleJitterMin:  time.Second,
		ThrottleJitterMax:  5 * time.Second,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxRetries sets the retry budget per identifier.
func WithMaxRetries(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxRetries = n
	}
}

// WithCooldown sets the wait after a generic transient fault.
func WithCooldown(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Cooldown = d
	}
}

// WithConnectionCooldown sets the wait after a connection fault.
func WithConnectionCooldown(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.ConnectionCooldown = d
	}
}

// WithThrottleCeiling sets the longest provider wait the run will sit out.
func WithThrottleCeiling(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.ThrottleCeiling = d
	}
}

// WithThrottleJitter sets the extra random wait added to provider waits.
func WithThrottleJitter(lo, hi time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.ThrottleJitterMin = lo
		p.ThrottleJitterMax = hi
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Action is what the orchestrator does next with an identifier.
type Action int

const (
	// ActionSkip records access_denied and moves on.
	ActionSkip Action = iota
	// ActionRetry waits Decision.After and tries again.
	ActionRetry
	// ActionFail records an error and moves on.
	ActionFail
	// ActionAbort stops the run with Decision.Err.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	default:
		return "abort"
	}
}

// Decision is the classifier's verdict for one failed attempt.
type Decision struct {
	Action Action
	After  time.Duration
	Err    error
}

// Classifier turns faults into decisions. Not safe for concurrent use.
type Classifier struct {
	policy *RetryPolicy
	rng    *rand.Rand
}

// NewClassifier creates a classifier. A nil rng uses a time-seeded source.
func NewClassifier(policy *RetryPolicy, rng *rand.Rand) *Classifier {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Classifier{policy: policy, rng: rng}
}

// Policy returns the policy in use.
func (c *Classifier) Policy() *RetryPolicy {
	return c.policy
}

// Classify decides what happens after fault f on an identifier that has
// already been retried `retries` times. Permanent faults never consume the
// budget; throttles share it with transient faults.
func (c *Classifier) Classify(f *core.Fault, identifier string, retries int) Decision {
	switch f.Kind {
	case core.FaultPermanent:
		return Decision{Action: ActionSkip}

	case core.FaultFatal:
		return Decision{Action: ActionAbort, Err: f}

	case core.FaultThrottle:
		if f.Wait > c.policy.ThrottleCeiling {
			return Decision{Action: ActionAbort, Err: &core.ThrottleAbortError{
				Identifier: identifier,
				Wait:       f.Wait,
				Ceiling:    c.policy.ThrottleCeiling,
			}}
		}
		if retries >= c.policy.MaxRetries {
			return Decision{Action: ActionFail}
		}
		jitter := uniformDuration(c.rng, c.policy.ThrottleJitterMin, c.policy.ThrottleJitterMax)
		return Decision{Action: ActionRetry, After: f.Wait + jitter}

	default:
		if retries >= c.policy.MaxRetries {
			return Decision{Action: ActionFail}
		}
		if f.IsConnection() {
			return Decision{Action: ActionRetry, After: c.policy.ConnectionCooldown}
		}
		return Decision{Action: ActionRetry, After: c.policy.Cooldown}
	}
}

// RetryExhaustedError describes an identifier that failed on every attempt.
type RetryExhaustedError struct {
	Identifier string
	Attempts   int
	LastErr    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}
