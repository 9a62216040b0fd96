package service

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

func newTestClassifier(opts ...RetryPolicyOption) *Classifier {
	return NewClassifier(NewRetryPolicy(opts...), rand.New(rand.NewSource(1)))
}

func TestClassifier_Permanent(t *testing.T) {
	c := newTestClassifier()
	for _, retries := range []int{0, 3, 10} {
		d := c.Classify(core.PermanentFault(core.ReasonPrivate, "private"), "@x", retries)
		if d.Action != ActionSkip {
			t.Errorf("retries=%d: Action = %s, want skip", retries, d.Action)
		}
	}
}

func TestClassifier_Transient(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name    string
		fault   *core.Fault
		retries int
		action  Action
		after   time.Duration
	}{
		{"generic first", core.TransientFault(core.ReasonGeneric, "boom", nil), 0, ActionRetry, 5 * time.Second},
		{"timeout", core.TransientFault(core.ReasonTimeout, "slow", nil), 2, ActionRetry, 5 * time.Second},
		{"connection", core.TransientFault(core.ReasonConnection, "reset", nil), 1, ActionRetry, 10 * time.Second},
		{"budget spent", core.TransientFault(core.ReasonGeneric, "boom", nil), 3, ActionFail, 0},
		{"connection budget spent", core.TransientFault(core.ReasonConnection, "reset", nil), 3, ActionFail, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(tt.fault, "@x", tt.retries)
			if d.Action != tt.action || d.After != tt.after {
				t.Errorf("Classify() = %s after %s, want %s after %s", d.Action, d.After, tt.action, tt.after)
			}
		})
	}
}

func TestClassifier_ThrottleWithinCeiling(t *testing.T) {
	c := newTestClassifier()
	d := c.Classify(core.ThrottleFault(600*time.Second, "flood"), "@x", 0)
	if d.Action != ActionRetry {
		t.Fatalf("Action = %s, want retry", d.Action)
	}
	if d.After < 601*time.Second || d.After > 605*time.Second {
		t.Errorf("After = %s, want within [601s, 605s]", d.After)
	}
}

func TestClassifier_ThrottleSharesBudget(t *testing.T) {
	c := newTestClassifier()
	d := c.Classify(core.ThrottleFault(30*time.Second, "flood"), "@x", 3)
	if d.Action != ActionFail {
		t.Errorf("Action = %s, want fail", d.Action)
	}
	if d.After != 0 {
		t.Errorf("After = %s, want no sleep", d.After)
	}
}

func TestClassifier_ThrottleAboveCeiling(t *testing.T) {
	c := newTestClassifier()
	d := c.Classify(core.ThrottleFault(10000*time.Second, "flood"), "@big", 0)
	if d.Action != ActionAbort {
		t.Fatalf("Action = %s, want abort", d.Action)
	}

	var abort *core.ThrottleAbortError
	if !errors.As(d.Err, &abort) {
		t.Fatalf("Err = %v, want ThrottleAbortError", d.Err)
	}
	if abort.Wait != 10000*time.Second || abort.Identifier != "@big" {
		t.Errorf("abort = %+v", abort)
	}
}

func TestClassifier_Fatal(t *testing.T) {
	c := newTestClassifier()
	f := core.FatalFault(core.ReasonUnauthorized, "session revoked", nil)
	d := c.Classify(f, "@x", 0)
	if d.Action != ActionAbort || d.Err != f {
		t.Errorf("Classify() = %+v, want abort carrying the fault", d)
	}
}

func TestNewRetryPolicy_Options(t *testing.T) {
	p := NewRetryPolicy(
		WithMaxRetries(5),
		WithCooldown(time.Second),
		WithConnectionCooldown(2*time.Second),
		WithThrottleCeiling(time.Hour),
		WithThrottleJitter(0, 0),
	)
	if p.MaxRetries != 5 || p.Cooldown != time.Second || p.ConnectionCooldown != 2*time.Second {
		t.Errorf("policy = %+v", p)
	}
	c := NewClassifier(p, nil)
	d := c.Classify(core.ThrottleFault(time.Minute, "flood"), "@x", 4)
	if d.Action != ActionRetry || d.After != time.Minute {
		t.Errorf("Classify() = %+v, want retry after exactly 1m", d)
	}
	d = c.Classify(core.ThrottleFault(2*time.Hour, "flood"), "@x", 0)
	if d.Action != ActionAbort {
		t.Errorf("Action = %s, want abort above a 1h ceiling", d.Action)
	}
}

func TestAction_String(t *testing.T) {
	for a, want := range map[Action]string{ActionSkip: "skip", ActionRetry: "retry", ActionFail: "fail", ActionAbort: "abort"} {
		if a.String() != want {
			t.Errorf("%d.String() = %q, want %q", a, a.String(), want)
		}
	}
}
