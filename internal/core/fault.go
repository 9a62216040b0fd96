package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FaultKind is the closed set of outcomes a provider failure can map to.
type FaultKind int

const (
	// FaultTransient may succeed later and is retried up to a bound.
	FaultTransient FaultKind = iota
	// FaultPermanent will never succeed for this target and is never retried.
	FaultPermanent
	// FaultThrottle carries a provider-mandated wait.
	FaultThrottle
	// FaultFatal aborts the whole run.
	FaultFatal
)

func (k FaultKind) String() string {
	switch k {
	case FaultPermanent:
		return "permanent"
	case FaultThrottle:
		return "throttle"
	case FaultFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Fault reasons reported by provider adapters.
const (
	ReasonNotFound      = "not_found"
	ReasonPrivate       = "private"
	ReasonAdminRequired = "admin_required"
	ReasonBanned        = "banned"
	ReasonTimeout       = "timeout"
	ReasonConnection    = "connection"
	ReasonGeneric       = "generic"
	ReasonFloodWait     = "flood_wait"
	ReasonUnauthorized  = "unauthorized"
	ReasonSessionLocked = "session_locked"
)

// Fault is the single error type provider adapters return for call failures.
type Fault struct {
	Kind    FaultKind
	Reason  string
	Wait    time.Duration // only meaningful for FaultThrottle
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" && f.Cause != nil {
		msg = f.Cause.Error()
	}
	if f.Kind == FaultThrottle {
		return fmt.Sprintf("%s fault (%s, wait %s): %s", f.Kind, f.Reason, f.Wait, msg)
	}
	return fmt.Sprintf("%s fault (%s): %s", f.Kind, f.Reason, msg)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// IsConnection reports whether the fault is a transport-level failure, which
// gets a longer cooldown than generic transient faults.
func (f *Fault) IsConnection() bool {
	return f.Kind == FaultTransient && f.Reason == ReasonConnection
}

// PermanentFault creates a fault that must not be retried.
func PermanentFault(reason, message string) *Fault {
	return &Fault{Kind: FaultPermanent, Reason: reason, Message: message}
}

// TransientFault creates a retryable fault.
func TransientFault(reason, message string, cause error) *Fault {
	return &Fault{Kind: FaultTransient, Reason: reason, Message: message, Cause: cause}
}

// ThrottleFault creates a fault carrying a mandatory wait.
func ThrottleFault(wait time.Duration, message string) *Fault {
	return &Fault{Kind: FaultThrottle, Reason: ReasonFloodWait, Wait: wait, Message: message}
}

// FatalFault creates a fault that stops the run.
func FatalFault(reason, message string, cause error) *Fault {
	return &Fault{Kind: FaultFatal, Reason: reason, Message: message, Cause: cause}
}

// AsFault maps any error onto a Fault. Errors that are not already faults are
// treated as transient; deadline errors become timeouts.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientFault(ReasonTimeout, err.Error(), err)
	}
	return TransientFault(ReasonGeneric, err.Error(), err)
}

// ThrottleAbortError is returned when the provider demands a wait longer than
// the configured ceiling. The run stops after flushing buffered results.
type ThrottleAbortError struct {
	Identifier string
	Wait       time.Duration
	Ceiling    time.Duration
}

func (e *ThrottleAbortError) Error() string {
	return fmt.Sprintf("provider requires a %s wait while fetching %s (ceiling %s); retry in %s",
		e.Wait, e.Identifier, e.Ceiling, e.Wait.Round(time.Minute))
}

// IsThrottleAbort reports whether err carries a ThrottleAbortError.
func IsThrottleAbort(err error) bool {
	var t *ThrottleAbortError
	return errors.As(err, &t)
}
