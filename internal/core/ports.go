package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Provider Port
// =============================================================================

// Provider is the remote metadata API. Every method returns a *Fault (or an
// error that AsFault can map) on failure.
type Provider interface {
	// Connect opens the session.
	Connect(ctx context.Context) error

	// IsAuthorized reports whether the session is usable and returns the
	// caller's own user id, needed for permission probes.
	IsAuthorized(ctx context.Context) (selfID int64, ok bool, err error)

	// ResolveEntity looks up a chat by id or handle.
	ResolveEntity(ctx context.Context, id ChatIdentifier) (*Entity, error)

	// GetParticipantCount enumerates participants and returns how many there are.
	GetParticipantCount(ctx context.Context, e *Entity) (int, error)

	// GetFullInfo fetches the extended chat attributes.
	GetFullInfo(ctx context.Context, e *Entity) (*FullInfo, error)

	// GetPermissions reports the given user's rights in the chat.
	GetPermissions(ctx context.Context, e *Entity, userID int64) (*Permissions, error)

	// Close releases the session.
	Close() error
}

// MemberCounter is the optional secondary lookup used as the last
// participant-count fallback.
type MemberCounter interface {
	MemberCount(ctx context.Context, e *Entity) (int, error)
}

// =============================================================================
// Run state ports
// =============================================================================

// RunSummary is the structured result of one pipeline run.
type RunSummary struct {
	RunID        string
	Total        int
	Successful   int
	Skipped      int
	AccessDenied int
	Errors       int
	Aggregated   int
	OutputPath   string
	StartedAt    time.Time
	FinishedAt   time.Time
	Aborted      bool
	AbortReason  string
}

// Processed is the number of identifiers that reached a terminal state.
func (s RunSummary) Processed() int {
	return s.Successful + s.AccessDenied + s.Errors
}

// RunInfo is a ledger entry for one run.
type RunInfo struct {
	ID         string
	InputPath  string
	OutputPath string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    RunSummary
}

// Run statuses recorded in the ledger.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
	RunStatusFailed    = "failed"
)

// RunLedger records runs and per-identifier outcomes.
type RunLedger interface {
	StartRun(ctx context.Context, inputPath, outputPath string) (string, error)
	RecordAttempt(ctx context.Context, runID string, rec *FetchRecord) error
	FinishRun(ctx context.Context, runID, status string, summary RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]RunInfo, error)
	Close() error
}

// LockHolder describes the process holding the run lock.
type LockHolder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	Output     string    `json:"output,omitempty"`
}

// RunLock guarantees a single pipeline per output file.
type RunLock interface {
	Acquire(ctx context.Context) error
	Release() error
	Holder() (*LockHolder, error)
}

// RunLockConflictError is returned when another live process holds the lock.
type RunLockConflictError struct {
	Path   string
	Holder LockHolder
}

func (e *RunLockConflictError) Error() string {
	return fmt.Sprintf("another chatprobe run (pid %d on %s, started %s) is using %s; wait for it to finish or remove the lock if that process is gone",
		e.Holder.PID, e.Holder.Hostname, e.Holder.AcquiredAt.Format(time.RFC3339), e.Path)
}

// ResultSink receives checkpointed records in addition to the output file.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, records []*FetchRecord) error
	Close(ctx context.Context) error
}
