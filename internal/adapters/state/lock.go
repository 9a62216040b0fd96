package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// DefaultLockTTL is how long a lock is honoured when its holder cannot be
// checked.
const DefaultLockTTL = 24 * time.Hour

// FileLock implements core.RunLock with an exclusively created JSON file.
type FileLock struct {
	path   string
	output string
	ttl    time.Duration
	now    func() time.Time
	alive  func(pid int) bool
}

// FileLockOption configures the lock.
type FileLockOption func(*FileLock)

// WithLockTTL sets the lock TTL.
func WithLockTTL(ttl time.Duration) FileLockOption {
	return func(l *FileLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockClock overrides time.Now.
func WithLockClock(now func() time.Time) FileLockOption {
	return func(l *FileLock) {
		l.now = now
	}
}

// WithProcessCheck replaces the liveness check for holder PIDs.
func WithProcessCheck(alive func(pid int) bool) FileLockOption {
	return func(l *FileLock) {
		l.alive = alive
	}
}

// NewFileLock creates a lock stored at path guarding output.
func NewFileLock(path, output string, opts ...FileLockOption) *FileLock {
	l := &FileLock{
		path:   path,
		output: output,
		ttl:    DefaultLockTTL,
		now:    time.Now,
		alive:  processAlive,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LockPath is the lock file for output inside stateDir. Outputs with the
// same base name in different directories get different locks.
func LockPath(stateDir, output string) string {
	abs, err := filepath.Abs(output)
	if err != nil {
		abs = output
	}
	sum := sha256.Sum256([]byte(abs))
	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	return filepath.Join(stateDir, "locks", base+"-"+hex.EncodeToString(sum[:4])+".lock")
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock. A lock left by a dead local process, or older than
// the TTL, is replaced; a live one yields *core.RunLockConflictError.
func (l *FileLock) Acquire(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	hostname, _ := os.Hostname()
	info := core.LockHolder{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: l.now().UTC(),
		Output:     l.output,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if _, err := f.Write(data); err != nil {
				f.Close()
				os.Remove(l.path)
				return fmt.Errorf("writing lock file: %w", err)
			}
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		holder, err := l.Holder()
		if err == nil && holder != nil && !l.stale(holder, hostname) {
			return &core.RunLockConflictError{Path: l.output, Holder: *holder}
		}
		// Stale or unreadable lock, remove it
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return core.ErrState(core.CodeLockAcquireFailed, "lock file created by another process").WithDetail("path", l.path)
}

// Release removes the lock if this process holds it.
func (l *FileLock) Release() error {
	holder, err := l.Holder()
	if err != nil {
		return err
	}
	if holder == nil {
		return nil // Already released
	}
	if holder.PID != os.Getpid() {
		return core.ErrState(core.CodeLockHeld, "lock owned by different process").WithDetail("pid", holder.PID)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Holder returns the current holder, or nil when the lock is free.
func (l *FileLock) Holder() (*core.LockHolder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	var info core.LockHolder
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock info: %w", err)
	}
	return &info, nil
}

// stale reports whether holder can be taken over. Remote holders are only
// expired by the TTL.
func (l *FileLock) stale(holder *core.LockHolder, hostname string) bool {
	if l.now().Sub(holder.AcquiredAt) >= l.ttl {
		return true
	}
	return holder.Hostname == hostname && !l.alive(holder.PID)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Verify that FileLock implements core.RunLock.
var _ core.RunLock = (*FileLock)(nil)
