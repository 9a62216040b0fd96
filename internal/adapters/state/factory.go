package state

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// Options configures the state adapters created by Open.
type Options struct {
	// Dir is the state directory; locks live under Dir/locks.
	Dir string

	// LedgerPath is the SQLite ledger. Empty disables the ledger.
	LedgerPath string

	// LockTTL is the duration after which a lock is considered stale.
	// If zero, DefaultLockTTL is used.
	LockTTL time.Duration
}

// OpenLedger opens the SQLite ledger at path, forcing a .db extension.
func OpenLedger(path string) (*SQLiteLedger, error) {
	if !strings.HasSuffix(path, ".db") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	return NewSQLiteLedger(path)
}

// Open creates the run lock for output and, when configured, the ledger.
// The returned ledger is nil when opts.LedgerPath is empty.
func Open(output string, opts Options) (*FileLock, core.RunLedger, error) {
	lock := NewFileLock(LockPath(opts.Dir, output), output, WithLockTTL(opts.LockTTL))
	if strings.TrimSpace(opts.LedgerPath) == "" {
		return lock, nil, nil
	}
	ledger, err := OpenLedger(opts.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	return lock, ledger, nil
}

// CloseLedger safely closes a ledger that may be nil.
func CloseLedger(l core.RunLedger) error {
	if l == nil {
		return nil
	}
	return l.Close()
}
