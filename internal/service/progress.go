package service

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProgressLog is the append-only record of source files already folded into
// the canonical input. Each line is "absolutePath|sha256hex".
type ProgressLog struct {
	path string
	mu   sync.Mutex
}

// ProgressEntry is one line of the progress log.
type ProgressEntry struct {
	Path string
	Hash string
}

// NewProgressLog opens (lazily) the log at path.
func NewProgressLog(path string) *ProgressLog {
	return &ProgressLog{path: path}
}

// Path returns the log location.
func (p *ProgressLog) Path() string {
	return p.path
}

// Load returns every entry. A missing log is empty. Malformed lines are
// ignored.
func (p *ProgressLog) Load() ([]ProgressEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening progress log: %w", err)
	}
	defer f.Close()

	var out []ProgressEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		i := strings.LastIndex(line, "|")
		if i <= 0 || i == len(line)-1 {
			continue
		}
		out = append(out, ProgressEntry{Path: line[:i], Hash: line[i+1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading progress log: %w", err)
	}
	return out, nil
}

// Hashes returns the set of content hashes in the log.
func (p *ProgressLog) Hashes() (map[string]string, error) {
	entries, err := p.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Hash] = e.Path
	}
	return out, nil
}

// Append adds one entry, creating the log and its directory if needed.
func (p *ProgressLog) Append(path, hash string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o750); err != nil {
		return fmt.Errorf("creating progress log dir: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening progress log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s|%s\n", abs, hash); err != nil {
		f.Close()
		return fmt.Errorf("appending progress log: %w", err)
	}
	return f.Close()
}
