package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/fsutil"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// DefaultDir is used when no directory is configured.
const DefaultDir = ".chatprobe/crashdumps"

const defaultMaxFiles = 10

// ResourceState is the process footprint at the time of the crash.
type ResourceState struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	RSS        uint64 `json:"rss_bytes,omitempty"`
	NumFDs     int32  `json:"num_fds,omitempty"`
}

// RunContext identifies the run that was in progress.
type RunContext struct {
	RunID      string `json:"run_id,omitempty"`
	Command    string `json:"command,omitempty"`
	InputPath  string `json:"input_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	WorkDir    string `json:"work_dir,omitempty"`
}

// CrashDump contains all information captured during a crash.
type CrashDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	Resources ResourceState `json:"resources"`
	Run       RunContext    `json:"run"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// Options configures a CrashDumpWriter.
type Options struct {
	Dir          string
	MaxFiles     int
	IncludeStack bool
	IncludeEnv   bool
}

// CrashDumpWriter handles crash dump generation and persistence.
type CrashDumpWriter struct {
	dir          string
	maxFiles     int
	includeStack bool
	includeEnv   bool
	logger       *logging.Logger

	run atomic.Pointer[RunContext]

	mu sync.Mutex
}

// NewCrashDumpWriter creates a crash dump writer.
func NewCrashDumpWriter(opts Options, logger *logging.Logger) *CrashDumpWriter {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrashDumpWriter{
		dir:          opts.Dir,
		maxFiles:     opts.MaxFiles,
		includeStack: opts.IncludeStack,
		includeEnv:   opts.IncludeEnv,
		logger:       logger,
	}
}

// Dir returns the dump directory.
func (w *CrashDumpWriter) Dir() string { return w.dir }

// SetRunContext records the run that subsequent dumps belong to.
func (w *CrashDumpWriter) SetRunContext(rc RunContext) {
	w.run.Store(&rc)
}

// WriteCrashDump generates and writes a crash dump.
func (w *CrashDumpWriter) WriteCrashDump(panicValue any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: fmt.Sprintf("%v", panicValue),
		Resources:  snapshotResources(),
	}
	if w.includeStack {
		dump.StackTrace = string(debug.Stack())
	}
	if rc := w.run.Load(); rc != nil {
		dump.Run = *rc
	}
	if w.includeEnv {
		dump.RedactedEnv = redactEnvironment(os.Environ())
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating crash dump dir: %w", err)
	}

	filename := fmt.Sprintf("crash-%s.json", dump.Timestamp.Format("2006-01-02T15-04-05.000"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	_ = w.cleanupOldDumps()
	return path, nil
}

// RecoverAndReturn recovers from a panic, writes a dump and stores an error
// in errPtr instead of re-panicking.
// Usage: defer writer.RecoverAndReturn(&err)
//
//nolint:gocritic // ptrToRefParam: errPtr must be a pointer to modify the caller's error variable
func (w *CrashDumpWriter) RecoverAndReturn(errPtr *error) {
	r := recover()
	if r == nil {
		return
	}
	path, dumpErr := w.WriteCrashDump(r)
	if dumpErr != nil {
		w.logger.Error("failed to write crash dump", "error", dumpErr, "panic", r)
		*errPtr = fmt.Errorf("command panicked: %v", r)
		return
	}
	w.logger.Error("crash dump written after panic", "path", path, "panic", r)
	*errPtr = fmt.Errorf("command panicked: %v (dump: %s)", r, path)
}

func snapshotResources() ResourceState {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	state := ResourceState{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
	}

	// #nosec G115 -- pid fits in int32 on supported platforms
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return state
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		state.RSS = mem.RSS
	}
	if fds, err := proc.NumFDs(); err == nil {
		state.NumFDs = fds
	}
	return state
}

// cleanupOldDumps removes crash dumps exceeding maxFiles, oldest first.
func (w *CrashDumpWriter) cleanupOldDumps() error {
	dumps, err := listDumps(w.dir)
	if err != nil {
		return err
	}
	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].name)
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
	return nil
}

type dumpFile struct {
	name    string
	modTime time.Time
}

// listDumps returns crash dump files sorted oldest first.
func listDumps(dir string) ([]dumpFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var dumps []dumpFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "crash-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dumps = append(dumps, dumpFile{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(dumps, func(i, j int) bool {
		if dumps[i].modTime.Equal(dumps[j].modTime) {
			return dumps[i].name < dumps[j].name
		}
		return dumps[i].modTime.Before(dumps[j].modTime)
	})
	return dumps, nil
}

var sensitiveSubstrings = []string{
	"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL",
	"AUTH", "PRIVATE", "DSN", "CONNECTION_STRING",
}

func redactEnvironment(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		redacted := false
		for _, s := range sensitiveSubstrings {
			if strings.Contains(upper, s) {
				redacted = true
				break
			}
		}
		if redacted {
			result[key] = "[REDACTED]"
		} else {
			result[key] = value
		}
	}
	return result
}

// LoadLatestCrashDump loads the most recent crash dump from the directory.
func LoadLatestCrashDump(dir string) (*CrashDump, error) {
	dumps, err := listDumps(dir)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump dir: %w", err)
	}
	if len(dumps) == 0 {
		return nil, fmt.Errorf("no crash dumps found")
	}

	data, err := fsutil.ReadFileScoped(filepath.Join(dir, dumps[len(dumps)-1].name))
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}
	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}
