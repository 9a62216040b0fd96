package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/service"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

const fakeToken = "123456:TEST-token"

// fakeBotAPI answers the Bot API methods a run uses. @alpha_chat resolves,
// every other chat is unknown.
func fakeBotAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		w.Header().Set("Content-Type", "application/json")

		var body string
		switch method {
		case "getMe":
			body = `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"probe","username":"probe_bot"}}`
		case "getChat":
			if r.PostForm.Get("chat_id") != "@alpha_chat" {
				w.WriteHeader(http.StatusBadRequest)
				body = `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
				break
			}
			body = `{"ok":true,"result":{"id":-1000000001111,"type":"supergroup","title":"Alpha","username":"alpha_chat"}}`
		case "getChatMemberCount", "getChatMembersCount":
			body = `{"ok":true,"result":55}`
		case "getChatAdministrators":
			body = `{"ok":true,"result":[{"status":"creator","user":{"id":7,"is_bot":false,"first_name":"owner"}}]}`
		case "getChatMember":
			body = `{"ok":true,"result":{"status":"left","user":{"id":42,"is_bot":true,"first_name":"probe"}}}`
		default:
			w.WriteHeader(http.StatusBadRequest)
			body = `{"ok":false,"error_code":400,"description":"Bad Request: method not scripted"}`
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fastConfig removes pacing and cooldowns and points the provider at url.
func fastConfig(url string) {
	viper.Set("telegram.bot_token", fakeToken)
	viper.Set("telegram.base_url", url)
	viper.Set("telegram.lookup_rps", 1000.0)
	viper.Set("pacing.jitter_min", "0s")
	viper.Set("pacing.jitter_max", "0s")
	viper.Set("pacing.pause_every_min", 0)
	viper.Set("pacing.pause_every_max", 0)
	viper.Set("pacing.pause_min", "0s")
	viper.Set("pacing.pause_max", "0s")
	viper.Set("retry.cooldown", "0s")
	viper.Set("retry.connection_cooldown", "0s")
	viper.Set("retry.throttle_jitter_min", "0s")
	viper.Set("retry.throttle_jitter_max", "0s")
}

func resetRunFlags() {
	runInput, runOutput, runAllFiles, runDryRun = "", "", false, false
}

func TestResolveRunOptions(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name     string
		input    string
		output   string
		allFiles bool
		want     service.RunOptions
	}{
		{
			name: "defaults to the canonical input with a per-file output",
			want: service.RunOptions{
				InputPath:  filepath.Join("input", "groups.csv"),
				OutputPath: filepath.Join("input", "groups_enhanced.csv"),
			},
		},
		{
			name:  "explicit input",
			input: filepath.Join("data", "export.tsv"),
			want: service.RunOptions{
				InputPath:  filepath.Join("data", "export.tsv"),
				OutputPath: filepath.Join("data", "export_enhanced.csv"),
			},
		},
		{
			name:   "explicit output",
			input:  "a.csv",
			output: "b.csv",
			want:   service.RunOptions{InputPath: "a.csv", OutputPath: "b.csv"},
		},
		{
			name:     "all files",
			input:    "ignored.csv",
			allFiles: true,
			want: service.RunOptions{
				InputPath:  filepath.Join("input", "groups.csv"),
				OutputPath: "groups_enhanced.csv",
				Aggregate:  true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRunOptions(cfg, tt.input, tt.output, tt.allFiles))
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	dir := useWorkspace(t)
	defer resetRunFlags()
	writeFile(t, filepath.Join(dir, "input", "groups.csv"), "username\n@alpha_chat\n@beta_chat\n@alpha_chat\n")
	buf := capture(runCmd)

	runDryRun = true
	require.NoError(t, runRun(runCmd, nil))

	assert.Contains(t, buf.String(), "Run summary")
	_, err := os.Stat(filepath.Join(dir, "input", "groups_enhanced.csv"))
	assert.True(t, os.IsNotExist(err), "dry run wrote the output")
	_, err = os.Stat(filepath.Join(dir, ".chatprobe"))
	assert.True(t, os.IsNotExist(err), "dry run created state")
}

func TestRun_AllFiles(t *testing.T) {
	dir := useWorkspace(t)
	defer resetRunFlags()
	srv := fakeBotAPI(t)
	fastConfig(srv.URL)
	writeFile(t, filepath.Join(dir, "input", "export_a.csv"), "username\n@alpha_chat\n")
	writeFile(t, filepath.Join(dir, "input", "export_b.csv"), "username\n@beta_chat\n@alpha_chat\n")
	buf := capture(runCmd)

	runAllFiles = true
	require.NoError(t, runRun(runCmd, nil))
	assert.Contains(t, buf.String(), "Run summary")

	out, _, err := tabular.ReadFile(filepath.Join(dir, "groups_enhanced.csv"), tabular.Options{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	byHandle := make(map[string]tabular.Row)
	for _, r := range out.Rows {
		byHandle[r[core.ColUsername]] = r
	}
	alpha := byHandle["@alpha_chat"]
	require.NotNil(t, alpha)
	assert.Equal(t, string(core.AccessSuccess), alpha[core.ColAccessStatus])
	assert.Equal(t, "1111", alpha[core.ColID])
	assert.Equal(t, "55", alpha[core.ColMembersCount])
	assert.Equal(t, core.CountSourceLookup, alpha[core.ColMembersCountSource])
	assert.Equal(t, "https://t.me/alpha_chat", alpha[core.ColActualUsername])
	assert.NotEqual(t, string(core.AccessSuccess), byHandle["@beta_chat"][core.ColAccessStatus])

	// Sources were folded into the canonical input and removed.
	_, err = os.Stat(filepath.Join(dir, "input", "export_a.csv"))
	assert.True(t, os.IsNotExist(err))

	// A second run has nothing left to fetch.
	buf.Reset()
	require.NoError(t, runRun(runCmd, nil))
	assert.Contains(t, buf.String(), "Run summary")

	// Both runs are in the ledger.
	statusJSON = true
	defer func() { statusJSON = false }()
	sbuf := capture(statusCmd)
	require.NoError(t, runStatus(statusCmd, nil))
	var report statusReport
	require.NoError(t, json.Unmarshal(sbuf.Bytes(), &report))
	require.Len(t, report.Runs, 2)
	assert.Equal(t, core.RunStatusCompleted, report.Runs[0].Status)
	assert.Equal(t, 2, report.Runs[1].Successful+report.Runs[1].AccessDenied+report.Runs[1].Errors)
	assert.Nil(t, report.Lock, "lock must be released after the run")
}

func TestRun_AllFilesConflictsWithAggregate(t *testing.T) {
	dir := useWorkspace(t)
	defer resetRunFlags()
	srv := fakeBotAPI(t)
	fastConfig(srv.URL)
	source := writeFile(t, filepath.Join(dir, "input", "export_a.csv"), "username\n@alpha_chat\n")
	capture(runCmd)

	// The lock aggregate takes on the canonical input.
	canonical := filepath.Join("input", "groups.csv")
	held := state.NewFileLock(state.LockPath(".chatprobe", canonical), canonical)
	require.NoError(t, held.Acquire(context.Background()))
	defer func() { _ = held.Release() }()

	runAllFiles = true
	err := runRun(runCmd, nil)
	var conflict *core.RunLockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, ExitCode(err))

	_, statErr := os.Stat(source)
	assert.NoError(t, statErr, "source must not be folded while aggregate holds the lock")
	_, statErr = os.Stat(filepath.Join(dir, "groups_enhanced.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MissingToken(t *testing.T) {
	useWorkspace(t)
	defer resetRunFlags()
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("CHATPROBE_TELEGRAM_BOT_TOKEN", "")
	capture(runCmd)

	err := runRun(runCmd, nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
