package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/fsutil"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

var (
	_ core.ResultSink = (*AzureArchive)(nil)
	_ blobUploader    = (*azblob.Client)(nil)
)

// blobUploader is the subset of *azblob.Client the archive uses.
type blobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// AzureConfig configures the archive upload.
type AzureConfig struct {
	Account     string
	AccessKey   string
	Container   string
	Prefix      string
	Compression tabular.Compression
}

// AzureArchive uploads a compressed copy of the output file when the run
// ends. Runs that wrote nothing upload nothing.
type AzureArchive struct {
	client     blobUploader
	cfg        AzureConfig
	outputPath string
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	records int
	blob    string
}

// AzureOption configures the archive.
type AzureOption func(*AzureArchive)

// WithAzureLogger sets the logger.
func WithAzureLogger(l *logging.Logger) AzureOption {
	return func(a *AzureArchive) {
		a.logger = l
	}
}

// WithAzureClock overrides time.Now, used in blob names.
func WithAzureClock(now func() time.Time) AzureOption {
	return func(a *AzureArchive) {
		a.now = now
	}
}

// NewAzureArchive creates an archive for outputPath authenticated with a
// shared key.
func NewAzureArchive(cfg AzureConfig, outputPath string, opts ...AzureOption) (*AzureArchive, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccessKey)
	if err != nil {
		return nil, core.ErrValidation(core.CodeMissingCredential, "invalid azure credentials").WithCause(err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure blob client: %w", err)
	}
	return newAzureArchive(client, cfg, outputPath, opts...), nil
}

func newAzureArchive(client blobUploader, cfg AzureConfig, outputPath string, opts ...AzureOption) *AzureArchive {
	a := &AzureArchive{
		client:     client,
		cfg:        cfg,
		outputPath: outputPath,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements core.ResultSink.
func (a *AzureArchive) Name() string { return "azure" }

// Write implements core.ResultSink. Records are already in the output file,
// so only the count is kept.
func (a *AzureArchive) Write(_ context.Context, recs []*core.FetchRecord) error {
	a.mu.Lock()
	a.records += len(recs)
	a.mu.Unlock()
	return nil
}

// Close implements core.ResultSink by uploading the output.
func (a *AzureArchive) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.records == 0 {
		return nil
	}

	tmp, err := a.compress()
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	blob := a.blobName(logging.RunIDFromContext(ctx))
	if _, err := a.client.UploadFile(ctx, a.cfg.Container, blob, tmp, &azblob.UploadFileOptions{}); err != nil {
		return fmt.Errorf("uploading %s: %w", blob, err)
	}
	a.blob = blob
	a.logger.Info("output archived", "container", a.cfg.Container, "blob", blob, "records", a.records)
	return nil
}

// BlobName returns the name of the last uploaded blob, or "".
func (a *AzureArchive) BlobName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blob
}

// compress writes the output through the configured compressor into a
// rewound temporary file.
func (a *AzureArchive) compress() (*os.File, error) {
	src, err := fsutil.OpenScoped(a.outputPath)
	if err != nil {
		return nil, fmt.Errorf("opening output for archive: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "chatprobe-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating archive file: %w", err)
	}
	fail := func(err error) (*os.File, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}

	zw, err := tabular.NewWriter(tmp, a.cfg.Compression)
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		return fail(fmt.Errorf("compressing output: %w", err))
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("compressing output: %w", err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	return tmp, nil
}

// blobName is <prefix>/<stem>-<UTC timestamp>[-<run id>]<ext><codec ext>.
func (a *AzureArchive) blobName(runID string) string {
	base := filepath.Base(a.outputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + "-" + a.now().UTC().Format("20060102T150405Z")
	if runID != "" {
		name += "-" + runID
	}
	name += ext + a.cfg.Compression.Ext()
	if prefix := strings.Trim(a.cfg.Prefix, "/"); prefix != "" {
		return path.Join(prefix, name)
	}
	return name
}
