// Package sink mirrors checkpointed results to external stores.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// Compile-time interface checks.
var (
	_ core.ResultSink = (*Postgres)(nil)
	_ pgPool          = (*pgxpool.Pool)(nil)
)

const defaultBatchSize = 200

// pgPool is the subset of *pgxpool.Pool the sink uses.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresConfig configures the Postgres mirror.
type PostgresConfig struct {
	DSN       string
	Schema    string
	BatchSize int
	MaxConns  int
}

// Postgres upserts every checkpointed record into <schema>.chat_metadata,
// keyed by identifier.
type Postgres struct {
	pool      pgPool
	table     string
	batchSize int
	logger    *logging.Logger

	mu      sync.Mutex
	written int
}

// PostgresOption configures the sink.
type PostgresOption func(*Postgres)

// WithPostgresLogger sets the logger.
func WithPostgresLogger(l *logging.Logger) PostgresOption {
	return func(p *Postgres) {
		p.logger = l
	}
}

// NewPostgres connects to cfg.DSN and creates the table if needed.
func NewPostgres(ctx context.Context, cfg PostgresConfig, opts ...PostgresOption) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "parsing postgres dsn").WithCause(err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	pcfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	p, err := newPostgres(ctx, pool, cfg, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func newPostgres(ctx context.Context, pool pgPool, cfg PostgresConfig, opts ...PostgresOption) (*Postgres, error) {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	p := &Postgres{
		pool:      pool,
		table:     pgx.Identifier{schema, "chat_metadata"}.Sanitize(),
		batchSize: cfg.BatchSize,
		logger:    logging.NewNop(),
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := pool.Exec(ctx, createTableSQL(p.table)); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p.table, err)
	}
	return p, nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		identifier TEXT PRIMARY KEY,
		chat_id BIGINT,
		title TEXT,
		handle TEXT,
		member_count INTEGER,
		member_count_source TEXT,
		chat_type TEXT,
		created_at TIMESTAMPTZ,
		checked_at TIMESTAMPTZ NOT NULL,
		online_count INTEGER,
		slow_mode_delay INTEGER,
		pinned_message_id BIGINT,
		linked_chat_id BIGINT,
		can_send_messages TEXT,
		access_status TEXT NOT NULL,
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 1
	)`
}

func upsertSQL(table string) string {
	return `INSERT INTO ` + table + `
		(identifier, chat_id, title, handle, member_count, member_count_source, chat_type,
		 created_at, checked_at, online_count, slow_mode_delay, pinned_message_id,
		 linked_chat_id, can_send_messages, access_status, error_message, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (identifier) DO UPDATE SET
		 chat_id = EXCLUDED.chat_id, title = EXCLUDED.title, handle = EXCLUDED.handle,
		 member_count = EXCLUDED.member_count, member_count_source = EXCLUDED.member_count_source,
		 chat_type = EXCLUDED.chat_type, created_at = EXCLUDED.created_at,
		 checked_at = EXCLUDED.checked_at, online_count = EXCLUDED.online_count,
		 slow_mode_delay = EXCLUDED.slow_mode_delay, pinned_message_id = EXCLUDED.pinned_message_id,
		 linked_chat_id = EXCLUDED.linked_chat_id, can_send_messages = EXCLUDED.can_send_messages,
		 access_status = EXCLUDED.access_status, error_message = EXCLUDED.error_message,
		 attempts = EXCLUDED.attempts`
}

// Name implements core.ResultSink.
func (p *Postgres) Name() string { return "postgres" }

// Write implements core.ResultSink, sending records in batches.
func (p *Postgres) Write(ctx context.Context, recs []*core.FetchRecord) error {
	query := upsertSQL(p.table)
	for i := 0; i < len(recs); i += p.batchSize {
		j := min(i+p.batchSize, len(recs))

		b := &pgx.Batch{}
		for _, r := range recs[i:j] {
			b.Queue(query, upsertArgs(r)...)
		}
		br := p.pool.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upserting into %s: %w", p.table, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing batch: %w", err)
		}

		p.mu.Lock()
		p.written += b.Len()
		p.mu.Unlock()
	}
	return nil
}

// Close implements core.ResultSink.
func (p *Postgres) Close(_ context.Context) error {
	p.mu.Lock()
	written := p.written
	p.mu.Unlock()
	p.logger.Info("postgres mirror closed", "table", p.table, "rows", written)
	p.pool.Close()
	return nil
}

func upsertArgs(r *core.FetchRecord) []any {
	var chatID *int64
	if r.ResolvedID != 0 {
		chatID = &r.ResolvedID
	} else if r.Identifier.ID != 0 {
		id := r.Identifier.ID
		chatID = &id
	}
	return []any{
		r.Identifier.Key(),
		chatID,
		nullIfEmpty(r.Title),
		nullIfEmpty(r.Handle),
		r.MemberCount,
		nullIfEmpty(r.MemberCountSource),
		nullIfEmpty(string(r.ChatKind)),
		r.CreatedAt,
		r.CheckedAt,
		r.OnlineCount,
		r.SlowModeDelay,
		r.PinnedMessageID,
		r.LinkedChatID,
		nullIfEmpty(string(r.CanSend)),
		string(r.AccessStatus),
		nullIfEmpty(core.TruncateMessage(r.ErrorMessage)),
		r.Attempts,
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
