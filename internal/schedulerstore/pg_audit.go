package schedulerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepcrawl/spidercore/internal/adminapi"
	"github.com/deepcrawl/spidercore/internal/admission"
	"github.com/deepcrawl/spidercore/internal/model"
	"github.com/deepcrawl/spidercore/internal/tracing"
)

var (
	_ admission.AuditLog       = (*PgAudit)(nil)
	_ adminapi.RequestReplayer = (*PgAudit)(nil)
)

// PgAudit is an optional durable replay/audit log of admitted requests. It
// is not the hot-path queue — RedisStore remains the only thing the
// dispatcher dequeues from — PgAudit exists purely so an operator can
// later answer "what did this spider admit, and when" after the Redis
// queue itself has drained. Every method is fire-and-forget from the
// caller's point of view: a write failure is logged by the caller, never
// propagated into the admission hot path.
type PgAudit struct {
	pool *pgxpool.Pool
}

// ConnectPgAudit dials dsn and verifies connectivity, mirroring the
// teacher's internal/db.Connect pool-then-ping idiom.
func ConnectPgAudit(ctx context.Context, dsn string) (*PgAudit, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("schedulerstore: parse audit dsn: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("schedulerstore: connect audit pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schedulerstore: ping audit pool: %w", err)
	}

	return &PgAudit{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (a *PgAudit) Close() {
	a.pool.Close()
}

// Ping satisfies health.Pinger so the admin surface can report the audit
// database's reachability alongside the scheduler store and bus.
func (a *PgAudit) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// RecordAdmission appends one row per admitted request to
// spidercore.admissions, the replay/audit trail SPEC_FULL.md describes.
func (a *PgAudit) RecordAdmission(ctx context.Context, owner string, reqs []*model.Request) error {
	ctx, span := tracing.StartSpan(ctx, "pgaudit.record_admission")
	defer span.End()

	batch := make([][]any, 0, len(reqs))
	for _, r := range reqs {
		headers, err := json.Marshal(r.Headers)
		if err != nil {
			return fmt.Errorf("schedulerstore: marshal headers for audit: %w", err)
		}
		batch = append(batch, []any{r.Hash, owner, r.RequestUri, r.DownloaderType, r.Depth, r.RequestedTimes, headers, time.Now()})
	}

	tracing.AddSpanEvent(ctx, "db.insert_admissions_batch")
	_, err := a.pool.CopyFrom(
		ctx,
		[]string{"spidercore", "admissions"},
		[]string{"hash", "owner", "request_uri", "downloader_type", "depth", "requested_times", "headers", "admitted_at"},
		&pgxCopySource{rows: batch},
	)
	return err
}

// ReplayRequest looks up the most recent admission row for hash and
// returns it as a fresh model.Request, the building block behind
// spiderctl's "replay" operator workflow (SPEC_FULL.md's adaptation of
// the teacher's ReplayDelivery RPC into operational tooling rather than a
// gRPC endpoint).
func (a *PgAudit) ReplayRequest(ctx context.Context, hash string) (*model.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "pgaudit.replay_request")
	defer span.End()

	tracing.AddSpanEvent(ctx, "db.select_admission_by_hash")
	var (
		owner, uri, downloaderType string
		depth, requestedTimes      int
		headersRaw                 []byte
	)
	err := a.pool.QueryRow(ctx, `
		SELECT owner, request_uri, downloader_type, depth, requested_times, headers
		FROM spidercore.admissions
		WHERE hash = $1
		ORDER BY admitted_at DESC
		LIMIT 1`, hash).Scan(&owner, &uri, &downloaderType, &depth, &requestedTimes, &headersRaw)
	if err != nil {
		return nil, fmt.Errorf("schedulerstore: replay lookup for %q: %w", hash, err)
	}

	var headers map[string]string
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &headers); err != nil {
			return nil, fmt.Errorf("schedulerstore: unmarshal replay headers: %w", err)
		}
	}

	return &model.Request{
		Hash:           hash,
		RequestUri:     uri,
		Owner:          owner,
		DownloaderType: downloaderType,
		Depth:          depth,
		RequestedTimes: requestedTimes,
		Headers:        headers,
	}, nil
}

// pgxCopySource adapts a [][]any batch to pgx.CopyFromSource without
// requiring callers to hand-write the Values()/Err() boilerplate for each
// call site.
type pgxCopySource struct {
	rows []([]any)
	idx  int
}

func (s *pgxCopySource) Next() bool {
	s.idx++
	return s.idx <= len(s.rows)
}

func (s *pgxCopySource) Values() ([]any, error) {
	return s.rows[s.idx-1], nil
}

func (s *pgxCopySource) Err() error { return nil }
