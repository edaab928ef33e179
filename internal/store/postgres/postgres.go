// Package postgres provides the Postgres-backed DocumentStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trendwire/ingest/internal/signal"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists documents, chunks, trends, and runs in Postgres.
type Store struct {
	pool dbConn
	now  func() time.Time
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbConn) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const docColumns = `doc_id, source_id, source_title, source_url, canonical_url, title, summary,
cleaned_text, content_hash, fingerprint, published_at, retrieved_at, language, category,
tags, signal_tags, entities, freshness_score, reliability_score,
stale, stale_reason, expired, expiry_summary, cluster_id, cluster_label, day_key`

// UpsertDocument inserts or replaces a document row keyed by doc_id.
func (s *Store) UpsertDocument(ctx context.Context, doc signal.Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("doc_id is required")
	}
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	signalTags, err := json.Marshal(doc.SignalTags)
	if err != nil {
		return fmt.Errorf("marshal signal tags: %w", err)
	}
	entities, err := json.Marshal(doc.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	expiry, err := json.Marshal(doc.ExpirySummary)
	if err != nil {
		return fmt.Errorf("marshal expiry summary: %w", err)
	}

	query := `
INSERT INTO documents (` + docColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
ON CONFLICT (doc_id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	source_title = EXCLUDED.source_title,
	source_url = EXCLUDED.source_url,
	canonical_url = EXCLUDED.canonical_url,
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	cleaned_text = EXCLUDED.cleaned_text,
	content_hash = EXCLUDED.content_hash,
	fingerprint = EXCLUDED.fingerprint,
	published_at = EXCLUDED.published_at,
	retrieved_at = EXCLUDED.retrieved_at,
	language = EXCLUDED.language,
	category = EXCLUDED.category,
	tags = EXCLUDED.tags,
	signal_tags = EXCLUDED.signal_tags,
	entities = EXCLUDED.entities,
	freshness_score = EXCLUDED.freshness_score,
	reliability_score = EXCLUDED.reliability_score,
	stale = EXCLUDED.stale,
	stale_reason = EXCLUDED.stale_reason,
	expired = EXCLUDED.expired,
	expiry_summary = EXCLUDED.expiry_summary,
	cluster_id = EXCLUDED.cluster_id,
	cluster_label = EXCLUDED.cluster_label,
	day_key = EXCLUDED.day_key`

	args := []any{
		doc.DocID, doc.SourceID, doc.SourceTitle, doc.SourceURL, doc.CanonicalURL, doc.Title, doc.Summary,
		doc.CleanedText, doc.ContentHash, doc.Fingerprint, doc.PublishedAt, doc.RetrievedAt, doc.Language, doc.Category,
		tags, signalTags, entities, doc.FreshnessScore, doc.ReliabilityScore,
		doc.Stale, doc.StaleReason, doc.Expired, expiry, doc.ClusterID, doc.ClusterLabel, doc.DayKey,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// GetDocumentByHash fetches a document by content hash, optionally scoped to
// a collection.
func (s *Store) GetDocumentByHash(ctx context.Context, hash, collectionID string) (signal.Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE content_hash = $1 AND ($2 = '' OR category = $2) LIMIT 1`
	return s.scanDocument(s.pool.QueryRow(ctx, query, hash, collectionID))
}

// GetDocumentByURL fetches a document by canonical URL.
func (s *Store) GetDocumentByURL(ctx context.Context, url string) (signal.Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE canonical_url = $1 LIMIT 1`
	return s.scanDocument(s.pool.QueryRow(ctx, query, url))
}

// ListDedupCandidates returns recent non-expired dedup projections, newest
// first.
func (s *Store) ListDedupCandidates(ctx context.Context, filter signal.CandidateFilter) ([]signal.DedupCandidate, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1500
	}
	cutoff := time.Time{}
	if filter.SinceHours > 0 {
		cutoff = s.now().Add(-time.Duration(filter.SinceHours) * time.Hour)
	}
	query := `
SELECT canonical_url, content_hash, fingerprint, category
FROM documents
WHERE NOT expired
  AND ($1::timestamptz IS NULL OR retrieved_at >= $1)
  AND ($2 = '' OR category = $2)
ORDER BY retrieved_at DESC
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, nullTime(cutoff), filter.CollectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []signal.DedupCandidate
	for rows.Next() {
		var cand signal.DedupCandidate
		if err := rows.Scan(&cand.CanonicalURL, &cand.ContentHash, &cand.Fingerprint, &cand.CollectionID); err != nil {
			return nil, fmt.Errorf("scan dedup candidate: %w", err)
		}
		out = append(out, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dedup candidates: %w", err)
	}
	return out, nil
}

// UpdateDocument applies a partial update built from the patch's non-nil
// fields.
func (s *Store) UpdateDocument(ctx context.Context, docID string, patch signal.DocumentPatch) error {
	sets := make([]string, 0, 8)
	args := []any{docID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.FreshnessScore != nil {
		add("freshness_score", *patch.FreshnessScore)
	}
	if patch.Stale != nil {
		add("stale", *patch.Stale)
		if !*patch.Stale && patch.StaleReason == nil {
			add("stale_reason", "")
		}
	}
	if patch.StaleReason != nil {
		add("stale_reason", *patch.StaleReason)
	}
	if patch.Expired != nil {
		add("expired", *patch.Expired)
	}
	if patch.ExpirySummary != nil {
		blob, err := json.Marshal(patch.ExpirySummary)
		if err != nil {
			return fmt.Errorf("marshal expiry summary: %w", err)
		}
		add("expiry_summary", blob)
	}
	if patch.CleanedText != nil {
		add("cleaned_text", *patch.CleanedText)
	}
	if patch.ClusterID != nil {
		add("cluster_id", *patch.ClusterID)
	}
	if patch.ClusterLabel != nil {
		add("cluster_label", *patch.ClusterLabel)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE documents SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE doc_id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return signal.ErrNotFound
	}
	return nil
}

// ListDocuments returns documents matching the filter, newest first.
func (s *Store) ListDocuments(ctx context.Context, filter signal.DocumentFilter) ([]signal.Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 2000
	}
	query := `
SELECT ` + docColumns + `
FROM documents
WHERE ($1 OR NOT stale)
  AND ($2 OR NOT expired)
  AND ($3 = '' OR category = $3)
  AND ($4 = '' OR source_id = $4)
  AND ($5::timestamptz IS NULL OR retrieved_at >= $5)
ORDER BY retrieved_at DESC
LIMIT $6`
	rows, err := s.pool.Query(ctx, query,
		filter.IncludeStale, filter.IncludeExpired, filter.CollectionID, filter.SourceID, nullTime(filter.Since), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []signal.Document
	for rows.Next() {
		doc, err := s.scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// UpsertChunks replaces the chunk rows for a document.
func (s *Store) UpsertChunks(ctx context.Context, docID string, chunks []signal.Chunk) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for _, chunk := range chunks {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO document_chunks (doc_id, chunk_index, chunk_text) VALUES ($1, $2, $3)`,
			docID, chunk.Index, chunk.Text,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}
	return nil
}

// DeleteDocumentChunks drops all chunk rows for a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, docID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// ReplaceTrends swaps the trend set wholesale for a new run.
func (s *Store) ReplaceTrends(ctx context.Context, runID string, trends []signal.Trend) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM trends`); err != nil {
		return fmt.Errorf("clear trends: %w", err)
	}
	for _, trend := range trends {
		entities, err := json.Marshal(trend.TopEntities)
		if err != nil {
			return fmt.Errorf("marshal trend entities: %w", err)
		}
		tickers, err := json.Marshal(trend.TopTickers)
		if err != nil {
			return fmt.Errorf("marshal trend tickers: %w", err)
		}
		tags, err := json.Marshal(trend.SignalTags)
		if err != nil {
			return fmt.Errorf("marshal trend tags: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `
INSERT INTO trends (run_id, cluster_id, label, representative_doc_id, representative_title,
top_entities, top_tickers, signal_tags, doc_count, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			runID, trend.ClusterID, trend.Label, trend.RepresentativeDocID, trend.RepresentativeTitle,
			entities, tickers, tags, trend.DocCount, trend.Note,
		); err != nil {
			return fmt.Errorf("insert trend %s: %w", trend.ClusterID, err)
		}
	}
	return nil
}

// ListTrends returns the trends for a run, or the latest set when runID is
// empty.
func (s *Store) ListTrends(ctx context.Context, runID string) ([]signal.Trend, error) {
	query := `
SELECT cluster_id, label, representative_doc_id, representative_title,
top_entities, top_tickers, signal_tags, doc_count, note
FROM trends
WHERE ($1 = '' OR run_id = $1)
ORDER BY doc_count DESC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list trends: %w", err)
	}
	defer rows.Close()

	var out []signal.Trend
	for rows.Next() {
		var trend signal.Trend
		var entities, tickers, tags []byte
		if err := rows.Scan(&trend.ClusterID, &trend.Label, &trend.RepresentativeDocID, &trend.RepresentativeTitle,
			&entities, &tickers, &tags, &trend.DocCount, &trend.Note); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		if err := unmarshalStrings(entities, &trend.TopEntities); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(tickers, &trend.TopTickers); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(tags, &trend.SignalTags); err != nil {
			return nil, err
		}
		out = append(out, trend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trends: %w", err)
	}
	return out, nil
}

// RecordRun inserts a new run row.
func (s *Store) RecordRun(ctx context.Context, report signal.RunReport) error {
	errsJSON, sourcesJSON, err := marshalRunDetails(report)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO runs (run_id, status, started_at, finished_at, ingested, skipped, expired, stale, errors, sources, log_path)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		report.RunID, string(report.Status), report.StartedAt, nullTime(report.FinishedAt),
		report.Ingested, report.Skipped, report.Expired, report.Stale, errsJSON, sourcesJSON, report.LogPath,
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// UpdateRun replaces the mutable fields of a run row.
func (s *Store) UpdateRun(ctx context.Context, report signal.RunReport) error {
	errsJSON, sourcesJSON, err := marshalRunDetails(report)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET status = $2, finished_at = $3, ingested = $4, skipped = $5, expired = $6, stale = $7,
errors = $8, sources = $9, log_path = $10
WHERE run_id = $1`,
		report.RunID, string(report.Status), nullTime(report.FinishedAt),
		report.Ingested, report.Skipped, report.Expired, report.Stale, errsJSON, sourcesJSON, report.LogPath,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return signal.ErrNotFound
	}
	return nil
}

// GetRun fetches a run row by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (signal.RunReport, error) {
	var report signal.RunReport
	var status string
	var finishedAt *time.Time
	var errsJSON, sourcesJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT run_id, status, started_at, finished_at, ingested, skipped, expired, stale, errors, sources, log_path
FROM runs WHERE run_id = $1`, runID).Scan(
		&report.RunID, &status, &report.StartedAt, &finishedAt,
		&report.Ingested, &report.Skipped, &report.Expired, &report.Stale,
		&errsJSON, &sourcesJSON, &report.LogPath,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return signal.RunReport{}, signal.ErrNotFound
	}
	if err != nil {
		return signal.RunReport{}, fmt.Errorf("get run: %w", err)
	}
	report.Status = signal.RunStatus(status)
	if finishedAt != nil {
		report.FinishedAt = *finishedAt
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &report.Errors); err != nil {
			return signal.RunReport{}, fmt.Errorf("unmarshal run errors: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &report.Sources); err != nil {
			return signal.RunReport{}, fmt.Errorf("unmarshal run sources: %w", err)
		}
	}
	return report, nil
}

func (s *Store) scanDocument(row pgx.Row) (signal.Document, error) {
	doc, err := scanDoc(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return signal.Document{}, signal.ErrNotFound
	}
	if err != nil {
		return signal.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (s *Store) scanDocumentRow(rows pgx.Rows) (signal.Document, error) {
	doc, err := scanDoc(rows)
	if err != nil {
		return signal.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func scanDoc(row pgx.Row) (signal.Document, error) {
	var doc signal.Document
	var tags, signalTags, entities, expiry []byte
	err := row.Scan(
		&doc.DocID, &doc.SourceID, &doc.SourceTitle, &doc.SourceURL, &doc.CanonicalURL, &doc.Title, &doc.Summary,
		&doc.CleanedText, &doc.ContentHash, &doc.Fingerprint, &doc.PublishedAt, &doc.RetrievedAt, &doc.Language, &doc.Category,
		&tags, &signalTags, &entities, &doc.FreshnessScore, &doc.ReliabilityScore,
		&doc.Stale, &doc.StaleReason, &doc.Expired, &expiry, &doc.ClusterID, &doc.ClusterLabel, &doc.DayKey,
	)
	if err != nil {
		return signal.Document{}, err
	}
	if err := unmarshalStrings(tags, &doc.Tags); err != nil {
		return signal.Document{}, err
	}
	if err := unmarshalStrings(signalTags, &doc.SignalTags); err != nil {
		return signal.Document{}, err
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &doc.Entities); err != nil {
			return signal.Document{}, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if err := unmarshalStrings(expiry, &doc.ExpirySummary); err != nil {
		return signal.Document{}, err
	}
	return doc, nil
}

func marshalRunDetails(report signal.RunReport) ([]byte, []byte, error) {
	errsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run errors: %w", err)
	}
	sourcesJSON, err := json.Marshal(report.Sources)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run sources: %w", err)
	}
	return errsJSON, sourcesJSON, nil
}

func unmarshalStrings(blob []byte, dst *[]string) error {
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
