// Package memory provides an in-memory DocumentStore for development and
// tests. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trendwire/ingest/internal/signal"
)

// Store keeps documents, chunks, trends, and run records in process memory.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]signal.Document
	chunks map[string][]signal.Chunk
	trends []signal.Trend
	runID  string
	runs   map[string]signal.RunReport
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		docs:   make(map[string]signal.Document),
		chunks: make(map[string][]signal.Chunk),
		runs:   make(map[string]signal.RunReport),
	}
}

// UpsertDocument inserts or replaces a document by its ID.
func (s *Store) UpsertDocument(_ context.Context, doc signal.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.DocID] = doc
	return nil
}

// GetDocumentByHash finds a document by content hash, optionally scoped to a
// collection.
func (s *Store) GetDocumentByHash(_ context.Context, hash, collectionID string) (signal.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.ContentHash != hash {
			continue
		}
		if collectionID != "" && doc.Category != collectionID {
			continue
		}
		return doc, nil
	}
	return signal.Document{}, signal.ErrNotFound
}

// GetDocumentByURL finds a document by canonical URL.
func (s *Store) GetDocumentByURL(_ context.Context, url string) (signal.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.CanonicalURL == url && url != "" {
			return doc, nil
		}
	}
	return signal.Document{}, signal.ErrNotFound
}

// ListDedupCandidates returns recent non-expired documents projected to their
// dedup keys, newest first, bounded by both the time window and the count
// limit.
func (s *Store) ListDedupCandidates(_ context.Context, filter signal.CandidateFilter) ([]signal.DedupCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if filter.SinceHours > 0 {
		cutoff = time.Now().Add(-time.Duration(filter.SinceHours) * time.Hour)
	}
	docs := make([]signal.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.Expired {
			continue
		}
		if filter.CollectionID != "" && doc.Category != filter.CollectionID {
			continue
		}
		if !cutoff.IsZero() && doc.RetrievedAt.Before(cutoff) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].RetrievedAt.After(docs[j].RetrievedAt) })
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	out := make([]signal.DedupCandidate, len(docs))
	for i, doc := range docs {
		out[i] = signal.DedupCandidate{
			CanonicalURL: doc.CanonicalURL,
			ContentHash:  doc.ContentHash,
			Fingerprint:  doc.Fingerprint,
			CollectionID: doc.Category,
		}
	}
	return out, nil
}

// UpdateDocument applies a partial update. Unknown IDs return ErrNotFound.
func (s *Store) UpdateDocument(_ context.Context, docID string, patch signal.DocumentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return signal.ErrNotFound
	}
	if patch.FreshnessScore != nil {
		doc.FreshnessScore = *patch.FreshnessScore
	}
	if patch.Stale != nil {
		doc.Stale = *patch.Stale
		if !*patch.Stale {
			doc.StaleReason = ""
		}
	}
	if patch.StaleReason != nil {
		doc.StaleReason = *patch.StaleReason
	}
	if patch.Expired != nil {
		doc.Expired = *patch.Expired
	}
	if patch.ExpirySummary != nil {
		doc.ExpirySummary = patch.ExpirySummary
	}
	if patch.CleanedText != nil {
		doc.CleanedText = *patch.CleanedText
	}
	if patch.ClusterID != nil {
		doc.ClusterID = *patch.ClusterID
	}
	if patch.ClusterLabel != nil {
		doc.ClusterLabel = *patch.ClusterLabel
	}
	s.docs[docID] = doc
	return nil
}

// ListDocuments returns documents matching the filter, newest first.
func (s *Store) ListDocuments(_ context.Context, filter signal.DocumentFilter) ([]signal.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if !filter.IncludeExpired && doc.Expired {
			continue
		}
		if !filter.IncludeStale && doc.Stale {
			continue
		}
		if filter.CollectionID != "" && doc.Category != filter.CollectionID {
			continue
		}
		if filter.SourceID != "" && doc.SourceID != filter.SourceID {
			continue
		}
		if !filter.Since.IsZero() && doc.RetrievedAt.Before(filter.Since) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetrievedAt.After(out[j].RetrievedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpsertChunks replaces the chunk set for a document.
func (s *Store) UpsertChunks(_ context.Context, docID string, chunks []signal.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[docID] = append([]signal.Chunk(nil), chunks...)
	return nil
}

// DeleteDocumentChunks drops all chunks for a document.
func (s *Store) DeleteDocumentChunks(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, docID)
	return nil
}

// ChunkCount reports the stored chunk count for a document.
func (s *Store) ChunkCount(docID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[docID])
}

// ReplaceTrends swaps the full trend set for the given run.
func (s *Store) ReplaceTrends(_ context.Context, runID string, trends []signal.Trend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends = append([]signal.Trend(nil), trends...)
	s.runID = runID
	return nil
}

// ListTrends returns the trends for a run ID, or the latest set when runID is
// empty.
func (s *Store) ListTrends(_ context.Context, runID string) ([]signal.Trend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if runID != "" && runID != s.runID {
		return nil, nil
	}
	return append([]signal.Trend(nil), s.trends...), nil
}

// RecordRun stores a new run report.
func (s *Store) RecordRun(_ context.Context, report signal.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.RunID] = report
	return nil
}

// UpdateRun replaces a run report.
func (s *Store) UpdateRun(_ context.Context, report signal.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[report.RunID]; !ok {
		return signal.ErrNotFound
	}
	s.runs[report.RunID] = report
	return nil
}

// GetRun fetches a run report by ID.
func (s *Store) GetRun(_ context.Context, runID string) (signal.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.runs[runID]
	if !ok {
		return signal.RunReport{}, signal.ErrNotFound
	}
	return report, nil
}
