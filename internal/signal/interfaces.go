package signal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrRunInProgress is returned when an ingestion run is requested while
// another run holds the orchestrator's run lock.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// CandidateFilter bounds a dedup candidate listing. Both bounds apply; the
// stricter one wins.
type CandidateFilter struct {
	SinceHours   int
	Limit        int
	CollectionID string
}

// DocumentFilter bounds a document listing.
type DocumentFilter struct {
	CollectionID   string
	SourceID       string
	Since          time.Time
	IncludeStale   bool
	IncludeExpired bool
	Limit          int
}

// DocumentStore persists documents, trends, and run records.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc Document) error
	GetDocumentByHash(ctx context.Context, hash, collectionID string) (Document, error)
	GetDocumentByURL(ctx context.Context, url string) (Document, error)
	ListDedupCandidates(ctx context.Context, filter CandidateFilter) ([]DedupCandidate, error)
	UpdateDocument(ctx context.Context, docID string, patch DocumentPatch) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)

	// UpsertChunks replaces the derived index entries for a document;
	// DeleteDocumentChunks removes them when the document expires.
	UpsertChunks(ctx context.Context, docID string, chunks []Chunk) error
	DeleteDocumentChunks(ctx context.Context, docID string) error

	ReplaceTrends(ctx context.Context, runID string, trends []Trend) error
	ListTrends(ctx context.Context, runID string) ([]Trend, error)

	RecordRun(ctx context.Context, report RunReport) error
	UpdateRun(ctx context.Context, report RunReport) error
	GetRun(ctx context.Context, runID string) (RunReport, error)
}

// Embedder produces an embedding vector for a text. Vectors are opaque
// fixed-length arrays consumed only for cosine-distance comparison.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits document text into embeddable slices.
type Chunker interface {
	Chunk(text string) []Chunk
}

// SourceAdapter pulls raw items for one configured source.
type SourceAdapter interface {
	FetchItems(ctx context.Context, source Source) ([]RawItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
