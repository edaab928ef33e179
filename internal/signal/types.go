// Package signal defines core types shared across the ingestion pipeline.
package signal

import (
	"time"
)

// SourceType selects which adapter pulls raw items for a source.
type SourceType string

// Source types recognized by the adapter registry.
const (
	SourceTypeFeed   SourceType = "feed"
	SourceTypeHTML   SourceType = "html"
	SourceTypeAlert  SourceType = "alert_api"
	SourceTypeHazard SourceType = "hazard_api"
	SourceTypeSite   SourceType = "site"
)

// Source is a configured origin. Immutable during a run; mutated only by
// configuration reload.
type Source struct {
	ID          string     `json:"id" mapstructure:"id"`
	Type        SourceType `json:"type" mapstructure:"type"`
	URL         string     `json:"url" mapstructure:"url"`
	Category    string     `json:"category" mapstructure:"category"`
	Tags        []string   `json:"tags" mapstructure:"tags"`
	Reliability float64    `json:"reliability" mapstructure:"reliability"`
	Enabled     bool       `json:"enabled" mapstructure:"enabled"`
	MaxItems    int        `json:"max_items" mapstructure:"max_items"`
	Language    string     `json:"language" mapstructure:"language"`
	AllowHTML   bool       `json:"allow_html" mapstructure:"allow_html"`
}

// RawItem is the ephemeral, adapter-produced shape of a candidate document.
// It is never persisted directly.
type RawItem struct {
	SourceID     string
	SourceTitle  string
	SourceURL    string
	CanonicalURL string
	Title        string
	Summary      string
	Content      string
	PublishedAt  time.Time
	RetrievedAt  time.Time
	Language     string
	Tags         []string
}

// Entities holds the typed extraction buckets produced by the tagger.
type Entities struct {
	Tickers    []string `json:"tickers"`
	Companies  []string `json:"companies"`
	Domains    []string `json:"domains"`
	Regions    []string `json:"regions"`
	EventTypes []string `json:"event_types"`
}

// Document is the durable unit of ingestion.
type Document struct {
	DocID            string    `json:"doc_id"`
	SourceID         string    `json:"source_id"`
	SourceTitle      string    `json:"source_title"`
	SourceURL        string    `json:"source_url"`
	CanonicalURL     string    `json:"canonical_url"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	CleanedText      string    `json:"cleaned_text"`
	ContentHash      string    `json:"content_hash"`
	Fingerprint      string    `json:"fingerprint"`
	PublishedAt      time.Time `json:"published_at"`
	RetrievedAt      time.Time `json:"retrieved_at"`
	Language         string    `json:"language"`
	Category         string    `json:"category"`
	Tags             []string  `json:"tags"`
	SignalTags       []string  `json:"signal_tags"`
	Entities         Entities  `json:"entities"`
	FreshnessScore   float64   `json:"freshness_score"`
	ReliabilityScore float64   `json:"reliability_score"`
	Stale            bool      `json:"stale"`
	StaleReason      string    `json:"stale_reason,omitempty"`
	Expired          bool      `json:"expired"`
	ExpirySummary    []string  `json:"expiry_summary,omitempty"`
	ClusterID        string    `json:"cluster_id,omitempty"`
	ClusterLabel     string    `json:"cluster_label,omitempty"`
	DayKey           string    `json:"day_key"`
}

// DocumentPatch carries partial updates applied by curation, clustering, and
// quota enforcement. Nil fields are left untouched.
type DocumentPatch struct {
	FreshnessScore *float64
	Stale          *bool
	StaleReason    *string
	Expired        *bool
	ExpirySummary  []string
	CleanedText    *string
	ClusterID      *string
	ClusterLabel   *string
}

// DedupCandidate is a lightweight projection kept in the rolling dedup window.
type DedupCandidate struct {
	CanonicalURL string `json:"canonical_url"`
	ContentHash  string `json:"content_hash"`
	Fingerprint  string `json:"fingerprint"`
	CollectionID string `json:"collection_id"`
}

// Trend is a named cluster of related documents, created fresh each
// clustering pass and superseded wholesale by the next.
type Trend struct {
	ClusterID           string   `json:"cluster_id"`
	Label               string   `json:"label"`
	RepresentativeDocID string   `json:"representative_doc_id"`
	RepresentativeTitle string   `json:"representative_title"`
	TopEntities         []string `json:"top_entities"`
	TopTickers          []string `json:"top_tickers"`
	SignalTags          []string `json:"signal_tags"`
	DocCount            int      `json:"doc_count"`
	Note                string   `json:"note"`
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

// Run status values persisted in run records.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusError   RunStatus = "error"
)

// SourceStats tracks per-source progress within a run.
type SourceStats struct {
	SourceID string   `json:"source_id"`
	Pulled   int      `json:"pulled"`
	Ingested int      `json:"ingested"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// RunError records a source-scoped failure that did not abort the run.
type RunError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// RunReport is the durable, operator-facing record of one ingestion run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Status     RunStatus     `json:"status"`
	Ingested   int           `json:"ingested"`
	Skipped    int           `json:"skipped"`
	Expired    int           `json:"expired"`
	Stale      int           `json:"stale"`
	Errors     []RunError    `json:"errors,omitempty"`
	Sources    []SourceStats `json:"sources"`
	LogPath    string        `json:"log_path,omitempty"`
}

// Chunk is one embeddable slice of a document body.
type Chunk struct {
	Text  string
	Index int
}

// EmbeddedDocument pairs a persisted document with its run-scoped embedding.
type EmbeddedDocument struct {
	Document
	Embedding []float64
}

// ScoreFreshnessReliability blends freshness and source reliability into the
// ranking score used for cluster representatives and quota demotion.
func ScoreFreshnessReliability(freshness, reliability float64) float64 {
	return freshness * (0.6 + 0.4*reliability)
}

// DayKey renders the quota grouping key for a timestamp.
func DayKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// IsEvergreen reports whether the document is exempt from expiration.
func IsEvergreen(doc Document) bool {
	for _, tag := range doc.Tags {
		if tag == "evergreen" || tag == "reference" {
			return true
		}
	}
	return false
}
