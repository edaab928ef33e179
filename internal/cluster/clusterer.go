package cluster

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/extract"
	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/signal"
)

const (
	labelKeywords  = 4
	maxTopEntities = 8
	maxTopTickers  = 8
	maxTrendTags   = 6
)

// Config controls a clustering pass.
type Config struct {
	ClusterCount   int
	MinClusterDocs int
	Iterations     int

	// Seed fixes the centroid initialization; zero seeds from the clock.
	Seed int64
}

// Assignment ties a document to the cluster it landed in. Only clusters that
// met the minimum size produce assignments; documents of discarded clusters
// stay unclustered.
type Assignment struct {
	DocID     string
	ClusterID string
	Label     string
}

// Result is the outcome of one clustering pass.
type Result struct {
	Trends      []signal.Trend
	Assignments []Assignment
}

// Clusterer runs k-means over document embeddings and derives trends.
type Clusterer struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Clusterer.
func New(cfg Config, logger *zap.Logger) *Clusterer {
	if cfg.ClusterCount <= 0 {
		cfg.ClusterCount = 8
	}
	if cfg.MinClusterDocs <= 0 {
		cfg.MinClusterDocs = 3
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clusterer{cfg: cfg, logger: logger}
}

// Cluster groups the embedded documents and builds a trend per cluster that
// meets the minimum size. Documents without embeddings are ignored. Clusters
// below the minimum size are discarded whole: no trend and no assignments,
// leaving their documents unclustered after the pass.
func (c *Clusterer) Cluster(docs []signal.EmbeddedDocument) Result {
	embedded := make([]signal.EmbeddedDocument, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) > 0 {
			embedded = append(embedded, doc)
		}
	}
	if len(embedded) == 0 {
		return Result{}
	}

	seed := c.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	vectors := make([][]float64, len(embedded))
	for i, doc := range embedded {
		vectors[i] = doc.Embedding
	}
	assignments := kmeans(vectors, c.cfg.ClusterCount, c.cfg.Iterations, rng)

	groups := make(map[int][]signal.EmbeddedDocument)
	for i, clusterIdx := range assignments {
		groups[clusterIdx] = append(groups[clusterIdx], embedded[i])
	}
	indices := make([]int, 0, len(groups))
	for idx := range groups {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var res Result
	labels := make(map[string]string)
	for _, idx := range indices {
		members := groups[idx]
		clusterID := fmt.Sprintf("cluster_%d", idx+1)
		if len(members) < c.cfg.MinClusterDocs {
			continue
		}
		trend := buildTrend(clusterID, idx, members)
		labels[clusterID] = trend.Label
		res.Trends = append(res.Trends, trend)
	}
	for i, clusterIdx := range assignments {
		clusterID := fmt.Sprintf("cluster_%d", clusterIdx+1)
		label, ok := labels[clusterID]
		if !ok {
			continue
		}
		res.Assignments = append(res.Assignments, Assignment{
			DocID:     embedded[i].DocID,
			ClusterID: clusterID,
			Label:     label,
		})
	}

	metrics.ObserveClusterPass(len(embedded))
	c.logger.Info("clustering pass complete",
		zap.Int("documents", len(embedded)),
		zap.Int("trends", len(res.Trends)),
	)
	return res
}

func buildTrend(clusterID string, idx int, members []signal.EmbeddedDocument) signal.Trend {
	var titles strings.Builder
	for _, doc := range members {
		titles.WriteString(doc.Title)
		titles.WriteString(" ")
	}
	keywords := extract.Keywords(titles.String(), labelKeywords)
	label := strings.Join(keywords, " ")
	if label == "" {
		label = fmt.Sprintf("Cluster %d", idx+1)
	}

	top := members[0]
	topScore := signal.ScoreFreshnessReliability(top.FreshnessScore, top.ReliabilityScore)
	for _, doc := range members[1:] {
		if s := signal.ScoreFreshnessReliability(doc.FreshnessScore, doc.ReliabilityScore); s > topScore {
			top = doc
			topScore = s
		}
	}

	var entities, tickers, tags []string
	for _, doc := range members {
		entities = dedupeAppend(entities, doc.Entities.Companies)
		entities = dedupeAppend(entities, doc.Entities.Domains)
		tickers = dedupeAppend(tickers, doc.Entities.Tickers)
		tags = dedupeAppend(tags, doc.SignalTags)
	}

	trend := signal.Trend{
		ClusterID:           clusterID,
		Label:               label,
		RepresentativeDocID: top.DocID,
		RepresentativeTitle: top.Title,
		TopEntities:         truncate(entities, maxTopEntities),
		TopTickers:          truncate(tickers, maxTopTickers),
		SignalTags:          truncate(tags, maxTrendTags),
		DocCount:            len(members),
	}
	trend.Note = trendNote(trend.SignalTags)
	return trend
}

// trendNote picks a short impact blurb for the strongest tag family present.
func trendNote(tags []string) string {
	has := make(map[string]bool, len(tags))
	for _, tag := range tags {
		has[tag] = true
	}
	switch {
	case has["energy_supply"] || has["energy_inventory"]:
		return "Energy supply and inventory signals can move fuel prices and transport costs."
	case has["shipping_disruption"]:
		return "Shipping disruptions can ripple into delivery times, inventories, and price volatility."
	case has["extreme_weather"] || has["wildfire_risk"] || has["drought_risk"]:
		return "Severe weather risk can disrupt operations, logistics, and commodity supply."
	case has["regulatory_risk"]:
		return "Regulatory shifts may impact compliance costs and sector sentiment."
	default:
		return "Monitor for second-order impacts across markets and supply chains."
	}
}

func dedupeAppend(dst []string, items []string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found && item != "" {
			dst = append(dst, item)
		}
	}
	return dst
}

func truncate(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
