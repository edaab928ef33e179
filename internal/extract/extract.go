// Package extract pulls lightweight entities out of document text: tickers,
// company names, and keyword-driven commodity, region, and event labels. The
// matching is intentionally shallow; downstream clustering does the heavier
// grouping work.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

const (
	maxTickers    = 12
	maxCompanies  = 12
	maxCommodity  = 10
	maxRegions    = 8
	maxEventTypes = 10
	maxSignalTags = 6
)

var (
	dollarTicker   = regexp.MustCompile(`\$[A-Z]{1,5}\b`)
	exchangeTicker = regexp.MustCompile(`\b(?:NYSE|NASDAQ|NYSEARCA|AMEX)\s*:?\s*([A-Z]{1,5})\b`)
	looseTicker    = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	companyName    = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3})\s+(Inc|Corp|Co|Ltd|LLC|PLC|GmbH|SA|AG|NV|BV|Holdings|Group)\b`)
)

// tickerStopwords are uppercase words that look like symbols but are not:
// currencies, agencies, and common abbreviations.
var tickerStopwords = map[string]struct{}{
	"USD": {}, "US": {}, "EU": {}, "UK": {}, "UN": {}, "AND": {}, "FOR": {},
	"THE": {}, "A": {}, "AN": {}, "TO": {}, "OF": {}, "IN": {}, "ON": {},
	"AT": {}, "CEO": {}, "CFO": {}, "GDP": {}, "CPI": {}, "PPI": {}, "PMI": {},
	"FED": {}, "SEC": {}, "EIA": {}, "NOAA": {}, "USGS": {}, "BLS": {},
}

type rule struct {
	key   string
	words []string
}

// Rule tables are ordered slices: ties in scoring resolve by declaration
// order, keeping tag output deterministic.
var commodityRules = []rule{
	{"crude_oil", []string{"crude", "oil", "wti", "brent", "west texas"}},
	{"gasoline", []string{"gasoline", "gas", "diesel"}},
	{"natural_gas", []string{"natural gas", "nat gas", "lng", "henry hub"}},
	{"electricity", []string{"electricity", "power grid", "grid"}},
	{"coal", []string{"coal"}},
	{"copper", []string{"copper"}},
	{"gold", []string{"gold"}},
	{"silver", []string{"silver"}},
	{"wheat", []string{"wheat"}},
	{"corn", []string{"corn"}},
	{"soybeans", []string{"soy", "soybean", "soybeans"}},
	{"freight", []string{"freight", "shipping", "container", "tanker", "vessel"}},
}

var regionRules = []rule{
	{"us", []string{"u.s.", "united states", "america", "us "}},
	{"europe", []string{"europe", "eurozone", "eu"}},
	{"uk", []string{"uk", "united kingdom", "britain", "england"}},
	{"china", []string{"china", "beijing", "shanghai"}},
	{"japan", []string{"japan", "tokyo"}},
	{"india", []string{"india", "delhi"}},
	{"middle_east", []string{"middle east", "gulf", "opec"}},
	{"latin_america", []string{"latin america", "brazil", "mexico"}},
	{"africa", []string{"africa", "nigeria", "south africa"}},
	{"global", []string{"global", "worldwide"}},
}

var eventRules = []rule{
	{"strike", []string{"strike", "walkout", "labor action"}},
	{"outage", []string{"outage", "shutdown", "offline", "curtail"}},
	{"hurricane", []string{"hurricane", "tropical storm", "cyclone"}},
	{"wildfire", []string{"wildfire", "fire weather", "burn"}},
	{"drought", []string{"drought", "dry spell"}},
	{"sanctions", []string{"sanction", "embargo"}},
	{"cyber", []string{"cyber", "ransomware", "hack", "breach"}},
	{"layoffs", []string{"layoff", "job cuts", "redundancy"}},
	{"earnings", []string{"earnings", "guidance", "results", "profit"}},
	{"shipping", []string{"port", "shipping", "container", "canal", "freight", "logistics"}},
	{"inventory", []string{"inventory", "stockpile", "storage"}},
	{"regulatory", []string{"regulatory", "rule", "compliance", "policy"}},
	{"weather", []string{"storm", "tornado", "flood", "blizzard", "heat", "snow", "severe weather"}},
}

var signalRules = []rule{
	{"energy_supply", []string{"opec", "production", "refinery", "output", "supply", "inventory", "storage", "rig count", "export", "import"}},
	{"shipping_disruption", []string{"port", "shipping", "container", "canal", "logistics", "freight", "surcharge", "schedule"}},
	{"extreme_weather", []string{"tornado", "storm", "hurricane", "flood", "blizzard", "heat", "severe", "warning", "watch"}},
	{"drought_risk", []string{"drought", "dry", "low rainfall"}},
	{"wildfire_risk", []string{"wildfire", "fire weather", "smoke"}},
	{"regulatory_risk", []string{"regulatory", "rule", "ban", "sanction", "policy", "compliance"}},
	{"earnings", []string{"earnings", "guidance", "results"}},
	{"layoffs", []string{"layoff", "job cuts", "redundancy"}},
	{"cyber_incident", []string{"cyber", "ransomware", "hack", "breach"}},
	{"energy_inventory", []string{"storage", "inventory", "stockpile", "build", "draw"}},
	{"macro_indicator", []string{"cpi", "ppi", "gdp", "employment", "jobs report"}},
}

// Tickers finds candidate stock symbols: $-prefixed, exchange-qualified, and
// loose 2-5 letter uppercase runs minus known non-symbol abbreviations.
func Tickers(text string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, maxTickers)
	add := func(sym string) {
		if sym == "" {
			return
		}
		if _, ok := seen[sym]; ok {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}

	for _, m := range dollarTicker.FindAllString(text, -1) {
		add(strings.TrimPrefix(m, "$"))
	}
	for _, m := range exchangeTicker.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range looseTicker.FindAllString(text, -1) {
		if _, stop := tickerStopwords[m]; stop {
			continue
		}
		add(m)
	}
	if len(out) > maxTickers {
		out = out[:maxTickers]
	}
	return out
}

// Companies finds capitalized names followed by a corporate legal suffix.
func Companies(text string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, maxCompanies)
	for _, m := range companyName.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1] + " " + m[2])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) > maxCompanies {
		out = out[:maxCompanies]
	}
	return out
}

// Commodities returns commodity labels whose keyword lists match the text.
func Commodities(text string) []string {
	return matchRules(text, commodityRules, maxCommodity)
}

// Regions returns region labels whose keyword lists match the text.
func Regions(text string) []string {
	return matchRules(text, regionRules, maxRegions)
}

// EventTypes returns event labels whose keyword lists match the text.
func EventTypes(text string) []string {
	return matchRules(text, eventRules, maxEventTypes)
}

func matchRules(text string, rules []rule, limit int) []string {
	lower := strings.ToLower(text)
	out := make([]string, 0, limit)
	for _, r := range rules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				out = append(out, r.key)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

// SignalTags scores each tag rule by how many of its keywords appear in the
// text and returns the top tags, highest score first.
func SignalTags(text string) []string {
	lower := strings.ToLower(text)
	type scored struct {
		tag   string
		score int
	}
	hits := make([]scored, 0, len(signalRules))
	for _, r := range signalRules {
		score := 0
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{r.key, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxSignalTags {
		hits = hits[:maxSignalTags]
	}
	tags := make([]string, len(hits))
	for i, h := range hits {
		tags[i] = h.tag
	}
	return tags
}

// Keywords returns the most frequent tokens, for cluster labels.
func Keywords(text string, limit int) []string {
	tokens := textproc.Tokenize(text)
	counts := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// Entities runs every extractor over the text.
func Entities(text string) signal.Entities {
	return signal.Entities{
		Tickers:    Tickers(text),
		Companies:  Companies(text),
		Domains:    Commodities(text),
		Regions:    Regions(text),
		EventTypes: EventTypes(text),
	}
}
