package mapper

import (
	"sort"
	"strings"

	"costshub/internal/costmodel"
)

// DefaultFuzzyThreshold is the minimum token overlap for a FUZZY match.
const DefaultFuzzyThreshold = 0.6

// vendor tokens carry no signal about what a service does
var vendorTokens = map[string]struct{}{
	"amazon":    {},
	"aws":       {},
	"azure":     {},
	"microsoft": {},
	"google":    {},
}

// Mapper resolves provider-native service names to unified categories.
// Mapping is deterministic and side-effect-free: identical inputs always
// resolve identically, which downstream threshold comparisons rely on.
type Mapper struct {
	fuzzyThreshold float64
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithFuzzyThreshold overrides the minimum token overlap for FUZZY matches.
func WithFuzzyThreshold(t float64) Option {
	return func(m *Mapper) {
		m.fuzzyThreshold = t
	}
}

// New creates a Mapper with the built-in service tables.
func New(opts ...Option) *Mapper {
	m := &Mapper{fuzzyThreshold: DefaultFuzzyThreshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map resolves a raw service name to a unified category and a confidence
// level. It never errors: the worst case is (OTHER, UNKNOWN). Consumers must
// treat UNKNOWN specially — excluded from high-confidence category roll-ups
// but still included in total-cost sums.
func (m *Mapper) Map(provider costmodel.Provider, rawName string) (costmodel.Category, costmodel.Confidence) {
	rawName = strings.TrimSpace(rawName)
	if rawName == "" {
		return costmodel.CategoryOther, costmodel.ConfidenceUnknown
	}

	// Literal table hit
	if cat, ok := exactTable[provider][rawName]; ok {
		return cat, costmodel.ConfidenceExact
	}

	normalized := normalize(rawName)

	// Known synonym
	if cat, ok := aliasTable[provider][normalized]; ok {
		return cat, costmodel.ConfidenceAlias
	}

	// A normalized form of an exact key also counts as an alias hit;
	// billing exports vary in casing and punctuation between API versions.
	for name, cat := range exactTable[provider] {
		if normalize(name) == normalized {
			return cat, costmodel.ConfidenceAlias
		}
	}

	// Token-overlap similarity against all known names for this provider
	if cat, ok := m.fuzzyMatch(provider, normalized); ok {
		return cat, costmodel.ConfidenceFuzzy
	}

	return costmodel.CategoryOther, costmodel.ConfidenceUnknown
}

// fuzzyMatch finds the known service name with the highest token overlap.
// Candidates are visited in sorted order so ties break deterministically.
func (m *Mapper) fuzzyMatch(provider costmodel.Provider, normalized string) (costmodel.Category, bool) {
	target := tokenize(normalized)
	if len(target) == 0 {
		return "", false
	}

	type candidate struct {
		name string
		cat  costmodel.Category
	}
	var candidates []candidate
	for name, cat := range exactTable[provider] {
		candidates = append(candidates, candidate{normalize(name), cat})
	}
	for name, cat := range aliasTable[provider] {
		candidates = append(candidates, candidate{name, cat})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].name < candidates[j].name
	})

	bestScore := 0.0
	var bestCat costmodel.Category
	for _, c := range candidates {
		score := tokenOverlap(target, tokenize(c.name))
		if score > bestScore {
			bestScore = score
			bestCat = c.cat
		}
	}

	if bestScore >= m.fuzzyThreshold {
		return bestCat, true
	}
	return "", false
}

// Equivalent is one provider's name for a service in a unified category.
type Equivalent struct {
	Provider    costmodel.Provider `json:"provider"`
	ServiceName string             `json:"service_name"`
	Category    costmodel.Category `json:"category"`
}

// EquivalentServices answers "what is this service called on other providers"
// by round-tripping through the unified category. An UNKNOWN mapping yields an
// empty result rather than a misleading guess.
func (m *Mapper) EquivalentServices(rawName string, source costmodel.Provider, targets []costmodel.Provider) []Equivalent {
	cat, conf := m.Map(source, rawName)
	if conf == costmodel.ConfidenceUnknown {
		return nil
	}

	var out []Equivalent
	for _, target := range targets {
		if target == source {
			continue
		}
		var names []string
		for name, c := range exactTable[target] {
			if c == cat {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, Equivalent{Provider: target, ServiceName: name, Category: cat})
		}
	}
	return out
}

// normalize lowercases a name and strips punctuation, collapsing runs of
// non-alphanumeric characters into single spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenize splits a normalized name into its significant tokens, dropping
// vendor words that appear in nearly every billing line.
func tokenize(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if _, vendor := vendorTokens[tok]; vendor {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// tokenOverlap computes the Jaccard index of two token sets.
func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
