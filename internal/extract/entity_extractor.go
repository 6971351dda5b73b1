package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// Property keys attached to extracted entity candidates.
const (
	// PropChunkID records the chunk a candidate was extracted from.
	PropChunkID = "chunk_id"

	// PropMatchKind records how the candidate matched (dictionary,
	// structural, keyword).
	PropMatchKind = "match"

	// PropTokenOffset records the token index of the first mention. The
	// relationship extractor reads it to compute co-occurrence distance.
	PropTokenOffset = "token_offset"
)

// EntityExtractor turns a chunk of text into entity candidates by applying
// the pattern table in order. It holds no mutable state after construction,
// so a single instance can serve a whole worker pool.
type EntityExtractor struct {
	table         *PatternTable
	minConfidence float64

	// keywordRes caches one word-boundary matcher per dictionary keyword,
	// indexed parallel to the rule list.
	keywordRes [][]*regexp.Regexp
}

// NewEntityExtractor creates an extractor over the given pattern table.
// Candidates below minConfidence are discarded.
func NewEntityExtractor(table *PatternTable, minConfidence float64) *EntityExtractor {
	x := &EntityExtractor{
		table:         table,
		minConfidence: minConfidence,
		keywordRes:    make([][]*regexp.Regexp, len(table.Rules())),
	}

	for i, rule := range table.Rules() {
		if len(rule.Keywords) == 0 {
			continue
		}
		res := make([]*regexp.Regexp, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			res[j] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		}
		x.keywordRes[i] = res
	}

	return x
}

// candidate tracks the best match found so far for one normalized name.
type candidate struct {
	name       string
	entityType types.EntityType
	confidence float64
	kind       MatchKind
	offset     int
}

// Extract returns the entity candidates found in text. It never fails:
// malformed or empty text yields an empty slice. Identical input yields an
// identical output set in identical order (rules are applied in fixed order
// and results are sorted by first-mention offset, then name).
//
// Within one chunk, candidates sharing a normalized name are deduplicated
// keeping the highest confidence; confidence ties keep the earlier rule.
// This collapses cross-type shadows such as "Acme Corp" matching both the
// organization suffix pattern and the capitalized-pair person pattern.
func (x *EntityExtractor) Extract(text, chunkID string, ts time.Time) []*types.Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	best := make(map[string]*candidate)

	for i, rule := range x.table.Rules() {
		if rule.Pattern != nil {
			x.matchStructural(text, rule, best)
		}
		for _, re := range x.keywordRes[i] {
			x.matchKeyword(text, rule, re, best)
		}
	}

	var out []*types.Entity
	for _, c := range best {
		if c.confidence < x.minConfidence {
			continue
		}
		e := types.NewEntity(c.name, c.entityType, c.confidence, ts)
		e.SetProperty(PropChunkID, chunkID)
		e.SetProperty(PropMatchKind, string(c.kind))
		e.SetProperty(PropTokenOffset, tokenOffset(text, c.offset))
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		oi := out[i].Properties[PropTokenOffset].(int)
		oj := out[j].Properties[PropTokenOffset].(int)
		if oi != oj {
			return oi < oj
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// matchStructural applies one regex rule and folds its matches into best.
func (x *EntityExtractor) matchStructural(text string, rule Rule, best map[string]*candidate) {
	for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2*rule.Group], loc[2*rule.Group+1]
		if start < 0 || end <= start {
			continue
		}
		addCandidate(best, text[start:end], rule, start)
	}
}

// matchKeyword applies one dictionary keyword matcher, keeping the surface
// form as it appears in the text.
func (x *EntityExtractor) matchKeyword(text string, rule Rule, re *regexp.Regexp, best map[string]*candidate) {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return
	}
	addCandidate(best, text[loc[0]:loc[1]], rule, loc[0])
}

// addCandidate records a match, keeping the highest-confidence candidate per
// normalized name. On a confidence tie the existing (earlier-rule) candidate
// wins; repeated mentions from the same rule keep the earliest offset.
func addCandidate(best map[string]*candidate, raw string, rule Rule, offset int) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return
	}
	key := types.NormalizeName(name)

	existing, ok := best[key]
	if !ok {
		best[key] = &candidate{
			name:       name,
			entityType: rule.Type,
			confidence: rule.Confidence,
			kind:       rule.Kind,
			offset:     offset,
		}
		return
	}

	if rule.Confidence > existing.confidence {
		existing.name = name
		existing.entityType = rule.Type
		existing.confidence = rule.Confidence
		existing.kind = rule.Kind
		existing.offset = offset
		return
	}

	if rule.Confidence == existing.confidence && rule.Type == existing.entityType && offset < existing.offset {
		existing.offset = offset
	}
}

// tokenOffset returns the index of the token starting at or after byte
// offset off, counted in whitespace-separated tokens.
func tokenOffset(text string, off int) int {
	if off <= 0 {
		return 0
	}
	if off > len(text) {
		off = len(text)
	}
	return len(strings.Fields(text[:off]))
}
