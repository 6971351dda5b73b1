// Package extract turns chunk text into entity and relationship candidates
// using a data-driven pattern table: ordered structural regexes plus curated
// keyword dictionaries, each with a base confidence. Extraction is pure and
// deterministic, so chunks can be processed concurrently without shared state.
package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmadden/trellis/pkg/types"
)

// MatchKind describes how a rule matches text, which determines its base
// confidence tier: curated dictionary > structural pattern > bare keyword.
type MatchKind string

const (
	// MatchDictionary is an exact hit in a curated keyword dictionary.
	MatchDictionary MatchKind = "dictionary"

	// MatchStructural is a multi-word structural regex match.
	MatchStructural MatchKind = "structural"

	// MatchKeyword is a single generic keyword hit, the weakest signal.
	MatchKeyword MatchKind = "keyword"
)

// Base confidence per match tier.
const (
	ConfidenceDictionary = 0.8
	ConfidenceSuffix     = 0.75
	ConfidenceStructural = 0.65
	ConfidenceKeyword    = 0.5
)

// Rule is one entry in the pattern table. Either Pattern or Keywords is set,
// never both.
type Rule struct {
	Type       types.EntityType
	Kind       MatchKind
	Confidence float64

	// Pattern is a compiled structural regex. Group selects the submatch
	// that names the entity (0 = whole match).
	Pattern *regexp.Regexp
	Group   int

	// Keywords is a curated dictionary, stored lowercase. Matching is
	// case-insensitive on word boundaries.
	Keywords []string
}

// PatternTable holds the ordered extraction rules. Rule order matters: on a
// same-name tie the earlier rule wins, which is how suffix organizations like
// "Acme Corp" shadow the capitalized-pair person pattern.
type PatternTable struct {
	rules []Rule
}

// Rules returns the ordered rule list.
func (t *PatternTable) Rules() []Rule {
	return t.rules
}

// DefaultPatternTable builds the built-in rule set. The table is immutable
// after construction; extractors share it across goroutines.
func DefaultPatternTable() *PatternTable {
	return &PatternTable{rules: []Rule{
		{
			Type:       types.EntityOrganization,
			Kind:       MatchStructural,
			Confidence: ConfidenceSuffix,
			Pattern:    regexp.MustCompile(`\b([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+(?:Inc|LLC|Ltd|Corp|Corporation|Company|Group|Labs|Foundation))\b`),
			Group:      1,
		},
		{
			Type:       types.EntityProject,
			Kind:       MatchStructural,
			Confidence: ConfidenceStructural,
			Pattern:    regexp.MustCompile(`\b(?:the\s+)?([A-Z][A-Za-z0-9]+)\s+[Pp]roject\b`),
			Group:      1,
		},
		{
			Type:       types.EntityProject,
			Kind:       MatchStructural,
			Confidence: ConfidenceStructural,
			Pattern:    regexp.MustCompile(`\bProject\s+([A-Z][A-Za-z0-9]+)\b`),
			Group:      1,
		},
		{
			Type:       types.EntityEvent,
			Kind:       MatchStructural,
			Confidence: ConfidenceStructural,
			Pattern:    regexp.MustCompile(`\b([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+(?:Conference|Summit|Meetup|Hackathon|Workshop))\b`),
			Group:      1,
		},
		{
			Type:       types.EntityPerson,
			Kind:       MatchStructural,
			Confidence: ConfidenceStructural,
			Pattern:    regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`),
		},
		{
			Type:       types.EntityPerson,
			Kind:       MatchStructural,
			Confidence: ConfidenceStructural,
			Pattern:    regexp.MustCompile(`\b[A-Z]\.\s*[A-Z][a-z]+\b`),
		},
		{
			Type:       types.EntityOrganization,
			Kind:       MatchDictionary,
			Confidence: ConfidenceDictionary,
			Keywords: []string{
				"google", "apple", "microsoft", "meta", "amazon",
				"openai", "deepmind", "anthropic", "netflix", "nvidia",
			},
		},
		{
			Type:       types.EntityTechnology,
			Kind:       MatchDictionary,
			Confidence: ConfidenceDictionary,
			Keywords: []string{
				"python", "javascript", "typescript", "golang", "rust",
				"kubernetes", "docker", "terraform", "postgresql", "sqlite",
				"neo4j", "redis", "kafka", "tensorflow", "pytorch",
				"react", "linux", "aws", "azure", "gcp",
			},
		},
		{
			Type:       types.EntityLocation,
			Kind:       MatchDictionary,
			Confidence: ConfidenceDictionary,
			Keywords: []string{
				"new york", "san francisco", "london", "tokyo", "berlin",
				"paris", "seattle", "amsterdam", "singapore", "sydney",
			},
		},
		{
			Type:       types.EntityConcept,
			Kind:       MatchDictionary,
			Confidence: ConfidenceDictionary,
			Keywords: []string{
				"machine learning", "deep learning", "neural network",
				"data science", "artificial intelligence",
				"natural language processing", "embeddings", "transformers",
				"vector database", "knowledge graph", "information retrieval",
				"retrieval augmented generation",
			},
		},
		{
			Type:       types.EntityConcept,
			Kind:       MatchKeyword,
			Confidence: ConfidenceKeyword,
			Keywords: []string{
				"database", "algorithm", "compiler", "protocol",
				"encryption", "pipeline", "scheduler",
			},
		},
	}}
}

// patternFile is the YAML schema for a pattern overlay file.
type patternFile struct {
	Rules []patternFileRule `yaml:"rules"`
}

type patternFileRule struct {
	Type       string   `yaml:"type"`
	Kind       string   `yaml:"kind"`
	Confidence float64  `yaml:"confidence"`
	Pattern    string   `yaml:"pattern"`
	Group      int      `yaml:"group"`
	Keywords   []string `yaml:"keywords"`
}

// LoadPatternFile reads extra rules from a YAML file and appends them to the
// defaults. It is called once at startup; the resulting table is immutable.
func LoadPatternFile(path string) (*PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	table := DefaultPatternTable()
	for i, fr := range pf.Rules {
		rule, err := buildFileRule(fr)
		if err != nil {
			return nil, fmt.Errorf("pattern file rule %d: %w", i, err)
		}
		table.rules = append(table.rules, rule)
	}

	return table, nil
}

// buildFileRule converts and validates one YAML rule entry.
func buildFileRule(fr patternFileRule) (Rule, error) {
	entityType := types.EntityType(strings.ToUpper(fr.Type))
	if !types.IsValidEntityType(entityType) {
		return Rule{}, fmt.Errorf("invalid entity type %q", fr.Type)
	}

	if fr.Pattern != "" && len(fr.Keywords) > 0 {
		return Rule{}, fmt.Errorf("rule may set pattern or keywords, not both")
	}
	if fr.Pattern == "" && len(fr.Keywords) == 0 {
		return Rule{}, fmt.Errorf("rule must set pattern or keywords")
	}

	rule := Rule{
		Type:       entityType,
		Confidence: fr.Confidence,
		Group:      fr.Group,
	}

	switch {
	case fr.Pattern != "":
		re, err := regexp.Compile(fr.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid pattern: %w", err)
		}
		rule.Pattern = re
		rule.Kind = MatchStructural
		if rule.Confidence == 0 {
			rule.Confidence = ConfidenceStructural
		}
	default:
		for _, kw := range fr.Keywords {
			rule.Keywords = append(rule.Keywords, strings.ToLower(strings.TrimSpace(kw)))
		}
		rule.Kind = MatchDictionary
		if fr.Kind == string(MatchKeyword) {
			rule.Kind = MatchKeyword
		}
		if rule.Confidence == 0 {
			if rule.Kind == MatchKeyword {
				rule.Confidence = ConfidenceKeyword
			} else {
				rule.Confidence = ConfidenceDictionary
			}
		}
	}

	if rule.Confidence < 0 || rule.Confidence > 1 {
		return Rule{}, fmt.Errorf("confidence %f out of range", rule.Confidence)
	}

	return rule, nil
}
