package analyze

import (
	"strings"
	"unicode"

	"mend/internal/tree"
)

// MatchTier identifies which resolution tier produced a match.
type MatchTier string

const (
	TierExact MatchTier = "exact"
	TierFuzzy MatchTier = "fuzzy"
)

// Match is a resolved symbol with the confidence its tier carries.
type Match struct {
	Member     tree.Member
	Confidence float64
	Tier       MatchTier
}

// SymbolResolver resolves a wanted symbol name against an artifact's declared
// member set. Injected into the Analyzer so resolution strategy is pluggable.
//
// The scoring contract has three tiers: exact match (confidence >= 0.9),
// fuzzy match via token overlap / edit distance (0.5 - 0.8), and no match.
type SymbolResolver interface {
	Resolve(name string, members []tree.Member) (Match, bool)
}

// DefaultResolver returns the lexical resolver used when none is injected.
func DefaultResolver() SymbolResolver {
	return lexicalResolver{}
}

type lexicalResolver struct{}

const (
	exactConfidence = 0.95
	fuzzyThreshold  = 0.5
)

func (lexicalResolver) Resolve(name string, members []tree.Member) (Match, bool) {
	if name == "" {
		return Match{}, false
	}

	// Tier 1: exact name
	for _, m := range members {
		if m.Name == name {
			return Match{Member: m, Confidence: exactConfidence, Tier: TierExact}, true
		}
	}

	// Tier 2: best fuzzy score across members
	var best tree.Member
	bestScore := 0.0
	for _, m := range members {
		score := similarity(name, m.Name)
		if score > bestScore {
			bestScore = score
			best = m
		}
	}
	if bestScore >= fuzzyThreshold {
		// Map raw score [0.5, 1) onto the fuzzy confidence band [0.5, 0.8]
		conf := 0.5 + (bestScore-fuzzyThreshold)/(1-fuzzyThreshold)*0.3
		return Match{Member: best, Confidence: conf, Tier: TierFuzzy}, true
	}

	return Match{}, false
}

// similarity blends token overlap with normalized edit distance.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	overlap := tokenOverlap(tokenize(a), tokenize(b))
	edit := 1.0 - normalizedEditDistance(strings.ToLower(a), strings.ToLower(b))
	if overlap > edit {
		return overlap
	}
	return edit
}

// tokenize splits camelCase and snake_case identifiers into lowercase tokens.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.':
			flush()
		case unicode.IsUpper(r):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		union[t] = true
	}
	shared := 0
	for _, t := range b {
		if set[t] {
			shared++
			set[t] = false // count each token once
		}
		union[t] = true
	}
	return float64(shared) / float64(len(union))
}

func normalizedEditDistance(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(levenshtein(a, b)) / float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
