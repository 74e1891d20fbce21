package catalog

import (
	"path"
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultSuggestThreshold = 0.85

// SuggestOption is a functional option for configuring a [Suggester].
type SuggestOption func(*Suggester)

// WithSuggestThreshold sets the minimum Jaro-Winkler score a candidate needs
// to be suggested. Default: 0.85.
func WithSuggestThreshold(threshold float64) SuggestOption {
	return func(s *Suggester) {
		s.threshold = threshold
	}
}

// Suggester proposes the closest known name for a mistyped one using
// Jaro-Winkler similarity. It is read-only after construction and safe for
// concurrent use.
type Suggester struct {
	threshold float64
}

// NewSuggester returns a [Suggester] configured with the supplied options.
func NewSuggester(opts ...SuggestOption) *Suggester {
	s := &Suggester{threshold: defaultSuggestThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Best returns the candidate most similar to name, provided its score
// reaches the threshold. Exact matches are not suggestions and are skipped.
func (s *Suggester) Best(name string, candidates []string) (string, bool) {
	input := strings.ToLower(strings.TrimSpace(name))
	if input == "" {
		return "", false
	}

	var (
		best      string
		bestScore float64
	)
	for _, c := range candidates {
		if c == name {
			continue
		}
		if score := similarity(input, strings.ToLower(c)); score >= s.threshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

// similarity scores two names by the better of two comparisons:
//
//  1. Full-string comparison ("csukuangfj/vits-piper-en_US-amy-lo" vs
//     "csukuangfj/vits-piper-en_US-amy-low").
//  2. Last path segment comparison, so that a wrong or missing namespace does
//     not hide an otherwise close collection name.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if s := matchr.JaroWinkler(path.Base(a), path.Base(b), false); s > score {
		score = s
	}
	return score
}
