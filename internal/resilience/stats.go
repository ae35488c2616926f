package resilience

import (
	"sort"
	"strings"
	"sync"
)

// recentWindow bounds how many recent error messages feed pattern detection.
const recentWindow = 64

// Stats accumulates per-category and per-operation-key error counts plus a
// bounded window of recent messages for repeated-substring pattern detection.
// An observability aid, not a correctness mechanism.
type Stats struct {
	mu         sync.Mutex
	byCategory map[Category]int
	byKey      map[string]int
	recent     []recentError
}

type recentError struct {
	key     string
	message string
}

// Pattern reports a token that repeats across recent errors for one
// operation key, e.g. many "timeout" messages against the same agent.
type Pattern struct {
	Key   string
	Token string
	Count int
}

// Snapshot is a point-in-time copy of the accumulated counters.
type Snapshot struct {
	ByCategory map[Category]int
	ByKey      map[string]int
	Total      int
}

// NewStats creates an empty statistics accumulator.
func NewStats() *Stats {
	return &Stats{
		byCategory: make(map[Category]int),
		byKey:      make(map[string]int),
	}
}

// Record counts one handled error against its key and category.
func (s *Stats) Record(key string, class Class, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byCategory[class.Category]++
	s.byKey[key]++

	s.recent = append(s.recent, recentError{key: key, message: err.Error()})
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ByCategory: make(map[Category]int, len(s.byCategory)),
		ByKey:      make(map[string]int, len(s.byKey)),
	}
	for c, n := range s.byCategory {
		snap.ByCategory[c] = n
		snap.Total += n
	}
	for k, n := range s.byKey {
		snap.ByKey[k] = n
	}
	return snap
}

// Patterns scans the recent-error window and returns tokens of at least four
// characters that repeat minCount or more times against the same operation
// key, sorted by descending count then token.
func (s *Stats) Patterns(minCount int) []Pattern {
	if minCount < 2 {
		minCount = 2
	}

	s.mu.Lock()
	counts := make(map[string]map[string]int) // key -> token -> count
	for _, re := range s.recent {
		tokens, ok := counts[re.key]
		if !ok {
			tokens = make(map[string]int)
			counts[re.key] = tokens
		}
		seen := make(map[string]bool)
		for _, token := range strings.FieldsFunc(re.message, func(r rune) bool {
			return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
		}) {
			token = strings.ToLower(token)
			// Count each token once per message so one verbose error cannot
			// fake a pattern on its own.
			if len(token) < 4 || seen[token] {
				continue
			}
			seen[token] = true
			tokens[token]++
		}
	}
	s.mu.Unlock()

	var patterns []Pattern
	for key, tokens := range counts {
		for token, n := range tokens {
			if n >= minCount {
				patterns = append(patterns, Pattern{Key: key, Token: token, Count: n})
			}
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		if patterns[i].Key != patterns[j].Key {
			return patterns[i].Key < patterns[j].Key
		}
		return patterns[i].Token < patterns[j].Token
	})
	return patterns
}
