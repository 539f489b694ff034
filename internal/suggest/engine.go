package suggest

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/store"
)

// minScore is the similarity floor below which no suggestion is recorded.
const minScore = 0.8

// Engine matches freshly inserted dependency names against known canonical
// names and records suggestions. It satisfies the polling core's suggester
// hook: all work happens in the background and failures are only logged.
type Engine struct {
	registry *store.Store
	store    *Store
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewEngine creates an engine reading canonical names from the registry
// store and writing suggestions to the suggestion store.
func NewEngine(registry *store.Store, suggestions *Store) *Engine {
	return &Engine{
		registry: registry,
		store:    suggestions,
		logger:   logging.WithComponent("suggest"),
	}
}

// SuggestAsync generates suggestions for the given dependency IDs in the
// background. Best-effort: errors are logged, never returned.
func (e *Engine) SuggestAsync(dependencyIDs []string) {
	if len(dependencyIDs) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.generate(dependencyIDs)
	}()
}

// Wait blocks until background generation settles. Used by shutdown and
// tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) generate(dependencyIDs []string) {
	canonicals, err := e.registry.ListCanonicalNames()
	if err != nil {
		e.logger.Warn("Failed to load canonical names", slog.Any("error", err))
		return
	}
	if len(canonicals) == 0 {
		return
	}

	for _, id := range dependencyIDs {
		dep, err := e.registry.GetDependencyByID(id)
		if err != nil {
			e.logger.Warn("Failed to load dependency for suggestion",
				slog.String("dependency_id", id),
				slog.Any("error", err),
			)
			continue
		}
		if dep.CanonicalName != nil {
			continue // already aliased
		}

		canonical, score := bestMatch(dep.Name, canonicals)
		if score < minScore {
			continue
		}

		err = e.store.Save(&Suggestion{
			DependencyID:       dep.ID,
			Name:               dep.Name,
			SuggestedCanonical: canonical,
			Score:              score,
		})
		if err != nil {
			e.logger.Warn("Failed to save suggestion",
				slog.String("dependency_id", id),
				slog.Any("error", err),
			)
			continue
		}
		e.logger.Info("Canonical name suggested",
			slog.String("dependency", dep.Name),
			slog.String("canonical", canonical),
			slog.Float64("score", score),
		)
	}
}

// bestMatch returns the highest-scoring canonical name for a dependency
// name.
func bestMatch(name string, canonicals []string) (string, float64) {
	var best string
	var bestScore float64
	for _, c := range canonicals {
		if score := similarity(name, c); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// similarity scores two names: 1.0 for an exact normalized match, 0.9 for a
// prefix relationship, 0.8 for an edit distance of at most 2.
func similarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		return 0.9
	}
	if levenshtein(na, nb) <= 2 {
		return 0.8
	}
	return 0
}

// normalizeName lowercases and strips separators so "Postgres-Main" and
// "postgres_main" compare equal.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '.':
			return -1
		}
		return r
	}, s)
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

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
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
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
