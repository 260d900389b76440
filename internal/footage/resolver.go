package footage

import (
	"context"
	"log"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/models"
	"golang.org/x/sync/errgroup"
)

// Resolver looks up one clip for a cue. A nil ClipRef with a nil error is a miss.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (*models.ClipRef, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, q Query) (*models.ClipRef, error)

func (f ResolverFunc) Resolve(ctx context.Context, q Query) (*models.ClipRef, error) {
	return f(ctx, q)
}

// Filters narrow a footage search.
type Filters struct {
	Limit              int      `json:"limit"`
	MinRelevance       float64  `json:"min_relevance"`
	MinQuality         float64  `json:"min_quality"`
	MinDurationSeconds float64  `json:"min_duration"`
	Exclude            []string `json:"exclude,omitempty"`
	Format             string   `json:"format"`
}

// DefaultFilters asks for a single relevant, good-quality, non-static clip.
func DefaultFilters() Filters {
	return Filters{
		Limit:              1,
		MinRelevance:       0.7,
		MinQuality:         0.8,
		MinDurationSeconds: 3,
		Exclude:            []string{"static", "overlay", "black_bars"},
		Format:             "raw_video_480p",
	}
}

// Query is a single footage lookup.
type Query struct {
	Text    string
	Filters Filters
}

// NewQuery builds a query from raw cue text with the default filters.
func NewQuery(cueText string) Query {
	return Query{Text: annotation.StripBrackets(cueText), Filters: DefaultFilters()}
}

// ResolveAll resolves every cue with at most concurrency lookups in flight. The
// result slice lines up with cues index for index. A lookup error, a cancelled
// context or a miss leaves a nil slot; the caller records it as a resolution miss.
func ResolveAll(ctx context.Context, r Resolver, cues []models.TimedCue, concurrency int) []*models.ClipRef {
	results := make([]*models.ClipRef, len(cues))
	if len(cues) == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i := range cues {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ref, err := r.Resolve(ctx, NewQuery(cues[i].CueText))
			if err != nil {
				log.Printf("[Footage] Cue %d %q unresolved: %v", i, cues[i].CueText, err)
				return nil
			}
			if ref == nil || (ref.URL == "" && ref.Path == "") {
				log.Printf("[Footage] Cue %d %q: no matching footage", i, cues[i].CueText)
				return nil
			}
			results[i] = ref
			return nil
		})
	}

	// Workers never return errors; a failed lookup is a miss, not a failed batch.
	_ = g.Wait()
	return results
}
