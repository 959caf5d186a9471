// Package enrich annotates fetched job postings before they are stored and
// broadcast. Providers are pluggable; the keyword tagger is the only
// non-trivial one today.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/pkg/models"
)

// Enricher annotates a batch of jobs. Implementations must not mutate the
// input slice; they return a new batch.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, jobs []models.Job) ([]models.Job, error)
}

// NewEnricher constructs the appropriate enricher based on config.
// Called once at server startup.
func NewEnricher(cfg config.EnrichConfig) (Enricher, error) {
	switch cfg.Provider {
	case "none":
		return Noop{}, nil
	case "keyword":
		return NewKeywordTagger(cfg.Keywords), nil
	default:
		return nil, fmt.Errorf("unknown enrich provider %q: must be one of none, keyword", cfg.Provider)
	}
}

// Noop passes jobs through untouched.
type Noop struct{}

func (Noop) Name() string { return "none" }

func (Noop) Enrich(_ context.Context, jobs []models.Job) ([]models.Job, error) {
	return jobs, nil
}

// KeywordTagger tags jobs whose title or description mentions a configured
// keyword. Matching is case-insensitive on whole substrings.
type KeywordTagger struct {
	keywords []string
}

func NewKeywordTagger(keywords []string) *KeywordTagger {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			normalized = append(normalized, k)
		}
	}
	return &KeywordTagger{keywords: normalized}
}

func (t *KeywordTagger) Name() string { return "keyword" }

func (t *KeywordTagger) Enrich(_ context.Context, jobs []models.Job) ([]models.Job, error) {
	out := make([]models.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job
		haystack := strings.ToLower(job.Title + " " + job.Description)
		for _, k := range t.keywords {
			if strings.Contains(haystack, k) && !hasTag(out[i].Tags, k) {
				out[i].Tags = append(append([]string(nil), out[i].Tags...), k)
			}
		}
	}
	return out, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
