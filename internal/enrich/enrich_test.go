package enrich_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/internal/enrich"
	"github.com/applyhq/applypilot/pkg/models"
)

func TestNewEnricher_None(t *testing.T) {
	e, err := enrich.NewEnricher(config.EnrichConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Equal(t, "none", e.Name())
}

func TestNewEnricher_Keyword(t *testing.T) {
	e, err := enrich.NewEnricher(config.EnrichConfig{Provider: "keyword", Keywords: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, "keyword", e.Name())
}

func TestNewEnricher_Unknown(t *testing.T) {
	_, err := enrich.NewEnricher(config.EnrichConfig{Provider: "llm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown enrich provider")
	assert.Contains(t, err.Error(), "llm")
}

func TestNoop_PassesThrough(t *testing.T) {
	jobs := []models.Job{{ExternalID: "ext-1", Title: "Go Engineer"}}
	out, err := enrich.Noop{}.Enrich(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, jobs, out)
}

func TestKeywordTagger_TagsMatches(t *testing.T) {
	e := enrich.NewKeywordTagger([]string{"Kubernetes", "postgres"})
	jobs := []models.Job{
		{ExternalID: "ext-1", Title: "Platform Engineer", Description: "You will run our Kubernetes clusters."},
		{ExternalID: "ext-2", Title: "Postgres DBA", Description: ""},
		{ExternalID: "ext-3", Title: "Frontend Developer", Description: "React and TypeScript"},
	}

	out, err := e.Enrich(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, []string{"kubernetes"}, out[0].Tags)
	assert.Equal(t, []string{"postgres"}, out[1].Tags)
	assert.Empty(t, out[2].Tags)
}

func TestKeywordTagger_DoesNotDuplicateExistingTags(t *testing.T) {
	e := enrich.NewKeywordTagger([]string{"go"})
	jobs := []models.Job{{ExternalID: "ext-1", Title: "Go Engineer", Tags: []string{"Go"}}}

	out, err := e.Enrich(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go"}, out[0].Tags)
}

func TestKeywordTagger_DoesNotMutateInput(t *testing.T) {
	e := enrich.NewKeywordTagger([]string{"go"})
	jobs := []models.Job{{ExternalID: "ext-1", Title: "Go Engineer"}}

	_, err := e.Enrich(context.Background(), jobs)
	require.NoError(t, err)
	assert.Nil(t, jobs[0].Tags)
}

func TestKeywordTagger_IgnoresBlankKeywords(t *testing.T) {
	e := enrich.NewKeywordTagger([]string{"  ", "", "rust"})
	jobs := []models.Job{{ExternalID: "ext-1", Title: "Rust Developer"}}

	out, err := e.Enrich(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, out[0].Tags)
}
