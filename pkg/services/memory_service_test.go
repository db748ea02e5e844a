package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault/pkg/embed"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/services"
	"github.com/mediavault/mediavault/test/util"
)

// keywordEncoder is a deterministic stand-in for the real embedder: each
// dimension scores one keyword, so similarity ordering is predictable.
type keywordEncoder struct {
	calls int
}

func (e *keywordEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls++
	lower := strings.ToLower(text)
	vec := []float32{1, 0, 0, 0}
	for i, kw := range []string{"pasta", "kubernetes", "standup"} {
		vec[i+1] = float32(strings.Count(lower, kw))
	}
	embed.Normalize(vec)
	return vec, nil
}

func newMemoryService(t *testing.T) (*services.MemoryService, *services.CollectionService, *keywordEncoder) {
	db := util.SetupTestDatabase(t)
	encoder := &keywordEncoder{}
	return services.NewMemoryService(db, encoder), services.NewCollectionService(db), encoder
}

func testContent(id, title, contentType, sourceURL string) *models.Content {
	return &models.Content{
		ID:          id,
		TenantID:    "tenant-1",
		Title:       title,
		ContentType: contentType,
		Mode:        "general",
		Summary:     "summary of " + title,
		SourceURL:   sourceURL,
	}
}

func TestMemoryAddGetDelete(t *testing.T) {
	memory, _, _ := newMemoryService(t)
	ctx := context.Background()

	content := testContent("content-1", "Pasta carbonara", "recipe",
		"https://youtube.com/watch?v=abc123")
	content.Entities = []models.Entity{
		{Name: "guanciale", Type: "ingredient", Description: "cured pork cheek"},
		{Name: "pecorino", Type: "ingredient"},
	}
	require.NoError(t, memory.Add(ctx, content))

	got, err := memory.Get(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
	assert.Equal(t, "Pasta carbonara", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	vectors, err := memory.EntityVectors(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, "guanciale", vectors[0].EntityName)
	assert.NotEmpty(t, vectors[0].Embedding)

	// Other tenants cannot see it.
	_, err = memory.Get(ctx, "tenant-2", "content-1")
	assert.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, memory.Delete(ctx, "tenant-1", "content-1"))
	_, err = memory.Get(ctx, "tenant-1", "content-1")
	assert.ErrorIs(t, err, services.ErrNotFound)

	vectors, err = memory.EntityVectors(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
	assert.Empty(t, vectors)

	assert.ErrorIs(t, memory.Delete(ctx, "tenant-1", "content-1"), services.ErrNotFound)
}

func TestMemoryAdd_UpsertKeepsCreatedAt(t *testing.T) {
	memory, _, _ := newMemoryService(t)
	ctx := context.Background()

	first := testContent("content-1", "Original title", "video", "")
	require.NoError(t, memory.Add(ctx, first))
	created := first.CreatedAt

	second := testContent("content-1", "Replaced title", "video", "")
	second.Entities = []models.Entity{{Name: "only entity", Type: "topic"}}
	require.NoError(t, memory.Add(ctx, second))

	got, err := memory.Get(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
	assert.Equal(t, "Replaced title", got.Title)

	// The row keeps its original creation time across re-ingestion.
	contents, err := memory.List(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, created.Unix(), contents[0].CreatedAt.Unix())

	// Entity vectors are replaced wholesale, not merged.
	vectors, err := memory.EntityVectors(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, "only entity", vectors[0].EntityName)
}

func TestFindBySourceURL_NaturalIdentifier(t *testing.T) {
	memory, _, _ := newMemoryService(t)
	ctx := context.Background()

	content := testContent("content-1", "A video", "video",
		"https://www.youtube.com/watch?v=abc123&t=42")
	require.NoError(t, memory.Add(ctx, content))

	// Different URL forms of the same video resolve to the same row.
	id, err := memory.FindBySourceURL(ctx, "tenant-1", "https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Equal(t, "content-1", id)

	id, err = memory.FindBySourceURL(ctx, "tenant-1", "https://youtube.com/watch?v=other9999")
	require.NoError(t, err)
	assert.Empty(t, id)

	// Tenant isolation applies to dedup too.
	id, err = memory.FindBySourceURL(ctx, "tenant-2", "https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Empty(t, id)

	// Uploads have no source identity.
	id, err = memory.FindBySourceURL(ctx, "tenant-1", "")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemorySearch(t *testing.T) {
	memory, collections, _ := newMemoryService(t)
	ctx := context.Background()

	pasta := testContent("content-1", "Pasta carbonara from scratch", "recipe", "")
	k8s := testContent("content-2", "Kubernetes operators deep dive", "tutorial", "")
	standup := testContent("content-3", "Team standup notes", "meeting", "")
	require.NoError(t, memory.Add(ctx, pasta))
	require.NoError(t, memory.Add(ctx, k8s))
	require.NoError(t, memory.Add(ctx, standup))

	results, err := memory.Search(ctx, "tenant-1", "how to make pasta", 2, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "content-1", results[0].Content.ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)

	// Content type filter.
	results, err = memory.Search(ctx, "tenant-1", "pasta", 10, "tutorial", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "content-2", results[0].Content.ID)

	// Collection scoping filters before ranking.
	coll, err := collections.Create(ctx, "tenant-1", "work")
	require.NoError(t, err)
	require.NoError(t, collections.AddContent(ctx, "tenant-1", coll.ID, "content-3"))

	results, err = memory.Search(ctx, "tenant-1", "pasta", 10, "", coll.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "content-3", results[0].Content.ID)
}

func TestCollectionLifecycle(t *testing.T) {
	memory, collections, _ := newMemoryService(t)
	ctx := context.Background()

	require.NoError(t, memory.Add(ctx, testContent("content-1", "A video", "video", "")))

	coll, err := collections.Create(ctx, "tenant-1", "cooking")
	require.NoError(t, err)
	assert.NotEmpty(t, coll.ID)

	// Names are unique per tenant, but not across tenants.
	_, err = collections.Create(ctx, "tenant-1", "cooking")
	assert.ErrorIs(t, err, services.ErrAlreadyExists)
	_, err = collections.Create(ctx, "tenant-2", "cooking")
	require.NoError(t, err)

	require.NoError(t, collections.AddContent(ctx, "tenant-1", coll.ID, "content-1"))
	// Adding twice is a no-op.
	require.NoError(t, collections.AddContent(ctx, "tenant-1", coll.ID, "content-1"))

	ids, err := collections.ContentIDs(ctx, "tenant-1", coll.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"content-1"}, ids)

	// Unknown content is rejected.
	err = collections.AddContent(ctx, "tenant-1", coll.ID, "content-missing")
	assert.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, collections.RemoveContent(ctx, "tenant-1", coll.ID, "content-1"))
	ids, err = collections.ContentIDs(ctx, "tenant-1", coll.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Deleting the collection does not touch the content.
	require.NoError(t, collections.Delete(ctx, "tenant-1", coll.ID))
	_, err = collections.Get(ctx, "tenant-1", coll.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = memory.Get(ctx, "tenant-1", "content-1")
	require.NoError(t, err)
}

func TestMemoryUpdate_ReembedsOnlyWhenTextChanged(t *testing.T) {
	memory, _, encoder := newMemoryService(t)
	ctx := context.Background()

	content := testContent("content-1", "A video", "video", "")
	require.NoError(t, memory.Add(ctx, content))
	callsAfterAdd := encoder.calls

	// Metadata-only change: no re-embedding.
	patched := testContent("content-1", "A video", "video", "")
	patched.Metadata = map[string]any{"note": "manually reviewed"}
	require.NoError(t, memory.Update(ctx, "tenant-1", "content-1", patched))
	assert.Equal(t, callsAfterAdd, encoder.calls)

	// Title change touches the searchable text: re-embed.
	retitled := testContent("content-1", "A completely different title", "video", "")
	require.NoError(t, memory.Update(ctx, "tenant-1", "content-1", retitled))
	assert.Greater(t, encoder.calls, callsAfterAdd)
}
