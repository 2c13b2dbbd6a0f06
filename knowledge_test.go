package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocab = []string{"ramen", "gyoza", "price", "menu", "hours", "location", "garlic"}

// wordEmbedder counts vocabulary words, so texts sharing words score high.
type wordEmbedder struct {
	dim   int
	calls int
	err   error
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(testVocab))
	for i, w := range testVocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return vec, nil
}

func (e *wordEmbedder) Dimension() int {
	if e.dim != 0 {
		return e.dim
	}
	return len(testVocab)
}

func demoKnowledge(emb Embedder, index VectorIndex) *KnowledgeBase {
	return NewKnowledgeBase(emb, index,
		newMemoryStore(menuSchema, demoMenuRows...),
		newMemoryStore(detailsSchema, demoDetailRows...))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, cosine([]float32{1}, []float32{1, 1}))
}

func TestQueryVariations(t *testing.T) {
	assert.Equal(t, []string{
		"What is the price of Gyoza?",
		"price gyoza",
		"menu price gyoza",
		"price price gyoza",
	}, queryVariations("  What is the price of Gyoza? "))

	assert.Equal(t, []string{"What is the?"}, queryVariations("What is the?"))
}

func TestSyncBuildsChunksPerTable(t *testing.T) {
	index := newMemoryIndex()
	kb := demoKnowledge(&wordEmbedder{}, index)

	n, err := kb.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := index.Query(context.Background(), make([]float32, len(testVocab)), 0, "")
	require.NoError(t, err)
	var kinds []string
	for _, m := range matches {
		kinds = append(kinds, m.Chunk.Kind)
		assert.Len(t, m.Chunk.Embedding, len(testVocab))
	}
	assert.ElementsMatch(t, []string{"menu", "details"}, kinds)
}

func TestSyncGroupsRows(t *testing.T) {
	menu := newMemoryStore(menuSchema)
	for i := range 7 {
		_, err := menu.Create(context.Background(), map[string]string{
			"name": fmt.Sprintf("Dish %d", i), "price": "NT.100", "description": "tasty",
		})
		require.NoError(t, err)
	}
	index := newMemoryIndex()
	kb := NewKnowledgeBase(&wordEmbedder{}, index, menu, newMemoryStore(detailsSchema))

	n, err := kb.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "seven rows make a chunk of five and one of two")
}

func TestSyncReplacesPreviousIndex(t *testing.T) {
	index := newMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []Chunk{{ID: "stale", Text: "old"}}))

	_, err := demoKnowledge(&wordEmbedder{}, index).Sync(context.Background())
	require.NoError(t, err)

	count, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncFailureKeepsPreviousIndex(t *testing.T) {
	for name, emb := range map[string]*wordEmbedder{
		"embed error":     {err: errors.New("quota")},
		"wrong dimension": {dim: 3},
	} {
		t.Run(name, func(t *testing.T) {
			index := newMemoryIndex()
			require.NoError(t, index.Upsert(context.Background(), []Chunk{{ID: "kept", Text: "old"}}))

			_, err := demoKnowledge(emb, index).Sync(context.Background())
			require.Error(t, err)

			count, err := index.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestSearchFindsRelevantChunk(t *testing.T) {
	emb := &wordEmbedder{}
	kb := demoKnowledge(emb, newMemoryIndex())
	_, err := kb.Sync(context.Background())
	require.NoError(t, err)

	matches, err := kb.Search(context.Background(), "How much is the gyoza?", "en", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1, "the same chunk found by several variations counts once")
	assert.Equal(t, "menu", matches[0].Chunk.Kind)
	assert.Contains(t, matches[0].Chunk.Text, "Menu Item: Gyoza (6 pcs)\nPrice: NT.120")

	matches, err = kb.Search(context.Background(), "opening hours and location", "en", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "details", matches[0].Chunk.Kind)
}

func TestSearchDropsUnrelatedChunks(t *testing.T) {
	kb := NewKnowledgeBase(&wordEmbedder{}, newMemoryIndex(),
		newMemoryStore(menuSchema),
		newMemoryStore(detailsSchema, demoDetailRows...))
	_, err := kb.Sync(context.Background())
	require.NoError(t, err)

	matches, err := kb.Search(context.Background(), "is there parking nearby", "", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRankChunksLanguageFilter(t *testing.T) {
	chunks := []Chunk{
		{ID: "en", Language: "en", Embedding: []float32{1, 0}},
		{ID: "zh", Language: "zh", Embedding: []float32{1, 0}},
		{ID: "any", Embedding: []float32{0.5, 0.5}},
	}
	got := rankChunks(chunks, []float32{1, 0}, 5, "zh")
	require.Len(t, got, 2)
	assert.Equal(t, "zh", got[0].Chunk.ID)
	assert.Equal(t, "any", got[1].Chunk.ID)

	assert.Len(t, rankChunks(chunks, []float32{1, 0}, 1, ""), 1)
}

func TestSQLIndex(t *testing.T) {
	ctx := context.Background()
	db, err := openSQL(ctx, sqliteDialect, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	index := newSQLIndex(db, sqliteDialect)
	require.NoError(t, index.Migrate(ctx))

	require.NoError(t, index.Upsert(ctx, []Chunk{
		{ID: "a", Kind: "menu", Text: "ramen", RecordIDs: []string{"1", "2"}, Embedding: []float32{1, 0}},
		{ID: "b", Kind: "details", Text: "hours", RecordIDs: []string{"3"}, Language: "en", Embedding: []float32{0, 1}},
	}))
	require.NoError(t, index.Upsert(ctx, []Chunk{
		{ID: "a", Kind: "menu", Text: "ramen and gyoza", RecordIDs: []string{"1"}, Embedding: []float32{1, 0.1}},
	}))

	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := index.Query(ctx, []float32{1, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Chunk.ID)
	assert.Equal(t, "ramen and gyoza", matches[0].Chunk.Text)
	assert.Equal(t, []string{"1"}, matches[0].Chunk.RecordIDs)
	assert.Equal(t, []float32{1, 0.1}, matches[0].Chunk.Embedding)

	require.NoError(t, index.Reset(ctx))
	n, err = index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &wordEmbedder{}
	emb, err := newCachedEmbedder(inner, 2)
	require.NoError(t, err)

	a, err := emb.Embed(context.Background(), "ramen")
	require.NoError(t, err)
	b, err := emb.Embed(context.Background(), "  ramen ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls)

	_, err = emb.Embed(context.Background(), " \n")
	assert.ErrorIs(t, err, errEmptyText)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, len(testVocab), emb.Dimension())

	inner.err = errors.New("down")
	_, err = emb.Embed(context.Background(), "gyoza")
	assert.Error(t, err)
	_, err = emb.Embed(context.Background(), "ramen")
	assert.NoError(t, err, "cached vectors survive an outage")
}

func TestChunkHelpers(t *testing.T) {
	assert.Equal(t, chunkID("menu", []string{"1", "2"}), chunkID("menu", []string{"1", "2"}))
	assert.NotEqual(t, chunkID("menu", []string{"1", "2"}), chunkID("menu", []string{"12"}))
	assert.True(t, strings.HasPrefix(chunkID("details", nil), "details-"))

	assert.Equal(t, "麵", truncateUTF8("麵屋", 4))
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
}
