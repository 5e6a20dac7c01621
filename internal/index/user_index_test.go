//go:build integration

package index

import (
	"context"
	"hash/fnv"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder produces deterministic pseudo-random unit-ish vectors
// seeded by the text, so identical texts embed identically and similarity
// search behaves sensibly without a live embedding API.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	vec := make([]float32, VectorDimension)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	return vec, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// setupUserIndex creates an index for a random user ID against local
// Qdrant, skipping if Qdrant is not running.
func setupUserIndex(t *testing.T) *UserIndex {
	t.Helper()

	store, err := NewStore("localhost", 6334)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	userID := rand.Int63n(1_000_000) + 1_000_000
	idx := store.ForUser(userID, t.TempDir(), fakeEmbedder{}, nil)
	t.Cleanup(func() { _ = idx.Clear(context.Background()) })
	return idx
}

func TestUpsertSearchRoundTrip(t *testing.T) {
	idx := setupUserIndex(t)
	ctx := context.Background()

	chunks := []Chunk{
		{Text: "The mitochondria is the powerhouse of the cell.", DocID: 1, SourcePath: "/tmp/bio.txt", Index: 0},
		{Text: "Photosynthesis converts light into chemical energy.", DocID: 1, SourcePath: "/tmp/bio.txt", Index: 1},
		{Text: "Compound interest grows savings exponentially.", DocID: 2, SourcePath: "/tmp/fin.txt", Index: 0},
	}
	require.NoError(t, idx.Upsert(ctx, chunks))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	results, err := idx.Search(ctx, "The mitochondria is the powerhouse of the cell.", 5, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Identical text embeds identically, so it must rank first.
	assert.Equal(t, "The mitochondria is the powerhouse of the cell.", results[0].Text)
	assert.Equal(t, int64(1), results[0].DocID)
	assert.Equal(t, "/tmp/bio.txt", results[0].SourcePath)

	// Scores arrive descending.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	idx := setupUserIndex(t)

	results, err := idx.Search(context.Background(), "anything", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTruncatesToK(t *testing.T) {
	idx := setupUserIndex(t)
	ctx := context.Background()

	chunks := make([]Chunk, 8)
	for i := range chunks {
		chunks[i] = Chunk{Text: "chunk number " + string(rune('a'+i)), DocID: 1, SourcePath: "/tmp/a.txt", Index: i}
	}
	require.NoError(t, idx.Upsert(ctx, chunks))

	results, err := idx.Search(ctx, "chunk number a", 3, 6)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestDeleteByDocument(t *testing.T) {
	idx := setupUserIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Chunk{
		{Text: "belongs to doc seven", DocID: 7, SourcePath: "/tmp/seven.txt", Index: 0},
		{Text: "belongs to doc eight", DocID: 8, SourcePath: "/tmp/eight.txt", Index: 0},
	}))

	require.NoError(t, idx.DeleteByDocument(ctx, 7))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// Deleting an absent document is a successful no-op.
	require.NoError(t, idx.DeleteByDocument(ctx, 999))
	count, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestClearIsIdempotent(t *testing.T) {
	idx := setupUserIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Chunk{
		{Text: "soon to be gone", DocID: 1, SourcePath: "/tmp/a.txt", Index: 0},
	}))

	require.NoError(t, idx.Clear(ctx))
	require.NoError(t, idx.Clear(ctx)) // second clear still succeeds

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestCountMissingCollection(t *testing.T) {
	idx := setupUserIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Clear(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
