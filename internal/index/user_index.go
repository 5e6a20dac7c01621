package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder vectorizes text. Satisfied by embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// UserIndex is one user's vector collection. The collection name and the
// per-user data directory are deterministic functions of the user ID, so
// no cross-user read or write path exists.
type UserIndex struct {
	store      *Store
	embedder   Embedder
	userID     int64
	collection string
	dataDir    string
	logger     *slog.Logger
}

// ForUser returns the vector index for the given user. The per-user data
// directory is created if missing, and the collection is opened or
// created. A failed open falls back to create; neither failure mode is
// fatal here, because every operation re-probes the collection before
// acting.
func (s *Store) ForUser(userID int64, dataRoot string, embedder Embedder, logger *slog.Logger) *UserIndex {
	if logger == nil {
		logger = slog.Default()
	}

	idx := &UserIndex{
		store:      s,
		embedder:   embedder,
		userID:     userID,
		collection: fmt.Sprintf("user_%d_docs", userID),
		dataDir:    filepath.Join(dataRoot, fmt.Sprintf("user_%d", userID)),
		logger:     logger,
	}

	if err := os.MkdirAll(idx.dataDir, 0o700); err != nil {
		logger.Error("Failed to create user data directory", "dir", idx.dataDir, "error", err)
	}
	if err := idx.ensureCollection(context.Background()); err != nil {
		logger.Error("Failed to load vector collection", "collection", idx.collection, "error", err)
	}

	return idx
}

// Collection returns the user's collection name.
func (i *UserIndex) Collection() string { return i.collection }

// DataDir returns the user's data directory.
func (i *UserIndex) DataDir() string { return i.dataDir }

// ensureCollection opens the collection if it exists, creating it
// otherwise. Qdrant exposes a cheap existence probe, so the create
// fallback only runs after the open attempt observed the collection
// missing (or the probe itself failed). Idempotent.
func (i *UserIndex) ensureCollection(ctx context.Context) error {
	exists, err := i.store.client.CollectionExists(ctx, i.collection)
	if err != nil {
		i.logger.Warn("Collection existence check failed, attempting create",
			"collection", i.collection, "error", err)
	}
	if exists {
		return nil
	}

	err = i.store.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// A concurrent creator may have won the race; re-probe before
		// reporting failure.
		if again, probeErr := i.store.client.CollectionExists(ctx, i.collection); probeErr == nil && again {
			return nil
		}
		return fmt.Errorf("failed to create collection %s: %w", i.collection, err)
	}

	// Index the document-id payload field so delete-by-document filters
	// stay fast as collections grow.
	_, err = i.store.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: i.collection,
		FieldName:      "doc_id",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create doc_id index: %w", err)
	}

	return nil
}

// Upsert embeds the given chunks and stores them in the user's
// collection, creating it first if needed. Chunks are stored in input
// order, batched in groups of 100.
func (i *UserIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	if err := i.ensureCollection(ctx); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for j, chunk := range chunks {
		texts[j] = chunk.Text
	}

	embeddings, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	for j, vec := range embeddings {
		if len(vec) != VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, j, len(vec), VectorDimension)
		}
	}

	batchSize := 100
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for j := start; j < end; j++ {
			chunk := chunks[j]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(uuid.New().String()),
				Vectors: qdrant.NewVectors(embeddings[j]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"doc_id":      chunk.DocID,
					"text":        chunk.Text,
					"source_path": chunk.SourcePath,
					"page":        chunk.Page,
					"chunk_index": chunk.Index,
				}),
			})
		}

		if err := i.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
		}
	}

	return nil
}

// upsertWithRetry performs the upsert with exponential backoff.
func (i *UserIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := i.store.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.collection,
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Search embeds the query and returns the k nearest chunks by cosine
// similarity, score descending. fetchK candidates are over-fetched before
// truncating to k. An empty or missing collection yields an empty result,
// not an error.
func (i *UserIndex) Search(ctx context.Context, query string, k, fetchK int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if fetchK < k {
		fetchK = k
	}

	count, err := i.Count(ctx)
	if err != nil || count == 0 {
		return nil, err
	}

	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vec), VectorDimension)
	}

	results, err := i.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(fetchK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	// Qdrant returns results score-descending; keep the top k.
	if len(results) > k {
		results = results[:k]
	}

	chunks := make([]ScoredChunk, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		chunks = append(chunks, ScoredChunk{
			Chunk: Chunk{
				Text:       payload["text"].GetStringValue(),
				DocID:      payload["doc_id"].GetIntegerValue(),
				SourcePath: payload["source_path"].GetStringValue(),
				Page:       int(payload["page"].GetIntegerValue()),
				Index:      int(payload["chunk_index"].GetIntegerValue()),
			},
			Score: float64(result.Score),
		})
	}

	return chunks, nil
}

// DeleteByDocument removes every chunk whose doc_id payload matches.
// Deleting a document with no stored chunks is a successful no-op.
func (i *UserIndex) DeleteByDocument(ctx context.Context, docID int64) error {
	exists, err := i.store.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("collection check: %w", err)
	}
	if !exists {
		return nil
	}

	_, err = i.store.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("doc_id", docID),
			},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for doc %d: %w", docID, err)
	}
	return nil
}

// Clear drops the collection and removes the per-user data directory.
// Clearing an already-absent collection still succeeds.
func (i *UserIndex) Clear(ctx context.Context) error {
	exists, existsErr := i.store.client.CollectionExists(ctx, i.collection)
	if existsErr == nil && exists {
		if err := i.store.client.DeleteCollection(ctx, i.collection); err != nil {
			// Directory removal still proceeds below.
			i.logger.Error("Failed to drop collection", "collection", i.collection, "error", err)
		}
	}

	if err := os.RemoveAll(i.dataDir); err != nil {
		return fmt.Errorf("failed to remove data directory %s: %w", i.dataDir, err)
	}
	return nil
}

// Count returns the number of stored chunks, 0 for an absent collection.
func (i *UserIndex) Count(ctx context.Context) (uint64, error) {
	exists, err := i.store.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return 0, fmt.Errorf("collection check: %w", err)
	}
	if !exists {
		return 0, nil
	}

	count, err := i.store.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: i.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}
