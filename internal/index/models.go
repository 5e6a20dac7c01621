package index

// Chunk is a unit of retrievable text produced by the ingestion pipeline.
// Chunks carry no embedding; vectorization is the index's responsibility
// at upsert time.
type Chunk struct {
	Text       string // Bounded by the splitter's chunk size
	DocID      int64  // Owning document record ID
	SourcePath string // Originating file, for attribution
	Page       int    // 1-based page for PDF sources, 0 otherwise
	Index      int    // Position within the document (0, 1, 2...)
}

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk
	Score float64
}

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536
