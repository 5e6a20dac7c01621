// Package rag orchestrates the per-user retrieval-augmented generation
// pipelines: document ingestion, grounded question answering, and
// per-user data lifecycle.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/loader"
)

// Fixed user-facing answers. Internal failure detail is logged, never
// returned to the end user.
const (
	MsgNoDocuments = "No documents available for querying."
	MsgNoRelevant  = "No relevant documents found."
	MsgQueryError  = "An error occurred while processing your query."
)

// SourceTypePersonal tags sources as the user's own uploads.
const SourceTypePersonal = "personal_document"

// promptTemplate forces the model to answer only from retrieved context.
const promptTemplate = `You are a helpful assistant answering questions based on the user's personal documents.

Answer ONLY based on the context provided. If the answer is not in the context, say "I couldn't find this information in your documents."

Context:
%s

Question: %s

Answer:`

// VectorIndex is the per-user vector collection consumed by the engine.
// Satisfied by *index.UserIndex.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []index.Chunk) error
	Search(ctx context.Context, query string, k, fetchK int) ([]index.ScoredChunk, error)
	DeleteByDocument(ctx context.Context, docID int64) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
}

// DocumentLoader extracts text segments from files. Satisfied by
// *loader.Loader.
type DocumentLoader interface {
	Load(path string) ([]loader.Segment, error)
}

// TextSplitter splits raw text into bounded chunks. Satisfied by
// *splitter.Splitter.
type TextSplitter interface {
	Split(text string) []string
}

// Generator produces an answer from a filled prompt. Satisfied by
// *llm.Generator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Source attributes an answer to one uploaded document.
type Source struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Answer is the result of one query: generated text plus deduplicated
// source attributions in first-seen retrieval order.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Config wires an Engine's collaborators. K and FetchK default to 5 and
// 10.
type Config struct {
	UserID    int64
	Index     VectorIndex
	Loader    DocumentLoader
	Splitter  TextSplitter
	Generator Generator
	K         int
	FetchK    int
	Logger    *slog.Logger
}

// Engine is one user's RAG engine. Engines are cheap to construct and
// expected to be created per request; the vector store provides the
// durability guarantees for concurrent writers.
type Engine struct {
	userID    int64
	index     VectorIndex
	loader    DocumentLoader
	splitter  TextSplitter
	generator Generator
	k         int
	fetchK    int
	logger    *slog.Logger
}

// New creates an Engine from config.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	k := cfg.K
	if k <= 0 {
		k = 5
	}
	fetchK := cfg.FetchK
	if fetchK < k {
		fetchK = 2 * k
	}

	return &Engine{
		userID:    cfg.UserID,
		index:     cfg.Index,
		loader:    cfg.Loader,
		splitter:  cfg.Splitter,
		generator: cfg.Generator,
		k:         k,
		fetchK:    fetchK,
		logger:    logger.With("user_id", cfg.UserID),
	}
}

// ProcessDocument runs the ingestion pipeline for one uploaded file:
// existence check, load, split, stamp with the document ID, upsert.
// Returns the number of chunks stored; any failure logs the cause and
// returns 0, never an error.
func (e *Engine) ProcessDocument(ctx context.Context, filePath string, docID int64) int {
	count, err := e.processDocument(ctx, filePath, docID)
	if err != nil {
		e.logger.Error("Document processing failed", "path", filePath, "doc_id", docID, "error", err)
		return 0
	}
	e.logger.Info("Processed document", "path", filePath, "doc_id", docID, "chunks", count)
	return count
}

// processDocument is the fallible ingestion pipeline; each step is a hard
// gate. Errors are tagged with the internal taxonomy.
func (e *Engine) processDocument(ctx context.Context, filePath string, docID int64) (int, error) {
	if _, err := os.Stat(filePath); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}

	segments, err := e.loader.Load(filePath)
	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedType) {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filePath))
		}
		return 0, fmt.Errorf("%w: %v", ErrEmptyExtraction, err)
	}
	if len(segments) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyExtraction, filePath)
	}

	var chunks []index.Chunk
	for _, segment := range segments {
		for _, text := range e.splitter.Split(segment.Text) {
			chunks = append(chunks, index.Chunk{
				Text:       text,
				DocID:      docID,
				SourcePath: segment.SourcePath,
				Page:       segment.Page,
				Index:      len(chunks),
			})
		}
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: splitter produced no chunks for %s", ErrEmptyExtraction, filePath)
	}

	if err := e.index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	return len(chunks), nil
}

// Query answers a question from the user's documents. It never returns
// an error; every failure mode collapses into one of the fixed answers.
func (e *Engine) Query(ctx context.Context, question string) Answer {
	answer, err := e.query(ctx, question)
	if err != nil {
		e.logger.Error("Query failed", "error", err)
		return Answer{Answer: MsgQueryError, Sources: []Source{}}
	}
	return answer
}

// query is the fallible retrieval pipeline. Empty-collection and no-hit
// outcomes are answers, not errors.
func (e *Engine) query(ctx context.Context, question string) (Answer, error) {
	// Defensive refresh: re-probe the collection, which may have been
	// cleared concurrently. An unreadable collection reads as "no
	// documents", matching the empty case.
	count, err := e.index.Count(ctx)
	if err != nil {
		e.logger.Warn("Collection unreadable, treating as empty", "error", err)
		return Answer{Answer: MsgNoDocuments, Sources: []Source{}}, nil
	}
	if count == 0 {
		return Answer{Answer: MsgNoDocuments, Sources: []Source{}}, nil
	}

	hits, err := e.index.Search(ctx, question, e.k, e.fetchK)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if len(hits) == 0 {
		return Answer{Answer: MsgNoRelevant, Sources: []Source{}}, nil
	}

	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Text
	}
	contextBlock := strings.Join(texts, "\n\n")

	prompt := fmt.Sprintf(promptTemplate, contextBlock, question)

	generated, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	return Answer{
		Answer:  generated,
		Sources: collectSources(hits),
	}, nil
}

// collectSources deduplicates attributions by filename, preserving
// first-seen order among the retrieved chunks.
func collectSources(hits []index.ScoredChunk) []Source {
	sources := make([]Source, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		filename := filepath.Base(hit.SourcePath)
		if seen[filename] {
			continue
		}
		seen[filename] = true
		sources = append(sources, Source{Title: filename, Type: SourceTypePersonal})
	}
	return sources
}

// DeleteDocument removes every chunk belonging to the given document.
// Returns false on failure; a document with no stored chunks deletes
// successfully.
func (e *Engine) DeleteDocument(ctx context.Context, docID int64) bool {
	if err := e.index.DeleteByDocument(ctx, docID); err != nil {
		e.logger.Error("Failed to delete document from vector store", "doc_id", docID, "error", err)
		return false
	}
	e.logger.Info("Deleted document from vector store", "doc_id", docID)
	return true
}

// ClearAll drops the user's entire collection and storage directory.
// Idempotent; returns false only when the clear itself fails.
func (e *Engine) ClearAll(ctx context.Context) bool {
	if err := e.index.Clear(ctx); err != nil {
		e.logger.Error("Failed to clear user data", "error", err)
		return false
	}
	e.logger.Info("Cleared user vector data")
	return true
}

// DocumentCount returns the number of stored chunks, 0 on any failure.
func (e *Engine) DocumentCount(ctx context.Context) int {
	count, err := e.index.Count(ctx)
	if err != nil {
		e.logger.Error("Failed to count documents", "error", err)
		return 0
	}
	return int(count)
}
