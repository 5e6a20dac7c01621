package rag

import "errors"

// Internal failure taxonomy. Public engine operations never surface
// these; they collapse into neutral return values at the boundary. Tests
// assert on kinds via the unexported pipeline methods.
var (
	ErrNotFound          = errors.New("source file not found")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyExtraction   = errors.New("no text extracted")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrGenerationFailure = errors.New("generation failed")
)
