// Package loader provides text extraction from uploaded document files.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned when a file's extension is outside the
// supported set. Callers treat this as "nothing extracted", not a fault.
var ErrUnsupportedType = errors.New("unsupported file type")

// Segment is one extracted unit of raw text with its source metadata.
// PDF files produce one segment per page; DOCX and plain text produce one
// segment for the whole file.
type Segment struct {
	Text       string
	SourcePath string
	Page       int // 1-based page number for PDFs, 0 otherwise
}

// Loader extracts ordered text segments from document files.
type Loader struct{}

// New returns a new Loader.
func New() *Loader {
	return &Loader{}
}

// SupportedExtensions lists the extensions Load can handle.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt"}
}

// Load reads the file at path and returns its text segments in document
// order. Returns ErrUnsupportedType with zero segments for extensions
// outside {.pdf, .docx, .txt}. Empty files yield zero segments and no
// error.
func (l *Loader) Load(path string) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	case ".txt":
		return loadPlain(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}
