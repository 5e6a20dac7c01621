package loader

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// loadPlain reads a text file as a single segment, replacing invalid
// UTF-8 sequences with the replacement character.
func loadPlain(path string) ([]Segment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "�")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Segment{{Text: text, SourcePath: path}}, nil
}
