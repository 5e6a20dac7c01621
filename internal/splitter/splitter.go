// Package splitter splits raw text into bounded-size overlapping chunks
// using a prioritized separator cascade.
package splitter

import "strings"

// DefaultSeparators is the separator cascade, highest priority first. The
// empty string is the character-level fallback.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter produces overlapping chunks of at most chunkSize characters,
// preferring to break on the earliest separator in the cascade that keeps
// pieces within budget. It never splits mid-word when a higher-priority
// separator is available.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a Splitter with the given chunk size and overlap.
// Overlap must be smaller than size; callers validate via config.
func New(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

// Split splits text into chunks. Adjacent chunks overlap by up to
// chunkOverlap characters. Whitespace-only pieces are dropped.
func (s *Splitter) Split(text string) []string {
	return s.splitText(text, s.separators)
}

// splitText recursively splits on the first separator found in text,
// merging small pieces back together and recursing with the remaining
// separators on pieces that still exceed the budget.
func (s *Splitter) splitText(text string, separators []string) []string {
	// Pick the highest-priority separator present in the text. The empty
	// string always matches and splits per character.
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	splits := splitOn(text, separator)

	var final []string
	var good []string
	for _, piece := range splits {
		if len(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		// Oversized piece: flush accumulated pieces, then recurse with
		// lower-priority separators.
		if len(good) > 0 {
			final = append(final, s.merge(good, separator)...)
			good = nil
		}
		if len(remaining) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.splitText(piece, remaining)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, separator)...)
	}
	return final
}

// merge greedily joins pieces with separator into chunks of at most
// chunkSize characters, carrying chunkOverlap characters of trailing
// pieces into the next chunk.
func (s *Splitter) merge(splits []string, separator string) []string {
	sepLen := len(separator)

	var chunks []string
	var current []string
	total := 0

	for _, piece := range splits {
		pieceLen := len(piece)
		joinLen := 0
		if len(current) > 0 {
			joinLen = sepLen
		}

		if total+pieceLen+joinLen > s.chunkSize && len(current) > 0 {
			if chunk := join(current, separator); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Slide the window: drop leading pieces until the carry-over
			// fits the overlap budget and leaves room for the new piece.
			for total > s.chunkOverlap ||
				(total+pieceLen+joinLen > s.chunkSize && total > 0) {
				total -= len(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += pieceLen
	}

	if chunk := join(current, separator); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitOn splits text by separator; the empty separator splits into
// single characters. Empty pieces are dropped.
func splitOn(text, separator string) []string {
	var raw []string
	if separator == "" {
		raw = strings.Split(text, "")
	} else {
		raw = strings.Split(text, separator)
	}
	pieces := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// join concatenates pieces with separator and trims surrounding
// whitespace, returning "" for whitespace-only results.
func join(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}
