package splitter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words returns n unique 4-character words: w000 w001 ...
func words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%03d", i)
	}
	return out
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := New(2500, 400)
	chunks := s.Split("A short document that fits in one chunk.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document that fits in one chunk.", chunks[0])
}

func TestSplitEmptyText(t *testing.T) {
	s := New(100, 20)
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  "))
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("alpha ", 10) + "alpha."
	para2 := strings.Repeat("beta ", 10) + "beta."
	text := para1 + "\n\n" + para2

	s := New(80, 10)
	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])
	assert.Equal(t, para2, chunks[1])
}

func TestSplitNeverBreaksMidWord(t *testing.T) {
	ws := words(200)
	text := strings.Join(ws, " ")

	s := New(100, 20)
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)

	valid := make(map[string]bool, len(ws))
	for _, w := range ws {
		valid[w] = true
	}
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		for _, w := range strings.Fields(chunk) {
			assert.True(t, valid[w], "chunk contains fragment %q", w)
		}
	}
}

func TestSplitChunkCountMatchesFormula(t *testing.T) {
	ws := words(200)
	text := strings.Join(ws, " ")

	size, overlap := 100, 20
	s := New(size, overlap)
	chunks := s.Split(text)

	// ceil((len - overlap) / (size - overlap)), within +/-1 for
	// word-boundary granularity.
	expected := (len(text) - overlap + (size - overlap) - 1) / (size - overlap)
	assert.InDelta(t, expected, len(chunks), 1)
}

func TestSplitAdjacentChunksOverlap(t *testing.T) {
	ws := words(200)
	text := strings.Join(ws, " ")

	s := New(100, 20)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	for i := 0; i < len(chunks)-1; i++ {
		// The next chunk must start with trailing content of this one.
		head := strings.Fields(chunks[i+1])[0]
		assert.Contains(t, chunks[i], head,
			"chunk %d does not carry overlap into chunk %d", i, i+1)
	}
}

func TestSplitCharacterFallbackForUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)

	s := New(100, 20)
	chunks := s.Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("x", 100), chunks[0])
	assert.Equal(t, strings.Repeat("x", 100), chunks[1])
	assert.Equal(t, strings.Repeat("x", 90), chunks[2])
}

func TestSplitFallsThroughToLowerPrioritySeparators(t *testing.T) {
	// One paragraph far over budget forces a fall-through to newline,
	// then space splitting inside that paragraph.
	lines := make([]string, 6)
	for i := range lines {
		lines[i] = strings.Join(words(10), " ")
	}
	oversized := strings.Join(lines, "\n")
	text := "intro paragraph\n\n" + oversized

	s := New(60, 10)
	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "intro paragraph", chunks[0])
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 60)
	}
}

func TestSplitDefaultParameters(t *testing.T) {
	s := New(2500, 400)
	text := strings.Repeat("lorem ipsum dolor sit amet ", 400) // ~10800 chars

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 2500)
	}
}
