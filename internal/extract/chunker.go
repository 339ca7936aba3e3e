package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default chunk bounds, in bytes of UTF-8 text.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 150
)

// Chunk is one embedding unit cut from a document section.
type Chunk struct {
	Ordinal int    // position within the document, from 0
	Section string // e.g. "page 3", "sheet Q1"; empty for single-section files
	Text    string
}

// Chunker splits text into bounded chunks, preferring to cut at paragraph
// breaks, then sentence ends, then whitespace. Consecutive chunks share
// Overlap bytes of context.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker clamps its arguments into a usable configuration.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split cuts text into chunks. Whitespace-only text yields none.
func (c Chunker) Split(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.cut(text, start, end)
		}

		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			out = append(out, piece)
		}
		if end == len(text) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = wordStart(text, next, end)
	}
	return out
}

// cut picks the end of a chunk that starts at start and may extend to limit.
// It searches only the back half so chunks stay reasonably full. The result
// is always a rune boundary past start.
func (c Chunker) cut(text string, start, limit int) int {
	limit = runeFloor(text, start, limit)
	if limit == start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	floor := min(runeFloor(text, start, start+c.Size/2), limit)
	window := text[floor:limit]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return floor + i + 2
	}

	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "\n"} {
		if i := strings.LastIndex(window, sep); i >= 0 && floor+i+len(sep) > best {
			best = floor + i + len(sep)
		}
	}
	if best > 0 {
		return best
	}

	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		return floor + i + size
	}
	return limit
}

// runeFloor moves pos back to the nearest rune boundary not before start.
func runeFloor(text string, start, pos int) int {
	for pos > start && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// wordStart moves pos forward to a rune boundary and, when pos falls inside a
// word, to the start of the next word (never past end).
func wordStart(text string, pos, end int) int {
	for pos < end && !utf8.RuneStart(text[pos]) {
		pos++
	}
	if pos == 0 || pos >= end {
		return pos
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:pos])
	if unicode.IsSpace(prev) {
		return pos
	}
	if i := strings.IndexFunc(text[pos:end], unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(text[pos+i:])
		return pos + i + size
	}
	return pos
}
