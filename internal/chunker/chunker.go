package chunker

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/corpusworks/corpus/internal/domain"
)

// TextChunker splits UTF-8 text into overlapping windows, preferring to
// break at whitespace near the window edge. Offsets are character offsets
// into the decoded source text.
type TextChunker struct{}

func NewTextChunker() *TextChunker {
	return &TextChunker{}
}

// whitespaceLookback bounds how far back from a window edge we search for a
// break point before giving up and cutting mid-word.
const whitespaceLookback = 128

func (c *TextChunker) ChunkDocument(ctx context.Context, params domain.ChunkDocumentParams) ([]domain.TextChunk, error) {
	if !isTextMimeType(params.MimeType) {
		return nil, domain.NewValidationError(
			fmt.Sprintf("unsupported mime type %q", params.MimeType),
			map[string]string{"mime_type": "only text-based documents are supported"},
		)
	}

	if !utf8.Valid(params.Content) {
		return nil, domain.NewValidationError("document is not valid UTF-8", nil)
	}

	options := params.Options.WithDefaults()
	runes := []rune(string(params.Content))

	var chunks []domain.TextChunk

	start := 0
	for start < len(runes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + options.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakAtWhitespace(runes, start, end)
		}

		content := string(runes[start:end])
		if len(strings.TrimSpace(content)) >= options.MinCharsPerChunk {
			chunks = append(chunks, domain.TextChunk{
				Content:     content,
				StartOffset: start,
				EndOffset:   end,
				TokenCount:  EstimateTokenCount(content),
			})
		}

		if end == len(runes) {
			break
		}

		next := end - options.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

func breakAtWhitespace(runes []rune, start, end int) int {
	lookback := whitespaceLookback
	if lookback > end-start-1 {
		lookback = end - start - 1
	}

	for i := end - 1; i > end-1-lookback; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return end
}

// EstimateTokenCount approximates the token count as one token per four
// characters, rounded up. Matches the estimate used when persisting
// manually created chunks so aggregate counters stay comparable.
func EstimateTokenCount(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func isTextMimeType(mimeType string) bool {
	if mimeType == "" {
		return true
	}

	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	base = strings.ToLower(base)

	if strings.HasPrefix(base, "text/") {
		return true
	}

	switch base {
	case "application/json", "application/xml", "application/x-yaml",
		"application/yaml", "application/javascript", "application/csv",
		"application/x-ndjson", "application/markdown":
		return true
	}

	return false
}
