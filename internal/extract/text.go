package extract

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// TextExtractor passes plain text through unchanged. Invalid UTF-8 is
// replaced so the chunker and embedder always see valid strings.
type TextExtractor struct{}

func (TextExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeText} }

func (TextExtractor) Extract(_ context.Context, src Source) (*Content, error) {
	data, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, err
	}
	text := strings.ToValidUTF8(string(data), "�")
	return &Content{
		Sections: []Section{{Text: text}},
		Attributes: map[string]string{
			"line_count": strconv.Itoa(strings.Count(text, "\n") + 1),
		},
	}, nil
}
