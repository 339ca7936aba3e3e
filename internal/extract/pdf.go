package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// PDFExtractor reads text page by page. Each page becomes a section so
// chunks never straddle pages.
type PDFExtractor struct{}

func (PDFExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypePDF} }

func (PDFExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	r, err := pdf.NewReader(src.Reader, src.Size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	content := &Content{Attributes: map[string]string{"page_count": strconv.Itoa(pages)}}
	if title := pdfTitle(r); title != "" {
		content.Attributes["title"] = title
	}

	var failed int
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			failed++
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		content.Sections = append(content.Sections, Section{
			Label: fmt.Sprintf("page %d", i),
			Text:  text,
		})
	}
	if pages > 0 && failed == pages {
		return nil, fmt.Errorf("no readable pages in %d", pages)
	}
	return content, nil
}

func pdfTitle(r *pdf.Reader) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	return strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())
}
