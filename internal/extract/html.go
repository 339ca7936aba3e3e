package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// htmlBlocks are the elements whose text becomes paragraphs.
const htmlBlocks = "h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, dt, dd"

// HTMLExtractor keeps the title and block-level text, dropping scripts,
// styles and navigation chrome.
type HTMLExtractor struct{}

func (HTMLExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeHTML} }

func (HTMLExtractor) Extract(_ context.Context, src Source) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(src.Reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, template").Remove()

	content := &Content{Attributes: map[string]string{}}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		content.Attributes["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		content.Attributes["description"] = strings.TrimSpace(desc)
	}

	var paras []string
	if title != "" {
		paras = append(paras, title)
	}
	doc.Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks (li > p) would otherwise be emitted twice.
		if s.Find(htmlBlocks).Length() > 0 {
			return
		}
		if t := collapseSpace(s.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	if len(paras) <= 1 {
		if t := collapseSpace(doc.Find("body").Text()); t != "" {
			paras = append(paras, t)
		}
	}

	content.Sections = []Section{{Text: strings.Join(paras, "\n\n")}}
	return content, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
