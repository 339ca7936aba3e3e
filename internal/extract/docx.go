package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// DOCXExtractor reads paragraphs from word/document.xml and the title
// from docProps/core.xml.
type DOCXExtractor struct{}

func (DOCXExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeDOCX} }

func (DOCXExtractor) Extract(_ context.Context, src Source) (*Content, error) {
	zr, err := zip.NewReader(src.Reader, src.Size)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var body, core *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			body = f
		case "docProps/core.xml":
			core = f
		}
	}
	if body == nil {
		return nil, fmt.Errorf("docx has no word/document.xml")
	}

	paragraphs, err := docxParagraphs(body)
	if err != nil {
		return nil, err
	}

	content := &Content{
		Sections:   []Section{{Text: strings.Join(paragraphs, "\n\n")}},
		Attributes: map[string]string{"paragraph_count": strconv.Itoa(len(paragraphs))},
	}
	if core != nil {
		if title := docxTitle(core); title != "" {
			content.Attributes["title"] = title
		}
	}
	return content, nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
		Tables     []struct {
			Rows []struct {
				Cells []struct {
					Paragraphs []docxParagraph `xml:"p"`
				} `xml:"tc"`
			} `xml:"tr"`
		} `xml:"tbl"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []string `xml:"t"`
	} `xml:"r"`
}

func (p docxParagraph) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}

func docxParagraphs(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc docxDocument
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}

	var out []string
	for _, p := range doc.Body.Paragraphs {
		if t := p.text(); t != "" {
			out = append(out, t)
		}
	}
	for _, tbl := range doc.Body.Tables {
		for _, row := range tbl.Rows {
			var cells []string
			for _, cell := range row.Cells {
				for _, p := range cell.Paragraphs {
					if t := p.text(); t != "" {
						cells = append(cells, t)
					}
				}
			}
			if len(cells) > 0 {
				out = append(out, strings.Join(cells, " | "))
			}
		}
	}
	return out, nil
}

func docxTitle(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	var props struct {
		Title string `xml:"title"`
	}
	data, err := io.ReadAll(rc)
	if err != nil || xml.Unmarshal(data, &props) != nil {
		return ""
	}
	return strings.TrimSpace(props.Title)
}
