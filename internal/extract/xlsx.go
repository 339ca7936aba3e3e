package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Aman-CERP/searchme/internal/scanner"
)

// XLSXExtractor renders every sheet as tab-separated rows, one section per
// sheet.
type XLSXExtractor struct{}

func (XLSXExtractor) Types() []scanner.FileType { return []scanner.FileType{scanner.TypeXLSX} }

func (XLSXExtractor) Extract(ctx context.Context, src Source) (*Content, error) {
	f, err := excelize.OpenReader(src.Reader)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	content := &Content{Attributes: map[string]string{"sheet_count": strconv.Itoa(len(sheets))}}
	if props, err := f.GetDocProps(); err == nil && props != nil && props.Title != "" {
		content.Attributes["title"] = props.Title
	}

	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			continue
		}
		content.Sections = append(content.Sections, Section{
			Label: "sheet " + sheet,
			Text:  b.String(),
		})
	}
	return content, nil
}
