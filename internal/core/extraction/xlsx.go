package extraction

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/documind/internal/core"
)

// XlsxExtractor renders every sheet as a header line followed by one " | " joined line per non-empty row.
type XlsxExtractor struct{}

func (XlsxExtractor) Extract(ctx context.Context, data []byte) (*core.ExtractedText, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var b strings.Builder
	for _, name := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, corrupt("read sheet %q: %v", name, err)
		}

		b.WriteString("\n\n=== Sheet: ")
		b.WriteString(name)
		b.WriteString(" ===\n\n")
		for _, row := range rows {
			line := strings.Join(row, " | ")
			if strings.TrimSpace(strings.ReplaceAll(line, "|", "")) == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	count := len(sheets)
	return &core.ExtractedText{
		Text:      b.String(),
		PageCount: &count,
		Metadata:  map[string]string{"sheet_count": strconv.Itoa(count)},
	}, nil
}
