package extraction

import (
	"bytes"
	"context"
	"strconv"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/documind/internal/core"
)

// PDFExtractor reads the page count with pdfcpu and the text with docconv.
type PDFExtractor struct{}

func (PDFExtractor) Extract(_ context.Context, data []byte) (*core.ExtractedText, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, corrupt("read pdf: %v", err)
	}
	pages := pdfCtx.PageCount

	text, meta, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("convert pdf: %v", err)
	}

	md := map[string]string{"page_count": strconv.Itoa(pages)}
	for k, v := range meta {
		md[k] = v
	}
	return &core.ExtractedText{Text: text, PageCount: &pages, Metadata: md}, nil
}
