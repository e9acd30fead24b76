package extraction

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/documind/internal/core"
)

// DocxExtractor uses docconv. Paragraphs are joined by blank lines and counted as pages.
type DocxExtractor struct{}

func (DocxExtractor) Extract(_ context.Context, data []byte) (*core.ExtractedText, error) {
	body, meta, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("convert docx: %v", err)
	}

	var paragraphs []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	count := len(paragraphs)

	md := map[string]string{"paragraph_count": strconv.Itoa(count)}
	for k, v := range meta {
		md[k] = v
	}
	return &core.ExtractedText{
		Text:      strings.Join(paragraphs, "\n\n"),
		PageCount: &count,
		Metadata:  md,
	}, nil
}
