package extraction

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/markdave123-py/documind/internal/core"
)

// PlainTextExtractor accepts UTF-8 text, with or without a byte order mark.
type PlainTextExtractor struct{}

var bom = []byte{0xEF, 0xBB, 0xBF}

func (PlainTextExtractor) Extract(_ context.Context, data []byte) (*core.ExtractedText, error) {
	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, corrupt("text is not valid UTF-8")
	}
	return &core.ExtractedText{Text: string(data)}, nil
}
