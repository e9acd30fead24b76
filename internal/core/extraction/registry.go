// Package extraction turns uploaded file bytes into plain text, one variant per supported file type.
package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.TextExtractor = (*Registry)(nil)

// Variant extracts one file type.
type Variant interface {
	Extract(ctx context.Context, data []byte) (*core.ExtractedText, error)
}

// Registry dispatches extraction on the declared file type.
type Registry struct {
	variants map[models.FileType]Variant
}

// NewRegistry returns a registry holding the pdf, docx, xlsx and text variants.
func NewRegistry() *Registry {
	return &Registry{variants: map[models.FileType]Variant{
		models.FileTypePDF:  PDFExtractor{},
		models.FileTypeDocx: DocxExtractor{},
		models.FileTypeXlsx: XlsxExtractor{},
		models.FileTypeText: PlainTextExtractor{},
	}}
}

// Extract runs the variant for fileType. Unknown types fail with ErrUnsupportedType.
func (r *Registry) Extract(ctx context.Context, data []byte, fileType models.FileType) (*core.ExtractedText, error) {
	v, ok := r.variants[fileType]
	if !ok {
		return nil, &core.ExtractionError{FileType: string(fileType), Err: core.ErrUnsupportedType}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := v.Extract(ctx, data)
	if err != nil {
		return nil, &core.ExtractionError{FileType: string(fileType), Err: err}
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	out.Metadata["file_type"] = string(fileType)
	return out, nil
}

var extensions = map[string]models.FileType{
	".pdf":  models.FileTypePDF,
	".docx": models.FileTypeDocx,
	".doc":  models.FileTypeDocx,
	".xlsx": models.FileTypeXlsx,
	".xls":  models.FileTypeXlsx,
	".txt":  models.FileTypeText,
	".md":   models.FileTypeText,
}

// FileTypeFromName maps a filename extension to a declared file type.
func FileTypeFromName(name string) (models.FileType, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ft, ok := extensions[ext]; ok {
		return ft, nil
	}
	return "", fmt.Errorf("%q: %w", ext, core.ErrUnsupportedType)
}

// ParseFileType accepts a declared type name, as sent by callers that already know it.
func ParseFileType(s string) (models.FileType, error) {
	switch ft := models.FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case models.FileTypePDF, models.FileTypeDocx, models.FileTypeXlsx, models.FileTypeText:
		return ft, nil
	case "txt":
		return models.FileTypeText, nil
	default:
		return "", fmt.Errorf("%q: %w", s, core.ErrUnsupportedType)
	}
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrCorruptInput, fmt.Sprintf(format, args...))
}
