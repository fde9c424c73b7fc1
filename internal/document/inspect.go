package document

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/disintegration/imaging"
	"github.com/dslipak/pdf"
)

var logger = logger_i.NewLogger("Document")

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Info is what the core needs to know about a page source before talking to the engine.
type Info struct {
	Format    commonModels.DocFormat
	PageCount int
	// pixel size of the image; zero for pdf since the engine decides the raster
	Width  int
	Height int
}

// Decode turns the base64 payload of a request into a Document, filling in the page count and pixel size.
func Decode(id string, encoded string, format string) (commonModels.Document, error) {
	docFormat := commonModels.ParseFormat(format)
	if docFormat == commonModels.ERR {
		return commonModels.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	// data urls are common from the browser
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i > 0 {
		encoded = encoded[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return commonModels.Document{}, fmt.Errorf("decode image: %w", err)
	}
	info, err := Inspect(raw, docFormat)
	if err != nil {
		return commonModels.Document{}, err
	}
	return commonModels.Document{
		Id:        id,
		Image:     raw,
		Format:    docFormat,
		PageCount: info.PageCount,
		Width:     info.Width,
		Height:    info.Height,
	}, nil
}

func Inspect(raw []byte, format commonModels.DocFormat) (Info, error) {
	switch format {
	case commonModels.PDF:
		return inspectPDF(raw)
	case commonModels.PNG:
		return inspectImage(raw)
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func inspectPDF(raw []byte) (info Info, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pdf reader panicked", "panic", r)
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	pages := reader.NumPage()
	if pages < 1 {
		return Info{}, errors.New("pdf has no pages")
	}
	logger.Debug("inspected pdf", "pages", pages, "bytes", len(raw))
	return Info{Format: commonModels.PDF, PageCount: pages}, nil
}

func inspectImage(raw []byte) (Info, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return Info{}, fmt.Errorf("decode png: %w", err)
	}
	b := img.Bounds()
	return Info{Format: commonModels.PNG, PageCount: 1, Width: b.Dx(), Height: b.Dy()}, nil
}

// ValidatePage checks a 1-based page index against the document.
func ValidatePage(doc commonModels.Document, page int) error {
	if page < 1 {
		return fmt.Errorf("page %d: pages start at 1", page)
	}
	if doc.PageCount > 0 && page > doc.PageCount {
		return fmt.Errorf("page %d: document has %d pages", page, doc.PageCount)
	}
	return nil
}
