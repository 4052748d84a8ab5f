package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind is the content kind of an uploaded document.
type Kind string

const (
	KindText Kind = "text"
	KindPDF  Kind = "pdf"
)

// ErrUnsupportedKind is returned for documents that are neither plain text
// nor PDF.
var ErrUnsupportedKind = errors.New("unsupported document kind")

// DetectKind resolves the kind of data. A recognized declared hint wins; it
// may be a media type ("application/pdf"), a file name ("faq.txt") or a
// bare kind ("pdf"). Otherwise the content is sniffed.
func DetectKind(data []byte, declared string) (Kind, error) {
	if k, ok := kindFromHint(declared); ok {
		return k, nil
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		switch {
		case m.Is("application/pdf"):
			return KindPDF, nil
		case m.Is("text/plain"):
			return KindText, nil
		}
	}
	return "", ErrUnsupportedKind
}

func kindFromHint(h string) (Kind, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return "", false
	}
	if mt, _, err := mime.ParseMediaType(h); err == nil {
		switch {
		case mt == "application/pdf":
			return KindPDF, true
		case mt == "text/plain", mt == "text/markdown":
			return KindText, true
		}
	}
	switch strings.TrimPrefix(filepath.Ext(h), ".") {
	case "pdf":
		return KindPDF, true
	case "txt", "text", "md":
		return KindText, true
	}
	switch Kind(h) {
	case KindPDF, KindText:
		return Kind(h), true
	}
	return "", false
}

// TextExtractor turns document bytes into plain text.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// PlainText decodes UTF-8 text, honoring a UTF-16 or UTF-8 byte order mark.
type PlainText struct{}

// ExtractText implements TextExtractor.
func (PlainText) ExtractText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return strings.ReplaceAll(string(out), "\r\n", "\n"), nil
}

// PDFExtractor pulls text out of a PDF, one output line per text row so the
// marker convention survives extraction.
type PDFExtractor struct {
	// MaxPages bounds the pages read; 0 reads all.
	MaxPages int
}

// ExtractText implements TextExtractor.
func (e PDFExtractor) ExtractText(data []byte) (text string, err error) {
	// The reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	n := r.NumPage()
	if e.MaxPages > 0 && n > e.MaxPages {
		n = e.MaxPages
	}

	var b strings.Builder
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		for _, row := range rows {
			for _, t := range row.Content {
				b.WriteString(t.S)
			}
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// ExtractorFor returns the extractor for k.
func ExtractorFor(k Kind) (TextExtractor, error) {
	switch k {
	case KindText:
		return PlainText{}, nil
	case KindPDF:
		return PDFExtractor{}, nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// Document extracts text from data of kind k and parses it.
func Document(data []byte, k Kind) (Result, error) {
	ex, err := ExtractorFor(k)
	if err != nil {
		return Result{}, err
	}
	text, err := ex.ExtractText(data)
	if err != nil {
		return Result{}, err
	}
	return Parse(text), nil
}
