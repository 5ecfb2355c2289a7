// Package extraction turns an uploaded census sheet, patient board photo or
// pasted text into raw candidate patient records using an external
// recognition service.
package extraction

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBytes is the upload ceiling when none is configured.
const DefaultMaxBytes = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported document type: expected PDF, JPG or PNG")
	ErrTooLarge        = errors.New("document exceeds maximum allowed size")
	ErrEmptyDocument   = errors.New("document is empty")
	ErrNoCandidates    = errors.New("no patients found in document")
)

// Kind is the shape of content sent to the recognition service.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindText  Kind = "text"
)

const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeText = "text/plain"
)

// Document is one submission to the recognition service.
type Document struct {
	Filename string
	MimeType string
	Data     []byte
}

var extMimes = map[string]string{
	".pdf":  MimePDF,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".png":  MimePNG,
}

// Kind reports how the document is presented to the recognition service.
func (d Document) Kind() Kind {
	switch d.MimeType {
	case MimePDF:
		return KindPDF
	case MimeJPEG, MimePNG:
		return KindImage
	default:
		return KindText
	}
}

// NewTextDocument wraps freeform pasted text.
func NewTextDocument(text string) Document {
	return Document{Filename: "pasted.txt", MimeType: MimeText, Data: []byte(text)}
}

// Validate checks an uploaded file before submission and returns it with a
// canonical MimeType. The declared type wins when it is one of PDF, JPEG or
// PNG; otherwise the file extension decides.
func Validate(doc Document, maxBytes int64) (Document, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(doc.Data) == 0 {
		return doc, ErrEmptyDocument
	}
	if int64(len(doc.Data)) > maxBytes {
		return doc, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(doc.Data), maxBytes)
	}

	mime := normalizeMime(doc.MimeType)
	switch mime {
	case MimePDF, MimeJPEG, MimePNG:
	default:
		ext, ok := extMimes[strings.ToLower(filepath.Ext(doc.Filename))]
		if !ok {
			return doc, ErrUnsupportedType
		}
		mime = ext
	}

	doc.MimeType = mime
	doc.Filename = filepath.Base(doc.Filename)
	return doc, nil
}

// ValidateText checks pasted text against the same size ceiling.
func ValidateText(text string, maxBytes int64) (Document, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, ErrEmptyDocument
	}
	if int64(len(text)) > maxBytes {
		return Document{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(text), maxBytes)
	}
	if !utf8.ValidString(text) {
		return Document{}, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
	}
	return NewTextDocument(text), nil
}

func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" {
		return MimeJPEG
	}
	return m
}
