// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns uploaded documents into plain text for metadata
// extraction. PDFs go through a pluggable Converter; text files are decoded
// with a UTF-8, GBK, Latin-1 fallback chain.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/pdiddy/review-engine/internal/container"
	"github.com/pdiddy/review-engine/pkg/types"
)

// ErrEmpty is returned when a document yields no text.
var ErrEmpty = errors.New("document has no text")

// Converter extracts text from a PDF stream. Backends are markitdown in a
// container and the pdftotext binary.
type Converter interface {
	Convert(ctx context.Context, pdf io.Reader) (string, error)
}

// New builds the converter for backend.
func New(ctx context.Context, backend types.PDFBackend) (Converter, error) {
	switch backend {
	case types.PDFMarkitdown:
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return nil, err
		}
		return NewMarkitdownConverter(ctx, rt)
	case types.PDFPdftotext, "":
		return NewPdftotextConverter()
	default:
		return nil, fmt.Errorf("unknown pdf backend %q", backend)
	}
}

// Text returns the decoded text of a document, cut to at most maxChars
// runes when maxChars is positive.
func Text(ctx context.Context, c Converter, format types.Format, data []byte, maxChars int) (string, error) {
	var text string
	switch format {
	case types.FormatTXT:
		text = Decode(data)
	case types.FormatPDF:
		if c == nil {
			return "", errors.New("no pdf converter configured")
		}
		out, err := c.Convert(ctx, bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		text = out
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	return Truncate(text, maxChars), nil
}

// Decode interprets bytes as UTF-8 when valid, then as GBK when that
// decodes cleanly, and otherwise as Latin-1, which never fails.
func Decode(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	if out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out)
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out)
}

// Truncate cuts s to at most n runes. n <= 0 leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
