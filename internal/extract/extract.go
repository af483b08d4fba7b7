// Package extract turns uploaded PDFs into overlapping text chunks.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a PDF parses but yields no text.
var ErrNoText = errors.New("no extractable text")

// ErrInvalidPDF wraps parser failures.
var ErrInvalidPDF = errors.New("invalid PDF")

// Text returns the plain text of every page, one page per line group.
// Pages that fail to decode are skipped.
func Text(r io.ReaderAt, size int64) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrInvalidPDF, p)
		}
	}()

	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPDF, err)
	}

	var sb strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		pt, err := page.GetPlainText(nil)
		if err != nil || pt == "" {
			continue
		}
		sb.WriteString(pt)
		sb.WriteString("\n")
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrNoText
	}
	return sb.String(), nil
}

// TextFromBytes is Text over an in-memory payload.
func TextFromBytes(data []byte) (string, error) {
	return Text(bytes.NewReader(data), int64(len(data)))
}

// Chunk splits text into windows of size runes, each starting overlap runes
// before the previous one ended. Chunks are whitespace-trimmed and blank
// chunks are dropped.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}
