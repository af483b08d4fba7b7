package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotPDF is returned by LoadDocument for files without a .pdf extension.
var ErrNotPDF = errors.New("only PDF documents can be uploaded")

// maxDocumentSize bounds what LoadDocument will read into memory.
const maxDocumentSize = 50 << 20 // 50MB

// LoadDocument reads a PDF from disk into a Document named after the file's
// base name.
func LoadDocument(path string) (Document, error) {
	name := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return Document{}, fmt.Errorf("%s: %w", name, ErrNotPDF)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("reading document: %s is a directory", path)
	}
	if info.Size() > maxDocumentSize {
		return Document{}, fmt.Errorf("document %s is %d bytes, limit is %d", name, info.Size(), maxDocumentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}
	return Document{Name: name, Payload: data}, nil
}
