package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
)

// TextStore keeps one UTF-8 plain-text artifact per (ada, method) under
//
//	<root>/text/<ada-safe>/<method>.txt
//	<root>/text/<ada-safe>/<method>.json
//
// The sidecar records which document hash the text was derived from, so a
// recompute for unchanged bytes can be skipped.
type TextStore struct {
	root   string
	logger *slog.Logger
}

func NewTextStore(root string, logger *slog.Logger) (*TextStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(root, "text"), 0o755); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	return &TextStore{root: root, logger: logger}, nil
}

// Put writes the text artifact and its sidecar. Text is sanitized of lone
// UTF-16 surrogates before writing so the file is always valid UTF-8.
func (s *TextStore) Put(art entity.ExtractedText, text string) (entity.ExtractedText, error) {
	dir := filepath.Join(s.root, "text", safeName(art.ADA))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return art, &StorageError{Op: "mkdir", Err: err}
	}

	path := filepath.Join(dir, string(art.Method)+".txt")
	if err := writeFileAtomic(path, []byte(sanitizeUTF8(text)), 0o644); err != nil {
		return art, &StorageError{Op: "write text", Err: err}
	}
	art.Path = path

	meta, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return art, &StorageError{Op: "encode text meta", Err: err}
	}
	if err := writeFileAtomic(filepath.Join(dir, string(art.Method)+".json"), meta, 0o644); err != nil {
		return art, &StorageError{Op: "write text meta", Err: err}
	}

	s.logger.Info("store.text", "ada", art.ADA, "method", art.Method, "path", path, "quality", art.Quality)
	return art, nil
}

// Lookup returns the stored artifact for (ada, method) if it was derived from
// the document with the given hash, enabling extraction to be skipped on
// re-runs against unchanged bytes.
func (s *TextStore) Lookup(ada, docSHA string, method constants.ExtractionMethod) (entity.ExtractedText, bool, error) {
	dir := filepath.Join(s.root, "text", safeName(ada))
	data, err := os.ReadFile(filepath.Join(dir, string(method)+".json"))
	if os.IsNotExist(err) {
		return entity.ExtractedText{}, false, nil
	}
	if err != nil {
		return entity.ExtractedText{}, false, &StorageError{Op: "read text meta", Err: err}
	}
	var art entity.ExtractedText
	if err := json.Unmarshal(data, &art); err != nil {
		return entity.ExtractedText{}, false, &StorageError{Op: "decode text meta", Err: err}
	}
	if art.DocSHA != docSHA {
		return entity.ExtractedText{}, false, nil
	}
	return art, true, nil
}

// Latest returns whichever artifact exists for ada, preferring the native
// text layer over OCR output.
func (s *TextStore) Latest(ada, docSHA string) (entity.ExtractedText, bool, error) {
	for _, m := range []constants.ExtractionMethod{constants.MethodPDFText, constants.MethodPDFOCR} {
		art, ok, err := s.Lookup(ada, docSHA, m)
		if err != nil || ok {
			return art, ok, err
		}
	}
	return entity.ExtractedText{}, false, nil
}

// ReadText returns the stored plain text for an artifact.
func (s *TextStore) ReadText(art entity.ExtractedText) (string, error) {
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return "", &StorageError{Op: "read text", Err: err}
	}
	return string(data), nil
}

// sanitizeUTF8 drops lone surrogates and any other invalid sequences, which
// scanned Greek PDFs produce with some regularity.
func sanitizeUTF8(text string) string {
	return strings.ToValidUTF8(text, "")
}
