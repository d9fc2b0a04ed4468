// Package store persists raw documents content-addressed on the local
// filesystem and extracted-text artifacts next to them. Raw documents are
// write-once: a re-fetched document either dedups against the latest version
// or appends a new one, nothing is ever overwritten.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
)

// ContentStore lays raw documents out as
//
//	<root>/raw/<ada-safe>/<version>-<hash12>.pdf
//	<root>/raw/<ada-safe>/versions.json
//
// with the version index written atomically (tmp + rename).
type ContentStore struct {
	root   string
	logger *slog.Logger
}

type versionIndex struct {
	ADA      string               `json:"ada"`
	Versions []entity.RawDocument `json:"versions"`
}

func NewContentStore(root string, logger *slog.Logger) (*ContentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(root, "raw"), 0o755); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	return &ContentStore{root: root, logger: logger}, nil
}

// Put stores document bytes for ada. If the content hash equals the latest
// stored version the call is an idempotent no-op returning that version;
// otherwise a new version is appended. Returns the stored document and
// whether it was deduplicated.
func (s *ContentStore) Put(ada string, data []byte, sourceURL string) (entity.RawDocument, bool, error) {
	sum := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sum[:])

	idx, err := s.loadIndex(ada)
	if err != nil {
		return entity.RawDocument{}, false, err
	}

	if n := len(idx.Versions); n > 0 && idx.Versions[n-1].SHA256 == hashHex {
		s.logger.Debug("store.dedup", "ada", ada, "sha256", hashHex[:12])
		return idx.Versions[n-1], true, nil
	}

	version := len(idx.Versions) + 1
	dir := filepath.Join(s.root, "raw", safeName(ada))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return entity.RawDocument{}, false, &StorageError{Op: "mkdir", Err: err}
	}

	name := fmt.Sprintf("%d-%s.pdf", version, hashHex[:12])
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, data, 0o444); err != nil {
		return entity.RawDocument{}, false, &StorageError{Op: "write raw", Err: err}
	}

	doc := entity.RawDocument{
		ADA:       ada,
		Version:   version,
		SHA256:    hashHex,
		SourceURL: sourceURL,
		Size:      int64(len(data)),
		Path:      path,
		FetchedAt: time.Now().UTC(),
	}
	idx.ADA = ada
	idx.Versions = append(idx.Versions, doc)
	if err := s.saveIndex(ada, idx); err != nil {
		return entity.RawDocument{}, false, err
	}

	s.logger.Info("store.put", "ada", ada, "version", version, "sha256", hashHex[:12], "bytes", len(data))
	return doc, false, nil
}

// Get returns the latest stored version for ada, or ErrNotFound.
func (s *ContentStore) Get(ada string) (entity.RawDocument, error) {
	idx, err := s.loadIndex(ada)
	if err != nil {
		return entity.RawDocument{}, err
	}
	if len(idx.Versions) == 0 {
		return entity.RawDocument{}, ErrNotFound
	}
	return idx.Versions[len(idx.Versions)-1], nil
}

// GetByHash returns the stored version of ada with the given content hash.
func (s *ContentStore) GetByHash(ada, hashHex string) (entity.RawDocument, error) {
	idx, err := s.loadIndex(ada)
	if err != nil {
		return entity.RawDocument{}, err
	}
	for _, v := range idx.Versions {
		if v.SHA256 == hashHex {
			return v, nil
		}
	}
	return entity.RawDocument{}, ErrNotFound
}

// Versions returns every stored version for ada, oldest first.
func (s *ContentStore) Versions(ada string) ([]entity.RawDocument, error) {
	idx, err := s.loadIndex(ada)
	if err != nil {
		return nil, err
	}
	return idx.Versions, nil
}

// ReadBytes returns the verbatim bytes of a stored document.
func (s *ContentStore) ReadBytes(doc entity.RawDocument) ([]byte, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, &StorageError{Op: "read raw", Err: err}
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != doc.SHA256 {
		return nil, &StorageError{Op: "read raw", Err: fmt.Errorf("hash mismatch for %s v%d", doc.ADA, doc.Version)}
	}
	return data, nil
}

// PutEnvelope persists the decision's raw metadata envelope next to its
// document versions, so normalization can resume after a crash without
// re-fetching.
func (s *ContentStore) PutEnvelope(ada string, raw []byte) error {
	dir := filepath.Join(s.root, "raw", safeName(ada))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Err: err}
	}
	if err := writeFileAtomic(filepath.Join(dir, "envelope.json"), raw, 0o644); err != nil {
		return &StorageError{Op: "write envelope", Err: err}
	}
	return nil
}

// GetEnvelope returns the stored metadata envelope for ada, or ErrNotFound.
func (s *ContentStore) GetEnvelope(ada string) (entity.MetadataEnvelope, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "raw", safeName(ada), "envelope.json"))
	if os.IsNotExist(err) {
		return entity.MetadataEnvelope{}, ErrNotFound
	}
	if err != nil {
		return entity.MetadataEnvelope{}, &StorageError{Op: "read envelope", Err: err}
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return entity.MetadataEnvelope{}, &StorageError{Op: "decode envelope", Err: err}
	}
	return entity.MetadataEnvelope{ADA: ada, Raw: data, Fields: fields}, nil
}

func (s *ContentStore) indexPath(ada string) string {
	return filepath.Join(s.root, "raw", safeName(ada), "versions.json")
}

func (s *ContentStore) loadIndex(ada string) (versionIndex, error) {
	var idx versionIndex
	data, err := os.ReadFile(s.indexPath(ada))
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, &StorageError{Op: "read index", Err: err}
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, &StorageError{Op: "decode index", Err: err}
	}
	return idx, nil
}

func (s *ContentStore) saveIndex(ada string, idx versionIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode index", Err: err}
	}
	if err := writeFileAtomic(s.indexPath(ada), data, 0o644); err != nil {
		return &StorageError{Op: "write index", Err: err}
	}
	return nil
}

// safeName maps an ADA (which contains '/' and Greek letters) to a single
// filesystem path segment.
func safeName(ada string) string {
	return strings.ReplaceAll(ada, "/", "_")
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
