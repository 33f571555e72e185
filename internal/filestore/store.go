// Package filestore manages uploaded document content on disk. Filenames are
// {document_id}_{original_name}, unique under the single-writer-per-document
// invariant.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cortex/internal/apperr"
)

type Store struct {
	baseDir string
}

func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Infra("filestore", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save streams the uploaded bytes to disk and returns the absolute path.
// Runs outside any DB transaction; file I/O lives on its own goroutine so a
// slow disk never stalls request handling elsewhere.
func (s *Store) Save(documentID uuid.UUID, originalName string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%s_%s", documentID, sanitizeName(originalName))
	path := filepath.Join(s.baseDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", apperr.Infra("filestore", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", apperr.Infra("filestore", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Read returns the full file contents as text.
func (s *Store) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Infra("filestore", err)
	}
	return string(data), nil
}

// Delete removes the file. Missing files are not an error: cleanup is
// best-effort and may run more than once.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Infra("filestore", err)
	}
	return nil
}

// sanitizeName strips path separators so a hostile filename cannot escape
// the upload directory.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}
