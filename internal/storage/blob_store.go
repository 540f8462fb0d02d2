package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBlobStore holds uploaded file bytes on local disk between upload
// and parsing. Refs are "jobID/filename"; each job gets its own
// directory so a whole job can be reclaimed with one removal.
// Implements ingestion.BlobStore.
type FileBlobStore struct {
	root string
}

// NewFileBlobStore creates the blob root directory if needed.
func NewFileBlobStore(root string) (*FileBlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root is empty")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}

	return &FileBlobStore{root: root}, nil
}

// Put writes the blob, creating the job directory on first use.
func (s *FileBlobStore) Put(_ context.Context, ref string, data []byte) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", ref, err)
	}

	return nil
}

// Get reads the blob bytes.
func (s *FileBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}

	return data, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *FileBlobStore) Delete(_ context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", ref, err)
	}

	return nil
}

// resolve maps a ref to a path under root, rejecting traversal.
func (s *FileBlobStore) resolve(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}

	cleaned := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}

	return filepath.Join(s.root, cleaned), nil
}
