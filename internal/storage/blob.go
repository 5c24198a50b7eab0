package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const refPrefix = "sha256:"

// ErrInvalidRef is returned for blob references not of the form sha256:<hex>.
var ErrInvalidRef = errors.New("invalid blob reference")

// BlobStore keeps uploaded receipt images, addressed by content hash.
type BlobStore interface {
	// Put stores data under its reference ("sha256:<hex>") and returns it.
	// Callers check Exists first to skip re-uploading known content.
	Put(ctx context.Context, data []byte, mediaType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// ContentRef returns the reference for data.
func ContentRef(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return raw, nil
}

// FileBlobStore stores blobs as <dir>/<hex>.blob.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore creates the blob directory if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(raw string) string {
	return filepath.Join(s.dir, raw+".blob")
}

// Put implements BlobStore.
func (s *FileBlobStore) Put(ctx context.Context, data []byte, mediaType string) (string, error) {
	ref := ContentRef(data)
	path := s.path(strings.TrimPrefix(ref, refPrefix))

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

// Get implements BlobStore.
func (s *FileBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(raw))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Exists implements BlobStore.
func (s *FileBlobStore) Exists(ctx context.Context, ref string) (bool, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(raw))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", ref, err)
	}
	return true, nil
}
