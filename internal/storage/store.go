// Package storage persists records as pretty-printed JSON files and receipt
// images as content-addressed blobs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/shadowops/internal/models"
)

// ErrNotFound is returned when a record file does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidID is returned for ids that are unsafe to use as file names.
var ErrInvalidID = errors.New("invalid record id")

// Kind is a record type. Each kind lives in its own directory.
type Kind string

const (
	KindSession  Kind = "sessions"
	KindWorkflow Kind = "workflows"
	KindApproval Kind = "approvals"
	KindAgent    Kind = "agents"
	KindRun      Kind = "runs"
)

var suffixes = map[Kind]string{
	KindSession:  ".json",
	KindWorkflow: ".workflow.json",
	KindApproval: ".json",
	KindAgent:    ".agent.json",
	KindRun:      ".json",
}

// Store reads and writes records under a root directory.
// Writes are whole-file replacements; concurrent writers to one id race and
// the last rename wins.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. Directories are created lazily.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Path returns the file path for a record.
func (s *Store) Path(kind Kind, id string) (string, error) {
	suffix, ok := suffixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	if !models.ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.root, string(kind), id+suffix), nil
}

// Put writes v as indented JSON, replacing any existing record.
func (s *Store) Put(kind Kind, id string, v any) error {
	path, err := s.Path(kind, id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s dir: %w", kind, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s/%s: %w", kind, id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s/%s: %w", kind, id, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s/%s: %w", kind, id, err)
	}
	return nil
}

// Get decodes the record into v. Returns ErrNotFound if it does not exist.
func (s *Store) Get(kind Kind, id string, v any) error {
	path, err := s.Path(kind, id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return nil
}

// Exists reports whether a record file is present.
func (s *Store) Exists(kind Kind, id string) (bool, error) {
	path, err := s.Path(kind, id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s/%s: %w", kind, id, err)
	}
	return true, nil
}

// IDs lists the ids stored for a kind, sorted.
func (s *Store) IDs(kind Kind) ([]string, error) {
	suffix, ok := suffixes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(name, suffix)
		if models.ValidID(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
