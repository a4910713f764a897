package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore keeps attachment content as files named by attachment id.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a LocalStore rooted at basePath, creating the
// directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("attachment: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes content through a temp file and rename.
func (s *LocalStore) Put(_ context.Context, id uuid.UUID, data []byte) error {
	name := id.String()
	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("attachment: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("attachment: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("attachment: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.basePath, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("attachment: rename temp file: %w", err)
	}
	return nil
}

// Get reads the content of an attachment.
func (s *LocalStore) Get(_ context.Context, id uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, id.String()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("attachment: read file: %w", err)
	}
	return data, nil
}
