package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

const runFileExt = ".json"

// FileStore keeps one JSON file per run in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, apperrors.ValidationError("results dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.StorageError("create results dir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+runFileExt)
}

// Save implements Store. The file is written to a temp name and renamed so
// readers never see a partial run.
func (s *FileStore) Save(_ context.Context, run *evaluation.Run) error {
	if err := validateRun(run); err != nil {
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return apperrors.StorageError("encode run", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".run-*")
	if err != nil {
		return apperrors.StorageError("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.StorageError("write run", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.StorageError("write run", err)
	}
	if err := os.Rename(tmp.Name(), s.path(run.ID)); err != nil {
		return apperrors.StorageError("rename run file", err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id string) (*evaluation.Run, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.path(id), id)
}

func (s *FileStore) read(path, id string) (*evaluation.Run, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.StorageError("read run", err)
	}

	var run evaluation.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, apperrors.StorageError(fmt.Sprintf("decode run %s", id), err)
	}
	return &run, nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperrors.StorageError("list runs", err)
	}

	infos := make([]RunInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, runFileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, runFileExt)
		run, err := s.read(filepath.Join(s.dir, name), id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info(run))
	}

	sortNewestFirst(infos)
	return infos, nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.StorageError("delete run", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
