package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore keeps the latest snapshot in a single JSON file.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a JSON-backed snapshot store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.With().Str("path", path).Logger()}
}

// Load reads the last snapshot. A missing file yields an empty snapshot; an
// unreadable one is moved aside to <path>.corrupt and also yields an empty
// snapshot.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info().Msg("no state snapshot yet")
		return emptySnapshot(), nil
	case err != nil:
		return Snapshot{}, fmt.Errorf("read state snapshot: %w", err)
	}

	snapshot := emptySnapshot()
	if err := json.Unmarshal(data, &snapshot); err != nil {
		aside := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			s.logger.Warn().Err(renameErr).Msg("could not move corrupt snapshot aside")
		}
		s.logger.Warn().Err(err).Str("moved_to", aside).Msg("state snapshot corrupt, ignoring it")
		return emptySnapshot(), nil
	}
	if snapshot.Services == nil {
		snapshot.Services = map[string]ServiceState{}
	}
	return snapshot, nil
}

// Save replaces the snapshot file. Readers see either the old or the new
// file, never a partial write.
func (s *FileStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.Services == nil {
		snapshot.Services = map[string]ServiceState{}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write state snapshot: %w", err)
	}
	s.logger.Debug().Int("endpoints", len(snapshot.Services)).Msg("state snapshot saved")
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	if d, openErr := os.Open(dir); openErr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
