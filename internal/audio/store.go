// Package audio persists uploaded recordings on local disk until they are
// transcribed and purges them after a retention period.
package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDir matches the original deployment's AUDIO_DIR.
const DefaultDir = "/tmp/audio"

// Store writes audio files into a single directory.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now, logger: logger}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Save copies r into a new file named <uuid>.<ext> and returns its path.
// A partially written file is removed on error.
func (s *Store) Save(r io.Reader, ext string) (string, error) {
	ext = sanitizeExt(ext)
	path := filepath.Join(s.dir, uuid.NewString()+"."+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write audio file %s: %w", path, err)
	}

	s.logger.Debug("audio saved", "path", path, "bytes", n)
	return path, nil
}

// Purge deletes regular files whose modification time is older than olderThan
// and returns how many were removed.
func (s *Store) Purge(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("audio purge failed", "file", e.Name(), "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("audio files purged", "count", removed)
	}
	return removed, nil
}

// sanitizeExt keeps only lowercase alphanumerics so the extension cannot
// escape the directory. Anything unusable becomes "wav".
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > 8 {
		return "wav"
	}
	return b.String()
}
