package audio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/szaher/voxgate/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audio"), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return s
}

func TestStoreSave(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save(strings.NewReader("RIFF...."), ".WAV")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if filepath.Dir(path) != s.Dir() {
		t.Errorf("saved outside dir: %s", path)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("extension = %q, want .wav", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "RIFF...." {
		t.Errorf("content = %q", data)
	}

	other, _ := s.Save(strings.NewReader("x"), "wav")
	if other == path {
		t.Error("two saves produced the same path")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStoreSaveRemovesPartialFile(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save(failingReader{}, "wav")
	testutil.AssertErrorContains(t, err, "connection reset")

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("partial file left behind: %d entries", len(entries))
	}
}

func TestSanitizeExt(t *testing.T) {
	tests := map[string]string{
		"wav":        "wav",
		".MP3":       "mp3",
		"../../etc":  "etc",
		"":           "wav",
		"/":          "wav",
		"averylongx": "wav",
	}
	for in, want := range tests {
		if got := sanitizeExt(in); got != want {
			t.Errorf("sanitizeExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStorePurge(t *testing.T) {
	s := newTestStore(t)

	oldPath, _ := s.Save(strings.NewReader("old"), "wav")
	newPath, _ := s.Save(strings.NewReader("new"), "wav")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("Chtimes error: %v", err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir error: %v", err)
	}

	n, err := s.Purge(24 * time.Hour)
	if err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge = %d, want 1", n)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old file still present")
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("new file removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "sub")); err != nil {
		t.Error("purge removed a directory")
	}
}
