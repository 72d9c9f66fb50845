package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/audiohub/internal/logging"
)

func TestStorePutAndStat(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("payload")

	if _, err := store.Put(context.Background(), "ch-1.mp3", bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	entry, err := store.Stat(context.Background(), "ch-1.mp3")
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if !entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, entry.ModTime)
	}
	if entry.URI != filepath.Join(store.Dir(), "ch-1.mp3") {
		t.Fatalf("unexpected uri: %s", entry.URI)
	}
	body, err := os.ReadFile(entry.URI)
	if err != nil || string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %q (%v)", body, err)
	}
}

func TestStoreStatMissing(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	if _, err := store.Stat(context.Background(), "missing.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreStatRemovesZeroByteFile(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	path := filepath.Join(store.Dir(), "broken.mp3")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	if _, err := store.Stat(context.Background(), "broken.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("zero-byte file should be reported absent, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("zero-byte file should be deleted, stat err=%v", err)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	writeEntry(t, store, "ch-1.mp3", 4, time.Now())

	if err := store.Delete(context.Background(), "ch-1.mp3"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := store.Delete(context.Background(), "ch-1.mp3"); err != nil {
		t.Fatalf("second delete should succeed, got %v", err)
	}
	if err := store.Delete(context.Background(), "never-existed.mp3"); err != nil {
		t.Fatalf("delete of absent entry should succeed, got %v", err)
	}
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	for _, name := range []string{"", "..", "../escape.mp3", "a/b.mp3", `a\b.mp3`, "ch-1.mp3.tmp"} {
		if _, err := store.Stat(context.Background(), name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestStoreListSkipsTempFilesAndDirectories(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	writeEntry(t, store, "ch-1.mp3", 8, time.Now())
	if err := os.WriteFile(filepath.Join(store.Dir(), "ch-2.mp3.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Mkdir(filepath.Join(store.Dir(), "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "ch-1.mp3" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	usage, err := store.Usage(context.Background())
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if usage.Files != 1 || usage.Bytes != 8 {
		t.Fatalf("temp files must not be counted: %+v", usage)
	}
}

func TestStoreListRecreatesMissingDirectory(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	if err := os.RemoveAll(store.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list, got %+v", entries)
	}
	if info, err := os.Stat(store.Dir()); err != nil || !info.IsDir() {
		t.Fatalf("cache dir should be recreated: %v", err)
	}
}

func TestStorePromoteKeepsEntryWhenChtimesFails(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	store.(*fileStore).chtimes = func(string, time.Time, time.Time) error {
		return errors.New("read-only filesystem")
	}
	f, err := store.CreateTemp("ch-1.mp3")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	f.Write([]byte("audio"))
	f.Close()

	entry, err := store.Promote("ch-1.mp3")
	if err != nil {
		t.Fatalf("promote should succeed after rename: %v", err)
	}
	if entry.SizeBytes != 5 {
		t.Fatalf("unexpected size %d", entry.SizeBytes)
	}
	if _, err := store.Stat(context.Background(), "ch-1.mp3"); err != nil {
		t.Fatalf("final file should exist: %v", err)
	}
}

func TestStorePromoteIsAtomic(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	f, err := store.CreateTemp("ch-1.mp3")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	if _, err := f.Write([]byte("first-")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if _, err := store.Stat(context.Background(), "ch-1.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("temp content must not be visible before promote, got %v", err)
	}

	f, err = store.AppendTemp("ch-1.mp3")
	if err != nil {
		t.Fatalf("append temp: %v", err)
	}
	if _, err := f.Write([]byte("second")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	entry, err := store.Promote("ch-1.mp3")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	body, _ := os.ReadFile(entry.URI)
	if string(body) != "first-second" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := store.TempSize("ch-1.mp3"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone after promote: %v", err)
	}
}

func TestStorePromoteRejectsEmptyTemp(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	f, err := store.CreateTemp("ch-1.mp3")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	f.Close()

	if _, err := store.Promote("ch-1.mp3"); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := store.Stat(context.Background(), "ch-1.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty temp must not be promoted: %v", err)
	}
}

func TestStoreTouchUpdatesModTime(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	old := time.Now().Add(-24 * time.Hour)
	writeEntry(t, store, "ch-1.mp3", 4, old)

	if err := store.Touch(context.Background(), "ch-1.mp3"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	entry, err := store.Stat(context.Background(), "ch-1.mp3")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !entry.ModTime.After(old.Add(time.Hour)) {
		t.Fatalf("modtime should move forward, got %v", entry.ModTime)
	}
	if err := store.Touch(context.Background(), "missing.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("touch on missing entry should return ErrNotFound, got %v", err)
	}
}

func TestPutFailureLeavesNoFinalFile(t *testing.T) {
	store := newTestStore(t, defaultTestLimits())
	body := io.MultiReader(bytes.NewReader([]byte("partial")), failingReader{})

	if _, err := store.Put(context.Background(), "ch-1.mp3", body, PutOptions{}); err == nil {
		t.Fatalf("expected put to fail")
	}
	if _, err := store.Stat(context.Background(), "ch-1.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("final file must not exist after failed put: %v", err)
	}
	if _, err := store.TempSize("ch-1.mp3"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be cleaned up: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func defaultTestLimits() Limits {
	return Limits{MaxBytes: 2 << 30, MaxFiles: 50}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T, limits Limits) Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "media_cache"), limits, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// writeEntry creates a sparse file of the given size with a fixed mtime.
func writeEntry(t *testing.T, store Store, name string, size int64, modTime time.Time) {
	t.Helper()
	path := filepath.Join(store.Dir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		t.Fatalf("truncate %s: %v", name, err)
	}
	f.Close()
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func chapterName(i int) string {
	return fmt.Sprintf("ch-%03d.mp3", i)
}
