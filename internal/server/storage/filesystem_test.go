package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		name, n, err := store.Save(strings.NewReader("test content"), 1024)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}
		if !strings.HasSuffix(name, Extension) {
			t.Errorf("expected %s extension, got %s", Extension, name)
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("generates distinct names", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			name, _, err := store.Save(strings.NewReader("x"), 10)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[name] {
				t.Fatalf("duplicate stored name %s", name)
			}
			seen[name] = true
		}
	})

	t.Run("accepts content exactly at the limit", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		content := strings.Repeat("x", 1024*1024) // 1MB
		_, n, err := store.Save(strings.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != int64(len(content)) {
			t.Errorf("expected %d bytes, got %d", len(content), n)
		}
	})

	t.Run("rejects content over the limit and leaves nothing behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, _, err := store.Save(strings.NewReader(strings.Repeat("x", 101)), 100)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}
		assertEmptyDir(t, dir)
	})

	t.Run("read failure leaves nothing behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		broken := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("connection reset")))
		if _, _, err := store.Save(broken, 1024); err == nil {
			t.Fatal("expected error from failing reader")
		}
		assertEmptyDir(t, dir)
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	t.Run("streams stored bytes", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		content := bytes.Repeat([]byte{0, 1, 2, 3, 255}, 4096)
		name, _, err := store.Save(bytes.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		obj, err := store.Open(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer obj.Close()

		if obj.Size() != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), obj.Size())
		}
		got, err := io.ReadAll(obj)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Error("read bytes differ from stored bytes")
		}
	})

	t.Run("returns ErrFileNotFound for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		_, err := store.Open("0b8e3c2a-6a3c-4a55-9a7e-1f0a2b3c4d5e" + Extension)
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("rejects path components", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		for _, name := range []string{"../etc/passwd", "/etc/passwd", "notauuid.fcs", ""} {
			if _, err := store.Open(name); !errors.Is(err, ErrInvalidName) {
				t.Errorf("%q: expected ErrInvalidName, got %v", name, err)
			}
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		name, _, err := store.Save(strings.NewReader("data"), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.Delete(name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete("0b8e3c2a-6a3c-4a55-9a7e-1f0a2b3c4d5e" + Extension); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	name, _, err := store.Save(strings.NewReader("data"), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("part"), 0644)
	os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0644)
	os.Mkdir(filepath.Join(dir, "sub"), 0755)

	entries, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	if e, ok := byName[name]; !ok || e.Temp || e.Size != 4 {
		t.Errorf("unexpected entry for stored file: %+v", e)
	}
	if e, ok := byName[tempPrefix+"123"]; !ok || !e.Temp {
		t.Errorf("expected temp entry, got %+v", e)
	}
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty storage dir, found %d entries", len(entries))
	}
}
