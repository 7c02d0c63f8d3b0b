package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "capture")

	if err := osfs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	info, err := osfs.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat(%q) = %v, %v; want directory", dir, info, err)
	}

	name := filepath.Join(dir, "0000000000")
	w, err := osfs.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := osfs.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("expected 4 bytes, got %d", len(data))
	}

	if err := osfs.Remove(name); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if osfs.Exists(name) {
		t.Error("expected file to be removed")
	}
}

func TestMemoryFileSystem_WriteThrough(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/warnings.xml")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("<warnings>")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := mfs.ReadFile("/out/warnings.xml")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "<warnings>" {
		t.Errorf("expected data visible before Close, got %q", data)
	}
	if mfs.IsClosed("/out/warnings.xml") {
		t.Error("file reported closed before Close")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mfs.IsClosed("/out/warnings.xml") {
		t.Error("file not reported closed after Close")
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close = %v, want fs.ErrClosed", err)
	}
}

func TestMemoryFileSystem_Dirs(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(p) {
			t.Errorf("expected %s to exist", p)
		}
	}
	info, err := mfs.Stat("/a/b")
	if err != nil || !info.IsDir() {
		t.Errorf("Stat(/a/b) = %v, %v; want directory", info, err)
	}

	if err := mfs.Remove("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Remove(/missing) = %v, want ErrNotExist", err)
	}
	if _, err := mfs.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(/missing) = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_WriteFileStat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/captured.xml", []byte("<captured/>"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	info, err := mfs.Stat("/captured.xml")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len("<captured/>")) || info.Mode() != 0600 || info.IsDir() {
		t.Errorf("unexpected file info: size=%d mode=%v dir=%v", info.Size(), info.Mode(), info.IsDir())
	}
}

func TestMemoryFileSystem_Fail(t *testing.T) {
	mfs := NewMemoryFileSystem()
	denied := errors.New("permission denied")

	w, err := mfs.Create("/out/0000000000")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mfs.Fail("/out/0000000000", denied)
	mfs.Fail("/out/captured.xml", denied)

	if _, err := w.Write([]byte{1}); !errors.Is(err, denied) {
		t.Errorf("Write = %v, want %v", err, denied)
	}
	if _, err := mfs.Create("/out/0000000000"); !errors.Is(err, denied) {
		t.Errorf("Create = %v, want %v", err, denied)
	}
	if err := mfs.WriteFile("/out/captured.xml", nil, 0644); !errors.Is(err, denied) {
		t.Errorf("WriteFile = %v, want %v", err, denied)
	}

	mfs.Fail("/out/captured.xml", nil)
	if err := mfs.WriteFile("/out/captured.xml", []byte("<captured/>"), 0644); err != nil {
		t.Errorf("WriteFile after clearing failure: %v", err)
	}
}
