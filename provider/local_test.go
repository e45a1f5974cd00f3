package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalProvider_Stat(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)
	ctx := context.Background()

	testFile := "MX_orders.zip"
	testContent := []byte("hello stat")
	if err := os.WriteFile(filepath.Join(tempBase, testFile), testContent, 0o640); err != nil {
		t.Fatal(err)
	}

	info, err := p.Stat(ctx, testFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != testFile {
		t.Errorf("expected %q, got %q", testFile, info.Name())
	}
	if info.Size() != int64(len(testContent)) {
		t.Errorf("expected size %d, got %d", len(testContent), info.Size())
	}
	if info.IsDir() {
		t.Errorf("expected isDir to be false")
	}
	mi, ok := info.(ModeInfo)
	if !ok {
		t.Fatalf("expected ModeInfo, got %T", info)
	}
	if mi.Mode() != 0o640 {
		t.Errorf("expected mode 0640, got %o", mi.Mode())
	}
}

func TestLocalProvider_List(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)
	ctx := context.Background()

	for _, name := range []string{"b.zip", "a.zip"} {
		if err := os.WriteFile(filepath.Join(tempBase, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tempBase, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	infos, err := p.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(infos))
	}

	want := []string{"a.zip", "b.zip", "sub"}
	for i, info := range infos {
		if info.Name() != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], info.Name())
		}
	}
	if !infos[2].IsDir() {
		t.Errorf("expected sub to be a directory")
	}
}

func TestLocalProvider_ListEmpty(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	infos, err := p.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no entries, got %d", len(infos))
	}
}

func TestLocalProvider_OpenRead(t *testing.T) {
	tempBase := t.TempDir()

	testFile := "test-read.txt"
	testContent := []byte("hello read")
	if err := os.WriteFile(filepath.Join(tempBase, testFile), testContent, 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewLocalProvider(tempBase)
	rc, err := p.OpenRead(context.Background(), testFile)
	if err != nil {
		t.Fatalf("OpenRead failed: %v", err)
	}

	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Errorf("ReadAll failed: %v", err)
	}
	if string(content) != string(testContent) {
		t.Errorf("expected content %q, got %q", testContent, content)
	}
}

func TestLocalProvider_OpenWrite(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)
	ctx := context.Background()

	testFile := "nested/test-write.txt"
	testContent := []byte("hello write")
	testModTime := time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC)

	metadata := NewFileInfo("test-write.txt", int64(len(testContent)), false, testModTime)

	wc, err := p.OpenWrite(ctx, testFile, metadata)
	if err != nil {
		t.Fatalf("OpenWrite failed: %v", err)
	}

	fullPath := filepath.Join(tempBase, testFile)
	if _, err := os.Stat(fullPath); !os.IsNotExist(err) {
		t.Errorf("expected final file to be absent before Close, got %v", err)
	}

	n, err := wc.Write(testContent)
	if err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if n != len(testContent) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testContent), n)
	}

	if err := wc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	readContent, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(readContent) != string(testContent) {
		t.Errorf("expected content %q, got %q", testContent, readContent)
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !stat.ModTime().Equal(testModTime) {
		t.Errorf("expected mod time %v, got %v", testModTime, stat.ModTime())
	}
	if _, err := os.Stat(fullPath + ".part"); !os.IsNotExist(err) {
		t.Errorf("expected part file to be gone, got %v", err)
	}
}

func TestLocalProvider_OpenWriteOverwrites(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(tempBase, "x.zip"), []byte("old contents that are longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	wc, err := p.OpenWrite(ctx, "x.zip", nil)
	if err != nil {
		t.Fatalf("OpenWrite failed: %v", err)
	}
	if _, err := wc.Write([]byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(tempBase, "x.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestLocalProvider_Abort(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)

	wc, err := p.OpenWrite(context.Background(), "partial.zip", nil)
	if err != nil {
		t.Fatalf("OpenWrite failed: %v", err)
	}
	if _, err := wc.Write([]byte("half")); err != nil {
		t.Fatal(err)
	}

	aborter, ok := wc.(Aborter)
	if !ok {
		t.Fatalf("expected local writer to implement Aborter")
	}
	if err := aborter.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	// Close after Abort is a no-op.
	if err := wc.Close(); err != nil {
		t.Errorf("Close after Abort failed: %v", err)
	}

	entries, err := os.ReadDir(tempBase)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty directory after abort, found %d entries", len(entries))
	}
}

func TestLocalProvider_RemoveAndMkdir(t *testing.T) {
	tempBase := t.TempDir()
	p := NewLocalProvider(tempBase)
	ctx := context.Background()

	if err := p.MkdirAll(ctx, "a/b/c"); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if info, err := os.Stat(filepath.Join(tempBase, "a/b/c")); err != nil || !info.IsDir() {
		t.Fatalf("expected directory, got %v", err)
	}

	target := filepath.Join(tempBase, "gone.zip")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(ctx, "gone.zip"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("expected file removed, got %v", err)
	}
	if err := p.Remove(ctx, "gone.zip"); err != nil {
		t.Errorf("removing a missing file should succeed, got %v", err)
	}
}

func TestLocalProvider_CancelledContext(t *testing.T) {
	p := NewLocalProvider(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.List(ctx, ""); err == nil {
		t.Errorf("expected error for cancelled context")
	}
	if _, err := p.OpenWrite(ctx, "x", nil); err == nil {
		t.Errorf("expected error for cancelled context")
	}
}
