package utils

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestFindAudioFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.mp3",
		"sub/b.FLAC",
		"sub/deeper/c.m4a",
		"notes.txt",
		"sub/.0b1c.mp3",
	}
	for _, f := range files {
		p := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindAudioFiles(dir)
	if err != nil {
		t.Fatalf("FindAudioFiles() error = %v", err)
	}
	sort.Strings(got)
	want := []string{
		filepath.Join(dir, "a.mp3"),
		filepath.Join(dir, "sub/b.FLAC"),
		filepath.Join(dir, "sub/deeper/c.m4a"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFindAudioFilesMissingDir(t *testing.T) {
	if _, err := FindAudioFiles(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := FindAudioFiles(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp3")
	dst := filepath.Join(dir, "nested", "dst.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still exists after move")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio" {
		t.Errorf("content = %q", data)
	}
}

func TestCopyFileContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	payload := bytes.Repeat([]byte("0123456789"), 5000)
	if err := os.WriteFile(src, payload, 0640); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileContext(context.Background(), src, dst); err != nil {
		t.Fatalf("CopyFileContext() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("copy differs from source")
	}
}

func TestCopyFileContextCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, bytes.Repeat([]byte("a"), 3*ChunkSize), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := CopyFileContext(ctx, src, dst); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("partial destination left behind")
	}
}

func TestOverwriteFileContextKeepsInode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "backup")
	dst := filepath.Join(dir, "orig")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(src, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("modified and longer"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(dst, link); err != nil {
		t.Skipf("hard links unsupported: %v", err)
	}

	if err := OverwriteFileContext(context.Background(), src, dst); err != nil {
		t.Fatalf("OverwriteFileContext() error = %v", err)
	}
	got, err := os.ReadFile(link)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("link content = %q, want %q", got, "original")
	}
}

type chunkCounter struct {
	bytes.Buffer
	writes int
}

func (c *chunkCounter) Write(p []byte) (int, error) {
	c.writes++
	return c.Buffer.Write(p)
}

func TestCopyContextChunks(t *testing.T) {
	var w chunkCounter
	r := bytes.NewReader(bytes.Repeat([]byte("b"), 2*ChunkSize+1))

	n, err := CopyContext(context.Background(), &w, r)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2*ChunkSize+1 {
		t.Errorf("n = %d", n)
	}
	if w.writes != 3 {
		t.Errorf("writes = %d, want 3", w.writes)
	}
}

func TestIsAudioFile(t *testing.T) {
	if !IsAudioFile("/x/Song.OPUS") {
		t.Error("opus should be audio")
	}
	if IsAudioFile("/x/cover.jpg") {
		t.Error("jpg should not be audio")
	}
}
