package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"
)

func writeFile(t *testing.T, dir, name, content string) [32]byte {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hasher := blake3.New()
	hasher.Write([]byte(content))
	var sum [32]byte
	hasher.Sum(sum[:0])
	return sum
}

func TestWriteAndForPath(t *testing.T) {
	dir := t.TempDir()
	sum := writeFile(t, dir, "file.bin", "hello world")

	path := filepath.Join(dir, "file.bin")
	d, err := New(path, "text/plain", sum)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Write(dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := ForPath(path)
	if err != nil {
		t.Fatalf("ForPath() error = %v", err)
	}
	if got.FileName != "file.bin" || got.Hash != d.Hash {
		t.Errorf("ForPath() = %+v, want %+v", got, d)
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	sum := writeFile(t, dir, "file.bin", "hello world")

	path := filepath.Join(dir, "file.bin")
	d, err := New(path, "text/plain", sum)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Write(dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("tampered content"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	got, err := ForPath(path)
	if err != nil {
		t.Fatalf("ForPath() error = %v", err)
	}
	if err := got.Verify(); err == nil {
		t.Error("Verify() expected error after tampering, got nil")
	}
}

func TestForPathMissingDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := ForPath(path); err == nil {
		t.Error("ForPath() expected error for a file with no digest sibling")
	}
}
