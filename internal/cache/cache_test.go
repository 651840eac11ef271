package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/bcdn-project/bcdn/internal/config"
	"github.com/bcdn-project/bcdn/internal/digest"
)

func admitFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hasher := blake3.New()
	hasher.Write([]byte(content))
	var sum [32]byte
	hasher.Sum(sum[:0])
	d, err := digest.New(path, "text/plain", sum)
	if err != nil {
		t.Fatalf("digest.New() error = %v", err)
	}
	if err := d.Write(root); err != nil {
		t.Fatalf("digest.Write() error = %v", err)
	}
}

func TestNewAdmitsVerifiedFiles(t *testing.T) {
	root := t.TempDir()
	entryRoot := filepath.Join(root, "distro")
	if err := os.MkdirAll(entryRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	admitFile(t, entryRoot, "good.iso", "verified content")

	c, err := New("distro", config.EntryConfig{BaseURL: "https://mirror.example/", Patterns: []string{"*.iso"}}, root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, d := c.Get("good.iso")
	if result != ResultOK {
		t.Fatalf("Get(good.iso) result = %v, want ResultOK", result)
	}
	if d.FileName != "good.iso" {
		t.Errorf("Get(good.iso) file name = %s, want good.iso", d.FileName)
	}
}

func TestNewSkipsTamperedFiles(t *testing.T) {
	root := t.TempDir()
	entryRoot := filepath.Join(root, "distro")
	if err := os.MkdirAll(entryRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	admitFile(t, entryRoot, "bad.iso", "original content")
	if err := os.WriteFile(filepath.Join(entryRoot, "bad.iso"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	c, err := New("distro", config.EntryConfig{BaseURL: "https://mirror.example/", Patterns: []string{"*.iso"}}, root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, _ := c.Get("bad.iso")
	if result != ResultNotCached {
		t.Errorf("Get(bad.iso) result = %v, want ResultNotCached (tampered file should not be admitted)", result)
	}
}

func TestGetPatternMismatch(t *testing.T) {
	root := t.TempDir()
	c, err := New("distro", config.EntryConfig{BaseURL: "https://mirror.example/", Patterns: []string{"*.iso"}}, root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, _ := c.Get("readme.txt")
	if result != ResultNotFound {
		t.Errorf("Get(readme.txt) result = %v, want ResultNotFound", result)
	}
}

func TestPromoteMakesEntryVisible(t *testing.T) {
	root := t.TempDir()
	c, err := New("distro", config.EntryConfig{BaseURL: "https://mirror.example/", Patterns: []string{"*.iso"}}, root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if result, _ := c.Get("new.iso"); result != ResultNotCached {
		t.Fatalf("Get(new.iso) before Promote = %v, want ResultNotCached", result)
	}

	c.Promote(digest.Digest{FileName: "new.iso", Hash: "deadbeef"})

	if result, d := c.Get("new.iso"); result != ResultOK || d.Hash != "deadbeef" {
		t.Errorf("Get(new.iso) after Promote = (%v, %+v), want ResultOK with hash deadbeef", result, d)
	}
}
