package downloader

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bcdn-project/bcdn/internal/digest"
	"github.com/bcdn-project/bcdn/internal/job"
)

func TestWorkerDownloadsAndVerifies(t *testing.T) {
	content := strings.Repeat("cdn-content-", 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write([]byte(content))
	}))
	defer server.Close()

	dir := t.TempDir()
	var promoted digest.Digest
	done := make(chan struct{})

	w := New(server.Client(), func(k job.Key, d digest.Digest) {
		promoted = d
		close(done)
	})
	defer w.Quit()

	path := filepath.Join(dir, "file.bin")
	if err := w.Start(job.Key{Entry: "e", FileName: "file.bin"}, server.URL, path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("download did not complete in time")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != content {
		t.Errorf("downloaded content mismatch: got %d bytes, want %d", len(data), len(content))
	}

	hasher := blake3.New()
	hasher.Write([]byte(content))
	var sum [32]byte
	hasher.Sum(sum[:0])
	want := hex.EncodeToString(sum[:])
	if promoted.Hash != want {
		t.Errorf("promoted digest hash = %s, want %s", promoted.Hash, want)
	}
	if promoted.FileName != "file.bin" {
		t.Errorf("promoted digest file name = %s, want file.bin", promoted.FileName)
	}
}

func TestWorkerStartWhileBusy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "20")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			w.Write([]byte("a"))
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	w := New(server.Client(), func(job.Key, digest.Digest) {})
	defer w.Quit()

	if err := w.Start(job.Key{Entry: "e", FileName: "f"}, server.URL, filepath.Join(dir, "f")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		if w.Status().Status == StatusDownloading {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := w.Start(job.Key{Entry: "e", FileName: "g"}, server.URL, filepath.Join(dir, "g")); err != ErrBusy {
		t.Errorf("Start() while busy error = %v, want ErrBusy", err)
	}
}

func TestWorkerNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	w := New(server.Client(), func(job.Key, digest.Digest) {
		t.Error("promote should not be called for a failed download")
	})
	defer w.Quit()

	if err := w.Start(job.Key{Entry: "e", FileName: "f"}, server.URL, filepath.Join(dir, "f")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		if w.Status().Status == StatusIdle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("worker never returned to idle after a failed fetch")
}
