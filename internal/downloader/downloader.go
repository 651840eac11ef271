// Package downloader implements a single background worker that owns one
// HTTP connection slot: it streams a file to disk, hashes it with BLAKE3
// as it goes, and reports progress to callers between chunks.
package downloader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/bcdn-project/bcdn/internal/digest"
	"github.com/bcdn-project/bcdn/internal/job"
	"github.com/bcdn-project/bcdn/internal/rpc"
)

// checkpointSize is the accumulated-since-last-checkpoint threshold (in
// bytes) after which an interim digest is written.
const checkpointSize = 1 << 20 // 1 MiB

const readBufSize = 32 * 1024

var (
	// ErrBusy is returned by Start when the worker is not Idle.
	ErrBusy = errors.New("downloader: worker busy")
	// ErrHTTP is the error logged when the upstream response lacks a usable
	// Content-Length. Non-2xx responses are logged with their status code.
	ErrHTTP = errors.New("downloader: http error")
)

// Status is the worker's coarse state.
type Status int

const (
	StatusIdle Status = iota
	StatusDownloading
)

// Report is what Status() returns to callers.
type Report struct {
	Status     Status
	Key        job.Key
	Downloaded int64
	Size       int64
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStatus
	cmdStop
	cmdQuit
)

type command struct {
	kind cmdKind
	key  job.Key
	url  string
	path string
}

type replyKind int

const (
	replyOK replyKind = iota
	replyError
	replyIdle
	replyDownloading
)

type reply struct {
	kind       replyKind
	key        job.Key
	downloaded int64
	size       int64
}

// PromoteFunc is called synchronously on successful completion of a
// download, before the worker returns to Idle.
type PromoteFunc func(job.Key, digest.Digest)

// Worker is one downloader task. Construct with New; it owns a goroutine
// for its entire lifetime until Quit is called.
type Worker struct {
	handle  rpc.Handle[command, reply]
	promote PromoteFunc
}

// New starts a Worker goroutine backed by client and returns its handle.
func New(client *http.Client, promote PromoteFunc) *Worker {
	handle, recv := rpc.New[command, reply]()
	w := &Worker{handle: handle, promote: promote}
	go w.run(client, recv)
	return w
}

// Start requests the worker begin downloading url to path under key. It
// returns ErrBusy if the worker was not Idle.
func (w *Worker) Start(key job.Key, url, path string) error {
	r, err := w.handle.Call(command{kind: cmdStart, key: key, url: url, path: path})
	if err != nil {
		return err
	}
	if r.kind != replyOK {
		return ErrBusy
	}
	return nil
}

// Status reports the worker's current progress.
func (w *Worker) Status() Report {
	r, err := w.handle.Call(command{kind: cmdStatus})
	if err != nil {
		return Report{Status: StatusIdle}
	}
	if r.kind == replyDownloading {
		return Report{Status: StatusDownloading, Key: r.key, Downloaded: r.downloaded, Size: r.size}
	}
	return Report{Status: StatusIdle}
}

// Stop cancels the in-flight download, if any. The slot returns to Idle
// and the partial file is removed.
func (w *Worker) Stop() {
	_, _ = w.handle.Call(command{kind: cmdStop})
}

// Quit terminates the worker goroutine cleanly, after the current chunk.
func (w *Worker) Quit() {
	_, _ = w.handle.Call(command{kind: cmdQuit})
}

func (w *Worker) run(client *http.Client, recv *rpc.Receiver[command, reply]) {
	defer recv.Close()
	for {
		var start *command
		quit := false

		err := recv.ReplyOnce(func(c command) reply {
			switch c.kind {
			case cmdStart:
				cc := c
				start = &cc
				return reply{kind: replyOK}
			case cmdStatus:
				return reply{kind: replyIdle}
			case cmdStop:
				return reply{kind: replyOK}
			case cmdQuit:
				quit = true
				return reply{kind: replyOK}
			}
			return reply{kind: replyError}
		})
		if err != nil || quit {
			return
		}
		if start == nil {
			continue
		}

		if w.download(client, recv, start.key, start.url, start.path) {
			return
		}
	}
}

// download runs one fetch to completion, cancellation or failure. It
// returns true if the worker should quit entirely.
func (w *Worker) download(client *http.Client, recv *rpc.Receiver[command, reply], key job.Key, rawURL, path string) bool {
	fileName := filepath.Base(path)
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		log.Error().Str("key", key.String()).Msg("downloader: malformed target path")
		return false
	}

	resp, err := client.Get(rawURL)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("key", key.String()).Msg("downloader: non-2xx response")
		return false
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "unknown"
	}

	size, err := contentLength(resp)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: missing content length")
		return false
	}

	root := filepath.Dir(path)
	if err := os.MkdirAll(root, 0o755); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: mkdir failed")
		return false
	}

	tmpPath := filepath.Join(root, "."+fileName+".download")
	out, err := os.Create(tmpPath)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: create temp file failed")
		return false
	}

	hasher := blake3.New()
	buf := make([]byte, readBufSize)
	var downloaded, sinceCheckpoint int64
	quit := false

	cleanup := func() {
		out.Close()
		os.Remove(tmpPath)
	}

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				log.Error().Err(werr).Str("key", key.String()).Msg("downloader: write failed")
				cleanup()
				return false
			}
			hasher.Write(buf[:n])
			downloaded += int64(n)
			sinceCheckpoint += int64(n)

			if sinceCheckpoint >= checkpointSize {
				sinceCheckpoint = 0
				writeInterimDigest(hasher, size, downloaded, fileName, contentType, root)
			}
		}

		stop, q := serviceOneRPC(recv, key, downloaded, size)
		quit = quit || q
		if stop || quit {
			cleanup()
			return quit
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			log.Error().Err(rerr).Str("key", key.String()).Msg("downloader: read failed")
			cleanup()
			return false
		}
	}

	out.Close()

	var sum [32]byte
	hasher.Sum(sum[:0])

	d := digestFromSum(sum, size, fileName, contentType, root)
	if err := d.Write(root); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: digest write failed")
		os.Remove(tmpPath)
		return false
	}
	if err := os.Rename(tmpPath, path); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("downloader: rename failed")
		return false
	}

	if w.promote != nil {
		w.promote(key, d)
	}
	return false
}

// serviceOneRPC answers at most one pending status/stop/quit request,
// returning whether the current download should be cancelled (stop) and
// whether the worker should quit entirely.
func serviceOneRPC(recv *rpc.Receiver[command, reply], key job.Key, downloaded, size int64) (stop, quit bool) {
	err := recv.TryReplyOnce(func(c command) reply {
		switch c.kind {
		case cmdStatus:
			return reply{kind: replyDownloading, key: key, downloaded: downloaded, size: size}
		case cmdStop:
			stop = true
			return reply{kind: replyOK}
		case cmdQuit:
			quit = true
			return reply{kind: replyOK}
		case cmdStart:
			return reply{kind: replyError}
		}
		return reply{kind: replyError}
	})
	if err != nil && !errors.Is(err, rpc.ErrEmpty) {
		// Treated as a shutdown signal per the RPC error taxonomy.
		quit = true
	}
	return stop, quit
}

func writeInterimDigest(hasher *blake3.Hasher, size, downloaded int64, fileName, contentType, root string) {
	var sum [32]byte
	hasher.Clone().Sum(sum[:0])
	d := digestFromSum(sum, size, fileName, contentType, root)
	d.Downloaded = downloaded
	_ = d.Write(root) // interim digest write failures are ignored
}

func digestFromSum(sum [32]byte, size int64, fileName, contentType, root string) digest.Digest {
	return digest.Digest{
		Version:     digest.CurrentVersion,
		Size:        size,
		Downloaded:  size,
		FileName:    fileName,
		ContentType: contentType,
		Root:        root,
		Hash:        fmt.Sprintf("%x", sum),
	}
}

func contentLength(resp *http.Response) (int64, error) {
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: missing content-length", ErrHTTP)
	}
	return resp.ContentLength, nil
}
