// Package digest implements the on-disk metadata record for one cached
// file: its size, content type and BLAKE3 hash.
package digest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// CurrentVersion is the digest file format version this package writes and
// the only version it will read.
const CurrentVersion = 1

var (
	// ErrFileNotFound is returned when the directory of the file a digest is
	// requested for, or its sibling .digest file, does not exist.
	ErrFileNotFound = errors.New("digest: file not found")
	// ErrInvalidFileName is returned when a path's file name is not valid UTF-8.
	ErrInvalidFileName = errors.New("digest: invalid file name")
	// ErrVerify is returned when a file's BLAKE3 hash does not match its digest.
	ErrVerify = errors.New("digest: hash verification failed")
	// ErrVersion is returned when a digest file carries an unsupported version.
	ErrVersion = errors.New("digest: unsupported version")
)

// Digest is the verified record for one cached file.
type Digest struct {
	Version     int    `json:"version"`
	Size        int64  `json:"size"`
	Downloaded  int64  `json:"downloaded"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`

	// Root is the absolute directory containing the file. It is never
	// serialized; it is reconstructed from the digest file's location.
	Root string `json:"-"`
}

// New builds a Digest for a completed file at path, statting it to obtain
// its size. Downloaded is set equal to Size.
func New(path, contentType string, hash [32]byte) (Digest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: stat %s: %w", path, err)
	}
	if contentType == "" {
		contentType = "unknown"
	}
	return Digest{
		Version:     CurrentVersion,
		Size:        info.Size(),
		Downloaded:  info.Size(),
		FileName:    filepath.Base(path),
		ContentType: contentType,
		Hash:        hex.EncodeToString(hash[:]),
		Root:        filepath.Dir(path),
	}, nil
}

// ForPath loads the digest sibling of a cached file: path's parent
// directory joined with "<file_name>.digest".
func ForPath(path string) (Digest, error) {
	fileName := filepath.Base(path)
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return Digest{}, ErrFileNotFound
	}
	if !validUTF8FileName(fileName) {
		return Digest{}, ErrInvalidFileName
	}
	root := filepath.Dir(path)
	return fromFile(filepath.Join(root, fileName+".digest"))
}

func fromFile(digestPath string) (Digest, error) {
	root := filepath.Dir(digestPath)
	if _, err := os.Stat(root); err != nil {
		return Digest{}, ErrFileNotFound
	}

	data, err := os.ReadFile(digestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, ErrFileNotFound
		}
		return Digest{}, fmt.Errorf("digest: read %s: %w", digestPath, err)
	}

	var d Digest
	if err := json.Unmarshal(data, &d); err != nil {
		return Digest{}, fmt.Errorf("digest: decode %s: %w", digestPath, err)
	}
	if d.Version != CurrentVersion {
		return Digest{}, fmt.Errorf("%w: got %d, want %d", ErrVersion, d.Version, CurrentVersion)
	}
	d.Root = root
	return d, nil
}

// Write writes a pretty-printed JSON encoding of d to
// root/"<file_name>.digest", replacing any existing file non-atomically.
// During a download the same file is rewritten with interim digests; the
// final digest is written once, before the downloaded file is renamed into
// place.
func (d Digest) Write(root string) error {
	path := filepath.Join(root, d.FileName+".digest")
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("digest: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("digest: write %s: %w", path, err)
	}
	return nil
}

// Verify rehashes the on-disk file with BLAKE3 and fails with ErrVerify on
// mismatch.
func (d Digest) Verify() error {
	f, err := os.Open(d.FilePath())
	if err != nil {
		return fmt.Errorf("digest: open %s: %w", d.FilePath(), err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("digest: hash %s: %w", d.FilePath(), err)
	}

	var sum [32]byte
	hasher.Sum(sum[:0])
	if hex.EncodeToString(sum[:]) != d.Hash {
		return ErrVerify
	}
	return nil
}

// FilePath is the absolute path to the cached file itself.
func (d Digest) FilePath() string {
	return filepath.Join(d.Root, d.FileName)
}

func validUTF8FileName(name string) bool {
	return utf8.ValidString(name)
}
