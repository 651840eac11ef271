// Package cacheserver implements the cache node's HTTP surface: serving
// already-mirrored files and redirecting callers to newly enqueued ones.
package cacheserver

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bcdn-project/bcdn/internal/cache"
	"github.com/bcdn-project/bcdn/internal/job"
	"github.com/bcdn-project/bcdn/internal/pool"
)

// Server routes requests for mirrored files across every configured entry.
type Server struct {
	caches map[string]*cache.Cache
	pool   *pool.Pool
}

// New builds a Server for the given entries and download pool.
func New(caches map[string]*cache.Cache, p *pool.Pool) *Server {
	return &Server{caches: caches, pool: p}
}

// Routes mounts the cache node's internal "/c/v1" surface onto r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/c/v1/{entry}/f/{filename}", s.handleFile)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	entryName := chi.URLParam(r, "entry")
	filename := chi.URLParam(r, "filename")

	if filename == "" || strings.Contains(filename, "/") {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	c, ok := s.caches[entryName]
	if !ok {
		http.NotFound(w, r)
		return
	}

	result, d := c.Get(filename)
	switch result {
	case cache.ResultNotFound:
		http.NotFound(w, r)
		return
	case cache.ResultOK:
		f, err := os.Open(d.FilePath())
		if err != nil {
			log.Error().Err(err).Str("entry", entryName).Str("file", filename).Msg("cacheserver: failed to open cached file")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", d.ContentType)
		w.Header().Set("ETag", `"`+d.Hash+`"`)
		http.ServeContent(w, r, filename, fileModTime(f), f)
		return
	case cache.ResultNotCached:
		s.pool.Enqueue(job.Key{Entry: entryName, FileName: filename}, job.Target{
			URL:  c.UpstreamURL(filename),
			Path: c.LocalPath(filename),
		})
		http.Redirect(w, r, c.UpstreamURL(filename), http.StatusTemporaryRedirect)
		return
	}
}

func fileModTime(f *os.File) time.Time {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
