// Package proxyserver implements the proxy node's HTTP surface: it never
// stores a byte, it only picks a cache node and redirects to it.
package proxyserver

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bcdn-project/bcdn/internal/globset"
)

// CacheInfo is everything the proxy knows about one configured entry: the
// pattern allow-list used to reject unknown files early, and the set of
// cache nodes willing to serve it.
type CacheInfo struct {
	Patterns globset.Set
	Nodes    []string
}

// Server dispatches client requests to a randomly chosen cache node.
type Server struct {
	entries map[string]CacheInfo
}

// New builds a Server for the given entries.
func New(entries map[string]CacheInfo) *Server {
	return &Server{entries: entries}
}

// Routes mounts the proxy's client-facing surface onto r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/c/{entry}/f/{filename}", s.handleFile)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	entryName := chi.URLParam(r, "entry")
	filename := chi.URLParam(r, "filename")

	if filename == "" || strings.Contains(filename, "/") {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	info, ok := s.entries[entryName]
	if !ok || !info.Patterns.Match(filename) || len(info.Nodes) == 0 {
		http.NotFound(w, r)
		return
	}

	node := info.Nodes[rand.IntN(len(info.Nodes))]
	target := fmt.Sprintf("%s/c/v1/%s/f/%s", strings.TrimSuffix(node, "/"), entryName, filename)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
