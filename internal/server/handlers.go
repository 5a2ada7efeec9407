package server

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lepinkainen/folio/internal/book"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSearch always answers 200 with a SearchResult, even when every
// source failed. Only malformed input is rejected.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := book.Query{
		Query:    params.Get("q"),
		Topic:    params.Get("topic"),
		Author:   params.Get("author"),
		Language: params.Get("language"),
		Sort:     params.Get("sort"),
		Source:   params.Get("source"),
	}
	if raw := params.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("page must be a number, got %q", raw))
			return
		}
		q.Page = page
	}
	if err := s.search.ValidateSource(q.Source); err != nil {
		writeFailure(w, err)
		return
	}

	res, err := s.search.Search(r.Context(), q)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.search.Sources(r.URL.Query().Get("q")))
}

func (s *Server) handleSourceLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.search.DirectLink(chi.URLParam(r, "id"), r.URL.Query().Get("q"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "url is required")
		return
	}
	resolved, err := s.resolver.Resolve(r.Context(), raw)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": resolved})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "url is required")
		return
	}

	dl, err := s.download.Open(r.Context(), raw)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer dl.Body.Close()

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "public, max-age=3600")
	h.Set("Content-Type", dl.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	if dl.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, dl.Body); err != nil {
		// Headers are gone; the client sees a truncated body.
		slog.Warn("Download stream interrupted", "url", dl.URL, "bytes", n, "error", err)
	}
}
