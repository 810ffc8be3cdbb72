// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pdiddy/review-engine/internal/export"
	"github.com/pdiddy/review-engine/pkg/types"
)

type exportRequest struct {
	Title          string               `json:"title,omitempty" validate:"max=200"`
	CitationFormat types.CitationFormat `json:"citation_format,omitempty" validate:"omitempty,oneof=apa gb mla harvard"`

	// Dense overrides the configured renumbering when set.
	Dense     *bool `json:"dense,omitempty"`
	CitedOnly bool  `json:"cited_only,omitempty"`
}

type exportResponse struct {
	Files      []string            `json:"files"`
	Stats      types.CitationStats `json:"citation_stats"`
	References int                 `json:"references"`
}

type savePromptRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Content string `json:"content" validate:"required"`
}

// exportReview writes the current content with its reference list.
func (s *Server) exportReview(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a := s.d.Orchestrator.Artifacts()
	if strings.TrimSpace(a.CurrentContent) == "" {
		writeError(w, http.StatusUnprocessableEntity, "no content to export")
		return
	}

	opts := export.Options{
		Title:     firstNonEmpty(req.Title, a.Topic),
		Format:    a.CitationFormat,
		Dense:     s.d.Export.Dense,
		CitedOnly: req.CitedOnly,
		Now:       time.Now(),
	}
	if req.CitationFormat != "" {
		opts.Format = req.CitationFormat
	}
	if req.Dense != nil {
		opts.Dense = *req.Dense
	}

	items, st := s.d.Pool.Snapshot()
	doc, err := export.Build(a.CurrentContent, items, st.FileCount, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := export.Write(s.d.Export.OutputDir, doc)
	if err != nil {
		writeOpError(w, err)
		return
	}
	s.logger.Info().Str("file", files.Markdown).Int("references", len(doc.References.Papers)).Msg("review exported")

	writeJSON(w, http.StatusOK, exportResponse{
		Files: []string{
			filepath.Base(files.Markdown),
			filepath.Base(files.BibTeX),
			filepath.Base(files.References),
			filepath.Base(files.CSL),
		},
		Stats:      doc.Stats,
		References: len(doc.References.Papers),
	})
}

func (s *Server) listExports(w http.ResponseWriter, _ *http.Request) {
	entries, err := export.List(s.d.Export.OutputDir)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// downloadExport serves one file from the export directory. Names with a
// path component are refused.
func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid export file name")
		return
	}
	path := filepath.Join(s.d.Export.OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// --- saved prompts ---

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.d.Store == nil {
		writeError(w, http.StatusNotFound, "saved prompts are not configured")
		return false
	}
	return true
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	prompts, err := s.d.Store.ListPrompts(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (s *Server) savePrompt(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req savePromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.d.Store.SavePrompt(r.Context(), types.SavedPrompt{Name: req.Name, Content: req.Content})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	p, err := s.d.Store.LoadPrompt(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePrompt(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.d.Store.DeletePrompt(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
