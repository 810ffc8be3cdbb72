// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pdiddy/review-engine/internal/citation"
	"github.com/pdiddy/review-engine/internal/ingest"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// multipartMemory is the part of an upload held in memory; the rest spills
// to temporary files.
const multipartMemory = 32 << 20

type rejectionResponse struct {
	Filename string        `json:"filename"`
	Reason   ingest.Reason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
}

type uploadResponse[T any] struct {
	Accepted []T                 `json:"accepted"`
	Rejected []rejectionResponse `json:"rejected"`
}

type poolResponse struct {
	Status types.PoolStatus       `json:"status"`
	Items  []types.LiteratureItem `json:"items"`
}

type topicRequest struct {
	Topic          string               `json:"topic" validate:"required"`
	CitationFormat types.CitationFormat `json:"citation_format,omitempty" validate:"omitempty,oneof=apa gb mla harvard"`
}

type topicResponse struct {
	Topic          string               `json:"topic"`
	CitationFormat types.CitationFormat `json:"citation_format"`
}

type selectModelRequest struct {
	Name string `json:"name" validate:"required"`
}

type modelsResponse struct {
	Models   []llm.Model `json:"models"`
	Selected string      `json:"selected,omitempty"`
}

type paradigmRequest struct {
	Text   string `json:"text,omitempty" validate:"required_without=Prompt"`
	Prompt string `json:"prompt,omitempty" validate:"required_without=Text"`
}

type jobRequest struct {
	Stage          types.Stage          `json:"stage" validate:"required"`
	Topic          string               `json:"topic,omitempty"`
	CitationFormat types.CitationFormat `json:"citation_format,omitempty" validate:"omitempty,oneof=apa gb mla harvard"`
	Section        types.Section        `json:"section,omitempty"`
	Paradigm       string               `json:"paradigm,omitempty"`
	Framework      string               `json:"framework,omitempty"`
	Content        string               `json:"content,omitempty"`
	Feedback       string               `json:"feedback,omitempty"`
}

type stepsResponse struct {
	Steps   []types.StepState `json:"steps"`
	Current types.Step        `json:"current"`
}

type completeStepRequest struct {
	Step types.Step `json:"step" validate:"min=1,max=4"`
}

type citationsResponse struct {
	Stats types.CitationStats `json:"stats"`
	Audit citation.Report     `json:"audit"`
}

// readUploads parses the repeatable multipart field "files".
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.d.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the request size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return nil, false
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, `no files in form field "files"`)
		return nil, false
	}
	return files, true
}

// ingestFiles submits each file and sorts the outcomes. Rejected files
// never fail the request.
func ingestFiles[T any](s *Server, files []*multipart.FileHeader, submit func([]byte, string) (T, error)) uploadResponse[T] {
	resp := uploadResponse[T]{Accepted: []T{}, Rejected: []rejectionResponse{}}
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		data, err := readPart(fh)
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejectionResponse{Filename: name, Reason: "unreadable", Detail: err.Error()})
			continue
		}
		item, err := submit(data, name)
		if err != nil {
			rej := rejectionResponse{Filename: name, Reason: "rejected", Detail: err.Error()}
			var r *ingest.Rejection
			if errors.As(err, &r) {
				rej.Reason, rej.Detail = r.Reason, r.Detail
			}
			if s.d.Metrics != nil {
				s.d.Metrics.RecordUploadRejected(string(rej.Reason))
			}
			resp.Rejected = append(resp.Rejected, rej)
			continue
		}
		resp.Accepted = append(resp.Accepted, item)
	}
	return resp
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// --- literature pool ---

func (s *Server) getPool(w http.ResponseWriter, _ *http.Request) {
	items, st := s.d.Pool.Snapshot()
	writeJSON(w, http.StatusOK, poolResponse{Status: st, Items: items})
}

func (s *Server) uploadLiterature(w http.ResponseWriter, r *http.Request) {
	files, ok := s.readUploads(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()
	writeJSON(w, http.StatusOK, ingestFiles(s, files, s.d.Pool.Submit))
}

func (s *Server) getLiterature(w http.ResponseWriter, r *http.Request) {
	item, ok := s.d.Pool.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "literature item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) removeLiterature(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Pool.Remove(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.d.Pool.Status())
}

func (s *Server) clearPool(w http.ResponseWriter, _ *http.Request) {
	s.d.Pool.Clear()
	writeJSON(w, http.StatusOK, s.d.Pool.Status())
}

// --- exemplars ---

func (s *Server) listExemplars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Exemplars.List())
}

func (s *Server) uploadExemplars(w http.ResponseWriter, r *http.Request) {
	files, ok := s.readUploads(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()
	writeJSON(w, http.StatusOK, ingestFiles(s, files, s.d.Exemplars.Submit))
}

func (s *Server) removeExemplar(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Exemplars.Remove(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearExemplars(w http.ResponseWriter, _ *http.Request) {
	s.d.Exemplars.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// --- session ---

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.d.Models.Models(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	selected, _ := s.d.Orchestrator.ModelSelection()
	writeJSON(w, http.StatusOK, modelsResponse{Models: models, Selected: selected})
}

func (s *Server) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Orchestrator.SelectModel(r.Context(), req.Name); err != nil {
		writeOpError(w, err)
		return
	}
	s.getSteps(w, r)
}

func (s *Server) getTopic(w http.ResponseWriter, _ *http.Request) {
	a := s.d.Orchestrator.Artifacts()
	writeJSON(w, http.StatusOK, topicResponse{Topic: a.Topic, CitationFormat: a.CitationFormat})
}

func (s *Server) setTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Orchestrator.SetTopic(req.Topic, req.CitationFormat); err != nil {
		writeOpError(w, err)
		return
	}
	s.getTopic(w, r)
}

// setParadigm stores a paradigm given inline or by saved prompt name.
func (s *Server) setParadigm(w http.ResponseWriter, r *http.Request) {
	var req paradigmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text := req.Text
	if text == "" {
		if s.d.Store == nil {
			writeError(w, http.StatusNotFound, "saved prompts are not configured")
			return
		}
		p, err := s.d.Store.LoadPrompt(r.Context(), req.Prompt)
		if err != nil {
			writeOpError(w, err)
			return
		}
		text = p.Content
	}
	if err := s.d.Orchestrator.SetParadigm(text); err != nil {
		writeOpError(w, err)
		return
	}
	s.getSteps(w, r)
}

func (s *Server) clearHistory(w http.ResponseWriter, _ *http.Request) {
	s.d.Orchestrator.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Orchestrator.Artifacts())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Orchestrator.Reset(); err != nil {
		writeOpError(w, err)
		return
	}
	s.getSteps(w, r)
}

func (s *Server) getSteps(w http.ResponseWriter, _ *http.Request) {
	steps, current := s.d.Orchestrator.Steps()
	writeJSON(w, http.StatusOK, stepsResponse{Steps: steps, Current: current})
}

func (s *Server) completeStep(w http.ResponseWriter, r *http.Request) {
	var req completeStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Orchestrator.CompleteStep(req.Step); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.getSteps(w, r)
}

func (s *Server) getCitations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, citationsResponse{
		Stats: s.d.Orchestrator.CitationStats(),
		Audit: s.d.Orchestrator.CitationAudit(),
	})
}

// --- jobs ---

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.d.Orchestrator.Start(r.Context(), pipeline.Request{
		Stage:     req.Stage,
		Topic:     req.Topic,
		Format:    req.CitationFormat,
		Section:   req.Section,
		Paradigm:  req.Paradigm,
		Framework: req.Framework,
		Content:   req.Content,
		Feedback:  req.Feedback,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) currentJob(w http.ResponseWriter, _ *http.Request) {
	job, ok := s.d.Orchestrator.Current()
	if !ok {
		writeOpError(w, pipeline.ErrNoJob)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, _ *http.Request) {
	if err := s.d.Orchestrator.Cancel(); err != nil {
		writeOpError(w, err)
		return
	}
	job, _ := s.d.Orchestrator.Current()
	writeJSON(w, http.StatusAccepted, job)
}

// getJob looks in the session's history first, then the journal.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.d.Orchestrator.Job(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if s.d.Store == nil {
		writeOpError(w, pipeline.ErrNoJob)
		return
	}
	job, err := s.d.Store.LoadJob(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeError(w, http.StatusNotFound, "job journal is not configured")
		return
	}
	q := r.URL.Query()
	f := store.JobFilter{
		Stage:  types.Stage(q.Get("stage")),
		Status: types.JobStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	jobs, err := s.d.Store.ListJobs(r.Context(), f)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if jobs == nil {
		jobs = []types.GenerationJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}
