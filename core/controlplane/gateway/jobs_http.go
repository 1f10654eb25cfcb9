package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/linqra/linqra/core/jobs"
)

type extractionSubmission struct {
	DocumentID string `json:"documentId"`
	Scope      string `json:"scope"`
	Force      bool   `json:"force,omitempty"`
}

type exportSubmission struct {
	Collections []string `json:"collections"`
}

func (s *Server) handleEnqueueExtraction(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	var sub extractionSubmission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&sub); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.extraction.Enqueue(r.Context(), team, jobs.ExtractionRequest{
		DocumentID: sub.DocumentID,
		Scope:      jobs.ExtractionScope(sub.Scope),
		Force:      sub.Force,
	})
	if errors.Is(err, jobs.ErrAlreadyExtracted) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	var sub exportSubmission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&sub); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.export.Enqueue(r.Context(), team, jobs.ExportRequest{Collections: sub.Collections})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	list, err := s.jobStore.ListByTeam(r.Context(), team, queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if status := jobs.Status(r.URL.Query().Get("status")); status != "" {
		filtered := list[:0]
		for _, job := range list {
			if job.Status == status {
				filtered = append(filtered, job)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job.TeamID != team {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	job, err := s.jobStore.GetJob(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && job.TeamID != team) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !s.queue.Cancel(r.Context(), id, team) {
		http.Error(w, "job already finished", http.StatusConflict)
		return
	}
	job, err = s.jobStore.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
