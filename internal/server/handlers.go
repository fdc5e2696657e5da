// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/identity"
	"github.com/veilkit/pane/internal/jobs"
	"github.com/veilkit/pane/internal/store"
)

var serverJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// sseHeartbeat is the comment-ping interval that keeps idle event streams
// alive through proxies.
const sseHeartbeat = 15 * time.Second

// enrollRequest starts a job. Context and Seed are mutually exclusive:
// Context enrolls under a stored envelope, Seed mints an ephemeral identity.
// With neither set a fresh random seed is used.
type enrollRequest struct {
	TargetURL string `json:"target_url"`
	Context   string `json:"context,omitempty"`
	Seed      string `json:"seed,omitempty"`
}

type enrollResponse struct {
	JobID   string `json:"job_id"`
	Context string `json:"context"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req enrollRequest
	if err := serverJSON.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetURL == "" {
		s.writeError(w, http.StatusBadRequest, "target_url is required")
		return
	}
	if req.Context != "" && req.Seed != "" {
		s.writeError(w, http.StatusBadRequest, "context and seed are mutually exclusive")
		return
	}

	var ec schemas.EnrollmentContext
	if req.Context != "" {
		if s.store == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no context store configured")
			return
		}
		env, err := s.store.Get(r.Context(), req.Context)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown context %q", req.Context))
			return
		}
		if err != nil {
			s.log.Error("Context lookup failed.", zap.String("context", req.Context), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "context lookup failed")
			return
		}
		if env.Tombstoned() {
			s.writeError(w, http.StatusConflict, fmt.Sprintf("context %q is tombstoned", req.Context))
			return
		}
		ec = env.Context()
	} else {
		var err error
		ec, err = s.ephemeralContext(r.Context(), req.Seed)
		if err != nil {
			s.log.Error("Ephemeral context failed.", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to build enrollment context")
			return
		}
	}

	job, err := s.jobs.Enroll(req.TargetURL, ec)
	switch {
	case errors.Is(err, jobs.ErrNoTarget):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrSupervisorClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error("Enroll failed.", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, enrollResponse{JobID: job.ID(), Context: ec.Name})
}

// ephemeralContext builds a one-shot identity bundle that is never
// persisted. Callers who want a durable envelope create one with the CLI
// first and enroll by context name.
func (s *Server) ephemeralContext(ctx context.Context, seed string) (schemas.EnrollmentContext, error) {
	id, err := s.identities.Generate(seed)
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("generate identity: %w", err)
	}

	alias, err := s.aliases.Create(ctx, schemas.AliasRequest{Name: id.Seed, Identity: id})
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("mint alias: %w", err)
	}

	username, err := identity.Username(id.Seed)
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("derive username: %w", err)
	}
	password, err := identity.NewPassword()
	if err != nil {
		return schemas.EnrollmentContext{}, fmt.Errorf("generate password: %w", err)
	}

	return schemas.EnrollmentContext{
		Name:     id.Seed,
		Identity: id,
		Alias:    alias,
		Username: username,
		Password: password,
	}, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(id)
	if errors.Is(err, jobs.ErrUnknownJob) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.jobs.Cancel(id)
	if errors.Is(err, jobs.ErrUnknownJob) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "canceling"})
}

// handleJobEvents streams the job's event log as server-sent events: full
// replay first, then live events, one "end" event once the log is sealed.
// Disconnecting only detaches this subscriber; the job keeps running.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, unsubscribe, err := s.jobs.Subscribe(id)
	if errors.Is(err, jobs.ErrUnknownJob) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				s.writeEndOfStream(w, flusher, id)
				return
			}
			if err := writeSSE(w, flusher, "progress", strconv.Itoa(event.Seq), event); err != nil {
				return
			}
		}
	}
}

// writeEndOfStream emits the explicit terminator so EventSource clients
// close instead of reconnecting into an endless replay loop.
func (s *Server) writeEndOfStream(w io.Writer, flusher http.Flusher, id string) {
	status := ""
	if job, err := s.jobs.Get(id); err == nil {
		status = string(job.Status())
	}
	if err := writeSSE(w, flusher, "end", "", map[string]string{"job_id": id, "status": status}); err != nil {
		s.log.Debug("End-of-stream write failed.", zap.String("job_id", id), zap.Error(err))
	}
}

func writeSSE(w io.Writer, flusher http.Flusher, event, id string, payload any) error {
	data, err := serverJSON.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"service": "pane", "status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := serverJSON.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("Response write failed.", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
