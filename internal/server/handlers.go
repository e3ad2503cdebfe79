package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/audit"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra/auth"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleAction is POST /action.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	role, ok := auth.RoleFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// The caller authenticated, so even an undecodable body leaves a
		// failed attempt in the audit trail.
		s.kernel.RecordRejected(role, "malformed_action_request", err.Error())
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "invalid",
			Message: "request body is not valid JSON",
			Reasons: []string{err.Error()},
		})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.kernel.RecordRejected(role, "invalid_action_request", err.Error())
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "invalid",
			Message: "action request failed validation",
			Reasons: []string{err.Error()},
		})
		return
	}

	resp, errResp, status := s.kernel.ProcessAction(r.Context(), role, req)
	if errResp != nil {
		writeJSON(w, status, errResp)
		return
	}
	writeJSON(w, status, resp)
}

// handleSafeSend is POST /email/safe-send. A well-formed request always
// answers 200; the disposition travels in the body.
func (s *Server) handleSafeSend(w http.ResponseWriter, r *http.Request) {
	role, ok := auth.RoleFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req domain.SafeSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.kernel.RecordRejected(role, "malformed_safe_send_request", err.Error())
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "invalid",
			Message: "request body is not valid JSON",
			Reasons: []string{err.Error()},
		})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.kernel.RecordRejected(role, "invalid_safe_send_request", err.Error())
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "invalid",
			Message: "safe-send request failed validation",
			Reasons: []string{err.Error()},
		})
		return
	}

	result := s.kernel.ProcessSafeSend(role, req)
	writeJSON(w, http.StatusOK, result)
}

// auditQueryResponse is the envelope of GET /audit.
type auditQueryResponse struct {
	Count   int                 `json:"count"`
	Entries []domain.AuditEntry `json:"entries"`
	Filters domain.AuditFilter  `json:"filters"`
}

// handleAuditQuery is GET /audit, operator only.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuditFilter{
		Agent:      q.Get("agent"),
		Action:     q.Get("action"),
		EntityID:   q.Get("entityId"),
		EntityType: q.Get("entityType"),
		Outcome:    domain.AuditOutcome(q.Get("outcome")),
	}
	if v := q.Get("startTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Status: "invalid", Reasons: []string{"startTime must be RFC3339"},
			})
			return
		}
		filter.Start = t
	}
	if v := q.Get("endTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Status: "invalid", Reasons: []string{"endTime must be RFC3339"},
			})
			return
		}
		filter.End = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Status: "invalid", Reasons: []string{"limit must be a positive integer"},
			})
			return
		}
		filter.Limit = n
	}

	entries, err := s.kernel.QueryAudit(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		http.Error(w, "Failed to fetch audit log", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, auditQueryResponse{
		Count:   len(entries),
		Entries: entries,
		Filters: filter,
	})
}

// jobLookupResponse is the shape of GET /job/{jobID}.
type jobLookupResponse struct {
	Queue string     `json:"queue"`
	Job   domain.Job `json:"job"`
}

// handleJobLookup is GET /job/{jobID}: searched across every known queue,
// 404 only when no queue holds the id.
func (s *Server) handleJobLookup(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, queueName, err := s.kernel.LookupJob(r.Context(), jobID)
	if errors.Is(err, admission.ErrUnknownJob) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Status:  "error",
			Message: "job not found in any queue",
		})
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "Failed to look up job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, jobLookupResponse{Queue: queueName, Job: *job})
}

// queuesResponse is the shape of GET /queues.
type queuesResponse struct {
	Queues map[string]admission.QueueCounts `json:"queues"`
}

// handleQueues is GET /queues, operator only.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	counts, err := s.kernel.QueueCounts(r.Context())
	if err != nil {
		s.logger.Error("queue counts failed", zap.Error(err))
		http.Error(w, "Failed to read queue state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, queuesResponse{Queues: counts})
}

// healthResponse is the shape of GET /health.
type healthResponse struct {
	Status  string   `json:"status"`
	Backend string   `json:"backend"`
	Queues  []string `json:"queues"`
}

// handleHealth is the liveness probe. The backend ping carries its own
// short timeout; a wedged backend degrades the report, it does not hang it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Backend: "ok",
		Queues:  s.kernel.QueueNames(),
	}
	status := http.StatusOK
	if err := s.kernel.PingBackend(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Backend = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// outcomeRequest is the body of POST /job/{jobID}/outcome.
type outcomeRequest struct {
	Success bool           `json:"success"`
	Details map[string]any `json:"details"`
}

// handleJobOutcome lets the external worker report the terminal result of
// an admitted job, closing the audit entry. Authenticated by the per-job
// completion token minted at admission.
func (s *Server) handleJobOutcome(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status: "invalid", Reasons: []string{"request body is not valid JSON"},
		})
		return
	}

	err := s.kernel.ApplyOutcome(r.Context(), jobID, token, req.Success, req.Details)
	switch {
	case errors.Is(err, ErrBadCompletionToken):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, audit.ErrAuditClosed):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Status: "error", Message: "outcome already recorded for this job",
		})
	case errors.Is(err, audit.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Status: "error", Message: "no audit entry for this job",
		})
	case err != nil:
		s.logger.Error("outcome update failed", zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "Failed to record outcome", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
