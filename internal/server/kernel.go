package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/audit"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/policy"
	"github.com/hedgeco/opskernel/internal/safesend"
)

// ActionRequest is the body of POST /action.
type ActionRequest struct {
	Action   string         `json:"action" validate:"required,min=1,max=128"`
	EntityID string         `json:"entityId" validate:"required,min=1,max=256"`
	Version  int            `json:"version" validate:"gte=0"`
	Payload  map[string]any `json:"payload"`
}

// ActionResponse is the success shape of POST /action. Denials and errors
// use ErrorResponse instead.
type ActionResponse struct {
	JobID               string `json:"jobId"`
	Status              string `json:"status"` // queued | requires_approval
	Message             string `json:"message"`
	ApprovalRequired    bool   `json:"approvalRequired"`
	EstimatedCompletion string `json:"estimatedCompletion"`
	CompletionToken     string `json:"completionToken,omitempty"`
}

// ErrorResponse covers denial (403), validation (400) and submission
// failure (500). Reasons are machine-checkable so automated callers can
// decide to retry, escalate or abandon.
type ErrorResponse struct {
	JobID            *string  `json:"jobId"`
	Status           string   `json:"status"` // blocked | error | invalid
	Message          string   `json:"message,omitempty"`
	Reasons          []string `json:"reasons,omitempty"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Kernel is the whole mediation flow in one place: policy decision, audit
// record, admission or safe-send, response shaping. One instance serves all
// requests concurrently; every collaborator it holds is safe for that.
type Kernel struct {
	policy   *policy.Evaluator
	safeSend *safesend.Evaluator
	auditor  *audit.Recorder
	jobs     *admission.Service
	signer   *CompletionSigner
	metrics  *Metrics
	logger   *zap.Logger
}

func NewKernel(
	policyEval *policy.Evaluator,
	safeSendEval *safesend.Evaluator,
	auditor *audit.Recorder,
	jobs *admission.Service,
	signer *CompletionSigner,
	metrics *Metrics,
	logger *zap.Logger,
) *Kernel {
	return &Kernel{
		policy:   policyEval,
		safeSend: safeSendEval,
		auditor:  auditor,
		jobs:     jobs,
		signer:   signer,
		metrics:  metrics,
		logger:   logger.Named("kernel"),
	}
}

// entityType is derived from the entity id prefix ("fund-123" -> "fund").
// Loose on purpose, like action classification.
func entityType(entityID string) string {
	for i, c := range entityID {
		if c == '-' || c == ':' {
			return entityID[:i]
		}
	}
	return "unknown"
}

// ProcessAction mediates one action request for an authenticated role.
//
// Exactly one audit entry is created per call. For denials, validation
// failures, submission failures and deduplicated resubmissions the terminal
// update happens here; for a freshly admitted job the entry stays pending
// until the worker reports through POST /job/{id}/outcome — that is the one
// terminal update for the entry.
func (k *Kernel) ProcessAction(ctx context.Context, role domain.Role, req ActionRequest) (*ActionResponse, *ErrorResponse, int) {
	start := time.Now()
	k.metrics.TotalRequests.WithLabelValues(role.Name, req.Action).Inc()

	status := "queued"
	defer func() {
		k.metrics.RequestDuration.WithLabelValues(role.Name, req.Action, status).
			Observe(time.Since(start).Seconds())
	}()

	auditID := k.auditor.Log(domain.AuditEntry{
		Agent:      role.Name,
		Action:     req.Action,
		EntityID:   req.EntityID,
		EntityType: entityType(req.EntityID),
		Details: map[string]any{
			"request": map[string]any{
				"version": req.Version,
				"payload": req.Payload,
			},
		},
	})

	perm := policy.PermissionFor(req.Action)
	decision := k.policy.Evaluate(ctx, role, perm, req.Action, req.EntityID)

	if !decision.Allowed {
		status = "blocked"
		k.metrics.ErrorTotal.WithLabelValues("policy_denied").Inc()
		k.auditor.UpdateOutcome(auditID, domain.OutcomeFailure, map[string]any{
			"policy": decision,
			"stage":  "policy",
		})
		return nil, &ErrorResponse{
			Status:           "blocked",
			Reasons:          decision.Reasons,
			SuggestedActions: decision.SuggestedActions,
		}, 403
	}

	receipt, err := k.jobs.Submit(ctx, domain.JobDraft{
		Action:      req.Action,
		EntityID:    req.EntityID,
		Version:     req.Version,
		SubmittedBy: role.Name,
		Payload:     req.Payload,
	})
	if err != nil {
		if errors.Is(err, admission.ErrValidation) {
			status = "invalid"
			k.metrics.ErrorTotal.WithLabelValues("validation").Inc()
			k.auditor.UpdateOutcome(auditID, domain.OutcomeFailure, map[string]any{
				"stage": "validation",
				"error": err.Error(),
			})
			return nil, &ErrorResponse{
				Status:  "invalid",
				Message: "job draft failed validation",
				Reasons: []string{err.Error()},
			}, 400
		}

		status = "error"
		k.metrics.ErrorTotal.WithLabelValues("submission_failed").Inc()
		k.logger.Error("submission failed",
			zap.String("action", req.Action),
			zap.String("entity_id", req.EntityID),
			zap.Error(err),
		)
		k.auditor.UpdateOutcome(auditID, domain.OutcomeFailure, map[string]any{
			"stage": "submission",
			"error": err.Error(),
		})
		return nil, &ErrorResponse{
			Status:  "error",
			Message: "job submission failed",
			Error:   err.Error(),
		}, 500
	}

	k.metrics.AdmissionsTotal.WithLabelValues(receipt.Queue, fmt.Sprintf("%t", receipt.Deduplicated)).Inc()

	resp := &ActionResponse{
		JobID:               receipt.JobID,
		Status:              "queued",
		Message:             fmt.Sprintf("job admitted to queue %q", receipt.Queue),
		EstimatedCompletion: time.Now().Add(receipt.EstimatedLatency).UTC().Format(time.RFC3339),
	}

	if receipt.Deduplicated {
		// The worker holds the first admission's completion token and will
		// close the first admission's audit entry. This attempt did no new
		// work, so its own entry closes here — otherwise it would sit
		// pending forever and read as a crash gap. No second token: only
		// one callback may close the trail for a job.
		k.auditor.UpdateOutcome(auditID, domain.OutcomeSuccess, map[string]any{
			"stage":  "dedup",
			"job_id": receipt.JobID,
		})
		resp.Message = fmt.Sprintf("job already admitted to queue %q", receipt.Queue)
		if decision.RequiresApproval {
			status = "requires_approval"
			resp.Status = "requires_approval"
			resp.ApprovalRequired = true
		}
		return resp, nil, 200
	}

	token, err := k.signer.Mint(receipt.JobID, auditID)
	if err != nil {
		// The job is already admitted; a mint failure only costs the
		// worker callback, which the pending-entry timeout will surface.
		k.logger.Error("completion token mint failed", zap.String("job_id", receipt.JobID), zap.Error(err))
	}
	resp.CompletionToken = token

	if decision.RequiresApproval {
		status = "requires_approval"
		resp.Status = "requires_approval"
		resp.ApprovalRequired = true
		resp.Message = fmt.Sprintf("job admitted to queue %q pending %s approval", receipt.Queue, decision.ApprovalLevel)
	}
	return resp, nil, 200
}

// ProcessSafeSend runs the synchronous compliance gate. It never enqueues;
// the decision is advisory and the audit entry closes immediately with the
// decision in its details.
func (k *Kernel) ProcessSafeSend(role domain.Role, req domain.SafeSendRequest) domain.SafeSendResult {
	auditID := k.auditor.Log(domain.AuditEntry{
		Agent:      role.Name,
		Action:     "email_safe_send",
		EntityID:   req.Audience.Segment,
		EntityType: "audience",
		Details: map[string]any{
			"request": req,
		},
	})

	result := k.safeSend.Evaluate(req)
	k.metrics.SafeSendDecisions.WithLabelValues(string(result.Decision)).Inc()

	k.auditor.UpdateOutcome(auditID, domain.OutcomeSuccess, map[string]any{
		"decision": result,
	})
	return result
}

// ApplyOutcome is the worker callback path: verify the completion token,
// then apply the single terminal audit update for the admitted job.
func (k *Kernel) ApplyOutcome(ctx context.Context, jobID, token string, success bool, details map[string]any) error {
	claims, err := k.signer.Verify(token, jobID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadCompletionToken, err.Error())
	}

	outcome := domain.OutcomeSuccess
	if !success {
		outcome = domain.OutcomeFailure
	}
	if details == nil {
		details = map[string]any{}
	}
	details["stage"] = "worker"

	return k.auditor.CloseOutcome(ctx, claims.AuditID, outcome, details)
}

// ErrBadCompletionToken maps to 401 on the outcome endpoint.
var ErrBadCompletionToken = errors.New("completion token rejected")

// RecordRejected audits a request that authenticated but failed validation
// before any policy logic could run: one entry, closed immediately.
func (k *Kernel) RecordRejected(role domain.Role, action, reason string) {
	k.metrics.ErrorTotal.WithLabelValues("validation").Inc()
	auditID := k.auditor.Log(domain.AuditEntry{
		Agent:      role.Name,
		Action:     action,
		EntityID:   "none",
		EntityType: "none",
	})
	k.auditor.UpdateOutcome(auditID, domain.OutcomeFailure, map[string]any{
		"stage": "validation",
		"error": reason,
	})
}

// QueryAudit serves the operator audit surface.
func (k *Kernel) QueryAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	return k.auditor.Query(ctx, f)
}

// LookupJob searches all known queues for a job id.
func (k *Kernel) LookupJob(ctx context.Context, jobID string) (*domain.Job, string, error) {
	return k.jobs.Lookup(ctx, jobID)
}

// QueueCounts reports per-queue depth and paused state.
func (k *Kernel) QueueCounts(ctx context.Context) (map[string]admission.QueueCounts, error) {
	return k.jobs.Counts(ctx)
}

// QueueNames lists the configured queues.
func (k *Kernel) QueueNames() []string {
	return k.jobs.QueueNames()
}

// PingBackend forwards the backend liveness probe.
func (k *Kernel) PingBackend(ctx context.Context) error {
	return k.jobs.Ping(ctx)
}
