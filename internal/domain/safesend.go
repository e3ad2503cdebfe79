package domain

import "time"

// RiskLevel grades a single safe-send check failure.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SafeSendDecision is the three-way disposition of a bulk-email request.
type SafeSendDecision string

const (
	DecisionSend             SafeSendDecision = "send"
	DecisionQueueForApproval SafeSendDecision = "queue_for_approval"
	DecisionBlock            SafeSendDecision = "block"
)

// Audience describes who the send targets. Size is the resolved recipient
// count for the segment.
type Audience struct {
	Size    int    `json:"size" validate:"gte=0"`
	Segment string `json:"segment"`
}

// EmailCopy is the message content under review.
type EmailCopy struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// SafeSendRequest is scored synchronously; evaluating it never enqueues
// anything. The caller (or a follow-up /action call) acts on the decision.
type SafeSendRequest struct {
	Audience        Audience  `json:"audience"`
	Copy            EmailCopy `json:"copy"`
	SendingDomain   string    `json:"sending_domain" validate:"required,hostname"`
	ThrottleMs      int       `json:"throttle_ms" validate:"gte=0"`
	UnsubscribeLink bool      `json:"unsubscribe_link"`
	ComplianceFlags []string  `json:"compliance_flags"`
}

// CheckResult is the verdict of one independent safe-send check.
type CheckResult struct {
	Name   string    `json:"name"`
	Passed bool      `json:"passed"`
	Reason string    `json:"reason,omitempty"`
	Risk   RiskLevel `json:"risk"`
}

// SafeSendResult carries the decision in the body; the HTTP status is
// always 200 for a well-formed request.
type SafeSendResult struct {
	Decision          SafeSendDecision `json:"decision"`
	Reasons           []string         `json:"reasons"`
	ApprovalRequired  bool             `json:"approval_required"`
	ApprovalLevel     ApprovalLevel    `json:"approval_level,omitempty"`
	EstimatedSendTime *time.Time       `json:"estimated_send_time,omitempty"`
	Checks            []CheckResult    `json:"checks"`
}
