package policy

import (
	"context"

	"github.com/hedgeco/opskernel/internal/domain"
)

// RuleInput is the (caller, action, target) triple one rule judges.
type RuleInput struct {
	Role     domain.Role
	Action   string
	EntityID string
}

// Partial is one rule's contribution to the final PolicyResult. The zero
// value is "no opinion": it neither denies nor requests approval.
type Partial struct {
	Deny             bool
	RequiresApproval bool
	ApprovalLevel    domain.ApprovalLevel
	Reasons          []string
	SuggestedActions []string
}

// Rule is a single independent policy check. Rules carry no mutable state;
// any external collaborator (entity lookup, rate window) is injected at
// construction and consulted read-only.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in RuleInput) Partial
}
