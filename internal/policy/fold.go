package policy

import "github.com/hedgeco/opskernel/internal/domain"

// Combine folds rule contributions into one PolicyResult:
//
//   - allowed is AND across rules and sticky-false: once any rule denies,
//     no later rule can reset it, but folding continues so every reason is
//     still collected;
//   - requiresApproval is OR across rules;
//   - approvalLevel resolves to the highest level any rule asked for
//     (high > medium > low);
//   - reasons and suggested actions concatenate without deduplication.
func Combine(partials []Partial) domain.PolicyResult {
	result := domain.PolicyResult{
		Allowed: true,
		Reasons: []string{},
	}

	for _, p := range partials {
		if p.Deny {
			result.Allowed = false
		}
		if p.RequiresApproval {
			result.RequiresApproval = true
			result.ApprovalLevel = result.ApprovalLevel.Max(p.ApprovalLevel)
		}
		result.Reasons = append(result.Reasons, p.Reasons...)
		result.SuggestedActions = append(result.SuggestedActions, p.SuggestedActions...)
	}

	return result
}
