package domain

// ApprovalLevel grades how senior the human sign-off has to be.
type ApprovalLevel string

const (
	ApprovalNone   ApprovalLevel = ""
	ApprovalLow    ApprovalLevel = "low"
	ApprovalMedium ApprovalLevel = "medium"
	ApprovalHigh   ApprovalLevel = "high"
)

// rank orders approval levels: high > medium > low > none.
func (l ApprovalLevel) rank() int {
	switch l {
	case ApprovalHigh:
		return 3
	case ApprovalMedium:
		return 2
	case ApprovalLow:
		return 1
	default:
		return 0
	}
}

// Max returns the stricter of two approval levels.
func (l ApprovalLevel) Max(other ApprovalLevel) ApprovalLevel {
	if other.rank() > l.rank() {
		return other
	}
	return l
}

// PolicyResult is the outcome of one policy evaluation. Produced fresh per
// request and never persisted directly — only serialized into the audit
// entry's details.
type PolicyResult struct {
	Allowed          bool          `json:"allowed"`
	RequiresApproval bool          `json:"requires_approval"`
	ApprovalLevel    ApprovalLevel `json:"approval_level,omitempty"`
	Reasons          []string      `json:"reasons"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`
}
