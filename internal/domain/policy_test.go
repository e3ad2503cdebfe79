package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalLevelMax(t *testing.T) {
	assert.Equal(t, ApprovalHigh, ApprovalMedium.Max(ApprovalHigh))
	assert.Equal(t, ApprovalHigh, ApprovalHigh.Max(ApprovalLow))
	assert.Equal(t, ApprovalMedium, ApprovalNone.Max(ApprovalMedium))
	assert.Equal(t, ApprovalLow, ApprovalLow.Max(ApprovalNone))
	assert.Equal(t, ApprovalNone, ApprovalNone.Max(ApprovalNone))
}

func TestPolicyResultSurvivesAuditDetailsRoundTrip(t *testing.T) {
	original := PolicyResult{
		Allowed:          false,
		RequiresApproval: true,
		ApprovalLevel:    ApprovalHigh,
		Reasons:          []string{"role \"crm_agent\" is barred from action \"delete_user\""},
		SuggestedActions: []string{"escalate to a role that is not barred from this action"},
	}

	// The evaluator's result travels inside an audit entry's details map,
	// through JSON, and back out for operator review.
	entry := AuditEntry{
		AuditID: "a1",
		Details: map[string]any{"policy": original},
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded AuditEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))

	inner, err := json.Marshal(decoded.Details["policy"])
	require.NoError(t, err)
	var restored PolicyResult
	require.NoError(t, json.Unmarshal(inner, &restored))

	assert.Equal(t, original, restored)
}
