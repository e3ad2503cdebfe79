package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

type stubStates struct {
	state string
	err   error
}

func (s stubStates) State(context.Context, string) (string, error) {
	return s.state, s.err
}

type stubCounter struct {
	count int64
	err   error
	calls int
}

func (c *stubCounter) Incr(context.Context, string) (int64, error) {
	c.calls++
	return c.count, c.err
}

func testRole(name string, perms ...domain.Permission) domain.Role {
	m := make(map[domain.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return domain.Role{Name: name, Permissions: m}
}

func TestEvaluatorDeniesMissingPermissionWithoutRunningRules(t *testing.T) {
	counter := &stubCounter{}
	eval := NewEvaluator([]Rule{
		NewRateCeilingRule(map[string]int{"send_newsletter": 2}, counter, zap.NewNop()),
	}, zap.NewNop())

	role := testRole("cron_agent", domain.PermRead, domain.PermExec)
	result := eval.Evaluate(context.Background(), role, domain.PermMessage, "send_newsletter", "user-1")

	assert.False(t, result.Allowed)
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0], `lacks the "message" permission`)
	assert.NotEmpty(t, result.SuggestedActions)
	// Short-circuit: the rate counter must not have been consumed.
	assert.Zero(t, counter.calls)
}

func TestEvaluatorAllowsCleanRequest(t *testing.T) {
	eval := NewEvaluator([]Rule{
		NewHighRiskRule([]string{"delete_user"}),
		NewDenylistRule(),
	}, zap.NewNop())

	role := testRole("crm_agent", domain.PermRead, domain.PermWrite)
	result := eval.Evaluate(context.Background(), role, domain.PermWrite, "update_fund_profile", "fund-42")

	assert.True(t, result.Allowed)
	assert.False(t, result.RequiresApproval)
	assert.Empty(t, result.Reasons)
}

func TestHighRiskRuleForcesHighApproval(t *testing.T) {
	rule := NewHighRiskRule([]string{"publish_article", "delete_user"})

	p := rule.Evaluate(context.Background(), RuleInput{Action: "publish_article"})
	assert.False(t, p.Deny)
	assert.True(t, p.RequiresApproval)
	assert.Equal(t, domain.ApprovalHigh, p.ApprovalLevel)

	p = rule.Evaluate(context.Background(), RuleInput{Action: "update_fund_profile"})
	assert.Equal(t, Partial{}, p)
}

func TestDenylistRuleDeniesBarredAction(t *testing.T) {
	role := domain.Role{
		Name:          "content_agent",
		Permissions:   map[domain.Permission]bool{domain.PermMessage: true},
		BarredActions: []string{"send_newsletter"},
	}
	rule := NewDenylistRule()

	p := rule.Evaluate(context.Background(), RuleInput{Role: role, Action: "send_newsletter"})
	assert.True(t, p.Deny)
	require.Len(t, p.Reasons, 1)
	assert.Contains(t, p.Reasons[0], "barred")

	p = rule.Evaluate(context.Background(), RuleInput{Role: role, Action: "send_verification"})
	assert.False(t, p.Deny)
}

func TestSensitivityRuleGatesSensitiveState(t *testing.T) {
	states := []string{"pending_verification", "suspended"}

	rule := NewSensitivityRule(stubStates{state: "suspended"}, states, zap.NewNop())
	p := rule.Evaluate(context.Background(), RuleInput{EntityID: "user-7"})
	assert.False(t, p.Deny)
	assert.True(t, p.RequiresApproval)
	assert.Equal(t, domain.ApprovalMedium, p.ApprovalLevel)

	rule = NewSensitivityRule(stubStates{state: "active"}, states, zap.NewNop())
	p = rule.Evaluate(context.Background(), RuleInput{EntityID: "user-7"})
	assert.Equal(t, Partial{}, p)
}

func TestSensitivityRuleFailsClosedOnLookupError(t *testing.T) {
	rule := NewSensitivityRule(
		stubStates{err: errors.New("entity service down")},
		[]string{"suspended"},
		zap.NewNop(),
	)

	p := rule.Evaluate(context.Background(), RuleInput{EntityID: "fund-9"})

	// An unreadable state never waves the action through.
	assert.False(t, p.Deny)
	assert.True(t, p.RequiresApproval)
	assert.Equal(t, domain.ApprovalMedium, p.ApprovalLevel)
	require.Len(t, p.Reasons, 1)
	assert.Contains(t, p.Reasons[0], "could not be resolved")
}

func TestRateCeilingRuleDeniesOverCeiling(t *testing.T) {
	ceilings := map[string]int{"send_newsletter": 2}

	rule := NewRateCeilingRule(ceilings, &stubCounter{count: 2}, zap.NewNop())
	p := rule.Evaluate(context.Background(), RuleInput{Action: "send_newsletter"})
	assert.False(t, p.Deny, "count at the ceiling is still within it")

	rule = NewRateCeilingRule(ceilings, &stubCounter{count: 3}, zap.NewNop())
	p = rule.Evaluate(context.Background(), RuleInput{Action: "send_newsletter"})
	assert.True(t, p.Deny)
	require.Len(t, p.Reasons, 1)
	assert.Contains(t, p.Reasons[0], "exceeded its ceiling")
}

func TestRateCeilingRuleSkipsUnlimitedActions(t *testing.T) {
	counter := &stubCounter{count: 100}
	rule := NewRateCeilingRule(map[string]int{"send_newsletter": 2}, counter, zap.NewNop())

	p := rule.Evaluate(context.Background(), RuleInput{Action: "update_fund_profile"})
	assert.Equal(t, Partial{}, p)
	assert.Zero(t, counter.calls, "unlimited actions never touch the counter")
}

func TestRateCeilingRuleFailsClosedOnCounterError(t *testing.T) {
	rule := NewRateCeilingRule(
		map[string]int{"send_newsletter": 2},
		&stubCounter{err: errors.New("redis unreachable")},
		zap.NewNop(),
	)

	p := rule.Evaluate(context.Background(), RuleInput{Action: "send_newsletter"})
	assert.True(t, p.Deny)
	require.Len(t, p.Reasons, 1)
	assert.Contains(t, p.Reasons[0], "unreachable")
}

func TestEvaluatorFoldsMultipleRules(t *testing.T) {
	// High-risk + sensitive entity: allowed, but high approval wins the fold.
	eval := NewEvaluator([]Rule{
		NewHighRiskRule([]string{"approve_membership"}),
		NewDenylistRule(),
		NewSensitivityRule(stubStates{state: "pending_verification"}, []string{"pending_verification"}, zap.NewNop()),
	}, zap.NewNop())

	role := testRole("operator", domain.PermWrite)
	result := eval.Evaluate(context.Background(), role, domain.PermWrite, "approve_membership", "member-3")

	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, domain.ApprovalHigh, result.ApprovalLevel)
	assert.Len(t, result.Reasons, 2)
}

func TestPermissionFor(t *testing.T) {
	cases := []struct {
		action string
		want   domain.Permission
	}{
		{"send_newsletter", domain.PermMessage},
		{"notify_admin", domain.PermMessage},
		{"approve_membership", domain.PermWrite},
		{"publish_article", domain.PermWrite},
		{"delete_user", domain.PermWrite},
		{"scrape_fund_site", domain.PermBrowser},
		{"schedule_digest", domain.PermCron},
		{"embed_fund_profile", domain.PermExec},
		{"trigger_webhook", domain.PermExec},
		{"lookup_fund", domain.PermRead},
		{"", domain.PermRead},
	}

	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			assert.Equal(t, tc.want, PermissionFor(tc.action))
		})
	}
}
