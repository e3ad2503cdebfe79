package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

// HighRiskRule forces a high-level approval gate on a fixed set of action
// names, whatever role asks for them.
type HighRiskRule struct {
	actions map[string]struct{}
}

func NewHighRiskRule(actions []string) *HighRiskRule {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return &HighRiskRule{actions: set}
}

func (r *HighRiskRule) Name() string { return "high_risk_action" }

func (r *HighRiskRule) Evaluate(_ context.Context, in RuleInput) Partial {
	if _, ok := r.actions[in.Action]; !ok {
		return Partial{}
	}
	return Partial{
		RequiresApproval: true,
		ApprovalLevel:    domain.ApprovalHigh,
		Reasons:          []string{fmt.Sprintf("action %q is on the high-risk list and requires approval", in.Action)},
	}
}

// DenylistRule denies actions a role is individually barred from, beyond
// its generic permission set.
type DenylistRule struct{}

func NewDenylistRule() *DenylistRule { return &DenylistRule{} }

func (r *DenylistRule) Name() string { return "role_denylist" }

func (r *DenylistRule) Evaluate(_ context.Context, in RuleInput) Partial {
	if !in.Role.IsBarred(in.Action) {
		return Partial{}
	}
	return Partial{
		Deny:    true,
		Reasons: []string{fmt.Sprintf("role %q is barred from action %q", in.Role.Name, in.Action)},
		SuggestedActions: []string{
			"escalate to a role that is not barred from this action",
		},
	}
}

// EntityStateLookup resolves the lifecycle state of a target entity. The
// production implementation queries the entity's persisted status; the
// heuristic one only inspects the identifier string.
type EntityStateLookup interface {
	State(ctx context.Context, entityID string) (string, error)
}

// SensitivityRule gates actions against entities in a sensitive lifecycle
// state behind a medium approval. A failed lookup fails closed: approval
// required rather than waved through.
type SensitivityRule struct {
	lookup          EntityStateLookup
	sensitiveStates map[string]struct{}
	logger          *zap.Logger
}

func NewSensitivityRule(lookup EntityStateLookup, states []string, logger *zap.Logger) *SensitivityRule {
	set := make(map[string]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return &SensitivityRule{
		lookup:          lookup,
		sensitiveStates: set,
		logger:          logger.Named("sensitivity-rule"),
	}
}

func (r *SensitivityRule) Name() string { return "entity_sensitivity" }

func (r *SensitivityRule) Evaluate(ctx context.Context, in RuleInput) Partial {
	state, err := r.lookup.State(ctx, in.EntityID)
	if err != nil {
		r.logger.Warn("entity state lookup failed, failing closed",
			zap.String("entity_id", in.EntityID),
			zap.Error(err),
		)
		return Partial{
			RequiresApproval: true,
			ApprovalLevel:    domain.ApprovalMedium,
			Reasons:          []string{fmt.Sprintf("entity state for %q could not be resolved, approval required", in.EntityID)},
		}
	}

	if _, sensitive := r.sensitiveStates[state]; !sensitive {
		return Partial{}
	}
	return Partial{
		RequiresApproval: true,
		ApprovalLevel:    domain.ApprovalMedium,
		Reasons:          []string{fmt.Sprintf("entity %q is in sensitive state %q", in.EntityID, state)},
	}
}

// RateCounter is the shared per-action window counter. Incr returns the
// count for the current hour including this attempt.
type RateCounter interface {
	Incr(ctx context.Context, action string) (int64, error)
}

// RateCeilingRule enforces static per-hour ceilings per action against a
// distributed counter. The counter being unreachable is a deny, not a
// no-op: the rule fails closed with a distinct reason so operators can tell
// an outage from abuse.
type RateCeilingRule struct {
	ceilings map[string]int
	counter  RateCounter
	logger   *zap.Logger
}

func NewRateCeilingRule(ceilings map[string]int, counter RateCounter, logger *zap.Logger) *RateCeilingRule {
	return &RateCeilingRule{
		ceilings: ceilings,
		counter:  counter,
		logger:   logger.Named("rate-rule"),
	}
}

func (r *RateCeilingRule) Name() string { return "rate_ceiling" }

func (r *RateCeilingRule) Evaluate(ctx context.Context, in RuleInput) Partial {
	ceiling, limited := r.ceilings[in.Action]
	if !limited {
		return Partial{}
	}

	count, err := r.counter.Incr(ctx, in.Action)
	if err != nil {
		r.logger.Error("rate counter unreachable, failing closed", zap.Error(err))
		return Partial{
			Deny:             true,
			Reasons:          []string{fmt.Sprintf("rate counter for %q unreachable, denying to fail closed", in.Action)},
			SuggestedActions: []string{"retry after the counter store recovers"},
		}
	}

	if count > int64(ceiling) {
		return Partial{
			Deny: true,
			Reasons: []string{
				fmt.Sprintf("action %q exceeded its ceiling of %d per hour (attempt %d)", in.Action, ceiling, count),
			},
			SuggestedActions: []string{"retry in the next hourly window"},
		}
	}
	return Partial{}
}
