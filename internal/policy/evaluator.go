package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

// Evaluator decides whether a (caller, action, target) triple may proceed
// and whether it additionally needs a human approval gate.
//
// Step 1 is the base permission check: if the role lacks the permission the
// action maps to, the evaluation short-circuits to a deny and no rule runs.
// Step 2 folds the ordered rule list with Combine. Rule order never changes
// the outcome — only the combination semantics do — but keeping the list
// ordered makes evaluations reproducible for the audit trail.
type Evaluator struct {
	rules  []Rule
	logger *zap.Logger
}

func NewEvaluator(rules []Rule, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:  rules,
		logger: logger.Named("policy"),
	}
}

// Evaluate never returns an error for well-formed input; malformed input is
// the boundary's validation problem, not this component's.
func (e *Evaluator) Evaluate(ctx context.Context, role domain.Role, perm domain.Permission, action, entityID string) domain.PolicyResult {
	if !role.Has(perm) {
		return domain.PolicyResult{
			Allowed: false,
			Reasons: []string{fmt.Sprintf("role %q lacks the %q permission required by %q", role.Name, perm, action)},
			SuggestedActions: []string{
				fmt.Sprintf("request the action through a role holding %q", perm),
			},
		}
	}

	in := RuleInput{Role: role, Action: action, EntityID: entityID}
	partials := make([]Partial, 0, len(e.rules))
	for _, rule := range e.rules {
		p := rule.Evaluate(ctx, in)
		if p.Deny {
			e.logger.Debug("rule denied action",
				zap.String("rule", rule.Name()),
				zap.String("role", role.Name),
				zap.String("action", action),
			)
		}
		partials = append(partials, p)
	}

	return Combine(partials)
}

// PermissionFor maps an action name to the permission class the role must
// hold before any rule runs. Deliberately loose prefix classification — an
// open, extensible action namespace, not a closed enum.
func PermissionFor(action string) domain.Permission {
	switch {
	case hasAnyPrefix(action, "send_", "notify_", "message_"):
		return domain.PermMessage
	case hasAnyPrefix(action, "approve_", "publish_", "delete_", "update_", "change_", "create_"):
		return domain.PermWrite
	case hasAnyPrefix(action, "scrape_", "browse_", "crawl_"):
		return domain.PermBrowser
	case hasAnyPrefix(action, "schedule_", "cron_"):
		return domain.PermCron
	case hasAnyPrefix(action, "run_", "execute_", "trigger_", "embed_", "process_"):
		return domain.PermExec
	default:
		return domain.PermRead
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
