// Package safesend scores outbound bulk-email requests against compliance,
// throttle and audience rules. Evaluation is pure and total: no I/O, no
// partial failure, always one of three dispositions.
package safesend

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

// Evaluator runs five independent checks and folds them with the decision
// rule in decide. Thresholds and allow-lists come from immutable config.
type Evaluator struct {
	cfg    infra.SafeSendConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewEvaluator(cfg infra.SafeSendConfig, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		logger: logger.Named("safesend"),
		now:    time.Now,
	}
}

// Evaluate runs every check even after a failure so the result lists each
// independent finding, then applies the decision rule:
//
//  1. all five pass            -> send
//  2. any high-risk failure    -> block, surfacing only the high-risk reasons
//  3. only medium/low failures -> queue_for_approval at medium level, with
//     an estimated send time one approval lead-time out
func (e *Evaluator) Evaluate(req domain.SafeSendRequest) domain.SafeSendResult {
	checks := []domain.CheckResult{
		e.checkAudienceSize(req),
		e.checkComplianceFlags(req),
		e.checkThrottle(req),
		e.checkUnsubscribe(req),
		e.checkDomain(req),
	}

	result := e.decide(checks)

	if result.Decision != domain.DecisionSend {
		e.logger.Info("safe-send gate held a bulk send",
			zap.String("decision", string(result.Decision)),
			zap.Int("audience", req.Audience.Size),
			zap.String("domain", req.SendingDomain),
			zap.Strings("reasons", result.Reasons),
		)
	}
	return result
}

func (e *Evaluator) decide(checks []domain.CheckResult) domain.SafeSendResult {
	var highReasons, otherReasons []string
	for _, c := range checks {
		if c.Passed {
			continue
		}
		if c.Risk == domain.RiskHigh {
			highReasons = append(highReasons, c.Reason)
		} else {
			otherReasons = append(otherReasons, c.Reason)
		}
	}

	switch {
	case len(highReasons) == 0 && len(otherReasons) == 0:
		return domain.SafeSendResult{
			Decision: domain.DecisionSend,
			Reasons:  []string{},
			Checks:   checks,
		}
	case len(highReasons) > 0:
		// Medium-risk failures are not surfaced once a block occurred.
		return domain.SafeSendResult{
			Decision: domain.DecisionBlock,
			Reasons:  highReasons,
			Checks:   checks,
		}
	default:
		eta := e.now().Add(e.cfg.ApprovalLeadTime)
		return domain.SafeSendResult{
			Decision:          domain.DecisionQueueForApproval,
			Reasons:           otherReasons,
			ApprovalRequired:  true,
			ApprovalLevel:     domain.ApprovalMedium,
			EstimatedSendTime: &eta,
			Checks:            checks,
		}
	}
}

func (e *Evaluator) checkAudienceSize(req domain.SafeSendRequest) domain.CheckResult {
	c := domain.CheckResult{Name: "audience_size", Passed: true, Risk: domain.RiskLow}
	switch {
	case req.Audience.Size > e.cfg.HighAudience:
		c.Passed = false
		c.Risk = domain.RiskHigh
		c.Reason = fmt.Sprintf("audience of %d exceeds the %d hard cap", req.Audience.Size, e.cfg.HighAudience)
	case req.Audience.Size >= e.cfg.MediumAudience:
		c.Passed = false
		c.Risk = domain.RiskMedium
		c.Reason = fmt.Sprintf("audience of %d is large enough to need review (>= %d)", req.Audience.Size, e.cfg.MediumAudience)
	}
	return c
}

func (e *Evaluator) checkComplianceFlags(req domain.SafeSendRequest) domain.CheckResult {
	c := domain.CheckResult{Name: "compliance_flags", Passed: true, Risk: domain.RiskLow}

	if flag, hit := firstMatch(req.ComplianceFlags, e.cfg.HighRiskFlags); hit {
		c.Passed = false
		c.Risk = domain.RiskHigh
		c.Reason = fmt.Sprintf("copy carries prohibited compliance flag %q", flag)
		return c
	}
	if flag, hit := firstMatch(req.ComplianceFlags, e.cfg.MediumRiskFlags); hit {
		c.Passed = false
		c.Risk = domain.RiskMedium
		c.Reason = fmt.Sprintf("copy carries promotional compliance flag %q", flag)
	}
	return c
}

func (e *Evaluator) checkThrottle(req domain.SafeSendRequest) domain.CheckResult {
	c := domain.CheckResult{Name: "throttle_rate", Passed: true, Risk: domain.RiskLow}
	if req.ThrottleMs < e.cfg.MinThrottleMs {
		c.Passed = false
		c.Risk = domain.RiskMedium
		c.Reason = fmt.Sprintf("throttle of %dms is below the %dms floor", req.ThrottleMs, e.cfg.MinThrottleMs)
	}
	return c
}

func (e *Evaluator) checkUnsubscribe(req domain.SafeSendRequest) domain.CheckResult {
	c := domain.CheckResult{Name: "unsubscribe_link", Passed: true, Risk: domain.RiskLow}
	if !req.UnsubscribeLink {
		// Hard legal requirement, never negotiable.
		c.Passed = false
		c.Risk = domain.RiskHigh
		c.Reason = "unsubscribe link is missing"
	}
	return c
}

func (e *Evaluator) checkDomain(req domain.SafeSendRequest) domain.CheckResult {
	c := domain.CheckResult{Name: "sending_domain", Passed: true, Risk: domain.RiskLow}
	for _, d := range e.cfg.AllowedDomains {
		if req.SendingDomain == d {
			return c
		}
	}
	c.Passed = false
	c.Risk = domain.RiskHigh
	c.Reason = fmt.Sprintf("sending domain %q is not on the allow-list", req.SendingDomain)
	return c
}

func firstMatch(flags, against []string) (string, bool) {
	set := make(map[string]struct{}, len(against))
	for _, a := range against {
		set[a] = struct{}{}
	}
	for _, f := range flags {
		if _, ok := set[f]; ok {
			return f, true
		}
	}
	return "", false
}
