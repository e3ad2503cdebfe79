package policy

import (
	"context"
	"strings"
)

// HeuristicEntityStates infers the lifecycle state from the identifier
// string itself: "fund-123:under_review" matches "under_review". A stand-in
// for a real lookup against the entity's persisted status; swap in a
// store-backed EntityStateLookup without touching the rule.
type HeuristicEntityStates struct {
	states []string
}

func NewHeuristicEntityStates(states []string) *HeuristicEntityStates {
	return &HeuristicEntityStates{states: states}
}

func (h *HeuristicEntityStates) State(_ context.Context, entityID string) (string, error) {
	for _, s := range h.states {
		if strings.Contains(entityID, s) {
			return s, nil
		}
	}
	return "active", nil
}
