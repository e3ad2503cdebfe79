package admission

import (
	"strings"

	"github.com/hedgeco/opskernel/internal/infra"
)

// routeRule maps an action-name pattern to a destination queue. The list is
// ordered: first hit wins.
type routeRule struct {
	queue string
	match func(action string) bool
}

func containsAny(substrs ...string) func(string) bool {
	return func(action string) bool {
		for _, s := range substrs {
			if strings.Contains(action, s) {
				return true
			}
		}
		return false
	}
}

// routes is deliberately coarse substring/prefix classification — the
// action namespace is open, so routing has to be total rather than exact.
// Every action falls through to the notifications queue if nothing earlier
// matches.
var routes = []routeRule{
	{queue: infra.QueueApprovals, match: containsAny("approve", "approval", "review_decision")},
	{queue: infra.QueuePublish, match: containsAny("publish", "unpublish")},
	{queue: infra.QueueEmail, match: func(a string) bool { return strings.HasPrefix(a, "send_") }},
	{queue: infra.QueueEmbeddings, match: containsAny("embed", "vectorize")},
	{queue: infra.QueueWebhooks, match: containsAny("webhook")},
}

// RouteFor returns the destination queue for an action. Total by
// construction: unmatched actions land in the notifications queue, never
// dropped.
func RouteFor(action string) string {
	for _, r := range routes {
		if r.match(action) {
			return r.queue
		}
	}
	return infra.QueueNotifications
}

// PriorityFor resolves an action's priority inside a queue: the 1-based
// position in the queue's static priority list, 1 being the most urgent.
// 0 means "no explicit priority" and sorts after every listed action.
func PriorityFor(q infra.QueueConfig, action string) int {
	for i, a := range q.PriorityActions {
		if a == action {
			return i + 1
		}
	}
	return 0
}
