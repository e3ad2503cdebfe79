package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hedgeco/opskernel/internal/infra"
)

func TestRouteFor(t *testing.T) {
	cases := []struct {
		action string
		want   string
	}{
		{"approve_membership", infra.QueueApprovals},
		{"request_approval", infra.QueueApprovals},
		{"review_decision_fund", infra.QueueApprovals},
		{"publish_article", infra.QueuePublish},
		{"unpublish_fund_update", infra.QueuePublish},
		{"send_newsletter", infra.QueueEmail},
		{"send_password_reset", infra.QueueEmail},
		{"embed_fund_profile", infra.QueueEmbeddings},
		{"vectorize_article", infra.QueueEmbeddings},
		{"trigger_webhook", infra.QueueWebhooks},
		{"notify_admin", infra.QueueNotifications},
		{"completely_unknown_action", infra.QueueNotifications},
		{"", infra.QueueNotifications},
	}

	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			assert.Equal(t, tc.want, RouteFor(tc.action))
		})
	}
}

func TestRouteForFirstMatchWins(t *testing.T) {
	// "approve" outranks "send_" in the ordered rule list.
	assert.Equal(t, infra.QueueApprovals, RouteFor("send_approval_reminder"))
}

func TestPriorityFor(t *testing.T) {
	q := infra.QueueConfig{
		Name:            infra.QueueEmail,
		PriorityActions: []string{"send_password_reset", "send_verification", "send_newsletter"},
	}

	assert.Equal(t, 1, PriorityFor(q, "send_password_reset"))
	assert.Equal(t, 3, PriorityFor(q, "send_newsletter"))
	assert.Equal(t, 0, PriorityFor(q, "send_digest"), "unlisted actions carry no explicit priority")
	assert.Equal(t, 0, PriorityFor(infra.QueueConfig{}, "anything"))
}

func TestIdempotencyKeyDeterminism(t *testing.T) {
	a := IdempotencyKey("publish_article", "article-7", 1)
	b := IdempotencyKey("publish_article", "article-7", 1)
	assert.Equal(t, a, b)

	assert.Len(t, a, 27) // "op-" + 24 hex chars
	assert.Equal(t, "op-", a[:3])
}

func TestIdempotencyKeySensitivity(t *testing.T) {
	base := IdempotencyKey("publish_article", "article-7", 1)

	assert.NotEqual(t, base, IdempotencyKey("publish_article", "article-7", 2))
	assert.NotEqual(t, base, IdempotencyKey("publish_article", "article-8", 1))
	assert.NotEqual(t, base, IdempotencyKey("unpublish_article", "article-7", 1))
}

func TestIdempotencyKeyFieldBoundaries(t *testing.T) {
	// NUL separation keeps shifted field boundaries from colliding.
	assert.NotEqual(t,
		IdempotencyKey("ab", "c", 0),
		IdempotencyKey("a", "bc", 0),
	)
}
