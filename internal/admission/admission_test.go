package admission_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
	"github.com/hedgeco/opskernel/internal/queue/memq"
)

func queueNames(queues []infra.QueueConfig) []string {
	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, q.Name)
	}
	return names
}

func newService(t *testing.T) (*admission.Service, *memq.MemoBackend) {
	t.Helper()
	queues := infra.DefaultQueues()
	backend := memq.NewMemoBackend(queueNames(queues))
	return admission.NewService(backend, queues, zap.NewNop()), backend
}

func draft(action, entityID string, version int) domain.JobDraft {
	return domain.JobDraft{
		Action:      action,
		EntityID:    entityID,
		Version:     version,
		SubmittedBy: "crm_agent",
	}
}

func TestSubmitAdmitsAndRoutes(t *testing.T) {
	svc, backend := newService(t)

	receipt, err := svc.Submit(context.Background(), draft("send_verification", "user-12", 3))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(receipt.JobID, "op-"))
	assert.Equal(t, infra.QueueEmail, receipt.Queue)
	assert.False(t, receipt.Deduplicated)
	assert.Equal(t, 2, receipt.Priority, "send_verification is second in the email priority list")
	assert.Equal(t, 1, backend.JobCount())

	job, queue, err := svc.Lookup(context.Background(), receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, infra.QueueEmail, queue)
	assert.Equal(t, "send_verification", job.Action)
	assert.Equal(t, "user-12", job.EntityID)
	assert.Equal(t, domain.JobPending, job.State)
}

func TestSubmitResubmissionDeduplicates(t *testing.T) {
	svc, backend := newService(t)
	d := draft("publish_article", "article-7", 1)

	first, err := svc.Submit(context.Background(), d)
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.False(t, first.Deduplicated)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, 1, backend.JobCount(), "resubmission must not enqueue a second job")
}

func TestSubmitNewVersionIsANewJob(t *testing.T) {
	svc, backend := newService(t)

	first, err := svc.Submit(context.Background(), draft("publish_article", "article-7", 1))
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), draft("publish_article", "article-7", 2))
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, 2, backend.JobCount())
}

func TestSubmitConcurrentDuplicatesAdmitOnce(t *testing.T) {
	svc, backend := newService(t)
	d := draft("send_newsletter", "segment-9", 5)

	const n = 20
	var wg sync.WaitGroup
	deduped := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := svc.Submit(context.Background(), d)
			errs[i] = err
			deduped[i] = receipt.Deduplicated
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, backend.JobCount())
	fresh := 0
	for _, dd := range deduped {
		if !dd {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one submission wins the admission")
}

func TestSubmitInvalidDraftNeverReachesBackend(t *testing.T) {
	svc, backend := newService(t)

	cases := []domain.JobDraft{
		{EntityID: "user-1", SubmittedBy: "crm_agent"},                     // no action
		{Action: "delete_user", SubmittedBy: "crm_agent"},                  // no entity
		{Action: "delete_user", EntityID: "user-1"},                        // no submitter
		{Action: "delete_user", EntityID: "user-1", Version: -1, SubmittedBy: "x"}, // negative version
		{Action: strings.Repeat("a", 200), EntityID: "user-1", SubmittedBy: "x"},   // oversized action
	}

	for _, d := range cases {
		_, err := svc.Submit(context.Background(), d)
		require.ErrorIs(t, err, admission.ErrValidation)
	}
	assert.Zero(t, backend.JobCount())
}

func TestLookupUnknownJob(t *testing.T) {
	svc, _ := newService(t)

	_, _, err := svc.Lookup(context.Background(), "op-does-not-exist")
	assert.ErrorIs(t, err, admission.ErrUnknownJob)
}

func TestCountsReflectAdmissionsAndPause(t *testing.T) {
	svc, backend := newService(t)

	_, err := svc.Submit(context.Background(), draft("send_verification", "user-1", 0))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), draft("send_verification", "user-2", 0))
	require.NoError(t, err)
	backend.SetPaused(infra.QueueEmail, true)

	counts, err := svc.Counts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), counts[infra.QueueEmail].Pending)
	assert.True(t, counts[infra.QueueEmail].Paused)
	assert.Equal(t, int64(0), counts[infra.QueuePublish].Pending)
}
