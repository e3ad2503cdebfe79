package infra

import "fmt"

const (
	// RedisNamespace isolates all kernel data inside a shared Redis.
	RedisNamespace = "opskernel"
)

// Job and queue keys.
const (
	// RedisKeyJobPrefix + jobID holds the serialized job record. Written
	// with SETNX: a duplicate idempotency key is rejected atomically, which
	// is what makes admission at-most-once under concurrent submission.
	RedisKeyJobPrefix = RedisNamespace + ":job:"

	// RedisKeyQueuePrefix + queue is the pending list workers consume from.
	RedisKeyQueuePrefix = RedisNamespace + ":queue:"

	// RedisKeyPausedPrefix + queue, when set, marks the queue paused for
	// workers. The kernel only reads it for GET /queues.
	RedisKeyPausedPrefix = RedisNamespace + ":paused:"
)

// GetJobKey builds the record key for one job id.
func GetJobKey(jobID string) string {
	return RedisKeyJobPrefix + jobID
}

// GetQueueKey builds the pending-list key for one queue.
func GetQueueKey(queue string) string {
	return RedisKeyQueuePrefix + queue
}

// GetPausedKey builds the pause-flag key for one queue.
func GetPausedKey(queue string) string {
	return RedisKeyPausedPrefix + queue
}

// GetRateWindowKey builds the hourly rate-window counter key. The bucket is
// the unix hour so the counter rolls over naturally with EXPIRE as backstop.
func GetRateWindowKey(action string, unixHour int64) string {
	return fmt.Sprintf("%s:rate:%s:%d", RedisNamespace, action, unixHour)
}
