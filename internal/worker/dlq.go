package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Dead letters: jobs and outbox mails past their retry budget, parked in one
// redis list per source queue (dlq:jobs:presale, dlq:jobs:mail) for admins.

const (
	DLQPrefix = "dlq:"
	// dlqCap bounds each list; older letters are trimmed.
	dlqCap = 1000
)

// DeadLetter is one parked job.
type DeadLetter struct {
	Queue    string          `json:"queue"`
	JobType  string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
	Attempts int             `json:"attempts"`
}

// KnownQueue reports whether queue is one this process writes dead letters for.
func KnownQueue(queue string) bool {
	return queue == QueuePresale || queue == QueueMail
}

// SendToDLQ parks a failed job. Redis errors are logged, the job is lost.
func SendToDLQ(ctx context.Context, rdb *redis.Client, queue, jobType string, payload json.RawMessage, reason string, attempts int) {
	data, err := json.Marshal(DeadLetter{
		Queue:    queue,
		JobType:  jobType,
		Payload:  payload,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
		Attempts: attempts,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: encode dead letter")
		return
	}
	key := DLQPrefix + queue
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, dlqCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("dlq_key", key).Str("job_type", jobType).Msg("dlq: push failed, job dropped")
		return
	}
	log.Warn().Str("queue", queue).Str("job_type", jobType).Int("attempts", attempts).
		Str("reason", reason).Msg("dlq: job parked")
}

func DLQLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+queue).Result()
}

// ListDLQ returns the newest limit dead letters of queue.
func ListDLQ(ctx context.Context, rdb *redis.Client, queue string, limit int64) ([]DeadLetter, error) {
	if limit <= 0 || limit > dlqCap {
		limit = 100
	}
	raw, err := rdb.LRange(ctx, DLQPrefix+queue, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var l DeadLetter
		if err := json.Unmarshal([]byte(r), &l); err != nil {
			log.Warn().Err(err).Str("queue", queue).Msg("dlq: skipping malformed letter")
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
