package worker

// email_worker.go
// Drains the transactional mail outbox. Runs on a ticker and can be woken
// early through QueueMail. Mails that failed for the last allowed time are
// moved to the DLQ.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	JobMailFlush  = "mail_flush"
	mailBatchSize = 50
)

// MailSender delivers due outbox mails and returns the dead ones.
type MailSender interface {
	SendDue(ctx context.Context, limit int) ([]model.Mail, error)
}

// MailWorker sends outbox mails in batches.
type MailWorker struct {
	mails MailSender
	rdb   *redis.Client
}

// NewMailWorker creates a MailWorker. rdb may be nil, then dead mails are
// only logged.
func NewMailWorker(mails MailSender, rdb *redis.Client) *MailWorker {
	return &MailWorker{mails: mails, rdb: rdb}
}

// Process handles a flush job from QueueMail.
func (w *MailWorker) Process(ctx context.Context, _ json.RawMessage) error {
	return w.flush(ctx)
}

// Ticker returns the periodic outbox drain.
func (w *MailWorker) Ticker(interval time.Duration) Ticker {
	return Ticker{Name: "mail", Interval: interval, Run: w.flush}
}

func (w *MailWorker) flush(ctx context.Context) error {
	dead, err := w.mails.SendDue(ctx, mailBatchSize)
	for _, m := range dead {
		log.Error().Int64("mail_id", m.ID).Int("attempts", m.NumRetries).Msg("email_worker: giving up on mail")
		if w.rdb == nil {
			continue
		}
		payload, merr := json.Marshal(map[string]any{"mail_id": m.ID, "node_id": m.NodeID, "to": m.ToAddrs, "subject": m.Subject})
		if merr != nil {
			continue
		}
		SendToDLQ(ctx, w.rdb, QueueMail, JobMailFlush, payload,
			fmt.Sprintf("max retries (%d) exceeded", model.MaxMailRetries), m.NumRetries)
	}
	return err
}
