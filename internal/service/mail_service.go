package service

import (
	"context"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Mailer delivers one outbox mail using the event's SMTP settings.
type Mailer interface {
	Send(event *model.Event, mail *model.Mail) error
}

// MailService is the transactional mail outbox. Mails are enqueued inside
// the business transaction and delivered later by the mail worker.
type MailService interface {
	Enqueue(ctx context.Context, tx *gorm.DB, m *model.Mail) error
	// SendDue delivers up to limit due mails. It returns the mails that
	// failed for the last allowed time.
	SendDue(ctx context.Context, limit int) ([]model.Mail, error)
}

type mailService struct {
	store  *repository.Store
	mailer Mailer
	now    Clock
}

func NewMailService(store *repository.Store, mailer Mailer) MailService {
	return &mailService{store: store, mailer: mailer, now: time.Now}
}

func (s *mailService) Enqueue(ctx context.Context, tx *gorm.DB, m *model.Mail) error {
	if len(m.ToAddrs) == 0 {
		return apierror.InvalidArgument("mail has no recipient")
	}
	for _, to := range m.ToAddrs {
		if !emailPattern.MatchString(to) {
			return apierror.InvalidArgument("invalid recipient %q", to)
		}
	}
	if m.ScheduledSendDate.IsZero() {
		m.ScheduledSendDate = s.now()
	}
	return apierror.FromDB(s.store.Mails.CreateMail(ctx, tx, m))
}

func (s *mailService) SendDue(ctx context.Context, limit int) ([]model.Mail, error) {
	now := s.now()
	mails, err := s.store.Mails.ListDueMails(ctx, nil, now, limit)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	events := map[int64]*model.Event{}
	var dead []model.Mail
	for i := range mails {
		m := &mails[i]
		event, ok := events[m.NodeID]
		if !ok {
			_, event, err = eventOf(ctx, s.store.Tree, nil, m.NodeID)
			if err != nil {
				log.Error().Err(err).Int64("mail_id", m.ID).Msg("mail: cannot resolve event")
				continue
			}
			events[m.NodeID] = event
		}

		if err := s.mailer.Send(event, m); err != nil {
			attempt := m.NumRetries + 1
			next := now.Add(model.MailRetryDelay(attempt))
			if ferr := s.store.Mails.MarkMailFailed(ctx, nil, m.ID, next); ferr != nil {
				return dead, apierror.FromDB(ferr)
			}
			log.Warn().Err(err).Int64("mail_id", m.ID).Int("attempt", attempt).
				Str("to", strings.Join(m.ToAddrs, ",")).Msg("mail: delivery failed")
			if attempt >= model.MaxMailRetries {
				m.NumRetries = attempt
				dead = append(dead, *m)
			}
			continue
		}
		if err := s.store.Mails.MarkMailSent(ctx, nil, m.ID, now); err != nil {
			return dead, apierror.FromDB(err)
		}
		log.Info().Int64("mail_id", m.ID).Msg("mail: sent")
	}
	return dead, nil
}
