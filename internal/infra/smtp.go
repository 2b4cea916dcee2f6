package infra

import (
	"bytes"
	"fmt"
	"net/smtp"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/jordan-wright/email"
)

// SMTPMailer delivers outbox mails through the SMTP server configured on the
// owning event.
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

// Send delivers m with its attachments.
func (m *SMTPMailer) Send(event *model.Event, mail *model.Mail) error {
	if event.EmailSMTPHost == "" {
		return fmt.Errorf("mailer: no smtp host configured for event %d", event.ID)
	}
	e := email.NewEmail()
	e.From = mail.FromAddr
	if e.From == "" {
		e.From = event.EmailDefaultSender
	}
	e.To = mail.ToAddrs
	e.Subject = mail.Subject
	e.Text = []byte(mail.Message)
	if mail.HTMLMessage {
		e.HTML = []byte(mail.Message)
	}

	for _, a := range mail.Attachments {
		if _, err := e.Attach(bytes.NewReader(a.Content), a.FileName, a.MimeType); err != nil {
			return fmt.Errorf("mailer: attach %s: %w", a.FileName, err)
		}
	}

	addr := fmt.Sprintf("%s:%d", event.EmailSMTPHost, event.EmailSMTPPort)
	var auth smtp.Auth
	if event.EmailSMTPUsername != "" {
		auth = smtp.PlainAuth("", event.EmailSMTPUsername, event.EmailSMTPPassword, event.EmailSMTPHost)
	}
	return e.Send(addr, auth)
}
