package repository

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

type TicketVoucherRepository interface {
	CreateTicketVoucher(ctx context.Context, tx *gorm.DB, v *model.TicketVoucher) error
	// FindTicketVoucher looks up an import by order code and position secret.
	FindTicketVoucher(ctx context.Context, tx *gorm.DB, externalReference, token string) (*model.TicketVoucher, error)
	FindTicketVoucherByToken(ctx context.Context, tx *gorm.DB, token string) (*model.TicketVoucher, error)
	ListTicketVouchers(ctx context.Context, tx *gorm.DB, nodeID int64) ([]model.TicketVoucher, error)
}

type ticketVoucherRepo struct{ db *gorm.DB }

func (r *ticketVoucherRepo) CreateTicketVoucher(ctx context.Context, tx *gorm.DB, v *model.TicketVoucher) error {
	return conn(r.db, tx).WithContext(ctx).Create(v).Error
}

func (r *ticketVoucherRepo) FindTicketVoucher(ctx context.Context, tx *gorm.DB, externalReference, token string) (*model.TicketVoucher, error) {
	var v model.TicketVoucher
	err := conn(r.db, tx).WithContext(ctx).Where("external_reference = ? AND token = ?", externalReference, token).First(&v).Error
	return &v, err
}

func (r *ticketVoucherRepo) FindTicketVoucherByToken(ctx context.Context, tx *gorm.DB, token string) (*model.TicketVoucher, error) {
	var v model.TicketVoucher
	err := conn(r.db, tx).WithContext(ctx).Where("token = ?", token).First(&v).Error
	return &v, err
}

func (r *ticketVoucherRepo) ListTicketVouchers(ctx context.Context, tx *gorm.DB, nodeID int64) ([]model.TicketVoucher, error) {
	var vouchers []model.TicketVoucher
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ?", nodeID).Order("id ASC").Find(&vouchers).Error
	return vouchers, err
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, tx *gorm.DB, l *model.AuditLog) error
	ListAuditLogs(ctx context.Context, tx *gorm.DB, rootNodeID int64, offset, limit int) ([]model.AuditLog, error)
}

type auditRepo struct{ db *gorm.DB }

func (r *auditRepo) CreateAuditLog(ctx context.Context, tx *gorm.DB, l *model.AuditLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(l).Error
}

func (r *auditRepo) ListAuditLogs(ctx context.Context, tx *gorm.DB, rootNodeID int64, offset, limit int) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id DESC").Offset(offset).Limit(limit).
		Find(&logs).Error
	return logs, err
}

type MailRepository interface {
	CreateMail(ctx context.Context, tx *gorm.DB, m *model.Mail) error
	GetMail(ctx context.Context, tx *gorm.DB, id int64) (*model.Mail, error)
	// ListDueMails returns unsent mails of email-enabled events scheduled before now.
	ListDueMails(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]model.Mail, error)
	MarkMailSent(ctx context.Context, tx *gorm.DB, id int64, at time.Time) error
	MarkMailFailed(ctx context.Context, tx *gorm.DB, id int64, next time.Time) error
}

type mailRepo struct{ db *gorm.DB }

func (r *mailRepo) CreateMail(ctx context.Context, tx *gorm.DB, m *model.Mail) error {
	return conn(r.db, tx).WithContext(ctx).Create(m).Error
}

func (r *mailRepo) GetMail(ctx context.Context, tx *gorm.DB, id int64) (*model.Mail, error) {
	var m model.Mail
	err := conn(r.db, tx).WithContext(ctx).Preload("Attachments").First(&m, id).Error
	return &m, err
}

func (r *mailRepo) ListDueMails(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]model.Mail, error) {
	var mails []model.Mail
	err := conn(r.db, tx).WithContext(ctx).
		Joins("JOIN node ON node.id = mails.node_id").
		Joins("JOIN event ON event.id = node.event_id").
		Where("event.email_enabled AND mails.send_date IS NULL").
		Where("mails.scheduled_send_date <= ? AND mails.num_retries < ?", now, model.MaxMailRetries).
		Preload("Attachments").
		Order("mails.scheduled_send_date ASC").Limit(limit).
		Find(&mails).Error
	return mails, err
}

func (r *mailRepo) MarkMailSent(ctx context.Context, tx *gorm.DB, id int64, at time.Time) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.Mail{}).Where("id = ?", id).Update("send_date", at).Error
}

func (r *mailRepo) MarkMailFailed(ctx context.Context, tx *gorm.DB, id int64, next time.Time) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.Mail{}).Where("id = ?", id).
		Updates(map[string]any{
			"scheduled_send_date": next,
			"num_retries":         gorm.Expr("num_retries + 1"),
		}).Error
}
