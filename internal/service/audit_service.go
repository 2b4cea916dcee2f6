package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AuditEntry is one privileged mutation to record.
type AuditEntry struct {
	NodeID     int64
	Type       model.AuditType
	UserID     *int64
	TerminalID *int64
	Content    any
}

type AuditService interface {
	// Log never fails the caller; errors are logged.
	Log(ctx context.Context, tx *gorm.DB, e AuditEntry)
	List(ctx context.Context, actor *Actor, nodeID int64, filter dto.AuditFilter) ([]model.AuditLog, error)
}

type auditService struct {
	repo repository.AuditRepository
	auth *Authorizer
	now  Clock
}

func NewAuditService(repo repository.AuditRepository, auth *Authorizer) AuditService {
	return &auditService{repo: repo, auth: auth, now: time.Now}
}

func (s *auditService) Log(ctx context.Context, tx *gorm.DB, e AuditEntry) {
	content, err := json.Marshal(e.Content)
	if err != nil {
		log.Warn().Err(err).Str("log_type", string(e.Type)).Msg("audit: failed to encode content")
		content = []byte("{}")
	}
	entry := &model.AuditLog{
		NodeID:                e.NodeID,
		CreatedAt:             s.now(),
		LogType:               e.Type,
		OriginatingUserID:     e.UserID,
		OriginatingTerminalID: e.TerminalID,
		Content:               string(content),
	}

	// A failed insert must not abort the surrounding transaction.
	const sp = "audit_log"
	if tx != nil {
		if err := tx.SavePoint(sp).Error; err != nil {
			log.Warn().Err(err).Msg("audit: savepoint failed")
			return
		}
	}
	if err := s.repo.CreateAuditLog(ctx, tx, entry); err != nil {
		log.Warn().Err(err).Int64("node_id", e.NodeID).Str("log_type", string(e.Type)).Msg("audit: write failed")
		if tx != nil {
			tx.RollbackTo(sp)
		}
	}
}

func (s *auditService) List(ctx context.Context, actor *Actor, nodeID int64, filter dto.AuditFilter) ([]model.AuditLog, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	logs, err := s.repo.ListAuditLogs(ctx, nil, nodeID, (filter.Page-1)*filter.Limit, filter.Limit)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	return logs, nil
}
