package memory

import (
	"context"
	"sort"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"gorm.io/gorm"
)

func (d *DB) CreatePayoutRun(_ context.Context, _ *gorm.DB, r *model.PayoutRun) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.ID = d.nextID()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	d.payoutRuns[r.ID] = *r
	return nil
}

func (d *DB) GetPayoutRun(_ context.Context, _ *gorm.DB, id int64) (*model.PayoutRun, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.payoutRuns[id]
	if !ok {
		return nil, errNotFound
	}
	return &r, nil
}

func (d *DB) LockPayoutRun(ctx context.Context, tx *gorm.DB, id int64) (*model.PayoutRun, error) {
	return d.GetPayoutRun(ctx, tx, id)
}

func (d *DB) UpdatePayoutRun(_ context.Context, _ *gorm.DB, r *model.PayoutRun) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payoutRuns[r.ID] = *r
	return nil
}

func (d *DB) ListPayoutRuns(_ context.Context, _ *gorm.DB, nodeID int64) ([]model.PayoutRun, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.payoutRuns, func(r model.PayoutRun) bool { return r.NodeID == nodeID },
		byID(func(r model.PayoutRun) int64 { return r.ID })), nil
}

func (d *DB) CreatePayout(_ context.Context, _ *gorm.DB, p *model.Payout) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.payouts {
		if other.CustomerAccountID == p.CustomerAccountID {
			return uniqueViolation("payout_customer_account_id_key")
		}
	}
	p.ID = d.nextID()
	d.payouts[p.ID] = *p
	return nil
}

func (d *DB) ListPayouts(_ context.Context, _ *gorm.DB, runID int64) ([]model.Payout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.payouts, func(p model.Payout) bool { return p.PayoutRunID == runID },
		func(a, b model.Payout) bool { return a.CustomerAccountID < b.CustomerAccountID }), nil
}

func (d *DB) DeletePayouts(_ context.Context, _ *gorm.DB, runID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.payouts {
		if p.PayoutRunID == runID {
			delete(d.payouts, id)
		}
	}
	return nil
}

func (d *DB) ListPayoutCandidates(_ context.Context, _ *gorm.DB, nodeID int64) ([]repository.PayoutCandidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []repository.PayoutCandidate
	for _, a := range d.accounts {
		if a.NodeID != nodeID || a.Type != model.AccountPrivate {
			continue
		}
		ci, ok := d.customerInfos[a.ID]
		if !ok || !ci.PayoutExport || ci.PayoutError != nil || ci.PayoutRunID != nil || ci.IBAN == nil || ci.AccountName == nil {
			continue
		}
		c := repository.PayoutCandidate{
			CustomerAccountID: a.ID,
			Balance:           a.Balance,
			IBAN:              *ci.IBAN,
			AccountName:       *ci.AccountName,
			Donation:          ci.Donation,
			DonateAll:         ci.DonateAll,
		}
		if ci.Email != nil {
			c.Email = *ci.Email
		}
		if a.UserTagID != nil {
			if t, ok := d.tags[*a.UserTagID]; ok {
				c.UserTagUID = t.UID
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerAccountID < out[j].CustomerAccountID })
	return out, nil
}

func (d *DB) SetPayoutRunOfCustomers(_ context.Context, _ *gorm.DB, accountIDs []int64, runID *int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range accountIDs {
		ci := d.customerInfos[id]
		ci.CustomerAccountID = id
		ci.PayoutRunID = runID
		d.customerInfos[id] = ci
	}
	return nil
}

func (d *DB) ClearPayoutRun(_ context.Context, _ *gorm.DB, runID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ci := range d.customerInfos {
		if ci.PayoutRunID != nil && *ci.PayoutRunID == runID {
			ci.PayoutRunID = nil
			d.customerInfos[id] = ci
		}
	}
	return nil
}

func (d *DB) CreateTicketVoucher(_ context.Context, _ *gorm.DB, v *model.TicketVoucher) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.ticketVouchers {
		if other.Token == v.Token && other.ExternalReference == v.ExternalReference {
			return uniqueViolation("idx_ticket_voucher_key")
		}
	}
	v.ID = d.nextID()
	d.ticketVouchers[v.ID] = *v
	return nil
}

func (d *DB) FindTicketVoucher(_ context.Context, _ *gorm.DB, externalReference, token string) (*model.TicketVoucher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.ticketVouchers {
		if v.Token == token && v.ExternalReference == externalReference {
			return &v, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindTicketVoucherByToken(_ context.Context, _ *gorm.DB, token string) (*model.TicketVoucher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *model.TicketVoucher
	for _, v := range d.ticketVouchers {
		if v.Token == token && (found == nil || v.ID < found.ID) {
			v := v
			found = &v
		}
	}
	if found == nil {
		return nil, errNotFound
	}
	return found, nil
}

func (d *DB) ListTicketVouchers(_ context.Context, _ *gorm.DB, nodeID int64) ([]model.TicketVoucher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.ticketVouchers, func(v model.TicketVoucher) bool { return v.NodeID == nodeID },
		byID(func(v model.TicketVoucher) int64 { return v.ID })), nil
}

func (d *DB) CreateAuditLog(_ context.Context, _ *gorm.DB, l *model.AuditLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.ID = d.nextID()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	d.auditLogs = append(d.auditLogs, *l)
	return nil
}

func (d *DB) ListAuditLogs(_ context.Context, _ *gorm.DB, rootNodeID int64, offset, limit int) ([]model.AuditLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.AuditLog
	for i := len(d.auditLogs) - 1; i >= 0; i-- {
		if d.inSubtree(d.auditLogs[i].NodeID, rootNodeID) {
			out = append(out, d.auditLogs[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (d *DB) CreateMail(_ context.Context, _ *gorm.DB, m *model.Mail) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m.ID = d.nextID()
	for i := range m.Attachments {
		m.Attachments[i].ID = d.nextID()
		m.Attachments[i].MailID = m.ID
	}
	d.mails[m.ID] = *m
	return nil
}

func (d *DB) GetMail(_ context.Context, _ *gorm.DB, id int64) (*model.Mail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mails[id]
	if !ok {
		return nil, errNotFound
	}
	return &m, nil
}

func (d *DB) ListDueMails(_ context.Context, _ *gorm.DB, now time.Time, limit int) ([]model.Mail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	due := sortedValues(d.mails, func(m model.Mail) bool {
		if m.SendDate != nil || m.NumRetries >= model.MaxMailRetries || m.ScheduledSendDate.After(now) {
			return false
		}
		n, ok := d.nodes[m.NodeID]
		if !ok || n.EventID == nil {
			return false
		}
		return d.events[*n.EventID].EmailEnabled
	}, func(a, b model.Mail) bool { return a.ScheduledSendDate.Before(b.ScheduledSendDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (d *DB) MarkMailSent(_ context.Context, _ *gorm.DB, id int64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mails[id]
	if !ok {
		return errNotFound
	}
	m.SendDate = &at
	d.mails[id] = m
	return nil
}

func (d *DB) MarkMailFailed(_ context.Context, _ *gorm.DB, id int64, next time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mails[id]
	if !ok {
		return errNotFound
	}
	m.ScheduledSendDate = next
	m.NumRetries++
	d.mails[id] = m
	return nil
}

// AuditLogs returns a copy of the audit trail in insertion order.
func (d *DB) AuditLogs() []model.AuditLog {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.AuditLog(nil), d.auditLogs...)
}

// Mails returns a copy of the outbox ordered by id.
func (d *DB) Mails() []model.Mail {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.mails, nil, func(a, b model.Mail) bool { return a.ID < b.ID })
}
