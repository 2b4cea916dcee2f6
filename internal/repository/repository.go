package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store bundles every repository over one database handle. Services open
// transactions on DB() and pass the *gorm.DB tx down to the repositories;
// a nil tx means "use the root handle".
type Store struct {
	db *gorm.DB

	Tree          TreeRepository
	Accounts      AccountRepository
	UserTags      UserTagRepository
	Users         UserRepository
	Catalog       CatalogRepository
	Tills         TillRepository
	CashRegisters CashRegisterRepository
	Orders        OrderRepository
	PendingOrders PendingOrderRepository
	Payouts       PayoutRepository
	Presale       TicketVoucherRepository
	Audit         AuditRepository
	Mails         MailRepository
}

// NewStore wires the gorm implementations.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Tree:          &treeRepo{db: db},
		Accounts:      &accountRepo{db: db},
		UserTags:      &userTagRepo{db: db},
		Users:         &userRepo{db: db},
		Catalog:       &catalogRepo{db: db},
		Tills:         &tillRepo{db: db},
		CashRegisters: &cashRegisterRepo{db: db},
		Orders:        &orderRepo{db: db},
		PendingOrders: &pendingOrderRepo{db: db},
		Payouts:       &payoutRepo{db: db},
		Presale:       &ticketVoucherRepo{db: db},
		Audit:         &auditRepo{db: db},
		Mails:         &mailRepo{db: db},
	}
}

// DB exposes the handle used to open transactions. Nil for in-memory stores.
func (s *Store) DB() *gorm.DB { return s.db }

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

func forUpdate(q *gorm.DB) *gorm.DB {
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// subtreeNodes restricts col to nodes at or below root.
const subtreeNodes = "IN (SELECT id FROM node WHERE id = ? OR ? = ANY(parent_ids))"

// ancestorNodes restricts col to root and its ancestors.
const ancestorNodes = "IN (SELECT unnest(parent_ids || id) FROM node WHERE id = ?)"
