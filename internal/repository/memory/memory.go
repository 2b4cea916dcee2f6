// Package memory is an in-memory implementation of every repository
// interface. Transactions are not isolated; the tx argument is ignored.
package memory

import (
	"sort"
	"sync"

	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DB struct {
	mu  sync.Mutex
	seq int64

	nodes          map[int64]model.Node
	events         map[int64]model.Event
	accounts       map[int64]model.Account
	transactions   []model.Transaction
	customerInfos  map[int64]model.CustomerInfo
	tags           map[int64]model.UserTag
	tagSecrets     map[int64]model.UserTagSecret
	users          map[int64]model.User
	roles          map[int64]model.UserRole
	userToRoles    []model.UserToRole
	userSessions   map[int64]model.UserSession
	custSessions   map[int64]model.CustomerSession
	taxRates       map[int64]model.TaxRate
	products       map[int64]model.Product
	buttons        map[int64]model.TillButton
	layouts        map[int64]model.TillLayout
	profiles       map[int64]model.TillProfile
	tills          map[int64]model.Till
	tses           map[int64]model.TSE
	registers      map[int64]model.CashRegister
	stockings      map[int64]model.CashRegisterStocking
	shifts         map[int64]model.CashierShift
	orders         map[int64]model.Order
	pendingOrders  map[uuid.UUID]model.PendingOrder
	payoutRuns     map[int64]model.PayoutRun
	payouts        map[int64]model.Payout
	ticketVouchers map[int64]model.TicketVoucher
	auditLogs      []model.AuditLog
	mails          map[int64]model.Mail
}

// New returns an empty database.
func New() *DB {
	return &DB{
		nodes:          map[int64]model.Node{},
		events:         map[int64]model.Event{},
		accounts:       map[int64]model.Account{},
		customerInfos:  map[int64]model.CustomerInfo{},
		tags:           map[int64]model.UserTag{},
		tagSecrets:     map[int64]model.UserTagSecret{},
		users:          map[int64]model.User{},
		roles:          map[int64]model.UserRole{},
		userSessions:   map[int64]model.UserSession{},
		custSessions:   map[int64]model.CustomerSession{},
		taxRates:       map[int64]model.TaxRate{},
		products:       map[int64]model.Product{},
		buttons:        map[int64]model.TillButton{},
		layouts:        map[int64]model.TillLayout{},
		profiles:       map[int64]model.TillProfile{},
		tills:          map[int64]model.Till{},
		tses:           map[int64]model.TSE{},
		registers:      map[int64]model.CashRegister{},
		stockings:      map[int64]model.CashRegisterStocking{},
		shifts:         map[int64]model.CashierShift{},
		orders:         map[int64]model.Order{},
		pendingOrders:  map[uuid.UUID]model.PendingOrder{},
		payoutRuns:     map[int64]model.PayoutRun{},
		payouts:        map[int64]model.Payout{},
		ticketVouchers: map[int64]model.TicketVoucher{},
		mails:          map[int64]model.Mail{},
	}
}

// NewStore returns a repository.Store backed by a fresh in-memory database.
func NewStore() (*repository.Store, *DB) {
	db := New()
	return &repository.Store{
		Tree:          db,
		Accounts:      db,
		UserTags:      db,
		Users:         db,
		Catalog:       db,
		Tills:         db,
		CashRegisters: db,
		Orders:        db,
		PendingOrders: db,
		Payouts:       db,
		Presale:       db,
		Audit:         db,
		Mails:         db,
	}, db
}

func (d *DB) nextID() int64 {
	d.seq++
	return d.seq
}

var errNotFound = gorm.ErrRecordNotFound

// inSubtree reports whether nodeID is root or one of its descendants.
func (d *DB) inSubtree(nodeID, root int64) bool {
	if nodeID == root {
		return true
	}
	n, ok := d.nodes[nodeID]
	if !ok {
		return false
	}
	for _, p := range n.ParentIDs {
		if p == root {
			return true
		}
	}
	return false
}

// isAncestorOrSelf reports whether candidate is nodeID or one of its ancestors.
func (d *DB) isAncestorOrSelf(candidate, nodeID int64) bool {
	return d.inSubtree(nodeID, candidate)
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func sortedValues[K comparable, V any](m map[K]V, keep func(V) bool, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Compile-time interface checks.
var (
	_ repository.TreeRepository          = (*DB)(nil)
	_ repository.AccountRepository       = (*DB)(nil)
	_ repository.UserTagRepository       = (*DB)(nil)
	_ repository.UserRepository          = (*DB)(nil)
	_ repository.CatalogRepository       = (*DB)(nil)
	_ repository.TillRepository          = (*DB)(nil)
	_ repository.CashRegisterRepository  = (*DB)(nil)
	_ repository.OrderRepository         = (*DB)(nil)
	_ repository.PendingOrderRepository  = (*DB)(nil)
	_ repository.PayoutRepository        = (*DB)(nil)
	_ repository.TicketVoucherRepository = (*DB)(nil)
	_ repository.AuditRepository         = (*DB)(nil)
	_ repository.MailRepository          = (*DB)(nil)
)
