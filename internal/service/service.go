package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// runTx executes fn inside a read committed transaction. A nil db (in-memory
// store used by unit tests) runs fn directly with a nil tx.
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}

// runSerializable is runTx at serializable isolation, used for close-out,
// payout runs, register transfers and deferred order reconciliation.
func runSerializable(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// Actor is an authenticated admin user (user session token).
type Actor struct {
	UserID    int64
	Login     string
	SessionID int64
}

// Terminal is the resolved context of a terminal session token.
type Terminal struct {
	Till      model.Till
	Node      model.Node
	EventNode model.Node
	Event     model.Event
	Profile   model.TillProfile
	Layout    model.TillLayout
	User      *model.User
	Role      *model.UserRole
}

// HasPrivilege reports whether the user logged in at the till holds p.
func (t *Terminal) HasPrivilege(p model.Privilege) bool {
	return t.Role != nil && t.Role.Has(p)
}

func (t *Terminal) requireUser(p model.Privilege) error {
	if t.User == nil || t.Role == nil {
		return apierror.AccessDenied("no user is logged in at this till")
	}
	if !t.Role.Has(p) {
		return apierror.AccessDenied("missing privilege %s", p)
	}
	return nil
}

func (t *Terminal) userID() *int64 {
	if t.User == nil {
		return nil
	}
	id := t.User.ID
	return &id
}

// ─── Provider interfaces ─────────────────────────────────────────────────────

// CardPaymentProvider looks up and creates card checkouts (SumUp).
type CardPaymentProvider interface {
	GetCheckout(ctx context.Context, event *model.Event, orderUUID string) (*dto.Checkout, error)
	CreateCheckout(ctx context.Context, event *model.Event, req dto.CreateCheckout) (*dto.Checkout, error)
}

// PresaleProvider lists paid presale orders (Pretix).
type PresaleProvider interface {
	ListOrders(ctx context.Context, event *model.Event, page int) (*dto.PresalePage, error)
	OrderLink(event *model.Event, order dto.PresaleOrder) string
}

// FiscalSigner signs booked orders with the till's TSE.
type FiscalSigner interface {
	SignOrder(ctx context.Context, tx *gorm.DB, order *model.Order) error
}

// NoopSigner accepts every order without signing it.
type NoopSigner struct{}

func (NoopSigner) SignOrder(context.Context, *gorm.DB, *model.Order) error { return nil }

// Locker serializes concurrent requests on the same key. Lock returns the
// release func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// BonRenderer renders an order receipt as PDF.
type BonRenderer interface {
	RenderBon(order *model.Order, eventName, currency string) ([]byte, error)
}

// Clock is overridden in tests.
type Clock func() time.Time

// ─── Error helpers ───────────────────────────────────────────────────────────

// lookup converts a repository error into the taxonomy, naming the object
// on NotFound.
func lookup(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierror.NotFound(format, args...)
	}
	return apierror.FromDB(err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func ptr[T any](v T) *T { return &v }

var oneDecimal = decimal.NewFromInt(1)
