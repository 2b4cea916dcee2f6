package memory

import (
	"context"
	"sort"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func cloneOrder(o model.Order) model.Order {
	o.LineItems = append([]model.LineItem(nil), o.LineItems...)
	return o
}

func (d *DB) CreateOrder(_ context.Context, _ *gorm.DB, o *model.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.orders {
		if other.UUID == o.UUID {
			return uniqueViolation("ordr_uuid_key")
		}
		if o.CancelsOrder != nil && other.CancelsOrder != nil && *o.CancelsOrder == *other.CancelsOrder {
			return uniqueViolation("ordr_cancels_order_key")
		}
	}
	o.ID = d.nextID()
	for i := range o.LineItems {
		o.LineItems[i].ID = d.nextID()
		o.LineItems[i].OrderID = o.ID
	}
	d.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (d *DB) GetOrder(_ context.Context, _ *gorm.DB, id int64) (*model.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	if !ok {
		return nil, errNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (d *DB) findOrder(match func(model.Order) bool) (*model.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.orders {
		if match(o) {
			o = cloneOrder(o)
			return &o, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindOrderByUUID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Order, error) {
	return d.findOrder(func(o model.Order) bool { return o.UUID == id })
}

func (d *DB) FindCancellation(_ context.Context, _ *gorm.DB, orderID int64) (*model.Order, error) {
	return d.findOrder(func(o model.Order) bool { return o.CancelsOrder != nil && *o.CancelsOrder == orderID })
}

func (d *DB) ListOrders(_ context.Context, _ *gorm.DB, f dto.OrderFilter) ([]model.Order, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []model.Order
	for _, o := range d.orders {
		if f.NodeID != 0 && !d.inSubtree(o.NodeID, f.NodeID) {
			continue
		}
		if f.CustomerAccountID != nil && (o.CustomerAccountID == nil || *o.CustomerAccountID != *f.CustomerAccountID) {
			continue
		}
		if f.TillID != nil && o.TillID != *f.TillID {
			continue
		}
		all = append(all, cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	if f.Limit <= 0 {
		return all, total, nil
	}
	start := (f.Page - 1) * f.Limit
	if start < 0 || start >= len(all) {
		return nil, total, nil
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (d *DB) CountOrdersAtTill(_ context.Context, _ *gorm.DB, tillID, zNr int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, o := range d.orders {
		if o.TillID == tillID && o.ZNr == zNr {
			n++
		}
	}
	return n, nil
}

// Orders returns a copy of all orders ordered by id.
func (d *DB) Orders() []model.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.orders, nil, byID(func(o model.Order) int64 { return o.ID }))
}

func (d *DB) CreatePendingOrder(_ context.Context, _ *gorm.DB, p *model.PendingOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pendingOrders[p.UUID]; ok {
		return uniqueViolation("pending_sumup_order_pkey")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	d.pendingOrders[p.UUID] = *p
	return nil
}

func (d *DB) GetPendingOrder(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.PendingOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pendingOrders[id]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}

func (d *DB) LockPendingOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.PendingOrder, error) {
	return d.GetPendingOrder(ctx, tx, id)
}

func (d *DB) UpdatePendingOrder(_ context.Context, _ *gorm.DB, p *model.PendingOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingOrders[p.UUID] = *p
	return nil
}

func (d *DB) ListDuePendingOrders(_ context.Context, _ *gorm.DB, now time.Time) ([]model.PendingOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.pendingOrders, func(p model.PendingOrder) bool { return p.IsDue(now) },
		func(a, b model.PendingOrder) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}
