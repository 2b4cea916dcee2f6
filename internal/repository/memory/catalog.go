package memory

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

func byID[T any](id func(T) int64) func(a, b T) bool {
	return func(a, b T) bool { return id(a) < id(b) }
}

func (d *DB) CreateTaxRate(_ context.Context, _ *gorm.DB, t *model.TaxRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.ID = d.nextID()
	d.taxRates[t.ID] = *t
	return nil
}

func (d *DB) GetTaxRate(_ context.Context, _ *gorm.DB, id int64) (*model.TaxRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.taxRates[id]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (d *DB) FindTaxRateByName(_ context.Context, _ *gorm.DB, nodeIDs []int64, name string) (*model.TaxRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.taxRates {
		if t.Name == name && containsID(nodeIDs, t.NodeID) {
			return &t, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) UpdateTaxRate(_ context.Context, _ *gorm.DB, t *model.TaxRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taxRates[t.ID] = *t
	return nil
}

func (d *DB) DeleteTaxRate(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.taxRates, id)
	return nil
}

func (d *DB) ListTaxRates(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.TaxRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.taxRates, func(t model.TaxRate) bool { return containsID(nodeIDs, t.NodeID) },
		byID(func(t model.TaxRate) int64 { return t.ID })), nil
}

func (d *DB) TaxRateInUse(_ context.Context, _ *gorm.DB, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.products {
		if p.TaxRateID == id {
			return true, nil
		}
	}
	for _, o := range d.orders {
		for _, li := range o.LineItems {
			if li.TaxRateID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *DB) CreateProduct(_ context.Context, _ *gorm.DB, p *model.Product) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.ID = d.nextID()
	d.products[p.ID] = *p
	return nil
}

func (d *DB) GetProduct(_ context.Context, _ *gorm.DB, id int64) (*model.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.products[id]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}

func (d *DB) GetProducts(_ context.Context, _ *gorm.DB, ids []int64) ([]model.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.products, func(p model.Product) bool { return containsID(ids, p.ID) },
		byID(func(p model.Product) int64 { return p.ID })), nil
}

func (d *DB) UpdateProduct(_ context.Context, _ *gorm.DB, p *model.Product) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[p.ID] = *p
	return nil
}

func (d *DB) DeleteProduct(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.products, id)
	return nil
}

func (d *DB) ListProducts(_ context.Context, _ *gorm.DB, nodeIDs []int64, types []model.ProductType) ([]model.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keep := func(p model.Product) bool {
		if !containsID(nodeIDs, p.NodeID) {
			return false
		}
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if p.Type == t {
				return true
			}
		}
		return false
	}
	return sortedValues(d.products, keep, byID(func(p model.Product) int64 { return p.ID })), nil
}

func (d *DB) FindSystemProduct(_ context.Context, _ *gorm.DB, nodeID int64, t model.ProductType) (*model.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.products {
		if p.NodeID == nodeID && p.Type == t {
			return &p, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) ProductNameTaken(_ context.Context, _ *gorm.DB, nodeID int64, name string, excludeID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.products {
		if p.ID == excludeID || p.Name != name {
			continue
		}
		if d.isAncestorOrSelf(p.NodeID, nodeID) || d.inSubtree(p.NodeID, nodeID) {
			return true, nil
		}
	}
	return false, nil
}

func (d *DB) ProductInUse(_ context.Context, _ *gorm.DB, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.orders {
		for _, li := range o.LineItems {
			if li.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *DB) CreateButton(_ context.Context, _ *gorm.DB, b *model.TillButton) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.ID = d.nextID()
	d.buttons[b.ID] = *b
	return nil
}

func (d *DB) GetButton(_ context.Context, _ *gorm.DB, id int64) (*model.TillButton, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buttons[id]
	if !ok {
		return nil, errNotFound
	}
	return &b, nil
}

func (d *DB) GetButtons(_ context.Context, _ *gorm.DB, ids []int64) ([]model.TillButton, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.buttons, func(b model.TillButton) bool { return containsID(ids, b.ID) },
		byID(func(b model.TillButton) int64 { return b.ID })), nil
}

func (d *DB) UpdateButton(_ context.Context, _ *gorm.DB, b *model.TillButton) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttons[b.ID] = *b
	return nil
}

func (d *DB) DeleteButton(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buttons, id)
	return nil
}

func (d *DB) ListButtons(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.TillButton, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.buttons, func(b model.TillButton) bool { return containsID(nodeIDs, b.NodeID) },
		byID(func(b model.TillButton) int64 { return b.ID })), nil
}

func (d *DB) RemoveProductFromButtons(_ context.Context, _ *gorm.DB, productID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, b := range d.buttons {
		b.ProductIDs = pq.Int64Array(removeID(b.ProductIDs, productID))
		d.buttons[id] = b
	}
	return nil
}

func (d *DB) CreateLayout(_ context.Context, _ *gorm.DB, l *model.TillLayout) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.ID = d.nextID()
	d.layouts[l.ID] = *l
	return nil
}

func (d *DB) GetLayout(_ context.Context, _ *gorm.DB, id int64) (*model.TillLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.layouts[id]
	if !ok {
		return nil, errNotFound
	}
	return &l, nil
}

func (d *DB) UpdateLayout(_ context.Context, _ *gorm.DB, l *model.TillLayout) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts[l.ID] = *l
	return nil
}

func (d *DB) DeleteLayout(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, id)
	return nil
}

func (d *DB) ListLayouts(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.TillLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.layouts, func(l model.TillLayout) bool { return containsID(nodeIDs, l.NodeID) },
		byID(func(l model.TillLayout) int64 { return l.ID })), nil
}

func (d *DB) RemoveButtonFromLayouts(_ context.Context, _ *gorm.DB, buttonID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, l := range d.layouts {
		l.ButtonIDs = pq.Int64Array(removeID(l.ButtonIDs, buttonID))
		d.layouts[id] = l
	}
	return nil
}

func (d *DB) RemoveTicketFromLayouts(_ context.Context, _ *gorm.DB, ticketID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, l := range d.layouts {
		l.TicketIDs = pq.Int64Array(removeID(l.TicketIDs, ticketID))
		d.layouts[id] = l
	}
	return nil
}

func (d *DB) CreateProfile(_ context.Context, _ *gorm.DB, p *model.TillProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.ID = d.nextID()
	d.profiles[p.ID] = *p
	return nil
}

func (d *DB) GetProfile(_ context.Context, _ *gorm.DB, id int64) (*model.TillProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}

func (d *DB) UpdateProfile(_ context.Context, _ *gorm.DB, p *model.TillProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = *p
	return nil
}

func (d *DB) DeleteProfile(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, id)
	return nil
}

func (d *DB) ListProfiles(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.TillProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.profiles, func(p model.TillProfile) bool { return containsID(nodeIDs, p.NodeID) },
		byID(func(p model.TillProfile) int64 { return p.ID })), nil
}
