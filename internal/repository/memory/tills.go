package memory

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (d *DB) checkTillUnique(t *model.Till) error {
	for _, other := range d.tills {
		if other.ID == t.ID {
			continue
		}
		if t.RegistrationUUID != nil && other.RegistrationUUID != nil && *t.RegistrationUUID == *other.RegistrationUUID {
			return uniqueViolation("till_registration_uuid_key")
		}
		if t.ActiveCashRegisterID != nil && other.ActiveCashRegisterID != nil && *t.ActiveCashRegisterID == *other.ActiveCashRegisterID {
			return uniqueViolation("till_active_cash_register_id_key")
		}
	}
	return nil
}

func (d *DB) CreateTill(_ context.Context, _ *gorm.DB, t *model.Till) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkTillUnique(t); err != nil {
		return err
	}
	t.ID = d.nextID()
	if t.ZNr == 0 {
		t.ZNr = 1
	}
	d.tills[t.ID] = *t
	return nil
}

func (d *DB) GetTill(_ context.Context, _ *gorm.DB, id int64) (*model.Till, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tills[id]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (d *DB) LockTill(ctx context.Context, tx *gorm.DB, id int64) (*model.Till, error) {
	return d.GetTill(ctx, tx, id)
}

func (d *DB) UpdateTill(_ context.Context, _ *gorm.DB, t *model.Till) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkTillUnique(t); err != nil {
		return err
	}
	d.tills[t.ID] = *t
	return nil
}

func (d *DB) DeleteTill(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tills, id)
	return nil
}

func (d *DB) ListTills(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.Till, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.tills, func(t model.Till) bool { return d.inSubtree(t.NodeID, rootNodeID) },
		byID(func(t model.Till) int64 { return t.ID })), nil
}

func (d *DB) findTill(match func(model.Till) bool) (*model.Till, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tills {
		if match(t) {
			return &t, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindTillByRegistrationUUID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Till, error) {
	return d.findTill(func(t model.Till) bool { return t.RegistrationUUID != nil && *t.RegistrationUUID == id })
}

func (d *DB) FindVirtualTill(_ context.Context, _ *gorm.DB, nodeID int64) (*model.Till, error) {
	return d.findTill(func(t model.Till) bool { return t.NodeID == nodeID && t.IsVirtual })
}

func (d *DB) FindTillsByActiveUser(_ context.Context, _ *gorm.DB, userID int64) ([]model.Till, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.tills, func(t model.Till) bool { return t.ActiveUserID != nil && *t.ActiveUserID == userID },
		byID(func(t model.Till) int64 { return t.ID })), nil
}

func (d *DB) FindTillByCashRegister(_ context.Context, _ *gorm.DB, registerID int64) (*model.Till, error) {
	return d.findTill(func(t model.Till) bool {
		return t.ActiveCashRegisterID != nil && *t.ActiveCashRegisterID == registerID
	})
}

func (d *DB) ProfileInUse(_ context.Context, _ *gorm.DB, profileID int64) (bool, error) {
	_, err := d.findTill(func(t model.Till) bool { return t.ActiveProfileID == profileID })
	return err == nil, nil
}

func (d *DB) CreateTSE(_ context.Context, _ *gorm.DB, t *model.TSE) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.ID = d.nextID()
	d.tses[t.ID] = *t
	return nil
}

func (d *DB) GetTSE(_ context.Context, _ *gorm.DB, id int64) (*model.TSE, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tses[id]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (d *DB) UpdateTSE(_ context.Context, _ *gorm.DB, t *model.TSE) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tses[t.ID] = *t
	return nil
}

func (d *DB) ListTSEs(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.TSE, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.tses, func(t model.TSE) bool { return d.inSubtree(t.NodeID, rootNodeID) },
		byID(func(t model.TSE) int64 { return t.ID })), nil
}

func (d *DB) CreateRegister(_ context.Context, _ *gorm.DB, c *model.CashRegister) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.ID = d.nextID()
	d.registers[c.ID] = *c
	return nil
}

func (d *DB) GetRegister(_ context.Context, _ *gorm.DB, id int64) (*model.CashRegister, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.registers[id]
	if !ok {
		return nil, errNotFound
	}
	return &c, nil
}

func (d *DB) LockRegister(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegister, error) {
	return d.GetRegister(ctx, tx, id)
}

func (d *DB) UpdateRegister(_ context.Context, _ *gorm.DB, c *model.CashRegister) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[c.ID] = *c
	return nil
}

func (d *DB) DeleteRegister(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.registers, id)
	return nil
}

func (d *DB) ListRegisters(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.CashRegister, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.registers, func(c model.CashRegister) bool { return d.inSubtree(c.NodeID, rootNodeID) },
		byID(func(c model.CashRegister) int64 { return c.ID })), nil
}

func (d *DB) CreateStocking(_ context.Context, _ *gorm.DB, s *model.CashRegisterStocking) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.ID = d.nextID()
	d.stockings[s.ID] = *s
	return nil
}

func (d *DB) GetStocking(_ context.Context, _ *gorm.DB, id int64) (*model.CashRegisterStocking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stockings[id]
	if !ok {
		return nil, errNotFound
	}
	return &s, nil
}

func (d *DB) UpdateStocking(_ context.Context, _ *gorm.DB, s *model.CashRegisterStocking) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stockings[s.ID] = *s
	return nil
}

func (d *DB) DeleteStocking(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stockings, id)
	return nil
}

func (d *DB) ListStockings(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.CashRegisterStocking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.stockings, func(s model.CashRegisterStocking) bool { return containsID(nodeIDs, s.NodeID) },
		byID(func(s model.CashRegisterStocking) int64 { return s.ID })), nil
}

func (d *DB) CreateShift(_ context.Context, _ *gorm.DB, s *model.CashierShift) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.ID = d.nextID()
	d.shifts[s.ID] = *s
	return nil
}

func (d *DB) ListShifts(_ context.Context, _ *gorm.DB, cashierID int64) ([]model.CashierShift, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.shifts, func(s model.CashierShift) bool { return s.CashierID == cashierID },
		byID(func(s model.CashierShift) int64 { return s.ID })), nil
}
