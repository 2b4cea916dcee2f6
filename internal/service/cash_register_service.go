package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashRegisterService covers the life of a cash drawer: stocking it,
// handing it between cashiers, moving cash in and out and closing it out.
type CashRegisterService interface {
	CreateRegister(ctx context.Context, actor *Actor, nodeID int64, req dto.NewCashRegisterRequest) (*model.CashRegister, error)
	UpdateRegister(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewCashRegisterRequest) (*model.CashRegister, error)
	DeleteRegister(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListRegisters(ctx context.Context, actor *Actor, nodeID int64) ([]dto.CashRegisterResponse, error)

	CreateStocking(ctx context.Context, actor *Actor, nodeID int64, req dto.NewStockingRequest) (*model.CashRegisterStocking, error)
	UpdateStocking(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewStockingRequest) (*model.CashRegisterStocking, error)
	DeleteStocking(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListStockings(ctx context.Context, actor *Actor, nodeID int64) ([]model.CashRegisterStocking, error)

	StockUp(ctx context.Context, term *Terminal, req dto.StockUpRequest) error
	TransferRegister(ctx context.Context, term *Terminal, req dto.TransferRegisterRequest) error
	TransferRegisterAdmin(ctx context.Context, actor *Actor, nodeID int64, req dto.AdminTransferRegisterRequest) error
	ModifyCashierBalance(ctx context.Context, term *Terminal, req dto.ModifyBalanceRequest) error
	ModifyTransportBalance(ctx context.Context, term *Terminal, req dto.ModifyBalanceRequest) error

	CloseOut(ctx context.Context, actor *Actor, nodeID int64, req dto.CloseOutRequest) (*dto.CloseOutResult, error)
	ListShifts(ctx context.Context, actor *Actor, nodeID, cashierID int64) ([]model.CashierShift, error)
}

type cashRegisterService struct {
	store  *repository.Store
	ledger LedgerService
	booker *orderBooker
	auth   *Authorizer
	audit  AuditService
	now    Clock
}

func NewCashRegisterService(store *repository.Store, ledger LedgerService, auth *Authorizer, audit AuditService, signer FiscalSigner) CashRegisterService {
	return &cashRegisterService{
		store:  store,
		ledger: ledger,
		booker: newOrderBooker(store, ledger, signer),
		auth:   auth,
		audit:  audit,
		now:    time.Now,
	}
}

// ─── Registers ───────────────────────────────────────────────────────────────

func (s *cashRegisterService) CreateRegister(ctx context.Context, actor *Actor, nodeID int64, req dto.NewCashRegisterRequest) (*model.CashRegister, error) {
	var reg *model.CashRegister
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, model.ObjectCashRegister); err != nil {
			return err
		}
		eventNode, _, err := eventOf(ctx, s.store.Tree, tx, nodeID)
		if err != nil {
			return err
		}
		acc := &model.Account{NodeID: eventNode.ID, Type: model.AccountInternal, Name: "cash register " + req.Name, Balance: decimal.Zero}
		if err := s.store.Accounts.CreateAccount(ctx, tx, acc); err != nil {
			return apierror.FromDB(err)
		}
		reg = &model.CashRegister{NodeID: nodeID, Name: req.Name, AccountID: acc.ID}
		if err := s.store.CashRegisters.CreateRegister(ctx, tx, reg); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditCashRegisterCreated, UserID: &actor.UserID, Content: reg})
		return nil
	})
	return reg, err
}

func (s *cashRegisterService) UpdateRegister(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewCashRegisterRequest) (*model.CashRegister, error) {
	var reg *model.CashRegister
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		var err error
		if reg, err = s.ownedRegister(ctx, tx, nodeID, id); err != nil {
			return err
		}
		reg.Name = req.Name
		if err := s.store.CashRegisters.UpdateRegister(ctx, tx, reg); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditCashRegisterUpdated, UserID: &actor.UserID, Content: reg})
		return nil
	})
	return reg, err
}

func (s *cashRegisterService) DeleteRegister(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		reg, err := s.ownedRegister(ctx, tx, nodeID, id)
		if err != nil {
			return err
		}
		if _, err := s.store.Users.FindUserByCashRegister(ctx, tx, id); err == nil {
			return apierror.Conflict("cash register %d is assigned to a cashier", id)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		acc, err := s.ledger.GetAccount(ctx, tx, reg.AccountID)
		if err != nil {
			return err
		}
		if !acc.Balance.IsZero() {
			return apierror.Conflict("cash register %d still holds %s", id, acc.Balance.StringFixed(2))
		}
		if err := s.store.CashRegisters.DeleteRegister(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditCashRegisterDeleted, UserID: &actor.UserID, Content: map[string]any{"id": id}})
		return nil
	})
}

func (s *cashRegisterService) ListRegisters(ctx context.Context, actor *Actor, nodeID int64) ([]dto.CashRegisterResponse, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	regs, err := s.store.CashRegisters.ListRegisters(ctx, nil, nodeID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	out := make([]dto.CashRegisterResponse, 0, len(regs))
	for _, r := range regs {
		resp := dto.CashRegisterResponse{ID: r.ID, NodeID: r.NodeID, Name: r.Name, AccountID: r.AccountID}
		if acc, err := s.ledger.GetAccount(ctx, nil, r.AccountID); err == nil {
			resp.Balance = acc.Balance
		}
		if u, err := s.store.Users.FindUserByCashRegister(ctx, nil, r.ID); err == nil {
			resp.CurrentCashier = &u.ID
		}
		if t, err := s.store.Tills.FindTillByCashRegister(ctx, nil, r.ID); err == nil {
			resp.CurrentTill = &t.ID
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *cashRegisterService) ownedRegister(ctx context.Context, tx *gorm.DB, nodeID, id int64) (*model.CashRegister, error) {
	reg, err := s.store.CashRegisters.GetRegister(ctx, tx, id)
	if err != nil {
		return nil, lookup(err, "cash register %d not found", id)
	}
	if err := ownedBy(reg.NodeID, nodeID, "cash register", id); err != nil {
		return nil, err
	}
	return reg, nil
}

// ─── Stockings ───────────────────────────────────────────────────────────────

func stockingFromRequest(s *model.CashRegisterStocking, req dto.NewStockingRequest) {
	s.Name = req.Name
	s.Euro200, s.Euro100, s.Euro50 = req.Euro200, req.Euro100, req.Euro50
	s.Euro20, s.Euro10, s.Euro5 = req.Euro20, req.Euro10, req.Euro5
	s.Euro2Rolls, s.Euro1Rolls = req.Euro2, req.Euro1
	s.Cent50Rolls, s.Cent20Rolls, s.Cent10Rolls = req.Cent50, req.Cent20, req.Cent10
	s.Cent5Rolls, s.Cent2Rolls, s.Cent1Rolls = req.Cent5, req.Cent2, req.Cent1
	s.VariableInEuro = req.VariableInEuro
}

func (s *cashRegisterService) CreateStocking(ctx context.Context, actor *Actor, nodeID int64, req dto.NewStockingRequest) (*model.CashRegisterStocking, error) {
	if req.VariableInEuro.IsNegative() {
		return nil, apierror.InvalidArgument("variable amount must not be negative")
	}
	var st *model.CashRegisterStocking
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		st = &model.CashRegisterStocking{NodeID: nodeID}
		stockingFromRequest(st, req)
		if err := s.store.CashRegisters.CreateStocking(ctx, tx, st); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditStockingCreated, UserID: &actor.UserID, Content: st})
		return nil
	})
	return st, err
}

func (s *cashRegisterService) UpdateStocking(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewStockingRequest) (*model.CashRegisterStocking, error) {
	if req.VariableInEuro.IsNegative() {
		return nil, apierror.InvalidArgument("variable amount must not be negative")
	}
	var st *model.CashRegisterStocking
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		var err error
		if st, err = s.store.CashRegisters.GetStocking(ctx, tx, id); err != nil {
			return lookup(err, "stocking %d not found", id)
		}
		if err := ownedBy(st.NodeID, nodeID, "stocking", id); err != nil {
			return err
		}
		stockingFromRequest(st, req)
		if err := s.store.CashRegisters.UpdateStocking(ctx, tx, st); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditStockingUpdated, UserID: &actor.UserID, Content: st})
		return nil
	})
	return st, err
}

func (s *cashRegisterService) DeleteStocking(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		st, err := s.store.CashRegisters.GetStocking(ctx, tx, id)
		if err != nil {
			return lookup(err, "stocking %d not found", id)
		}
		if err := ownedBy(st.NodeID, nodeID, "stocking", id); err != nil {
			return err
		}
		if err := s.store.CashRegisters.DeleteStocking(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditStockingDeleted, UserID: &actor.UserID, Content: map[string]any{"id": id}})
		return nil
	})
}

func (s *cashRegisterService) ListStockings(ctx context.Context, actor *Actor, nodeID int64) ([]model.CashRegisterStocking, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	node, err := s.store.Tree.GetNode(ctx, nil, nodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", nodeID)
	}
	st, err := s.store.CashRegisters.ListStockings(ctx, nil, nodeScope(node))
	return st, apierror.FromDB(err)
}

// ─── Terminal cash operations ────────────────────────────────────────────────

// userByTag finds the staff member wearing the scanned tag.
func (s *cashRegisterService) userByTag(ctx context.Context, tx *gorm.DB, term *Terminal, scan dto.UserTagScan) (*model.User, error) {
	tag, err := resolveTag(ctx, s.store.UserTags, tx, term.EventNode.ID, scan, false)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users.FindUserByTag(ctx, tx, tag.ID)
	if err != nil {
		return nil, lookup(err, "no user is registered for tag %s", tag.Pin)
	}
	return s.store.Users.LockUser(ctx, tx, user.ID)
}

func (s *cashRegisterService) StockUp(ctx context.Context, term *Terminal, req dto.StockUpRequest) error {
	if err := term.requireUser(model.PrivCashTransport); err != nil {
		return err
	}
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		cashier, err := s.userByTag(ctx, tx, term, req.CashierTag)
		if err != nil {
			return err
		}
		if cashier.CashRegisterID != nil {
			return apierror.Conflict("cashier %s already holds cash register %d", cashier.Login, *cashier.CashRegisterID)
		}
		reg, err := s.store.CashRegisters.LockRegister(ctx, tx, req.CashRegisterID)
		if err != nil {
			return lookup(err, "cash register %d not found", req.CashRegisterID)
		}
		if _, err := s.store.Users.FindUserByCashRegister(ctx, tx, reg.ID); err == nil {
			return apierror.Conflict("cash register %d is already in use", reg.ID)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}

		var postings []Posting
		if req.StockingID != nil {
			st, err := s.store.CashRegisters.GetStocking(ctx, tx, *req.StockingID)
			if err != nil {
				return lookup(err, "stocking %d not found", *req.StockingID)
			}
			vault, err := s.ledger.SystemAccount(ctx, tx, term.EventNode.ID, model.AccountCashVault)
			if err != nil {
				return err
			}
			postings = append(postings, Posting{Source: vault.ID, Target: reg.AccountID, Amount: st.Total(), Description: "stock up " + st.Name})
		}
		bc := terminalContext(term)
		if _, err := s.booker.book(ctx, tx, orderDraft{
			NodeID:         bc.NodeID,
			TillID:         bc.TillID,
			CashierID:      &cashier.ID,
			CashRegisterID: &reg.ID,
			Type:           model.OrderCashierShiftStart,
			Postings:       postings,
		}); err != nil {
			return err
		}
		if err := s.attach(ctx, tx, cashier, reg.ID); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: term.Till.NodeID, Type: model.AuditCashRegisterStockedUp, UserID: term.userID(), TerminalID: &term.Till.ID, Content: map[string]any{"cashier_id": cashier.ID, "cash_register_id": reg.ID}})
		return nil
	})
}

// attach binds a register to a cashier and activates it at the single till
// the cashier is logged in at.
func (s *cashRegisterService) attach(ctx context.Context, tx *gorm.DB, cashier *model.User, registerID int64) error {
	cashier.CashRegisterID = &registerID
	if err := s.store.Users.UpdateUser(ctx, tx, cashier); err != nil {
		return apierror.FromDB(err)
	}
	tills, err := s.store.Tills.FindTillsByActiveUser(ctx, tx, cashier.ID)
	if err != nil {
		return apierror.FromDB(err)
	}
	if len(tills) != 1 {
		return nil
	}
	till := tills[0]
	if till.ActiveCashRegisterID != nil {
		return apierror.Conflict("till %q already has a cash register", till.Name)
	}
	till.ActiveCashRegisterID = &registerID
	return apierror.FromDB(s.store.Tills.UpdateTill(ctx, tx, &till))
}

// detach unbinds the register of a cashier from the cashier and every till.
func (s *cashRegisterService) detach(ctx context.Context, tx *gorm.DB, cashier *model.User) error {
	if cashier.CashRegisterID == nil {
		return nil
	}
	registerID := *cashier.CashRegisterID
	if till, err := s.store.Tills.FindTillByCashRegister(ctx, tx, registerID); err == nil {
		till.ActiveCashRegisterID = nil
		if err := s.store.Tills.UpdateTill(ctx, tx, till); err != nil {
			return apierror.FromDB(err)
		}
	} else if !isNotFound(err) {
		return apierror.FromDB(err)
	}
	cashier.CashRegisterID = nil
	return apierror.FromDB(s.store.Users.UpdateUser(ctx, tx, cashier))
}

func (s *cashRegisterService) TransferRegister(ctx context.Context, term *Terminal, req dto.TransferRegisterRequest) error {
	if err := term.requireUser(model.PrivCashTransport); err != nil {
		return err
	}
	return runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		source, err := s.userByTag(ctx, tx, term, req.SourceCashierTag)
		if err != nil {
			return err
		}
		target, err := s.userByTag(ctx, tx, term, req.TargetCashierTag)
		if err != nil {
			return err
		}
		return s.transfer(ctx, tx, terminalContext(term), source, target)
	})
}

func (s *cashRegisterService) TransferRegisterAdmin(ctx context.Context, actor *Actor, nodeID int64, req dto.AdminTransferRegisterRequest) error {
	return runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivCashTransport); err != nil {
			return err
		}
		bc, err := s.adminContext(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		source, err := s.store.Users.LockUser(ctx, tx, req.SourceCashierID)
		if err != nil {
			return lookup(err, "user %d not found", req.SourceCashierID)
		}
		target, err := s.store.Users.LockUser(ctx, tx, req.TargetCashierID)
		if err != nil {
			return lookup(err, "user %d not found", req.TargetCashierID)
		}
		return s.transfer(ctx, tx, bc, source, target)
	})
}

func (s *cashRegisterService) transfer(ctx context.Context, tx *gorm.DB, bc bookingContext, source, target *model.User) error {
	if source.ID == target.ID {
		return apierror.InvalidArgument("source and target cashier must differ")
	}
	if source.CashRegisterID == nil {
		return apierror.InvalidArgument("cashier %s has no cash register", source.Login)
	}
	if target.CashRegisterID != nil {
		return apierror.Conflict("cashier %s already holds a cash register", target.Login)
	}
	tills, err := s.store.Tills.FindTillsByActiveUser(ctx, tx, target.ID)
	if err != nil {
		return apierror.FromDB(err)
	}
	for _, t := range tills {
		if t.ActiveCashRegisterID != nil {
			return apierror.Conflict("cashier %s is logged in at till %q which has a cash register", target.Login, t.Name)
		}
	}
	registerID := *source.CashRegisterID
	for _, step := range []struct {
		cashier int64
		t       model.OrderType
	}{{source.ID, model.OrderCashierShiftEnd}, {target.ID, model.OrderCashierShiftStart}} {
		cashier := step.cashier
		if _, err := s.booker.book(ctx, tx, orderDraft{
			NodeID:         bc.NodeID,
			TillID:         bc.TillID,
			CashierID:      &cashier,
			CashRegisterID: &registerID,
			Type:           step.t,
		}); err != nil {
			return err
		}
	}
	if err := s.detach(ctx, tx, source); err != nil {
		return err
	}
	if err := s.attach(ctx, tx, target, registerID); err != nil {
		return err
	}
	s.audit.Log(ctx, tx, AuditEntry{NodeID: bc.NodeID, Type: model.AuditCashRegisterTransfer, UserID: bc.CashierID, Content: map[string]any{"cash_register_id": registerID, "source_cashier_id": source.ID, "target_cashier_id": target.ID}})
	return nil
}

// adminContext books administrative orders on the event's virtual till.
func (s *cashRegisterService) adminContext(ctx context.Context, tx *gorm.DB, actor *Actor, nodeID int64) (bookingContext, error) {
	eventNode, event, err := eventOf(ctx, s.store.Tree, tx, nodeID)
	if err != nil {
		return bookingContext{}, err
	}
	virtual, err := s.store.Tills.FindVirtualTill(ctx, tx, eventNode.ID)
	if err != nil {
		return bookingContext{}, lookup(err, "event node %d has no virtual till", eventNode.ID)
	}
	return bookingContext{
		NodeID:      eventNode.ID,
		EventNodeID: eventNode.ID,
		TillID:      virtual.ID,
		CashierID:   &actor.UserID,
		MaxBalance:  &event.MaxAccountBalance,
	}, nil
}

// transportAccount returns the transport account of a cash transporter,
// creating it on first use.
func (s *cashRegisterService) transportAccount(ctx context.Context, tx *gorm.DB, eventNodeID int64, user *model.User) (*model.Account, error) {
	if user.TransportAccountID != nil {
		return s.ledger.GetAccount(ctx, tx, *user.TransportAccountID)
	}
	acc := &model.Account{NodeID: eventNodeID, Type: model.AccountInternal, Name: "transport " + user.Login, Balance: decimal.Zero}
	if err := s.store.Accounts.CreateAccount(ctx, tx, acc); err != nil {
		return nil, apierror.FromDB(err)
	}
	user.TransportAccountID = &acc.ID
	if err := s.store.Users.UpdateUser(ctx, tx, user); err != nil {
		return nil, apierror.FromDB(err)
	}
	return acc, nil
}

// moveCash books amount from one internal account to the other, reversing
// the direction for negative amounts. Neither side may end up negative.
func (s *cashRegisterService) moveCash(ctx context.Context, tx *gorm.DB, bc bookingContext, from, to *model.Account, amount decimal.Decimal, registerID *int64, description string) error {
	if amount.IsZero() {
		return apierror.InvalidArgument("amount must not be zero")
	}
	src, dst := from, to
	if amount.IsNegative() {
		src, dst, amount = to, from, amount.Neg()
	}
	if src.Type == model.AccountInternal && src.Balance.LessThan(amount) {
		return apierror.NotEnoughFunds(amount, src.Balance)
	}
	line, err := s.booker.systemLineItem(ctx, tx, bc.EventNodeID, model.ProductMoneyTransfer, amount, 1)
	if err != nil {
		return err
	}
	_, err = s.booker.book(ctx, tx, orderDraft{
		NodeID:         bc.NodeID,
		TillID:         bc.TillID,
		CashierID:      bc.CashierID,
		CashRegisterID: registerID,
		Type:           model.OrderMoneyTransfer,
		LineItems:      toLineItems([]dto.PendingLineItem{*line}),
		Postings:       []Posting{{Source: src.ID, Target: dst.ID, Amount: amount, Description: description}},
	})
	return err
}

func (s *cashRegisterService) ModifyCashierBalance(ctx context.Context, term *Terminal, req dto.ModifyBalanceRequest) error {
	if err := term.requireUser(model.PrivCashTransport); err != nil {
		return err
	}
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		orga, err := s.store.Users.LockUser(ctx, tx, term.User.ID)
		if err != nil {
			return lookup(err, "user %d not found", term.User.ID)
		}
		cashier, err := s.userByTag(ctx, tx, term, req.Tag)
		if err != nil {
			return err
		}
		if cashier.CashRegisterID == nil {
			return apierror.InvalidArgument("cashier %s has no cash register", cashier.Login)
		}
		reg, err := s.store.CashRegisters.GetRegister(ctx, tx, *cashier.CashRegisterID)
		if err != nil {
			return lookup(err, "cash register %d not found", *cashier.CashRegisterID)
		}
		regAccount, err := s.ledger.GetAccount(ctx, tx, reg.AccountID)
		if err != nil {
			return err
		}
		transport, err := s.transportAccount(ctx, tx, term.EventNode.ID, orga)
		if err != nil {
			return err
		}
		if err := s.moveCash(ctx, tx, terminalContext(term), transport, regAccount, req.Amount, &reg.ID, "cashier balance"); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: term.Till.NodeID, Type: model.AuditCashierBalanceChanged, UserID: &orga.ID, TerminalID: &term.Till.ID, Content: map[string]any{"cashier_id": cashier.ID, "amount": req.Amount}})
		return nil
	})
}

func (s *cashRegisterService) ModifyTransportBalance(ctx context.Context, term *Terminal, req dto.ModifyBalanceRequest) error {
	if err := term.requireUser(model.PrivCashTransport); err != nil {
		return err
	}
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		orga, err := s.userByTag(ctx, tx, term, req.Tag)
		if err != nil {
			return err
		}
		transport, err := s.transportAccount(ctx, tx, term.EventNode.ID, orga)
		if err != nil {
			return err
		}
		vault, err := s.ledger.SystemAccount(ctx, tx, term.EventNode.ID, model.AccountCashVault)
		if err != nil {
			return err
		}
		if err := s.moveCash(ctx, tx, terminalContext(term), vault, transport, req.Amount, nil, "transport balance"); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: term.Till.NodeID, Type: model.AuditTransportBalanceChange, UserID: term.userID(), TerminalID: &term.Till.ID, Content: map[string]any{"orga_id": orga.ID, "amount": req.Amount}})
		return nil
	})
}

// ─── Close-out ───────────────────────────────────────────────────────────────

func (s *cashRegisterService) CloseOut(ctx context.Context, actor *Actor, nodeID int64, req dto.CloseOutRequest) (*dto.CloseOutResult, error) {
	if req.ActualBalance.IsNegative() {
		return nil, apierror.InvalidArgument("drawer balance must not be negative")
	}
	var out *dto.CloseOutResult
	err := runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivCashTransport); err != nil {
			return err
		}
		bc, err := s.adminContext(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		cashier, err := s.store.Users.LockUser(ctx, tx, req.CashierID)
		if err != nil {
			return lookup(err, "user %d not found", req.CashierID)
		}
		if cashier.CashRegisterID == nil {
			return apierror.InvalidArgument("cashier %s has no cash register", cashier.Login)
		}
		reg, err := s.store.CashRegisters.LockRegister(ctx, tx, *cashier.CashRegisterID)
		if err != nil {
			return lookup(err, "cash register %d not found", *cashier.CashRegisterID)
		}
		regAccount, err := s.ledger.GetAccount(ctx, tx, reg.AccountID)
		if err != nil {
			return err
		}
		accs, err := s.booker.systemAccounts(ctx, tx, bc.EventNodeID, model.AccountCashVault, model.AccountCashImbalance)
		if err != nil {
			return err
		}
		expected := regAccount.Balance
		imbalance := req.ActualBalance.Sub(expected)
		bookedAt := s.now()

		transferLine, err := s.booker.systemLineItem(ctx, tx, bc.EventNodeID, model.ProductMoneyTransfer, expected, 1)
		if err != nil {
			return err
		}
		imbalanceLine, err := s.booker.systemLineItem(ctx, tx, bc.EventNodeID, model.ProductImbalance, imbalance, 1)
		if err != nil {
			return err
		}
		drafts := []orderDraft{
			{
				Type:      model.OrderMoneyTransfer,
				LineItems: toLineItems([]dto.PendingLineItem{*transferLine}),
				Postings:  []Posting{{Source: reg.AccountID, Target: accs[model.AccountCashVault], Amount: expected, Description: "close out"}},
			},
			{
				Type:      model.OrderMoneyTransferImbalance,
				LineItems: toLineItems([]dto.PendingLineItem{*imbalanceLine}),
				Postings:  []Posting{{Source: accs[model.AccountCashImbalance], Target: accs[model.AccountCashVault], Amount: imbalance, Description: "close out imbalance"}},
			},
			{Type: model.OrderCashierShiftEnd},
		}
		for _, d := range drafts {
			d.NodeID, d.TillID = bc.NodeID, bc.TillID
			d.CashierID = &cashier.ID
			d.CashRegisterID = &reg.ID
			d.BookedAt = bookedAt
			if _, err := s.booker.book(ctx, tx, d); err != nil {
				return err
			}
		}
		if err := s.detach(ctx, tx, cashier); err != nil {
			return err
		}

		started := cashier.CreatedAt
		shifts, err := s.store.CashRegisters.ListShifts(ctx, tx, cashier.ID)
		if err != nil {
			return apierror.FromDB(err)
		}
		if n := len(shifts); n > 0 {
			started = shifts[n-1].EndedAt
		}
		shift := &model.CashierShift{
			NodeID:           bc.EventNodeID,
			CashierID:        cashier.ID,
			CashRegisterID:   reg.ID,
			StartedAt:        started,
			EndedAt:          bookedAt,
			ExpectedBalance:  expected,
			ActualBalance:    req.ActualBalance,
			Imbalance:        imbalance,
			Comment:          req.Comment,
			ClosingOutUserID: actor.UserID,
		}
		if err := s.store.CashRegisters.CreateShift(ctx, tx, shift); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditCashierClosedOut, UserID: &actor.UserID, Content: shift})
		out = &dto.CloseOutResult{
			CashierID:       cashier.ID,
			CashRegisterID:  reg.ID,
			ShiftID:         shift.ID,
			ExpectedBalance: expected,
			ActualBalance:   req.ActualBalance,
			Imbalance:       imbalance,
		}
		return nil
	})
	return out, err
}

func (s *cashRegisterService) ListShifts(ctx context.Context, actor *Actor, nodeID, cashierID int64) ([]model.CashierShift, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivCashTransport); err != nil {
		return nil, err
	}
	shifts, err := s.store.CashRegisters.ListShifts(ctx, nil, cashierID)
	return shifts, apierror.FromDB(err)
}
