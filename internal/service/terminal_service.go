package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TerminalService binds physical terminals to tills and tracks the user
// operating each till.
type TerminalService interface {
	Register(ctx context.Context, req dto.RegisterTerminalRequest) (*dto.RegisterTerminalResponse, error)
	Logout(ctx context.Context, term *Terminal) error
	// Resolve loads the till context behind a verified terminal token.
	Resolve(ctx context.Context, p *Principal) (*Terminal, error)
	LoginUser(ctx context.Context, term *Terminal, req dto.TerminalUserLoginRequest) (*dto.CurrentTerminalUser, error)
	LogoutUser(ctx context.Context, term *Terminal) error
	CurrentUser(ctx context.Context, term *Terminal) (*dto.CurrentTerminalUser, error)
	Config(ctx context.Context, term *Terminal) (*dto.TerminalConfig, error)
}

type terminalService struct {
	store  *repository.Store
	tokens TokenService
	audit  AuditService
	now    Clock
}

func NewTerminalService(store *repository.Store, tokens TokenService, audit AuditService) TerminalService {
	return &terminalService{store: store, tokens: tokens, audit: audit, now: time.Now}
}

func (s *terminalService) Register(ctx context.Context, req dto.RegisterTerminalRequest) (*dto.RegisterTerminalResponse, error) {
	reg, err := uuid.Parse(req.RegistrationUUID)
	if err != nil {
		return nil, apierror.InvalidArgument("invalid registration uuid")
	}
	var till *model.Till
	session := uuid.New()
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		till, err = s.store.Tills.FindTillByRegistrationUUID(ctx, tx, reg)
		if err != nil {
			if isNotFound(err) {
				return apierror.AccessDenied("unknown registration uuid")
			}
			return apierror.FromDB(err)
		}
		if till.IsRegistered() {
			return apierror.Conflict("till %q already has a registered terminal", till.Name)
		}
		next := uuid.New()
		till.RegistrationUUID = &next
		till.SessionUUID = &session
		if err := s.store.Tills.UpdateTill(ctx, tx, till); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: till.NodeID, Type: model.AuditTerminalRegistered, TerminalID: &till.ID, Content: map[string]any{"till_id": till.ID}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.IssueTerminalToken(till.ID, session)
	if err != nil {
		return nil, err
	}
	return &dto.RegisterTerminalResponse{Token: token, TillID: till.ID}, nil
}

func (s *terminalService) Logout(ctx context.Context, term *Terminal) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		till, err := s.store.Tills.LockTill(ctx, tx, term.Till.ID)
		if err != nil {
			return lookup(err, "till %d not found", term.Till.ID)
		}
		if err := closeTillSession(ctx, s.store, tx, till); err != nil {
			return err
		}
		till.SessionUUID = nil
		till.ActiveCashRegisterID = nil
		if err := s.store.Tills.UpdateTill(ctx, tx, till); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: till.NodeID, Type: model.AuditTerminalLoggedOut, TerminalID: &till.ID, Content: map[string]any{"till_id": till.ID}})
		return nil
	})
}

func (s *terminalService) Resolve(ctx context.Context, p *Principal) (*Terminal, error) {
	if p == nil || p.Kind != TokenTerminal {
		return nil, apierror.Unauthorized("terminal token required")
	}
	return loadTerminal(ctx, s.store, nil, p.TillID)
}

// loadTerminal assembles the full context of a till.
func loadTerminal(ctx context.Context, store *repository.Store, tx *gorm.DB, tillID int64) (*Terminal, error) {
	till, err := store.Tills.GetTill(ctx, tx, tillID)
	if err != nil {
		return nil, lookup(err, "till %d not found", tillID)
	}
	node, err := store.Tree.GetNode(ctx, tx, till.NodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", till.NodeID)
	}
	eventNode, event, err := eventOf(ctx, store.Tree, tx, till.NodeID)
	if err != nil {
		return nil, err
	}
	profile, err := store.Catalog.GetProfile(ctx, tx, till.ActiveProfileID)
	if err != nil {
		return nil, lookup(err, "profile %d not found", till.ActiveProfileID)
	}
	layout, err := store.Catalog.GetLayout(ctx, tx, profile.LayoutID)
	if err != nil {
		return nil, lookup(err, "layout %d not found", profile.LayoutID)
	}
	term := &Terminal{Till: *till, Node: *node, EventNode: *eventNode, Event: *event, Profile: *profile, Layout: *layout}
	if till.ActiveUserID != nil {
		if term.User, err = store.Users.GetUser(ctx, tx, *till.ActiveUserID); err != nil {
			return nil, lookup(err, "user %d not found", *till.ActiveUserID)
		}
	}
	if till.ActiveUserRoleID != nil {
		if term.Role, err = store.Users.GetRole(ctx, tx, *till.ActiveUserRoleID); err != nil {
			return nil, lookup(err, "role %d not found", *till.ActiveUserRoleID)
		}
	}
	return term, nil
}

func (s *terminalService) LoginUser(ctx context.Context, term *Terminal, req dto.TerminalUserLoginRequest) (*dto.CurrentTerminalUser, error) {
	var current *dto.CurrentTerminalUser
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		till, err := s.store.Tills.LockTill(ctx, tx, term.Till.ID)
		if err != nil {
			return lookup(err, "till %d not found", term.Till.ID)
		}
		tag, err := resolveTag(ctx, s.store.UserTags, tx, term.EventNode.ID, req.UserTag, true)
		if err != nil {
			return err
		}
		user, err := s.store.Users.FindUserByTag(ctx, tx, tag.ID)
		if err != nil {
			return lookup(err, "no user is registered for this tag")
		}
		role, err := s.eligibleRole(ctx, tx, term, user.ID, req.RoleID)
		if err != nil {
			return err
		}
		if !role.Has(model.PrivTerminalLogin) {
			if !role.Has(model.PrivSupervisedTerminalLogin) {
				return apierror.AccessDenied("role %q may not log in at terminals", role.Name)
			}
			if !term.HasPrivilege(model.PrivTerminalLogin) {
				return apierror.AccessDenied("role %q needs a supervisor to be logged in", role.Name)
			}
		}
		if !term.Profile.AllowsRole(role.ID) {
			return apierror.AccessDenied("role %q is not allowed at till profile %q", role.Name, term.Profile.Name)
		}

		if till.ActiveUserID == nil || *till.ActiveUserID != user.ID {
			if err := closeTillSession(ctx, s.store, tx, till); err != nil {
				return err
			}
		}
		till.ActiveUserID = &user.ID
		till.ActiveUserRoleID = &role.ID
		till.ActiveCashRegisterID = nil
		if user.CashRegisterID != nil {
			if err := s.releaseRegister(ctx, tx, *user.CashRegisterID, till.ID); err != nil {
				return err
			}
			till.ActiveCashRegisterID = user.CashRegisterID
		}
		if err := s.store.Tills.UpdateTill(ctx, tx, till); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: till.NodeID, Type: model.AuditTerminalUserLoggedIn, UserID: &user.ID, TerminalID: &till.ID, Content: map[string]any{"role_id": role.ID}})
		current = currentTerminalUser(user, role)
		return nil
	})
	return current, err
}

// eligibleRole checks that the user holds roleID at the till node or above.
func (s *terminalService) eligibleRole(ctx context.Context, tx *gorm.DB, term *Terminal, userID, roleID int64) (*model.UserRole, error) {
	assignments, err := s.store.Users.ListUserRoles(ctx, tx, userID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	scope := map[int64]bool{}
	for _, id := range nodeScope(&term.Node) {
		scope[id] = true
	}
	for _, a := range assignments {
		if a.RoleID != roleID || !scope[a.NodeID] {
			continue
		}
		role, err := s.store.Users.GetRole(ctx, tx, roleID)
		if err != nil {
			return nil, lookup(err, "role %d not found", roleID)
		}
		return role, nil
	}
	return nil, apierror.AccessDenied("user does not hold role %d at this till", roleID)
}

// releaseRegister detaches a register from any other till it is active on.
func (s *terminalService) releaseRegister(ctx context.Context, tx *gorm.DB, registerID, tillID int64) error {
	other, err := s.store.Tills.FindTillByCashRegister(ctx, tx, registerID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return apierror.FromDB(err)
	}
	if other.ID == tillID {
		return nil
	}
	other.ActiveCashRegisterID = nil
	return apierror.FromDB(s.store.Tills.UpdateTill(ctx, tx, other))
}

func (s *terminalService) LogoutUser(ctx context.Context, term *Terminal) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		till, err := s.store.Tills.LockTill(ctx, tx, term.Till.ID)
		if err != nil {
			return lookup(err, "till %d not found", term.Till.ID)
		}
		if till.ActiveUserID == nil {
			return apierror.InvalidArgument("no user is logged in at this till")
		}
		userID := *till.ActiveUserID
		if err := closeTillSession(ctx, s.store, tx, till); err != nil {
			return err
		}
		till.ActiveCashRegisterID = nil
		if err := s.store.Tills.UpdateTill(ctx, tx, till); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: till.NodeID, Type: model.AuditTerminalUserLoggedOut, UserID: &userID, TerminalID: &till.ID, Content: map[string]any{"z_nr": till.ZNr}})
		return nil
	})
}

func (s *terminalService) CurrentUser(ctx context.Context, term *Terminal) (*dto.CurrentTerminalUser, error) {
	if term.User == nil || term.Role == nil {
		return nil, nil
	}
	return currentTerminalUser(term.User, term.Role), nil
}

func currentTerminalUser(u *model.User, r *model.UserRole) *dto.CurrentTerminalUser {
	return &dto.CurrentTerminalUser{
		ID:             u.ID,
		Login:          u.Login,
		DisplayName:    u.DisplayName,
		RoleID:         r.ID,
		RoleName:       r.Name,
		Privileges:     append([]string{}, r.Privileges...),
		CashRegisterID: u.CashRegisterID,
	}
}

func (s *terminalService) Config(ctx context.Context, term *Terminal) (*dto.TerminalConfig, error) {
	cfg := &dto.TerminalConfig{
		TillID:             term.Till.ID,
		Name:               term.Till.Name,
		EventName:          term.EventNode.Name,
		ProfileName:        term.Profile.Name,
		AllowTopUp:         term.Profile.AllowTopUp,
		AllowCashOut:       term.Profile.AllowCashOut,
		AllowTicketSale:    term.Profile.AllowTicketSale,
		EnableCashPayment:  term.Profile.EnableCashPayment,
		EnableCardPayment:  term.Profile.EnableCardPayment,
		EnableSSPPayment:   term.Profile.EnableSSPPayment,
		Buttons:            []dto.TerminalButton{},
		Tickets:            []dto.TerminalTicket{},
		ActiveCashRegister: term.Till.ActiveCashRegisterID,
		ZNr:                term.Till.ZNr,
	}
	if term.User != nil && term.Role != nil {
		cfg.ActiveUser = currentTerminalUser(term.User, term.Role)
	}

	buttons, err := s.store.Catalog.GetButtons(ctx, nil, term.Layout.ButtonIDs)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	byID := make(map[int64]model.TillButton, len(buttons))
	for _, b := range buttons {
		byID[b.ID] = b
	}
	for _, id := range term.Layout.ButtonIDs {
		b, ok := byID[id]
		if !ok {
			continue
		}
		products, err := s.store.Catalog.GetProducts(ctx, nil, b.ProductIDs)
		if err != nil {
			return nil, apierror.FromDB(err)
		}
		cfg.Buttons = append(cfg.Buttons, terminalButton(b, products))
	}

	tickets, err := s.store.Catalog.GetProducts(ctx, nil, term.Layout.TicketIDs)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	ticketByID := make(map[int64]model.Product, len(tickets))
	for _, t := range tickets {
		ticketByID[t.ID] = t
	}
	for _, id := range term.Layout.TicketIDs {
		t, ok := ticketByID[id]
		if !ok || t.Price == nil {
			continue
		}
		cfg.Tickets = append(cfg.Tickets, dto.TerminalTicket{
			ID:                 t.ID,
			Name:               t.Name,
			Price:              *t.Price,
			Restrictions:       append([]string{}, t.Restrictions...),
			InitialTopUpAmount: t.InitialTopUpAmount,
		})
	}
	return cfg, nil
}

// terminalButton folds the products of a button into a single price. A
// variable price product makes the whole button variable.
func terminalButton(b model.TillButton, products []model.Product) dto.TerminalButton {
	out := dto.TerminalButton{ID: b.ID, Name: b.Name, ProductIDs: append([]int64{}, b.ProductIDs...), FixedPrice: true}
	price := decimal.Zero
	for i := range products {
		p := &products[i]
		if p.FixedPrice && p.Price != nil {
			price = price.Add(*p.Price)
		} else {
			out.FixedPrice = false
		}
		if vp := p.VoucherPrice(); vp != nil {
			out.PriceInVouchers = p.PriceInVouchers
			out.PricePerVoucher = vp
		}
		if p.IsReturnable {
			out.IsReturnable = true
		}
	}
	if out.FixedPrice {
		out.Price = &price
	}
	return out
}
