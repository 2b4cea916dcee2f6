package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CatalogService manages everything a till sells and how it is presented:
// tax rates, products, tickets, buttons, layouts, profiles, tills and TSEs.
type CatalogService interface {
	CreateTaxRate(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTaxRateRequest) (*model.TaxRate, error)
	UpdateTaxRate(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTaxRateRequest) (*model.TaxRate, error)
	DeleteTaxRate(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListTaxRates(ctx context.Context, actor *Actor, nodeID int64) ([]model.TaxRate, error)

	CreateProduct(ctx context.Context, actor *Actor, nodeID int64, req dto.NewProductRequest) (*model.Product, error)
	UpdateProduct(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewProductRequest) (*model.Product, error)
	DeleteProduct(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListProducts(ctx context.Context, actor *Actor, nodeID int64) ([]model.Product, error)

	CreateTicket(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTicketRequest) (*model.Product, error)
	UpdateTicket(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTicketRequest) (*model.Product, error)
	DeleteTicket(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListTickets(ctx context.Context, actor *Actor, nodeID int64) ([]model.Product, error)

	CreateButton(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillButtonRequest) (*model.TillButton, error)
	UpdateButton(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillButtonRequest) (*model.TillButton, error)
	DeleteButton(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListButtons(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillButton, error)

	CreateLayout(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillLayoutRequest) (*model.TillLayout, error)
	UpdateLayout(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillLayoutRequest) (*model.TillLayout, error)
	DeleteLayout(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListLayouts(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillLayout, error)

	CreateProfile(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillProfileRequest) (*model.TillProfile, error)
	UpdateProfile(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillProfileRequest) (*model.TillProfile, error)
	DeleteProfile(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListProfiles(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillProfile, error)

	CreateTill(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillRequest) (*model.Till, error)
	UpdateTill(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillRequest) (*model.Till, error)
	DeleteTill(ctx context.Context, actor *Actor, nodeID, id int64) error
	ListTills(ctx context.Context, actor *Actor, nodeID int64) ([]model.Till, error)
	// LogoutTerminal drops the terminal session bound to a till.
	LogoutTerminal(ctx context.Context, actor *Actor, nodeID, tillID int64) error

	CreateTSE(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTSERequest) (*model.TSE, error)
	UpdateTSE(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTSERequest) (*model.TSE, error)
	ListTSEs(ctx context.Context, actor *Actor, nodeID int64) ([]model.TSE, error)
}

type catalogService struct {
	store *repository.Store
	auth  *Authorizer
	audit AuditService
	now   Clock
}

func NewCatalogService(store *repository.Store, auth *Authorizer, audit AuditService) CatalogService {
	return &catalogService{store: store, auth: auth, audit: audit, now: time.Now}
}

// mutate runs fn in a transaction after the privilege and object ban checks.
func (s *catalogService) mutate(ctx context.Context, actor *Actor, nodeID int64, obj model.ObjectType, fn func(tx *gorm.DB, node *model.Node) error) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, obj); err != nil {
			return err
		}
		node, err := s.store.Tree.GetNode(ctx, tx, nodeID)
		if err != nil {
			return lookup(err, "node %d not found", nodeID)
		}
		return fn(tx, node)
	})
}

// scope returns the ids whose catalog objects are visible at nodeID.
func (s *catalogService) scope(ctx context.Context, actor *Actor, nodeID int64, obj model.ObjectType) ([]int64, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	if err := s.auth.CheckObjectVisible(ctx, nil, nodeID, obj); err != nil {
		return nil, err
	}
	node, err := s.store.Tree.GetNode(ctx, nil, nodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", nodeID)
	}
	return nodeScope(node), nil
}

func (s *catalogService) log(ctx context.Context, tx *gorm.DB, actor *Actor, nodeID int64, t model.AuditType, content any) {
	s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: t, UserID: &actor.UserID, Content: content})
}

func ownedBy(objNodeID, nodeID int64, what string, id int64) error {
	if objNodeID != nodeID {
		return apierror.NotFound("%s %d not found at node %d", what, id, nodeID)
	}
	return nil
}

func visibleAt(node *model.Node, objNodeID int64) bool {
	for _, id := range nodeScope(node) {
		if id == objNodeID {
			return true
		}
	}
	return false
}

// ─── Tax rates ───────────────────────────────────────────────────────────────

func validTaxRate(req dto.NewTaxRateRequest) error {
	if req.Rate.IsNegative() || req.Rate.GreaterThan(oneDecimal) {
		return apierror.InvalidArgument("tax rate must be between 0 and 1")
	}
	return nil
}

func (s *catalogService) CreateTaxRate(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTaxRateRequest) (*model.TaxRate, error) {
	var rate *model.TaxRate
	err := s.mutate(ctx, actor, nodeID, model.ObjectTaxRate, func(tx *gorm.DB, node *model.Node) error {
		if err := validTaxRate(req); err != nil {
			return err
		}
		if _, err := s.store.Catalog.FindTaxRateByName(ctx, tx, nodeScope(node), req.Name); err == nil {
			return apierror.Conflict("tax rate %q already exists", req.Name)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		rate = &model.TaxRate{NodeID: nodeID, Name: req.Name, Rate: req.Rate, Description: req.Description}
		if err := s.store.Catalog.CreateTaxRate(ctx, tx, rate); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTaxRateCreated, rate)
		return nil
	})
	return rate, err
}

func (s *catalogService) UpdateTaxRate(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTaxRateRequest) (*model.TaxRate, error) {
	var rate *model.TaxRate
	err := s.mutate(ctx, actor, nodeID, model.ObjectTaxRate, func(tx *gorm.DB, node *model.Node) error {
		if err := validTaxRate(req); err != nil {
			return err
		}
		var err error
		if rate, err = s.store.Catalog.GetTaxRate(ctx, tx, id); err != nil {
			return lookup(err, "tax rate %d not found", id)
		}
		if err := ownedBy(rate.NodeID, nodeID, "tax rate", id); err != nil {
			return err
		}
		rate.Name, rate.Rate, rate.Description = req.Name, req.Rate, req.Description
		if err := s.store.Catalog.UpdateTaxRate(ctx, tx, rate); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTaxRateUpdated, rate)
		return nil
	})
	return rate, err
}

func (s *catalogService) DeleteTaxRate(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTaxRate, func(tx *gorm.DB, node *model.Node) error {
		rate, err := s.store.Catalog.GetTaxRate(ctx, tx, id)
		if err != nil {
			return lookup(err, "tax rate %d not found", id)
		}
		if err := ownedBy(rate.NodeID, nodeID, "tax rate", id); err != nil {
			return err
		}
		inUse, err := s.store.Catalog.TaxRateInUse(ctx, tx, id)
		if err != nil {
			return apierror.FromDB(err)
		}
		if inUse {
			return apierror.Conflict("tax rate %q is still in use", rate.Name)
		}
		if err := s.store.Catalog.DeleteTaxRate(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTaxRateDeleted, rate)
		return nil
	})
}

func (s *catalogService) ListTaxRates(ctx context.Context, actor *Actor, nodeID int64) ([]model.TaxRate, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectTaxRate)
	if err != nil {
		return nil, err
	}
	rates, err := s.store.Catalog.ListTaxRates(ctx, nil, ids)
	return rates, apierror.FromDB(err)
}

// ─── Products ────────────────────────────────────────────────────────────────

// checkProduct validates p against its node before it is written.
func (s *catalogService) checkProduct(ctx context.Context, tx *gorm.DB, node *model.Node, p *model.Product) error {
	if err := p.Validate(); err != nil {
		return apierror.InvalidArgument("%s", err.Error())
	}
	rate, err := s.store.Catalog.GetTaxRate(ctx, tx, p.TaxRateID)
	if err != nil {
		return lookup(err, "tax rate %d not found", p.TaxRateID)
	}
	if !visibleAt(node, rate.NodeID) {
		return apierror.InvalidArgument("tax rate %d is not visible at node %d", p.TaxRateID, node.ID)
	}
	if p.TargetAccountID != nil {
		if _, err := s.store.Accounts.GetAccount(ctx, tx, *p.TargetAccountID); err != nil {
			return lookup(err, "target account %d not found", *p.TargetAccountID)
		}
	}
	taken, err := s.store.Catalog.ProductNameTaken(ctx, tx, node.ID, p.Name, p.ID)
	if err != nil {
		return apierror.FromDB(err)
	}
	if taken {
		return apierror.Conflict("a product named %q already exists", p.Name)
	}
	return nil
}

func productFromRequest(p *model.Product, req dto.NewProductRequest) {
	p.Name = req.Name
	p.Price = req.Price
	p.FixedPrice = req.FixedPrice
	p.PriceInVouchers = req.PriceInVouchers
	p.PricePerVoucher = req.PricePerVoucher
	p.TaxRateID = req.TaxRateID
	p.TargetAccountID = req.TargetAccountID
	p.IsLocked = p.IsLocked || req.IsLocked
	p.IsReturnable = req.IsReturnable
	p.Restrictions = append(pq.StringArray{}, req.Restrictions...)
}

func (s *catalogService) CreateProduct(ctx context.Context, actor *Actor, nodeID int64, req dto.NewProductRequest) (*model.Product, error) {
	var p *model.Product
	err := s.mutate(ctx, actor, nodeID, model.ObjectProduct, func(tx *gorm.DB, node *model.Node) error {
		p = &model.Product{NodeID: nodeID, Type: model.ProductUserDefined}
		productFromRequest(p, req)
		if err := s.checkProduct(ctx, tx, node, p); err != nil {
			return err
		}
		if err := s.store.Catalog.CreateProduct(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditProductCreated, p)
		return nil
	})
	return p, err
}

func (s *catalogService) loadProduct(ctx context.Context, tx *gorm.DB, nodeID, id int64, ticket bool) (*model.Product, error) {
	p, err := s.store.Catalog.GetProduct(ctx, tx, id)
	if err != nil {
		return nil, lookup(err, "product %d not found", id)
	}
	if err := ownedBy(p.NodeID, nodeID, "product", id); err != nil {
		return nil, err
	}
	if ticket != (p.Type == model.ProductTicket) {
		return nil, apierror.NotFound("product %d not found", id)
	}
	return p, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewProductRequest) (*model.Product, error) {
	var p *model.Product
	err := s.mutate(ctx, actor, nodeID, model.ObjectProduct, func(tx *gorm.DB, node *model.Node) error {
		current, err := s.loadProduct(ctx, tx, nodeID, id, false)
		if err != nil {
			return err
		}
		upd := *current
		productFromRequest(&upd, req)
		if current.IsLocked && current.LockedFieldsChanged(&upd) {
			return apierror.InvalidArgument("product %q is locked, only its name may change", current.Name)
		}
		if err := s.checkProduct(ctx, tx, node, &upd); err != nil {
			return err
		}
		if err := s.store.Catalog.UpdateProduct(ctx, tx, &upd); err != nil {
			return apierror.FromDB(err)
		}
		p = &upd
		s.log(ctx, tx, actor, nodeID, model.AuditProductUpdated, p)
		return nil
	})
	return p, err
}

// deleteProduct removes a product unless an order references it. Button
// references are dropped silently.
func (s *catalogService) deleteProduct(ctx context.Context, tx *gorm.DB, p *model.Product) error {
	if p.Type != model.ProductUserDefined && p.Type != model.ProductTicket {
		return apierror.InvalidArgument("system product %q cannot be deleted", p.Name)
	}
	inUse, err := s.store.Catalog.ProductInUse(ctx, tx, p.ID)
	if err != nil {
		return apierror.FromDB(err)
	}
	if inUse {
		return apierror.Conflict("product %q has been sold and cannot be deleted", p.Name)
	}
	if err := s.store.Catalog.RemoveProductFromButtons(ctx, tx, p.ID); err != nil {
		return apierror.FromDB(err)
	}
	if p.Type == model.ProductTicket {
		if err := s.store.Catalog.RemoveTicketFromLayouts(ctx, tx, p.ID); err != nil {
			return apierror.FromDB(err)
		}
	}
	return apierror.FromDB(s.store.Catalog.DeleteProduct(ctx, tx, p.ID))
}

func (s *catalogService) DeleteProduct(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectProduct, func(tx *gorm.DB, node *model.Node) error {
		p, err := s.loadProduct(ctx, tx, nodeID, id, false)
		if err != nil {
			return err
		}
		if err := s.deleteProduct(ctx, tx, p); err != nil {
			return err
		}
		s.log(ctx, tx, actor, nodeID, model.AuditProductDeleted, p)
		return nil
	})
}

func (s *catalogService) ListProducts(ctx context.Context, actor *Actor, nodeID int64) ([]model.Product, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectProduct)
	if err != nil {
		return nil, err
	}
	types := []model.ProductType{model.ProductUserDefined}
	types = append(types, model.SystemProductTypes...)
	products, err := s.store.Catalog.ListProducts(ctx, nil, ids, types)
	return products, apierror.FromDB(err)
}

// ─── Tickets ─────────────────────────────────────────────────────────────────

func ticketFromRequest(p *model.Product, req dto.NewTicketRequest) {
	price := req.Price
	p.Name = req.Name
	p.Price = &price
	p.FixedPrice = true
	p.TaxRateID = req.TaxRateID
	p.IsLocked = p.IsLocked || req.IsLocked
	p.Restrictions = append(pq.StringArray{}, req.Restrictions...)
	p.InitialTopUpAmount = req.InitialTopUpAmount
}

func (s *catalogService) CreateTicket(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTicketRequest) (*model.Product, error) {
	var p *model.Product
	err := s.mutate(ctx, actor, nodeID, model.ObjectTicket, func(tx *gorm.DB, node *model.Node) error {
		p = &model.Product{NodeID: nodeID, Type: model.ProductTicket}
		ticketFromRequest(p, req)
		if err := s.checkProduct(ctx, tx, node, p); err != nil {
			return err
		}
		if err := s.store.Catalog.CreateProduct(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTicketCreated, p)
		return nil
	})
	return p, err
}

func (s *catalogService) UpdateTicket(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTicketRequest) (*model.Product, error) {
	var p *model.Product
	err := s.mutate(ctx, actor, nodeID, model.ObjectTicket, func(tx *gorm.DB, node *model.Node) error {
		current, err := s.loadProduct(ctx, tx, nodeID, id, true)
		if err != nil {
			return err
		}
		upd := *current
		ticketFromRequest(&upd, req)
		if current.IsLocked && (current.LockedFieldsChanged(&upd) || !current.InitialTopUpAmount.Equal(upd.InitialTopUpAmount)) {
			return apierror.InvalidArgument("ticket %q is locked, only its name may change", current.Name)
		}
		if err := s.checkProduct(ctx, tx, node, &upd); err != nil {
			return err
		}
		if err := s.store.Catalog.UpdateProduct(ctx, tx, &upd); err != nil {
			return apierror.FromDB(err)
		}
		p = &upd
		s.log(ctx, tx, actor, nodeID, model.AuditTicketUpdated, p)
		return nil
	})
	return p, err
}

func (s *catalogService) DeleteTicket(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTicket, func(tx *gorm.DB, node *model.Node) error {
		p, err := s.loadProduct(ctx, tx, nodeID, id, true)
		if err != nil {
			return err
		}
		if err := s.deleteProduct(ctx, tx, p); err != nil {
			return err
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTicketDeleted, p)
		return nil
	})
}

func (s *catalogService) ListTickets(ctx context.Context, actor *Actor, nodeID int64) ([]model.Product, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectTicket)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.Catalog.ListProducts(ctx, nil, ids, []model.ProductType{model.ProductTicket})
	return tickets, apierror.FromDB(err)
}

// ─── Buttons ─────────────────────────────────────────────────────────────────

func (s *catalogService) checkButton(ctx context.Context, tx *gorm.DB, node *model.Node, productIDs []int64) error {
	products, err := s.store.Catalog.GetProducts(ctx, tx, productIDs)
	if err != nil {
		return apierror.FromDB(err)
	}
	if len(products) != len(uniqueIDs(productIDs)) {
		return apierror.NotFound("button references unknown products")
	}
	for _, p := range products {
		if !visibleAt(node, p.NodeID) {
			return apierror.InvalidArgument("product %q is not visible at node %d", p.Name, node.ID)
		}
		if p.Type == model.ProductTicket {
			return apierror.InvalidArgument("tickets cannot be placed on buttons")
		}
	}
	if err := model.ValidateButtonProducts(products); err != nil {
		return apierror.InvalidArgument("%s", err.Error())
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := map[int64]bool{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *catalogService) CreateButton(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillButtonRequest) (*model.TillButton, error) {
	var b *model.TillButton
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		if err := s.checkButton(ctx, tx, node, req.ProductIDs); err != nil {
			return err
		}
		b = &model.TillButton{NodeID: nodeID, Name: req.Name, ProductIDs: append(pq.Int64Array{}, req.ProductIDs...)}
		if err := s.store.Catalog.CreateButton(ctx, tx, b); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillButtonCreated, b)
		return nil
	})
	return b, err
}

func (s *catalogService) UpdateButton(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillButtonRequest) (*model.TillButton, error) {
	var b *model.TillButton
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		var err error
		if b, err = s.store.Catalog.GetButton(ctx, tx, id); err != nil {
			return lookup(err, "button %d not found", id)
		}
		if err := ownedBy(b.NodeID, nodeID, "button", id); err != nil {
			return err
		}
		if err := s.checkButton(ctx, tx, node, req.ProductIDs); err != nil {
			return err
		}
		b.Name = req.Name
		b.ProductIDs = append(pq.Int64Array{}, req.ProductIDs...)
		if err := s.store.Catalog.UpdateButton(ctx, tx, b); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillButtonUpdated, b)
		return nil
	})
	return b, err
}

func (s *catalogService) DeleteButton(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		b, err := s.store.Catalog.GetButton(ctx, tx, id)
		if err != nil {
			return lookup(err, "button %d not found", id)
		}
		if err := ownedBy(b.NodeID, nodeID, "button", id); err != nil {
			return err
		}
		if err := s.store.Catalog.RemoveButtonFromLayouts(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		if err := s.store.Catalog.DeleteButton(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillButtonDeleted, b)
		return nil
	})
}

func (s *catalogService) ListButtons(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillButton, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectTill)
	if err != nil {
		return nil, err
	}
	buttons, err := s.store.Catalog.ListButtons(ctx, nil, ids)
	return buttons, apierror.FromDB(err)
}

// ─── Layouts ─────────────────────────────────────────────────────────────────

func (s *catalogService) checkLayout(ctx context.Context, tx *gorm.DB, node *model.Node, req dto.NewTillLayoutRequest) error {
	buttons, err := s.store.Catalog.GetButtons(ctx, tx, req.ButtonIDs)
	if err != nil {
		return apierror.FromDB(err)
	}
	if len(buttons) != len(uniqueIDs(req.ButtonIDs)) {
		return apierror.NotFound("layout references unknown buttons")
	}
	for _, b := range buttons {
		if !visibleAt(node, b.NodeID) {
			return apierror.InvalidArgument("button %q is not visible at node %d", b.Name, node.ID)
		}
	}
	tickets, err := s.store.Catalog.GetProducts(ctx, tx, req.TicketIDs)
	if err != nil {
		return apierror.FromDB(err)
	}
	if len(tickets) != len(uniqueIDs(req.TicketIDs)) {
		return apierror.NotFound("layout references unknown tickets")
	}
	for _, t := range tickets {
		if t.Type != model.ProductTicket {
			return apierror.InvalidArgument("product %q is not a ticket", t.Name)
		}
		if !visibleAt(node, t.NodeID) {
			return apierror.InvalidArgument("ticket %q is not visible at node %d", t.Name, node.ID)
		}
	}
	return nil
}

func (s *catalogService) CreateLayout(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillLayoutRequest) (*model.TillLayout, error) {
	var l *model.TillLayout
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		if err := s.checkLayout(ctx, tx, node, req); err != nil {
			return err
		}
		l = &model.TillLayout{
			NodeID:      nodeID,
			Name:        req.Name,
			Description: req.Description,
			ButtonIDs:   append(pq.Int64Array{}, req.ButtonIDs...),
			TicketIDs:   append(pq.Int64Array{}, req.TicketIDs...),
		}
		if err := s.store.Catalog.CreateLayout(ctx, tx, l); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillLayoutCreated, l)
		return nil
	})
	return l, err
}

func (s *catalogService) UpdateLayout(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillLayoutRequest) (*model.TillLayout, error) {
	var l *model.TillLayout
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		var err error
		if l, err = s.store.Catalog.GetLayout(ctx, tx, id); err != nil {
			return lookup(err, "layout %d not found", id)
		}
		if err := ownedBy(l.NodeID, nodeID, "layout", id); err != nil {
			return err
		}
		if err := s.checkLayout(ctx, tx, node, req); err != nil {
			return err
		}
		l.Name = req.Name
		l.Description = req.Description
		l.ButtonIDs = append(pq.Int64Array{}, req.ButtonIDs...)
		l.TicketIDs = append(pq.Int64Array{}, req.TicketIDs...)
		if err := s.store.Catalog.UpdateLayout(ctx, tx, l); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillLayoutUpdated, l)
		return nil
	})
	return l, err
}

func (s *catalogService) DeleteLayout(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		l, err := s.store.Catalog.GetLayout(ctx, tx, id)
		if err != nil {
			return lookup(err, "layout %d not found", id)
		}
		if err := ownedBy(l.NodeID, nodeID, "layout", id); err != nil {
			return err
		}
		profiles, err := s.store.Catalog.ListProfiles(ctx, tx, []int64{nodeID})
		if err != nil {
			return apierror.FromDB(err)
		}
		for _, p := range profiles {
			if p.LayoutID == id {
				return apierror.Conflict("layout %q is used by profile %q", l.Name, p.Name)
			}
		}
		if err := s.store.Catalog.DeleteLayout(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillLayoutDeleted, l)
		return nil
	})
}

func (s *catalogService) ListLayouts(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillLayout, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectTill)
	if err != nil {
		return nil, err
	}
	layouts, err := s.store.Catalog.ListLayouts(ctx, nil, ids)
	return layouts, apierror.FromDB(err)
}

// ─── Profiles ────────────────────────────────────────────────────────────────

func (s *catalogService) checkProfile(ctx context.Context, tx *gorm.DB, node *model.Node, req dto.NewTillProfileRequest) error {
	layout, err := s.store.Catalog.GetLayout(ctx, tx, req.LayoutID)
	if err != nil {
		return lookup(err, "layout %d not found", req.LayoutID)
	}
	if !visibleAt(node, layout.NodeID) {
		return apierror.InvalidArgument("layout %d is not visible at node %d", req.LayoutID, node.ID)
	}
	for _, roleID := range req.AllowedRoleIDs {
		if _, err := s.store.Users.GetRole(ctx, tx, roleID); err != nil {
			return lookup(err, "role %d not found", roleID)
		}
	}
	return nil
}

func profileFromRequest(p *model.TillProfile, req dto.NewTillProfileRequest) {
	p.Name = req.Name
	p.Description = req.Description
	p.LayoutID = req.LayoutID
	p.AllowTopUp = req.AllowTopUp
	p.AllowCashOut = req.AllowCashOut
	p.AllowTicketSale = req.AllowTicketSale
	p.EnableCashPayment = req.EnableCashPayment
	p.EnableCardPayment = req.EnableCardPayment
	p.EnableSSPPayment = req.EnableSSPPayment
	p.AllowedRoleIDs = append(pq.Int64Array{}, req.AllowedRoleIDs...)
}

func (s *catalogService) CreateProfile(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillProfileRequest) (*model.TillProfile, error) {
	var p *model.TillProfile
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		if err := s.checkProfile(ctx, tx, node, req); err != nil {
			return err
		}
		p = &model.TillProfile{NodeID: nodeID}
		profileFromRequest(p, req)
		if err := s.store.Catalog.CreateProfile(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillProfileCreated, p)
		return nil
	})
	return p, err
}

func (s *catalogService) UpdateProfile(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillProfileRequest) (*model.TillProfile, error) {
	var p *model.TillProfile
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		var err error
		if p, err = s.store.Catalog.GetProfile(ctx, tx, id); err != nil {
			return lookup(err, "profile %d not found", id)
		}
		if err := ownedBy(p.NodeID, nodeID, "profile", id); err != nil {
			return err
		}
		if err := s.checkProfile(ctx, tx, node, req); err != nil {
			return err
		}
		profileFromRequest(p, req)
		if err := s.store.Catalog.UpdateProfile(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillProfileUpdated, p)
		return nil
	})
	return p, err
}

func (s *catalogService) DeleteProfile(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		p, err := s.store.Catalog.GetProfile(ctx, tx, id)
		if err != nil {
			return lookup(err, "profile %d not found", id)
		}
		if err := ownedBy(p.NodeID, nodeID, "profile", id); err != nil {
			return err
		}
		inUse, err := s.store.Tills.ProfileInUse(ctx, tx, id)
		if err != nil {
			return apierror.FromDB(err)
		}
		if inUse {
			return apierror.Conflict("profile %q is still assigned to a till", p.Name)
		}
		if err := s.store.Catalog.DeleteProfile(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillProfileDeleted, p)
		return nil
	})
}

func (s *catalogService) ListProfiles(ctx context.Context, actor *Actor, nodeID int64) ([]model.TillProfile, error) {
	ids, err := s.scope(ctx, actor, nodeID, model.ObjectTill)
	if err != nil {
		return nil, err
	}
	profiles, err := s.store.Catalog.ListProfiles(ctx, nil, ids)
	return profiles, apierror.FromDB(err)
}

// ─── Tills ───────────────────────────────────────────────────────────────────

func (s *catalogService) checkTill(ctx context.Context, tx *gorm.DB, node *model.Node, req dto.NewTillRequest) error {
	profile, err := s.store.Catalog.GetProfile(ctx, tx, req.ActiveProfileID)
	if err != nil {
		return lookup(err, "profile %d not found", req.ActiveProfileID)
	}
	if !visibleAt(node, profile.NodeID) {
		return apierror.InvalidArgument("profile %d is not visible at node %d", req.ActiveProfileID, node.ID)
	}
	if req.TseID != nil {
		if _, err := s.store.Tills.GetTSE(ctx, tx, *req.TseID); err != nil {
			return lookup(err, "tse %d not found", *req.TseID)
		}
	}
	if _, _, err := eventOf(ctx, s.store.Tree, tx, node.ID); err != nil {
		return err
	}
	return nil
}

func (s *catalogService) CreateTill(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTillRequest) (*model.Till, error) {
	var t *model.Till
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		if err := s.checkTill(ctx, tx, node, req); err != nil {
			return err
		}
		reg := uuid.New()
		t = &model.Till{
			NodeID:           nodeID,
			Name:             req.Name,
			Description:      req.Description,
			ActiveProfileID:  req.ActiveProfileID,
			RegistrationUUID: &reg,
			TseID:            req.TseID,
			ZNr:              1,
		}
		if err := s.store.Tills.CreateTill(ctx, tx, t); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillCreated, t)
		return nil
	})
	return t, err
}

func (s *catalogService) UpdateTill(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTillRequest) (*model.Till, error) {
	var t *model.Till
	err := s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		var err error
		if t, err = s.store.Tills.LockTill(ctx, tx, id); err != nil {
			return lookup(err, "till %d not found", id)
		}
		if err := ownedBy(t.NodeID, nodeID, "till", id); err != nil {
			return err
		}
		if err := s.checkTill(ctx, tx, node, req); err != nil {
			return err
		}
		t.Name = req.Name
		t.Description = req.Description
		t.ActiveProfileID = req.ActiveProfileID
		t.TseID = req.TseID
		if err := s.store.Tills.UpdateTill(ctx, tx, t); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillUpdated, t)
		return nil
	})
	return t, err
}

func (s *catalogService) DeleteTill(ctx context.Context, actor *Actor, nodeID, id int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		t, err := s.store.Tills.LockTill(ctx, tx, id)
		if err != nil {
			return lookup(err, "till %d not found", id)
		}
		if err := ownedBy(t.NodeID, nodeID, "till", id); err != nil {
			return err
		}
		if t.IsVirtual {
			return apierror.InvalidArgument("the virtual till of an event cannot be deleted")
		}
		if t.IsRegistered() {
			return apierror.Conflict("till %q still has a registered terminal", t.Name)
		}
		if err := s.store.Tills.DeleteTill(ctx, tx, id); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTillDeleted, t)
		return nil
	})
}

func (s *catalogService) ListTills(ctx context.Context, actor *Actor, nodeID int64) ([]model.Till, error) {
	if _, err := s.scope(ctx, actor, nodeID, model.ObjectTill); err != nil {
		return nil, err
	}
	tills, err := s.store.Tills.ListTills(ctx, nil, nodeID)
	return tills, apierror.FromDB(err)
}

func (s *catalogService) LogoutTerminal(ctx context.Context, actor *Actor, nodeID, tillID int64) error {
	return s.mutate(ctx, actor, nodeID, model.ObjectTill, func(tx *gorm.DB, node *model.Node) error {
		t, err := s.store.Tills.LockTill(ctx, tx, tillID)
		if err != nil {
			return lookup(err, "till %d not found", tillID)
		}
		if err := ownedBy(t.NodeID, nodeID, "till", tillID); err != nil {
			return err
		}
		if !t.IsRegistered() {
			return apierror.InvalidArgument("till %q has no registered terminal", t.Name)
		}
		if err := closeTillSession(ctx, s.store, tx, t); err != nil {
			return err
		}
		t.SessionUUID = nil
		if err := s.store.Tills.UpdateTill(ctx, tx, t); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTerminalLoggedOut, map[string]any{"till_id": tillID})
		return nil
	})
}

// closeTillSession logs the active user out of t and advances the Z-number
// when the session produced bookings. The caller saves t.
func closeTillSession(ctx context.Context, store *repository.Store, tx *gorm.DB, t *model.Till) error {
	if t.ActiveUserID == nil {
		return nil
	}
	n, err := store.Orders.CountOrdersAtTill(ctx, tx, t.ID, t.ZNr)
	if err != nil {
		return apierror.FromDB(err)
	}
	if n > 0 {
		t.ZNr++
	}
	t.ActiveUserID = nil
	t.ActiveUserRoleID = nil
	return nil
}

// ─── TSE ─────────────────────────────────────────────────────────────────────

func (s *catalogService) CreateTSE(ctx context.Context, actor *Actor, nodeID int64, req dto.NewTSERequest) (*model.TSE, error) {
	var t *model.TSE
	err := s.mutate(ctx, actor, nodeID, model.ObjectTSE, func(tx *gorm.DB, node *model.Node) error {
		t = &model.TSE{
			NodeID:       nodeID,
			Name:         req.Name,
			Type:         "diebold_nixdorf",
			SerialNumber: req.SerialNumber,
			WsURL:        req.WsURL,
			WsTimeout:    req.WsTimeout,
			Password:     req.Password,
			Status:       "new",
			CreatedAt:    s.now(),
		}
		if t.WsTimeout == 0 {
			t.WsTimeout = 5
		}
		if err := s.store.Tills.CreateTSE(ctx, tx, t); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTSECreated, t)
		return nil
	})
	return t, err
}

func (s *catalogService) UpdateTSE(ctx context.Context, actor *Actor, nodeID, id int64, req dto.NewTSERequest) (*model.TSE, error) {
	var t *model.TSE
	err := s.mutate(ctx, actor, nodeID, model.ObjectTSE, func(tx *gorm.DB, node *model.Node) error {
		var err error
		if t, err = s.store.Tills.GetTSE(ctx, tx, id); err != nil {
			return lookup(err, "tse %d not found", id)
		}
		if err := ownedBy(t.NodeID, nodeID, "tse", id); err != nil {
			return err
		}
		t.Name = req.Name
		t.WsURL = req.WsURL
		if req.WsTimeout > 0 {
			t.WsTimeout = req.WsTimeout
		}
		if req.Password != "" {
			t.Password = req.Password
		}
		if err := s.store.Tills.UpdateTSE(ctx, tx, t); err != nil {
			return apierror.FromDB(err)
		}
		s.log(ctx, tx, actor, nodeID, model.AuditTSEUpdated, t)
		return nil
	})
	return t, err
}

func (s *catalogService) ListTSEs(ctx context.Context, actor *Actor, nodeID int64) ([]model.TSE, error) {
	if _, err := s.scope(ctx, actor, nodeID, model.ObjectTSE); err != nil {
		return nil, err
	}
	tses, err := s.store.Tills.ListTSEs(ctx, nil, nodeID)
	return tses, apierror.FromDB(err)
}
