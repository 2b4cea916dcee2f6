package service

import (
	"context"
	"sort"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TreeService interface {
	CreateNode(ctx context.Context, actor *Actor, parentID int64, req dto.NewNodeRequest) (*dto.NodeResponse, error)
	UpdateNode(ctx context.Context, actor *Actor, nodeID int64, req dto.UpdateNodeRequest) (*dto.NodeResponse, error)
	CreateEvent(ctx context.Context, actor *Actor, parentID int64, req dto.NewEventRequest) (*dto.NodeResponse, error)
	UpdateEvent(ctx context.Context, actor *Actor, nodeID int64, req dto.EventSettings) (*model.Event, error)
	GetEvent(ctx context.Context, actor *Actor, nodeID int64) (*model.Event, error)
	GetNode(ctx context.Context, actor *Actor, nodeID int64) (*dto.NodeResponse, error)
	GetTreeForUser(ctx context.Context, actor *Actor) ([]dto.NodeResponse, error)
	AncestorsToEvent(ctx context.Context, nodeID int64) ([]model.Node, error)
}

type treeService struct {
	store  *repository.Store
	ledger LedgerService
	auth   *Authorizer
	audit  AuditService
	now    Clock
}

func NewTreeService(store *repository.Store, ledger LedgerService, auth *Authorizer, audit AuditService) TreeService {
	return &treeService{store: store, ledger: ledger, auth: auth, audit: audit, now: time.Now}
}

func validObjectTypes(objs []string) error {
	known := map[model.ObjectType]bool{
		model.ObjectUser: true, model.ObjectUserRole: true, model.ObjectTaxRate: true,
		model.ObjectProduct: true, model.ObjectTicket: true, model.ObjectTill: true,
		model.ObjectUserTag: true, model.ObjectTSE: true, model.ObjectCashRegister: true,
		model.ObjectAccount: true, model.ObjectPayout: true,
	}
	for _, o := range objs {
		if !known[model.ObjectType(o)] {
			return apierror.InvalidArgument("unknown object type %q", o)
		}
	}
	return nil
}

func (s *treeService) CreateNode(ctx context.Context, actor *Actor, parentID int64, req dto.NewNodeRequest) (*dto.NodeResponse, error) {
	var node *model.Node
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		var err error
		node, err = s.createNode(ctx, tx, actor, parentID, req, nil)
		if err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: node.ID, Type: model.AuditNodeCreated, UserID: &actor.UserID, Content: node})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, actor, node.ID)
}

func (s *treeService) createNode(ctx context.Context, tx *gorm.DB, actor *Actor, parentID int64, req dto.NewNodeRequest, eventID *int64) (*model.Node, error) {
	if err := s.auth.Require(ctx, tx, actor, parentID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	if err := validObjectTypes(req.ForbiddenObjectsAtNode); err != nil {
		return nil, err
	}
	if err := validObjectTypes(req.ForbiddenObjectsInSubtree); err != nil {
		return nil, err
	}
	parent, err := s.store.Tree.GetNode(ctx, tx, parentID)
	if err != nil {
		return nil, lookup(err, "node %d not found", parentID)
	}
	if parent.ReadOnly {
		return nil, apierror.AccessDenied("node %d is read only", parentID)
	}
	node := &model.Node{
		ParentID:                  &parent.ID,
		Name:                      req.Name,
		Description:               req.Description,
		EventID:                   eventID,
		ForbiddenObjectsAtNode:    req.ForbiddenObjectsAtNode,
		ForbiddenObjectsInSubtree: req.ForbiddenObjectsInSubtree,
		CreatedAt:                 s.now(),
	}
	if node.ForbiddenObjectsAtNode == nil {
		node.ForbiddenObjectsAtNode = []string{}
	}
	if node.ForbiddenObjectsInSubtree == nil {
		node.ForbiddenObjectsInSubtree = []string{}
	}
	if err := s.store.Tree.CreateNode(ctx, tx, node); err != nil {
		return nil, apierror.FromDB(err)
	}
	return node, nil
}

func (s *treeService) UpdateNode(ctx context.Context, actor *Actor, nodeID int64, req dto.UpdateNodeRequest) (*dto.NodeResponse, error) {
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		if err := validObjectTypes(req.ForbiddenObjectsAtNode); err != nil {
			return err
		}
		if err := validObjectTypes(req.ForbiddenObjectsInSubtree); err != nil {
			return err
		}
		node, err := s.store.Tree.GetNode(ctx, tx, nodeID)
		if err != nil {
			return lookup(err, "node %d not found", nodeID)
		}
		if node.ReadOnly {
			return apierror.AccessDenied("node %d is read only", nodeID)
		}
		node.Name = req.Name
		node.Description = req.Description
		node.ForbiddenObjectsAtNode = append([]string{}, req.ForbiddenObjectsAtNode...)
		node.ForbiddenObjectsInSubtree = append([]string{}, req.ForbiddenObjectsInSubtree...)
		if err := s.store.Tree.UpdateNode(ctx, tx, node); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: node.ID, Type: model.AuditNodeUpdated, UserID: &actor.UserID, Content: node})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, actor, nodeID)
}

// ─── Events ──────────────────────────────────────────────────────────────────

func applyEventSettings(e *model.Event, req dto.EventSettings) error {
	if !req.MaxAccountBalance.IsPositive() {
		return apierror.InvalidArgument("max account balance must be positive")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return apierror.InvalidArgument("event end date lies before its start date")
	}
	if req.SepaEnabled && !validIBAN(req.SepaSenderIBAN) {
		return apierror.InvalidArgument("invalid sepa sender iban")
	}
	if !sepaDescriptionPattern.MatchString(payoutDescription(req.SepaDescription, model.Payout{})) {
		return apierror.InvalidArgument("sepa description contains invalid characters")
	}
	e.Currency = req.Currency
	e.MaxAccountBalance = req.MaxAccountBalance
	if req.DailyEndTime != "" {
		e.DailyEndTime = req.DailyEndTime
	}
	e.StartDate = req.StartDate
	e.EndDate = req.EndDate
	e.CustomerPortalURL = req.CustomerPortalURL
	e.SepaEnabled = req.SepaEnabled
	e.SepaSenderName = req.SepaSenderName
	e.SepaSenderIBAN = normalizeIBAN(req.SepaSenderIBAN)
	e.SepaDescription = req.SepaDescription
	e.SepaAllowedCountryCodes = append([]string{}, req.SepaAllowedCountryCodes...)
	if req.SepaMaxNumPayoutsInRun > 0 {
		e.SepaMaxNumPayoutsInRun = req.SepaMaxNumPayoutsInRun
	}
	e.SumupTopupEnabled = req.SumupTopupEnabled
	e.SumupPaymentEnabled = req.SumupPaymentEnabled
	if req.SumupAPIKey != "" {
		e.SumupAPIKey = req.SumupAPIKey
	}
	e.SumupMerchantCode = req.SumupMerchantCode
	e.SumupAffiliateKey = req.SumupAffiliateKey
	e.PretixPresaleEnabled = req.PretixPresaleEnabled
	e.PretixShopURL = req.PretixShopURL
	if req.PretixAPIKey != "" {
		e.PretixAPIKey = req.PretixAPIKey
	}
	e.PretixOrganizer = req.PretixOrganizer
	e.PretixEvent = req.PretixEvent
	e.PretixTicketIDs = append([]int64{}, req.PretixTicketIDs...)
	e.EmailEnabled = req.EmailEnabled
	e.EmailDefaultSender = req.EmailDefaultSender
	e.EmailSMTPHost = req.EmailSMTPHost
	e.EmailSMTPPort = req.EmailSMTPPort
	e.EmailSMTPUsername = req.EmailSMTPUsername
	if req.EmailSMTPPassword != "" {
		e.EmailSMTPPassword = req.EmailSMTPPassword
	}
	e.PayoutDoneSubject = req.PayoutDoneSubject
	e.PayoutDoneMessage = req.PayoutDoneMessage
	return nil
}

// CreateEvent creates the event node together with the objects every event
// needs: system accounts, the tax rate "none", the system products and the
// virtual till.
func (s *treeService) CreateEvent(ctx context.Context, actor *Actor, parentID int64, req dto.NewEventRequest) (*dto.NodeResponse, error) {
	var node *model.Node
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, parentID, model.PrivNodeAdministration); err != nil {
			return err
		}
		if _, _, err := eventOf(ctx, s.store.Tree, tx, parentID); err == nil {
			return apierror.InvalidArgument("events cannot be nested")
		} else if apierror.KindOf(err) != apierror.KindInvalidArgument {
			return err
		}

		event := &model.Event{SepaMaxNumPayoutsInRun: 1000, DailyEndTime: "04:00"}
		if err := applyEventSettings(event, req.EventSettings); err != nil {
			return err
		}
		if err := s.store.Tree.CreateEvent(ctx, tx, event); err != nil {
			return apierror.FromDB(err)
		}
		var err error
		node, err = s.createNode(ctx, tx, actor, parentID, req.NewNodeRequest, &event.ID)
		if err != nil {
			return err
		}
		if err := s.ledger.CreateSystemAccounts(ctx, tx, node.ID); err != nil {
			return err
		}
		if err := s.createEventCatalog(ctx, tx, node); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: node.ID, Type: model.AuditEventCreated, UserID: &actor.UserID, Content: event})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, actor, node.ID)
}

func (s *treeService) createEventCatalog(ctx context.Context, tx *gorm.DB, node *model.Node) error {
	none := &model.TaxRate{NodeID: node.ID, Name: "none", Rate: decimal.Zero, Description: "no tax"}
	if err := s.store.Catalog.CreateTaxRate(ctx, tx, none); err != nil {
		return apierror.FromDB(err)
	}
	for _, t := range model.SystemProductTypes {
		p := &model.Product{
			NodeID:       node.ID,
			Name:         string(t),
			Type:         t,
			FixedPrice:   false,
			TaxRateID:    none.ID,
			IsLocked:     true,
			Restrictions: []string{},
		}
		if err := s.store.Catalog.CreateProduct(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
	}

	layout := &model.TillLayout{NodeID: node.ID, Name: "virtual", ButtonIDs: []int64{}, TicketIDs: []int64{}}
	if err := s.store.Catalog.CreateLayout(ctx, tx, layout); err != nil {
		return apierror.FromDB(err)
	}
	profile := &model.TillProfile{
		NodeID:            node.ID,
		Name:              "virtual",
		LayoutID:          layout.ID,
		AllowTopUp:        true,
		AllowCashOut:      true,
		AllowTicketSale:   true,
		EnableCashPayment: true,
		EnableCardPayment: true,
		EnableSSPPayment:  true,
		AllowedRoleIDs:    []int64{},
	}
	if err := s.store.Catalog.CreateProfile(ctx, tx, profile); err != nil {
		return apierror.FromDB(err)
	}
	reg := uuid.New()
	till := &model.Till{
		NodeID:           node.ID,
		Name:             "virtual till",
		Description:      "bookings without a terminal",
		ActiveProfileID:  profile.ID,
		RegistrationUUID: &reg,
		ZNr:              1,
		IsVirtual:        true,
	}
	if err := s.store.Tills.CreateTill(ctx, tx, till); err != nil {
		return apierror.FromDB(err)
	}
	return nil
}

func (s *treeService) UpdateEvent(ctx context.Context, actor *Actor, nodeID int64, req dto.EventSettings) (*model.Event, error) {
	var event *model.Event
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		node, err := s.store.Tree.GetNode(ctx, tx, nodeID)
		if err != nil {
			return lookup(err, "node %d not found", nodeID)
		}
		if !node.IsEvent() {
			return apierror.InvalidArgument("node %d is not an event", nodeID)
		}
		event, err = s.store.Tree.GetEvent(ctx, tx, *node.EventID)
		if err != nil {
			return lookup(err, "event not found")
		}
		if err := applyEventSettings(event, req); err != nil {
			return err
		}
		if err := s.store.Tree.UpdateEvent(ctx, tx, event); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditEventUpdated, UserID: &actor.UserID, Content: event})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *treeService) GetEvent(ctx context.Context, actor *Actor, nodeID int64) (*model.Event, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	_, event, err := eventOf(ctx, s.store.Tree, nil, nodeID)
	return event, err
}

// ─── Tree views ──────────────────────────────────────────────────────────────

// GetNode returns the node with its descendants and computed object bans.
func (s *treeService) GetNode(ctx context.Context, actor *Actor, nodeID int64) (*dto.NodeResponse, error) {
	if actor == nil {
		return nil, apierror.Unauthorized("authentication required")
	}
	privs, err := s.auth.PrivilegesAt(ctx, nil, actor.UserID, nodeID)
	if err != nil {
		return nil, err
	}
	if len(privs) == 0 {
		return nil, apierror.AccessDenied("node %d is not visible", nodeID)
	}
	return s.subtree(ctx, nodeID)
}

// GetTreeForUser walks from each home node of the user down.
func (s *treeService) GetTreeForUser(ctx context.Context, actor *Actor) ([]dto.NodeResponse, error) {
	if actor == nil {
		return nil, apierror.Unauthorized("authentication required")
	}
	homes, err := s.auth.HomeNodes(ctx, nil, actor.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.NodeResponse, 0, len(homes))
	for _, h := range homes {
		n, err := s.subtree(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

func (s *treeService) subtree(ctx context.Context, rootID int64) (*dto.NodeResponse, error) {
	root, err := s.store.Tree.GetNode(ctx, nil, rootID)
	if err != nil {
		return nil, lookup(err, "node %d not found", rootID)
	}
	ancestors, err := ancestorsOf(ctx, s.store.Tree, nil, root)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.Tree.ListSubtree(ctx, nil, rootID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	children := map[int64][]model.Node{}
	for _, n := range nodes {
		if n.ParentID != nil && n.ID != rootID {
			children[*n.ParentID] = append(children[*n.ParentID], n)
		}
	}
	var build func(n *model.Node, chain []model.Node) dto.NodeResponse
	build = func(n *model.Node, chain []model.Node) dto.NodeResponse {
		resp := nodeResponse(n, model.ComputeForbidden(chain, n))
		next := append(append([]model.Node{}, chain...), *n)
		kids := children[n.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].ID < kids[j].ID })
		for i := range kids {
			resp.Children = append(resp.Children, build(&kids[i], next))
		}
		return resp
	}
	resp := build(root, ancestors)
	return &resp, nil
}

func nodeResponse(n *model.Node, f model.ComputedForbidden) dto.NodeResponse {
	return dto.NodeResponse{
		ID:                                n.ID,
		ParentID:                          n.ParentID,
		Name:                              n.Name,
		Description:                       n.Description,
		Path:                              n.Path,
		ParentIDs:                         n.ParentIDs,
		EventID:                           n.EventID,
		ForbiddenObjectsAtNode:            n.ForbiddenObjectsAtNode,
		ForbiddenObjectsInSubtree:         n.ForbiddenObjectsInSubtree,
		ComputedForbiddenObjectsAtNode:    sortedObjects(f.AtNode),
		ComputedForbiddenObjectsInSubtree: sortedObjects(f.InSubtree),
	}
}

func sortedObjects(set map[model.ObjectType]bool) []string {
	out := make([]string, 0, len(set))
	for o := range set {
		out = append(out, string(o))
	}
	sort.Strings(out)
	return out
}

// AncestorsToEvent returns the chain from the event node down to nodeID.
func (s *treeService) AncestorsToEvent(ctx context.Context, nodeID int64) ([]model.Node, error) {
	node, err := s.store.Tree.GetNode(ctx, nil, nodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", nodeID)
	}
	ancestors, err := ancestorsOf(ctx, s.store.Tree, nil, node)
	if err != nil {
		return nil, err
	}
	chain := append(ancestors, *node)
	for i := range chain {
		if chain[i].IsEvent() {
			return chain[i:], nil
		}
	}
	return nil, apierror.InvalidArgument("node %d does not belong to an event", nodeID)
}
