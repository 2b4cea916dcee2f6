package service

import (
	"context"
	"sort"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"gorm.io/gorm"
)

// Authorizer answers privilege and object-ban questions by walking the node
// ancestors. It is invoked at the top of every mutating admin operation.
type Authorizer struct {
	tree  repository.TreeRepository
	users repository.UserRepository
}

func NewAuthorizer(tree repository.TreeRepository, users repository.UserRepository) *Authorizer {
	return &Authorizer{tree: tree, users: users}
}

// Require succeeds iff the actor holds every privilege at the target node or
// at one of its ancestors.
func (a *Authorizer) Require(ctx context.Context, tx *gorm.DB, actor *Actor, nodeID int64, privs ...model.Privilege) error {
	if actor == nil {
		return apierror.Unauthorized("authentication required")
	}
	held, err := a.PrivilegesAt(ctx, tx, actor.UserID, nodeID)
	if err != nil {
		return err
	}
	for _, p := range privs {
		if !held[p] {
			return apierror.AccessDenied("missing privilege %s at node %d", p, nodeID)
		}
	}
	return nil
}

// RequireRoot is Require for process-wide data such as the dead-letter
// queues, which only administrators of the root node may see.
func (a *Authorizer) RequireRoot(ctx context.Context, actor *Actor, nodeID int64) error {
	node, err := a.tree.GetNode(ctx, nil, nodeID)
	if err != nil {
		return lookup(err, "node %d not found", nodeID)
	}
	if node.ParentID != nil {
		return apierror.AccessDenied("node %d is not the root node", nodeID)
	}
	return a.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration)
}

// PrivilegesAt is the union of the privileges of all role assignments of the
// user at the node or above it.
func (a *Authorizer) PrivilegesAt(ctx context.Context, tx *gorm.DB, userID, nodeID int64) (map[model.Privilege]bool, error) {
	node, err := a.tree.GetNode(ctx, tx, nodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", nodeID)
	}
	scope := map[int64]bool{node.ID: true}
	for _, id := range node.ParentIDs {
		scope[id] = true
	}

	assignments, err := a.users.ListUserRoles(ctx, tx, userID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	held := map[model.Privilege]bool{}
	for _, as := range assignments {
		if !scope[as.NodeID] {
			continue
		}
		role, err := a.users.GetRole(ctx, tx, as.RoleID)
		if err != nil {
			return nil, apierror.FromDB(err)
		}
		for _, p := range role.Privileges {
			held[model.Privilege(p)] = true
		}
	}
	return held, nil
}

// HomeNodes are the topmost nodes the user holds a role at.
func (a *Authorizer) HomeNodes(ctx context.Context, tx *gorm.DB, userID int64) ([]model.Node, error) {
	assignments, err := a.users.ListUserRoles(ctx, tx, userID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	ids := make([]int64, 0, len(assignments))
	for _, as := range assignments {
		ids = append(ids, as.NodeID)
	}
	nodes, err := a.tree.ListNodes(ctx, tx, ids)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	byID := map[int64]bool{}
	for _, n := range nodes {
		byID[n.ID] = true
	}
	var homes []model.Node
	for _, n := range nodes {
		covered := false
		for _, p := range n.ParentIDs {
			if byID[p] {
				covered = true
				break
			}
		}
		if !covered {
			homes = append(homes, n)
		}
	}
	sort.Slice(homes, func(i, j int) bool { return homes[i].ID < homes[j].ID })
	return homes, nil
}

// Forbidden computes the inherited object bans of a node.
func (a *Authorizer) Forbidden(ctx context.Context, tx *gorm.DB, node *model.Node) (model.ComputedForbidden, error) {
	ancestors, err := ancestorsOf(ctx, a.tree, tx, node)
	if err != nil {
		return model.ComputedForbidden{}, err
	}
	return model.ComputeForbidden(ancestors, node), nil
}

// CheckObjectAllowed fails if objects of type obj may not be created or
// mutated at the node.
func (a *Authorizer) CheckObjectAllowed(ctx context.Context, tx *gorm.DB, nodeID int64, obj model.ObjectType) error {
	node, err := a.tree.GetNode(ctx, tx, nodeID)
	if err != nil {
		return lookup(err, "node %d not found", nodeID)
	}
	if node.ReadOnly {
		return apierror.AccessDenied("node %d is read only", nodeID)
	}
	forbidden, err := a.Forbidden(ctx, tx, node)
	if err != nil {
		return err
	}
	if forbidden.AtNode[obj] {
		return apierror.AccessDenied("objects of type %s are not allowed at node %d", obj, nodeID)
	}
	return nil
}

// CheckObjectVisible fails if objects of type obj are hidden in the node's
// subtree.
func (a *Authorizer) CheckObjectVisible(ctx context.Context, tx *gorm.DB, nodeID int64, obj model.ObjectType) error {
	node, err := a.tree.GetNode(ctx, tx, nodeID)
	if err != nil {
		return lookup(err, "node %d not found", nodeID)
	}
	forbidden, err := a.Forbidden(ctx, tx, node)
	if err != nil {
		return err
	}
	if forbidden.InSubtree[obj] {
		return apierror.AccessDenied("objects of type %s are not visible below node %d", obj, nodeID)
	}
	return nil
}

// ─── Tree navigation ─────────────────────────────────────────────────────────

// ancestorsOf returns the ancestors of node ordered root first.
func ancestorsOf(ctx context.Context, repo repository.TreeRepository, tx *gorm.DB, node *model.Node) ([]model.Node, error) {
	if len(node.ParentIDs) == 0 {
		return nil, nil
	}
	nodes, err := repo.ListNodes(ctx, tx, node.ParentIDs)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	pos := make(map[int64]int, len(node.ParentIDs))
	for i, id := range node.ParentIDs {
		pos[id] = i
	}
	sort.Slice(nodes, func(i, j int) bool { return pos[nodes[i].ID] < pos[nodes[j].ID] })
	return nodes, nil
}

// eventOf finds the event node at or above nodeID and its event.
func eventOf(ctx context.Context, repo repository.TreeRepository, tx *gorm.DB, nodeID int64) (*model.Node, *model.Event, error) {
	node, err := repo.GetNode(ctx, tx, nodeID)
	if err != nil {
		return nil, nil, lookup(err, "node %d not found", nodeID)
	}
	eventNode := node
	if !node.IsEvent() {
		ancestors, err := ancestorsOf(ctx, repo, tx, node)
		if err != nil {
			return nil, nil, err
		}
		eventNode = nil
		for i := range ancestors {
			if ancestors[i].IsEvent() {
				eventNode = &ancestors[i]
				break
			}
		}
		if eventNode == nil {
			return nil, nil, apierror.InvalidArgument("node %d does not belong to an event", nodeID)
		}
	}
	event, err := repo.GetEvent(ctx, tx, *eventNode.EventID)
	if err != nil {
		return nil, nil, lookup(err, "event of node %d not found", eventNode.ID)
	}
	return eventNode, event, nil
}

// nodeScope is the node itself followed by its ancestors, the set of nodes
// whose objects are visible at the node.
func nodeScope(node *model.Node) []int64 {
	ids := make([]int64, 0, len(node.ParentIDs)+1)
	ids = append(ids, node.ID)
	ids = append(ids, node.ParentIDs...)
	return ids
}
