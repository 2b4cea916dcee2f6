package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"gorm.io/gorm"
)

type UserService interface {
	CreateUser(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserRequest) (*dto.UserResponse, error)
	UpdateUser(ctx context.Context, actor *Actor, nodeID, userID int64, req dto.UpdateUserRequest) (*dto.UserResponse, error)
	DeleteUser(ctx context.Context, actor *Actor, nodeID, userID int64) error
	ListUsers(ctx context.Context, actor *Actor, nodeID int64) ([]dto.UserResponse, error)

	CreateRole(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserRoleRequest) (*model.UserRole, error)
	UpdateRole(ctx context.Context, actor *Actor, nodeID, roleID int64, req dto.NewUserRoleRequest) (*model.UserRole, error)
	DeleteRole(ctx context.Context, actor *Actor, nodeID, roleID int64) error
	ListRoles(ctx context.Context, actor *Actor, nodeID int64) ([]model.UserRole, error)
	AssignRole(ctx context.Context, actor *Actor, nodeID int64, req dto.UserToRoleRequest) error
	RemoveRole(ctx context.Context, actor *Actor, nodeID int64, req dto.UserToRoleRequest) error

	CreateUserTag(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserTagRequest) (*model.UserTag, error)
	ListUserTags(ctx context.Context, actor *Actor, nodeID int64) ([]model.UserTag, error)
	CreateUserTagSecret(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserTagSecretRequest) (*model.UserTagSecret, error)
}

type userService struct {
	store *repository.Store
	auth  *Authorizer
	audit AuditService
	now   Clock
}

func NewUserService(store *repository.Store, auth *Authorizer, audit AuditService) UserService {
	return &userService{store: store, auth: auth, audit: audit, now: time.Now}
}

var knownPrivileges = map[model.Privilege]bool{
	model.PrivNodeAdministration:            true,
	model.PrivCustomerManagement:            true,
	model.PrivCreateUser:                    true,
	model.PrivUserManagement:                true,
	model.PrivAllowPrivilegedRoleAssignment: true,
	model.PrivCashTransport:                 true,
	model.PrivTerminalLogin:                 true,
	model.PrivSupervisedTerminalLogin:       true,
	model.PrivCanBookOrders:                 true,
	model.PrivGrantFreeTickets:              true,
	model.PrivGrantVouchers:                 true,
	model.PrivViewNodeStats:                 true,
	model.PrivPayoutManagement:              true,
}

// userTagAt resolves an optional tag reference of a user at the event of nodeID.
func (s *userService) userTagAt(ctx context.Context, tx *gorm.DB, nodeID int64, pin *string, uid *int64) (*int64, error) {
	if pin == nil && uid == nil {
		return nil, nil
	}
	eventNode, _, err := eventOf(ctx, s.store.Tree, tx, nodeID)
	if err != nil {
		return nil, err
	}
	scan := dto.UserTagScan{UID: uid}
	if pin != nil {
		scan.Pin = *pin
	}
	tag, err := resolveTag(ctx, s.store.UserTags, tx, eventNode.ID, scan, true)
	if err != nil {
		return nil, err
	}
	return &tag.ID, nil
}

func (s *userService) CreateUser(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserRequest) (*dto.UserResponse, error) {
	var user *model.User
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivCreateUser); err != nil {
			return err
		}
		if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, model.ObjectUser); err != nil {
			return err
		}
		tagID, err := s.userTagAt(ctx, tx, nodeID, req.UserTagPin, req.UserTagUID)
		if err != nil {
			return err
		}
		user = &model.User{
			NodeID:      nodeID,
			Login:       req.Login,
			DisplayName: req.DisplayName,
			Description: req.Description,
			UserTagID:   tagID,
			CreatedAt:   s.now(),
		}
		if req.Password != nil {
			if user.PasswordHash, err = hashPassword(*req.Password); err != nil {
				return err
			}
		}
		if err := s.store.Users.CreateUser(ctx, tx, user); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserCreated, UserID: &actor.UserID, Content: userResponse(user, nil)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := userResponse(user, nil)
	return &resp, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor *Actor, nodeID, userID int64, req dto.UpdateUserRequest) (*dto.UserResponse, error) {
	var user *model.User
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		var err error
		user, err = s.store.Users.LockUser(ctx, tx, userID)
		if err != nil {
			return lookup(err, "user %d not found", userID)
		}
		if err := s.requireInScope(ctx, tx, nodeID, user.NodeID); err != nil {
			return err
		}
		tagID, err := s.userTagAt(ctx, tx, user.NodeID, req.UserTagPin, req.UserTagUID)
		if err != nil {
			return err
		}
		user.DisplayName = req.DisplayName
		user.Description = req.Description
		user.UserTagID = tagID
		if err := s.store.Users.UpdateUser(ctx, tx, user); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserUpdated, UserID: &actor.UserID, Content: userResponse(user, nil)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := userResponse(user, nil)
	return &resp, nil
}

// requireInScope fails unless objectNodeID lies at or below nodeID.
func (s *userService) requireInScope(ctx context.Context, tx *gorm.DB, nodeID, objectNodeID int64) error {
	if nodeID == objectNodeID {
		return nil
	}
	n, err := s.store.Tree.GetNode(ctx, tx, objectNodeID)
	if err != nil {
		return lookup(err, "node %d not found", objectNodeID)
	}
	for _, id := range n.ParentIDs {
		if id == nodeID {
			return nil
		}
	}
	return apierror.NotFound("object is not part of node %d", nodeID)
}

func (s *userService) DeleteUser(ctx context.Context, actor *Actor, nodeID, userID int64) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		user, err := s.store.Users.LockUser(ctx, tx, userID)
		if err != nil {
			return lookup(err, "user %d not found", userID)
		}
		if err := s.requireInScope(ctx, tx, nodeID, user.NodeID); err != nil {
			return err
		}
		if user.CashRegisterID != nil {
			return apierror.Conflict("user %s still holds a cash register", user.Login)
		}
		if err := s.store.Users.DeleteUser(ctx, tx, userID); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserDeleted, UserID: &actor.UserID, Content: map[string]any{"id": userID}})
		return nil
	})
}

func (s *userService) ListUsers(ctx context.Context, actor *Actor, nodeID int64) ([]dto.UserResponse, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivUserManagement); err != nil {
		return nil, err
	}
	if err := s.auth.CheckObjectVisible(ctx, nil, nodeID, model.ObjectUser); err != nil {
		return nil, err
	}
	users, err := s.store.Users.ListUsers(ctx, nil, nodeID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		assignments, err := s.store.Users.ListUserRoles(ctx, nil, users[i].ID)
		if err != nil {
			return nil, apierror.FromDB(err)
		}
		roleIDs := make([]int64, 0, len(assignments))
		for _, a := range assignments {
			roleIDs = append(roleIDs, a.RoleID)
		}
		out = append(out, userResponse(&users[i], roleIDs))
	}
	return out, nil
}

// ─── Roles ───────────────────────────────────────────────────────────────────

func validPrivileges(privs []string) error {
	for _, p := range privs {
		if !knownPrivileges[model.Privilege(p)] {
			return apierror.InvalidArgument("unknown privilege %q", p)
		}
	}
	return nil
}

func (s *userService) CreateRole(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserRoleRequest) (*model.UserRole, error) {
	var role *model.UserRole
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, model.ObjectUserRole); err != nil {
			return err
		}
		if err := validPrivileges(req.Privileges); err != nil {
			return err
		}
		if _, err := s.store.Users.FindRoleByName(ctx, tx, nodeID, req.Name); err == nil {
			return apierror.Conflict("role %q already exists", req.Name)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		role = &model.UserRole{NodeID: nodeID, Name: req.Name, IsPrivileged: req.IsPrivileged, Privileges: append([]string{}, req.Privileges...)}
		if err := s.store.Users.CreateRole(ctx, tx, role); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserRoleCreated, UserID: &actor.UserID, Content: role})
		return nil
	})
	return role, err
}

func (s *userService) UpdateRole(ctx context.Context, actor *Actor, nodeID, roleID int64, req dto.NewUserRoleRequest) (*model.UserRole, error) {
	var role *model.UserRole
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		if err := validPrivileges(req.Privileges); err != nil {
			return err
		}
		var err error
		role, err = s.store.Users.GetRole(ctx, tx, roleID)
		if err != nil {
			return lookup(err, "role %d not found", roleID)
		}
		if role.NodeID != nodeID {
			return apierror.NotFound("role %d not found at node %d", roleID, nodeID)
		}
		role.Name = req.Name
		role.IsPrivileged = req.IsPrivileged
		role.Privileges = append([]string{}, req.Privileges...)
		if err := s.store.Users.UpdateRole(ctx, tx, role); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserRoleUpdated, UserID: &actor.UserID, Content: role})
		return nil
	})
	return role, err
}

func (s *userService) DeleteRole(ctx context.Context, actor *Actor, nodeID, roleID int64) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		role, err := s.store.Users.GetRole(ctx, tx, roleID)
		if err != nil {
			return lookup(err, "role %d not found", roleID)
		}
		if role.NodeID != nodeID {
			return apierror.NotFound("role %d not found at node %d", roleID, nodeID)
		}
		if err := s.store.Users.DeleteRole(ctx, tx, roleID); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserRoleDeleted, UserID: &actor.UserID, Content: role})
		return nil
	})
}

func (s *userService) ListRoles(ctx context.Context, actor *Actor, nodeID int64) ([]model.UserRole, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivUserManagement); err != nil {
		return nil, err
	}
	node, err := s.store.Tree.GetNode(ctx, nil, nodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", nodeID)
	}
	roles, err := s.store.Users.ListRoles(ctx, nil, nodeScope(node))
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	return roles, nil
}

// AssignRole grants a role visible at the node. Privileged roles need a
// grantor with node administration rights.
func (s *userService) AssignRole(ctx context.Context, actor *Actor, nodeID int64, req dto.UserToRoleRequest) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		role, node, err := s.visibleRole(ctx, tx, nodeID, req.RoleID)
		if err != nil {
			return err
		}
		if role.IsPrivileged {
			held, err := s.auth.PrivilegesAt(ctx, tx, actor.UserID, node.ID)
			if err != nil {
				return err
			}
			if !held[model.PrivNodeAdministration] && !held[model.PrivAllowPrivilegedRoleAssignment] {
				return apierror.AccessDenied("assigning privileged role %q requires node administration", role.Name)
			}
		}
		if _, err := s.store.Users.GetUser(ctx, tx, req.UserID); err != nil {
			return lookup(err, "user %d not found", req.UserID)
		}
		a := &model.UserToRole{UserID: req.UserID, RoleID: role.ID, NodeID: nodeID}
		if err := s.store.Users.AssignRole(ctx, tx, a); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserToRoleUpdated, UserID: &actor.UserID, Content: a})
		return nil
	})
}

func (s *userService) RemoveRole(ctx context.Context, actor *Actor, nodeID int64, req dto.UserToRoleRequest) error {
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivUserManagement); err != nil {
			return err
		}
		a := &model.UserToRole{UserID: req.UserID, RoleID: req.RoleID, NodeID: nodeID}
		if err := s.store.Users.RemoveRole(ctx, tx, a); err != nil {
			return lookup(err, "role assignment not found")
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserToRoleUpdated, UserID: &actor.UserID, Content: map[string]any{"removed": a}})
		return nil
	})
}

func (s *userService) visibleRole(ctx context.Context, tx *gorm.DB, nodeID, roleID int64) (*model.UserRole, *model.Node, error) {
	node, err := s.store.Tree.GetNode(ctx, tx, nodeID)
	if err != nil {
		return nil, nil, lookup(err, "node %d not found", nodeID)
	}
	role, err := s.store.Users.GetRole(ctx, tx, roleID)
	if err != nil {
		return nil, nil, lookup(err, "role %d not found", roleID)
	}
	for _, id := range nodeScope(node) {
		if id == role.NodeID {
			return role, node, nil
		}
	}
	return nil, nil, apierror.NotFound("role %d is not visible at node %d", roleID, nodeID)
}

// ─── User tags ───────────────────────────────────────────────────────────────

func (s *userService) CreateUserTag(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserTagRequest) (*model.UserTag, error) {
	var tag *model.UserTag
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, model.ObjectUserTag); err != nil {
			return err
		}
		eventNode, _, err := eventOf(ctx, s.store.Tree, tx, nodeID)
		if err != nil {
			return err
		}
		if _, err := s.store.UserTags.FindUserTagByPin(ctx, tx, eventNode.ID, req.Pin); err == nil {
			return apierror.Conflict("a tag with this pin already exists")
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		tag = &model.UserTag{NodeID: nodeID, Pin: req.Pin, UID: req.UID, SecretID: req.SecretID, Comment: req.Comment, CreatedAt: s.now()}
		if req.Restriction != nil {
			r := model.Restriction(*req.Restriction)
			tag.Restriction = &r
		}
		if err := s.store.UserTags.CreateUserTag(ctx, tx, tag); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditUserTagCreated, UserID: &actor.UserID, Content: tag})
		return nil
	})
	return tag, err
}

func (s *userService) ListUserTags(ctx context.Context, actor *Actor, nodeID int64) ([]model.UserTag, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivNodeAdministration); err != nil {
		return nil, err
	}
	if err := s.auth.CheckObjectVisible(ctx, nil, nodeID, model.ObjectUserTag); err != nil {
		return nil, err
	}
	tags, err := s.store.UserTags.ListUserTags(ctx, nil, nodeID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	return tags, nil
}

func (s *userService) CreateUserTagSecret(ctx context.Context, actor *Actor, nodeID int64, req dto.NewUserTagSecretRequest) (*model.UserTagSecret, error) {
	var secret *model.UserTagSecret
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		secret = &model.UserTagSecret{NodeID: nodeID, Description: req.Description, Key0: req.Key0, Key1: req.Key1}
		return apierror.FromDB(s.store.UserTags.CreateUserTagSecret(ctx, tx, secret))
	})
	return secret, err
}
