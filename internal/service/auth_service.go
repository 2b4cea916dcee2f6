package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const bcryptCost = 12

type AuthService interface {
	Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error)
	Logout(ctx context.Context, actor *Actor) error
	ChangePassword(ctx context.Context, actor *Actor, req dto.ChangePasswordRequest) error
	CustomerLogin(ctx context.Context, req dto.CustomerLoginRequest) (*dto.CustomerLoginResponse, error)
	CustomerLogout(ctx context.Context, sessionID int64) error
}

type authService struct {
	store  *repository.Store
	tokens TokenService
	audit  AuditService
	now    Clock
}

func NewAuthService(store *repository.Store, tokens TokenService, audit AuditService) AuthService {
	return &authService{store: store, tokens: tokens, audit: audit, now: time.Now}
}

func hashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.store.Users.FindUserByLogin(ctx, nil, req.Login)
	if err != nil {
		if isNotFound(err) {
			return nil, apierror.Unauthorized("invalid credentials")
		}
		return nil, apierror.FromDB(err)
	}
	if user.PasswordHash == "" {
		return nil, apierror.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apierror.Unauthorized("invalid credentials")
	}

	session := &model.UserSession{UserID: user.ID, CreatedAt: s.now()}
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.store.Users.CreateUserSession(ctx, tx, session); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: user.NodeID, Type: model.AuditUserLoggedIn, UserID: &user.ID, Content: map[string]any{"login": user.Login}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueUserToken(user.ID, session.ID, user.Login)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{AccessToken: token, TokenType: "bearer", User: userResponse(user, nil)}, nil
}

func (s *authService) Logout(ctx context.Context, actor *Actor) error {
	if actor == nil {
		return apierror.Unauthorized("authentication required")
	}
	return apierror.FromDB(s.store.Users.DeleteUserSession(ctx, nil, actor.SessionID))
}

func (s *authService) ChangePassword(ctx context.Context, actor *Actor, req dto.ChangePasswordRequest) error {
	if actor == nil {
		return apierror.Unauthorized("authentication required")
	}
	return runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		user, err := s.store.Users.LockUser(ctx, tx, actor.UserID)
		if err != nil {
			return lookup(err, "user %d not found", actor.UserID)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
			return apierror.AccessDenied("old password is wrong")
		}
		user.PasswordHash, err = hashPassword(req.NewPassword)
		if err != nil {
			return err
		}
		if err := s.store.Users.UpdateUser(ctx, tx, user); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: user.NodeID, Type: model.AuditUserPasswordChanged, UserID: &user.ID, Content: map[string]any{"user_id": user.ID}})
		return nil
	})
}

// CustomerLogin authenticates a customer by the pin printed on the tag.
func (s *authService) CustomerLogin(ctx context.Context, req dto.CustomerLoginRequest) (*dto.CustomerLoginResponse, error) {
	events, err := s.store.Tree.ListEventNodes(ctx, nil)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	var account *model.Account
	for _, ev := range events {
		tag, err := s.store.UserTags.FindUserTagByPin(ctx, nil, ev.ID, req.Pin)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, apierror.FromDB(err)
		}
		acc, err := s.store.Accounts.FindAccountByUserTag(ctx, nil, tag.ID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, apierror.FromDB(err)
		}
		account = acc
		break
	}
	if account == nil {
		return nil, apierror.Unauthorized("invalid tag pin")
	}

	session := &model.CustomerSession{CustomerID: account.ID, CreatedAt: s.now()}
	if err := s.store.Users.CreateCustomerSession(ctx, nil, session); err != nil {
		return nil, apierror.FromDB(err)
	}
	token, err := s.tokens.IssueCustomerToken(account.ID, session.ID)
	if err != nil {
		return nil, err
	}
	return &dto.CustomerLoginResponse{AccessToken: token, TokenType: "bearer", CustomerID: account.ID}, nil
}

func (s *authService) CustomerLogout(ctx context.Context, sessionID int64) error {
	return apierror.FromDB(s.store.Users.DeleteCustomerSession(ctx, nil, sessionID))
}

func userResponse(u *model.User, roleIDs []int64) dto.UserResponse {
	return dto.UserResponse{
		ID:                 u.ID,
		NodeID:             u.NodeID,
		Login:              u.Login,
		DisplayName:        u.DisplayName,
		UserTagID:          u.UserTagID,
		TransportAccountID: u.TransportAccountID,
		CashRegisterID:     u.CashRegisterID,
		RoleIDs:            roleIDs,
	}
}
