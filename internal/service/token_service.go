package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenUser     TokenKind = "user"
	TokenCustomer TokenKind = "customer"
	TokenTerminal TokenKind = "terminal"
)

// TokenClaims carries exactly the fields of one token kind.
type TokenClaims struct {
	Kind        TokenKind `json:"kind"`
	UserID      int64     `json:"user_id,omitempty"`
	Login       string    `json:"login,omitempty"`
	CustomerID  int64     `json:"customer_id,omitempty"`
	SessionID   int64     `json:"session_id,omitempty"`
	TillID      int64     `json:"till_id,omitempty"`
	SessionUUID string    `json:"session_uuid,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the verified caller behind a token.
type Principal struct {
	Kind TokenKind

	Actor *Actor

	CustomerID        int64
	CustomerSessionID int64

	TillID      int64
	SessionUUID uuid.UUID
}

type TokenService interface {
	IssueUserToken(userID, sessionID int64, login string) (string, error)
	IssueCustomerToken(customerID, sessionID int64) (string, error)
	IssueTerminalToken(tillID int64, session uuid.UUID) (string, error)
	// Verify rejects tampered tokens and revoked sessions.
	Verify(ctx context.Context, token string) (*Principal, error)
}

type tokenService struct {
	store  *repository.Store
	secret []byte
	ttl    time.Duration
	now    Clock
}

func NewTokenService(store *repository.Store, secret string, ttl time.Duration) TokenService {
	return &tokenService{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *tokenService) sign(claims TokenClaims, expires bool) (string, error) {
	now := s.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if expires {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) IssueUserToken(userID, sessionID int64, login string) (string, error) {
	return s.sign(TokenClaims{Kind: TokenUser, UserID: userID, SessionID: sessionID, Login: login}, true)
}

func (s *tokenService) IssueCustomerToken(customerID, sessionID int64) (string, error) {
	return s.sign(TokenClaims{Kind: TokenCustomer, CustomerID: customerID, SessionID: sessionID}, true)
}

// IssueTerminalToken tokens live until the terminal is logged out.
func (s *tokenService) IssueTerminalToken(tillID int64, session uuid.UUID) (string, error) {
	return s.sign(TokenClaims{Kind: TokenTerminal, TillID: tillID, SessionUUID: session.String()}, false)
}

func (s *tokenService) Verify(ctx context.Context, raw string) (*Principal, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, apierror.Unauthorized("invalid or expired token")
	}

	switch claims.Kind {
	case TokenUser:
		if claims.UserID == 0 || claims.SessionID == 0 || claims.CustomerID != 0 || claims.TillID != 0 || claims.SessionUUID != "" {
			return nil, apierror.Unauthorized("malformed token")
		}
		ok, err := s.store.Users.UserSessionExists(ctx, nil, claims.SessionID, claims.UserID)
		if err != nil {
			return nil, apierror.FromDB(err)
		}
		if !ok {
			return nil, apierror.Unauthorized("session has been revoked")
		}
		return &Principal{Kind: TokenUser, Actor: &Actor{UserID: claims.UserID, Login: claims.Login, SessionID: claims.SessionID}}, nil

	case TokenCustomer:
		if claims.CustomerID == 0 || claims.SessionID == 0 || claims.UserID != 0 || claims.TillID != 0 || claims.SessionUUID != "" {
			return nil, apierror.Unauthorized("malformed token")
		}
		ok, err := s.store.Users.CustomerSessionExists(ctx, nil, claims.SessionID, claims.CustomerID)
		if err != nil {
			return nil, apierror.FromDB(err)
		}
		if !ok {
			return nil, apierror.Unauthorized("session has been revoked")
		}
		return &Principal{Kind: TokenCustomer, CustomerID: claims.CustomerID, CustomerSessionID: claims.SessionID}, nil

	case TokenTerminal:
		if claims.TillID == 0 || claims.SessionUUID == "" || claims.UserID != 0 || claims.CustomerID != 0 || claims.SessionID != 0 {
			return nil, apierror.Unauthorized("malformed token")
		}
		session, err := uuid.Parse(claims.SessionUUID)
		if err != nil {
			return nil, apierror.Unauthorized("malformed token")
		}
		till, err := s.store.Tills.GetTill(ctx, nil, claims.TillID)
		if err != nil {
			if isNotFound(err) {
				return nil, apierror.Unauthorized("till no longer exists")
			}
			return nil, apierror.FromDB(err)
		}
		if till.SessionUUID == nil || *till.SessionUUID != session {
			return nil, apierror.Unauthorized("terminal has been logged out")
		}
		return &Principal{Kind: TokenTerminal, TillID: claims.TillID, SessionUUID: session}, nil
	}
	return nil, apierror.Unauthorized("unknown token kind")
}
