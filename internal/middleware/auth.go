package middleware

import (
	"strings"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	PrincipalKey = "principal"
	TerminalKey  = "terminal"
)

func bearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// abort writes the error envelope for err and stops the chain.
func abort(c *gin.Context, err error) {
	status, body := apierror.Envelope(err)
	c.AbortWithStatusJSON(status, body)
}

func verify(c *gin.Context, tokens service.TokenService, kind service.TokenKind) (*service.Principal, bool) {
	raw, ok := bearer(c)
	if !ok {
		abort(c, apierror.Unauthorized("authentication required"))
		return nil, false
	}
	p, err := tokens.Verify(c.Request.Context(), raw)
	if err != nil {
		abort(c, err)
		return nil, false
	}
	if p.Kind != kind {
		abort(c, apierror.Unauthorized("wrong token type"))
		return nil, false
	}
	c.Set(PrincipalKey, p)
	return p, true
}

// JWTAuth validates the Bearer token and requires it to be of the given kind.
// Revoked sessions are rejected by the token service.
func JWTAuth(tokens service.TokenService, kind service.TokenKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := verify(c, tokens, kind); !ok {
			return
		}
		c.Next()
	}
}

// TerminalAuth validates a terminal token and loads the till context.
func TerminalAuth(tokens service.TokenService, terminals service.TerminalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := verify(c, tokens, service.TokenTerminal)
		if !ok {
			return
		}
		term, err := terminals.Resolve(c.Request.Context(), p)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(TerminalKey, term)
		c.Next()
	}
}

// GetPrincipal is a helper to retrieve the verified caller from the Gin context.
func GetPrincipal(c *gin.Context) *service.Principal {
	p, _ := c.MustGet(PrincipalKey).(*service.Principal)
	return p
}

// GetActor returns the admin user behind a user token.
func GetActor(c *gin.Context) *service.Actor {
	return GetPrincipal(c).Actor
}

func GetTerminal(c *gin.Context) *service.Terminal {
	term, _ := c.MustGet(TerminalKey).(*service.Terminal)
	return term
}
