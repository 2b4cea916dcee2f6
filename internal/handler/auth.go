package handler

import (
	"net/http"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc service.AuthService }

func NewAuthHandler(svc service.AuthService) *AuthHandler { return &AuthHandler{svc: svc} }

// Login godoc
// @Summary Admin login
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.LoginRequest true "Credentials"
// @Success 200 {object} dto.LoginResponse
// @Failure 401 {object} map[string]any
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

// Logout revokes the session behind the admin token.
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), middleware.GetActor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangePassword godoc
// @Summary Change own password
// @Tags auth
// @Accept json
// @Security BearerAuth
// @Param body body dto.ChangePasswordRequest true "Old and new password"
// @Success 204
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req dto.ChangePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), middleware.GetActor(c), req); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CustomerLogin godoc
// @Summary Customer portal login with the pin printed on the wristband
// @Tags customer
// @Accept json
// @Produce json
// @Param body body dto.CustomerLoginRequest true "Tag pin"
// @Success 200 {object} dto.CustomerLoginResponse
// @Router /customer-portal/auth/login [post]
func (h *AuthHandler) CustomerLogin(c *gin.Context) {
	var req dto.CustomerLoginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CustomerLogin(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *AuthHandler) CustomerLogout(c *gin.Context) {
	if err := h.svc.CustomerLogout(c.Request.Context(), middleware.GetPrincipal(c).CustomerSessionID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
