package handler

import (
	"context"
	"net/http"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// TerminalHandler serves the till RPC. Every route except Register runs
// behind middleware.TerminalAuth.
type TerminalHandler struct {
	terminals service.TerminalService
	orders    service.OrderService
	pending   service.PendingOrderService
	registers service.CashRegisterService
	customers service.CustomerService
}

func NewTerminalHandler(
	terminals service.TerminalService,
	orders service.OrderService,
	pending service.PendingOrderService,
	registers service.CashRegisterService,
	customers service.CustomerService,
) *TerminalHandler {
	return &TerminalHandler{terminals: terminals, orders: orders, pending: pending, registers: registers, customers: customers}
}

// terminalRPC binds Req, calls fn with the resolved till and writes the result.
func terminalRPC[Req any, Resp any](fn func(context.Context, *service.Terminal, Req) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if !bindAndValidate(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), middleware.GetTerminal(c), req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, resp)
	}
}

// terminalAction is terminalRPC for calls without a result.
func terminalAction[Req any](fn func(context.Context, *service.Terminal, Req) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if !bindAndValidate(c, &req) {
			return
		}
		if err := fn(c.Request.Context(), middleware.GetTerminal(c), req); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Register godoc
// @Summary Bind a terminal to a till with its registration UUID
// @Tags terminal
// @Accept json
// @Produce json
// @Param body body dto.RegisterTerminalRequest true "Registration UUID"
// @Success 200 {object} dto.RegisterTerminalResponse
// @Failure 401 {object} map[string]any
// @Router /terminal/auth/register-terminal [post]
func (h *TerminalHandler) Register(c *gin.Context) {
	var req dto.RegisterTerminalRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.terminals.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *TerminalHandler) Logout(c *gin.Context) {
	if err := h.terminals.Logout(c.Request.Context(), middleware.GetTerminal(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Config godoc
// @Summary Till configuration: profile flags, buttons, tickets and the active user
// @Tags terminal
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.TerminalConfig
// @Router /terminal/config [get]
func (h *TerminalHandler) Config(c *gin.Context) {
	cfg, err := h.terminals.Config(c.Request.Context(), middleware.GetTerminal(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, cfg)
}

// LoginUser godoc
// @Summary Log a user into the till by scanning their tag
// @Tags terminal
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.TerminalUserLoginRequest true "Tag and role"
// @Success 200 {object} dto.CurrentTerminalUser
// @Router /terminal/user/login [post]
func (h *TerminalHandler) LoginUser(c *gin.Context) {
	terminalRPC(h.terminals.LoginUser)(c)
}

func (h *TerminalHandler) LogoutUser(c *gin.Context) {
	if err := h.terminals.LogoutUser(c.Request.Context(), middleware.GetTerminal(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TerminalHandler) CurrentUser(c *gin.Context) {
	u, err := h.terminals.CurrentUser(c.Request.Context(), middleware.GetTerminal(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, u)
}

// ── Orders ───────────────────────────────────────────────────────────────────

// CheckSale godoc
// @Summary Price a sale without booking it
// @Description Applies vouchers, age restrictions and balance checks. Nothing is persisted.
// @Tags order
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.NewSale true "Sale"
// @Success 200 {object} dto.PendingSale
// @Failure 400 {object} map[string]any
// @Router /terminal/order/check-sale [post]
func (h *TerminalHandler) CheckSale(c *gin.Context) { terminalRPC(h.orders.CheckSale)(c) }

// BookSale godoc
// @Summary Book a sale
// @Description Idempotent on the order UUID: a retried call returns the first result.
// @Tags order
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.NewSale true "Sale"
// @Success 200 {object} dto.CompletedSale
// @Failure 400 {object} map[string]any
// @Router /terminal/order/book-sale [post]
func (h *TerminalHandler) BookSale(c *gin.Context) { terminalRPC(h.orders.BookSale)(c) }

func (h *TerminalHandler) CheckTopUp(c *gin.Context) { terminalRPC(h.orders.CheckTopUp)(c) }

// BookTopUp godoc
// @Summary Book a top-up. Card top-ups with pending=true are stored until the provider confirms them.
// @Tags order
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.NewTopUp true "Top-up"
// @Success 200 {object} dto.CompletedTopUp
// @Router /terminal/order/book-topup [post]
func (h *TerminalHandler) BookTopUp(c *gin.Context) {
	var req dto.NewTopUp
	if !bindAndValidate(c, &req) {
		return
	}
	ctx, term := c.Request.Context(), middleware.GetTerminal(c)
	if req.Pending {
		resp, err := h.orders.CreatePendingTopUp(ctx, term, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusAccepted, resp)
		return
	}
	resp, err := h.orders.BookTopUp(ctx, term, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *TerminalHandler) CheckPayOut(c *gin.Context) { terminalRPC(h.orders.CheckPayOut)(c) }
func (h *TerminalHandler) BookPayOut(c *gin.Context)  { terminalRPC(h.orders.BookPayOut)(c) }

func (h *TerminalHandler) CheckTicketScan(c *gin.Context) { terminalRPC(h.orders.CheckTicketScan)(c) }
func (h *TerminalHandler) CheckTicketSale(c *gin.Context) { terminalRPC(h.orders.CheckTicketSale)(c) }

// BookTicketSale godoc
// @Summary Sell entry tickets and bind the scanned tags to new customer accounts
// @Tags order
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.NewTicketSale true "Ticket sale"
// @Success 200 {object} dto.CompletedTicketSale
// @Router /terminal/order/book-ticket-sale [post]
func (h *TerminalHandler) BookTicketSale(c *gin.Context) {
	var req dto.NewTicketSale
	if !bindAndValidate(c, &req) {
		return
	}
	ctx, term := c.Request.Context(), middleware.GetTerminal(c)
	if req.Pending {
		resp, err := h.orders.CreatePendingTicketSale(ctx, term, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusAccepted, resp)
		return
	}
	resp, err := h.orders.BookTicketSale(ctx, term, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *TerminalHandler) CancelSale(c *gin.Context) {
	var req dto.CancelSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	order, err := h.orders.CancelSale(c.Request.Context(), middleware.GetTerminal(c), req.OrderID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (h *TerminalHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListTerminalOrders(c.Request.Context(), middleware.GetTerminal(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, orders)
}

// CheckPendingTopUp godoc
// @Summary Ask the card provider whether a pending top-up was paid
// @Tags order
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CheckPendingRequest true "Order UUID"
// @Success 200 {object} dto.PendingOrderStatus
// @Failure 503 {object} map[string]any
// @Router /terminal/order/check-pending-topup [post]
func (h *TerminalHandler) CheckPendingTopUp(c *gin.Context) {
	terminalRPC(h.pending.CheckPendingTopUp)(c)
}

func (h *TerminalHandler) CheckPendingTicketSale(c *gin.Context) {
	terminalRPC(h.pending.CheckPendingTicketSale)(c)
}

func (h *TerminalHandler) GrantVouchers(c *gin.Context) {
	terminalRPC(h.customers.GrantVouchers)(c)
}

// ── Cash register ────────────────────────────────────────────────────────────

// StockUp godoc
// @Summary Hand a stocked cash register to a cashier
// @Tags cash-register
// @Accept json
// @Security BearerAuth
// @Param body body dto.StockUpRequest true "Cashier tag, register and stocking"
// @Success 204
// @Router /terminal/cash-register/stock-up [post]
func (h *TerminalHandler) StockUp(c *gin.Context) { terminalAction(h.registers.StockUp)(c) }

func (h *TerminalHandler) TransferRegister(c *gin.Context) {
	terminalAction(h.registers.TransferRegister)(c)
}

func (h *TerminalHandler) ModifyCashierBalance(c *gin.Context) {
	terminalAction(h.registers.ModifyCashierBalance)(c)
}

func (h *TerminalHandler) ModifyTransportBalance(c *gin.Context) {
	terminalAction(h.registers.ModifyTransportBalance)(c)
}
