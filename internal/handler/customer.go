package handler

import (
	"net/http"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// CustomerHandler serves the customer portal behind a customer token.
type CustomerHandler struct {
	customers service.CustomerService
	orders    service.OrderService
	pending   service.PendingOrderService
}

func NewCustomerHandler(customers service.CustomerService, orders service.OrderService, pending service.PendingOrderService) *CustomerHandler {
	return &CustomerHandler{customers: customers, orders: orders, pending: pending}
}

func customerID(c *gin.Context) int64 {
	return middleware.GetPrincipal(c).CustomerID
}

// Get godoc
// @Summary Balance, vouchers and bank data of the logged in customer
// @Tags customer
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.CustomerResponse
// @Router /customer-portal/customer [get]
func (h *CustomerHandler) Get(c *gin.Context) {
	resp, err := h.customers.Get(c.Request.Context(), customerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *CustomerHandler) Orders(c *gin.Context) {
	var filter dto.OrderFilter
	if !bindQuery(c, &filter) {
		return
	}
	orders, total, err := h.orders.ListCustomerOrders(c.Request.Context(), customerID(c), filter)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"items": orders, "total": total, "page": filter.Page, "limit": filter.Limit})
}

// UpdateBankData godoc
// @Summary Store IBAN, account holder, email and donation for the refund
// @Tags customer
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CustomerBankRequest true "Bank data"
// @Success 200 {object} dto.CustomerResponse
// @Failure 400 {object} map[string]any
// @Router /customer-portal/customer-info [post]
func (h *CustomerHandler) UpdateBankData(c *gin.Context) {
	var req dto.CustomerBankRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.customers.UpdateBankData(c.Request.Context(), customerID(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *CustomerHandler) DonateAll(c *gin.Context) {
	resp, err := h.customers.DonateAll(c.Request.Context(), customerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (h *CustomerHandler) PayoutInfo(c *gin.Context) {
	resp, err := h.customers.PayoutInfo(c.Request.Context(), customerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

// CreateCheckout godoc
// @Summary Start an online top-up with the card provider
// @Tags customer
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CreateCheckoutRequest true "Amount"
// @Success 201 {object} dto.SumUpCheckoutResponse
// @Failure 503 {object} map[string]any
// @Router /customer-portal/sumup/create-checkout [post]
func (h *CustomerHandler) CreateCheckout(c *gin.Context) {
	var req dto.CreateCheckoutRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.customers.CreateCheckout(c.Request.Context(), customerID(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, resp)
}

func (h *CustomerHandler) CheckCheckout(c *gin.Context) {
	var req dto.CheckPendingRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.pending.CheckCheckout(c.Request.Context(), customerID(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}
