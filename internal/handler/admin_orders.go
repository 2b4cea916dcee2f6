package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/service"
	"github.com/stustapay/stustapay-sub000/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type OrdersHandler struct{ svc service.OrderService }

func NewOrdersHandler(svc service.OrderService) *OrdersHandler { return &OrdersHandler{svc: svc} }

// List godoc
// @Summary List orders below a node
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Param customer_account_id query int false "Customer account"
// @Param till_id query int false "Till"
// @Param page query int false "Page (1-based)"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]any
// @Router /admin/nodes/{node_id}/orders [get]
func (h *OrdersHandler) List(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	var filter dto.OrderFilter
	if !bindQuery(c, &filter) {
		return
	}
	orders, total, err := h.svc.ListOrders(c.Request.Context(), middleware.GetActor(c), nodeID, filter)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"items": orders, "total": total, "page": filter.Page, "limit": filter.Limit})
}

// Bon godoc
// @Summary Download the receipt of an order as PDF
// @Tags orders
// @Produce application/pdf
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Param id path int true "Order"
// @Success 200 {file} binary
// @Router /admin/nodes/{node_id}/orders/{id}/bon [get]
func (h *OrdersHandler) Bon(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	pdf, err := h.svc.Bon(c.Request.Context(), middleware.GetActor(c), nodeID, orderID)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="bon_%d.pdf"`, orderID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// MailQueue wakes the mail worker.
type MailQueue interface {
	EnqueueMailFlush(ctx context.Context) error
}

type PayoutsHandler struct {
	svc   service.PayoutService
	mails MailQueue
}

// NewPayoutsHandler takes an optional queue poked after a run is set done so
// the payout notifications go out before the next mail tick.
func NewPayoutsHandler(svc service.PayoutService, mails MailQueue) *PayoutsHandler {
	return &PayoutsHandler{svc: svc, mails: mails}
}

// SetDone godoc
// @Summary Book the refunds and donations of a payout run
// @Tags payouts
// @Produce json
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Param id path int true "Payout run"
// @Success 200 {object} dto.PayoutRunResponse
// @Failure 409 {object} map[string]any
// @Router /admin/nodes/{node_id}/payout-runs/{id}/set-done [post]
func (h *PayoutsHandler) SetDone(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	runID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	run, err := h.svc.SetDone(ctx, middleware.GetActor(c), nodeID, runID)
	if err != nil {
		fail(c, err)
		return
	}
	if h.mails != nil {
		if err := h.mails.EnqueueMailFlush(ctx); err != nil {
			log.Warn().Err(err).Int64("payout_run_id", runID).Msg("payouts: could not enqueue mail flush")
		}
	}
	respond(c, http.StatusOK, run)
}

// SepaXML godoc
// @Summary Render the SEPA credit transfer file of a payout run
// @Description pain.001.001.03, one CdtTrfTxInf per payout. The execution date must not be in the past.
// @Tags payouts
// @Accept json
// @Produce application/xml
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Param id path int true "Payout run"
// @Param body body dto.SepaXMLRequest true "Execution date"
// @Success 200 {file} binary
// @Router /admin/nodes/{node_id}/payout-runs/{id}/sepa.xml [post]
func (h *PayoutsHandler) SepaXML(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	runID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.SepaXMLRequest
	if !bindAndValidate(c, &req) {
		return
	}
	doc, err := h.svc.SepaXML(c.Request.Context(), middleware.GetActor(c), nodeID, runID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="payout_run_%d.xml"`, runID))
	c.Data(http.StatusOK, "application/xml", doc)
}

// CSV godoc
// @Summary Download the payouts of a run as CSV
// @Tags payouts
// @Produce text/csv
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Param id path int true "Payout run"
// @Success 200 {file} binary
// @Router /admin/nodes/{node_id}/payout-runs/{id}/payouts.csv [get]
func (h *PayoutsHandler) CSV(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	runID, ok := idParam(c, "id")
	if !ok {
		return
	}
	data, err := h.svc.CSV(c.Request.Context(), middleware.GetActor(c), nodeID, runID)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="payout_run_%d.csv"`, runID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

type AuditHandler struct{ svc service.AuditService }

func NewAuditHandler(svc service.AuditService) *AuditHandler { return &AuditHandler{svc: svc} }

func (h *AuditHandler) List(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	var filter dto.AuditFilter
	if !bindQuery(c, &filter) {
		return
	}
	logs, err := h.svc.List(c.Request.Context(), middleware.GetActor(c), nodeID, filter)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, logs)
}

// PresaleHandler exposes the imported presale tickets and the sync trigger
// called by the presale shop's webhook relay.
type PresaleHandler struct {
	svc   service.PresaleService
	queue service.SyncQueue
}

// NewPresaleHandler takes the queue background syncs go to. A nil queue
// makes Sync run inline.
func NewPresaleHandler(svc service.PresaleService, queue service.SyncQueue) *PresaleHandler {
	return &PresaleHandler{svc: svc, queue: queue}
}

// Sync godoc
// @Summary Import new presale tickets of the event owning the node
// @Tags presale
// @Produce json
// @Security BearerAuth
// @Param node_id path int true "Node"
// @Success 202 {object} map[string]any
// @Router /admin/nodes/{node_id}/presale/sync [post]
func (h *PresaleHandler) Sync(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	created, err := h.svc.RequestSync(c.Request.Context(), middleware.GetActor(c), nodeID, h.queue)
	if err != nil {
		fail(c, err)
		return
	}
	if h.queue != nil {
		respond(c, http.StatusAccepted, gin.H{"queued": true})
		return
	}
	respond(c, http.StatusOK, gin.H{"queued": false, "created": created})
}

// DLQHandler lists dead-lettered jobs and mails. Root administrators only.
type DLQHandler struct {
	rdb  *redis.Client
	auth *service.Authorizer
}

func NewDLQHandler(rdb *redis.Client, auth *service.Authorizer) *DLQHandler {
	return &DLQHandler{rdb: rdb, auth: auth}
}

// List godoc
// @Summary Inspect a dead-letter queue
// @Tags ops
// @Produce json
// @Security BearerAuth
// @Param node_id path int true "Root node"
// @Param queue path string true "jobs:presale or jobs:mail"
// @Param limit query int false "Max entries"
// @Success 200 {array} worker.DeadLetter
// @Router /admin/nodes/{node_id}/dead-letters/{queue} [get]
func (h *DLQHandler) List(c *gin.Context) {
	nodeID, ok := nodeParam(c)
	if !ok {
		return
	}
	if err := h.auth.RequireRoot(c.Request.Context(), middleware.GetActor(c), nodeID); err != nil {
		fail(c, err)
		return
	}
	queue := c.Param("queue")
	if !worker.KnownQueue(queue) {
		fail(c, apierror.InvalidArgument("unknown queue %q", queue))
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	ctx := c.Request.Context()
	entries, err := worker.ListDLQ(ctx, h.rdb, queue, limit)
	if err != nil {
		fail(c, apierror.Internal("dlq: %v", err))
		return
	}
	total, err := worker.DLQLength(ctx, h.rdb, queue)
	if err != nil {
		fail(c, apierror.Internal("dlq: %v", err))
		return
	}
	respond(c, http.StatusOK, gin.H{"entries": entries, "total": total})
}
