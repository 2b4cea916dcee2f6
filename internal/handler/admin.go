package handler

import (
	"context"
	"net/http"

	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// Admin routes are scoped to /admin/nodes/:node_id/... and the services
// authorize the caller at that node. The helpers below adapt the uniform
// service signatures to gin handlers.

// NodeCreate binds Req and calls fn(actor, node_id, req).
func NodeCreate[Req any, Resp any](fn func(context.Context, *service.Actor, int64, Req) (Resp, error)) gin.HandlerFunc {
	return nodeBody(fn, http.StatusCreated)
}

// NodeRPC is NodeCreate answering 200 instead of 201.
func NodeRPC[Req any, Resp any](fn func(context.Context, *service.Actor, int64, Req) (Resp, error)) gin.HandlerFunc {
	return nodeBody(fn, http.StatusOK)
}

func nodeBody[Req any, Resp any](fn func(context.Context, *service.Actor, int64, Req) (Resp, error), status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		var req Req
		if !bindAndValidate(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), middleware.GetActor(c), nodeID, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, status, resp)
	}
}

// NodeUpdate binds Req and calls fn(actor, node_id, :id, req).
func NodeUpdate[Req any, Resp any](fn func(context.Context, *service.Actor, int64, int64, Req) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req Req
		if !bindAndValidate(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), middleware.GetActor(c), nodeID, id, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, resp)
	}
}

// NodeAction binds Req and calls fn(actor, node_id, req) without a result.
func NodeAction[Req any](fn func(context.Context, *service.Actor, int64, Req) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		var req Req
		if !bindAndValidate(c, &req) {
			return
		}
		if err := fn(c.Request.Context(), middleware.GetActor(c), nodeID, req); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// NodeList calls fn(actor, node_id).
func NodeList[Resp any](fn func(context.Context, *service.Actor, int64) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		resp, err := fn(c.Request.Context(), middleware.GetActor(c), nodeID)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, resp)
	}
}

// NodeGet calls fn(actor, node_id, :id). It also serves state transitions
// such as set-done or cancel that return the updated object.
func NodeGet[Resp any](fn func(context.Context, *service.Actor, int64, int64) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		resp, err := fn(c.Request.Context(), middleware.GetActor(c), nodeID, id)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, resp)
	}
}

// NodeDelete calls fn(actor, node_id, :id) and answers 204.
func NodeDelete(fn func(context.Context, *service.Actor, int64, int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, ok := nodeParam(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := fn(c.Request.Context(), middleware.GetActor(c), nodeID, id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type TreeHandler struct{ svc service.TreeService }

func NewTreeHandler(svc service.TreeService) *TreeHandler { return &TreeHandler{svc: svc} }

// GetTree godoc
// @Summary Node subtrees the caller holds a role in
// @Tags tree
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.NodeResponse
// @Router /admin/tree [get]
func (h *TreeHandler) GetTree(c *gin.Context) {
	tree, err := h.svc.GetTreeForUser(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, tree)
}
