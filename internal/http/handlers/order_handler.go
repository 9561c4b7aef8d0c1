// README: Order handlers shared by customers and admins: read, tracking snapshot, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/middleware"
	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

type OrderHandler struct {
	orders  *order.Service
	hub     *dispatch.Hub
	tracker *location.Tracker
}

func NewOrderHandler(orders *order.Service, hub *dispatch.Hub, tracker *location.Tracker) *OrderHandler {
	return &OrderHandler{orders: orders, hub: hub, tracker: tracker}
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o))
}

func (h *OrderHandler) Tracking(c *gin.Context) {
	o, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	rec, err := h.tracker.Read(o.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.hub.Cancel(c.Request.Context(), middleware.CallerPrincipal(c), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o))
}

// visibleOrder loads the order if the caller may see it: admins always,
// customers their own orders, drivers the orders assigned to them.
func (h *OrderHandler) visibleOrder(c *gin.Context) (*order.Order, bool) {
	id, ok := orderID(c)
	if !ok {
		return nil, false
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return nil, false
	}
	p := middleware.CallerPrincipal(c)
	switch p.Role {
	case types.RoleAdmin:
		return o, true
	case types.RoleCustomer:
		if o.CustomerID == p.ID {
			return o, true
		}
	case types.RoleDriver:
		if o.Driver != nil && o.Driver.ID == p.ID {
			return o, true
		}
	}
	writeError(c, http.StatusForbidden, "unauthorized", "not authorized")
	return nil, false
}
