// README: Admin handlers: order intake, broadcast, manual assignment, status, live views.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/middleware"
	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

const defaultNearbyRadiusKm = 5.0

// NearbyFinder answers nearby-driver queries from a geo index.
type NearbyFinder interface {
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]location.NearbyDriver, error)
}

type AdminHandler struct {
	orders  *order.Service
	hub     *dispatch.Hub
	tracker *location.Tracker
	nearby  NearbyFinder
}

func NewAdminHandler(orders *order.Service, hub *dispatch.Hub, tracker *location.Tracker, nearby NearbyFinder) *AdminHandler {
	return &AdminHandler{orders: orders, hub: hub, tracker: tracker, nearby: nearby}
}

type createOrderReq struct {
	CustomerID  string      `json:"customerId" binding:"required"`
	Destination types.Point `json:"destination"`
}

func (h *AdminHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	o, err := h.orders.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:  types.ID(req.CustomerID),
		Destination: req.Destination,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewOrder(o))
}

func (h *AdminHandler) Events(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if _, err := h.orders.Get(c.Request.Context(), id); err != nil {
		writeDomainError(c, err)
		return
	}
	events, err := h.orders.Events(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orderId": id, "events": viewEvents(events)})
}

type broadcastReq struct {
	Summary string `json:"summary"`
}

func (h *AdminHandler) Broadcast(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req broadcastReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
			return
		}
	}
	o, err := h.hub.Broadcast(c.Request.Context(), middleware.CallerPrincipal(c), id, req.Summary)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o))
}

type assignReq struct {
	DriverID string `json:"driverId" binding:"required"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Vehicle  string `json:"vehicle"`
}

func (h *AdminHandler) Assign(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "driverId is required")
		return
	}
	o, err := h.hub.AssignManually(c.Request.Context(), middleware.CallerPrincipal(c), id, types.Driver{
		ID:      types.ID(req.DriverID),
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o))
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

// Status serves both admins and drivers; the order service applies the
// per-role rules.
func (h *AdminHandler) Status(c *gin.Context) {
	updateStatus(c, h.hub)
}

func (h *AdminHandler) ActiveTracking(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"tracking": h.tracker.Active()})
}

func (h *AdminHandler) NearbyDrivers(c *gin.Context) {
	if h.nearby == nil {
		writeError(c, http.StatusServiceUnavailable, "unavailable", "driver geo index is not configured")
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	p := types.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !p.Valid() {
		writeError(c, http.StatusBadRequest, "bad_request", "lat and lng are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "radius_km must be positive")
			return
		}
		radius = r
	}
	drivers, err := h.nearby.Nearby(c.Request.Context(), p, radius)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if drivers == nil {
		drivers = []location.NearbyDriver{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}

func (h *AdminHandler) HubStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.hub.Stats())
}

func updateStatus(c *gin.Context, hub *dispatch.Hub) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "status is required")
		return
	}
	o, err := hub.UpdateStatus(c.Request.Context(), middleware.CallerPrincipal(c), id, order.Status(req.Status))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o))
}
