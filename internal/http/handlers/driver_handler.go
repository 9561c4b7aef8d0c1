// README: Driver handlers: claim, delivery confirmation, position reports.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/middleware"
	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/location"
	"lastmile/internal/types"
)

type DriverHandler struct {
	hub *dispatch.Hub
}

func NewDriverHandler(hub *dispatch.Hub) *DriverHandler {
	return &DriverHandler{hub: hub}
}

type claimReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Vehicle string `json:"vehicle"`
}

func (h *DriverHandler) Claim(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req claimReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
			return
		}
	}
	p := middleware.CallerPrincipal(c)
	o, err := h.hub.Claim(c.Request.Context(), p, id, types.Driver{
		ID:      p.ID,
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

func (h *DriverHandler) Status(c *gin.Context) {
	updateStatus(c, h.hub)
}

type locationReq struct {
	Lat     *float64 `json:"lat" binding:"required"`
	Lng     *float64 `json:"lng" binding:"required"`
	Speed   float64  `json:"speed"`
	Heading float64  `json:"heading"`
}

func (h *DriverHandler) Location(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "lat and lng are required")
		return
	}
	rec, err := h.hub.ReportLocation(c.Request.Context(), types.ID(middleware.CallerUID(c)), location.Report{
		OrderID:        id,
		Position:       types.Point{Lat: *req.Lat, Lng: *req.Lng},
		SpeedKmh:       req.Speed,
		HeadingDegrees: req.Heading,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}
