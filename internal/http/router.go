// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/handlers"
	"lastmile/internal/http/middleware"
	"lastmile/internal/types"
)

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(s.log), middleware.Recovery(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	auth := middleware.Auth(s.verifier)

	ws := handlers.NewWSHandler(s.hub, s.log, s.writeTimeout)
	r.GET("/ws", auth, ws.Serve)

	api := r.Group("/api", auth)

	orderHandler := handlers.NewOrderHandler(s.orders, s.hub, s.tracker)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/tracking", orderHandler.Tracking)
	api.POST("/orders/:id/cancel", middleware.RequireRole(types.RoleCustomer, types.RoleAdmin), orderHandler.Cancel)

	adminHandler := handlers.NewAdminHandler(s.orders, s.hub, s.tracker, s.nearby)
	admin := api.Group("/admin", middleware.RequireRole(types.RoleAdmin))
	admin.POST("/orders", adminHandler.CreateOrder)
	admin.GET("/orders/:id/events", adminHandler.Events)
	admin.POST("/orders/:id/broadcast", adminHandler.Broadcast)
	admin.POST("/orders/:id/assign", adminHandler.Assign)
	admin.POST("/orders/:id/status", adminHandler.Status)
	admin.GET("/tracking", adminHandler.ActiveTracking)
	admin.GET("/drivers/nearby", adminHandler.NearbyDrivers)
	admin.GET("/hub", adminHandler.HubStats)

	driverHandler := handlers.NewDriverHandler(s.hub)
	drivers := api.Group("/drivers", middleware.RequireRole(types.RoleDriver))
	drivers.POST("/orders/:id/claim", driverHandler.Claim)
	drivers.POST("/orders/:id/status", driverHandler.Status)
	drivers.POST("/orders/:id/location", driverHandler.Location)

	return r
}
