// README: API gateway; holds the module services the HTTP and websocket routes delegate to.
package http

import (
	"log/slog"
	"time"

	"lastmile/internal/http/handlers"
	"lastmile/internal/infra"
	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
)

type ServerDeps struct {
	Orders   *order.Service
	Hub      *dispatch.Hub
	Tracker  *location.Tracker
	Nearby   handlers.NearbyFinder
	Verifier infra.TokenVerifier
	Log      *slog.Logger
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
}

type Server struct {
	orders       *order.Service
	hub          *dispatch.Hub
	tracker      *location.Tracker
	nearby       handlers.NearbyFinder
	verifier     infra.TokenVerifier
	log          *slog.Logger
	writeTimeout time.Duration
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		orders:       deps.Orders,
		hub:          deps.Hub,
		tracker:      deps.Tracker,
		nearby:       deps.Nearby,
		verifier:     deps.Verifier,
		log:          log,
		writeTimeout: deps.WriteTimeout,
	}
}
