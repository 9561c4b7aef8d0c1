// README: Wire events exchanged with admin, driver and customer connections.
package dispatch

import (
	"encoding/json"
	"time"

	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

// Inbound event types.
const (
	EventSubscribe      = "subscribe"
	EventUnsubscribe    = "unsubscribe"
	EventWatchAll       = "watchAll"
	EventRegisterDriver = "registerDriver"
	EventLocationUpdate = "locationUpdate"
	EventStatusUpdate   = "statusUpdate"
	EventOrderBroadcast = "orderBroadcast"
	EventClaimOrder     = "claimOrder"
)

// Outbound event types.
const (
	EventSubscribed           = "subscribed"
	EventUnsubscribed         = "unsubscribed"
	EventRegistered           = "registered"
	EventDriverLocationUpdate = "driverLocationUpdate"
	EventDeliveryStatusUpdate = "deliveryStatusUpdate"
	EventOrderAvailable       = "orderAvailable"
	EventOrderTaken           = "orderTaken"
	EventClaimResult          = "claimResult"
	EventError                = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type SubscribeRequest struct {
	OrderID string `json:"orderId"`
}

type RegisterDriverRequest struct {
	DriverID string `json:"driverId"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Vehicle  string `json:"vehicle,omitempty"`
}

type LocationUpdateRequest struct {
	DriverID string  `json:"driverId"`
	OrderID  string  `json:"orderId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Speed    float64 `json:"speed"`
	Heading  float64 `json:"heading"`
}

type StatusUpdateRequest struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	DriverID string `json:"driverId,omitempty"`
}

type OrderBroadcastRequest struct {
	OrderID string `json:"orderId"`
	Summary string `json:"summary,omitempty"`
}

type ClaimOrderRequest struct {
	OrderID string `json:"orderId"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

type SubscribedPayload struct {
	OrderID  string           `json:"orderId,omitempty"`
	All      bool             `json:"all,omitempty"`
	Tracking *location.Record `json:"tracking,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type RegisteredPayload struct {
	DriverID  string `json:"driverId"`
	SessionID string `json:"sessionId"`
}

type DriverLocationPayload struct {
	OrderID     string      `json:"orderId"`
	DriverID    string      `json:"driverId"`
	Location    types.Point `json:"location"`
	Speed       float64     `json:"speed"`
	Heading     float64     `json:"heading"`
	ETA         int         `json:"eta"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

type DeliveryStatusPayload struct {
	OrderID            string        `json:"orderId"`
	Status             order.Status  `json:"status"`
	Cancellable        bool          `json:"cancellable"`
	Driver             *types.Driver `json:"driver,omitempty"`
	ActualDeliveryTime *time.Time    `json:"actualDeliveryTime,omitempty"`
}

type OrderAvailablePayload struct {
	OrderID     string      `json:"orderId"`
	Summary     string      `json:"summary,omitempty"`
	Destination types.Point `json:"destination"`
}

type OrderTakenPayload struct {
	OrderID string `json:"orderId"`
}

type ClaimResultPayload struct {
	OrderID string        `json:"orderId"`
	Status  order.Status  `json:"status"`
	Driver  *types.Driver `json:"driver,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}

func statusPayload(o *order.Order) DeliveryStatusPayload {
	return DeliveryStatusPayload{
		OrderID:            string(o.ID),
		Status:             o.Status,
		Cancellable:        o.Cancellable,
		Driver:             o.Driver,
		ActualDeliveryTime: o.DeliveredAt,
	}
}

func locationPayload(rec location.Record) DriverLocationPayload {
	return DriverLocationPayload{
		OrderID:     string(rec.OrderID),
		DriverID:    string(rec.Driver.ID),
		Location:    rec.CurrentLocation,
		Speed:       rec.SpeedKmh,
		Heading:     rec.HeadingDegrees,
		ETA:         rec.ETAMinutes,
		LastUpdated: rec.LastUpdated,
	}
}
