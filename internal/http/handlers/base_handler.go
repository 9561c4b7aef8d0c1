// README: Base handler utilities (JSON helpers, error mapping, response views).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// isValidID accepts the ids the order service generates and keeps
// arbitrary path input out of the store.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func orderID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid order id")
		return "", false
	}
	return types.ID(id), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError uses the same codes and messages the socket sends.
func writeDomainError(c *gin.Context, err error) {
	code, msg := dispatch.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "bad_request", "unknown_event":
		status = http.StatusBadRequest
	case "unauthorized", "not_registered":
		status = http.StatusForbidden
	case "not_found", "not_tracking":
		status = http.StatusNotFound
	case "already_claimed", "invalid_transition", "not_cancellable", "conflict":
		status = http.StatusConflict
	default:
		_ = c.Error(err)
	}
	writeError(c, status, code, msg)
}

type orderView struct {
	ID                 types.ID      `json:"orderId"`
	CustomerID         types.ID      `json:"customerId"`
	Status             order.Status  `json:"status"`
	Cancellable        bool          `json:"cancellable"`
	Driver             *types.Driver `json:"driver,omitempty"`
	Destination        types.Point   `json:"destination"`
	PaymentStatus      string        `json:"paymentStatus"`
	Version            int           `json:"version"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	ActualDeliveryTime *time.Time    `json:"actualDeliveryTime,omitempty"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty"`
}

func viewOrder(o *order.Order) orderView {
	return orderView{
		ID:                 o.ID,
		CustomerID:         o.CustomerID,
		Status:             o.Status,
		Cancellable:        o.Cancellable,
		Driver:             o.Driver,
		Destination:        o.Destination,
		PaymentStatus:      string(o.PaymentStatus),
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ActualDeliveryTime: o.DeliveredAt,
		CancelledAt:        o.CancelledAt,
	}
}

type eventView struct {
	From      order.Status `json:"from"`
	To        order.Status `json:"to"`
	ActorType string       `json:"actorType"`
	ActorID   *types.ID    `json:"actorId,omitempty"`
	Override  bool         `json:"override,omitempty"`
	At        time.Time    `json:"at"`
}

func viewEvents(events []order.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			From:      e.FromStatus,
			To:        e.ToStatus,
			ActorType: e.ActorType,
			ActorID:   e.ActorID,
			Override:  e.Override,
			At:        e.CreatedAt,
		})
	}
	return out
}
