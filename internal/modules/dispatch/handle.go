// README: Inbound event dispatch for a session; one switch over every event type.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

// Handle decodes one inbound frame and applies it on behalf of s. Failures are
// reported to s only, as an error event.
func (h *Hub) Handle(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reject(s, ErrBadPayload, "")
		return
	}
	if orderID, err := h.dispatch(ctx, s, env); err != nil {
		h.reject(s, err, orderID)
	}
}

func (h *Hub) dispatch(ctx context.Context, s *Session, env Envelope) (string, error) {
	switch env.Type {
	case EventSubscribe:
		var req SubscribeRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		return req.OrderID, h.Subscribe(ctx, s, types.ID(req.OrderID))

	case EventUnsubscribe:
		h.Unsubscribe(s)
		return "", nil

	case EventWatchAll:
		return "", h.WatchAll(s)

	case EventRegisterDriver:
		var req RegisterDriverRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		return "", h.RegisterDriver(s, types.Driver{
			ID:      types.ID(req.DriverID),
			Name:    req.Name,
			Phone:   req.Phone,
			Vehicle: req.Vehicle,
		})

	case EventLocationUpdate:
		var req LocationUpdateRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		d, ok := h.registeredDriver(s)
		if !ok {
			return req.OrderID, ErrNotRegistered
		}
		if req.DriverID != "" && types.ID(req.DriverID) != d.ID {
			return req.OrderID, ErrUnauthorized
		}
		_, err := h.ReportLocation(ctx, d.ID, location.Report{
			OrderID:        types.ID(req.OrderID),
			Position:       types.Point{Lat: req.Lat, Lng: req.Lng},
			SpeedKmh:       req.Speed,
			HeadingDegrees: req.Heading,
		})
		return req.OrderID, err

	case EventStatusUpdate:
		var req StatusUpdateRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		if s.Role() == types.RoleDriver {
			d, ok := h.registeredDriver(s)
			if !ok {
				return req.OrderID, ErrNotRegistered
			}
			if req.DriverID != "" && types.ID(req.DriverID) != d.ID {
				return req.OrderID, ErrUnauthorized
			}
		}
		_, err := h.UpdateStatus(ctx, s.Principal, types.ID(req.OrderID), order.Status(req.Status))
		return req.OrderID, err

	case EventOrderBroadcast:
		var req OrderBroadcastRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		_, err := h.Broadcast(ctx, s.Principal, types.ID(req.OrderID), req.Summary)
		return req.OrderID, err

	case EventClaimOrder:
		var req ClaimOrderRequest
		if err := decode(env.Data, &req); err != nil {
			return "", err
		}
		d, ok := h.registeredDriver(s)
		if !ok {
			return req.OrderID, ErrNotRegistered
		}
		if req.Phone != "" {
			d.Phone = req.Phone
		}
		if req.Vehicle != "" {
			d.Vehicle = req.Vehicle
		}
		_, err := h.Claim(ctx, s.Principal, types.ID(req.OrderID), d)
		return req.OrderID, err

	default:
		return "", ErrUnknownEvent
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrBadPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrBadPayload
	}
	return nil
}

func (h *Hub) reject(s *Session, err error, orderID string) {
	code, msg := ErrorCode(err)
	if code == "internal" {
		h.log.Error("event failed", "session_id", s.ID, "order_id", orderID, "err", err)
	}
	h.deliver([]*Session{s}, Message{Type: EventError, Data: ErrorPayload{Code: code, Message: msg, OrderID: orderID}})
}

// ErrorCode maps a failure to a stable code and a user-facing message.
func ErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, order.ErrAlreadyClaimed):
		return "already_claimed", "order already taken"
	case errors.Is(err, order.ErrInvalidTransition):
		return "invalid_transition", "invalid state"
	case errors.Is(err, order.ErrNotCancellable):
		return "not_cancellable", "order cannot be cancelled"
	case errors.Is(err, location.ErrNotTracking), errors.Is(err, location.ErrUnknownOrder):
		return "not_tracking", "tracking not available yet"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, order.ErrForbidden):
		return "unauthorized", "not authorized"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered", err.Error()
	case errors.Is(err, order.ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, order.ErrConflict):
		return "conflict", err.Error()
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event", err.Error()
	case errors.Is(err, ErrBadPayload), errors.Is(err, order.ErrBadRequest), errors.Is(err, location.ErrInvalidPosition):
		return "bad_request", err.Error()
	default:
		return "internal", "internal error"
	}
}
