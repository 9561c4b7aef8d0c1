// README: Claim arbiter; the only path from Packed to EnRoute for a driver.
package order

import (
	"context"
	"errors"
)

// Claim hands a packed, unassigned order to exactly one driver. The check and
// the write are one conditional store update; a failed write is a failed claim.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.Driver.ID == "" {
		return nil, ErrBadRequest
	}
	d := cmd.Driver
	o, ok, err := s.store.UpdateIfMatches(ctx, cmd.OrderID,
		Predicate{Statuses: []Status{StatusPacked}, DriverUnset: true},
		Patch{Status: StatusEnRoute, Driver: &d},
	)
	if err != nil {
		s.log.Error("claim write failed", "order_id", cmd.OrderID, "driver_id", d.ID, "err", err)
		return nil, err
	}
	if !ok {
		if _, err := s.get(ctx, cmd.OrderID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyClaimed
	}

	if s.tracking != nil {
		s.tracking.Start(o.ID, o.Destination, d)
	}
	s.afterTransition(ctx, o, StatusPacked, actorRef{kind: ActorDriver, id: d.ID})
	return o, nil
}
