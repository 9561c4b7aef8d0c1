// README: Order store contract: lookups plus a single conditional write primitive.
package order

import (
	"context"
	"time"

	"lastmile/internal/types"
)

// Predicate restricts a conditional update. Zero-valued fields do not constrain.
type Predicate struct {
	Statuses    []Status
	Version     *int
	DriverUnset bool
}

// Patch describes the fields a write changes. Cancellable is derived from
// Status by every implementation and version always advances by one.
type Patch struct {
	Status        Status
	Driver        *types.Driver
	ClearDriver   bool
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	PaymentStatus PaymentStatus
}

type Store interface {
	FindByID(ctx context.Context, id types.ID) (*Order, error)
	// UpdateIfMatches applies patch atomically when the stored record satisfies
	// pred. It returns the updated record and true on a match, or false when no
	// record matched.
	UpdateIfMatches(ctx context.Context, id types.ID, pred Predicate, patch Patch) (*Order, bool, error)
	UpdateByID(ctx context.Context, id types.ID, patch Patch) (*Order, error)
	Insert(ctx context.Context, o *Order) error
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, orderID types.ID) ([]Event, error)
}

func versionIs(v int) *int { return &v }

func (p Predicate) matches(o *Order) bool {
	if len(p.Statuses) > 0 {
		found := false
		for _, s := range p.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Version != nil && o.Version != *p.Version {
		return false
	}
	if p.DriverUnset && o.Driver != nil {
		return false
	}
	return true
}

func (p Patch) apply(o *Order, now time.Time) {
	if p.Status != "" {
		o.Status = p.Status
		o.Cancellable = IsCancellable(p.Status)
	}
	if p.ClearDriver {
		o.Driver = nil
	} else if p.Driver != nil {
		d := *p.Driver
		o.Driver = &d
	}
	if p.DeliveredAt != nil {
		t := *p.DeliveredAt
		o.DeliveredAt = &t
	}
	if p.CancelledAt != nil {
		t := *p.CancelledAt
		o.CancelledAt = &t
	}
	if p.PaymentStatus != "" {
		o.PaymentStatus = p.PaymentStatus
	}
	o.Version++
	o.UpdatedAt = now
}
