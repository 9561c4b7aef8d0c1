// README: Order aggregate, delivery status definitions and the transition table.
package order

import (
	"time"

	"lastmile/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusReceived  Status = "received"
	StatusPacked    Status = "packed"
	StatusEnRoute   Status = "en_route"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts only the delivery statuses an order can hold.
func ParseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusReceived, StatusPacked, StatusEnRoute, StatusDelivered, StatusCancelled:
		return s, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func ParsePaymentStatus(v string) (PaymentStatus, bool) {
	switch s := PaymentStatus(v); s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return s, true
	}
	return "", false
}

type Order struct {
	ID            types.ID
	CustomerID    types.ID
	Status        Status
	Cancellable   bool
	Driver        *types.Driver
	Destination   types.Point
	PaymentStatus PaymentStatus
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Override   bool
	CreatedAt  time.Time
}

const (
	ActorAdmin    = "admin"
	ActorDriver   = "driver"
	ActorCustomer = "customer"
	ActorSystem   = "system"
)

// AllowedTransitions represents the delivery state flow as code.
// Received -> EnRoute is reserved for manual assignment; Packed -> Packed is a re-broadcast.
var AllowedTransitions = map[Status][]Status{
	StatusReceived: {StatusPacked, StatusEnRoute, StatusCancelled},
	StatusPacked:   {StatusPacked, StatusEnRoute, StatusCancelled},
	StatusEnRoute:  {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsCancellable is the derived cancellable flag for a status.
func IsCancellable(s Status) bool {
	return s == StatusReceived || s == StatusPacked
}

func (o *Order) assignedTo(driverID types.ID) bool {
	return o.Driver != nil && o.Driver.ID == driverID
}

func (o *Order) clone() *Order {
	c := *o
	if o.Driver != nil {
		d := *o.Driver
		c.Driver = &d
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
