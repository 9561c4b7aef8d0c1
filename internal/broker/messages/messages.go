// README: Event payloads exchanged with other services over the message bus.
package messages

import "time"

const (
	TopicDeliveryStatus = "delivery.status"
	TopicPaymentUpdated = "payment.updated"
)

// DeliveryStatusChanged is emitted after every successful order transition.
type DeliveryStatusChanged struct {
	OrderID    string    `json:"orderId"`
	CustomerID string    `json:"customerId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	DriverID   string    `json:"driverId,omitempty"`
	ActorType  string    `json:"actorType"`
	Override   bool      `json:"override,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PaymentUpdated is produced by the payment service when a charge settles.
type PaymentUpdated struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}
