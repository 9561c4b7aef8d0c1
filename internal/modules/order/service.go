// README: Order service implements delivery state transitions on top of the conditional store write.
package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lastmile/internal/broker/messages"
	"lastmile/internal/modules/location"
	"lastmile/internal/notify"
	"lastmile/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state")
	ErrAlreadyClaimed    = errors.New("order already taken")
	ErrNotCancellable    = errors.New("order cannot be cancelled")
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("not authorized")
)

// Tracking is the part of the location tracker the state machine drives.
type Tracking interface {
	Start(orderID types.ID, destination types.Point, driver types.Driver) location.Record
	Stop(orderID types.ID)
}

type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, msg messages.DeliveryStatusChanged) error
}

type Options struct {
	// ReadAttempts bounds retries of store reads. Writes are never retried blindly.
	ReadAttempts uint64
	// CASAttempts bounds re-reads after losing an optimistic version check.
	CASAttempts int
	// SideEffectTimeout caps each publish/notify call.
	SideEffectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadAttempts == 0 {
		o.ReadAttempts = 3
	}
	if o.CASAttempts <= 0 {
		o.CASAttempts = 5
	}
	if o.SideEffectTimeout <= 0 {
		o.SideEffectTimeout = 5 * time.Second
	}
	return o
}

type Service struct {
	store     Store
	tracking  Tracking
	publisher StatusPublisher
	notifier  notify.Notifier
	log       *slog.Logger
	opts      Options

	pending sync.WaitGroup
}

func NewService(store Store, tracking Tracking, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, tracking: tracking, log: log, opts: opts.withDefaults()}
}

func (s *Service) WithPublisher(p StatusPublisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// Wait blocks until in-flight publish and notify calls finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

type CreateCommand struct {
	CustomerID  types.ID
	Destination types.Point
}

type BroadcastCommand struct {
	OrderID types.ID
	AdminID types.ID
}

type ClaimCommand struct {
	OrderID types.ID
	Driver  types.Driver
}

type AdvanceCommand struct {
	OrderID types.ID
	Status  Status
	Actor   types.Principal
}

type CancelCommand struct {
	OrderID types.ID
	Actor   types.Principal
}

type AssignCommand struct {
	OrderID types.ID
	Driver  types.Driver
	AdminID types.ID
}

// Create records a new order handed over by checkout.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || !cmd.Destination.Valid() {
		return nil, ErrBadRequest
	}
	now := time.Now()
	o := &Order{
		ID:            newID(),
		CustomerID:    cmd.CustomerID,
		Status:        StatusReceived,
		Cancellable:   true,
		Destination:   cmd.Destination,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusReceived,
		ActorType:  ActorCustomer,
		ActorID:    &cmd.CustomerID,
		CreatedAt:  now,
	}); err != nil {
		s.log.Warn("append order event", "order_id", o.ID, "err", err)
	}
	return o, nil
}

// Broadcast marks an order packed and ready for drivers. Re-broadcasting a
// packed order is allowed.
func (s *Service) Broadcast(ctx context.Context, cmd BroadcastCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, func(o *Order) (Patch, Predicate, error) {
		if !CanTransition(o.Status, StatusPacked) {
			return Patch{}, Predicate{}, ErrInvalidTransition
		}
		return Patch{Status: StatusPacked, ClearDriver: true}, Predicate{}, nil
	}, actorRef{kind: ActorAdmin, id: cmd.AdminID})
}

// AssignManually is an admin override that attaches a driver without a claim.
// It is still conditional: an order that is already en route or finished is
// left untouched.
func (s *Service) AssignManually(ctx context.Context, cmd AssignCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.Driver.ID == "" {
		return nil, ErrBadRequest
	}
	d := cmd.Driver
	o, err := s.transition(ctx, cmd.OrderID, func(o *Order) (Patch, Predicate, error) {
		if !CanTransition(o.Status, StatusEnRoute) {
			return Patch{}, Predicate{}, ErrInvalidTransition
		}
		return Patch{Status: StatusEnRoute, Driver: &d}, Predicate{DriverUnset: true}, nil
	}, actorRef{kind: ActorAdmin, id: cmd.AdminID, override: true})
	if err != nil {
		return nil, err
	}

	s.log.Warn("manual driver assignment", "order_id", o.ID, "driver_id", d.ID, "admin_id", cmd.AdminID)
	if s.tracking != nil {
		s.tracking.Start(o.ID, o.Destination, d)
	}
	return o, nil
}

// Advance applies a status change requested by an admin or the assigned driver.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	if _, ok := ParseStatus(string(cmd.Status)); !ok {
		return nil, ErrBadRequest
	}
	switch cmd.Actor.Role {
	case types.RoleAdmin:
	case types.RoleDriver:
		if cmd.Status != StatusDelivered {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}

	switch cmd.Status {
	case StatusCancelled:
		return s.Cancel(ctx, CancelCommand{OrderID: cmd.OrderID, Actor: cmd.Actor})
	case StatusEnRoute:
		// drivers are attached by Claim or AssignManually only
		return nil, ErrInvalidTransition
	}

	actor := actorRef{kind: string(cmd.Actor.Role), id: cmd.Actor.ID}
	o, err := s.transition(ctx, cmd.OrderID, func(o *Order) (Patch, Predicate, error) {
		if cmd.Actor.Role == types.RoleDriver && !o.assignedTo(cmd.Actor.ID) {
			return Patch{}, Predicate{}, ErrForbidden
		}
		if !CanTransition(o.Status, cmd.Status) {
			return Patch{}, Predicate{}, ErrInvalidTransition
		}
		p := Patch{Status: cmd.Status}
		if cmd.Status == StatusPacked {
			p.ClearDriver = true
		}
		if cmd.Status == StatusDelivered {
			now := time.Now()
			p.DeliveredAt = &now
		}
		return p, Predicate{}, nil
	}, actor)
	if err != nil {
		return nil, err
	}

	if o.Status == StatusDelivered && s.tracking != nil {
		s.tracking.Stop(o.ID)
	}
	return o, nil
}

// Cancel is allowed only while the order is cancellable. Customers may cancel
// their own orders; drivers never cancel.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if cmd.Actor.Role == types.RoleDriver {
		return nil, ErrForbidden
	}
	o, err := s.transition(ctx, cmd.OrderID, func(o *Order) (Patch, Predicate, error) {
		if cmd.Actor.Role == types.RoleCustomer && o.CustomerID != cmd.Actor.ID {
			return Patch{}, Predicate{}, ErrForbidden
		}
		if !IsCancellable(o.Status) {
			return Patch{}, Predicate{}, ErrNotCancellable
		}
		now := time.Now()
		return Patch{Status: StatusCancelled, CancelledAt: &now}, Predicate{}, nil
	}, actorRef{kind: string(cmd.Actor.Role), id: cmd.Actor.ID})
	if err != nil {
		return nil, err
	}

	if s.tracking != nil {
		s.tracking.Stop(o.ID)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.get(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.ListEvents(ctx, id)
}

// SetPaymentStatus is the payment collaborator hook. It never gates delivery.
func (s *Service) SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) (*Order, error) {
	if _, ok := ParsePaymentStatus(string(status)); !ok || id == "" {
		return nil, ErrBadRequest
	}
	return s.store.UpdateByID(ctx, id, Patch{PaymentStatus: status})
}

type actorRef struct {
	kind     string
	id       types.ID
	override bool
}

type decideFunc func(current *Order) (Patch, Predicate, error)

// transition reads the order, lets decide validate it, then writes with an
// optimistic check on status and version. A lost race re-reads and decides
// again, so the caller always sees the outcome against the latest state.
func (s *Service) transition(ctx context.Context, id types.ID, decide decideFunc, actor actorRef) (*Order, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	for attempt := 0; attempt < s.opts.CASAttempts; attempt++ {
		cur, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		patch, pred, err := decide(cur)
		if err != nil {
			return nil, err
		}
		pred.Statuses = []Status{cur.Status}
		pred.Version = versionIs(cur.Version)

		updated, ok, err := s.store.UpdateIfMatches(ctx, id, pred, patch)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		s.afterTransition(ctx, updated, cur.Status, actor)
		return updated, nil
	}
	return nil, ErrConflict
}

func (s *Service) get(ctx context.Context, id types.ID) (*Order, error) {
	var o *Order
	op := func() error {
		var err error
		o, err = s.store.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.opts.ReadAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) afterTransition(ctx context.Context, o *Order, from Status, actor actorRef) {
	now := time.Now()
	var actorID *types.ID
	if actor.id != "" {
		id := actor.id
		actorID = &id
	}
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   o.Status,
		ActorType:  actor.kind,
		ActorID:    actorID,
		Override:   actor.override,
		CreatedAt:  now,
	}); err != nil {
		s.log.Warn("append order event", "order_id", o.ID, "err", err)
	}

	msg := messages.DeliveryStatusChanged{
		OrderID:    string(o.ID),
		CustomerID: string(o.CustomerID),
		From:       string(from),
		To:         string(o.Status),
		ActorType:  actor.kind,
		Override:   actor.override,
		OccurredAt: now,
	}
	if o.Driver != nil {
		msg.DriverID = string(o.Driver.ID)
	}
	note, notifyCustomer := customerNotification(o)

	if s.publisher == nil && (s.notifier == nil || !notifyCustomer) {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
		defer cancel()

		if s.publisher != nil {
			if err := s.publisher.PublishStatusChanged(bg, msg); err != nil {
				s.log.Warn("publish status change", "order_id", msg.OrderID, "err", err)
			}
		}
		if s.notifier != nil && notifyCustomer {
			if err := s.notifier.Enqueue(bg, note); err != nil {
				s.log.Warn("enqueue notification", "order_id", msg.OrderID, "err", err)
			}
		}
	}()
}

func customerNotification(o *Order) (notify.Notification, bool) {
	n := notify.Notification{UserID: o.CustomerID, OrderID: o.ID}
	switch o.Status {
	case StatusEnRoute:
		n.Kind = notify.KindOrderEnRoute
		n.Message = "Your order is on its way"
		if o.Driver != nil && o.Driver.Name != "" {
			n.Message += " with " + o.Driver.Name
		}
	case StatusDelivered:
		n.Kind = notify.KindOrderDelivered
		n.Message = "Your order has been delivered"
	case StatusCancelled:
		n.Kind = notify.KindOrderCancelled
		n.Message = "Your order has been cancelled"
	default:
		return n, false
	}
	return n, true
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
