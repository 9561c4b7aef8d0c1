// README: Dispatch hub; session registries, per-order fan-out and the operations that feed it.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

const defaultOutboxSize = 64

var (
	ErrUnauthorized  = errors.New("not authorized")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrBadPayload    = errors.New("malformed event payload")
	ErrNotRegistered = errors.New("driver not registered")
)

// OrderService is the state machine the hub drives.
type OrderService interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Broadcast(ctx context.Context, cmd order.BroadcastCommand) (*order.Order, error)
	Claim(ctx context.Context, cmd order.ClaimCommand) (*order.Order, error)
	Advance(ctx context.Context, cmd order.AdvanceCommand) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	AssignManually(ctx context.Context, cmd order.AssignCommand) (*order.Order, error)
}

type Tracker interface {
	Update(r location.Report) (location.Record, error)
	Read(orderID types.ID) (location.Record, error)
}

// DriverIndex mirrors live driver positions for nearby lookups.
type DriverIndex interface {
	Put(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
}

type Options struct {
	OutboxSize int
}

type Hub struct {
	orders  OrderService
	tracker Tracker
	indexes []DriverIndex
	log     *slog.Logger
	opts    Options

	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[types.ID]map[string]*Session
	drivers     map[types.ID]*Session
	admins      map[string]*Session
	watchers    map[string]*Session

	// orderLocks serialize state changes and fan-out per order so every
	// subscriber observes one order's events in the order they were applied.
	// Entries live only while some caller holds or waits on them.
	locksMu    sync.Mutex
	orderLocks map[types.ID]*orderLock

	dropped atomic.Uint64
}

func NewHub(orders OrderService, tracker Tracker, log *slog.Logger, opts Options) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	return &Hub{
		orders:      orders,
		tracker:     tracker,
		log:         log,
		opts:        opts,
		sessions:    make(map[string]*Session),
		subscribers: make(map[types.ID]map[string]*Session),
		drivers:     make(map[types.ID]*Session),
		admins:      make(map[string]*Session),
		watchers:    make(map[string]*Session),
		orderLocks:  make(map[types.ID]*orderLock),
	}
}

func (h *Hub) WithDriverIndex(idx ...DriverIndex) *Hub {
	h.indexes = append(h.indexes, idx...)
	return h
}

// Connect registers a new session for a verified principal.
func (h *Hub) Connect(p types.Principal) *Session {
	s := newSession(p, h.opts.OutboxSize)

	h.mu.Lock()
	h.sessions[s.ID] = s
	if p.Role == types.RoleAdmin {
		h.admins[s.ID] = s
	}
	h.mu.Unlock()

	h.log.Debug("session connected", "session_id", s.ID, "role", p.Role, "principal_id", p.ID)
	return s
}

// Disconnect removes the session from every registry and closes its outbox.
func (h *Hub) Disconnect(ctx context.Context, s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	h.removeSubscriptionLocked(s)
	delete(h.admins, s.ID)
	delete(h.watchers, s.ID)
	var releasedDriver types.ID
	if s.driver != nil && h.drivers[s.driver.ID] == s {
		releasedDriver = s.driver.ID
		delete(h.drivers, s.driver.ID)
	}
	h.mu.Unlock()

	s.close()
	if releasedDriver != "" {
		for _, idx := range h.indexes {
			if err := idx.Remove(ctx, releasedDriver); err != nil {
				h.log.Warn("remove driver from geo index", "driver_id", releasedDriver, "err", err)
			}
		}
	}
	h.log.Debug("session disconnected", "session_id", s.ID)
}

// Subscribe attaches the session to one order, replacing any earlier
// subscription. Customers may only follow their own orders.
func (h *Hub) Subscribe(ctx context.Context, s *Session, orderID types.ID) error {
	if orderID == "" {
		return order.ErrBadRequest
	}
	switch s.Role() {
	case types.RoleAdmin:
	case types.RoleCustomer:
		o, err := h.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.CustomerID != s.Principal.ID {
			return ErrUnauthorized
		}
	default:
		return ErrUnauthorized
	}

	unlock := h.lockOrder(orderID)
	defer unlock()

	h.mu.Lock()
	h.removeSubscriptionLocked(s)
	set, ok := h.subscribers[orderID]
	if !ok {
		set = make(map[string]*Session)
		h.subscribers[orderID] = set
	}
	set[s.ID] = s
	s.subscribedOrder = orderID
	h.mu.Unlock()

	ack := SubscribedPayload{OrderID: string(orderID)}
	if rec, err := h.tracker.Read(orderID); err == nil {
		ack.Tracking = &rec
	} else {
		ack.Message = location.ErrNotTracking.Error()
	}
	h.deliver([]*Session{s}, Message{Type: EventSubscribed, Data: ack})
	return nil
}

func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	orderID := s.subscribedOrder
	h.removeSubscriptionLocked(s)
	h.mu.Unlock()

	h.deliver([]*Session{s}, Message{Type: EventUnsubscribed, Data: SubscribedPayload{OrderID: string(orderID)}})
}

// WatchAll makes an admin session receive location updates for every order.
func (h *Hub) WatchAll(s *Session) error {
	if s.Role() != types.RoleAdmin {
		return ErrUnauthorized
	}
	h.mu.Lock()
	s.watchAll = true
	h.watchers[s.ID] = s
	h.mu.Unlock()

	h.deliver([]*Session{s}, Message{Type: EventSubscribed, Data: SubscribedPayload{All: true}})
	return nil
}

// RegisterDriver tags a driver session so it receives broadcasts and may
// claim orders. A driver can only register under its own identity.
func (h *Hub) RegisterDriver(s *Session, d types.Driver) error {
	if s.Role() != types.RoleDriver {
		return ErrUnauthorized
	}
	if d.ID == "" {
		d.ID = s.Principal.ID
	}
	if d.ID != s.Principal.ID {
		return ErrUnauthorized
	}

	h.mu.Lock()
	if s.driver != nil && s.driver.ID != d.ID && h.drivers[s.driver.ID] == s {
		delete(h.drivers, s.driver.ID)
	}
	reg := d
	s.driver = &reg
	h.drivers[d.ID] = s
	h.mu.Unlock()

	h.deliver([]*Session{s}, Message{Type: EventRegistered, Data: RegisteredPayload{DriverID: string(d.ID), SessionID: s.ID}})
	return nil
}

// ReportLocation applies a position report from the driver assigned to the
// order and fans it out to the order's subscribers and watching admins.
func (h *Hub) ReportLocation(ctx context.Context, driverID types.ID, r location.Report) (location.Record, error) {
	if r.OrderID == "" || driverID == "" {
		return location.Record{}, order.ErrBadRequest
	}

	unlock := h.lockOrder(r.OrderID)
	cur, err := h.tracker.Read(r.OrderID)
	if err != nil {
		unlock()
		return location.Record{}, err
	}
	if cur.Driver.ID != driverID {
		unlock()
		return location.Record{}, ErrUnauthorized
	}
	rec, err := h.tracker.Update(r)
	if err != nil {
		unlock()
		return location.Record{}, err
	}
	h.deliver(h.locationRecipients(r.OrderID), Message{Type: EventDriverLocationUpdate, Data: locationPayload(rec)})
	unlock()

	for _, idx := range h.indexes {
		if err := idx.Put(ctx, driverID, r.Position); err != nil {
			h.log.Warn("update driver geo index", "driver_id", driverID, "err", err)
		}
	}
	return rec, nil
}

// Broadcast marks the order packed and offers it to every connected driver.
func (h *Hub) Broadcast(ctx context.Context, actor types.Principal, orderID types.ID, summary string) (*order.Order, error) {
	if actor.Role != types.RoleAdmin {
		return nil, ErrUnauthorized
	}
	unlock := h.lockOrder(orderID)
	defer unlock()

	o, err := h.orders.Broadcast(ctx, order.BroadcastCommand{OrderID: orderID, AdminID: actor.ID})
	if err != nil {
		return nil, err
	}
	h.deliver(h.statusRecipients(o.ID), Message{Type: EventDeliveryStatusUpdate, Data: statusPayload(o)})
	h.deliver(h.driverSessions(""), Message{Type: EventOrderAvailable, Data: OrderAvailablePayload{
		OrderID:     string(o.ID),
		Summary:     summary,
		Destination: o.Destination,
	}})
	return o, nil
}

// Claim runs the claim arbiter for a driver and announces the outcome.
func (h *Hub) Claim(ctx context.Context, actor types.Principal, orderID types.ID, d types.Driver) (*order.Order, error) {
	if actor.Role != types.RoleDriver || d.ID != actor.ID {
		return nil, ErrUnauthorized
	}
	unlock := h.lockOrder(orderID)
	defer unlock()

	o, err := h.orders.Claim(ctx, order.ClaimCommand{OrderID: orderID, Driver: d})
	if err != nil {
		return nil, err
	}
	h.announceAssignment(o)
	return o, nil
}

// AssignManually is the admin override path; fan-out matches a claim.
func (h *Hub) AssignManually(ctx context.Context, actor types.Principal, orderID types.ID, d types.Driver) (*order.Order, error) {
	if actor.Role != types.RoleAdmin {
		return nil, ErrUnauthorized
	}
	unlock := h.lockOrder(orderID)
	defer unlock()

	o, err := h.orders.AssignManually(ctx, order.AssignCommand{OrderID: orderID, Driver: d, AdminID: actor.ID})
	if err != nil {
		return nil, err
	}
	h.announceAssignment(o)
	return o, nil
}

// UpdateStatus applies an admin or driver status change. Cancelled requests
// follow the cancel rules; an admin setting packed re-offers the order.
func (h *Hub) UpdateStatus(ctx context.Context, actor types.Principal, orderID types.ID, status order.Status) (*order.Order, error) {
	if status == order.StatusPacked && actor.Role == types.RoleAdmin {
		return h.Broadcast(ctx, actor, orderID, "")
	}
	unlock := h.lockOrder(orderID)
	defer unlock()

	o, err := h.orders.Advance(ctx, order.AdvanceCommand{OrderID: orderID, Status: status, Actor: actor})
	if err != nil {
		return nil, err
	}
	h.deliver(h.statusRecipients(o.ID), Message{Type: EventDeliveryStatusUpdate, Data: statusPayload(o)})
	return o, nil
}

func (h *Hub) Cancel(ctx context.Context, actor types.Principal, orderID types.ID) (*order.Order, error) {
	unlock := h.lockOrder(orderID)
	defer unlock()

	o, err := h.orders.Cancel(ctx, order.CancelCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		return nil, err
	}
	h.deliver(h.statusRecipients(o.ID), Message{Type: EventDeliveryStatusUpdate, Data: statusPayload(o)})
	return o, nil
}

// Stats is a point-in-time view of the registries.
type Stats struct {
	Sessions      int    `json:"sessions"`
	Drivers       int    `json:"drivers"`
	Admins        int    `json:"admins"`
	Watchers      int    `json:"watchers"`
	Subscriptions int    `json:"subscriptions"`
	Orders        int    `json:"orders"`
	Dropped       uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{
		Sessions: len(h.sessions),
		Drivers:  len(h.drivers),
		Admins:   len(h.admins),
		Watchers: len(h.watchers),
		Orders:   len(h.subscribers),
		Dropped:  h.dropped.Load(),
	}
	for _, set := range h.subscribers {
		st.Subscriptions += len(set)
	}
	return st
}

// registeredDriver returns the registration of a driver session, if any.
func (h *Hub) registeredDriver(s *Session) (types.Driver, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s.driver == nil {
		return types.Driver{}, false
	}
	return *s.driver, true
}

func (h *Hub) announceAssignment(o *order.Order) {
	h.deliver(h.statusRecipients(o.ID), Message{Type: EventDeliveryStatusUpdate, Data: statusPayload(o)})
	if o.Driver == nil {
		return
	}
	if s := h.driverSession(o.Driver.ID); s != nil {
		h.deliver([]*Session{s}, Message{Type: EventClaimResult, Data: ClaimResultPayload{
			OrderID: string(o.ID),
			Status:  o.Status,
			Driver:  o.Driver,
		}})
	}
	h.deliver(h.driverSessions(o.Driver.ID), Message{Type: EventOrderTaken, Data: OrderTakenPayload{OrderID: string(o.ID)}})
}

func (h *Hub) removeSubscriptionLocked(s *Session) {
	if s.subscribedOrder == "" {
		return
	}
	if set, ok := h.subscribers[s.subscribedOrder]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(h.subscribers, s.subscribedOrder)
		}
	}
	s.subscribedOrder = ""
}

// statusRecipients is the order's subscribers plus every admin.
func (h *Hub) statusRecipients(orderID types.ID) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return collect(h.subscribers[orderID], h.admins)
}

// locationRecipients is the order's subscribers plus watching admins.
func (h *Hub) locationRecipients(orderID types.ID) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return collect(h.subscribers[orderID], h.watchers)
}

// driverSessions returns every driver-role session, registered or not,
// except those of one driver.
func (h *Hub) driverSessions(except types.ID) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.drivers))
	for _, s := range h.sessions {
		if s.Role() != types.RoleDriver || s.Principal.ID == except {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *Hub) driverSession(id types.ID) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.drivers[id]
}

func collect(sets ...map[string]*Session) []*Session {
	seen := make(map[string]struct{})
	var out []*Session
	for _, set := range sets {
		for id, s := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// deliver encodes msg once and enqueues it without blocking. Slow or closed
// sessions miss the event.
func (h *Hub) deliver(recipients []*Session, msg Message) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode event", "type", msg.Type, "err", err)
		return
	}
	for _, s := range recipients {
		if !s.enqueue(data) {
			h.dropped.Add(1)
			h.log.Warn("event dropped", "type", msg.Type, "session_id", s.ID)
		}
	}
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// lockOrder blocks only callers working on the same order. The returned
// func releases the lock and drops the entry once nobody references it.
func (h *Hub) lockOrder(orderID types.ID) func() {
	h.locksMu.Lock()
	l, ok := h.orderLocks[orderID]
	if !ok {
		l = &orderLock{}
		h.orderLocks[orderID] = l
	}
	l.refs++
	h.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.orderLocks, orderID)
		}
		h.locksMu.Unlock()
	}
}
