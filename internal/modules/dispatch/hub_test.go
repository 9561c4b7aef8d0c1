package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

var (
	adminP    = types.Principal{ID: "admin1", Role: types.RoleAdmin}
	customerP = types.Principal{ID: "cust1", Role: types.RoleCustomer}
	driverAP  = types.Principal{ID: "dA", Role: types.RoleDriver}
	driverBP  = types.Principal{ID: "dB", Role: types.RoleDriver}
)

type fixture struct {
	hub     *Hub
	orders  *order.Service
	tracker *location.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tracker := location.NewTracker()
	svc := order.NewService(order.NewMemoryStore(), tracker, nil, order.Options{})
	return &fixture{
		hub:     NewHub(svc, tracker, nil, Options{OutboxSize: 32}),
		orders:  svc,
		tracker: tracker,
	}
}

func (f *fixture) createOrder(t *testing.T) types.ID {
	t.Helper()
	o, err := f.orders.Create(context.Background(), order.CreateCommand{
		CustomerID:  customerP.ID,
		Destination: types.Point{Lat: 1.00, Lng: 36.00},
	})
	require.NoError(t, err)
	return o.ID
}

func send(t *testing.T, h *Hub, s *Session, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: typ, Data: raw})
	require.NoError(t, err)
	h.Handle(context.Background(), s, frame)
}

// drain returns every message currently queued for s.
func drain(t *testing.T, s *Session) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw, ok := <-s.Outbox():
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []Envelope, typ string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func registerDriver(t *testing.T, h *Hub, p types.Principal, name string) *Session {
	t.Helper()
	s := h.Connect(p)
	send(t, h, s, EventRegisterDriver, RegisterDriverRequest{DriverID: string(p.ID), Name: name})
	msgs := drain(t, s)
	require.Len(t, msgs, 1)
	require.Equal(t, EventRegistered, msgs[0].Type)
	return s
}

func TestCustomerSeesEnRouteThenLocation(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)

	admin := f.hub.Connect(adminP)
	cust := f.hub.Connect(customerP)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")

	send(t, f.hub, cust, EventSubscribe, SubscribeRequest{OrderID: string(orderID)})
	ack := drain(t, cust)
	require.Len(t, ack, 1)
	require.Equal(t, EventSubscribed, ack[0].Type)
	var sub SubscribedPayload
	require.NoError(t, json.Unmarshal(ack[0].Data, &sub))
	require.Nil(t, sub.Tracking)
	require.Equal(t, "tracking not available yet", sub.Message)

	send(t, f.hub, admin, EventOrderBroadcast, OrderBroadcastRequest{OrderID: string(orderID), Summary: "2 items"})
	offers := ofType(drain(t, drvA), EventOrderAvailable)
	require.Len(t, offers, 1)
	drain(t, cust)

	send(t, f.hub, drvA, EventClaimOrder, ClaimOrderRequest{OrderID: string(orderID), Vehicle: "KDA 123A"})
	require.Len(t, ofType(drain(t, drvA), EventClaimResult), 1)

	send(t, f.hub, drvA, EventLocationUpdate, LocationUpdateRequest{
		DriverID: string(driverAP.ID), OrderID: string(orderID), Lat: 1.01, Lng: 36.00, Speed: 0,
	})

	got := drain(t, cust)
	require.Len(t, got, 2)
	require.Equal(t, EventDeliveryStatusUpdate, got[0].Type)
	require.Equal(t, EventDriverLocationUpdate, got[1].Type)

	var status DeliveryStatusPayload
	require.NoError(t, json.Unmarshal(got[0].Data, &status))
	require.Equal(t, order.StatusEnRoute, status.Status)
	require.False(t, status.Cancellable)
	require.Equal(t, driverAP.ID, status.Driver.ID)
	require.Equal(t, "KDA 123A", status.Driver.Vehicle)

	var loc DriverLocationPayload
	require.NoError(t, json.Unmarshal(got[1].Data, &loc))
	require.Equal(t, 3, loc.ETA)
	require.Equal(t, 1.01, loc.Location.Lat)

	// admins see status changes but not locations unless watching everything
	adminMsgs := drain(t, admin)
	require.Len(t, ofType(adminMsgs, EventDeliveryStatusUpdate), 2)
	require.Empty(t, ofType(adminMsgs, EventDriverLocationUpdate))
}

func TestTwoDriverClaimRace(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	admin := f.hub.Connect(adminP)

	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	drvB := registerDriver(t, f.hub, driverBP, "Brian")

	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "")
	require.NoError(t, err)
	drain(t, drvA)
	drain(t, drvB)
	drain(t, admin)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, s := range []*Session{drvA, drvB} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			<-start
			send(t, f.hub, s, EventClaimOrder, ClaimOrderRequest{OrderID: string(orderID)})
		}(s)
	}
	close(start)
	wg.Wait()

	aMsgs, bMsgs := drain(t, drvA), drain(t, drvB)
	wins := len(ofType(aMsgs, EventClaimResult)) + len(ofType(bMsgs, EventClaimResult))
	require.Equal(t, 1, wins)

	loser := aMsgs
	if len(ofType(aMsgs, EventClaimResult)) == 1 {
		loser = bMsgs
	}
	errs := ofType(loser, EventError)
	require.Len(t, errs, 1)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &ep))
	require.Equal(t, "order already taken", ep.Message)
	require.Equal(t, string(orderID), ep.OrderID)

	adminStatus := ofType(drain(t, admin), EventDeliveryStatusUpdate)
	require.Len(t, adminStatus, 1)
}

func TestBroadcastReachesDriversOnly(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)

	admin := f.hub.Connect(adminP)
	cust := f.hub.Connect(customerP)
	unregistered := f.hub.Connect(types.Principal{ID: "dC", Role: types.RoleDriver})
	drvA := registerDriver(t, f.hub, driverAP, "Amina")

	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "groceries")
	require.NoError(t, err)

	require.Len(t, ofType(drain(t, drvA), EventOrderAvailable), 1)
	require.Len(t, ofType(drain(t, unregistered), EventOrderAvailable), 1)
	require.Empty(t, ofType(drain(t, admin), EventOrderAvailable))
	require.Empty(t, drain(t, cust))

	_, err = f.hub.Broadcast(context.Background(), customerP, orderID, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestDisconnectCleansRegistries(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)

	admin := f.hub.Connect(adminP)
	cust := f.hub.Connect(customerP)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")

	require.NoError(t, f.hub.Subscribe(context.Background(), cust, orderID))
	require.NoError(t, f.hub.Subscribe(context.Background(), admin, orderID))
	require.NoError(t, f.hub.WatchAll(admin))

	st := f.hub.Stats()
	require.Equal(t, 3, st.Sessions)
	require.Equal(t, 2, st.Subscriptions)
	require.Equal(t, 1, st.Drivers)

	for _, s := range []*Session{admin, cust, drvA} {
		f.hub.Disconnect(context.Background(), s)
		f.hub.Disconnect(context.Background(), s)
	}

	st = f.hub.Stats()
	require.Zero(t, st.Sessions)
	require.Zero(t, st.Subscriptions)
	require.Zero(t, st.Orders)
	require.Zero(t, st.Drivers)
	require.Zero(t, st.Admins)
	require.Zero(t, st.Watchers)

	_, ok := <-cust.Outbox()
	for ok {
		_, ok = <-cust.Outbox()
	}

	// fan-out to an order whose subscribers are gone must not panic
	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "")
	require.NoError(t, err)
}

func TestSubscribeAuthorization(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)

	stranger := f.hub.Connect(types.Principal{ID: "cust2", Role: types.RoleCustomer})
	send(t, f.hub, stranger, EventSubscribe, SubscribeRequest{OrderID: string(orderID)})
	msgs := drain(t, stranger)
	require.Len(t, msgs, 1)
	require.Equal(t, EventError, msgs[0].Type)

	drv := registerDriver(t, f.hub, driverAP, "Amina")
	require.ErrorIs(t, f.hub.Subscribe(context.Background(), drv, orderID), ErrUnauthorized)
	require.ErrorIs(t, f.hub.WatchAll(drv), ErrUnauthorized)

	cust := f.hub.Connect(customerP)
	require.ErrorIs(t, f.hub.RegisterDriver(cust, types.Driver{ID: "dX"}), ErrUnauthorized)
	require.Zero(t, f.hub.Stats().Subscriptions)
}

func TestSubscribeReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	first, second := f.createOrder(t), f.createOrder(t)
	cust := f.hub.Connect(customerP)

	require.NoError(t, f.hub.Subscribe(context.Background(), cust, first))
	require.NoError(t, f.hub.Subscribe(context.Background(), cust, second))
	st := f.hub.Stats()
	require.Equal(t, 1, st.Subscriptions)
	require.Equal(t, 1, st.Orders)

	f.hub.Unsubscribe(cust)
	require.Zero(t, f.hub.Stats().Subscriptions)
}

func TestSubscribeAckIncludesTracking(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "")
	require.NoError(t, err)
	_, err = f.hub.Claim(context.Background(), driverAP, orderID, types.Driver{ID: driverAP.ID, Name: "Amina"})
	require.NoError(t, err)
	drain(t, drvA)

	admin := f.hub.Connect(adminP)
	require.NoError(t, f.hub.Subscribe(context.Background(), admin, orderID))
	msgs := drain(t, admin)
	require.Len(t, msgs, 1)
	var sub SubscribedPayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &sub))
	require.NotNil(t, sub.Tracking)
	require.Equal(t, location.SeedETAMinutes, sub.Tracking.ETAMinutes)
}

func TestLocationRules(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	drvB := registerDriver(t, f.hub, driverBP, "Brian")

	// no tracking before a claim
	send(t, f.hub, drvA, EventLocationUpdate, LocationUpdateRequest{OrderID: string(orderID), Lat: 1.01, Lng: 36})
	requireError(t, drvA, "tracking not available yet")

	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "")
	require.NoError(t, err)
	_, err = f.hub.Claim(context.Background(), driverAP, orderID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)
	drain(t, drvA)
	drain(t, drvB)

	send(t, f.hub, drvB, EventLocationUpdate, LocationUpdateRequest{OrderID: string(orderID), Lat: 1.01, Lng: 36})
	requireError(t, drvB, "not authorized")

	send(t, f.hub, drvB, EventLocationUpdate, LocationUpdateRequest{DriverID: string(driverAP.ID), OrderID: string(orderID), Lat: 1.01, Lng: 36})
	requireError(t, drvB, "not authorized")

	unregistered := f.hub.Connect(types.Principal{ID: "dA", Role: types.RoleDriver})
	send(t, f.hub, unregistered, EventLocationUpdate, LocationUpdateRequest{OrderID: string(orderID), Lat: 1.01, Lng: 36})
	requireError(t, unregistered, ErrNotRegistered.Error())
}

func TestWatchAllReceivesEveryLocation(t *testing.T) {
	f := newFixture(t)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	admin := f.hub.Connect(adminP)
	require.NoError(t, f.hub.WatchAll(admin))
	drain(t, admin)

	var ids []types.ID
	for i := 0; i < 3; i++ {
		id := f.createOrder(t)
		_, err := f.hub.AssignManually(context.Background(), adminP, id, types.Driver{ID: driverAP.ID, Name: "Amina"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	drain(t, drvA)
	drain(t, admin)

	for i, id := range ids {
		_, err := f.hub.ReportLocation(context.Background(), driverAP.ID, location.Report{
			OrderID:  id,
			Position: types.Point{Lat: 1.0 + float64(i+1)/100, Lng: 36},
			SpeedKmh: 30,
		})
		require.NoError(t, err)
	}
	require.Len(t, ofType(drain(t, admin), EventDriverLocationUpdate), 3)
}

func TestStatusUpdateOverSocket(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	cust := f.hub.Connect(customerP)
	require.NoError(t, f.hub.Subscribe(context.Background(), cust, orderID))
	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	drvB := registerDriver(t, f.hub, driverBP, "Brian")

	_, err := f.hub.Broadcast(context.Background(), adminP, orderID, "")
	require.NoError(t, err)
	_, err = f.hub.Claim(context.Background(), driverAP, orderID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)
	require.Len(t, ofType(drain(t, drvB), EventOrderTaken), 1)
	drain(t, drvA)
	drain(t, cust)

	send(t, f.hub, drvB, EventStatusUpdate, StatusUpdateRequest{OrderID: string(orderID), Status: string(order.StatusDelivered)})
	requireError(t, drvB, "not authorized")

	send(t, f.hub, drvA, EventStatusUpdate, StatusUpdateRequest{OrderID: string(orderID), Status: string(order.StatusCancelled), DriverID: string(driverAP.ID)})
	requireError(t, drvA, "not authorized")

	send(t, f.hub, drvA, EventStatusUpdate, StatusUpdateRequest{OrderID: string(orderID), Status: string(order.StatusDelivered), DriverID: string(driverAP.ID)})
	require.Empty(t, ofType(drain(t, drvA), EventError))

	got := ofType(drain(t, cust), EventDeliveryStatusUpdate)
	require.Len(t, got, 1)
	var status DeliveryStatusPayload
	require.NoError(t, json.Unmarshal(got[0].Data, &status))
	require.Equal(t, order.StatusDelivered, status.Status)
	require.NotNil(t, status.ActualDeliveryTime)

	_, err = f.tracker.Read(orderID)
	require.ErrorIs(t, err, location.ErrNotTracking)
}

func TestCancelWhileEnRouteReportsNotCancellable(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	admin := f.hub.Connect(adminP)
	_, err := f.hub.AssignManually(context.Background(), adminP, orderID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)
	drain(t, admin)

	send(t, f.hub, admin, EventStatusUpdate, StatusUpdateRequest{OrderID: string(orderID), Status: string(order.StatusCancelled)})
	requireError(t, admin, "order cannot be cancelled")

	_, err = f.hub.Cancel(context.Background(), customerP, orderID)
	require.ErrorIs(t, err, order.ErrNotCancellable)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	f := newFixture(t)
	s := f.hub.Connect(adminP)

	f.hub.Handle(context.Background(), s, []byte("{not json"))
	requireError(t, s, ErrBadPayload.Error())

	f.hub.Handle(context.Background(), s, []byte(`{"type":"teleport"}`))
	requireError(t, s, ErrUnknownEvent.Error())

	f.hub.Handle(context.Background(), s, []byte(`{"type":"subscribe"}`))
	requireError(t, s, ErrBadPayload.Error())
}

func TestSlowSessionDoesNotBlockFanOut(t *testing.T) {
	tracker := location.NewTracker()
	svc := order.NewService(order.NewMemoryStore(), tracker, nil, order.Options{})
	h := NewHub(svc, tracker, nil, Options{OutboxSize: 1})
	slow := h.Connect(adminP)

	for i := 0; i < 5; i++ {
		o, err := svc.Create(context.Background(), order.CreateCommand{CustomerID: customerP.ID, Destination: types.Point{Lat: 1, Lng: 36}})
		require.NoError(t, err)
		_, err = h.Broadcast(context.Background(), adminP, o.ID, fmt.Sprintf("order %d", i))
		require.NoError(t, err)
	}
	require.Len(t, drain(t, slow), 1)
	require.Equal(t, uint64(4), h.Stats().Dropped)
}

func requireError(t *testing.T, s *Session, message string) {
	t.Helper()
	msgs := drain(t, s)
	errs := ofType(msgs, EventError)
	require.Len(t, errs, 1, "messages: %v", msgs)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &ep))
	require.Equal(t, message, ep.Message)
}

type recordingIndex struct {
	mu      sync.Mutex
	puts    map[types.ID]types.Point
	removed []types.ID
}

func (r *recordingIndex) Put(_ context.Context, id types.ID, p types.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.puts == nil {
		r.puts = make(map[types.ID]types.Point)
	}
	r.puts[id] = p
	return nil
}

func (r *recordingIndex) Remove(_ context.Context, id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return nil
}

func TestDriverIndexFollowsReportsAndDisconnects(t *testing.T) {
	f := newFixture(t)
	idx := &recordingIndex{}
	f.hub.WithDriverIndex(idx)

	orderID := f.createOrder(t)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")
	_, err := f.hub.AssignManually(context.Background(), adminP, orderID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)

	pos := types.Point{Lat: 1.02, Lng: 36.01}
	_, err = f.hub.ReportLocation(context.Background(), driverAP.ID, location.Report{OrderID: orderID, Position: pos})
	require.NoError(t, err)
	require.Equal(t, pos, idx.puts[driverAP.ID])

	f.hub.Disconnect(context.Background(), drvA)
	require.Equal(t, []types.ID{driverAP.ID}, idx.removed)
}

// claimGate holds every claim inside the order service until released.
type claimGate struct {
	*order.Service
	entered chan struct{}
	release chan struct{}
}

func (g *claimGate) Claim(ctx context.Context, cmd order.ClaimCommand) (*order.Order, error) {
	close(g.entered)
	<-g.release
	return g.Service.Claim(ctx, cmd)
}

func TestSlowClaimBlocksOnlyItsOwnOrder(t *testing.T) {
	ctx := context.Background()
	tracker := location.NewTracker()
	svc := order.NewService(order.NewMemoryStore(), tracker, nil, order.Options{})
	gate := &claimGate{Service: svc, entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHub(gate, tracker, nil, Options{OutboxSize: 32})

	dest := types.Point{Lat: 1, Lng: 36}
	slow, err := svc.Create(ctx, order.CreateCommand{CustomerID: customerP.ID, Destination: dest})
	require.NoError(t, err)
	_, err = h.Broadcast(ctx, adminP, slow.ID, "")
	require.NoError(t, err)
	other, err := svc.Create(ctx, order.CreateCommand{CustomerID: customerP.ID, Destination: dest})
	require.NoError(t, err)
	_, err = h.AssignManually(ctx, adminP, other.ID, types.Driver{ID: driverBP.ID})
	require.NoError(t, err)

	claimed := make(chan error, 1)
	go func() {
		_, err := h.Claim(ctx, driverAP, slow.ID, types.Driver{ID: driverAP.ID})
		claimed <- err
	}()
	<-gate.entered

	reported := make(chan error, 1)
	go func() {
		_, err := h.ReportLocation(ctx, driverBP.ID, location.Report{OrderID: other.ID, Position: types.Point{Lat: 1.01, Lng: 36}})
		reported <- err
	}()
	select {
	case err := <-reported:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("location report waited on another order's claim")
	}

	cancelled := make(chan error, 1)
	go func() {
		_, err := h.Cancel(ctx, adminP, slow.ID)
		cancelled <- err
	}()
	select {
	case <-cancelled:
		t.Fatal("cancel ran while the same order's claim was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-claimed)
	require.ErrorIs(t, <-cancelled, order.ErrNotCancellable)

	h.locksMu.Lock()
	defer h.locksMu.Unlock()
	require.Empty(t, h.orderLocks)
}

func TestSubscribeAckPrecedesLaterLocations(t *testing.T) {
	ctx := context.Background()
	tracker := location.NewTracker()
	svc := order.NewService(order.NewMemoryStore(), tracker, nil, order.Options{})
	h := NewHub(svc, tracker, nil, Options{OutboxSize: 1024})

	o, err := svc.Create(ctx, order.CreateCommand{CustomerID: customerP.ID, Destination: types.Point{Lat: 1, Lng: 36}})
	require.NoError(t, err)
	_, err = h.AssignManually(ctx, adminP, o.ID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)

	const reports = 500
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= reports; i++ {
			_, err := h.ReportLocation(ctx, driverAP.ID, location.Report{
				OrderID:  o.ID,
				Position: types.Point{Lat: 1.05, Lng: 36},
				SpeedKmh: float64(i),
			})
			if err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var watchers []*Session
	for i := 0; i < 20; i++ {
		s := h.Connect(adminP)
		require.NoError(t, h.Subscribe(ctx, s, o.ID))
		watchers = append(watchers, s)
	}
	<-done

	for _, s := range watchers {
		msgs := drain(t, s)
		require.NotEmpty(t, msgs)
		require.Equal(t, EventSubscribed, msgs[0].Type)
		var ack SubscribedPayload
		require.NoError(t, json.Unmarshal(msgs[0].Data, &ack))
		require.NotNil(t, ack.Tracking)

		last := ack.Tracking.SpeedKmh
		for _, m := range ofType(msgs[1:], EventDriverLocationUpdate) {
			var loc DriverLocationPayload
			require.NoError(t, json.Unmarshal(m.Data, &loc))
			require.Greater(t, loc.Speed, last)
			last = loc.Speed
		}
	}
}

func TestAdminPackedStatusReoffersOrder(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	admin := f.hub.Connect(adminP)
	cust := f.hub.Connect(customerP)
	require.NoError(t, f.hub.Subscribe(context.Background(), cust, orderID))
	drain(t, cust)
	drvA := registerDriver(t, f.hub, driverAP, "Amina")

	send(t, f.hub, admin, EventStatusUpdate, StatusUpdateRequest{OrderID: string(orderID), Status: string(order.StatusPacked)})
	require.Empty(t, ofType(drain(t, admin), EventError))

	offers := ofType(drain(t, drvA), EventOrderAvailable)
	require.Len(t, offers, 1)
	var offer OrderAvailablePayload
	require.NoError(t, json.Unmarshal(offers[0].Data, &offer))
	require.Equal(t, string(orderID), offer.OrderID)

	got := ofType(drain(t, cust), EventDeliveryStatusUpdate)
	require.Len(t, got, 1)
	var status DeliveryStatusPayload
	require.NoError(t, json.Unmarshal(got[0].Data, &status))
	require.Equal(t, order.StatusPacked, status.Status)

	_, err := f.hub.Claim(context.Background(), driverAP, orderID, types.Driver{ID: driverAP.ID})
	require.NoError(t, err)
}
