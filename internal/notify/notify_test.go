package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var sample = Notification{
	UserID:  "cust1",
	Kind:    KindOrderEnRoute,
	Message: "Amina is on the way with your order",
	OrderID: "o1",
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Enqueue(context.Background(), sample))
	require.Contains(t, buf.String(), `"kind":"order_en_route"`)
	require.Contains(t, buf.String(), `"user_id":"cust1"`)
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Enqueue(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestFanout_DeliversToAllAndReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	a := &countingNotifier{}
	b := &countingNotifier{err: first}
	c := &countingNotifier{err: errors.New("second")}

	err := Fanout{a, b, c}.Enqueue(context.Background(), sample)
	require.ErrorIs(t, err, first)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 1, c.calls)

	require.NoError(t, Fanout{}.Enqueue(context.Background(), sample))
}

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.sent = append(f.sent, msg)
	return "projects/p/messages/1", f.err
}

func TestFCMNotifier_SendsToUserTopic(t *testing.T) {
	fs := &fakeSender{}
	n := newFCMNotifierWithSender(fs)

	require.NoError(t, n.Enqueue(context.Background(), sample))
	require.Len(t, fs.sent, 1)
	msg := fs.sent[0]
	require.Equal(t, "user_cust1", msg.Topic)
	require.Equal(t, "o1", msg.Data["order_id"])
	require.Equal(t, KindOrderEnRoute, msg.Data["type"])
	require.Equal(t, "Your order is on the way", msg.Notification.Title)
	require.Equal(t, sample.Message, msg.Notification.Body)
}

func TestFCMNotifier_Errors(t *testing.T) {
	fs := &fakeSender{err: errors.New("quota")}
	n := newFCMNotifierWithSender(fs)

	err := n.Enqueue(context.Background(), sample)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sending FCM to user cust1")

	err = n.Enqueue(context.Background(), Notification{Kind: KindOrderDelivered, OrderID: "o2"})
	require.Error(t, err)
	require.Len(t, fs.sent, 1, "no send without a recipient")
}

func TestRoutingKey(t *testing.T) {
	require.Equal(t, "notify.order_delivered", RoutingKey(KindOrderDelivered))
	require.Equal(t, "notify.generic", RoutingKey(""))
}

func TestAMQPNotifier_PublishConfirmed(t *testing.T) {
	if testing.Short() {
		t.Skip("rabbitmq container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	rmq, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmq.Terminate(ctx) })

	host, err := rmq.Host(ctx)
	require.NoError(t, err)
	port, err := rmq.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	n, err := DialAMQP("amqp://guest:guest@"+host+":"+port.Port()+"/", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	require.NoError(t, n.Ping())

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, n.Enqueue(pubCtx, sample))
}
