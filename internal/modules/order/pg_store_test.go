package order

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"lastmile/internal/modules/location"
	"lastmile/migrations"
)

func setupPgStore(t *testing.T) *PgStore {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "lastmile",
			"POSTGRES_PASSWORD": "lastmile",
			"POSTGRES_DB":       "lastmile_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://lastmile:lastmile@" + host + ":" + port.Port() + "/lastmile_test?sslmode=disable"
	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, migrations.Apply(ctx, db))
	require.NoError(t, migrations.Apply(ctx, db), "migrations must be re-runnable")
	return NewPgStore(db)
}

func TestPgStore_Flow(t *testing.T) {
	store := setupPgStore(t)
	ctx := context.Background()
	svc := NewService(store, location.NewTracker(), nil, Options{})

	o, err := svc.Create(ctx, CreateCommand{CustomerID: customer.ID, Destination: o1Dest})
	require.NoError(t, err)

	got, err := store.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.True(t, got.Cancellable)
	require.Nil(t, got.Driver)
	require.InDelta(t, 36.0, got.Destination.Lng, 1e-9)

	_, err = svc.Broadcast(ctx, BroadcastCommand{OrderID: o.ID, AdminID: admin.ID})
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, ClaimCommand{OrderID: o.ID, Driver: driverA})
	require.NoError(t, err)
	require.Equal(t, StatusEnRoute, claimed.Status)
	require.False(t, claimed.Cancellable)
	require.Equal(t, driverA, *claimed.Driver)

	_, err = svc.Claim(ctx, ClaimCommand{OrderID: o.ID, Driver: driverB})
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	_, err = svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Actor: admin})
	require.ErrorIs(t, err, ErrNotCancellable)

	paid, err := svc.SetPaymentStatus(ctx, o.ID, PaymentPaid)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, paid.PaymentStatus)
	require.Equal(t, StatusEnRoute, paid.Status)

	delivered, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Status: StatusDelivered, Actor: admin})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)

	events, err := store.ListEvents(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, StatusPacked, events[2].FromStatus)
	require.Equal(t, StatusEnRoute, events[2].ToStatus)

	_, err = store.FindByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPgStore_ConcurrentClaims(t *testing.T) {
	store := setupPgStore(t)
	svc := NewService(store, location.NewTracker(), nil, Options{})
	orderID := seedOrder(t, svc, StatusPacked).ID
	assertSingleWinner(t, svc, orderID, 16)
}
