// README: Order store backed by PostgreSQL; every conditional write is one UPDATE ... RETURNING.
package order

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"lastmile/internal/types"
)

const orderColumns = `
	id, customer_id, status, cancellable,
	driver_id, driver_name, driver_phone, driver_vehicle,
	dest_lat, dest_lng, payment_status, version,
	created_at, updated_at, delivered_at, cancelled_at`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Insert(ctx context.Context, o *Order) error {
	var driverID, name, phone, vehicle *string
	if o.Driver != nil {
		id := string(o.Driver.ID)
		driverID, name, phone, vehicle = &id, &o.Driver.Name, &o.Driver.Phone, &o.Driver.Vehicle
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, status, cancellable,
			driver_id, driver_name, driver_phone, driver_vehicle,
			dest_lat, dest_lng, payment_status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		string(o.ID),
		string(o.CustomerID),
		string(o.Status),
		IsCancellable(o.Status),
		driverID, name, phone, vehicle,
		o.Destination.Lat, o.Destination.Lng,
		string(o.PaymentStatus),
		o.Version,
		o.CreatedAt,
	)
	return errors.Wrap(err, "insert order")
}

func (s *PgStore) FindByID(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return o, nil
}

// UpdateIfMatches evaluates the predicate and applies the patch in a single
// statement, so concurrent callers racing on the same predicate see exactly
// one matched row between them.
func (s *PgStore) UpdateIfMatches(ctx context.Context, id types.ID, pred Predicate, patch Patch) (*Order, bool, error) {
	var status *string
	var cancellable *bool
	if patch.Status != "" {
		v := string(patch.Status)
		c := IsCancellable(patch.Status)
		status, cancellable = &v, &c
	}
	var driverID, name, phone, vehicle *string
	if patch.Driver != nil {
		v := string(patch.Driver.ID)
		driverID, name, phone, vehicle = &v, &patch.Driver.Name, &patch.Driver.Phone, &patch.Driver.Vehicle
	}
	var payment *string
	if patch.PaymentStatus != "" {
		v := string(patch.PaymentStatus)
		payment = &v
	}
	statuses := make([]string, len(pred.Statuses))
	for i, st := range pred.Statuses {
		statuses[i] = string(st)
	}

	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET status         = COALESCE($2::text, status),
		    cancellable    = COALESCE($3::boolean, cancellable),
		    driver_id      = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($5::text, driver_id) END,
		    driver_name    = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($6::text, driver_name) END,
		    driver_phone   = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($7::text, driver_phone) END,
		    driver_vehicle = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($8::text, driver_vehicle) END,
		    delivered_at   = COALESCE($9::timestamptz, delivered_at),
		    cancelled_at   = COALESCE($10::timestamptz, cancelled_at),
		    payment_status = COALESCE($11::text, payment_status),
		    version        = version + 1,
		    updated_at     = NOW()
		WHERE id = $1
		  AND (cardinality($12::text[]) = 0 OR status = ANY($12::text[]))
		  AND ($13::int IS NULL OR version = $13::int)
		  AND (NOT $14::boolean OR driver_id IS NULL)
		RETURNING `+orderColumns,
		string(id),
		status, cancellable,
		patch.ClearDriver, driverID, name, phone, vehicle,
		patch.DeliveredAt, patch.CancelledAt,
		payment,
		statuses,
		pred.Version,
		pred.DriverUnset,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "conditional update order")
	}
	return o, true, nil
}

func (s *PgStore) UpdateByID(ctx context.Context, id types.ID, patch Patch) (*Order, error) {
	o, ok, err := s.UpdateIfMatches(ctx, id, Predicate{}, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *PgStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, override, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Override,
		e.CreatedAt,
	)
	return errors.Wrap(err, "append order event")
}

func (s *PgStore) ListEvents(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, override, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, errors.Wrap(err, "list order events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.Override, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan order event")
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate order events")
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID, name, phone, vehicle *string
	var deliveredAt, cancelledAt *time.Time
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.Cancellable,
		&driverID, &name, &phone, &vehicle,
		&o.Destination.Lat, &o.Destination.Lng, &o.PaymentStatus, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &deliveredAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		o.Driver = &types.Driver{ID: types.ID(*driverID), Name: deref(name), Phone: deref(phone), Vehicle: deref(vehicle)}
	}
	o.DeliveredAt = deliveredAt
	o.CancelledAt = cancelledAt
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
