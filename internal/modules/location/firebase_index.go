// README: Driver position mirror in Firebase RTDB so driver and ops apps can listen directly.
package location

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/pkg/errors"

	"lastmile/internal/types"
)

const (
	rtdbDriversNode = "driver_locations"
	rtdbOnline      = "online"
)

// rtdbDriverEntry mirrors one child of /driver_locations.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// FirebaseIndex keeps /driver_locations/{driverID} current. Removing a
// driver marks it offline instead of deleting the node, so listeners see the
// transition.
type FirebaseIndex struct {
	client  *db.Client
	seenTTL time.Duration
	now     func() time.Time
}

func NewFirebaseIndex(ctx context.Context, app *firebase.App, seenTTL time.Duration) (*FirebaseIndex, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initialising firebase RTDB client")
	}
	if seenTTL <= 0 {
		seenTTL = defaultSeenTTL
	}
	return &FirebaseIndex{client: client, seenTTL: seenTTL, now: time.Now}, nil
}

func (f *FirebaseIndex) Put(ctx context.Context, driverID types.ID, p types.Point) error {
	entry := rtdbDriverEntry{Lat: p.Lat, Lng: p.Lng, Status: rtdbOnline, Timestamp: f.now().UnixMilli()}
	if err := f.client.NewRef(rtdbDriversNode).Child(string(driverID)).Set(ctx, entry); err != nil {
		return errors.Wrapf(err, "rtdb put driver %s", driverID)
	}
	return nil
}

func (f *FirebaseIndex) Remove(ctx context.Context, driverID types.ID) error {
	ref := f.client.NewRef(rtdbDriversNode).Child(string(driverID))
	if err := ref.Update(ctx, map[string]interface{}{"status": "offline", "timestamp": f.now().UnixMilli()}); err != nil {
		return errors.Wrapf(err, "rtdb remove driver %s", driverID)
	}
	return nil
}

// Nearby queries online drivers and filters them by distance and freshness.
func (f *FirebaseIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]NearbyDriver, error) {
	var data map[string]rtdbDriverEntry
	if err := f.client.NewRef(rtdbDriversNode).OrderByChild("status").EqualTo(rtdbOnline).Get(ctx, &data); err != nil {
		return nil, errors.Wrap(err, "querying online drivers")
	}
	return nearbyFromEntries(data, p, radiusKm, f.now().Add(-f.seenTTL)), nil
}

func nearbyFromEntries(entries map[string]rtdbDriverEntry, p types.Point, radiusKm float64, freshAfter time.Time) []NearbyDriver {
	var out []NearbyDriver
	for id, e := range entries {
		if e.Status != rtdbOnline || time.UnixMilli(e.Timestamp).Before(freshAfter) {
			continue
		}
		pos := types.Point{Lat: e.Lat, Lng: e.Lng}
		if d := HaversineKm(p, pos); d <= radiusKm {
			out = append(out, NearbyDriver{DriverID: types.ID(id), Position: pos, DistanceKm: d})
		}
	}
	sortByDistance(out, func(d NearbyDriver) float64 { return d.DistanceKm })
	return out
}
