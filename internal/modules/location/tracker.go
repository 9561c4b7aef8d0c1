// README: In-memory tracker holding one live record per order out for delivery.
package location

import (
	"sort"
	"sync"
	"time"

	"lastmile/internal/types"
)

// Tracker keeps ephemeral tracking state. Records are lost on restart.
type Tracker struct {
	mu      sync.RWMutex
	records map[types.ID]*Record
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[types.ID]*Record),
		now:     time.Now,
	}
}

// Start creates (or replaces) the record for orderID. The placeholder location
// is the zero point and the ETA is seeded until the first report.
func (t *Tracker) Start(orderID types.ID, destination types.Point, driver types.Driver) Record {
	now := t.now()
	rec := &Record{
		OrderID:     orderID,
		Driver:      DriverRef{ID: driver.ID, Name: driver.Name},
		Destination: destination,
		ETAMinutes:  SeedETAMinutes,
		StartedAt:   now,
		LastUpdated: now,
	}

	t.mu.Lock()
	t.records[orderID] = rec
	t.mu.Unlock()
	return *rec
}

// Update applies a position report and recomputes the ETA.
func (t *Tracker) Update(r Report) (Record, error) {
	if !r.Position.Valid() {
		return Record{}, ErrInvalidPosition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[r.OrderID]
	if !ok {
		return Record{}, ErrUnknownOrder
	}
	rec.CurrentLocation = r.Position
	rec.HasFix = true
	rec.SpeedKmh = r.SpeedKmh
	rec.HeadingDegrees = r.HeadingDegrees
	rec.ETAMinutes = ETAMinutes(HaversineKm(r.Position, rec.Destination), r.SpeedKmh)
	rec.LastUpdated = t.now()
	return *rec, nil
}

func (t *Tracker) Read(orderID types.ID) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[orderID]
	if !ok {
		return Record{}, ErrNotTracking
	}
	return *rec, nil
}

// Stop deletes the record. Stopping an unknown order is a no-op.
func (t *Tracker) Stop(orderID types.ID) {
	t.mu.Lock()
	delete(t.records, orderID)
	t.mu.Unlock()
}

// Active returns a copy of every record, oldest first.
func (t *Tracker) Active() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
