// README: Driver position index backed by Redis GEO, used for nearby-driver lookups.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"lastmile/internal/types"
)

const (
	driverGeoKey    = "location:drivers"
	driverSeenKeyFm = "location:driver:%s:seen"
	// Positions older than this are treated as stale and skipped by Nearby.
	defaultSeenTTL = 2 * time.Minute
)

type GeoIndex struct {
	redis   *redis.Client
	seenTTL time.Duration
}

func NewGeoIndex(client *redis.Client, seenTTL time.Duration) *GeoIndex {
	if seenTTL <= 0 {
		seenTTL = defaultSeenTTL
	}
	return &GeoIndex{redis: client, seenTTL: seenTTL}
}

// Put records the latest position of a driver.
func (g *GeoIndex) Put(ctx context.Context, driverID types.ID, p types.Point) error {
	pipe := g.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.Set(ctx, seenKey(driverID), time.Now().UTC().Format(time.RFC3339), g.seenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "geo index put")
	}
	return nil
}

func (g *GeoIndex) Remove(ctx context.Context, driverID types.ID) error {
	pipe := g.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.Del(ctx, seenKey(driverID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "geo index remove")
	}
	return nil
}

// Nearby returns drivers within radiusKm of p with a fresh position, closest first.
func (g *GeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]NearbyDriver, error) {
	locs, err := g.redis.GeoRadius(ctx, driverGeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "geo index radius")
	}
	if len(locs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(locs))
	for i, l := range locs {
		keys[i] = seenKey(types.ID(l.Name))
	}
	seen, err := g.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "geo index freshness")
	}

	out := make([]NearbyDriver, 0, len(locs))
	for i, l := range locs {
		if seen[i] == nil {
			continue
		}
		pos := types.Point{Lat: l.Latitude, Lng: l.Longitude}
		out = append(out, NearbyDriver{
			DriverID:   types.ID(l.Name),
			Position:   pos,
			DistanceKm: HaversineKm(p, pos),
		})
	}
	sortByDistance(out, func(d NearbyDriver) float64 { return d.DistanceKm })
	return out, nil
}

func seenKey(driverID types.ID) string {
	return fmt.Sprintf(driverSeenKeyFm, string(driverID))
}
