package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"corider/internal/types"
)

const (
	driverGeoKey    = "availability:drivers"
	driverKeyPrefix = "availability:driver:%s"
)

// Store keeps the index in Redis: one GEO set plus a per-driver hash with
// the online/available flags and the heartbeat timestamp. Hashes expire at
// the freshness window so a silent driver disappears on their own.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: rdb, ttl: ttl}
}

func (s *Store) Upsert(ctx context.Context, hb Heartbeat) error {
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(hb.DriverID),
		Longitude: hb.Position.Lng,
		Latitude:  hb.Position.Lat,
	})
	key := driverKey(hb.DriverID)
	pipe.HSet(ctx, key,
		"online", boolField(hb.Online),
		"available", boolField(hb.Available),
		"heartbeat", hb.At.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Remove(ctx context.Context, driverID types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.Del(ctx, driverKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// SetAvailable flips just the available flag, keeping position and heartbeat.
func (s *Store) SetAvailable(ctx context.Context, driverID types.ID, available bool) error {
	return s.redis.HSet(ctx, driverKey(driverID), "available", boolField(available)).Err()
}

// Nearby returns drivers within radiusKm of p, ascending by distance.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, len(results))
	for i, r := range results {
		candidates[i] = Candidate{
			DriverID:   types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return candidates, nil
}

// Flags reads the per-driver hash. ok is false when the hash has expired or
// never existed.
func (s *Store) Flags(ctx context.Context, driverID types.ID) (online, available bool, heartbeat time.Time, ok bool, err error) {
	vals, err := s.redis.HGetAll(ctx, driverKey(driverID)).Result()
	if err != nil {
		return false, false, time.Time{}, false, err
	}
	if len(vals) == 0 {
		return false, false, time.Time{}, false, nil
	}
	online = vals["online"] == "1"
	available = vals["available"] == "1"
	if raw := vals["heartbeat"]; raw != "" {
		heartbeat, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return online, available, heartbeat, true, nil
}

func driverKey(driverID types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(driverID))
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
