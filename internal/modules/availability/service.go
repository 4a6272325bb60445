package availability

import (
	"context"
	"time"

	"corider/internal/apperr"
	"corider/internal/types"
)

// Index is the store surface the service needs; the Redis Store implements
// it and tests use an in-memory fake.
type Index interface {
	Upsert(ctx context.Context, hb Heartbeat) error
	Remove(ctx context.Context, driverID types.ID) error
	SetAvailable(ctx context.Context, driverID types.ID, available bool) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error)
	Flags(ctx context.Context, driverID types.ID) (online, available bool, heartbeat time.Time, ok bool, err error)
}

// FleetChecker filters candidates down to drivers with an eligible vehicle.
type FleetChecker interface {
	HasEligible(ctx context.Context, driverID types.ID, minCapacity int) (bool, error)
}

type Service struct {
	index  Index
	fleet  FleetChecker
	window time.Duration
	now    func() time.Time
}

func NewService(index Index, fleet FleetChecker, freshnessWindow time.Duration) *Service {
	return &Service{index: index, fleet: fleet, window: freshnessWindow, now: time.Now}
}

// Heartbeat records a driver position report. Going offline removes the
// driver from the index entirely.
func (s *Service) Heartbeat(ctx context.Context, hb Heartbeat) error {
	if hb.DriverID == "" {
		return apperr.Validationf("driver id is required")
	}
	if !hb.Position.Valid() {
		return apperr.Validationf("malformed coordinates")
	}
	if !hb.Online {
		return s.index.Remove(ctx, hb.DriverID)
	}
	if hb.At.IsZero() {
		hb.At = s.now().UTC()
	}
	return s.index.Upsert(ctx, hb)
}

func (s *Service) MarkBusy(ctx context.Context, driverID types.ID) error {
	return s.index.SetAvailable(ctx, driverID, false)
}

func (s *Service) MarkFree(ctx context.Context, driverID types.ID) error {
	return s.index.SetAvailable(ctx, driverID, true)
}

// FindCandidates returns up to limit drivers near pickup that are online,
// available, fresh, and hold a verified AVAILABLE vehicle with enough
// seats. Order is ascending distance from the GEO query.
func (s *Service) FindCandidates(ctx context.Context, pickup types.Point, passengerCount int, radiusKm float64, limit int) ([]Candidate, error) {
	if !pickup.Valid() {
		return nil, apperr.Validationf("malformed coordinates")
	}
	if limit <= 0 || radiusKm <= 0 {
		return nil, apperr.Validationf("radius and limit must be positive")
	}

	// The flag and fleet filters drop some of the nearest entries, so page
	// the GEO search with growing fetch sizes until the limit is met or the
	// index runs out of drivers in range.
	cutoff := s.now().Add(-s.window)
	for fetch := limit * 3; ; fetch *= 2 {
		nearby, err := s.index.Nearby(ctx, pickup, radiusKm, fetch)
		if err != nil {
			return nil, err
		}
		out := make([]Candidate, 0, limit)
		for _, c := range nearby {
			online, available, heartbeat, ok, err := s.index.Flags(ctx, c.DriverID)
			if err != nil {
				return nil, err
			}
			if !ok || !online || !available || heartbeat.Before(cutoff) {
				continue
			}
			eligible, err := s.fleet.HasEligible(ctx, c.DriverID, passengerCount)
			if err != nil {
				return nil, err
			}
			if !eligible {
				continue
			}
			out = append(out, c)
			if len(out) == limit {
				return out, nil
			}
		}
		if len(nearby) < fetch {
			return out, nil
		}
	}
}
