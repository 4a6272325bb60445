// Package dispatch fans a new ride request out to nearby drivers. It is a
// broadcast-and-race protocol: nothing is reserved, the first accept to win
// the conditional update gets the ride, and the other drivers simply hold a
// stale notification.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"corider/internal/config"
	"corider/internal/geo"
	"corider/internal/modules/availability"
	"corider/internal/modules/ride"
	"corider/internal/notify"
	"corider/internal/observability"
	"corider/internal/types"
)

// CandidateFinder is the availability index surface the orchestrator needs.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, pickup types.Point, passengerCount int, radiusKm float64, limit int) ([]availability.Candidate, error)
}

type Service struct {
	finder   CandidateFinder
	notifier notify.Notifier
	cfg      config.DispatchConfig
	log      *zap.Logger
}

func NewService(finder CandidateFinder, notifier notify.Notifier, cfg config.DispatchConfig, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{finder: finder, notifier: notifier, cfg: cfg, log: log}
}

// Offer is the payload a candidate driver receives.
type Offer struct {
	RideID         types.ID    `json:"ride_id"`
	DriverID       types.ID    `json:"driver_id"`
	Pickup         types.Point `json:"pickup"`
	Dropoff        types.Point `json:"dropoff"`
	PickupAddress  string      `json:"pickup_address,omitempty"`
	Class          string      `json:"class"`
	PassengerCount int         `json:"passenger_count"`
	DistanceKm     float64     `json:"distance_km"`
	EtaMinutes     float64     `json:"eta_minutes"`
	EstimatedFare  types.Money `json:"estimated_fare"`
}

// Dispatch notifies the top-K nearest eligible drivers. Failures are logged
// and swallowed: the fan-out must never surface into the requester's path.
func (s *Service) Dispatch(ctx context.Context, r *ride.Ride) {
	candidates, err := s.finder.FindCandidates(ctx, r.Pickup, r.PassengerCount, s.cfg.RadiusKm, s.cfg.PoolSize)
	if err != nil {
		s.log.Error("find candidates", zap.String("ride_id", string(r.ID)), zap.Error(err))
		return
	}
	observability.DispatchesTotal.Inc()
	observability.CandidatesFound.Observe(float64(len(candidates)))

	if len(candidates) == 0 {
		s.log.Info("no candidates for ride", zap.String("ride_id", string(r.ID)))
		return
	}

	top := candidates
	if len(top) > s.cfg.NotifyCount {
		top = top[:s.cfg.NotifyCount]
	}
	for _, c := range top {
		offer := Offer{
			RideID:         r.ID,
			DriverID:       c.DriverID,
			Pickup:         r.Pickup,
			Dropoff:        r.Dropoff,
			PickupAddress:  r.PickupAddress,
			Class:          r.Class,
			PassengerCount: r.PassengerCount,
			DistanceKm:     c.DistanceKm,
			EtaMinutes:     geo.ETAMinutes(c.DistanceKm, s.cfg.AvgSpeedKmh),
			EstimatedFare:  r.EstimatedFare,
		}
		if err := s.notifier.Publish(ctx, notify.SubjectDispatchOffer, offer); err != nil {
			s.log.Warn("publish offer",
				zap.String("ride_id", string(r.ID)),
				zap.String("driver_id", string(c.DriverID)),
				zap.Error(err))
			continue
		}
		observability.NotificationsSent.Inc()
	}
	s.log.Info("dispatched ride",
		zap.String("ride_id", string(r.ID)),
		zap.Int("candidates", len(candidates)),
		zap.Int("notified", len(top)))
}
