package carpool

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"corider/internal/apperr"
	"corider/internal/config"
	"corider/internal/geo"
	"corider/internal/modules/pricing"
	"corider/internal/notify"
	"corider/internal/observability"
	"corider/internal/types"
)

// Repository is the persistence surface the service needs. Implemented by
// Store; tests substitute an in-memory version.
type Repository interface {
	CreateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id types.ID) (*Reservation, error)
	CreateJoinRequest(ctx context.Context, j *JoinRequest) error
	GetJoinRequest(ctx context.Context, id types.ID) (*JoinRequest, error)
	ListJoinRequests(ctx context.Context, reservationID types.ID) ([]JoinRequest, error)
	UpdateJoinStatus(ctx context.Context, id types.ID, from, to JoinStatus) (bool, error)
	AcceptJoin(ctx context.Context, requestID types.ID, sp *SharedPassenger, now time.Time, compute ShareComputer) (bool, error)
	ListActiveShares(ctx context.Context, reservationID types.ID) ([]SharedPassenger, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	CancelReservation(ctx context.Context, id, riderID types.ID) (bool, error)
}

type Service struct {
	repo     Repository
	pricing  *pricing.Service
	notifier notify.Notifier
	cfg      config.CarpoolConfig
	speedKmh float64
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, pricingSvc *pricing.Service, notifier notify.Notifier, cfg config.CarpoolConfig, speedKmh float64, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		pricing:  pricingSvc,
		notifier: notifier,
		cfg:      cfg,
		speedKmh: speedKmh,
		log:      log,
		now:      time.Now,
	}
}

type CreateReservationCommand struct {
	RiderID             types.ID
	Pickup              types.Point
	Dropoff             types.Point
	PickupAddress       string
	DropoffAddress      string
	ScheduledAt         time.Time
	Class               string
	Shareable           bool
	MaxSharedPassengers int
	MaxDetourMinutes    float64
}

// CreateReservation prices the owner's trip up front and stores it as
// SCHEDULED. Non-shareable reservations simply never accept co-riders.
func (s *Service) CreateReservation(ctx context.Context, cmd CreateReservationCommand) (*Reservation, error) {
	if cmd.RiderID == "" {
		return nil, apperr.Validationf("rider id is required")
	}
	if !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return nil, apperr.Validationf("malformed coordinates")
	}
	now := s.now()
	if !cmd.ScheduledAt.After(now) {
		return nil, apperr.Validationf("scheduled time must be in the future")
	}
	rate, err := s.pricing.Rate(ctx, cmd.Class)
	if err != nil {
		return nil, err
	}
	if cmd.Shareable {
		if cmd.MaxSharedPassengers < 1 {
			return nil, apperr.Validationf("shareable reservation needs at least one shared seat")
		}
		if cmd.MaxSharedPassengers > rate.Capacity-1 {
			return nil, apperr.Validationf("%d shared seats exceed %s capacity", cmd.MaxSharedPassengers, rate.Class)
		}
		if cmd.MaxDetourMinutes <= 0 {
			return nil, apperr.Validationf("max detour must be positive")
		}
	}

	distanceKm := geo.DistanceKm(cmd.Pickup, cmd.Dropoff)
	durationMin := geo.ETAMinutes(distanceKm, s.speedKmh)
	total, err := s.pricing.BasePrice(ctx, cmd.Class, distanceKm, durationMin)
	if err != nil {
		return nil, err
	}

	r := &Reservation{
		ID:                  types.NewID(),
		RiderID:             cmd.RiderID,
		Status:              ReservationScheduled,
		Pickup:              cmd.Pickup,
		Dropoff:             cmd.Dropoff,
		PickupAddress:       cmd.PickupAddress,
		DropoffAddress:      cmd.DropoffAddress,
		ScheduledAt:         cmd.ScheduledAt,
		Class:               rate.Class,
		TotalDistanceKm:     distanceKm,
		TotalDurationMin:    durationMin,
		TotalPrice:          total,
		Shareable:           cmd.Shareable,
		MaxSharedPassengers: cmd.MaxSharedPassengers,
		MaxDetourMinutes:    cmd.MaxDetourMinutes,
		CreatedAt:           now,
	}
	if !r.Shareable {
		r.MaxSharedPassengers = 0
		r.MaxDetourMinutes = 0
	}
	if err := s.repo.CreateReservation(ctx, r); err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectReservationCreated, map[string]any{
		"reservation_id": r.ID,
		"rider_id":       r.RiderID,
		"scheduled_at":   r.ScheduledAt,
		"shareable":      r.Shareable,
		"total_price":    r.TotalPrice,
	})
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

func (s *Service) ListShares(ctx context.Context, reservationID types.ID) ([]SharedPassenger, error) {
	return s.repo.ListActiveShares(ctx, reservationID)
}

func (s *Service) ListJoinRequests(ctx context.Context, reservationID types.ID) ([]JoinRequest, error) {
	return s.repo.ListJoinRequests(ctx, reservationID)
}

type JoinCommand struct {
	ReservationID types.ID
	RequesterID   types.ID
	Pickup        types.Point
	Dropoff       types.Point
}

// RequestJoin scores the candidate's detour against the reservation route
// and records a PENDING request that expires on its own. An incompatible
// route is rejected immediately rather than parked for the owner.
func (s *Service) RequestJoin(ctx context.Context, cmd JoinCommand) (*JoinRequest, error) {
	if cmd.RequesterID == "" {
		return nil, apperr.Validationf("requester id is required")
	}
	if !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return nil, apperr.Validationf("malformed coordinates")
	}
	res, err := s.repo.GetReservation(ctx, cmd.ReservationID)
	if err != nil {
		return nil, err
	}
	if !res.Shareable {
		return nil, apperr.Validationf("reservation is not shareable")
	}
	if res.RiderID == cmd.RequesterID {
		return nil, apperr.Validationf("cannot join your own reservation")
	}
	if res.Status != ReservationScheduled {
		return nil, apperr.Conflictf("reservation is %s", res.Status)
	}
	if res.RemainingSeats() < 1 {
		return nil, apperr.Conflictf("no shared seats left")
	}

	comp, err := ScoreDetour(res.Pickup, res.Dropoff, cmd.Pickup, cmd.Dropoff, s.speedKmh, res.MaxDetourMinutes)
	if err != nil {
		return nil, err
	}
	if !comp.Compatible {
		return nil, apperr.Validationf("detour of %.1f minutes exceeds the %.0f minute budget", comp.AdditionalMinutes, res.MaxDetourMinutes)
	}

	now := s.now()
	j := &JoinRequest{
		ID:                types.NewID(),
		ReservationID:     res.ID,
		RequesterID:       cmd.RequesterID,
		Pickup:            cmd.Pickup,
		Dropoff:           cmd.Dropoff,
		Score:             comp.Score,
		AdditionalKm:      comp.DetourKm,
		AdditionalMinutes: comp.AdditionalMinutes,
		Status:            JoinPending,
		ExpiresAt:         now.Add(s.cfg.JoinRequestTTL),
		CreatedAt:         now,
	}
	if err := s.repo.CreateJoinRequest(ctx, j); err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectJoinRequested, map[string]any{
		"join_request_id": j.ID,
		"reservation_id":  j.ReservationID,
		"requester_id":    j.RequesterID,
		"score":           j.Score,
		"expires_at":      j.ExpiresAt,
	})
	return j, nil
}

// AcceptJoin confirms a pending request. The seat take, the passenger row
// and the fare recompute commit as one transaction in the repository; this
// method only decides and prices.
func (s *Service) AcceptJoin(ctx context.Context, requestID, ownerID types.ID) (*JoinRequest, error) {
	j, err := s.repo.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	res, err := s.repo.GetReservation(ctx, j.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.RiderID != ownerID {
		return nil, apperr.Forbiddenf("only the reservation owner can accept")
	}
	if j.Status != JoinPending {
		return nil, apperr.Conflictf("join request is %s", j.Status)
	}
	now := s.now()
	if j.Expired(now) {
		if _, err := s.repo.UpdateJoinStatus(ctx, j.ID, JoinPending, JoinExpired); err != nil {
			s.log.Warn("expire join request", zap.String("join_request_id", string(j.ID)), zap.Error(err))
		}
		return nil, apperr.Conflictf("join request expired")
	}

	// Pickup and dropoff order come from the seat counter inside the
	// accept transaction, so concurrent accepts never collide.
	sp := &SharedPassenger{
		ID:            types.NewID(),
		ReservationID: res.ID,
		PassengerID:   j.RequesterID,
		Pickup:        j.Pickup,
		Dropoff:       j.Dropoff,
		FareShare:     types.Money{Currency: res.TotalPrice.Currency},
		PaymentStatus: PaymentPending,
		Active:        true,
		CreatedAt:     now,
	}

	ok, err := s.repo.AcceptJoin(ctx, requestID, sp, now, s.shareComputer(ctx, res))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflictf("join request can no longer be accepted")
	}
	observability.FareSplitRecompute.Inc()

	j.Status = JoinAccepted
	s.publish(ctx, notify.SubjectJoinAccepted, map[string]any{
		"join_request_id": j.ID,
		"reservation_id":  res.ID,
		"requester_id":    j.RequesterID,
	})
	return j, nil
}

// shareComputer splits the owner's total fare proportionally over the
// owner's own trip and every active co-rider's, then reports the per-head
// mean. Only co-rider shares are persisted; the owner keeps the remainder.
func (s *Service) shareComputer(ctx context.Context, res *Reservation) ShareComputer {
	return func(passengers []SharedPassenger) ([]pricing.Share, types.Money, error) {
		distances := make([]pricing.PassengerDistance, 0, len(passengers)+1)
		distances = append(distances, pricing.PassengerDistance{ID: res.RiderID, DistanceKm: res.TotalDistanceKm})
		for _, p := range passengers {
			distances = append(distances, pricing.PassengerDistance{
				ID:         p.PassengerID,
				DistanceKm: geo.DistanceKm(p.Pickup, p.Dropoff),
			})
		}
		shares, total, err := s.pricing.CarpoolShares(ctx, res.Class, res.TotalDistanceKm, res.TotalDurationMin, distances)
		if err != nil {
			return nil, types.Money{}, err
		}
		perPerson := types.Money{
			Amount:   int64(math.Round(float64(total.Amount) / float64(len(distances)))),
			Currency: total.Currency,
		}
		return shares, perPerson, nil
	}
}

func (s *Service) RejectJoin(ctx context.Context, requestID, ownerID types.ID) error {
	j, err := s.repo.GetJoinRequest(ctx, requestID)
	if err != nil {
		return err
	}
	res, err := s.repo.GetReservation(ctx, j.ReservationID)
	if err != nil {
		return err
	}
	if res.RiderID != ownerID {
		return apperr.Forbiddenf("only the reservation owner can reject")
	}
	ok, err := s.repo.UpdateJoinStatus(ctx, requestID, JoinPending, JoinRejected)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflictf("join request is %s", j.Status)
	}
	s.publish(ctx, notify.SubjectJoinRejected, map[string]any{
		"join_request_id": j.ID,
		"reservation_id":  res.ID,
		"requester_id":    j.RequesterID,
	})
	return nil
}

// CancelReservation terminalizes the reservation. Pending requests are
// rejected and confirmed co-riders dropped in the same transaction.
func (s *Service) CancelReservation(ctx context.Context, id, riderID types.ID) error {
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if res.RiderID != riderID {
		return apperr.Forbiddenf("only the reservation owner can cancel")
	}
	if res.Status != ReservationScheduled {
		return apperr.Conflictf("reservation is %s", res.Status)
	}
	// Read the co-riders to notify before the cancel deactivates them.
	passengerIDs := s.activePassengerIDs(ctx, id)
	ok, err := s.repo.CancelReservation(ctx, id, riderID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflictf("reservation is no longer scheduled")
	}
	s.publish(ctx, notify.SubjectReservationCanceled, map[string]any{
		"reservation_id": id,
		"rider_id":       riderID,
		"passenger_ids":  passengerIDs,
	})
	return nil
}

func (s *Service) activePassengerIDs(ctx context.Context, reservationID types.ID) []types.ID {
	shares, err := s.repo.ListActiveShares(ctx, reservationID)
	if err != nil {
		s.log.Warn("list active shares", zap.String("reservation_id", string(reservationID)), zap.Error(err))
		return nil
	}
	ids := make([]types.ID, 0, len(shares))
	for _, p := range shares {
		ids = append(ids, p.PassengerID)
	}
	return ids
}

// RunExpirySweeper flips overdue PENDING requests to EXPIRED on a fixed
// cadence until the context ends.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.repo.ExpirePending(ctx, s.now())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Error("expire pending join requests", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				s.log.Info("expired join requests", zap.Int64("count", n))
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if err := s.notifier.Publish(ctx, subject, payload); err != nil {
		s.log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}
