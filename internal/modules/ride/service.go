package ride

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"corider/internal/apperr"
	"corider/internal/geo"
	"corider/internal/modules/fleet"
	"corider/internal/modules/pricing"
	"corider/internal/notify"
	"corider/internal/observability"
	"corider/internal/types"
)

// Dispatcher fans a new request out to candidate drivers. Implemented by
// the dispatch module; nil disables fan-out (tests).
type Dispatcher interface {
	Dispatch(ctx context.Context, r *Ride)
}

// AddressResolver turns coordinates into a display address. Best-effort:
// an empty string or an error leaves the address blank.
type AddressResolver interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

// AvailabilityMarker flips a driver's available flag in the matching index.
// Index updates are best-effort: the index is a read model, not business
// state, so failures are logged and never abort a transition.
type AvailabilityMarker interface {
	MarkBusy(ctx context.Context, driverID types.ID) error
	MarkFree(ctx context.Context, driverID types.ID) error
}

type Service struct {
	store      *Store
	fleet      *fleet.Store
	pricing    *pricing.Service
	notifier   notify.Notifier
	dispatcher Dispatcher
	marker     AvailabilityMarker
	resolver   AddressResolver
	speedKmh   float64
	log        *zap.Logger
}

func NewService(store *Store, fleetStore *fleet.Store, pricingSvc *pricing.Service, notifier notify.Notifier, speedKmh float64, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:    store,
		fleet:    fleetStore,
		pricing:  pricingSvc,
		notifier: notifier,
		speedKmh: speedKmh,
		log:      log,
	}
}

// SetDispatcher wires the orchestrator after construction; the dispatcher
// itself only needs ride data, so there is no cycle at runtime.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetAvailabilityMarker wires the matching-index flag flips.
func (s *Service) SetAvailabilityMarker(m AvailabilityMarker) { s.marker = m }

// SetAddressResolver enables reverse geocoding of request coordinates.
func (s *Service) SetAddressResolver(r AddressResolver) { s.resolver = r }

type RequestCommand struct {
	RiderID        types.ID
	Pickup         types.Point
	Dropoff        types.Point
	PickupAddress  string
	DropoffAddress string
	Class          string
	PassengerCount int
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type StartCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID    types.ID
	ActorType string // "rider", "driver" or "system"
	ActorID   types.ID
	ReasonID  string
}

// Request creates a REQUESTED ride with a fare estimate and triggers
// dispatch asynchronously. The fan-out never blocks the caller.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*Ride, error) {
	if cmd.RiderID == "" {
		return nil, apperr.Validationf("rider id is required")
	}
	if !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return nil, apperr.Validationf("malformed coordinates")
	}
	if cmd.PassengerCount < 1 {
		return nil, apperr.Validationf("passenger count %d out of range", cmd.PassengerCount)
	}
	rate, err := s.pricing.Rate(ctx, cmd.Class)
	if err != nil {
		return nil, err
	}
	if cmd.PassengerCount > rate.Capacity {
		return nil, apperr.Validationf("passenger count %d exceeds %s capacity %d", cmd.PassengerCount, cmd.Class, rate.Capacity)
	}

	distanceKm := geo.DistanceKm(cmd.Pickup, cmd.Dropoff)
	durationMin := geo.ETAMinutes(distanceKm, s.speedKmh)
	estimate, err := s.pricing.BasePrice(ctx, cmd.Class, distanceKm, durationMin)
	if err != nil {
		return nil, err
	}

	if s.resolver != nil {
		if cmd.PickupAddress == "" {
			cmd.PickupAddress = s.resolveAddress(ctx, cmd.Pickup)
		}
		if cmd.DropoffAddress == "" {
			cmd.DropoffAddress = s.resolveAddress(ctx, cmd.Dropoff)
		}
	}

	r := &Ride{
		ID:             types.NewID(),
		RiderID:        cmd.RiderID,
		Status:         StatusRequested,
		Pickup:         cmd.Pickup,
		Dropoff:        cmd.Dropoff,
		PickupAddress:  cmd.PickupAddress,
		DropoffAddress: cmd.DropoffAddress,
		PassengerCount: cmd.PassengerCount,
		Class:          cmd.Class,
		EstimatedFare:  estimate,
		CommissionRate: s.pricing.CommissionRate(),
		RequestedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.SubjectRideRequested, r)

	if s.dispatcher != nil {
		go s.dispatcher.Dispatch(context.WithoutCancel(ctx), r)
	}
	return r, nil
}

// Accept races the driver against everyone else who got the offer. The
// conditional update in the store decides the winner; losers get Conflict.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Ride, error) {
	if cmd.DriverID == "" {
		return nil, apperr.Validationf("driver id is required")
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusAccepted) {
		return nil, apperr.Conflictf("ride %s is %s", r.ID, r.Status)
	}

	vehicle, err := s.fleet.FindForDriver(ctx, cmd.DriverID, r.PassengerCount)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Conflictf("driver %s has no eligible vehicle", cmd.DriverID)
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.store.Accept(ctx, r.ID, cmd.DriverID, vehicle.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.AcceptConflicts.Inc()
		return nil, apperr.Conflictf("ride %s already taken", r.ID)
	}

	s.markBusy(ctx, cmd.DriverID)

	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectRideAccepted, r)
	return r, nil
}

// Start moves an accepted ride into progress. Only the assigned driver may
// start it.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID == nil || *r.DriverID != cmd.DriverID {
		return nil, apperr.Forbiddenf("driver %s is not assigned to ride %s", cmd.DriverID, r.ID)
	}
	if !CanTransition(r.Status, StatusInProgress) {
		return nil, apperr.Conflictf("ride %s is %s", r.ID, r.Status)
	}

	ok, err := s.store.Start(ctx, r.ID, cmd.DriverID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflictf("ride %s is no longer ACCEPTED", r.ID)
	}

	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectRideStarted, r)
	return r, nil
}

// Complete finalizes the fare from the actual distance and elapsed time,
// splits it into platform fee and driver earnings, releases the vehicle and
// bumps the driver aggregates. One transaction, or nothing.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID == nil || *r.DriverID != cmd.DriverID {
		return nil, apperr.Forbiddenf("driver %s is not assigned to ride %s", cmd.DriverID, r.ID)
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return nil, apperr.Conflictf("ride %s is %s", r.ID, r.Status)
	}

	now := time.Now().UTC()
	durationMin := 0.0
	if r.StartedAt != nil {
		durationMin = now.Sub(*r.StartedAt).Minutes()
	}
	distanceKm := geo.DistanceKm(r.Pickup, r.Dropoff)

	total, err := s.pricing.BasePrice(ctx, r.Class, distanceKm, durationMin)
	if err != nil {
		return nil, err
	}
	// Settle at the commission rate snapshotted when the ride was requested.
	fee, earnings := pricing.SplitCommission(total, r.CommissionRate)

	ok, err := s.store.Complete(ctx, CompleteUpdate{
		RideID:         r.ID,
		DriverID:       cmd.DriverID,
		TotalFare:      total,
		PlatformFee:    fee,
		DriverEarnings: earnings,
		At:             now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflictf("ride %s is no longer IN_PROGRESS", r.ID)
	}
	observability.RidesCompleted.Inc()

	s.markFree(ctx, cmd.DriverID)

	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectRideCompleted, r)
	return r, nil
}

// Cancel terminates a non-terminal ride and releases any held vehicle.
// Canceling a REQUESTED ride touches no vehicle row.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	switch cmd.ActorType {
	case "rider", "driver", "system":
	default:
		return nil, apperr.Validationf("unknown actor type %q", cmd.ActorType)
	}

	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusCanceled) {
		return nil, apperr.Conflictf("ride %s is %s", r.ID, r.Status)
	}

	// Free the driver the store saw under its row lock; an accept could
	// have committed since the read above.
	driverID, ok, err := s.store.Cancel(ctx, r.ID, cmd.ActorType, cmd.ActorID, cmd.ReasonID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflictf("ride %s is no longer cancelable", r.ID)
	}

	if driverID != nil {
		s.markFree(ctx, *driverID)
	}

	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.SubjectRideCanceled, r)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.Events(ctx, id)
}

// EventPayload is the exposed schema for ride state-change events, with
// enough for the notifications collaborator to render from.
type EventPayload struct {
	RideID         types.ID    `json:"ride_id"`
	RiderID        types.ID    `json:"rider_id"`
	DriverID       *types.ID   `json:"driver_id,omitempty"`
	Status         Status      `json:"status"`
	Pickup         types.Point `json:"pickup"`
	Dropoff        types.Point `json:"dropoff"`
	PickupAddress  string      `json:"pickup_address,omitempty"`
	DropoffAddress string      `json:"dropoff_address,omitempty"`
	Class          string      `json:"class"`
	EstimatedFare  types.Money `json:"estimated_fare"`
	TotalFare      types.Money `json:"total_fare"`
	PlatformFee    types.Money `json:"platform_fee"`
	DriverEarnings types.Money `json:"driver_earnings"`
}

func (s *Service) resolveAddress(ctx context.Context, p types.Point) string {
	addr, err := s.resolver.ReverseGeocode(ctx, p)
	if err != nil {
		s.log.Warn("reverse geocode", zap.Float64("lat", p.Lat), zap.Float64("lng", p.Lng), zap.Error(err))
		return ""
	}
	return addr
}

func (s *Service) publish(ctx context.Context, subject string, r *Ride) {
	payload := EventPayload{
		RideID:         r.ID,
		RiderID:        r.RiderID,
		DriverID:       r.DriverID,
		Status:         r.Status,
		Pickup:         r.Pickup,
		Dropoff:        r.Dropoff,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		Class:          r.Class,
		EstimatedFare:  r.EstimatedFare,
		TotalFare:      r.TotalFare,
		PlatformFee:    r.PlatformFee,
		DriverEarnings: r.DriverEarnings,
	}
	if err := s.notifier.Publish(ctx, subject, payload); err != nil {
		s.log.Warn("publish event", zap.String("subject", subject), zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
}

func (s *Service) markBusy(ctx context.Context, driverID types.ID) {
	if s.marker == nil {
		return
	}
	if err := s.marker.MarkBusy(ctx, driverID); err != nil {
		s.log.Warn("mark driver busy", zap.String("driver_id", string(driverID)), zap.Error(err))
	}
}

func (s *Service) markFree(ctx context.Context, driverID types.ID) {
	if s.marker == nil {
		return
	}
	if err := s.marker.MarkFree(ctx, driverID); err != nil {
		s.log.Warn("mark driver free", zap.String("driver_id", string(driverID)), zap.Error(err))
	}
}
