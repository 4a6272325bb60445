package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"corider/internal/apperr"
	"corider/internal/modules/fleet"
	"corider/internal/types"
)

// Store persists rides. Transitions with side effects (vehicle hold and
// release, driver aggregates) run in a single transaction so they commit as
// one or not at all.
type Store struct {
	db    *pgxpool.Pool
	fleet *fleet.Store
}

func NewStore(db *pgxpool.Pool, fleetStore *fleet.Store) *Store {
	return &Store{db: db, fleet: fleetStore}
}

func (s *Store) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, rider_id, status,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			pickup_address, dropoff_address,
			passenger_count, ride_class, currency,
			estimated_fare, commission_rate, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(r.ID), string(r.RiderID), string(r.Status),
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.PickupAddress, r.DropoffAddress,
		r.PassengerCount, r.Class, r.EstimatedFare.Currency,
		r.EstimatedFare.Amount, r.CommissionRate, r.RequestedAt,
	)
	if err != nil {
		return err
	}
	return s.appendEvent(ctx, s.db, &Event{
		RideID:     r.ID,
		FromStatus: "",
		ToStatus:   r.Status,
		ActorType:  "rider",
		ActorID:    &r.RiderID,
		CreatedAt:  r.RequestedAt,
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return scanRide(s.db.QueryRow(ctx, selectRide+` WHERE id = $1`, string(id)))
}

// Accept is the single atomic conditional update of the broadcast-and-race
// protocol: the UPDATE fires only while the ride is still REQUESTED, so at
// most one driver ever wins. The vehicle hold rides in the same transaction.
func (s *Store) Accept(ctx context.Context, rideID, driverID, vehicleID types.ID, at time.Time) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rides
		SET status = 'ACCEPTED', driver_id = $1, vehicle_id = $2, accepted_at = $3
		WHERE id = $4 AND status = 'REQUESTED'`,
		string(driverID), string(vehicleID), at, string(rideID),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := s.fleet.HoldTx(ctx, tx, vehicleID); err != nil {
		return false, err
	}
	if err := s.appendEvent(ctx, tx, &Event{
		RideID:     rideID,
		FromStatus: StatusRequested,
		ToStatus:   StatusAccepted,
		ActorType:  "driver",
		ActorID:    &driverID,
		CreatedAt:  at,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) Start(ctx context.Context, rideID, driverID types.ID, at time.Time) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rides SET status = 'IN_PROGRESS', started_at = $1
		WHERE id = $2 AND status = 'ACCEPTED' AND driver_id = $3`,
		at, string(rideID), string(driverID),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := s.appendEvent(ctx, tx, &Event{
		RideID:     rideID,
		FromStatus: StatusAccepted,
		ToStatus:   StatusInProgress,
		ActorType:  "driver",
		ActorID:    &driverID,
		CreatedAt:  at,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// CompleteUpdate carries the financial snapshot written at completion.
type CompleteUpdate struct {
	RideID         types.ID
	DriverID       types.ID
	TotalFare      types.Money
	PlatformFee    types.Money
	DriverEarnings types.Money
	At             time.Time
}

// Complete finalizes the ride, releases the vehicle and bumps the driver's
// aggregates, all in one transaction.
func (s *Store) Complete(ctx context.Context, u CompleteUpdate) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var vehicleID *string
	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET status = 'COMPLETED', completed_at = $1,
		    total_fare = $2, platform_fee = $3, driver_earnings = $4
		WHERE id = $5 AND status = 'IN_PROGRESS' AND driver_id = $6
		RETURNING vehicle_id`,
		u.At, u.TotalFare.Amount, u.PlatformFee.Amount, u.DriverEarnings.Amount,
		string(u.RideID), string(u.DriverID),
	).Scan(&vehicleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if vehicleID != nil {
		if err := s.fleet.ReleaseTx(ctx, tx, types.ID(*vehicleID)); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO driver_stats (driver_id, rides_completed, total_earnings, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (driver_id) DO UPDATE
		SET rides_completed = driver_stats.rides_completed + 1,
		    total_earnings = driver_stats.total_earnings + EXCLUDED.total_earnings,
		    updated_at = EXCLUDED.updated_at`,
		string(u.DriverID), u.DriverEarnings.Amount, u.At,
	)
	if err != nil {
		return false, err
	}

	if err := s.appendEvent(ctx, tx, &Event{
		RideID:     u.RideID,
		FromStatus: StatusInProgress,
		ToStatus:   StatusCompleted,
		ActorType:  "driver",
		ActorID:    &u.DriverID,
		CreatedAt:  u.At,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Cancel moves any non-terminal ride to CANCELED and releases a held
// vehicle. The row lock keeps it serial against a racing accept, so the
// returned driver id is the one that actually won the ride, not whatever
// the caller read before the transaction.
func (s *Store) Cancel(ctx context.Context, rideID types.ID, actorType string, actorID types.ID, reasonID string, at time.Time) (*types.ID, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var status string
	var driverID, vehicleID *string
	err = tx.QueryRow(ctx, `
		SELECT status, driver_id, vehicle_id FROM rides WHERE id = $1 FOR UPDATE`,
		string(rideID),
	).Scan(&status, &driverID, &vehicleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperr.NotFoundf("ride %s", rideID)
	}
	if err != nil {
		return nil, false, err
	}
	from := Status(status)
	if !CanTransition(from, StatusCanceled) {
		return nil, false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE rides
		SET status = 'CANCELED', canceled_at = $1, cancel_actor = $2, cancel_reason_id = $3
		WHERE id = $4`,
		at, actorType, reasonID, string(rideID),
	)
	if err != nil {
		return nil, false, err
	}

	if vehicleID != nil {
		if err := s.fleet.ReleaseTx(ctx, tx, types.ID(*vehicleID)); err != nil {
			return nil, false, err
		}
	}

	if err := s.appendEvent(ctx, tx, &Event{
		RideID:     rideID,
		FromStatus: from,
		ToStatus:   StatusCanceled,
		ActorType:  actorType,
		ActorID:    &actorID,
		CreatedAt:  at,
	}); err != nil {
		return nil, false, err
	}
	var assigned *types.ID
	if driverID != nil {
		d := types.ID(*driverID)
		assigned = &d
	}
	return assigned, true, tx.Commit(ctx)
}

// Events returns the audit trail for a ride, oldest first.
func (s *Store) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_events WHERE ride_id = $1 ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var rid, from, to string
		var actorID *string
		if err := rows.Scan(&e.ID, &rid, &from, &to, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RideID = types.ID(rid)
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) appendEvent(ctx context.Context, q execer, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := q.Exec(ctx, `
		INSERT INTO ride_events (ride_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus), e.ActorType, actorID, e.CreatedAt,
	)
	return err
}

const selectRide = `
	SELECT id, rider_id, driver_id, vehicle_id, status,
	       pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	       pickup_address, dropoff_address,
	       passenger_count, ride_class, currency,
	       estimated_fare, total_fare, driver_earnings, platform_fee, commission_rate,
	       requested_at, accepted_at, started_at, completed_at, canceled_at,
	       cancel_actor, cancel_reason_id
	FROM rides`

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var id, riderID, status, currency string
	var driverID, vehicleID, cancelActor, cancelReasonID *string
	var estimated, total, earnings, fee int64

	err := row.Scan(
		&id, &riderID, &driverID, &vehicleID, &status,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.PickupAddress, &r.DropoffAddress,
		&r.PassengerCount, &r.Class, &currency,
		&estimated, &total, &earnings, &fee, &r.CommissionRate,
		&r.RequestedAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CanceledAt,
		&cancelActor, &cancelReasonID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("ride not found")
	}
	if err != nil {
		return nil, err
	}

	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.Status = Status(status)
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	if vehicleID != nil {
		v := types.ID(*vehicleID)
		r.VehicleID = &v
	}
	r.EstimatedFare = types.Money{Amount: estimated, Currency: currency}
	r.TotalFare = types.Money{Amount: total, Currency: currency}
	r.DriverEarnings = types.Money{Amount: earnings, Currency: currency}
	r.PlatformFee = types.Money{Amount: fee, Currency: currency}
	r.CancelActor = cancelActor
	r.CancelReasonID = cancelReasonID
	return &r, nil
}
