package fleet

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"corider/internal/apperr"
	"corider/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, v *Vehicle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (id, driver_id, ride_class, capacity, status, verified)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(v.ID), string(v.DriverID), v.Class, v.Capacity, string(v.Status), v.Verified,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `
		SELECT id, driver_id, ride_class, capacity, status, verified
		FROM vehicles WHERE id = $1`, string(id)))
}

// FindForDriver returns the driver's available, verified vehicle with at
// least minCapacity seats, or NotFound.
func (s *Store) FindForDriver(ctx context.Context, driverID types.ID, minCapacity int) (*Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `
		SELECT id, driver_id, ride_class, capacity, status, verified
		FROM vehicles
		WHERE driver_id = $1 AND status = 'AVAILABLE' AND verified AND capacity >= $2
		ORDER BY capacity ASC
		LIMIT 1`, string(driverID), minCapacity))
}

// HasEligible reports whether the driver has an available, verified vehicle
// with enough capacity. Used by the availability index filter.
func (s *Store) HasEligible(ctx context.Context, driverID types.ID, minCapacity int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM vehicles
			WHERE driver_id = $1 AND status = 'AVAILABLE' AND verified AND capacity >= $2
		)`, string(driverID), minCapacity).Scan(&exists)
	return exists, err
}

// HoldTx flips AVAILABLE -> IN_USE inside the caller's transaction.
// Conditional on the current status so a vehicle is never held twice.
func (s *Store) HoldTx(ctx context.Context, tx pgx.Tx, vehicleID types.ID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'IN_USE'
		WHERE id = $1 AND status = 'AVAILABLE'`, string(vehicleID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return apperr.Conflictf("vehicle %s is not available", vehicleID)
	}
	return nil
}

// ReleaseTx flips IN_USE -> AVAILABLE inside the caller's transaction.
func (s *Store) ReleaseTx(ctx context.Context, tx pgx.Tx, vehicleID types.ID) error {
	_, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'AVAILABLE'
		WHERE id = $1 AND status = 'IN_USE'`, string(vehicleID))
	return err
}

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	var id, driverID, status string
	err := row.Scan(&id, &driverID, &v.Class, &v.Capacity, &status, &v.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("vehicle not found")
	}
	if err != nil {
		return nil, err
	}
	v.ID = types.ID(id)
	v.DriverID = types.ID(driverID)
	v.Status = Status(status)
	return &v, nil
}
