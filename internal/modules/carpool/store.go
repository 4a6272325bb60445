package carpool

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"corider/internal/apperr"
	"corider/internal/modules/pricing"
	"corider/internal/types"
)

// ShareComputer recomputes every active co-rider's fare share. The store
// calls it inside the accept transaction so the persisted shares always
// match the persisted passenger set.
type ShareComputer func(passengers []SharedPassenger) (shares []pricing.Share, perPerson types.Money, err error)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateReservation(ctx context.Context, r *Reservation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reservations (
			id, rider_id, status,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			pickup_address, dropoff_address,
			scheduled_at, ride_class,
			total_distance_km, total_duration_min, currency, total_price,
			shareable, max_shared_passengers, max_detour_minutes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		string(r.ID), string(r.RiderID), string(r.Status),
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.PickupAddress, r.DropoffAddress,
		r.ScheduledAt, r.Class,
		r.TotalDistanceKm, r.TotalDurationMin, r.TotalPrice.Currency, r.TotalPrice.Amount,
		r.Shareable, r.MaxSharedPassengers, r.MaxDetourMinutes, r.CreatedAt,
	)
	return err
}

const selectReservation = `
	SELECT id, rider_id, status,
		pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		pickup_address, dropoff_address,
		scheduled_at, ride_class,
		total_distance_km, total_duration_min, currency, total_price,
		shareable, max_shared_passengers, current_shared_passengers,
		max_detour_minutes, shared_price_per_person, created_at
	FROM reservations`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var id, riderID, status, currency string
	var totalPrice, perPerson int64

	err := row.Scan(
		&id, &riderID, &status,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.PickupAddress, &r.DropoffAddress,
		&r.ScheduledAt, &r.Class,
		&r.TotalDistanceKm, &r.TotalDurationMin, &currency, &totalPrice,
		&r.Shareable, &r.MaxSharedPassengers, &r.CurrentSharedPassengers,
		&r.MaxDetourMinutes, &perPerson, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("reservation not found")
	}
	if err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.Status = ReservationStatus(status)
	r.TotalPrice = types.Money{Amount: totalPrice, Currency: currency}
	r.SharedPricePerPerson = types.Money{Amount: perPerson, Currency: currency}
	return &r, nil
}

func (s *Store) GetReservation(ctx context.Context, id types.ID) (*Reservation, error) {
	return scanReservation(s.db.QueryRow(ctx, selectReservation+` WHERE id = $1`, string(id)))
}

func (s *Store) CreateJoinRequest(ctx context.Context, j *JoinRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO carpool_join_requests (
			id, reservation_id, requester_id,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			score, additional_km, additional_minutes,
			status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(j.ID), string(j.ReservationID), string(j.RequesterID),
		j.Pickup.Lat, j.Pickup.Lng, j.Dropoff.Lat, j.Dropoff.Lng,
		j.Score, j.AdditionalKm, j.AdditionalMinutes,
		string(j.Status), j.ExpiresAt, j.CreatedAt,
	)
	return err
}

const selectJoinRequest = `
	SELECT id, reservation_id, requester_id,
		pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		score, additional_km, additional_minutes,
		status, expires_at, created_at
	FROM carpool_join_requests`

func scanJoinRequest(row pgx.Row) (*JoinRequest, error) {
	var j JoinRequest
	var id, reservationID, requesterID, status string

	err := row.Scan(
		&id, &reservationID, &requesterID,
		&j.Pickup.Lat, &j.Pickup.Lng, &j.Dropoff.Lat, &j.Dropoff.Lng,
		&j.Score, &j.AdditionalKm, &j.AdditionalMinutes,
		&status, &j.ExpiresAt, &j.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("join request not found")
	}
	if err != nil {
		return nil, err
	}
	j.ID = types.ID(id)
	j.ReservationID = types.ID(reservationID)
	j.RequesterID = types.ID(requesterID)
	j.Status = JoinStatus(status)
	return &j, nil
}

func (s *Store) GetJoinRequest(ctx context.Context, id types.ID) (*JoinRequest, error) {
	return scanJoinRequest(s.db.QueryRow(ctx, selectJoinRequest+` WHERE id = $1`, string(id)))
}

func (s *Store) ListJoinRequests(ctx context.Context, reservationID types.ID) ([]JoinRequest, error) {
	rows, err := s.db.Query(ctx, selectJoinRequest+` WHERE reservation_id = $1 ORDER BY created_at`, string(reservationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JoinRequest
	for rows.Next() {
		j, err := scanJoinRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// UpdateJoinStatus moves a request from one status to another. It reports
// false when the request was no longer in the expected status.
func (s *Store) UpdateJoinStatus(ctx context.Context, id types.ID, from, to JoinStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE carpool_join_requests SET status = $1
		WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AcceptJoin commits the whole acceptance as one transaction: the request
// flips PENDING to ACCEPTED, a seat is taken, the passenger row is inserted
// with its order taken from the incremented seat counter, and every active
// share is rewritten from the ShareComputer's output. The seat-count update
// doubles as the row lock that serializes concurrent accepts on the same
// reservation.
func (s *Store) AcceptJoin(ctx context.Context, requestID types.ID, sp *SharedPassenger, now time.Time, compute ShareComputer) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE carpool_join_requests SET status = 'ACCEPTED'
		WHERE id = $1 AND status = 'PENDING' AND expires_at > $2`,
		string(requestID), now,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	var seatNo int
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET current_shared_passengers = current_shared_passengers + 1
		WHERE id = $1 AND status = 'SCHEDULED' AND shareable
			AND current_shared_passengers < max_shared_passengers
		RETURNING current_shared_passengers`,
		string(sp.ReservationID),
	).Scan(&seatNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sp.PickupOrder = seatNo
	sp.DropoffOrder = seatNo

	_, err = tx.Exec(ctx, `
		INSERT INTO shared_passengers (
			id, reservation_id, passenger_id,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			pickup_order, dropoff_order,
			fare_share, payment_status, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(sp.ID), string(sp.ReservationID), string(sp.PassengerID),
		sp.Pickup.Lat, sp.Pickup.Lng, sp.Dropoff.Lat, sp.Dropoff.Lng,
		sp.PickupOrder, sp.DropoffOrder,
		sp.FareShare.Amount, string(sp.PaymentStatus), sp.Active, sp.CreatedAt,
	)
	if isUniqueViolation(err) {
		return false, apperr.Conflictf("passenger already joined this reservation")
	}
	if err != nil {
		return false, err
	}

	passengers, err := listActiveSharesTx(ctx, tx, sp.ReservationID)
	if err != nil {
		return false, err
	}
	shares, perPerson, err := compute(passengers)
	if err != nil {
		return false, err
	}
	for _, sh := range shares {
		_, err = tx.Exec(ctx, `
			UPDATE shared_passengers SET fare_share = $1
			WHERE reservation_id = $2 AND passenger_id = $3 AND active`,
			sh.Amount.Amount, string(sp.ReservationID), string(sh.PassengerID),
		)
		if err != nil {
			return false, err
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE reservations SET shared_price_per_person = $1 WHERE id = $2`,
		perPerson.Amount, string(sp.ReservationID),
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

const selectSharedPassenger = `
	SELECT sp.id, sp.reservation_id, sp.passenger_id,
		sp.pickup_lat, sp.pickup_lng, sp.dropoff_lat, sp.dropoff_lng,
		sp.pickup_order, sp.dropoff_order,
		sp.fare_share, r.currency, sp.payment_status, sp.active, sp.created_at
	FROM shared_passengers sp
	JOIN reservations r ON r.id = sp.reservation_id`

func listActiveShares(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, reservationID types.ID) ([]SharedPassenger, error) {
	rows, err := q.Query(ctx, selectSharedPassenger+` WHERE sp.reservation_id = $1 AND sp.active ORDER BY sp.created_at`, string(reservationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SharedPassenger
	for rows.Next() {
		var p SharedPassenger
		var id, reservationID, passengerID, paymentStatus string
		err := rows.Scan(
			&id, &reservationID, &passengerID,
			&p.Pickup.Lat, &p.Pickup.Lng, &p.Dropoff.Lat, &p.Dropoff.Lng,
			&p.PickupOrder, &p.DropoffOrder,
			&p.FareShare.Amount, &p.FareShare.Currency, &paymentStatus, &p.Active, &p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		p.ID = types.ID(id)
		p.ReservationID = types.ID(reservationID)
		p.PassengerID = types.ID(passengerID)
		p.PaymentStatus = PaymentStatus(paymentStatus)
		out = append(out, p)
	}
	return out, rows.Err()
}

func listActiveSharesTx(ctx context.Context, tx pgx.Tx, reservationID types.ID) ([]SharedPassenger, error) {
	return listActiveShares(ctx, tx, reservationID)
}

func (s *Store) ListActiveShares(ctx context.Context, reservationID types.ID) ([]SharedPassenger, error) {
	return listActiveShares(ctx, s.db, reservationID)
}

// ExpirePending sweeps join requests whose deadline passed and reports how
// many it flipped.
func (s *Store) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE carpool_join_requests SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelReservation terminalizes the reservation and everything hanging off
// it: pending join requests are rejected and confirmed passengers
// deactivated.
func (s *Store) CancelReservation(ctx context.Context, id, riderID types.ID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'CANCELED'
		WHERE id = $1 AND rider_id = $2 AND status = 'SCHEDULED'`,
		string(id), string(riderID),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE carpool_join_requests SET status = 'REJECTED'
		WHERE reservation_id = $1 AND status = 'PENDING'`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE shared_passengers SET active = FALSE
		WHERE reservation_id = $1 AND active`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
