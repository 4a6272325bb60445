package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads tariffs from the pricing_rates table.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, class string) (Rate, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT ride_class, base_fare, per_km, per_minute, minimum_fare, capacity, currency
		FROM pricing_rates
		WHERE ride_class = $1`, class,
	)

	var r Rate
	err := row.Scan(&r.Class, &r.BaseFare, &r.PerKm, &r.PerMinute, &r.MinimumFare, &r.Capacity, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, err
	}
	return r, true, nil
}
