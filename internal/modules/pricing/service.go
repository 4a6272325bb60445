package pricing

import (
	"context"
	"math"

	"corider/internal/apperr"
	"corider/internal/config"
	"corider/internal/types"
)

// RateSource yields the tariff for a ride class. The Postgres store
// implements it; tests use a static map.
type RateSource interface {
	GetRate(ctx context.Context, class string) (Rate, bool, error)
}

type Service struct {
	rates RateSource
	cfg   config.PricingConfig
}

func NewService(rates RateSource, cfg config.PricingConfig) *Service {
	return &Service{rates: rates, cfg: cfg}
}

// Rate resolves the tariff for a class, falling back to the built-in
// defaults when the table has no row.
func (s *Service) Rate(ctx context.Context, class string) (Rate, error) {
	if s.rates != nil {
		r, ok, err := s.rates.GetRate(ctx, class)
		if err != nil {
			return Rate{}, err
		}
		if ok {
			return r, nil
		}
	}
	if r, ok := defaultRates[class]; ok {
		return r, nil
	}
	return Rate{}, apperr.Validationf("unknown ride class %q", class)
}

// BasePrice is what a solo rider pays: base + distance*perKm +
// duration*perMinute, floored at zero, never below the class minimum,
// rounded to the currency's smallest unit.
func (s *Service) BasePrice(ctx context.Context, class string, distanceKm, durationMin float64) (types.Money, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return types.Money{}, apperr.Validationf("distance %v out of range", distanceKm)
	}
	if durationMin < 0 || math.IsNaN(durationMin) || math.IsInf(durationMin, 0) {
		return types.Money{}, apperr.Validationf("duration %v out of range", durationMin)
	}
	rate, err := s.Rate(ctx, class)
	if err != nil {
		return types.Money{}, err
	}

	raw := float64(rate.BaseFare) + distanceKm*float64(rate.PerKm) + durationMin*float64(rate.PerMinute)
	amount := int64(math.Round(raw))
	if amount < 0 {
		amount = 0
	}
	if amount < rate.MinimumFare {
		amount = rate.MinimumFare
	}
	return types.Money{Amount: amount, Currency: rate.Currency}, nil
}

// CarpoolShares allocates the aggregate fare for the whole route across
// passengers proportionally to each one's own distance. Rounding residue is
// settled by largest-remainder: the difference between the total and the
// independently rounded shares lands on the largest share, so the shares
// always sum to the total exactly.
func (s *Service) CarpoolShares(ctx context.Context, class string, totalDistanceKm, totalDurationMin float64, passengers []PassengerDistance) ([]Share, types.Money, error) {
	total, err := s.BasePrice(ctx, class, totalDistanceKm, totalDurationMin)
	if err != nil {
		return nil, types.Money{}, err
	}
	if len(passengers) == 0 {
		return nil, total, nil
	}
	if totalDistanceKm <= 0 {
		return nil, types.Money{}, apperr.Computationf("cannot split fare over zero total distance")
	}

	shares := make([]Share, len(passengers))
	var sum int64
	largest := 0
	for i, p := range passengers {
		if p.DistanceKm < 0 {
			return nil, types.Money{}, apperr.Computationf("negative passenger distance %v", p.DistanceKm)
		}
		amount := int64(math.Round(float64(total.Amount) * p.DistanceKm / totalDistanceKm))
		shares[i] = Share{
			PassengerID: p.ID,
			DistanceKm:  p.DistanceKm,
			Amount:      types.Money{Amount: amount, Currency: total.Currency},
		}
		sum += amount
		if amount > shares[largest].Amount.Amount {
			largest = i
		}
	}
	if residue := total.Amount - sum; residue != 0 {
		shares[largest].Amount.Amount += residue
	}
	return shares, total, nil
}

// DriverEarnings splits a collected fare into the platform fee and the
// driver payout at the currently configured rate. Rides settle with
// SplitCommission and the rate snapshotted at request time instead.
func (s *Service) DriverEarnings(total types.Money) (fee, earnings types.Money) {
	return SplitCommission(total, s.cfg.CommissionRate)
}

// SplitCommission splits a collected fare into the platform fee and the
// driver payout at the given commission rate. The two always sum to the
// input exactly.
func SplitCommission(total types.Money, rate float64) (fee, earnings types.Money) {
	feeAmount := int64(math.Round(float64(total.Amount) * rate))
	if feeAmount < 0 {
		feeAmount = 0
	}
	if feeAmount > total.Amount {
		feeAmount = total.Amount
	}
	fee = types.Money{Amount: feeAmount, Currency: total.Currency}
	earnings = types.Money{Amount: total.Amount - feeAmount, Currency: total.Currency}
	return fee, earnings
}

// CommissionRate exposes the configured rate for persistence snapshots.
func (s *Service) CommissionRate() float64 { return s.cfg.CommissionRate }
