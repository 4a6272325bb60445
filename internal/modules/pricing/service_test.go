package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corider/internal/apperr"
	"corider/internal/config"
	"corider/internal/types"
)

func newTestService() *Service {
	return NewService(nil, config.PricingConfig{CommissionRate: 0.15, Currency: "XOF"})
}

func TestBasePrice(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tests := []struct {
		name        string
		class       string
		distanceKm  float64
		durationMin float64
		want        int64
	}{
		{name: "zero trip hits the minimum fare floor", class: "standard", distanceKm: 0, durationMin: 0, want: 500},
		{name: "short hop still floored", class: "standard", distanceKm: 0.5, durationMin: 2, want: 575},
		{name: "Cocody to Treichville 6.6km", class: "standard", distanceKm: 6.6, durationMin: 13.2, want: 1490},
		{name: "ten km standard", class: "standard", distanceKm: 10, durationMin: 20, want: 2000},
		{name: "comfort class", class: "comfort", distanceKm: 10, durationMin: 20, want: 2800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.BasePrice(ctx, tt.class, tt.distanceKm, tt.durationMin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, "XOF", got.Currency)
		})
	}
}

func TestBasePrice_Monotonic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	prev := int64(-1)
	for _, km := range []float64{0, 0.1, 1, 2.5, 5, 10, 25, 100} {
		got, err := svc.BasePrice(ctx, "standard", km, 0)
		require.NoError(t, err)
		if got.Amount < prev {
			t.Fatalf("price decreased: %d after %d at %.1f km", got.Amount, prev, km)
		}
		prev = got.Amount
	}
}

func TestBasePrice_InvalidInput(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.BasePrice(ctx, "standard", -1, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.BasePrice(ctx, "standard", 1, -5)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.BasePrice(ctx, "hoverboard", 1, 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCarpoolShares_Proportional(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// 10 km standard = 500 + 10*150 = 2000.
	shares, total, err := svc.CarpoolShares(ctx, "standard", 10, 0, []PassengerDistance{
		{ID: "p1", DistanceKm: 6},
		{ID: "p2", DistanceKm: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total.Amount)
	assert.Equal(t, int64(1200), shares[0].Amount.Amount)
	assert.Equal(t, int64(800), shares[1].Amount.Amount)
}

func TestCarpoolShares_Conservation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// Distances chosen so independent rounding leaves a residue.
	tests := []struct {
		name       string
		totalKm    float64
		passengers []PassengerDistance
	}{
		{
			name:    "three way split with residue",
			totalKm: 10,
			passengers: []PassengerDistance{
				{ID: "a", DistanceKm: 3.33},
				{ID: "b", DistanceKm: 3.33},
				{ID: "c", DistanceKm: 3.34},
			},
		},
		{
			name:    "uneven pair",
			totalKm: 7.7,
			passengers: []PassengerDistance{
				{ID: "a", DistanceKm: 5.1},
				{ID: "b", DistanceKm: 2.6},
			},
		},
		{
			name:    "single passenger takes everything",
			totalKm: 4.2,
			passengers: []PassengerDistance{
				{ID: "solo", DistanceKm: 4.2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares, total, err := svc.CarpoolShares(ctx, "standard", tt.totalKm, 0, tt.passengers)
			require.NoError(t, err)
			var sum int64
			for _, sh := range shares {
				sum += sh.Amount.Amount
			}
			// Largest-remainder reconciliation: conservation is exact.
			assert.Equal(t, total.Amount, sum)
		})
	}
}

func TestCarpoolShares_DegenerateDistance(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.CarpoolShares(ctx, "standard", 0, 0, []PassengerDistance{{ID: "a", DistanceKm: 1}})
	assert.ErrorIs(t, err, apperr.ErrComputation)
}

func TestDriverEarnings(t *testing.T) {
	svc := newTestService()

	fee, earnings := svc.DriverEarnings(types.Money{Amount: 3000, Currency: "XOF"})
	assert.Equal(t, int64(450), fee.Amount)
	assert.Equal(t, int64(2550), earnings.Amount)

	// fee + earnings must equal the input exactly, whatever the amount.
	for _, amount := range []int64{0, 1, 7, 99, 101, 1490, 3333, 999999} {
		fee, earnings := svc.DriverEarnings(types.Money{Amount: amount, Currency: "XOF"})
		assert.Equal(t, amount, fee.Amount+earnings.Amount, "amount %d", amount)
	}
}

func TestSplitCommission(t *testing.T) {
	// Settlement takes the ride's own rate, independent of any configured one.
	fee, earnings := SplitCommission(types.Money{Amount: 3000, Currency: "XOF"}, 0.20)
	assert.Equal(t, int64(600), fee.Amount)
	assert.Equal(t, int64(2400), earnings.Amount)

	for _, rate := range []float64{0, 0.1, 0.15, 0.5, 1} {
		fee, earnings := SplitCommission(types.Money{Amount: 1491, Currency: "XOF"}, rate)
		assert.Equal(t, int64(1491), fee.Amount+earnings.Amount, "rate %v", rate)
	}
}
