package ride

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"corider/internal/apperr"
	"corider/internal/config"
	"corider/internal/modules/fleet"
	"corider/internal/modules/pricing"
	"corider/internal/types"
	"corider/migrations"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusRequested, StatusAccepted, true},
		{StatusAccepted, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusRequested, StatusCanceled, true},
		{StatusAccepted, StatusCanceled, true},
		{StatusInProgress, StatusCanceled, true},
		// invalid: terminal states have no outgoing transitions
		{StatusCompleted, StatusCanceled, false},
		{StatusCompleted, StatusRequested, false},
		{StatusCanceled, StatusRequested, false},
		{StatusCanceled, StatusAccepted, false},
		// invalid: skipping states
		{StatusRequested, StatusInProgress, false},
		{StatusRequested, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRequest_Validation(t *testing.T) {
	// Validation happens before any store access, so a nil store is safe.
	svc := newBareService(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  RequestCommand
	}{
		{"missing rider", RequestCommand{Pickup: abobo, Dropoff: plateau, Class: "standard", PassengerCount: 1}},
		{"bad latitude", RequestCommand{RiderID: "r1", Pickup: types.Point{Lat: 91, Lng: 0}, Dropoff: plateau, Class: "standard", PassengerCount: 1}},
		{"zero passengers", RequestCommand{RiderID: "r1", Pickup: abobo, Dropoff: plateau, Class: "standard", PassengerCount: 0}},
		{"over capacity", RequestCommand{RiderID: "r1", Pickup: abobo, Dropoff: plateau, Class: "standard", PassengerCount: 5}},
		{"unknown class", RequestCommand{RiderID: "r1", Pickup: abobo, Dropoff: plateau, Class: "rocket", PassengerCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Request(ctx, tt.cmd); !isValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRideFlowHappyPath(t *testing.T) {
	svc, fleetStore := setupTestService(t)
	ctx := context.Background()

	mustCreateVehicle(t, fleetStore, "v1", "d1", 4)

	r := mustRequestRide(t, svc, "p_happy", 2)
	assertStatus(t, svc, r.ID, StatusRequested)
	if r.EstimatedFare.Amount <= 0 {
		t.Fatalf("expected a positive estimate, got %d", r.EstimatedFare.Amount)
	}

	accepted, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d1"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.DriverID == nil || *accepted.DriverID != "d1" {
		t.Fatalf("driver not recorded on accept")
	}
	if accepted.VehicleID == nil {
		t.Fatalf("vehicle not recorded on accept")
	}
	assertVehicleStatus(t, fleetStore, "v1", fleet.StatusInUse)

	if _, err := svc.Start(ctx, StartCommand{RideID: r.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	assertStatus(t, svc, r.ID, StatusInProgress)

	done, err := svc.Complete(ctx, CompleteCommand{RideID: r.ID, DriverID: "d1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	assertStatus(t, svc, r.ID, StatusCompleted)
	assertVehicleStatus(t, fleetStore, "v1", fleet.StatusAvailable)

	if done.TotalFare.Amount <= 0 {
		t.Fatalf("expected a positive total fare, got %d", done.TotalFare.Amount)
	}
	if done.PlatformFee.Amount+done.DriverEarnings.Amount != done.TotalFare.Amount {
		t.Fatalf("fee %d + earnings %d != total %d", done.PlatformFee.Amount, done.DriverEarnings.Amount, done.TotalFare.Amount)
	}

	events, err := svc.Events(ctx, r.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 audit events, got %d", len(events))
	}
}

func TestStartWrongDriverForbidden(t *testing.T) {
	svc, fleetStore := setupTestService(t)
	ctx := context.Background()

	mustCreateVehicle(t, fleetStore, "v1", "d1", 4)
	r := mustRequestRide(t, svc, "p_forbidden", 1)

	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Start(ctx, StartCommand{RideID: r.ID, DriverID: "d2"}); !isForbidden(err) {
		t.Fatalf("expected Forbidden for wrong driver, got %v", err)
	}
	if _, err := svc.Complete(ctx, CompleteCommand{RideID: r.ID, DriverID: "d2"}); !isForbidden(err) {
		t.Fatalf("expected Forbidden for wrong driver, got %v", err)
	}
}

func TestAcceptWithoutVehicleConflicts(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	r := mustRequestRide(t, svc, "p_no_vehicle", 1)
	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d_without_car"}); !isConflict(err) {
		t.Fatalf("expected Conflict when driver has no vehicle, got %v", err)
	}
}

func TestCancelSemantics(t *testing.T) {
	svc, fleetStore := setupTestService(t)
	ctx := context.Background()

	// Canceling a REQUESTED ride succeeds and touches no vehicle.
	r := mustRequestRide(t, svc, "p_cancel_requested", 1)
	canceled, err := svc.Cancel(ctx, CancelCommand{RideID: r.ID, ActorType: "rider", ActorID: "p_cancel_requested", ReasonID: "changed_mind"})
	if err != nil {
		t.Fatalf("cancel requested: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.Status)
	}
	if canceled.VehicleID != nil {
		t.Fatalf("requested ride should hold no vehicle")
	}

	// Canceling an accepted ride releases the vehicle.
	mustCreateVehicle(t, fleetStore, "v1", "d1", 4)
	r2 := mustRequestRide(t, svc, "p_cancel_accepted", 1)
	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r2.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertVehicleStatus(t, fleetStore, "v1", fleet.StatusInUse)
	if _, err := svc.Cancel(ctx, CancelCommand{RideID: r2.ID, ActorType: "driver", ActorID: "d1", ReasonID: "breakdown"}); err != nil {
		t.Fatalf("cancel accepted: %v", err)
	}
	assertVehicleStatus(t, fleetStore, "v1", fleet.StatusAvailable)

	// A completed ride can never be canceled.
	r3 := mustRequestRide(t, svc, "p_cancel_completed", 1)
	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r3.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Start(ctx, StartCommand{RideID: r3.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Complete(ctx, CompleteCommand{RideID: r3.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{RideID: r3.ID, ActorType: "rider", ActorID: "p_cancel_completed", ReasonID: "late"}); !isConflict(err) {
		t.Fatalf("expected Conflict canceling a COMPLETED ride, got %v", err)
	}

	// Accepting a canceled ride fails with Conflict, not a silent overwrite.
	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d1"}); !isConflict(err) {
		t.Fatalf("expected Conflict accepting a CANCELED ride, got %v", err)
	}
}

func TestCompleteUsesRequestTimeCommission(t *testing.T) {
	svc, fleetStore := setupTestService(t)
	ctx := context.Background()

	mustCreateVehicle(t, fleetStore, "v1", "d1", 4)
	r := mustRequestRide(t, svc, "p_commission", 1)
	if r.CommissionRate != 0.15 {
		t.Fatalf("expected 0.15 snapshotted, got %v", r.CommissionRate)
	}

	// The configured rate changes mid-ride; settlement must keep the
	// snapshot taken at request time.
	svc.pricing = pricing.NewService(nil, config.PricingConfig{CommissionRate: 0.5, Currency: "XOF"})

	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Start(ctx, StartCommand{RideID: r.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := svc.Complete(ctx, CompleteCommand{RideID: r.ID, DriverID: "d1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	wantFee := int64(math.Round(float64(done.TotalFare.Amount) * 0.15))
	if done.PlatformFee.Amount != wantFee {
		t.Fatalf("expected fee %d at the snapshotted rate, got %d", wantFee, done.PlatformFee.Amount)
	}
}

func TestCancelFreesLateAcceptedDriver(t *testing.T) {
	svc, fleetStore := setupTestService(t)
	ctx := context.Background()
	marker := &recordingMarker{}
	svc.SetAvailabilityMarker(marker)

	// Cancel must report the driver that held the row at commit time, even
	// when an accept landed after the caller's read.
	mustCreateVehicle(t, fleetStore, "v1", "d1", 4)
	r := mustRequestRide(t, svc, "p_late_accept", 1)
	snap, err := svc.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.DriverID != nil {
		t.Fatalf("ride should be unassigned before the accept")
	}
	if ok, err := svc.store.Accept(ctx, r.ID, "d1", "v1", time.Now().UTC()); err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	driverID, ok, err := svc.store.Cancel(ctx, r.ID, "system", "", "dispatch_timeout", time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	if driverID == nil || *driverID != "d1" {
		t.Fatalf("cancel must report the winning driver, got %v", driverID)
	}

	// Through the service, that driver is freed in the matching index.
	r2 := mustRequestRide(t, svc, "p_free_on_cancel", 1)
	if _, err := svc.Accept(ctx, AcceptCommand{RideID: r2.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{RideID: r2.ID, ActorType: "rider", ActorID: "p_free_on_cancel", ReasonID: "changed_mind"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := marker.freedDrivers(); len(got) != 1 || got[0] != "d1" {
		t.Fatalf("expected d1 freed on cancel, got %v", got)
	}
}

// --- helpers ---

// recordingMarker captures availability flag flips for assertions.
type recordingMarker struct {
	mu    sync.Mutex
	busy  []types.ID
	freed []types.ID
}

func (m *recordingMarker) MarkBusy(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = append(m.busy, driverID)
	return nil
}

func (m *recordingMarker) MarkFree(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed = append(m.freed, driverID)
	return nil
}

func (m *recordingMarker) freedDrivers() []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ID(nil), m.freed...)
}

var (
	abobo   = types.Point{Lat: 5.4295, Lng: -4.0217}
	plateau = types.Point{Lat: 5.3243, Lng: -4.0214}
)

func isValidation(err error) bool { return errors.Is(err, apperr.ErrValidation) }
func isConflict(err error) bool   { return errors.Is(err, apperr.ErrConflict) }
func isForbidden(err error) bool  { return errors.Is(err, apperr.ErrForbidden) }

func newBareService(store *Store, fleetStore *fleet.Store) *Service {
	pricingSvc := pricing.NewService(nil, config.PricingConfig{CommissionRate: 0.15, Currency: "XOF"})
	return NewService(store, fleetStore, pricingSvc, nil, 30, zap.NewNop())
}

func setupTestService(t *testing.T) (*Service, *fleet.Store) {
	t.Helper()

	dsn := os.Getenv("CORIDER_TEST_DSN")
	if dsn == "" {
		t.Skip("CORIDER_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	applyMigrations(t, dsn)

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_events, rides, driver_stats, vehicles CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	fleetStore := fleet.NewStore(db)
	store := NewStore(db, fleetStore)
	return newBareService(store, fleetStore), fleetStore
}

func applyMigrations(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		t.Fatalf("goose provider: %v", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}

func mustCreateVehicle(t *testing.T, store *fleet.Store, id, driverID types.ID, capacity int) {
	t.Helper()
	err := store.Create(context.Background(), &fleet.Vehicle{
		ID:       id,
		DriverID: driverID,
		Class:    "standard",
		Capacity: capacity,
		Status:   fleet.StatusAvailable,
		Verified: true,
	})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
}

func mustRequestRide(t *testing.T, svc *Service, riderID types.ID, passengers int) *Ride {
	t.Helper()
	r, err := svc.Request(context.Background(), RequestCommand{
		RiderID:        riderID,
		Pickup:         abobo,
		Dropoff:        plateau,
		Class:          "standard",
		PassengerCount: passengers,
	})
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}
	return r
}

func assertStatus(t *testing.T, svc *Service, rideID types.ID, want Status) {
	t.Helper()
	r, err := svc.Get(context.Background(), rideID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Status != want {
		t.Fatalf("expected status %s, got %s", want, r.Status)
	}
}

func assertVehicleStatus(t *testing.T, store *fleet.Store, id types.ID, want fleet.Status) {
	t.Helper()
	v, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if v.Status != want {
		t.Fatalf("expected vehicle %s, got %s", want, v.Status)
	}
}
