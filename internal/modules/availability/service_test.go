package availability

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"corider/internal/apperr"
	"corider/internal/geo"
	"corider/internal/types"
)

// fakeIndex is an in-memory Index for service tests.
type fakeIndex struct {
	mu      sync.Mutex
	entries map[types.ID]Heartbeat
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[types.ID]Heartbeat)}
}

func (f *fakeIndex) Upsert(_ context.Context, hb Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[hb.DriverID] = hb
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, driverID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, driverID)
	return nil
}

func (f *fakeIndex) SetAvailable(_ context.Context, driverID types.ID, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hb, ok := f.entries[driverID]; ok {
		hb.Available = available
		f.entries[driverID] = hb
	}
	return nil
}

func (f *fakeIndex) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Candidate
	for _, hb := range f.entries {
		d := geo.DistanceKm(p, hb.Position)
		if d <= radiusKm {
			out = append(out, Candidate{DriverID: hb.DriverID, Position: hb.Position, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIndex) Flags(_ context.Context, driverID types.ID) (bool, bool, time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hb, ok := f.entries[driverID]
	if !ok {
		return false, false, time.Time{}, false, nil
	}
	return hb.Online, hb.Available, hb.At, true, nil
}

// fakeFleet marks every driver in the set as holding an eligible vehicle.
type fakeFleet struct {
	eligible map[types.ID]int // driver -> capacity
}

func (f *fakeFleet) HasEligible(_ context.Context, driverID types.ID, minCapacity int) (bool, error) {
	capacity, ok := f.eligible[driverID]
	return ok && capacity >= minCapacity, nil
}

var pickup = types.Point{Lat: 5.3364, Lng: -3.9739}

// near returns a point roughly km kilometres east of pickup.
func near(km float64) types.Point {
	return types.Point{Lat: pickup.Lat, Lng: pickup.Lng + km/111.0}
}

func newTestService(index *fakeIndex, fleet *fakeFleet) *Service {
	return NewService(index, fleet, 5*time.Minute)
}

func heartbeat(id types.ID, p types.Point, at time.Time) Heartbeat {
	return Heartbeat{DriverID: id, Position: p, Online: true, Available: true, At: at}
}

func TestFindCandidates_SortedAndCapped(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	fleet := &fakeFleet{eligible: map[types.ID]int{"d1": 4, "d2": 4, "d3": 4, "d4": 4}}
	svc := newTestService(index, fleet)

	now := time.Now()
	for i, km := range []float64{3.0, 0.5, 1.5, 2.0} {
		id := types.ID([]string{"d1", "d2", "d3", "d4"}[i])
		if err := svc.Heartbeat(ctx, heartbeat(id, near(km), now)); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}

	got, err := svc.FindCandidates(ctx, pickup, 1, 5, 3)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	want := []types.ID{"d2", "d3", "d4"}
	for i, c := range got {
		if c.DriverID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], c.DriverID)
		}
	}
}

func TestFindCandidates_Filters(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	fleet := &fakeFleet{eligible: map[types.ID]int{"d_ok": 4, "d_stale": 4, "d_busy": 4, "d_small": 1}}
	svc := newTestService(index, fleet)

	now := time.Now()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	must(svc.Heartbeat(ctx, heartbeat("d_ok", near(1), now)))
	// Heartbeat older than the freshness window.
	must(index.Upsert(ctx, heartbeat("d_stale", near(0.5), now.Add(-10*time.Minute))))
	// Busy driver keeps heartbeating but is not available.
	must(svc.Heartbeat(ctx, heartbeat("d_busy", near(0.3), now)))
	must(svc.MarkBusy(ctx, "d_busy"))
	// Vehicle too small for 3 passengers.
	must(svc.Heartbeat(ctx, heartbeat("d_small", near(0.2), now)))
	// No eligible vehicle at all.
	must(svc.Heartbeat(ctx, heartbeat("d_no_car", near(0.1), now)))
	// Too far away.
	must(svc.Heartbeat(ctx, heartbeat("d_far", near(20), now)))

	got, err := svc.FindCandidates(ctx, pickup, 3, 5, 10)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "d_ok" {
		t.Fatalf("expected only d_ok, got %+v", got)
	}
}

func TestFindCandidates_PagesPastFilteredDrivers(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	// Only the three farthest drivers hold an eligible vehicle; the nine
	// nearest must not exhaust the search before they are reached.
	fleet := &fakeFleet{eligible: map[types.ID]int{"d_ok1": 4, "d_ok2": 4, "d_ok3": 4}}
	svc := newTestService(index, fleet)

	now := time.Now()
	for i := 1; i <= 9; i++ {
		id := types.ID([]string{"", "d_c1", "d_c2", "d_c3", "d_c4", "d_c5", "d_c6", "d_c7", "d_c8", "d_c9"}[i])
		if err := svc.Heartbeat(ctx, heartbeat(id, near(float64(i)*0.1), now)); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}
	for i, id := range []types.ID{"d_ok1", "d_ok2", "d_ok3"} {
		if err := svc.Heartbeat(ctx, heartbeat(id, near(1.0+float64(i)*0.1), now)); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}

	got, err := svc.FindCandidates(ctx, pickup, 1, 5, 3)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates past the carless nearest, got %d", len(got))
	}
	want := []types.ID{"d_ok1", "d_ok2", "d_ok3"}
	for i, c := range got {
		if c.DriverID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], c.DriverID)
		}
	}
}

func TestFindCandidates_BusyThenFree(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	fleet := &fakeFleet{eligible: map[types.ID]int{"d1": 4}}
	svc := newTestService(index, fleet)

	if err := svc.Heartbeat(ctx, heartbeat("d1", near(1), time.Now())); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := svc.MarkBusy(ctx, "d1"); err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	got, err := svc.FindCandidates(ctx, pickup, 1, 5, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("busy driver must not match, got %+v", got)
	}

	if err := svc.MarkFree(ctx, "d1"); err != nil {
		t.Fatalf("mark free: %v", err)
	}
	got, err = svc.FindCandidates(ctx, pickup, 1, 5, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("freed driver must match again, got %+v", got)
	}
}

func TestHeartbeat_OfflineRemoves(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	fleet := &fakeFleet{eligible: map[types.ID]int{"d1": 4}}
	svc := newTestService(index, fleet)

	if err := svc.Heartbeat(ctx, heartbeat("d1", near(1), time.Now())); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := svc.Heartbeat(ctx, Heartbeat{DriverID: "d1", Position: near(1), Online: false}); err != nil {
		t.Fatalf("offline heartbeat: %v", err)
	}
	got, err := svc.FindCandidates(ctx, pickup, 1, 5, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("offline driver must be gone, got %+v", got)
	}
}

func TestHeartbeat_Validation(t *testing.T) {
	svc := newTestService(newFakeIndex(), &fakeFleet{})
	ctx := context.Background()

	err := svc.Heartbeat(ctx, Heartbeat{Position: pickup, Online: true})
	if !errorsIs(err, apperr.ErrValidation) {
		t.Fatalf("expected ValidationError for missing driver, got %v", err)
	}
	err = svc.Heartbeat(ctx, Heartbeat{DriverID: "d1", Position: types.Point{Lat: 100, Lng: 0}, Online: true})
	if !errorsIs(err, apperr.ErrValidation) {
		t.Fatalf("expected ValidationError for bad coords, got %v", err)
	}
}

func errorsIs(err, target error) bool { return errors.Is(err, target) }
