// README: Tracking engine tests: projection, ETA scaling, deviation streaks, completion.
package tracking

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"lifeline/internal/config"
	"lifeline/internal/modules/route"
	"lifeline/internal/types"
)

// Test geometry runs due east along latitude 25.04 for roughly 4 km.
var testPath = []types.Point{
	{Lat: 25.0400, Lng: 121.5100},
	{Lat: 25.0400, Lng: 121.5300},
	{Lat: 25.0400, Lng: 121.5500},
}

// Offsets in latitude degrees; 0.0009° of latitude is about 100 m.
const (
	offRoute200m = 0.0018
	offRoute400m = 0.0036
)

func TestIngest_FirstSampleActivatesPendingRoute(t *testing.T) {
	env := newTrackingEnv(t, route.StatusPending)

	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[0],
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if u.Status != route.StatusActive {
		t.Errorf("status = %s, want active", u.Status)
	}
	if !u.OnRoute {
		t.Error("sample at the route start should be on-route")
	}
	if u.ProgressPct > 1 {
		t.Errorf("progress = %.2f%%, want ~0", u.ProgressPct)
	}
	// Full traffic duration remains at the start.
	if diff := u.RemainingDuration - 12*time.Minute; diff < -30*time.Second || diff > 30*time.Second {
		t.Errorf("remaining = %v, want ~12m", u.RemainingDuration)
	}
	if len(env.samples.all) != 1 {
		t.Fatalf("samples recorded = %d, want 1", len(env.samples.all))
	}
	if env.feed.published != 1 {
		t.Errorf("feed publishes = %d, want 1", env.feed.published)
	}
}

func TestIngest_MidpointScalesRemaining(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: types.Point{Lat: 25.0400, Lng: 121.5300},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if math.Abs(u.ProgressPct-50) > 2 {
		t.Errorf("progress = %.2f%%, want ~50", u.ProgressPct)
	}
	// Half the path left means half the original traffic estimate.
	if diff := u.RemainingDuration - 6*time.Minute; diff < -30*time.Second || diff > 30*time.Second {
		t.Errorf("remaining = %v, want ~6m", u.RemainingDuration)
	}
	wantETA := time.Now().Add(u.RemainingDuration)
	if math.Abs(u.CurrentETA.Sub(wantETA).Seconds()) > 2 {
		t.Errorf("ETA = %v, want ~%v", u.CurrentETA, wantETA)
	}
}

func TestIngest_DeviationStreakTriggersReroute(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)
	off := types.Point{Lat: 25.0400 + offRoute200m, Lng: 121.5300}

	for i := 1; i <= 2; i++ {
		u, err := env.svc.IngestPosition(context.Background(), IngestCommand{RouteID: env.routeID, Position: off})
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if u.OnRoute {
			t.Fatalf("sample %d at ~200m should be off-route", i)
		}
		if u.DeviationStreak != i {
			t.Errorf("sample %d: streak = %d, want %d", i, u.DeviationStreak, i)
		}
		if u.ShouldReroute {
			t.Errorf("sample %d: reroute advised before the streak threshold", i)
		}
		if u.Status != route.StatusActive {
			t.Errorf("sample %d: status = %s, want active", i, u.Status)
		}
	}

	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{RouteID: env.routeID, Position: off})
	if err != nil {
		t.Fatalf("third ingest: %v", err)
	}
	if u.DeviationStreak != 3 {
		t.Errorf("streak = %d, want 3", u.DeviationStreak)
	}
	if !u.ShouldReroute {
		t.Error("three consecutive off-route samples should advise a reroute")
	}
	if u.Status != route.StatusDeviated {
		t.Errorf("status = %s, want deviated", u.Status)
	}
}

func TestIngest_FarOffRouteAdvisesRerouteImmediately(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: types.Point{Lat: 25.0400 + offRoute400m, Lng: 121.5300},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !u.ShouldReroute {
		t.Error("a single sample past the reroute distance should advise a reroute")
	}
	if u.DeviationStreak != 1 {
		t.Errorf("streak = %d, want 1", u.DeviationStreak)
	}
	if u.Status != route.StatusDeviated {
		t.Errorf("status = %s, want deviated", u.Status)
	}
}

func TestIngest_RecoveryResetsStreak(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)
	off := types.Point{Lat: 25.0400 + offRoute400m, Lng: 121.5300}

	if _, err := env.svc.IngestPosition(context.Background(), IngestCommand{RouteID: env.routeID, Position: off}); err != nil {
		t.Fatalf("off-route ingest: %v", err)
	}
	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: types.Point{Lat: 25.0400, Lng: 121.5300},
	})
	if err != nil {
		t.Fatalf("recovery ingest: %v", err)
	}
	if u.DeviationStreak != 0 {
		t.Errorf("streak = %d, want 0 after recovery", u.DeviationStreak)
	}
	if u.Status != route.StatusActive {
		t.Errorf("status = %s, want active", u.Status)
	}
}

func TestIngest_CompletionAtDestination(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	u, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[len(testPath)-1],
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !u.Completed {
		t.Error("sample at the destination should complete the route")
	}
	if u.Status != route.StatusCompleted {
		t.Errorf("status = %s, want completed", u.Status)
	}

	// History is retained but new samples are rejected.
	if _, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[0],
	}); err != route.ErrRouteInactive {
		t.Fatalf("post-completion ingest: err = %v, want ErrRouteInactive", err)
	}
	if len(env.samples.all) != 1 {
		t.Errorf("samples = %d, want 1 (rejected sample must not be stored)", len(env.samples.all))
	}
}

func TestIngest_DeactivatedRoute(t *testing.T) {
	env := newTrackingEnv(t, route.StatusCompleted)

	_, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[0],
	})
	if err != route.ErrRouteInactive {
		t.Fatalf("err = %v, want ErrRouteInactive", err)
	}
}

func TestIngest_ConcurrentSamplesSameRoute(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.IngestPosition(context.Background(), IngestCommand{
				RouteID:  env.routeID,
				Position: types.Point{Lat: 25.0400, Lng: 121.5200},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ingest failed: %v", err)
		}
	}
	if len(env.samples.all) != 8 {
		t.Errorf("samples = %d, want 8", len(env.samples.all))
	}
}

func TestIngest_RepeatedSampleIsStable(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)
	mid := types.Point{Lat: 25.0400, Lng: 121.5300}

	first, err := env.svc.IngestPosition(context.Background(), IngestCommand{RouteID: env.routeID, Position: mid})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := env.svc.IngestPosition(context.Background(), IngestCommand{RouteID: env.routeID, Position: mid})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if second.ProgressPct != first.ProgressPct {
		t.Errorf("progress = %.4f, want %.4f (same position, same progress)", second.ProgressPct, first.ProgressPct)
	}
	if second.RemainingDistanceM != first.RemainingDistanceM {
		t.Errorf("remaining distance = %d, want %d", second.RemainingDistanceM, first.RemainingDistanceM)
	}
	if second.RemainingDuration != first.RemainingDuration {
		t.Errorf("remaining duration = %v, want %v", second.RemainingDuration, first.RemainingDuration)
	}
	if math.Abs(second.CurrentETA.Sub(first.CurrentETA).Seconds()) > 2 {
		t.Errorf("ETA drifted from %v to %v on an identical sample", first.CurrentETA, second.CurrentETA)
	}
	if second.Status != route.StatusActive || second.DeviationStreak != 0 {
		t.Errorf("status = %s streak = %d, want active with no streak", second.Status, second.DeviationStreak)
	}
	if len(env.samples.all) != 2 {
		t.Errorf("samples = %d, want 2 (both recorded)", len(env.samples.all))
	}
}

func TestComplete_Explicit(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	if err := env.svc.Complete(context.Background(), env.routeID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.svc.Complete(context.Background(), env.routeID); err != route.ErrRouteInactive {
		t.Fatalf("double complete: err = %v, want ErrRouteInactive", err)
	}
}

func TestTerminalRouteReleasesLock(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	if _, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: types.Point{Lat: 25.0400, Lng: 121.5200},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !env.lockHeld(env.routeID) {
		t.Fatal("live route should keep its lock entry between samples")
	}

	// Completion, via ingest at the destination, drops the entry.
	if _, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[len(testPath)-1],
	}); err != nil {
		t.Fatalf("completing ingest: %v", err)
	}
	if env.lockHeld(env.routeID) {
		t.Error("completed route should not retain its lock entry")
	}

	// A late sample recreates the entry only long enough to reject it.
	if _, err := env.svc.IngestPosition(context.Background(), IngestCommand{
		RouteID:  env.routeID,
		Position: testPath[0],
	}); err != route.ErrRouteInactive {
		t.Fatalf("late ingest: err = %v, want ErrRouteInactive", err)
	}
	if env.lockHeld(env.routeID) {
		t.Error("rejected late sample should not leave a lock entry behind")
	}
}

func TestComplete_ReleasesLock(t *testing.T) {
	env := newTrackingEnv(t, route.StatusActive)

	if err := env.svc.Complete(context.Background(), env.routeID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if env.lockHeld(env.routeID) {
		t.Error("explicit completion should drop the route's lock entry")
	}
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type trackingEnv struct {
	svc     *Service
	routeID types.ID
	routes  *memRouteStore
	samples *memSampleStore
	feed    *countingFeed
}

func (e *trackingEnv) lockHeld(id types.ID) bool {
	e.svc.locksMu.Lock()
	defer e.svc.locksMu.Unlock()
	_, ok := e.svc.locks[id]
	return ok
}

func newTrackingEnv(t *testing.T, status route.Status) *trackingEnv {
	t.Helper()
	now := time.Now()
	r := &route.Route{
		ID:              "r1",
		RequestID:       "req1",
		AssignmentID:    "a1",
		Status:          status,
		Origin:          testPath[0],
		Destination:     testPath[len(testPath)-1],
		Geometry:        testPath,
		DistanceM:       4030,
		Duration:        10 * time.Minute,
		TrafficDuration: 12 * time.Minute,
		OriginalETA:     now.Add(12 * time.Minute),
		CurrentETA:      now.Add(12 * time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	env := &trackingEnv{
		routeID: r.ID,
		routes:  &memRouteStore{routes: map[types.ID]*route.Route{r.ID: r}},
		samples: &memSampleStore{},
		feed:    &countingFeed{},
	}
	cfg := config.TrackingConfig{OnRouteThresholdM: 100, RerouteDistanceM: 300, RerouteStreak: 3}
	env.svc = NewService(env.routes, env.samples, env.feed, cfg, zap.NewNop())
	return env
}

type memRouteStore struct {
	mu     sync.Mutex
	routes map[types.ID]*route.Route
}

func (m *memRouteStore) GetRoute(_ context.Context, id types.ID) (*route.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, route.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRouteStore) RecordProgress(_ context.Context, id types.ID, from, to route.Status, version int, currentETA time.Time, deviationCount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	r.CurrentETA = currentETA
	r.DeviationCount = deviationCount
	return true, nil
}

func (m *memRouteStore) UpdateStatus(_ context.Context, id types.ID, from, to route.Status, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	return true, nil
}

type memSampleStore struct {
	mu  sync.Mutex
	all []Sample
}

func (m *memSampleStore) AppendSample(_ context.Context, s *Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.all) + 1)
	m.all = append(m.all, *s)
	return nil
}

func (m *memSampleStore) SamplesByRoute(_ context.Context, routeID types.ID, limit int) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sample
	for i := len(m.all) - 1; i >= 0 && len(out) < limit; i-- {
		if m.all[i].RouteID == routeID {
			out = append(out, m.all[i])
		}
	}
	return out, nil
}

type countingFeed struct {
	mu        sync.Mutex
	published int
}

func (f *countingFeed) PublishPosition(context.Context, *Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
}
