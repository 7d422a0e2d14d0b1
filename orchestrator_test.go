package duress

import (
	"context"
	"errors"
	"testing"
	"time"

	duressErrors "github.com/SarahJChong/emergency-duress-app-sub000/errors"
)

func testProfile() *UserProfile {
	return &UserProfile{
		Location:   &Location{ID: "loc1", Name: "Site A"},
		RoomNumber: "12",
		Name:       "Alice",
	}
}

type orchestratorFixture struct {
	repo     *fakePending
	remote   *fakeRemote
	oracle   *fakeOracle
	tokens   *fakeTokens
	profiles *fakeProfiles
	locator  *fakeLocator
}

func newOrchestrator(t *testing.T, fx *orchestratorFixture, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	if fx.repo == nil {
		fx.repo = &fakePending{}
	}
	if fx.remote == nil {
		fx.remote = &fakeRemote{}
	}
	if fx.oracle == nil {
		fx.oracle = &fakeOracle{}
	}
	if fx.tokens == nil {
		fx.tokens = &fakeTokens{signedIn: true, token: "tok"}
	}
	if fx.profiles == nil {
		fx.profiles = &fakeProfiles{profile: testProfile(), cached: testProfile()}
	}

	allOpts := []OrchestratorOption{
		WithClock(func() string { return "2025-01-01T00:00:00.000Z" }),
	}
	if fx.locator != nil {
		allOpts = append(allOpts, WithLocator(fx.locator))
	}
	allOpts = append(allOpts, opts...)

	return NewOrchestrator(fx.repo, fx.remote, fx.oracle, fx.tokens, fx.profiles, allOpts...)
}

func TestRaiseOfflinePersistsPendingIncident(t *testing.T) {
	fx := &orchestratorFixture{
		oracle:  &fakeOracle{offline: true},
		locator: &fakeLocator{pos: &Position{Latitude: 1.23, Longitude: 4.56}},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	incidents, _ := fx.repo.GetAll(context.Background())
	if len(incidents) != 1 {
		t.Fatalf("expected 1 pending incident, got %d", len(incidents))
	}

	got := incidents[0]
	if got.LocationID != "loc1" {
		t.Errorf("LocationID = %q, want loc1", got.LocationID)
	}
	if got.RoomNumber != "12" {
		t.Errorf("RoomNumber = %q, want 12", got.RoomNumber)
	}
	if got.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", got.Name)
	}
	if got.Status != PendingOpen {
		t.Errorf("Status = %q, want Open", got.Status)
	}
	if got.CreatedAt != "2025-01-01T00:00:00.000Z" {
		t.Errorf("CreatedAt = %q", got.CreatedAt)
	}
	if got.Latitude == nil || *got.Latitude != 1.23 {
		t.Errorf("Latitude = %v, want 1.23", got.Latitude)
	}
	if got.Longitude == nil || *got.Longitude != 4.56 {
		t.Errorf("Longitude = %v, want 4.56", got.Longitude)
	}
	if len(fx.remote.createCalls) != 0 {
		t.Error("offline raise must not hit the network")
	}
}

func TestRaiseOfflineRequiresUserLocation(t *testing.T) {
	fx := &orchestratorFixture{
		oracle:   &fakeOracle{offline: true},
		profiles: &fakeProfiles{cached: &UserProfile{Name: "Alice"}}, // no location
	}
	o := newOrchestrator(t, fx)

	err := o.Raise(context.Background(), RaiseOptions{})
	if !errors.Is(err, duressErrors.ErrNoUserLocation) {
		t.Fatalf("expected ErrNoUserLocation, got %v", err)
	}
	if fx.repo.stored != 0 {
		t.Error("failed raise must not write to storage")
	}
}

func TestRaiseOfflineWithoutAnyProfile(t *testing.T) {
	fx := &orchestratorFixture{
		oracle:   &fakeOracle{offline: true},
		profiles: &fakeProfiles{},
	}
	o := newOrchestrator(t, fx)

	err := o.Raise(context.Background(), RaiseOptions{})
	if !errors.Is(err, duressErrors.ErrNoUserLocation) {
		t.Fatalf("expected ErrNoUserLocation, got %v", err)
	}
}

func TestRaiseGPSFailureIsNonFatal(t *testing.T) {
	fx := &orchestratorFixture{
		oracle:  &fakeOracle{offline: true},
		locator: &fakeLocator{err: errors.New("permission denied")},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise should survive GPS failure, got %v", err)
	}

	incidents, _ := fx.repo.GetAll(context.Background())
	if len(incidents) != 1 {
		t.Fatalf("expected 1 pending incident, got %d", len(incidents))
	}
	if incidents[0].Latitude != nil || incidents[0].Longitude != nil {
		t.Error("coordinates should be absent after GPS failure")
	}
}

func TestRaiseOnlineCreatesRemotely(t *testing.T) {
	fx := &orchestratorFixture{
		locator: &fakeLocator{pos: &Position{Latitude: 1.23, Longitude: 4.56}},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{IsAnonymous: true}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	if len(fx.remote.createCalls) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(fx.remote.createCalls))
	}
	req := fx.remote.createCalls[0]
	if req.LocationID != "loc1" || req.RoomNumber != "12" {
		t.Errorf("unexpected create request: %+v", req)
	}
	if !req.IsAnonymous {
		t.Error("IsAnonymous not forwarded")
	}
	if req.Latitude == nil || *req.Latitude != 1.23 {
		t.Errorf("Latitude = %v", req.Latitude)
	}
	if fx.repo.stored != 0 {
		t.Error("online raise must not write a pending record")
	}
}

func TestRaiseOnlineGPSFailureStillSucceeds(t *testing.T) {
	fx := &orchestratorFixture{
		locator: &fakeLocator{err: errors.New("timeout")},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	req := fx.remote.createCalls[0]
	if req.Latitude != nil || req.Longitude != nil {
		t.Error("coordinates should be absent after GPS failure")
	}
}

func TestRaiseOnlineSurfacesRemoteError(t *testing.T) {
	fx := &orchestratorFixture{
		remote: &fakeRemote{createErr: errors.New("server down")},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{}); err == nil {
		t.Fatal("expected remote error to propagate")
	}
}

func TestRaiseOnlineTriggersOpportunisticSync(t *testing.T) {
	queued := PendingIncident{
		LocationID: "loc1",
		Status:     PendingOpen,
		CreatedAt:  "2024-12-31T00:00:00.000Z",
	}
	fx := &orchestratorFixture{
		repo: &fakePending{incidents: []PendingIncident{queued}},
	}
	o := newOrchestrator(t, fx)

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	// The sync runs fire-and-forget; wait for the queued record to drain.
	deadline := time.After(2 * time.Second)
	for {
		incidents, _ := fx.repo.GetAll(context.Background())
		if len(incidents) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queued pending incident was never synced after online raise")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRaiseOfflineTwiceMutatesInPlace(t *testing.T) {
	fx := &orchestratorFixture{
		oracle: &fakeOracle{offline: true},
	}
	stamps := []string{"2025-01-01T00:00:00.000Z", "2025-01-02T00:00:00.000Z"}
	i := 0
	o := newOrchestrator(t, fx, WithClock(func() string {
		s := stamps[i%len(stamps)]
		i++
		return s
	}))

	ctx := context.Background()
	if err := o.Raise(ctx, RaiseOptions{}); err != nil {
		t.Fatalf("first Raise failed: %v", err)
	}
	if err := o.Raise(ctx, RaiseOptions{IsAnonymous: true}); err != nil {
		t.Fatalf("second Raise failed: %v", err)
	}

	incidents, _ := fx.repo.GetAll(ctx)
	if len(incidents) != 1 {
		t.Fatalf("expected a single open pending incident, got %d", len(incidents))
	}
	if incidents[0].CreatedAt != "2025-01-01T00:00:00.000Z" {
		t.Errorf("CreatedAt changed across re-raise: %q", incidents[0].CreatedAt)
	}
	if !incidents[0].IsAnonymous {
		t.Error("re-raise should have updated the record's fields")
	}
}

func TestCancelRequiresReason(t *testing.T) {
	o := newOrchestrator(t, &orchestratorFixture{})

	err := o.Cancel(context.Background(), "")
	if !errors.Is(err, duressErrors.ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
}

func TestCancelOnlineCallsRemote(t *testing.T) {
	fx := &orchestratorFixture{}
	o := newOrchestrator(t, fx)

	if err := o.Cancel(context.Background(), "false alarm"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(fx.remote.cancelCalls) != 1 || fx.remote.cancelCalls[0] != "false alarm" {
		t.Errorf("cancel calls = %v", fx.remote.cancelCalls)
	}
}

func TestCancelOfflineWithoutOpenIncident(t *testing.T) {
	fx := &orchestratorFixture{
		oracle: &fakeOracle{offline: true},
	}
	o := newOrchestrator(t, fx)

	err := o.Cancel(context.Background(), "false alarm")
	if !errors.Is(err, duressErrors.ErrNoOpenIncident) {
		t.Fatalf("expected ErrNoOpenIncident, got %v", err)
	}
}

func TestCancelOfflineCancelsOpenPending(t *testing.T) {
	open := PendingIncident{
		LocationID: "loc1",
		Status:     PendingOpen,
		CreatedAt:  "2025-01-01T00:00:00.000Z",
	}
	fx := &orchestratorFixture{
		oracle: &fakeOracle{offline: true},
		repo:   &fakePending{incidents: []PendingIncident{open}},
	}
	o := newOrchestrator(t, fx)

	if err := o.Cancel(context.Background(), "false alarm"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	incidents, _ := fx.repo.GetAll(context.Background())
	if len(incidents) != 1 {
		t.Fatalf("expected record to remain, got %d", len(incidents))
	}
	got := incidents[0]
	if got.Status != PendingCancelled {
		t.Errorf("Status = %q, want Cancelled", got.Status)
	}
	if got.CancellationReason != "false alarm" {
		t.Errorf("CancellationReason = %q", got.CancellationReason)
	}
	if got.CreatedAt != "2025-01-01T00:00:00.000Z" {
		t.Errorf("CreatedAt changed: %q", got.CreatedAt)
	}
	if len(fx.remote.cancelCalls) != 0 {
		t.Error("offline cancel must not hit the network")
	}
}

func TestSyncPendingRemovesAcknowledgedRecords(t *testing.T) {
	records := []PendingIncident{
		{LocationID: "loc1", Status: PendingOpen, CreatedAt: "2025-01-01T00:00:00.000Z"},
		{LocationID: "loc1", Status: PendingCancelled, CreatedAt: "2025-01-02T00:00:00.000Z", CancellationReason: "false alarm"},
	}
	fx := &orchestratorFixture{
		repo: &fakePending{incidents: records},
	}
	o := newOrchestrator(t, fx)

	result, err := o.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("SyncPending failed: %v", err)
	}
	if result.Synced != 2 || result.Retained != 0 {
		t.Errorf("result = %+v", result)
	}

	incidents, _ := fx.repo.GetAll(context.Background())
	if len(incidents) != 0 {
		t.Errorf("expected empty repository, got %d records", len(incidents))
	}

	// The cancelled record must carry its reason; the open one must not.
	calls := fx.remote.syncCalls
	if len(calls) != 2 {
		t.Fatalf("expected 2 sync calls, got %d", len(calls))
	}
	if calls[0].CancellationReason != "" {
		t.Errorf("open record sent a cancellation reason: %q", calls[0].CancellationReason)
	}
	if calls[1].CancellationReason != "false alarm" {
		t.Errorf("cancelled record reason = %q", calls[1].CancellationReason)
	}
}

func TestSyncPendingRetainsFailedRecords(t *testing.T) {
	records := []PendingIncident{
		{LocationID: "loc1", Status: PendingOpen, CreatedAt: "2025-01-01T00:00:00.000Z"},
		{LocationID: "loc1", Status: PendingOpen, CreatedAt: "2025-01-02T00:00:00.000Z"},
		{LocationID: "loc1", Status: PendingOpen, CreatedAt: "2025-01-03T00:00:00.000Z"},
	}
	fx := &orchestratorFixture{
		repo: &fakePending{incidents: records},
		remote: &fakeRemote{
			failSync: map[string]error{
				"2025-01-02T00:00:00.000Z": errors.New("server rejected"),
			},
		},
	}
	o := newOrchestrator(t, fx)

	result, err := o.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("SyncPending failed: %v", err)
	}
	if result.Synced != 2 {
		t.Errorf("Synced = %d, want 2", result.Synced)
	}
	if result.Retained != 1 {
		t.Errorf("Retained = %d, want 1", result.Retained)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v", result.Errors)
	}

	incidents, _ := fx.repo.GetAll(context.Background())
	if len(incidents) != 1 {
		t.Fatalf("expected exactly the failed record, got %d", len(incidents))
	}
	if incidents[0].CreatedAt != "2025-01-02T00:00:00.000Z" {
		t.Errorf("wrong record retained: %q", incidents[0].CreatedAt)
	}

	// Only acknowledged records may ever be removed.
	for _, createdAt := range fx.repo.removed {
		if createdAt == "2025-01-02T00:00:00.000Z" {
			t.Error("failed record was removed from storage")
		}
	}
}

func TestSyncPendingEmptyRepositoryIsQuiet(t *testing.T) {
	fx := &orchestratorFixture{}
	o := newOrchestrator(t, fx)

	result, err := o.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("SyncPending failed: %v", err)
	}
	if result.Synced != 0 || result.Retained != 0 || result.Skipped {
		t.Errorf("result = %+v", result)
	}
}

func TestSyncPendingSingleFlight(t *testing.T) {
	records := []PendingIncident{
		{LocationID: "loc1", Status: PendingOpen, CreatedAt: "2025-01-01T00:00:00.000Z"},
	}
	remote := &fakeRemote{
		syncStarted: make(chan struct{}, 1),
		syncBlock:   make(chan struct{}),
	}
	fx := &orchestratorFixture{
		repo:   &fakePending{incidents: records},
		remote: remote,
	}
	o := newOrchestrator(t, fx)

	done := make(chan *SyncResult, 1)
	go func() {
		result, _ := o.SyncPending(context.Background())
		done <- result
	}()

	// Wait until the first pass is inside the remote call, then race it.
	<-remote.syncStarted
	second, err := o.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("second SyncPending failed: %v", err)
	}
	if !second.Skipped {
		t.Error("concurrent sync should have been skipped")
	}

	close(remote.syncBlock)
	first := <-done
	if first.Skipped || first.Synced != 1 {
		t.Errorf("first pass result = %+v", first)
	}
}

func TestSubscriberNotifiedOnOfflineRaise(t *testing.T) {
	fx := &orchestratorFixture{
		oracle: &fakeOracle{offline: true},
	}
	o := newOrchestrator(t, fx)

	changes := make(chan Change, 4)
	o.Subscribe(func(c Change) { changes <- c })

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	select {
	case c := <-changes:
		if c != ChangePendingIncidents {
			t.Errorf("change = %q, want %q", c, ChangePendingIncidents)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was never notified")
	}
}

func TestSubscriberPanicIsContained(t *testing.T) {
	fx := &orchestratorFixture{
		oracle: &fakeOracle{offline: true},
	}
	o := newOrchestrator(t, fx)

	o.Subscribe(func(c Change) { panic("bad subscriber") })

	if err := o.Raise(context.Background(), RaiseOptions{}); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	// Give the notifier goroutine a moment; the test passes if nothing
	// crashes the process.
	time.Sleep(20 * time.Millisecond)
}
