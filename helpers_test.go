package duress

import (
	"context"
	"sync"
)

// fakePending implements PendingStore in memory and records mutations so
// tests can assert on exactly which records were touched.
type fakePending struct {
	mu        sync.Mutex
	incidents []PendingIncident
	removed   []string
	stored    int
	getErr    error
	storeErr  error
}

func (f *fakePending) Store(ctx context.Context, incident PendingIncident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored++
	for i := range f.incidents {
		if f.incidents[i].CreatedAt == incident.CreatedAt {
			f.incidents[i] = incident
			return nil
		}
	}
	f.incidents = append(f.incidents, incident)
	return nil
}

func (f *fakePending) GetAll(ctx context.Context) ([]PendingIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]PendingIncident, len(f.incidents))
	copy(out, f.incidents)
	return out, nil
}

func (f *fakePending) GetOpen(ctx context.Context) (*PendingIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.incidents {
		if f.incidents[i].Status == PendingOpen {
			incident := f.incidents[i]
			return &incident, nil
		}
	}
	return nil, nil
}

func (f *fakePending) Remove(ctx context.Context, createdAt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.incidents[:0]
	for _, incident := range f.incidents {
		if incident.CreatedAt == createdAt {
			f.removed = append(f.removed, createdAt)
			continue
		}
		kept = append(kept, incident)
	}
	f.incidents = kept
	return nil
}

func (f *fakePending) Cancel(ctx context.Context, createdAt, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.incidents {
		if f.incidents[i].CreatedAt != createdAt {
			continue
		}
		if f.incidents[i].Status == PendingCancelled {
			return nil
		}
		f.incidents[i].Status = PendingCancelled
		f.incidents[i].CancellationReason = reason
		f.incidents[i].CancelledAt = "2025-06-01T10:00:00.000Z"
		return nil
	}
	return nil
}

// fakeRemote implements RemoteClient and records every call. Sync failures
// are injected per CreatedAt via failSync.
type fakeRemote struct {
	mu           sync.Mutex
	createCalls  []CreateIncidentRequest
	cancelCalls  []string
	syncCalls    []SyncIncidentRequest
	createErr    error
	cancelErr    error
	listErr      error
	failSync     map[string]error
	incidents    []Incident
	syncStarted  chan struct{}
	syncBlock    chan struct{}
}

func (f *fakeRemote) CreateIncident(ctx context.Context, req CreateIncidentRequest) (*CreateIncidentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createCalls = append(f.createCalls, req)
	return &CreateIncidentResponse{ID: "inc-1", Status: StatusOpen}, nil
}

func (f *fakeRemote) CancelIncident(ctx context.Context, reason string) (*Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelCalls = append(f.cancelCalls, reason)
	return &Incident{ID: "inc-1", Status: StatusCancelled, CancellationReason: reason}, nil
}

func (f *fakeRemote) SyncIncident(ctx context.Context, req SyncIncidentRequest) (*Incident, error) {
	if f.syncStarted != nil {
		f.syncStarted <- struct{}{}
	}
	if f.syncBlock != nil {
		<-f.syncBlock
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSync[req.CreatedAt]; err != nil {
		return nil, err
	}
	f.syncCalls = append(f.syncCalls, req)
	return &Incident{ID: "synced-" + req.CreatedAt}, nil
}

func (f *fakeRemote) ActiveIncident(ctx context.Context) (*Incident, error) {
	return nil, nil
}

func (f *fakeRemote) ListIncidents(ctx context.Context) ([]Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Incident, len(f.incidents))
	copy(out, f.incidents)
	return out, nil
}

func (f *fakeRemote) syncedCreatedAts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.syncCalls))
	for _, call := range f.syncCalls {
		out = append(out, call.CreatedAt)
	}
	return out
}

// fakeOracle reports a fixed offline state.
type fakeOracle struct {
	mu      sync.Mutex
	offline bool
}

func (f *fakeOracle) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeOracle) Offline(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline
}

func (f *fakeOracle) OfflineWithCachedUser(ctx context.Context) bool {
	return f.Offline(ctx)
}

// fakeTokens implements TokenSource.
type fakeTokens struct {
	signedIn bool
	token    string
}

func (f *fakeTokens) IsSignedIn() bool { return f.signedIn }

func (f *fakeTokens) BearerToken(ctx context.Context) (string, error) {
	return f.token, nil
}

// fakeProfiles implements ProfileSource.
type fakeProfiles struct {
	profile *UserProfile
	cached  *UserProfile
	err     error
}

func (f *fakeProfiles) Profile(ctx context.Context) (*UserProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func (f *fakeProfiles) Cached() *UserProfile { return f.cached }

// fakeLocator implements Locator.
type fakeLocator struct {
	pos *Position
	err error
}

func (f *fakeLocator) CurrentPosition(ctx context.Context) (*Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pos, nil
}
