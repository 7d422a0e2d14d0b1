package duress

import (
	"context"
	"log/slog"
	stdSync "sync"
	"time"

	duressErrors "github.com/SarahJChong/emergency-duress-app-sub000/errors"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// Change identifies a view whose backing data just changed. Subscribers use
// these to refresh what they display.
type Change string

const (
	// ChangeActiveIncident: the user's active server incident changed.
	ChangeActiveIncident Change = "active_incident"

	// ChangeIncidentHistory: the user's server incident history changed.
	ChangeIncidentHistory Change = "incident_history"

	// ChangePendingIncidents: the local pending collection changed (open
	// pending incident and pending list views).
	ChangePendingIncidents Change = "pending_incidents"
)

// RaiseOptions are the caller-supplied inputs to a raise action.
type RaiseOptions struct {
	IsAnonymous bool
}

// SyncResult reports the outcome of one reconciliation pass.
type SyncResult struct {
	// Synced is the number of pending records acknowledged and removed.
	Synced int

	// Retained is the number of records left in place for a later retry.
	Retained int

	// Skipped is true when another sync was already in flight and this
	// invocation did nothing.
	Skipped bool

	// Errors holds the per-record failures; they are never fatal to the pass.
	Errors []error

	// StartTime is when the pass began
	StartTime time.Time

	// Duration is how long the pass took
	Duration time.Duration
}

// Orchestrator is the decision engine for the incident lifecycle: it routes
// raise and cancel actions online or offline based on the Oracle, and drives
// reconciliation of pending records once the backend is reachable again.
type Orchestrator struct {
	repo     PendingStore
	remote   RemoteClient
	oracle   Oracle
	tokens   TokenSource
	profiles ProfileSource
	locator  Locator
	now      func() string
	logger   *logging.Logger

	// Internal state
	mu          stdSync.RWMutex
	subscribers []func(Change)

	// syncMu serializes reconciliation passes: overlapping triggers (a
	// raise-triggered sync racing a connectivity-triggered one) are skipped
	// rather than run twice.
	syncMu stdSync.Mutex
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the timestamp source for new pending incidents.
func WithClock(now func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLocator sets the device GPS lookup. Without one, incidents are raised
// without coordinates.
func WithLocator(locator Locator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.locator = locator
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(repo PendingStore, remote RemoteClient, oracle Oracle, tokens TokenSource, profiles ProfileSource, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		remote:   remote,
		oracle:   oracle,
		tokens:   tokens,
		profiles: profiles,
		now:      Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent(logging.Component("orchestrator"))
	}
	return o
}

// Raise raises a duress incident. Online it goes straight to the server;
// offline it is persisted locally as a pending incident and reconciled later.
// GPS acquisition is best effort and never blocks the raise.
func (o *Orchestrator) Raise(ctx context.Context, opts RaiseOptions) error {
	pos := o.locate(ctx)
	offline := o.oracle.Offline(ctx)

	var err error
	if offline {
		err = o.raiseOffline(ctx, opts, pos)
	} else {
		err = o.raiseOnline(ctx, opts, pos)
	}
	if err != nil {
		return err
	}

	// Opportunistic reconciliation: a successful raise while online and
	// signed in is a good moment to flush anything still queued. Its failure
	// must not fail the raise.
	if !offline && o.tokens.IsSignedIn() {
		go func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := o.SyncPending(syncCtx); err != nil {
				o.logger.LogError(syncCtx, err, "opportunistic sync after raise failed")
			}
		}()
	}

	return nil
}

func (o *Orchestrator) raiseOnline(ctx context.Context, opts RaiseOptions, pos *Position) error {
	profile := o.currentProfile(ctx)

	req := CreateIncidentRequest{
		IsAnonymous: opts.IsAnonymous,
	}
	if profile != nil {
		if profile.Location != nil {
			req.LocationID = profile.Location.ID
		}
		req.RoomNumber = profile.RoomNumber
	}
	if pos != nil {
		req.Latitude = &pos.Latitude
		req.Longitude = &pos.Longitude
	}

	resp, err := o.remote.CreateIncident(ctx, req)
	if err != nil {
		return err
	}

	o.logger.Info("incident raised online",
		slog.String("incident_id", resp.ID))
	o.notify(ChangeActiveIncident)
	o.notify(ChangeIncidentHistory)
	return nil
}

func (o *Orchestrator) raiseOffline(ctx context.Context, opts RaiseOptions, pos *Position) error {
	profile := o.profiles.Cached()
	if profile == nil || profile.Location == nil {
		return duressErrors.NewPreconditionError(duressErrors.OpRaise, duressErrors.ErrNoUserLocation)
	}

	incident := PendingIncident{
		LocationID:  profile.Location.ID,
		Location:    profile.Location,
		RoomNumber:  profile.RoomNumber,
		Name:        profile.Name,
		IsAnonymous: opts.IsAnonymous,
		Status:      PendingOpen,
		CreatedAt:   o.now(),
	}
	if pos != nil {
		incident.Latitude = &pos.Latitude
		incident.Longitude = &pos.Longitude
	}

	// A user has at most one active duress call: raising again before the
	// previous pending incident synced mutates that record in place, keeping
	// its CreatedAt identity.
	open, err := o.repo.GetOpen(ctx)
	if err != nil {
		return err
	}
	if open != nil {
		incident.CreatedAt = open.CreatedAt
	}

	if err := o.repo.Store(ctx, incident); err != nil {
		return err
	}

	o.logger.Info("incident raised offline",
		slog.String("created_at", incident.CreatedAt),
		slog.String("location_id", incident.LocationID))
	o.notify(ChangePendingIncidents)
	return nil
}

// Cancel cancels the user's active incident with a reason. Online it cancels
// on the server; offline it cancels the open pending incident in place.
func (o *Orchestrator) Cancel(ctx context.Context, reason string) error {
	if reason == "" {
		return duressErrors.NewPreconditionError(duressErrors.OpCancel, duressErrors.ErrEmptyReason)
	}

	if o.oracle.Offline(ctx) {
		return o.cancelOffline(ctx, reason)
	}
	return o.cancelOnline(ctx, reason)
}

func (o *Orchestrator) cancelOnline(ctx context.Context, reason string) error {
	incident, err := o.remote.CancelIncident(ctx, reason)
	if err != nil {
		return err
	}

	o.logger.Info("incident cancelled online",
		slog.String("incident_id", incident.ID))
	o.notify(ChangeActiveIncident)
	o.notify(ChangeIncidentHistory)
	return nil
}

func (o *Orchestrator) cancelOffline(ctx context.Context, reason string) error {
	open, err := o.repo.GetOpen(ctx)
	if err != nil {
		return err
	}
	if open == nil {
		return duressErrors.NewPreconditionError(duressErrors.OpCancel, duressErrors.ErrNoOpenIncident)
	}

	if err := o.repo.Cancel(ctx, open.CreatedAt, reason); err != nil {
		return err
	}

	o.logger.Info("incident cancelled offline",
		slog.String("created_at", open.CreatedAt))
	o.notify(ChangePendingIncidents)
	return nil
}

// SyncPending replays every pending record against the server, in stored
// order. Each record is independent: success removes it, failure logs and
// retains it for the next pass. Only one pass runs at a time; overlapping
// triggers are skipped since the next transition to online retries anyway.
func (o *Orchestrator) SyncPending(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	if !o.syncMu.TryLock() {
		result.Skipped = true
		o.logger.Debug("sync already in flight, skipping")
		return result, nil
	}
	defer o.syncMu.Unlock()

	incidents, err := o.repo.GetAll(ctx)
	if err != nil {
		return result, err
	}
	if len(incidents) == 0 {
		return result, nil
	}

	o.logger.Info("syncing pending incidents",
		slog.Int("count", len(incidents)))

	for _, incident := range incidents {
		req := SyncIncidentRequest{
			LocationID:  incident.LocationID,
			RoomNumber:  incident.RoomNumber,
			Latitude:    incident.Latitude,
			Longitude:   incident.Longitude,
			IsAnonymous: incident.IsAnonymous,
			CreatedAt:   incident.CreatedAt,
		}
		if incident.Status == PendingCancelled {
			req.CancellationReason = incident.CancellationReason
		}

		if _, err := o.remote.SyncIncident(ctx, req); err != nil {
			// Keep the record; the next sync trigger retries it.
			o.logger.LogError(ctx, err, "failed to sync pending incident",
				slog.String("created_at", incident.CreatedAt))
			result.Retained++
			result.Errors = append(result.Errors, err)
			continue
		}

		if err := o.repo.Remove(ctx, incident.CreatedAt); err != nil {
			o.logger.LogError(ctx, err, "failed to remove synced incident",
				slog.String("created_at", incident.CreatedAt))
			result.Retained++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Synced++
	}

	if result.Synced > 0 {
		o.notify(ChangePendingIncidents)
		o.notify(ChangeIncidentHistory)
	}

	o.logger.Info("sync pass finished",
		slog.Int("synced", result.Synced),
		slog.Int("retained", result.Retained))
	return result, nil
}

// Subscribe registers a handler for change notifications. Handlers run on
// their own goroutines; a panicking handler is contained.
func (o *Orchestrator) Subscribe(handler func(Change)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, handler)
}

func (o *Orchestrator) notify(change Change) {
	o.mu.RLock()
	subscribers := make([]func(Change), len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.RUnlock()

	for _, handler := range subscribers {
		go func(h func(Change)) {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("subscriber panicked",
						slog.Any("panic", r))
				}
			}()
			h(change)
		}(handler)
	}
}

// currentProfile fetches the freshest profile available, falling back to the
// cached copy when the fetch fails.
func (o *Orchestrator) currentProfile(ctx context.Context) *UserProfile {
	profile, err := o.profiles.Profile(ctx)
	if err == nil && profile != nil {
		return profile
	}
	if err != nil {
		o.logger.Warn("profile fetch failed, using cached profile",
			slog.String("error", err.Error()))
	}
	return o.profiles.Cached()
}

// locate is the best-effort GPS lookup: permission denials, lookup errors
// and timeouts all degrade to "no coordinates" and never fail the caller.
func (o *Orchestrator) locate(ctx context.Context) *Position {
	if o.locator == nil {
		return nil
	}
	pos, err := o.locator.CurrentPosition(ctx)
	if err != nil {
		o.logger.Warn("device location unavailable",
			slog.String("error", err.Error()))
		return nil
	}
	return pos
}
