// Package pending implements the durable repository for locally stored,
// not-yet-confirmed duress incidents. The whole collection lives as one JSON
// array under a single well-known key in a KeyValueStore; every mutation
// rewrites the collection atomically.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	stdSync "sync"

	duress "github.com/SarahJChong/emergency-duress-app-sub000"
	duressErrors "github.com/SarahJChong/emergency-duress-app-sub000/errors"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// StorageKey is the default key the pending-incident collection is stored
// under. No other component writes to this key.
const StorageKey = "pending_incidents"

// Repository provides CRUD over the pending-incident collection. Records are
// keyed by CreatedAt; read-modify-write cycles are serialized by an internal
// mutex so concurrent callers cannot lose updates.
type Repository struct {
	store  duress.KeyValueStore
	key    string
	now    func() string
	logger *logging.Logger
	mu     stdSync.Mutex
}

// Compile-time check to ensure Repository satisfies the PendingStore interface
var _ duress.PendingStore = (*Repository)(nil)

// Option configures a Repository using the functional options pattern
type Option func(*Repository)

// WithKey overrides the storage key for the collection.
func WithKey(key string) Option {
	return func(r *Repository) {
		r.key = key
	}
}

// WithClock overrides the timestamp source. Used by tests to make
// CancelledAt deterministic.
func WithClock(now func() string) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a Repository over the given store.
func NewRepository(store duress.KeyValueStore, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		key:   StorageKey,
		now:   duress.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithComponent(logging.Component("pending"))
	}
	return r
}

// load reads the current collection. A missing key is an empty collection,
// never an error. Callers must hold r.mu.
func (r *Repository) load(ctx context.Context) ([]duress.PendingIncident, error) {
	raw, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, duressErrors.WrapStorage(err, duressErrors.OpLoad)
	}
	if raw == nil {
		return nil, nil
	}

	var incidents []duress.PendingIncident
	if err := json.Unmarshal(raw, &incidents); err != nil {
		return nil, duressErrors.WrapStorage(fmt.Errorf("corrupt pending collection: %w", err), duressErrors.OpLoad)
	}
	return incidents, nil
}

// save rewrites the whole collection. Callers must hold r.mu.
func (r *Repository) save(ctx context.Context, incidents []duress.PendingIncident) error {
	raw, err := json.Marshal(incidents)
	if err != nil {
		return duressErrors.WrapStorage(err, duressErrors.OpStore)
	}
	if err := r.store.Set(ctx, r.key, raw); err != nil {
		return duressErrors.WrapStorage(err, duressErrors.OpStore)
	}
	return nil
}

// Store upserts an incident by CreatedAt. An existing record with the same
// CreatedAt is replaced in place, preserving its position; otherwise the
// record is appended. The collection never holds two records with the same
// CreatedAt after this call.
func (r *Repository) Store(ctx context.Context, incident duress.PendingIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents, err := r.load(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range incidents {
		if incidents[i].CreatedAt == incident.CreatedAt {
			incidents[i] = incident
			replaced = true
			break
		}
	}
	if !replaced {
		incidents = append(incidents, incident)
	}

	return r.save(ctx, incidents)
}

// GetAll returns the full collection in stored order.
func (r *Repository) GetAll(ctx context.Context) ([]duress.PendingIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if incidents == nil {
		return []duress.PendingIncident{}, nil
	}
	return incidents, nil
}

// GetOpen returns the first record with status Open, or nil if none. At most
// one such record is expected to exist; the orchestrator enforces that by
// construction.
func (r *Repository) GetOpen(ctx context.Context) (*duress.PendingIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range incidents {
		if incidents[i].Status == duress.PendingOpen {
			incident := incidents[i]
			return &incident, nil
		}
	}
	return nil, nil
}

// Remove deletes the record keyed by createdAt. Removing an absent record is
// a no-op.
func (r *Repository) Remove(ctx context.Context, createdAt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents, err := r.load(ctx)
	if err != nil {
		return err
	}

	kept := incidents[:0]
	found := false
	for _, incident := range incidents {
		if incident.CreatedAt == createdAt {
			found = true
			continue
		}
		kept = append(kept, incident)
	}
	if !found {
		return nil
	}

	return r.save(ctx, kept)
}

// Cancel marks the record keyed by createdAt as Cancelled with the given
// reason and stamps CancelledAt. Cancelling an already cancelled record is a
// no-op: the original reason is kept and nothing is written back. Cancelling
// an absent record is likewise a no-op.
func (r *Repository) Cancel(ctx context.Context, createdAt, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents, err := r.load(ctx)
	if err != nil {
		return err
	}

	for i := range incidents {
		if incidents[i].CreatedAt != createdAt {
			continue
		}
		if incidents[i].Status == duress.PendingCancelled {
			r.logger.Debug("cancel skipped, record already cancelled")
			return nil
		}

		incidents[i].Status = duress.PendingCancelled
		incidents[i].CancellationReason = reason
		incidents[i].CancelledAt = r.now()
		return r.save(ctx, incidents)
	}

	r.logger.Debug("cancel skipped, record not found")
	return nil
}
