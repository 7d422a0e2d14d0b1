// Package duress provides the offline incident lifecycle engine for the
// emergency duress client. It supports offline-first operation: raising and
// cancelling incidents without connectivity, durable on-device persistence of
// the pending intent, and reconciliation against the server once the device
// is back online.
package duress

import (
	"context"
	"time"
)

// TimeLayout is the wire format for incident timestamps: UTC RFC 3339 with
// millisecond precision. A pending incident's CreatedAt string in this layout
// doubles as its identity within the local collection.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Now returns the current time formatted as an incident timestamp.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// ParseStamp parses an incident timestamp. It accepts any RFC 3339 string so
// server-supplied timestamps with different precision still parse.
func ParseStamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// PendingStatus is the lifecycle state of a locally stored incident.
type PendingStatus string

const (
	PendingOpen      PendingStatus = "Open"
	PendingCancelled PendingStatus = "Cancelled"
)

// IncidentStatus is the lifecycle state of a server-confirmed incident.
type IncidentStatus string

const (
	StatusOpen      IncidentStatus = "Open"
	StatusClosed    IncidentStatus = "Closed"
	StatusCancelled IncidentStatus = "Cancelled"
)

// Location is a site a user can be assigned to.
type Location struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	DefaultPhoneNumber string `json:"defaultPhoneNumber,omitempty"`
	DefaultEmail       string `json:"defaultEmail,omitempty"`
}

// UserProfile is the slice of the signed-in user's profile the engine needs:
// their location assignment and display details at raise time.
type UserProfile struct {
	Location   *Location `json:"location"`
	RoomNumber string    `json:"roomNumber,omitempty"`
	Name       string    `json:"name,omitempty"`
}

// Position is a GPS fix captured when an incident is raised.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PendingIncident is a locally persisted, not-yet-confirmed incident.
// CreatedAt is assigned once at creation and never changes; all lookups,
// updates and removals key on it.
type PendingIncident struct {
	LocationID         string        `json:"locationId"`
	Location           *Location     `json:"location,omitempty"`
	RoomNumber         string        `json:"roomNumber,omitempty"`
	Latitude           *float64      `json:"latitude,omitempty"`
	Longitude          *float64      `json:"longitude,omitempty"`
	IsAnonymous        bool          `json:"isAnonymous,omitempty"`
	Name               string        `json:"name,omitempty"`
	Status             PendingStatus `json:"status"`
	CreatedAt          string        `json:"createdAt"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CancelledAt        string        `json:"cancelledAt,omitempty"`
}

// Incident is a server-confirmed incident. It is owned and mutated by the
// backend; the client only reads it.
type Incident struct {
	ID                 string         `json:"id"`
	DateCalled         time.Time      `json:"dateCalled"`
	DateClosed         *time.Time     `json:"dateClosed,omitempty"`
	Status             IncidentStatus `json:"status"`
	LocationID         string         `json:"locationId"`
	Location           *Location      `json:"location,omitempty"`
	RoomNumber         string         `json:"roomNumber,omitempty"`
	GPSCoordinates     *Position      `json:"gpsCoordinates,omitempty"`
	IsAnonymous        bool           `json:"isAnonymous"`
	Name               string         `json:"name,omitempty"`
	ClosedBy           string         `json:"closedBy,omitempty"`
	ClosureNotes       string         `json:"closureNotes,omitempty"`
	CancellationReason string         `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// IncidentWithPending is the unified view-model shape: a server incident or a
// pending incident mapped into one structure for display. Never persisted;
// recomputed on every read.
type IncidentWithPending struct {
	Incident
	IsPending bool `json:"isPending"`
}

// KeyValueStore is durable string-keyed storage for JSON values. Setting a
// nil value deletes the key; a missing key reads as a nil value, not an
// error.
type KeyValueStore interface {
	// Get returns the raw value for key, or nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A nil value deletes the key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the underlying storage.
	Close() error
}

// PendingStore is the repository over the locally stored pending-incident
// collection. Implementations must serialize read-modify-write cycles so
// concurrent callers cannot lose updates.
type PendingStore interface {
	// Store upserts by CreatedAt: an existing record with the same CreatedAt
	// is replaced in place, otherwise the record is appended.
	Store(ctx context.Context, incident PendingIncident) error

	// GetAll returns the full collection; absence of data is an empty slice.
	GetAll(ctx context.Context) ([]PendingIncident, error)

	// GetOpen returns the first record with status Open, or nil if none.
	GetOpen(ctx context.Context) (*PendingIncident, error)

	// Remove deletes the record keyed by createdAt; no-op if not found.
	Remove(ctx context.Context, createdAt string) error

	// Cancel marks the record keyed by createdAt as Cancelled with the given
	// reason. Cancelling an already cancelled record is a no-op and must not
	// overwrite the original reason.
	Cancel(ctx context.Context, createdAt, reason string) error
}

// CreateIncidentRequest is the body of the online "create incident" call.
type CreateIncidentRequest struct {
	LocationID  string   `json:"locationId"`
	RoomNumber  string   `json:"roomNumber,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	IsAnonymous bool     `json:"isAnonymous,omitempty"`
}

// CreateIncidentResponse is the acknowledgment returned by the create call.
type CreateIncidentResponse struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      IncidentStatus `json:"status"`
	IsAnonymous bool           `json:"isAnonymous"`
}

// SyncIncidentRequest replays one pending incident to the server. CreatedAt
// acts as the idempotency key, so replaying the same record twice is safe.
type SyncIncidentRequest struct {
	LocationID         string   `json:"locationId"`
	RoomNumber         string   `json:"roomNumber,omitempty"`
	Latitude           *float64 `json:"latitude,omitempty"`
	Longitude          *float64 `json:"longitude,omitempty"`
	IsAnonymous        bool     `json:"isAnonymous,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	CancellationReason string   `json:"cancellationReason,omitempty"`
}

// RemoteClient is the typed HTTP surface of the incident API.
type RemoteClient interface {
	// CreateIncident raises a new incident on the server.
	CreateIncident(ctx context.Context, req CreateIncidentRequest) (*CreateIncidentResponse, error)

	// CancelIncident cancels the caller's active incident with a reason.
	CancelIncident(ctx context.Context, reason string) (*Incident, error)

	// SyncIncident replays a pending incident; the server reconciles it into
	// its authoritative state.
	SyncIncident(ctx context.Context, req SyncIncidentRequest) (*Incident, error)

	// ActiveIncident returns the caller's open incident, or nil if none.
	ActiveIncident(ctx context.Context) (*Incident, error)

	// ListIncidents returns the caller's incident history.
	ListIncidents(ctx context.Context) ([]Incident, error)
}

// Oracle reports whether the device can usefully reach the backend. Offline
// means no link-layer connectivity, or connectivity without backend
// reachability, or a signed-in user whose profile fetch is failing.
type Oracle interface {
	// Offline reports the composite offline signal.
	Offline(ctx context.Context) bool

	// OfflineWithCachedUser is true only when offline, signed in, and a
	// previously cached profile is available, which is what permits the full
	// offline raise flow.
	OfflineWithCachedUser(ctx context.Context) bool
}

// TokenSource supplies the session state and bearer tokens for API calls.
type TokenSource interface {
	// IsSignedIn reports whether a user session exists.
	IsSignedIn() bool

	// BearerToken returns a valid access token, or an empty string when no
	// token is available.
	BearerToken(ctx context.Context) (string, error)
}

// ProfileSource supplies the signed-in user's profile. Profile may hit the
// network; Cached returns the last successfully fetched profile without
// touching the network, or nil if none was ever fetched.
type ProfileSource interface {
	Profile(ctx context.Context) (*UserProfile, error)
	Cached() *UserProfile
}

// Locator is the permission-gated device GPS lookup. Implementations request
// foreground permission and fetch a fix; any denial or failure surfaces as an
// error which callers treat as "no coordinates", never as a hard failure.
type Locator interface {
	CurrentPosition(ctx context.Context) (*Position, error)
}
