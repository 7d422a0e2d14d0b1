package duress

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// View merges server-confirmed incidents and locally pending incidents into
// one chronologically sorted list for history and detail screens. Pending
// incidents stay visible even when the server fetch fails, which is the whole
// point of offline support. Nothing here is cached; every read recomputes.
type View struct {
	repo   PendingStore
	remote RemoteClient
	tokens TokenSource
	logger *logging.Logger
}

// ViewOption configures a View
type ViewOption func(*View)

// WithViewLogger sets a custom logger.
func WithViewLogger(logger *logging.Logger) ViewOption {
	return func(v *View) {
		v.logger = logger
	}
}

// NewView creates a unified incident view over the repository and the remote
// client.
func NewView(repo PendingStore, remote RemoteClient, tokens TokenSource, opts ...ViewOption) *View {
	v := &View{
		repo:   repo,
		remote: remote,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.WithComponent(logging.Component("view"))
	}
	return v
}

// List returns the merged incident list, most recent first. Local data is
// primary once the server fails: an error is returned only when both the
// server fetch and the local fetch failed.
func (v *View) List(ctx context.Context) ([]IncidentWithPending, error) {
	var server []Incident
	var serverErr error
	if v.tokens.IsSignedIn() {
		server, serverErr = v.remote.ListIncidents(ctx)
		if serverErr != nil {
			v.logger.Warn("server incident fetch failed, falling back to local data",
				slog.String("error", serverErr.Error()))
		}
	}

	local, localErr := v.repo.GetAll(ctx)
	if localErr != nil {
		if serverErr != nil {
			return nil, serverErr
		}
		v.logger.Warn("pending incident fetch failed",
			slog.String("error", localErr.Error()))
		local = nil
	}

	merged := make([]IncidentWithPending, 0, len(server)+len(local))
	for _, incident := range local {
		merged = append(merged, pendingToUnified(incident))
	}
	for _, incident := range server {
		merged = append(merged, IncidentWithPending{Incident: incident, IsPending: false})
	}

	// Most recent first; stable so records sharing a timestamp keep their
	// relative order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].DateCalled.After(merged[j].DateCalled)
	})

	return merged, nil
}

// Get looks an incident up by id in the merged list. The id is either a
// server incident id or a pending incident's CreatedAt string; both are
// matched uniformly. A missing id yields (nil, nil).
func (v *View) Get(ctx context.Context, id string) (*IncidentWithPending, error) {
	merged, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range merged {
		if merged[i].ID == id {
			return &merged[i], nil
		}
	}
	return nil, nil
}

// pendingToUnified maps a pending incident into the unified shape: CreatedAt
// doubles as the id, CancelledAt becomes the close date, and the reporter's
// name is dropped for anonymous incidents.
func pendingToUnified(p PendingIncident) IncidentWithPending {
	created := parseStampOrZero(p.CreatedAt)

	incident := Incident{
		ID:                 p.CreatedAt,
		DateCalled:         created,
		Status:             IncidentStatus(p.Status),
		LocationID:         p.LocationID,
		Location:           p.Location,
		RoomNumber:         p.RoomNumber,
		IsAnonymous:        p.IsAnonymous,
		CancellationReason: p.CancellationReason,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	if !p.IsAnonymous {
		incident.Name = p.Name
	}
	if p.Latitude != nil && p.Longitude != nil {
		incident.GPSCoordinates = &Position{
			Latitude:  *p.Latitude,
			Longitude: *p.Longitude,
		}
	}
	if p.CancelledAt != "" {
		closed := parseStampOrZero(p.CancelledAt)
		incident.DateClosed = &closed
		incident.UpdatedAt = closed
	}

	return IncidentWithPending{Incident: incident, IsPending: true}
}

func parseStampOrZero(s string) time.Time {
	t, err := ParseStamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
