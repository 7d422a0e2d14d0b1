// Command duress-demo wires the full engine together against a real backend:
// sqlite-backed pending storage, the HTTP client, the connectivity oracle and
// watcher, and the orchestrator. It raises an incident, prints the unified
// incident list, then keeps the watcher running until interrupted so queued
// incidents sync as soon as the backend becomes reachable.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	duress "github.com/SarahJChong/emergency-duress-app-sub000"
	"github.com/SarahJChong/emergency-duress-app-sub000/config"
	"github.com/SarahJChong/emergency-duress-app-sub000/connectivity"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
	"github.com/SarahJChong/emergency-duress-app-sub000/pending"
	"github.com/SarahJChong/emergency-duress-app-sub000/storage/sqlite"
	"github.com/SarahJChong/emergency-duress-app-sub000/transport/httpapi"
)

// envTokens sources the bearer token from the environment. A real client
// would plug its auth provider in here.
type envTokens struct{}

func (envTokens) IsSignedIn() bool {
	return os.Getenv("AUTH_TOKEN") != ""
}

func (envTokens) BearerToken(ctx context.Context) (string, error) {
	return os.Getenv("AUTH_TOKEN"), nil
}

// envProfiles sources the user profile from the environment and treats it as
// both the fresh and the cached copy.
type envProfiles struct{}

func (envProfiles) Profile(ctx context.Context) (*duress.UserProfile, error) {
	return envProfiles{}.Cached(), nil
}

func (envProfiles) Cached() *duress.UserProfile {
	locationID := os.Getenv("USER_LOCATION_ID")
	if locationID == "" {
		return nil
	}
	return &duress.UserProfile{
		Location: &duress.Location{
			ID:   locationID,
			Name: os.Getenv("USER_LOCATION_NAME"),
		},
		RoomNumber: os.Getenv("USER_ROOM"),
		Name:       os.Getenv("USER_NAME"),
	}
}

func main() {
	logging.Init(logging.GetConfigFromEnv())

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: "file:" + cfg.DatabasePath,
		EnableWAL:      cfg.EnableWAL,
	})
	if err != nil {
		logging.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	tokens := envTokens{}
	profiles := envProfiles{}

	repo := pending.NewRepository(store)
	remote := httpapi.NewClient(cfg.APIBaseURL, tokens)
	oracle := connectivity.NewChecker(connectivity.NewHTTPProbe(cfg.ProbeURL), tokens, profiles)

	orchestrator := duress.NewOrchestrator(repo, remote, oracle, tokens, profiles)
	view := duress.NewView(repo, remote, tokens)

	orchestrator.Subscribe(func(change duress.Change) {
		logging.Info("view invalidated", slog.String("change", string(change)))
	})

	watcher := connectivity.NewWatcher(oracle, tokens, func(ctx context.Context) {
		result, err := orchestrator.SyncPending(ctx)
		if err != nil {
			logging.LogError(ctx, err, "reconnect sync failed")
			return
		}
		logging.Info("reconnect sync finished",
			slog.Int("synced", result.Synced),
			slog.Int("retained", result.Retained))
	},
		connectivity.WithInterval(cfg.PollInterval),
		connectivity.WithHandlerTimeout(cfg.SyncTimeout))

	ctx := context.Background()

	if err := orchestrator.Raise(ctx, duress.RaiseOptions{}); err != nil {
		logging.LogError(ctx, err, "raise failed")
	} else {
		logging.Info("incident raised",
			slog.Bool("offline", oracle.Offline(ctx)))
	}

	incidents, err := view.List(ctx)
	if err != nil {
		logging.LogError(ctx, err, "incident list unavailable")
	}
	for _, incident := range incidents {
		logging.Info("incident",
			slog.String("id", incident.ID),
			slog.String("status", string(incident.Status)),
			slog.Time("date_called", incident.DateCalled),
			slog.Bool("pending", incident.IsPending))
	}

	if err := watcher.Start(ctx); err != nil {
		logging.Error("failed to start connectivity watcher",
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer watcher.Stop()

	logging.Info("watching connectivity, Ctrl-C to exit",
		slog.Duration("interval", cfg.PollInterval))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	// Give any in-flight sync a moment before the store closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := orchestrator.SyncPending(shutdownCtx); err != nil {
		logging.LogError(shutdownCtx, err, "final sync failed")
	}

	logging.Info("shutdown complete")
}
