package connectivity

import (
	"context"
	"fmt"
	stdSync "sync"
	"time"

	duress "github.com/SarahJChong/emergency-duress-app-sub000"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// OnlineHandler runs when the watcher observes an offline to online
// transition while the user is signed in. The context carries the watcher's
// per-invocation timeout.
type OnlineHandler func(ctx context.Context)

// Watcher polls the Oracle and fires its handler once per offline to online
// transition. Handler failures are the handler's own business; the watcher
// just keeps polling.
type Watcher struct {
	oracle   duress.Oracle
	tokens   duress.TokenSource
	handler  OnlineHandler
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger

	mu         stdSync.Mutex
	stop       chan struct{}
	wasOffline bool
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(interval time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.interval = interval
	}
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(timeout time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.timeout = timeout
	}
}

// WithWatcherLogger sets a custom logger.
func WithWatcherLogger(logger *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher over the given oracle. handler typically
// points at the orchestrator's SyncPending.
func NewWatcher(oracle duress.Oracle, tokens duress.TokenSource, handler OnlineHandler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		oracle:   oracle,
		tokens:   tokens,
		handler:  handler,
		interval: 10 * time.Second,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.WithComponent(logging.Component("watcher"))
	}
	return w
}

// Start begins polling. The watcher assumes it starts offline so a device
// that boots online and holds queued records still gets an initial sync.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return fmt.Errorf("watcher is already running")
	}
	if w.interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	w.stop = make(chan struct{})
	w.wasOffline = true

	go w.run(ctx)
	return nil
}

// Stop halts polling. In-flight handler invocations are suppressed: a
// stopped watcher will not observe or act on their completion, though any
// storage mutation they started completes or fails on its own.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return fmt.Errorf("watcher is not running")
	}

	close(w.stop)
	w.stop = nil
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.mu.Lock()
		stop := w.stop
		w.mu.Unlock()
		if stop == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	offline := w.oracle.Offline(ctx)

	w.mu.Lock()
	transitioned := w.wasOffline && !offline
	w.wasOffline = offline
	stopped := w.stop == nil
	w.mu.Unlock()

	if stopped || !transitioned {
		return
	}
	if !w.tokens.IsSignedIn() {
		w.logger.Debug("back online but not signed in, skipping handler")
		return
	}

	w.logger.Info("connectivity restored, running online handler")
	go func() {
		handlerCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.handler(handlerCtx)
	}()
}
