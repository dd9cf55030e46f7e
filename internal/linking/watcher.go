package linking

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sessionWatcher is the server-owned polling task for one open session.
// Exactly one goroutine runs the loop, so at most one tick — and therefore at
// most one provider checkStatus call — is ever in flight per session. Stop is
// synchronous for scheduling: once the stop channel closes, no further tick
// fires, even if one was already drawn from the ticker.
type sessionWatcher struct {
	sessionID string
	stop      chan struct{}
	stopOnce  sync.Once
}

func (w *sessionWatcher) halt() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// watcherSet tracks the polling task per session id.
type watcherSet struct {
	mu       sync.Mutex
	watchers map[string]*sessionWatcher
}

func newWatcherSet() *watcherSet {
	return &watcherSet{watchers: make(map[string]*sessionWatcher)}
}

// start launches a polling loop for the session unless one is already running.
// tick is invoked synchronously inside the loop on every interval.
func (ws *watcherSet) start(sessionID string, interval time.Duration, tick func(ctx context.Context, sessionID string)) {
	ws.mu.Lock()
	if _, running := ws.watchers[sessionID]; running {
		ws.mu.Unlock()
		return
	}
	w := &sessionWatcher{sessionID: sessionID, stop: make(chan struct{})}
	ws.watchers[sessionID] = w
	ws.mu.Unlock()

	go ws.run(w, interval, tick)
	slog.Debug("poll watcher started", "session", sessionID)
}

func (ws *watcherSet) run(w *sessionWatcher, interval time.Duration, tick func(ctx context.Context, sessionID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// A stop racing the ticker still wins: re-check before ticking.
			select {
			case <-w.stop:
				return
			default:
			}
			tick(context.Background(), w.sessionID)
		}
	}
}

// halt stops the session's polling loop. Safe to call for unknown sessions
// and safe to call twice.
func (ws *watcherSet) halt(sessionID string) {
	ws.mu.Lock()
	w, ok := ws.watchers[sessionID]
	if ok {
		delete(ws.watchers, sessionID)
	}
	ws.mu.Unlock()

	if ok {
		w.halt()
		slog.Debug("poll watcher stopped", "session", sessionID)
	}
}

// haltAll stops every polling loop (shutdown).
func (ws *watcherSet) haltAll() {
	ws.mu.Lock()
	all := make([]*sessionWatcher, 0, len(ws.watchers))
	for _, w := range ws.watchers {
		all = append(all, w)
	}
	ws.watchers = make(map[string]*sessionWatcher)
	ws.mu.Unlock()

	for _, w := range all {
		w.halt()
	}
}
