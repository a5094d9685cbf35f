// Package connectivity tracks whether the remote document store is reachable
// and notifies listeners on offline/online transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PingFunc returns nil when the remote side is reachable.
type PingFunc func(ctx context.Context) error

// Watcher reports point-in-time connectivity and fires edge-triggered
// callbacks. State changes come from the periodic ping or from Set, which
// hosts use when the platform reports a network change.
type Watcher struct {
	ping     PingFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
}

type Option func(*Watcher)

func WithPing(ping PingFunc, interval time.Duration) Option {
	return func(w *Watcher) {
		w.ping = ping
		w.interval = interval
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithInitial sets the state reported before the first ping.
func WithInitial(online bool) Option {
	return func(w *Watcher) { w.online = online }
}

func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{
		timeout:   3 * time.Second,
		logger:    slog.Default(),
		listeners: map[int]func(bool){},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) IsOnline() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// OnConnectivityChanged registers cb and returns a function that removes it.
func (w *Watcher) OnConnectivityChanged(cb func(online bool)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = cb
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Set records the current state and notifies listeners if it changed.
func (w *Watcher) Set(online bool) {
	w.mu.Lock()
	if w.online == online {
		w.mu.Unlock()
		return
	}
	w.online = online
	listeners := make([]func(bool), 0, len(w.listeners))
	for _, cb := range w.listeners {
		listeners = append(listeners, cb)
	}
	w.mu.Unlock()

	w.logger.Info("connectivity changed", "online", online)
	for _, cb := range listeners {
		cb(online)
	}
}

// Check runs the ping once and applies the result.
func (w *Watcher) Check(ctx context.Context) bool {
	if w.ping == nil {
		return w.IsOnline()
	}
	pingCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.ping(pingCtx)
	if err != nil {
		w.logger.Debug("connectivity ping failed", "error", err)
	}
	w.Set(err == nil)
	return err == nil
}

// Run pings on the configured interval until ctx is done. Without a ping
// it only waits for ctx.
func (w *Watcher) Run(ctx context.Context) {
	if w.ping == nil || w.interval <= 0 {
		<-ctx.Done()
		return
	}

	w.Check(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
