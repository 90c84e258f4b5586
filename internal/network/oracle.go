package network

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/constants"

	"github.com/sirupsen/logrus"
)

// State is a snapshot of connectivity as last observed by the probe, plus
// the user-controlled explicit offline mode.
type State struct {
	Connected         bool   `json:"connected"`
	InternetReachable bool   `json:"internet_reachable"`
	ConnectionType    string `json:"connection_type"`
	OfflineMode       bool   `json:"offline_mode"`
}

// Online is the derived "effectively usable" signal every other component
// gates on.
func (s State) Online() bool {
	return s.Connected && s.InternetReachable && !s.OfflineMode
}

// Probe checks actual connectivity. Implementations must be safe for
// repeated calls.
type Probe interface {
	Check(ctx context.Context) (State, error)
}

type listenerKind int

const (
	listenAny listenerKind = iota
	listenOffline
	listenOnline
)

type listener struct {
	kind listenerKind
	fn   func(State)
}

// Oracle is the single source of truth for "can we reach the network". It
// polls the probe on an interval and fans out deduplicated change events.
// A missing or failing probe defaults the oracle to offline so dependents
// queue writes rather than lose them.
type Oracle struct {
	probe    Probe
	interval time.Duration
	logger   *logrus.Logger

	mu        sync.RWMutex
	state     State
	listeners map[int]listener
	nextID    int
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewOracle(probe Probe, interval time.Duration, logger *logrus.Logger) *Oracle {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultProbeIntervalSec) * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Oracle{
		probe:     probe,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int]listener),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background probe loop. An immediate first check runs
// before the ticker takes over.
func (o *Oracle) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Warn("Network oracle is already running")
		return
	}
	if o.stopCh == nil {
		o.stopCh = make(chan struct{})
	}
	o.running = true
	stopCh := o.stopCh
	o.mu.Unlock()

	if o.probe == nil {
		o.logger.Warn("No connectivity probe configured, defaulting to offline")
		return
	}

	o.wg.Add(1)
	go o.probeLoop(ctx, stopCh)
	o.logger.Info("Network oracle started")
}

func (o *Oracle) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	if o.stopCh != nil {
		close(o.stopCh)
		o.stopCh = nil
	}
	o.running = false
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("Network oracle stopped")
}

func (o *Oracle) probeLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.runProbe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			o.runProbe(ctx)
		}
	}
}

func (o *Oracle) runProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultProbeTimeoutSec)*time.Second)
	defer cancel()

	observed, err := o.probe.Check(probeCtx)
	if err != nil {
		// Err toward caution: probe failure means offline.
		observed = State{}
	}
	o.applyObservation(observed)
}

func (o *Oracle) applyObservation(observed State) {
	o.mu.Lock()
	next := observed
	next.OfflineMode = o.state.OfflineMode
	o.transitionLocked(next)
}

// SetOfflineMode toggles the user-controlled explicit offline mode. A
// device that is connected but in offline mode is not online.
func (o *Oracle) SetOfflineMode(offline bool) {
	o.mu.Lock()
	next := o.state
	next.OfflineMode = offline
	o.transitionLocked(next)
}

// transitionLocked updates state and fires listeners. Callers hold o.mu;
// it is released before listener callbacks run. Repeated notifications with
// an unchanged state never re-fire subscribers.
func (o *Oracle) transitionLocked(next State) {
	prev := o.state
	if next == prev {
		o.mu.Unlock()
		return
	}
	o.state = next

	fired := make([]listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		fired = append(fired, l)
	}
	o.mu.Unlock()

	wasOnline := prev.Online()
	isOnline := next.Online()

	o.logger.WithFields(logrus.Fields{
		"connected":    next.Connected,
		"reachable":    next.InternetReachable,
		"offline_mode": next.OfflineMode,
		"online":       isOnline,
	}).Debug("Network state changed")

	for _, l := range fired {
		switch l.kind {
		case listenAny:
			o.invoke(l.fn, next)
		case listenOffline:
			if wasOnline && !isOnline {
				o.invoke(l.fn, next)
			}
		case listenOnline:
			if !wasOnline && isOnline {
				o.invoke(l.fn, next)
			}
		}
	}
}

// invoke isolates listeners: one panicking subscriber must not prevent the
// rest from being notified.
func (o *Oracle) invoke(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Error("Network listener panicked")
		}
	}()
	fn(s)
}

// Snapshot returns the current state.
func (o *Oracle) Snapshot() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// IsOnline reports the derived "effectively usable" signal.
func (o *Oracle) IsOnline() bool {
	return o.Snapshot().Online()
}

// OnChange subscribes to every state change. The returned func
// unsubscribes.
func (o *Oracle) OnChange(fn func(State)) func() {
	return o.subscribe(listener{kind: listenAny, fn: fn})
}

// OnOffline subscribes to online-to-offline transitions.
func (o *Oracle) OnOffline(fn func()) func() {
	return o.subscribe(listener{kind: listenOffline, fn: func(State) { fn() }})
}

// OnOnline subscribes to offline-to-online transitions.
func (o *Oracle) OnOnline(fn func()) func() {
	return o.subscribe(listener{kind: listenOnline, fn: func(State) { fn() }})
}

func (o *Oracle) subscribe(l listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = l

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// ExecuteWhenOnline runs fn only if the oracle is online. When offline, or
// when fn itself fails, it returns fallback.
func ExecuteWhenOnline[T any](ctx context.Context, o *Oracle, fn func(context.Context) (T, error), fallback T) T {
	if !o.IsOnline() {
		return fallback
	}
	result, err := fn(ctx)
	if err != nil {
		o.logger.WithError(err).Debug("Online operation failed, returning fallback")
		return fallback
	}
	return result
}

// ExecuteWithOfflineFallback tries onlineFn when online and falls back to
// offlineFn when offline or when onlineFn fails.
func ExecuteWithOfflineFallback[T any](ctx context.Context, o *Oracle, onlineFn, offlineFn func(context.Context) (T, error)) (T, error) {
	if o.IsOnline() {
		result, err := onlineFn(ctx)
		if err == nil {
			return result, nil
		}
		o.logger.WithError(err).Debug("Online operation failed, using offline fallback")
	}
	return offlineFn(ctx)
}
