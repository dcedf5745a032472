package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/routeforge/routeforge/internal/server/finitestate"
)

// Completion causes reported by Subscription.Err.
var (
	ErrSlowSubscriber     = errors.New("subscriber write failed")
	ErrTooManySubscribers = errors.New("too many subscribers for process")
	ErrBusClosed          = errors.New("event bus closed")
)

// Defaults mirror the sse.* configuration keys.
const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHistoryMax        = 200
	DefaultMaxEmitters       = 16
	DefaultRetention         = 10 * time.Minute
)

// notificationStream is the reserved target id for the non-activity event
// class.
const notificationStream = "notifications"

// Config bounds the bus.
type Config struct {
	HeartbeatInterval       time.Duration
	HistoryMax              int
	MaxEmittersPerProcess   int
	Retention               time.Duration
	NotificationHistoryMax  int
	NotificationMaxEmitters int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HistoryMax <= 0 {
		c.HistoryMax = DefaultHistoryMax
	}
	if c.MaxEmittersPerProcess <= 0 {
		c.MaxEmittersPerProcess = DefaultMaxEmitters
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.NotificationHistoryMax <= 0 {
		c.NotificationHistoryMax = c.HistoryMax
	}
	if c.NotificationMaxEmitters <= 0 {
		c.NotificationMaxEmitters = c.MaxEmittersPerProcess
	}
}

// stream is the per-target-id state: bounded history, live subscriptions,
// and start timestamps for duration enrichment.
type stream struct {
	mu         sync.Mutex
	history    []*Event
	subs       map[uint64]*Subscription
	lastEvent  time.Time
	startTimes map[string]time.Time
	tombstoned bool
}

// Bus multiplexes published events to live subscribers. It runs as a
// supervisor runnable so heartbeats and the retention sweep share the
// process lifecycle.
type Bus struct {
	cfg    Config
	logger *slog.Logger
	fsm    finitestate.Machine

	mu        sync.RWMutex
	streams   map[string]*stream
	wildcards map[uint64]*Subscription
	nextSubID uint64
	closed    bool

	runCancel context.CancelFunc
}

var (
	_ supervisor.Runnable  = (*Bus)(nil)
	_ supervisor.Stateable = (*Bus)(nil)
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogHandler sets a custom slog handler for the Bus instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(b *Bus) {
		if handler != nil {
			b.logger = slog.New(handler).WithGroup("events.Bus")
		}
	}
}

// WithConfig overrides the bus limits.
func WithConfig(cfg Config) Option {
	return func(b *Bus) {
		b.cfg = cfg
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) (*Bus, error) {
	b := &Bus{
		logger:    slog.Default().WithGroup("events.Bus"),
		streams:   make(map[string]*stream),
		wildcards: make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cfg.applyDefaults()

	fsm, err := finitestate.New(b.logger.WithGroup("fsm").Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	b.fsm = fsm
	return b, nil
}

// String implements the supervisor.Runnable interface.
func (b *Bus) String() string { return "events.Bus" }

// Run drives heartbeats and the retention sweep until the context ends.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.fsm.Transition(finitestate.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.runCancel = cancel

	if err := b.fsm.Transition(finitestate.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}
	b.logger.Debug("Event bus running",
		"heartbeatInterval", b.cfg.HeartbeatInterval,
		"historyMax", b.cfg.HistoryMax)

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			b.shutdown()
			if b.fsm.GetState() != finitestate.StatusStopping {
				if err := b.fsm.Transition(finitestate.StatusStopping); err != nil {
					b.logger.Error("Failed to transition to stopping state", "error", err)
				}
			}
			return b.fsm.Transition(finitestate.StatusStopped)
		case <-ticker.C:
			b.heartbeat()
			b.sweep(time.Now())
		}
	}
}

// Stop implements the supervisor.Runnable interface.
func (b *Bus) Stop() {
	b.logger.Debug("Stopping event bus")
	if err := b.fsm.Transition(finitestate.StatusStopping); err != nil {
		b.logger.Error("Failed to transition to stopping state", "error", err)
	}
	if b.runCancel != nil {
		b.runCancel()
	}
}

// GetState implements the supervisor.Stateable interface.
func (b *Bus) GetState() string { return b.fsm.GetState() }

// GetStateChan implements the supervisor.Stateable interface.
func (b *Bus) GetStateChan(ctx context.Context) <-chan string {
	return b.fsm.GetStateChan(ctx)
}

// IsRunning implements the supervisor.Stateable interface.
func (b *Bus) IsRunning() bool {
	return b.fsm.GetState() == finitestate.StatusRunning
}

// Publish enriches and broadcasts one event: history first, then every live
// subscription of the target stream plus all wildcard subscriptions. A
// failed write reaps the subscription; the rest are unaffected.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	target := event.targetID()
	if target == "" {
		return
	}

	st := b.liveStream(target)
	b.enrichLocked(st, event)
	st.history = append(st.history, event)
	if len(st.history) > b.cfg.HistoryMax {
		st.history = st.history[len(st.history)-b.cfg.HistoryMax:]
	}
	st.lastEvent = event.Timestamp
	frame := Frame{Name: frameName(event), Event: event}
	var dead []*Subscription
	for _, sub := range st.subs {
		if !sub.send(frame) {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(st.subs, sub.id)
	}
	st.mu.Unlock()

	for _, sub := range dead {
		b.logger.Warn("Reaping slow subscriber", "process", target, "sub", sub.id)
		sub.complete(ErrSlowSubscriber)
	}

	b.mu.RLock()
	var deadWild []*Subscription
	for _, sub := range b.wildcards {
		if !sub.send(frame) {
			deadWild = append(deadWild, sub)
		}
	}
	b.mu.RUnlock()
	if len(deadWild) > 0 {
		b.mu.Lock()
		for _, sub := range deadWild {
			delete(b.wildcards, sub.id)
		}
		b.mu.Unlock()
		for _, sub := range deadWild {
			sub.complete(ErrSlowSubscriber)
		}
	}
}

// enrichLocked stamps durations on workflow activity events using the
// recorded start time of the matching (process, activity) pair.
func (b *Bus) enrichLocked(st *stream, event *Event) {
	if event.Type != TypeCamundaTask || event.ActivityID == "" {
		return
	}
	if st.startTimes == nil {
		st.startTimes = make(map[string]time.Time)
	}
	switch event.Status {
	case StatusStarted:
		st.startTimes[event.ActivityID] = event.Timestamp
	case StatusCompleted, StatusFailed:
		if start, ok := st.startTimes[event.ActivityID]; ok && event.DurationMs == 0 {
			event.DurationMs = event.Timestamp.Sub(start).Milliseconds()
			delete(st.startTimes, event.ActivityID)
		}
	}
}

// Subscribe attaches to the given target id, or to every stream when
// processID is empty. History replays in insertion order before live
// delivery; the first live frame is a startup heartbeat. When the per-target
// emitter cap is exceeded the returned subscription carries an error frame
// and is already completed.
func (b *Bus) Subscribe(processID string) *Subscription {
	maxEmitters := b.cfg.MaxEmittersPerProcess
	if processID == notificationStream {
		maxEmitters = b.cfg.NotificationMaxEmitters
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return completedSubscription(processID, ErrBusClosed)
	}
	b.nextSubID++
	sub := &Subscription{
		id:        b.nextSubID,
		processID: processID,
		frames:    make(chan Frame, subscriptionBuffer),
	}
	b.mu.Unlock()

	if processID == "" {
		b.replayAll(sub)
		b.mu.Lock()
		b.wildcards[sub.id] = sub
		b.mu.Unlock()
		sub.send(Frame{Name: FrameHeartbeat, Data: "connected"})
		return sub
	}

	st := b.liveStream(processID)
	if len(st.subs) >= maxEmitters {
		st.mu.Unlock()
		b.logger.Warn("Subscriber cap reached", "process", processID, "cap", maxEmitters)
		sub.send(Frame{Name: FrameError, Data: fmt.Sprintf("too many subscribers for %s", processID)})
		sub.complete(ErrTooManySubscribers)
		return sub
	}
	for _, event := range st.history {
		sub.send(Frame{Name: frameName(event), Event: event})
	}
	if st.subs == nil {
		st.subs = make(map[uint64]*Subscription)
	}
	st.subs[sub.id] = sub
	st.mu.Unlock()

	sub.send(Frame{Name: FrameHeartbeat, Data: "connected"})
	return sub
}

// Unsubscribe detaches and completes a subscription; called on client close.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.wildcards, sub.id)
	b.mu.Unlock()

	if sub.processID != "" {
		if st := b.streamFor(sub.processID, false); st != nil {
			st.mu.Lock()
			delete(st.subs, sub.id)
			st.mu.Unlock()
		}
	}
	sub.complete(nil)
}

// PublishNotification broadcasts a non-activity frame on the reserved
// notification stream, bounded by the notification history cap.
func (b *Bus) PublishNotification(data string) {
	event := &Event{
		Type:              TypeCamundaTask,
		ProcessInstanceID: notificationStream,
		Status:            StatusCompleted,
		Message:           data,
		Timestamp:         time.Now(),
	}
	st := b.liveStream(notificationStream)
	st.history = append(st.history, event)
	if len(st.history) > b.cfg.NotificationHistoryMax {
		st.history = st.history[len(st.history)-b.cfg.NotificationHistoryMax:]
	}
	st.lastEvent = event.Timestamp
	var dead []*Subscription
	for _, sub := range st.subs {
		if !sub.send(Frame{Name: FrameTaskEvent, Event: event}) {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(st.subs, sub.id)
	}
	st.mu.Unlock()
	for _, sub := range dead {
		sub.complete(ErrSlowSubscriber)
	}
}

// replayAll merges the history of every stream in timestamp order for a
// wildcard subscriber.
func (b *Bus) replayAll(sub *Subscription) {
	b.mu.RLock()
	var all []*Event
	for _, st := range b.streams {
		st.mu.Lock()
		all = append(all, st.history...)
		st.mu.Unlock()
	}
	b.mu.RUnlock()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	for _, event := range all {
		sub.send(Frame{Name: frameName(event), Event: event})
	}
}

// heartbeat pings every live subscription and reaps the ones that fail.
func (b *Bus) heartbeat() {
	frame := Frame{Name: FrameHeartbeat, Data: "ping"}

	b.mu.RLock()
	streams := make([]*stream, 0, len(b.streams))
	for _, st := range b.streams {
		streams = append(streams, st)
	}
	wilds := make([]*Subscription, 0, len(b.wildcards))
	for _, sub := range b.wildcards {
		wilds = append(wilds, sub)
	}
	b.mu.RUnlock()

	for _, st := range streams {
		st.mu.Lock()
		var dead []*Subscription
		for _, sub := range st.subs {
			if !sub.send(frame) {
				dead = append(dead, sub)
			}
		}
		for _, sub := range dead {
			delete(st.subs, sub.id)
		}
		st.mu.Unlock()
		for _, sub := range dead {
			sub.complete(ErrSlowSubscriber)
		}
	}

	for _, sub := range wilds {
		if !sub.send(frame) {
			b.mu.Lock()
			delete(b.wildcards, sub.id)
			b.mu.Unlock()
			sub.complete(ErrSlowSubscriber)
		}
	}
}

// sweep drops quiescent streams: no live subscriptions and no event younger
// than the retention window. Tombstoning and the map delete happen under both
// locks, so an attach racing the sweep either lands before the re-check or
// sees the tombstone and retries against a fresh stream.
func (b *Bus) sweep(now time.Time) {
	b.mu.RLock()
	keys := make([]string, 0, len(b.streams))
	for key := range b.streams {
		keys = append(keys, key)
	}
	b.mu.RUnlock()

	for _, key := range keys {
		b.mu.Lock()
		st, ok := b.streams[key]
		if !ok {
			b.mu.Unlock()
			continue
		}
		st.mu.Lock()
		quiescent := len(st.subs) == 0 && !st.lastEvent.IsZero() &&
			now.Sub(st.lastEvent) > b.cfg.Retention
		if quiescent {
			st.history = nil
			st.startTimes = nil
			st.tombstoned = true
			delete(b.streams, key)
		}
		st.mu.Unlock()
		b.mu.Unlock()
		if quiescent {
			b.logger.Debug("Swept quiescent stream", "process", key)
		}
	}
}

// shutdown completes every subscription. Called once when Run exits.
func (b *Bus) shutdown() {
	b.mu.Lock()
	b.closed = true
	streams := b.streams
	wilds := b.wildcards
	b.streams = make(map[string]*stream)
	b.wildcards = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, st := range streams {
		st.mu.Lock()
		subs := st.subs
		st.subs = nil
		st.mu.Unlock()
		for _, sub := range subs {
			sub.complete(ErrBusClosed)
		}
	}
	for _, sub := range wilds {
		sub.complete(ErrBusClosed)
	}
}

// liveStream returns the stream for key with st.mu held, retrying past any
// tombstone the retention sweep planted between lookup and lock.
func (b *Bus) liveStream(key string) *stream {
	for {
		st := b.streamFor(key, true)
		st.mu.Lock()
		if !st.tombstoned {
			return st
		}
		st.mu.Unlock()
	}
}

// streamFor returns the stream for a target id, creating it when asked.
func (b *Bus) streamFor(key string, create bool) *stream {
	b.mu.RLock()
	st, ok := b.streams[key]
	b.mu.RUnlock()
	if ok || !create {
		return st
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.streams[key]; ok {
		return st
	}
	st = &stream{subs: make(map[uint64]*Subscription)}
	b.streams[key] = st
	return st
}

func completedSubscription(processID string, err error) *Subscription {
	sub := &Subscription{processID: processID, frames: make(chan Frame)}
	sub.complete(err)
	return sub
}
