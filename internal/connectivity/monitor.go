package connectivity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBufferSize = 8

// Monitor holds the current reachability of the remote service and fans
// every reported value out to subscribers. It starts disconnected.
type Monitor struct {
	mu         sync.RWMutex
	connected  bool
	nextID     int64
	states     map[int64]chan bool
	reconnects map[int64]chan struct{}
	logger     *zap.Logger
}

func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		states:     make(map[int64]chan bool),
		reconnects: make(map[int64]chan struct{}),
		logger:     logger,
	}
}

// Connected reports the last known state.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Available records that the network became usable.
func (m *Monitor) Available() {
	m.Set(true)
}

// Lost records that the network went away.
func (m *Monitor) Lost() {
	m.Set(false)
}

// Set records a state report. Every report reaches state subscribers;
// only a false to true edge reaches reconnect subscribers.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	previous := m.connected
	m.connected = connected
	states := make([]chan bool, 0, len(m.states))
	for _, stream := range m.states {
		states = append(states, stream)
	}
	var reconnects []chan struct{}
	if connected && !previous {
		reconnects = make([]chan struct{}, 0, len(m.reconnects))
		for _, stream := range m.reconnects {
			reconnects = append(reconnects, stream)
		}
	}
	m.mu.Unlock()

	if previous != connected {
		m.logger.Info("connectivity changed", zap.Bool("connected", connected))
	}
	for _, stream := range states {
		select {
		case stream <- connected:
		default:
		}
	}
	for _, stream := range reconnects {
		select {
		case stream <- struct{}{}:
		default:
		}
	}
}

// Subscribe streams every state report until ctx ends or cleanup is called.
func (m *Monitor) Subscribe(ctx context.Context) (<-chan bool, func()) {
	stream := make(chan bool, subscriberBufferSize)
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.states[id] = stream
	m.mu.Unlock()
	return stream, m.cleanup(ctx, func() { delete(m.states, id) })
}

// Reconnected streams one signal per down to up transition. Signals arriving
// while one is still unread are coalesced into it.
func (m *Monitor) Reconnected(ctx context.Context) (<-chan struct{}, func()) {
	stream := make(chan struct{}, 1)
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.reconnects[id] = stream
	m.mu.Unlock()
	return stream, m.cleanup(ctx, func() { delete(m.reconnects, id) })
}

func (m *Monitor) cleanup(ctx context.Context, remove func()) func() {
	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			m.mu.Lock()
			remove()
			m.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return cleanup
}
