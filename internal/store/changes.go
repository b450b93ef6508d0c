package store

import (
	"context"
	"sync"
	"time"
)

const changeBufferSize = 16

// Change announces that rows of a table were written.
type Change struct {
	Table string
	IDs   []int64
	At    time.Time
}

// ChangeFeed fans local writes out to per-table subscribers.
// Publishing never blocks; a subscriber with a full buffer misses the event.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan Change
	nextID      int64
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subscribers: make(map[string]map[int64]chan Change)}
}

// Subscribe registers for changes to table until ctx ends or cleanup is called.
func (f *ChangeFeed) Subscribe(ctx context.Context, table string) (<-chan Change, func()) {
	if table == "" {
		stream := make(chan Change)
		close(stream)
		return stream, func() {}
	}
	stream := make(chan Change, changeBufferSize)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if _, ok := f.subscribers[table]; !ok {
		f.subscribers[table] = make(map[int64]chan Change)
	}
	f.subscribers[table][id] = stream
	f.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			f.mu.Lock()
			subscribers := f.subscribers[table]
			delete(subscribers, id)
			if len(subscribers) == 0 {
				delete(f.subscribers, table)
			}
			f.mu.Unlock()
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
	return stream, cleanup
}

func (f *ChangeFeed) Publish(change Change) {
	if change.Table == "" {
		return
	}
	f.mu.RLock()
	streams := make([]chan Change, 0, len(f.subscribers[change.Table]))
	for _, stream := range f.subscribers[change.Table] {
		streams = append(streams, stream)
	}
	f.mu.RUnlock()
	for _, stream := range streams {
		select {
		case stream <- change:
		default:
		}
	}
}
