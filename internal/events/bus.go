// Package events provides in-process change notification for persisted keys.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Change announces that a persisted key was rewritten. Watchers re-read the key.
type Change struct {
	Key    string
	Source string
	At     time.Time
}

// Bus fans out Change events to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event and Dropped is incremented.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
}

type subscriber struct {
	keys map[string]struct{}
	ch   chan Change
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving changes to the given keys (all keys when none
// are given) and a cancel func that closes it.
func (b *Bus) Subscribe(keys ...string) (<-chan Change, func()) {
	sub := &subscriber{ch: make(chan Change, b.bufferSize)}
	if len(keys) > 0 {
		sub.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			sub.keys[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers a change for key to every interested subscriber.
func (b *Bus) Publish(key, source string) {
	if b == nil {
		return
	}
	change := Change{Key: key, Source: source, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if sub.keys != nil {
			if _, ok := sub.keys[key]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- change:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
