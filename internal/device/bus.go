package device

import (
	"log"
	"sync"

	"room-panel/internal/models"
)

const busQueueSize = 16

// Bus carries documents between sessions of one device. Publish never
// blocks: each subscriber drains its own queue on a goroutine, and a
// subscriber whose queue is full misses the update (its poll catches up).
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	queue chan models.Document
	done  chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Publish delivers doc to every subscriber except from.
func (b *Bus) Publish(from string, doc models.Document) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		if id == from {
			continue
		}
		select {
		case sub.queue <- doc.Clone():
		default:
			log.Printf("⚠️  Sibling %s is not keeping up, dropping update", id)
		}
	}
}

// Subscribe registers fn under id, replacing an earlier subscription with
// the same id. The returned func unsubscribes and is safe to call twice.
func (b *Bus) Subscribe(id string, fn func(models.Document)) func() {
	sub := &subscriber{
		queue: make(chan models.Document, busQueueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case doc := <-sub.queue:
				fn(doc)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.subs[id] == sub {
				delete(b.subs, id)
				close(sub.done)
			}
		})
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
