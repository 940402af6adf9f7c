package device

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"room-panel/internal/models"

	"github.com/jonboulle/clockwork"
	"go.etcd.io/bbolt"
)

// DefaultSignalInterval is how often a subscriber checks the cache file for
// edits made by another process.
const DefaultSignalInterval = 250 * time.Millisecond

type signalRecord struct {
	Seq  uint64          `json:"seq"`
	From string          `json:"from"`
	Data models.Document `json:"data"`
}

func (c *BoltCache) signalKey() []byte {
	return append(append([]byte(nil), c.slot...), "#signal"...)
}

// writeSignal stores doc as the newest sibling edit, stamped with the
// bucket's next sequence number.
func (c *BoltCache) writeSignal(from string, doc models.Document) error {
	if c.limit > 0 && len(doc) > c.limit {
		return fmt.Errorf("signal of %d bytes over %d byte limit", len(doc), c.limit)
	}
	return c.update(func(b *bbolt.Bucket) error {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(signalRecord{Seq: seq, From: from, Data: doc})
		if err != nil {
			return fmt.Errorf("failed to encode signal: %w", err)
		}
		return b.Put(c.signalKey(), raw)
	})
}

// readSignal returns the newest sibling edit, or a zero record when none
// was written.
func (c *BoltCache) readSignal() (signalRecord, error) {
	var rec signalRecord
	err := c.view(func(b *bbolt.Bucket) error {
		raw := b.Get(c.signalKey())
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

// SlotSignal carries sibling edits between sessions on one device. Sessions
// in this process are reached through a Bus at once; sessions in other
// processes find the edit next to the shared cache slot on their next check.
type SlotSignal struct {
	cache    *BoltCache
	clock    clockwork.Clock
	interval time.Duration
	bus      *Bus

	mu    sync.Mutex
	local map[string]int
}

func NewSlotSignal(cache *BoltCache, clk clockwork.Clock, interval time.Duration) *SlotSignal {
	if interval <= 0 {
		interval = DefaultSignalInterval
	}
	return &SlotSignal{
		cache:    cache,
		clock:    clk,
		interval: interval,
		bus:      NewBus(),
		local:    make(map[string]int),
	}
}

func (s *SlotSignal) Publish(from string, doc models.Document) {
	s.bus.Publish(from, doc)
	if err := s.cache.writeSignal(from, doc); err != nil {
		log.Printf("⚠️  Failed to signal sibling processes: %v", err)
	}
}

// Subscribe delivers sibling edits to fn until the returned func is called.
// Edits signalled before the call are not replayed.
func (s *SlotSignal) Subscribe(id string, fn func(models.Document)) func() {
	unsubscribe := s.bus.Subscribe(id, fn)

	s.mu.Lock()
	s.local[id]++
	s.mu.Unlock()

	last, err := s.cache.readSignal()
	if err != nil {
		log.Printf("⚠️  Failed to read sibling signal: %v", err)
	}

	ticker := s.clock.NewTicker(s.interval)
	done := make(chan struct{})
	go s.watch(ticker, done, last.Seq, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			ticker.Stop()
			unsubscribe()

			s.mu.Lock()
			defer s.mu.Unlock()
			if s.local[id]--; s.local[id] <= 0 {
				delete(s.local, id)
			}
		})
	}
}

func (s *SlotSignal) watch(ticker clockwork.Ticker, done <-chan struct{}, seen uint64, fn func(models.Document)) {
	failing := false
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
		}

		rec, err := s.cache.readSignal()
		if err != nil {
			if !failing {
				log.Printf("⚠️  Failed to read sibling signal: %v", err)
			}
			failing = true
			continue
		}
		failing = false

		if rec.Seq <= seen {
			continue
		}
		seen = rec.Seq
		// sessions of this process already got it from the bus
		if s.isLocal(rec.From) || rec.Data.IsEmpty() {
			continue
		}
		fn(rec.Data)
	}
}

func (s *SlotSignal) isLocal(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local[id] > 0
}
