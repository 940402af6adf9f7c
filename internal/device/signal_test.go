package device

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"

	"github.com/go-playground/assert/v2"
	"github.com/jonboulle/clockwork"
)

// twoProcesses opens the same cache file twice, as a display and an admin
// process on one device would.
func twoProcesses(t *testing.T, clk clockwork.Clock) (*SlotSignal, *SlotSignal) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	first, err := OpenBoltCache(path, "roomPanelData", 0)
	assert.Equal(t, err, nil)
	second, err := OpenBoltCache(path, "roomPanelData", 0)
	assert.Equal(t, err, nil)
	return NewSlotSignal(first, clk, time.Second), NewSlotSignal(second, clk, time.Second)
}

func quiet(t *testing.T, ch <-chan models.Document) {
	t.Helper()
	select {
	case doc := <-ch:
		t.Fatalf("unexpected update %s", doc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlotSignalCrossesProcesses(t *testing.T) {
	clk := clockwork.NewFakeClock()
	admin, display := twoProcesses(t, clk)

	fromAdmin := make(chan models.Document, 4)
	fromDisplay := make(chan models.Document, 4)
	defer admin.Subscribe("admin", func(d models.Document) { fromDisplay <- d })()
	defer display.Subscribe("display", func(d models.Document) { fromAdmin <- d })()

	admin.Publish("admin", models.Document(`{"status":"red"}`))
	clk.Advance(time.Second)

	assert.Equal(t, string(receive(t, fromAdmin)), `{"status":"red"}`)
	quiet(t, fromDisplay)

	// nothing new: the same record is not delivered twice
	clk.Advance(time.Second)
	quiet(t, fromAdmin)
}

func TestSlotSignalLocalSiblingGetsOneCopy(t *testing.T) {
	clk := clockwork.NewFakeClock()
	admin, _ := twoProcesses(t, clk)

	got := make(chan models.Document, 4)
	defer admin.Subscribe("a", func(models.Document) {})()
	defer admin.Subscribe("b", func(d models.Document) { got <- d })()

	admin.Publish("a", models.Document(`{"status":"green"}`))
	assert.Equal(t, string(receive(t, got)), `{"status":"green"}`)

	clk.Advance(time.Second)
	quiet(t, got)
}

func TestSlotSignalDoesNotReplayOldEdits(t *testing.T) {
	clk := clockwork.NewFakeClock()
	admin, display := twoProcesses(t, clk)

	admin.Publish("admin", models.Document(`{"status":"red"}`))

	got := make(chan models.Document, 4)
	defer display.Subscribe("display", func(d models.Document) { got <- d })()
	clk.Advance(time.Second)
	quiet(t, got)

	admin.Publish("admin", models.Document(`{"status":"green"}`))
	clk.Advance(time.Second)
	assert.Equal(t, string(receive(t, got)), `{"status":"green"}`)
}

func TestSlotSignalUnsubscribe(t *testing.T) {
	clk := clockwork.NewFakeClock()
	admin, display := twoProcesses(t, clk)

	got := make(chan models.Document, 4)
	unsubscribe := display.Subscribe("display", func(d models.Document) { got <- d })
	unsubscribe()
	unsubscribe()

	admin.Publish("admin", models.Document(`{"status":"red"}`))
	clk.Advance(time.Second)
	quiet(t, got)
	assert.Equal(t, display.bus.Len(), 0)
}

type countingStore struct {
	mu     sync.Mutex
	v      models.VersionedDocument
	pushes int
}

func (s *countingStore) Fetch(context.Context) (models.VersionedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

func (s *countingStore) Push(_ context.Context, doc models.Document) (models.VersionedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes++
	s.v = models.VersionedDocument{Data: doc.Clone(), UpdatedAt: s.v.UpdatedAt + 1}
	return s.v, nil
}

func TestSlotSignalCarriesSessionEdits(t *testing.T) {
	clk := clockwork.NewFakeClock()
	path := filepath.Join(t.TempDir(), "cache.db")
	orange := models.Document(`{"status":"orange"}`)
	red := models.Document(`{"status":"red"}`)
	ctx := context.Background()

	start := func(store *countingStore) *syncengine.Session {
		cache, err := OpenBoltCache(path, "roomPanelData", 0)
		assert.Equal(t, err, nil)
		s := syncengine.NewSession(store, nil, cache, NewSlotSignal(cache, clk, time.Second), syncengine.Options{
			Clock:        clk,
			PollInterval: time.Hour,
		})
		s.Start(ctx)
		t.Cleanup(s.Close)
		assert.Equal(t, s.WaitReady(ctx), nil)
		return s
	}

	adminStore := &countingStore{v: models.VersionedDocument{Data: orange, UpdatedAt: 1}}
	displayStore := &countingStore{v: models.VersionedDocument{Data: orange, UpdatedAt: 1}}
	admin := start(adminStore)
	display := start(displayStore)

	assert.Equal(t, admin.Edit(ctx, red), nil)
	clk.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := display.Snapshot(ctx)
		assert.Equal(t, err, nil)
		if snap.Doc.Equal(red) {
			assert.Equal(t, snap.Origin, syncengine.OriginRemote)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("display never saw the admin edit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	displayStore.mu.Lock()
	defer displayStore.mu.Unlock()
	assert.Equal(t, displayStore.pushes, 0)
}
