package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"room-panel/internal/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store is the document store as a client sees it.
type Store interface {
	Fetch(ctx context.Context) (models.VersionedDocument, error)
	Push(ctx context.Context, doc models.Document) (models.VersionedDocument, error)
}

// Feed delivers change-channel messages until ctx is done. Implementations
// handle their own reconnects.
type Feed interface {
	Run(ctx context.Context, deliver func(models.ChannelMessage)) error
}

// Cache is the device's single document slot.
type Cache interface {
	Load() (models.Document, error)
	Save(doc models.Document) error
}

// Siblings carries local edits between sessions on the same device.
type Siblings interface {
	Publish(from string, doc models.Document)
	Subscribe(id string, fn func(models.Document)) (unsubscribe func())
}

// Options configures a Session. Zero values get defaults.
type Options struct {
	// Default seeds the session when the cache is empty.
	Default models.Document

	DebounceInterval time.Duration
	PollInterval     time.Duration
	FetchTimeout     time.Duration
	PushTimeout      time.Duration

	Clock      clockwork.Clock
	InstanceID string

	// OnChange and OnWarning run on the session goroutine and must not call
	// back into the session synchronously.
	OnChange  func(doc models.Document, origin Origin)
	OnWarning func(err error)
}

// Snapshot is a consistent view of a session's state.
type Snapshot struct {
	State     State
	Origin    Origin
	Reachable bool
	Pending   bool
	Rejected  bool
	UpdatedAt int64
	Doc       models.Document
}

type updateRequest struct {
	fn    func(models.Document) (models.Document, error)
	reply chan error
}

type snapshotRequest struct {
	reply chan Snapshot
}

// Session runs one Machine against real collaborators. All machine inputs
// are serialized through a single goroutine; the boot fetch, poller, change
// feed, sibling subscription and pushes only post events to it.
type Session struct {
	store    Store
	feed     Feed
	cache    Cache
	siblings Siblings
	opts     Options
	clock    clockwork.Clock
	id       string

	machine *Machine
	events  chan any

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	readyOnce sync.Once

	timer       clockwork.Timer
	cancelPush  context.CancelFunc
	unsubscribe func()
}

// NewSession wires a session. feed, cache and siblings may be nil.
func NewSession(store Store, feed Feed, cache Cache, siblings Siblings, opts Options) *Session {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Default.IsEmpty() {
		opts.Default = models.Document(`{}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		store:    store,
		feed:     feed,
		cache:    cache,
		siblings: siblings,
		opts:     opts,
		clock:    opts.Clock,
		id:       opts.InstanceID,
		events:   make(chan any, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// ID is the instance ID used on the sibling bus.
func (s *Session) ID() string { return s.id }

// Start seeds the session from the cache and begins syncing. The session
// ends when ctx is done or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.machine = NewMachine(s.loadSeed(), s.opts.DebounceInterval)

		go s.loop()

		if s.siblings != nil {
			s.unsubscribe = s.siblings.Subscribe(s.id, func(doc models.Document) {
				s.post(SiblingUpdate{Doc: doc})
			})
		}
		s.spawn(s.boot)
		s.spawn(s.poll)
		if s.feed != nil {
			s.spawn(s.listen)
		}
		s.spawn(func() {
			select {
			case <-ctx.Done():
				s.cancel()
			case <-s.ctx.Done():
			}
		})
	})
}

// Close cancels the pending debounce timer and any in-flight push, then
// waits for the session goroutines to exit. Safe to call more than once.
// Must not be called from OnChange or OnWarning.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		// a session that never started has no loop to close done
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.wg.Wait()
	})
}

// Update applies fn to the current local document as one local edit.
func (s *Session) Update(ctx context.Context, fn func(models.Document) (models.Document, error)) error {
	req := updateRequest{fn: fn, reply: make(chan error, 1)}
	if err := s.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// Edit replaces the local document.
func (s *Session) Edit(ctx context.Context, doc models.Document) error {
	return s.Update(ctx, func(models.Document) (models.Document, error) {
		return doc, nil
	})
}

// Snapshot returns the session state after every event queued before it.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	req := snapshotRequest{reply: make(chan Snapshot, 1)}
	if err := s.send(ctx, req); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	}
}

// WaitReady blocks until the boot fetch has been handled.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// Flush blocks until no local edit is waiting for the store. A push the
// store rejected is reported as an error.
func (s *Session) Flush(ctx context.Context) error {
	for {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Rejected {
			return ErrRejected
		}
		if !snap.Pending {
			return nil
		}
		select {
		case <-time.After(25 * time.Millisecond):
		case <-ctx.Done():
			if !snap.Reachable {
				return fmt.Errorf("%w: edit kept in local cache", ErrStoreUnreachable)
			}
			return ctx.Err()
		}
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.execute(s.machine.Close())
			s.stopTimer()
			return

		case ev := <-s.events:
			switch ev := ev.(type) {
			case Input:
				s.execute(s.machine.Handle(ev))
				if s.machine.State() != StateBooting {
					s.readyOnce.Do(func() { close(s.ready) })
				}
			case updateRequest:
				ev.reply <- s.applyUpdate(ev.fn)
			case snapshotRequest:
				ev.reply <- s.snapshot()
			}
		}
	}
}

func (s *Session) applyUpdate(fn func(models.Document) (models.Document, error)) error {
	doc, err := fn(s.machine.Local())
	if err != nil {
		return err
	}
	if doc.IsEmpty() || !doc.Valid() {
		return fmt.Errorf("%w: edit is not a JSON document", ErrMalformedPayload)
	}
	s.execute(s.machine.Handle(LocalEdit{Doc: doc}))
	return nil
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		State:     s.machine.State(),
		Origin:    s.machine.Origin(),
		Reachable: s.machine.Reachable(),
		Pending:   s.machine.Pending(),
		Rejected:  s.machine.Rejected(),
		UpdatedAt: s.machine.UpdatedAt(),
		Doc:       s.machine.Local(),
	}
}

func (s *Session) execute(effects []Effect) {
	for _, effect := range effects {
		switch e := effect.(type) {
		case ApplyView:
			if s.opts.OnChange != nil {
				s.opts.OnChange(e.Doc, e.Origin)
			}

		case SaveCache:
			s.saveCache(e.Doc)

		case BroadcastSibling:
			if s.siblings != nil {
				s.siblings.Publish(s.id, e.Doc)
			}

		case ScheduleDebounce:
			s.stopTimer()
			gen := e.Gen
			s.timer = s.clock.AfterFunc(e.After, func() {
				s.post(DebounceFired{Gen: gen})
			})

		case CancelDebounce:
			s.stopTimer()

		case Push:
			s.push(e)

		case AbortPush:
			if s.cancelPush != nil {
				s.cancelPush()
			}

		case ReachabilityChanged:
			if e.Reachable {
				log.Printf("[sync %s] ✓ document store reachable", s.tag())
			} else {
				log.Printf("[sync %s] ⚠️  document store unreachable, working from local cache", s.tag())
			}
		}
	}
}

func (s *Session) push(p Push) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.PushTimeout)
	s.cancelPush = cancel

	s.spawn(func() {
		defer cancel()
		result, err := s.store.Push(ctx, p.Doc)
		if err != nil && (errors.Is(err, context.Canceled) || s.ctx.Err() != nil) {
			err = ErrCancelled
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			log.Printf("[sync %s] ⚠️  Failed to push document: %v", s.tag(), err)
		}
		s.post(PushDone{Seq: p.Seq, Result: result, Err: err})
	})
}

func (s *Session) boot() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
	defer cancel()

	remote, err := s.store.Fetch(ctx)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("[sync %s] ⚠️  API not reachable, working from local cache only: %v", s.tag(), err)
		s.post(BootFailed{Err: err})
		return
	}
	s.post(BootFetched{Remote: remote})
}

func (s *Session) poll() {
	ticker := s.clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
		remote, err := s.store.Fetch(ctx)
		cancel()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.post(PollFailed{Err: err})
			continue
		}
		s.post(PollResult{Remote: remote})
	}
}

func (s *Session) listen() {
	err := s.feed.Run(s.ctx, func(msg models.ChannelMessage) {
		if msg.Type != models.MessageTypeDataUpdate {
			return
		}
		s.post(RemoteMessage{Doc: msg.Data, UpdatedAt: msg.UpdatedAt})
	})
	if err != nil && s.ctx.Err() == nil {
		log.Printf("[sync %s] ⚠️  Change feed stopped: %v (polling continues)", s.tag(), err)
	}
}

func (s *Session) loadSeed() models.Document {
	if s.cache == nil {
		return s.opts.Default.Clone()
	}
	doc, err := s.cache.Load()
	switch {
	case err == nil && !doc.IsEmpty() && doc.Valid():
		return doc
	case err == nil && !doc.IsEmpty():
		log.Printf("[sync %s] ⚠️  Ignoring local cache: %v", s.tag(), ErrMalformedPayload)
	case err != nil && !errors.Is(err, ErrCacheMiss):
		log.Printf("[sync %s] ⚠️  Ignoring local cache: %v", s.tag(), err)
	}
	return s.opts.Default.Clone()
}

func (s *Session) saveCache(doc models.Document) {
	if s.cache == nil {
		return
	}
	err := s.cache.Save(doc)
	if err == nil {
		return
	}
	if errors.Is(err, ErrQuotaExceeded) {
		log.Printf("[sync %s] ⚠️  Storage limit exceeded, edit kept in memory only: %v", s.tag(), err)
		if s.opts.OnWarning != nil {
			s.opts.OnWarning(err)
		}
		return
	}
	log.Printf("[sync %s] ⚠️  Failed to write local cache: %v", s.tag(), err)
}

// post queues an input for the loop. Inputs posted after the loop exits are
// dropped.
func (s *Session) post(ev Input) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) send(ctx context.Context, ev any) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) tag() string {
	if len(s.id) > 8 {
		return s.id[:8]
	}
	return s.id
}
