package syncengine

import (
	"errors"
	"time"

	"room-panel/internal/models"
)

// Machine is the per-session convergence state machine. It is not safe for
// concurrent use; Session drives it from a single goroutine. Handle never
// blocks and never performs I/O, it only returns the effects to run.
//
// Only LocalEdit schedules pushes or sibling broadcasts. Everything that
// arrives from outside (channel, poll, sibling views) is applied with
// OriginRemote, which is what keeps a remote change from being pushed back.
type Machine struct {
	quiet time.Duration

	state     State
	origin    Origin
	reachable bool
	closed    bool

	local      models.Document
	lastSynced models.Document // newest value known to be in the store
	updatedAt  int64           // newest store stamp observed

	bootEdited bool
	rejected   bool

	// A sibling's edit holds the view until the store shows a stamp newer
	// than siblingAt; older store values predate the edit.
	siblingHeld bool
	siblingAt   int64

	gen          uint64
	timerPending bool

	seq         uint64
	inflight    bool
	inflightDoc models.Document
	pushQueued  bool
}

// NewMachine starts in StateBooting holding seed, the cached document or
// the default when the cache is empty.
func NewMachine(seed models.Document, quiet time.Duration) *Machine {
	return &Machine{
		quiet:  quiet,
		state:  StateBooting,
		origin: OriginRemote,
		local:  seed.Clone(),
	}
}

func (m *Machine) State() State           { return m.state }
func (m *Machine) Origin() Origin         { return m.origin }
func (m *Machine) Reachable() bool        { return m.reachable }
func (m *Machine) Local() models.Document { return m.local.Clone() }
func (m *Machine) UpdatedAt() int64       { return m.updatedAt }

// Pending reports whether a local edit has not yet been acknowledged by the
// store.
func (m *Machine) Pending() bool {
	if m.state == StateBooting {
		return m.bootEdited
	}
	return m.dirty()
}

// Rejected reports whether the store refused the latest push. It clears on
// the next local edit.
func (m *Machine) Rejected() bool { return m.rejected }

func (m *Machine) dirty() bool {
	return m.state == StateDiverged || m.timerPending || m.inflight || m.pushQueued
}

// Handle applies one input and returns the effects it produced.
func (m *Machine) Handle(in Input) []Effect {
	if m.closed {
		return nil
	}
	switch in := in.(type) {
	case BootFetched:
		return m.bootFetched(in.Remote)
	case BootFailed:
		return m.bootFailed()
	case LocalEdit:
		return m.localEdit(in.Doc)
	case RemoteMessage:
		return m.remoteMessage(in)
	case PollResult:
		return m.pollResult(in.Remote)
	case PollFailed:
		return m.pollFailed()
	case SiblingUpdate:
		return m.siblingUpdate(in.Doc)
	case DebounceFired:
		return m.debounceFired(in.Gen)
	case PushDone:
		return m.pushDone(in)
	}
	return nil
}

// Close stops the debounce timer and aborts the in-flight push. Later
// inputs are ignored. Calling Close again returns nothing.
func (m *Machine) Close() []Effect {
	if m.closed {
		return nil
	}
	m.closed = true

	var effects []Effect
	if m.timerPending {
		m.timerPending = false
		effects = append(effects, CancelDebounce{})
	}
	if m.inflight {
		m.inflight = false
		m.pushQueued = false
		effects = append(effects, AbortPush{})
	}
	return effects
}

func (m *Machine) bootFetched(remote models.VersionedDocument) []Effect {
	if m.state != StateBooting {
		return nil
	}
	effects := m.setReachable(true)
	m.observe(remote.UpdatedAt)
	if !remote.IsEmpty() {
		m.lastSynced = remote.Data.Clone()
	}

	switch {
	case m.bootEdited && !m.local.Equal(remote.Data):
		// Edits made while the fetch was outstanding are newer than the
		// value it returned.
		m.state = StateDiverged
		return append(effects, m.scheduleDebounce())

	case !remote.IsEmpty():
		m.state = StateSynced
		m.origin = OriginRemote
		m.local = remote.Data.Clone()
		return append(effects,
			ApplyView{Doc: m.local.Clone(), Origin: OriginRemote},
			SaveCache{Doc: m.local.Clone()},
		)

	default:
		// Empty store: the seed becomes the initial value.
		m.state = StateSynced
		effects = append(effects, ApplyView{Doc: m.local.Clone(), Origin: m.origin})
		return append(effects, m.startPush()...)
	}
}

func (m *Machine) bootFailed() []Effect {
	if m.state != StateBooting {
		return nil
	}
	effects := m.setReachable(false)
	if m.bootEdited {
		m.state = StateDiverged
		return effects
	}
	m.state = StateSynced
	m.origin = OriginRemote
	return append(effects, ApplyView{Doc: m.local.Clone(), Origin: OriginRemote})
}

func (m *Machine) localEdit(doc models.Document) []Effect {
	if m.local.Equal(doc) {
		return nil
	}
	m.local = doc.Clone()
	m.origin = OriginLocal
	m.rejected = false

	effects := []Effect{
		ApplyView{Doc: m.local.Clone(), Origin: OriginLocal},
		SaveCache{Doc: m.local.Clone()},
		BroadcastSibling{Doc: m.local.Clone()},
	}

	if m.state == StateBooting {
		m.bootEdited = true
		return effects
	}

	if !m.inflight && !m.pushQueued && m.local.Equal(m.lastSynced) {
		// edit undone before the timer fired
		m.state = StateSynced
		return append(effects, m.cancelDebounce()...)
	}

	m.state = StateDiverged
	if !m.reachable {
		return effects
	}
	return append(effects, m.scheduleDebounce())
}

func (m *Machine) remoteMessage(in RemoteMessage) []Effect {
	if m.state == StateBooting {
		return nil
	}
	effects := m.setReachable(true)
	if in.Doc.IsEmpty() || m.dirty() {
		return effects
	}
	if in.UpdatedAt > 0 && in.UpdatedAt < m.updatedAt {
		return effects
	}
	if m.heldBySibling(in.UpdatedAt) {
		return effects
	}
	m.observe(in.UpdatedAt)
	return append(effects, m.applyRemote(in.Doc)...)
}

func (m *Machine) pollResult(remote models.VersionedDocument) []Effect {
	if m.state == StateBooting {
		return nil
	}
	effects := m.setReachable(true)

	if remote.IsEmpty() {
		// The store lost its value; put ours back.
		if m.dirty() || m.rejected || m.local.IsEmpty() {
			return effects
		}
		return append(effects, m.startPush()...)
	}
	if remote.UpdatedAt < m.updatedAt {
		return effects
	}

	if m.dirty() {
		if m.state == StateDiverged && !m.timerPending && !m.inflight {
			// an earlier push failed; this poll is the retry
			return append(effects, m.startPush()...)
		}
		return effects
	}
	if m.heldBySibling(remote.UpdatedAt) {
		return effects
	}

	m.observe(remote.UpdatedAt)
	return append(effects, m.applyRemote(remote.Data)...)
}

func (m *Machine) pollFailed() []Effect {
	if m.state == StateBooting {
		return nil
	}
	return m.setReachable(false)
}

func (m *Machine) siblingUpdate(doc models.Document) []Effect {
	if m.local.Equal(doc) {
		return nil
	}
	m.local = doc.Clone()
	m.origin = OriginRemote
	effects := []Effect{ApplyView{Doc: m.local.Clone(), Origin: OriginRemote}}

	// The sibling that made the edit pushes it.
	if m.state == StateBooting {
		m.bootEdited = false
		return effects
	}
	effects = append(effects, m.cancelDebounce()...)
	m.pushQueued = false
	m.state = StateSynced
	m.siblingHeld = true
	m.siblingAt = m.updatedAt
	return effects
}

// heldBySibling reports whether a store value stamped at must be ignored
// because a sibling edit is newer. A value without a stamp cannot prove it
// is newer.
func (m *Machine) heldBySibling(at int64) bool {
	if !m.siblingHeld {
		return false
	}
	if at > m.siblingAt {
		m.siblingHeld = false
		return false
	}
	return true
}

func (m *Machine) debounceFired(gen uint64) []Effect {
	if !m.timerPending || gen != m.gen {
		return nil
	}
	m.timerPending = false
	if m.state != StateDiverged || !m.reachable {
		return nil
	}
	return m.startPush()
}

func (m *Machine) pushDone(in PushDone) []Effect {
	if !m.inflight || in.Seq != m.seq {
		return nil
	}
	m.inflight = false
	pushed := m.inflightDoc
	m.inflightDoc = nil

	if in.Err != nil {
		return m.pushFailed(in.Err)
	}

	m.observe(in.Result.UpdatedAt)
	m.lastSynced = pushed

	if m.pushQueued {
		m.pushQueued = false
		if !m.local.Equal(m.lastSynced) {
			return m.startPush()
		}
	}
	if !m.timerPending && m.local.Equal(m.lastSynced) {
		m.state = StateSynced
	}
	return nil
}

func (m *Machine) pushFailed(err error) []Effect {
	m.pushQueued = false
	switch {
	case errors.Is(err, ErrCancelled):
		return nil
	case errors.Is(err, ErrStoreUnreachable):
		// keep the edit, it goes out when the store is back
		m.state = StateDiverged
		return m.setReachable(false)
	case errors.Is(err, ErrRejected):
		m.rejected = true
		if !m.timerPending {
			m.state = StateSynced
		}
		return nil
	default:
		m.state = StateDiverged
		return nil
	}
}

func (m *Machine) applyRemote(doc models.Document) []Effect {
	m.lastSynced = doc.Clone()
	if m.local.Equal(doc) {
		return nil
	}
	m.local = doc.Clone()
	m.origin = OriginRemote
	m.state = StateSynced
	return []Effect{
		ApplyView{Doc: m.local.Clone(), Origin: OriginRemote},
		SaveCache{Doc: m.local.Clone()},
	}
}

func (m *Machine) setReachable(reachable bool) []Effect {
	if m.reachable == reachable {
		return nil
	}
	m.reachable = reachable
	effects := []Effect{ReachabilityChanged{Reachable: reachable}}
	if reachable && m.state == StateDiverged && !m.timerPending && !m.inflight {
		effects = append(effects, m.startPush()...)
	}
	return effects
}

func (m *Machine) scheduleDebounce() Effect {
	m.gen++
	m.timerPending = true
	return ScheduleDebounce{Gen: m.gen, After: m.quiet}
}

func (m *Machine) cancelDebounce() []Effect {
	if !m.timerPending {
		return nil
	}
	m.timerPending = false
	m.gen++
	return []Effect{CancelDebounce{}}
}

func (m *Machine) startPush() []Effect {
	if m.local.IsEmpty() {
		return nil
	}
	if m.inflight {
		m.pushQueued = true
		return nil
	}
	m.seq++
	m.inflight = true
	m.inflightDoc = m.local.Clone()
	return []Effect{Push{Seq: m.seq, Doc: m.inflightDoc.Clone()}}
}

func (m *Machine) observe(updatedAt int64) {
	if updatedAt > m.updatedAt {
		m.updatedAt = updatedAt
	}
}
