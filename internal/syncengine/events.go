package syncengine

import (
	"time"

	"room-panel/internal/models"
)

// State is the convergence state of one session.
type State int

const (
	StateBooting State = iota
	StateSynced
	StateDiverged
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateSynced:
		return "synced"
	case StateDiverged:
		return "diverged"
	}
	return "unknown"
}

// Origin says who produced the current local document.
type Origin int

const (
	// OriginRemote covers the store, the change channel and sibling views.
	OriginRemote Origin = iota
	// OriginLocal is an edit made through this session.
	OriginLocal
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "remote"
}

// Input is a transition input for Machine.Handle.
type Input interface{ input() }

// BootFetched is the result of the initial store fetch.
type BootFetched struct{ Remote models.VersionedDocument }

// BootFailed means the initial fetch could not reach the store.
type BootFailed struct{ Err error }

// LocalEdit replaces the local document with an edit made in this session.
type LocalEdit struct{ Doc models.Document }

// RemoteMessage is a dataUpdate received on the change channel.
type RemoteMessage struct {
	Doc       models.Document
	UpdatedAt int64
}

// PollResult is the store value seen by a periodic re-fetch.
type PollResult struct{ Remote models.VersionedDocument }

// PollFailed is a periodic re-fetch that did not reach the store.
type PollFailed struct{ Err error }

// SiblingUpdate is an edit broadcast by another session on this device.
type SiblingUpdate struct{ Doc models.Document }

// DebounceFired is the quiet-interval timer for generation Gen.
type DebounceFired struct{ Gen uint64 }

// PushDone completes push Seq.
type PushDone struct {
	Seq    uint64
	Result models.VersionedDocument
	Err    error
}

func (BootFetched) input()   {}
func (BootFailed) input()    {}
func (LocalEdit) input()     {}
func (RemoteMessage) input() {}
func (PollResult) input()    {}
func (PollFailed) input()    {}
func (SiblingUpdate) input() {}
func (DebounceFired) input() {}
func (PushDone) input()      {}

// Effect is work the session runner performs for the machine.
type Effect interface{ effect() }

// ApplyView hands the new local document to the presentation layer.
type ApplyView struct {
	Doc    models.Document
	Origin Origin
}

// SaveCache writes the device cache slot.
type SaveCache struct{ Doc models.Document }

// BroadcastSibling notifies other sessions on this device.
type BroadcastSibling struct{ Doc models.Document }

// ScheduleDebounce (re)starts the quiet-interval timer.
type ScheduleDebounce struct {
	Gen   uint64
	After time.Duration
}

// CancelDebounce stops the quiet-interval timer.
type CancelDebounce struct{}

// Push writes Doc to the store and reports back with PushDone{Seq}.
type Push struct {
	Seq uint64
	Doc models.Document
}

// AbortPush cancels the in-flight push.
type AbortPush struct{}

// ReachabilityChanged reports a flip of the apiReachable flag.
type ReachabilityChanged struct{ Reachable bool }

func (ApplyView) effect()           {}
func (SaveCache) effect()           {}
func (BroadcastSibling) effect()    {}
func (ScheduleDebounce) effect()    {}
func (CancelDebounce) effect()      {}
func (Push) effect()                {}
func (AbortPush) effect()           {}
func (ReachabilityChanged) effect() {}
