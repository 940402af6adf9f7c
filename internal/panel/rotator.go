package panel

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SlideInterval is how long each slide stays on screen.
const SlideInterval = 15 * time.Second

// Rotator advances the current slide index on a fixed interval. Every
// SetCount restarts the interval, so a document change gives the current
// slide a full period.
type Rotator struct {
	clk       clockwork.Clock
	interval  time.Duration
	onAdvance func(index int)

	mu      sync.Mutex
	index   int
	count   int
	timer   clockwork.Timer
	stopped bool
}

// NewRotator returns a stopped-until-counted rotator. onAdvance runs on the
// clock's timer goroutine and may be nil.
func NewRotator(clk clockwork.Clock, interval time.Duration, onAdvance func(index int)) *Rotator {
	if interval <= 0 {
		interval = SlideInterval
	}
	return &Rotator{clk: clk, interval: interval, onAdvance: onAdvance}
}

// SetCount tells the rotator how many slides there are and restarts the
// interval. With no slides it idles.
func (r *Rotator) SetCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = n
	if n > 0 {
		r.index %= n
	} else {
		r.index = 0
	}
	r.scheduleLocked()
}

func (r *Rotator) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Stop cancels the pending advance. Safe to call more than once.
func (r *Rotator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Rotator) scheduleLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.stopped || r.count == 0 {
		return
	}
	var timer clockwork.Timer
	timer = r.clk.AfterFunc(r.interval, func() { r.advance(timer) })
	r.timer = timer
}

func (r *Rotator) advance(fired clockwork.Timer) {
	r.mu.Lock()
	// a timer replaced by SetCount may still fire
	if r.timer != fired || r.count == 0 {
		r.mu.Unlock()
		return
	}
	r.index = (r.index + 1) % r.count
	index := r.index
	r.scheduleLocked()
	r.mu.Unlock()

	if r.onAdvance != nil {
		r.onAdvance(index)
	}
}
