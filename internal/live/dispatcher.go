package live

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type event struct {
	gen   uint64 // 0 means always delivered
	fn    func()
	fence chan struct{}
}

// dispatcher runs UI callbacks in order on a single goroutine. The queue is
// unbounded so producers (receive loop, analyzer) never block on the UI.
type dispatcher struct {
	live   func(gen uint64) bool
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}

	inHandler atomic.Bool
}

func newDispatcher(live func(gen uint64) bool, logger zerolog.Logger) *dispatcher {
	d := &dispatcher{
		live:   live,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// post queues fn. A non-zero gen is checked at delivery time; events of an
// attempt that is no longer current are dropped.
func (d *dispatcher) post(gen uint64, fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, event{gen: gen, fn: fn})
	d.mu.Unlock()
	d.signal()
}

// fence blocks until everything queued before it has been delivered or
// dropped. While any callback is running it returns immediately, since the
// caller may be that callback.
func (d *dispatcher) fence() {
	if d.inHandler.Load() {
		return
	}
	ch := make(chan struct{})
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, event{fence: ch})
	d.mu.Unlock()
	d.signal()

	select {
	case <-ch:
	case <-d.done:
	}
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(ev)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-d.wake
		}
	}
}

func (d *dispatcher) deliver(ev event) {
	if ev.fence != nil {
		close(ev.fence)
		return
	}
	if ev.gen != 0 && !d.live(ev.gen) {
		return
	}

	d.inHandler.Store(true)
	defer d.inHandler.Store(false)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("Callback panicked")
		}
	}()
	ev.fn()
}

// close delivers what is already queued and stops the goroutine. Called
// from inside a callback it does not wait.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()

	if !d.inHandler.Load() {
		<-d.done
	}
}
