package search

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/storefront/model"
)

// EvalFunc computes suggestions for a query. It should return promptly once
// ctx is cancelled.
type EvalFunc func(ctx context.Context, query string) (model.SuggestionResponse, error)

// EmitFunc receives the result of a current evaluation. It must not call
// back into the Debouncer's Input.
type EmitFunc func(resp model.SuggestionResponse)

type debounceRequest struct {
	generation uint64
	query      string
}

// Debouncer delays evaluation of live-search input until the input has been
// quiet for a fixed delay. Every Input bumps a generation counter; a newer
// input cancels both the pending timer and any evaluation in flight, and an
// evaluation that finishes for an older generation is discarded instead of
// emitted. A single worker runs evaluations, so at most one is in flight.
type Debouncer struct {
	delay time.Duration
	eval  EvalFunc
	emit  EmitFunc

	// emitMu orders emissions against Input: a result is emitted only while
	// its generation is still the latest.
	emitMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc
	closed     bool
	discarded  uint64

	ready chan debounceRequest
	done  chan struct{}
	wg    sync.WaitGroup

	beforeEmit func(query string)
}

// NewDebouncer creates a Debouncer and starts its worker. Close must be
// called to release it.
func NewDebouncer(delay time.Duration, eval EvalFunc, emit EmitFunc) *Debouncer {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	d := &Debouncer{
		delay: delay,
		eval:  eval,
		emit:  emit,
		ready: make(chan debounceRequest),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Input records a keystroke and returns its generation.
func (d *Debouncer) Input(query string) uint64 {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.generation
	}
	d.generation++
	gen := d.generation

	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	req := debounceRequest{generation: gen, query: query}
	d.timer = time.AfterFunc(d.delay, func() {
		select {
		case d.ready <- req:
		case <-d.done:
		}
	})
	return gen
}

// Generation returns the latest input generation.
func (d *Debouncer) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Discarded returns how many evaluations were dropped as stale.
func (d *Debouncer) Discarded() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discarded
}

// Close stops the pending timer, cancels the evaluation in flight and waits
// for the worker to exit.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
	}
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Debouncer) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case req := <-d.ready:
			d.evaluate(req)
		}
	}
}

func (d *Debouncer) evaluate(req debounceRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.mu.Lock()
	if d.closed || req.generation != d.generation {
		d.discarded++
		d.mu.Unlock()
		return
	}
	d.cancel = cancel
	d.mu.Unlock()

	resp, err := d.eval(ctx, req.query)

	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	stale := d.closed || req.generation != d.generation || ctx.Err() != nil
	if stale {
		d.discarded++
	} else {
		d.cancel = nil
	}
	d.mu.Unlock()

	if stale || err != nil {
		return
	}
	if d.beforeEmit != nil {
		d.beforeEmit(req.query)
	}
	resp.Generation = req.generation
	d.emit(resp)
}
