package backend

import (
	"context"
	"sync"
)

// hub fans collection change notifications out to subscribers. Each
// subscriber runs on its own goroutine and coalesces bursts of changes into
// a single reload, so a slow subscriber never blocks writers.
type hub struct {
	load func(ctx context.Context, collection string) ([]Document, error)

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	wg     sync.WaitGroup
	closed bool
}

type subscriber struct {
	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func newHub(load func(ctx context.Context, collection string) ([]Document, error)) *hub {
	return &hub{load: load, subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrNetwork
	}

	sub := &subscriber{kick: make(chan struct{}, 1), done: make(chan struct{})}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[*subscriber]struct{})
	}
	h.subs[collection][sub] = struct{}{}
	sub.kick <- struct{}{}

	stop := func() {
		sub.once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			delete(h.subs[collection], sub)
			if len(h.subs[collection]) == 0 {
				delete(h.subs, collection)
			}
			h.mu.Unlock()
		})
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case <-sub.kick:
				docs, err := h.load(ctx, collection)
				if err != nil {
					continue
				}
				select {
				case <-sub.done:
					return
				default:
				}
				fn(docs)
			}
		}
	}()
	return stop, nil
}

// notify wakes every subscriber of collection.
func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[collection] {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

// close stops every subscriber and waits for them to exit.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	var subs []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	h.wg.Wait()
}

// subscribers returns the number of live subscriptions. For testing.
func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
