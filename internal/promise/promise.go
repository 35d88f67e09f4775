// Package promise implements the single-shot, order-tolerant value handle
// described in spec §4.C: a resolve side and a subscribe side, where
// subscribing before or after resolution both work exactly once.
//
// A Promise is genuinely shared across goroutines in this module — the
// buffered reader's inner coroutine and the blob handler's background S3
// fetch both resolve from outside the loop goroutine — so it is guarded by
// a mutex rather than relying on single-threaded ownership.
package promise

import "sync"

// Sink receives the values a Promise resolves with.
type Sink func(values ...any)

// Promise is a mutable cell: at most one subscriber, resolved at most
// once. Create one with New; values flow out to whichever of Resolve/
// Subscribe runs second (or, if Subscribe runs second, immediately).
type Promise struct {
	mu        sync.Mutex
	resolved  bool
	values    []any
	subscribe Sink
}

// New creates an unresolved Promise.
func New() *Promise {
	return &Promise{}
}

// Resolve fires the promise with values. Only the first call has any
// effect — per spec §9's resolved Open Question, subsequent calls are
// silently ignored rather than overwriting the stored value.
func (p *Promise) Resolve(values ...any) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.values = values
	sink := p.subscribe
	p.mu.Unlock()

	if sink != nil {
		sink(values...)
	}
}

// Subscribe registers sink to receive the resolved values. If the promise
// already resolved, sink fires immediately and synchronously. Only the
// first call to Subscribe has any effect — a Promise has at most one
// subscriber, matching spec §3's data model.
func (p *Promise) Subscribe(sink Sink) {
	p.mu.Lock()
	if p.subscribe != nil {
		p.mu.Unlock()
		return
	}
	if p.resolved {
		values := p.values
		p.mu.Unlock()
		sink(values...)
		return
	}
	p.subscribe = sink
	p.mu.Unlock()
}

// Resolved reports whether Resolve has already fired — test/inspection
// surface, not part of the await protocol itself.
func (p *Promise) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}
