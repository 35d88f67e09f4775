// Package coroutine converts a Socket's push-style on_data/on_close events
// into a pull-style iterator a user-supplied function can consume in
// straight-line style, per spec §4.D. The user function never sees a
// callback: it calls stream() to pull the next chunk and resolve() to
// deliver its final value.
//
// A coroutine here is a goroutine plus a pair of rendezvous channels rather
// than a true stackful coroutine — Go has no coroutine.resume/yield
// primitive, so the suspension point described in the Design Notes
// ("a coroutine suspends exactly at a stream() pull...") is realized as a
// channel handoff instead of a stack switch.
package coroutine

import (
	"github.com/corewave/ev80/internal/promise"
	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// Stream pulls the next chunk. ok is false exactly once, for the terminal
// nil sentinel described in spec §4.D — the stream never yields again after
// that.
type Stream func() (chunk []byte, ok bool)

// Resolve delivers the coroutine's final value to the Promise Bind returns.
type Resolve func(value any)

// Body is the user-supplied coroutine: straight-line code that pulls chunks
// via stream and, once done, hands its result to resolve.
type Body func(stream Stream, resolve Resolve)

type frame struct {
	chunk []byte
	ok    bool
}

// binding holds the rendezvous state for one Bind call (spec §3's
// "coroutine binding state" data model entry).
type binding struct {
	mu      chan struct{} // 1-buffered mutex, consistent with promise/counter's style
	running bool
	ended   bool
	dead    bool

	parked chan struct{} // buffered(1): coroutine -> main, "parked at stream(), ready for a value"
	value  chan frame    // main -> coroutine: the next frame
	done   chan struct{} // closed once body returns or panics
}

func newBinding() *binding {
	b := &binding{
		mu:     make(chan struct{}, 1),
		parked: make(chan struct{}, 1),
		value:  make(chan frame),
		done:   make(chan struct{}),
	}
	b.mu <- struct{}{}
	return b
}

func (b *binding) lock()   { <-b.mu }
func (b *binding) unlock() { b.mu <- struct{}{} }

// stream is the Stream function handed to the user body. It runs on the
// body's own goroutine.
func (b *binding) stream() ([]byte, bool) {
	b.parked <- struct{}{}
	f := <-b.value
	return f.chunk, f.ok
}

// deliver resumes the coroutine with chunk (or, if ok is false, the
// terminal sentinel) and waits for the handoff to complete. It never
// delivers past a coroutine that has already finished.
//
// running is held from the moment deliver starts waiting for the coroutine
// to park through the moment the chunk has been handed off. Spec §4.D's
// reentrancy case — a close notification arriving mid-resume — is modeled
// by that window: if deliver(close's nil sentinel) is attempted while
// running is already true, it is deferred via ended instead of attempting a
// second concurrent send on value, which no one would be ready to receive.
func (b *binding) deliver(chunk []byte, ok bool) {
	b.lock()
	if b.dead {
		b.unlock()
		return
	}
	if b.running {
		b.ended = true
		b.unlock()
		return
	}
	b.running = true
	b.unlock()

	select {
	case <-b.parked:
		b.value <- frame{chunk: chunk, ok: ok}
	case <-b.done:
		b.lock()
		b.dead = true
		b.unlock()
		return
	}

	b.lock()
	b.running = false
	deferredClose := b.ended
	b.ended = false
	b.unlock()

	if deferredClose {
		b.deliver(nil, false)
	}
}

// Bind wires body to s: every inbound chunk on s resumes body's pull at
// stream(), and s closing delivers exactly one terminal (nil, false) per
// spec §4.D's ordering guarantee. Bind returns the Promise that fires once
// body calls resolve.
func Bind(s *socket.Socket, body Body) *promise.Promise {
	p := promise.New()
	b := newBinding()

	go func() {
		defer close(b.done)
		defer func() {
			if r := recover(); r != nil {
				util.LogError("coroutine: body panicked: %v", r)
			}
		}()
		body(b.stream, func(value any) { p.Resolve(value) })
	}()

	s.SetDataHandler(func(chunk []byte) { b.deliver(chunk, true) })
	s.SetCloseHandler(func() { b.deliver(nil, false) })

	return p
}
