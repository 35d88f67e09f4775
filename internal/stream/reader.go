// Package stream implements the buffered reader of spec §4.E: a layer on
// top of internal/coroutine that lets a protocol coroutine ask for either a
// fixed number of bytes or a delimiter, instead of whatever-arrived-next
// raw chunks.
package stream

import (
	"bytes"

	"github.com/corewave/ev80/internal/coroutine"
	"github.com/corewave/ev80/internal/promise"
	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// Ask is one request from the protocol coroutine: either "give me N bytes"
// (Delim nil) or "give me bytes up to and including this delimiter".
type Ask struct {
	N     int
	Delim []byte
}

// ByteCount builds an Ask for a fixed-length read.
func ByteCount(n int) Ask { return Ask{N: n} }

// Delimiter builds an Ask that reads up to and including delim.
func Delimiter(delim string) Ask { return Ask{Delim: []byte(delim)} }

// Read pulls the frame satisfying ask. ok is false for the terminal eof
// frame delivered once the underlying socket stream ends.
type Read func(ask Ask) (data []byte, ok bool)

// Resolve delivers the protocol coroutine's final value.
type Resolve func(value any)

// Body is the protocol coroutine: it asks for frames via read and hands
// its result to resolve once done.
type Body func(read Read, resolve Resolve)

type innerFrame struct {
	data []byte
	ok   bool
}

// reader holds the accumulation state described in spec §3's "buffered
// reader" notes. buf and the ask bookkeeping are touched only from the
// outer pump goroutine (the one coroutine.Bind spawns for us); askCh and
// frameCh are the rendezvous with the protocol coroutine's own goroutine.
type reader struct {
	buf []byte

	askCh   chan Ask
	frameCh chan innerFrame
	done    chan struct{}

	haveAsk bool
	ask     Ask
}

// read is the Read function handed to the protocol coroutine body. It runs
// on the body's own goroutine.
func (r *reader) read(ask Ask) ([]byte, bool) {
	r.askCh <- ask
	f := <-r.frameCh
	return f.data, f.ok
}

// currentAsk returns the protocol coroutine's outstanding ask, blocking for
// a new one if the last one was already satisfied. alive is false once the
// coroutine has finished and will never ask again.
func (r *reader) currentAsk() (ask Ask, alive bool) {
	if r.haveAsk {
		return r.ask, true
	}
	select {
	case a := <-r.askCh:
		r.ask = a
		r.haveAsk = true
		return a, true
	case <-r.done:
		return Ask{}, false
	}
}

// satisfy attempts to carve ask out of buf. searchFrom is the length buf
// had before the most recently appended chunk — per spec §4.E, a delimiter
// search starts no earlier than searchFrom-len(delim) (clamped at 0) so a
// delimiter straddling a chunk boundary is still found, without rescanning
// bytes already known not to contain it.
func satisfy(ask Ask, buf []byte, searchFrom int) (data, rest []byte, found bool) {
	if ask.Delim == nil {
		if len(buf) < ask.N {
			return nil, buf, false
		}
		return buf[:ask.N], buf[ask.N:], true
	}

	from := searchFrom - len(ask.Delim)
	if from < 0 {
		from = 0
	}
	idx := bytes.Index(buf[from:], ask.Delim)
	if idx < 0 {
		return nil, buf, false
	}
	p := from + idx + len(ask.Delim)
	return buf[:p], buf[p:], true
}

// onChunk appends chunk and satisfies as many pending asks as the buffer
// now allows — one chunk may contain several framed messages. It returns
// false once the protocol coroutine has finished (normally or otherwise),
// telling the caller to stop pumping.
func (r *reader) onChunk(chunk []byte) bool {
	searchFrom := len(r.buf)
	r.buf = append(r.buf, chunk...)

	for {
		ask, alive := r.currentAsk()
		if !alive {
			return false
		}

		data, rest, found := satisfy(ask, r.buf, searchFrom)
		if !found {
			return true
		}
		r.buf = rest
		searchFrom = 0

		select {
		case r.frameCh <- innerFrame{data: data, ok: true}:
			r.haveAsk = false
		case <-r.done:
			return false
		}
	}
}

// deliverEOF delivers the single terminal (nil, false) frame once the
// underlying socket stream ends (spec §4.E: "resume it once with nil, eof
// so it can clean up").
func (r *reader) deliverEOF() {
	if _, alive := r.currentAsk(); !alive {
		return
	}
	select {
	case r.frameCh <- innerFrame{}:
	case <-r.done:
	}
}

// Bind wires body to s as a buffered protocol reader: raw chunks from s are
// accumulated and handed to body in the shape it asked for, one Ask at a
// time. The returned Promise resolves with body's result.
//
// If body finishes without ever calling resolve — including the edge case
// of erroring on its very first ask — the promise is resolved with nil so
// any awaiter unblocks (spec §4.E, §7).
func Bind(s *socket.Socket, body Body) *promise.Promise {
	p := promise.New()
	r := &reader{
		askCh:   make(chan Ask),
		frameCh: make(chan innerFrame),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer func() {
			if rec := recover(); rec != nil {
				util.LogError("stream: reader panicked: %v", rec)
			}
			p.Resolve(nil)
		}()
		body(r.read, func(value any) { p.Resolve(value) })
	}()

	coroutine.Bind(s, func(pull coroutine.Stream, _ coroutine.Resolve) {
		for {
			chunk, ok := pull()
			if !ok {
				r.deliverEOF()
				return
			}
			if !r.onChunk(chunk) {
				return
			}
		}
	})

	return p
}
