package promise

import (
	"fmt"

	"github.com/corewave/ev80/internal/util"
)

// Task produces a Promise when invoked. Gather takes thunks rather than
// already-live Promises so it can guard the one synchronous failure mode
// spec §9 calls out: a task that panics while being started (the
// Lua-source "throws at subscribe time" case).
type Task func() *Promise

// Gather subscribes to every task and resolves once all have settled, in
// input order (spec §4.G). Empty input resolves immediately with no
// values.
//
// Deviation from spec §9's literal description: there, a task that panics
// at subscribe time leaves the counter undecremented forever, so gather
// never completes — explicitly flagged there as an open issue. ev80
// resolves that Open Question in favor of availability (SPEC_FULL.md §11):
// the panicking slot is filled with an error value and counted as settled,
// so Gather always completes.
func Gather(tasks ...Task) *Promise {
	out := New()

	if len(tasks) == 0 {
		out.Resolve()
		return out
	}

	results := make([]any, len(tasks))
	remaining := newCounter(len(tasks))

	finish := func(i int, v any) {
		results[i] = v
		if remaining.decrement() {
			out.Resolve(results...)
		}
	}

	for i, task := range tasks {
		i, task := i, task
		startTask(i, task, finish)
	}

	return out
}

// startTask runs task() under a recover guard so a synchronous panic
// (spec's "task throws at subscribe time") still settles its slot instead
// of wedging Gather forever.
func startTask(i int, task Task, finish func(int, any)) {
	defer func() {
		if r := recover(); r != nil {
			util.LogError("gather: task %d panicked: %v", i, r)
			finish(i, fmt.Errorf("gather: task %d panicked: %v", i, r))
		}
	}()

	p := task()
	p.Subscribe(func(values ...any) {
		switch len(values) {
		case 0:
			finish(i, nil)
		case 1:
			finish(i, values[0])
		default:
			finish(i, values)
		}
	})
}

// counter is a tiny mutex-guarded countdown, kept local to this file since
// it is not part of the Promise abstraction itself.
type counter struct {
	mu chan struct{} // 1-buffered channel used as a cheap mutex
	n  int
}

func newCounter(n int) *counter {
	c := &counter{mu: make(chan struct{}, 1), n: n}
	c.mu <- struct{}{}
	return c
}

// decrement returns true exactly once, when the counter reaches zero.
func (c *counter) decrement() bool {
	<-c.mu
	c.n--
	done := c.n == 0
	c.mu <- struct{}{}
	return done
}

// Step transforms the previous stage's resolved values into the next
// stage's input. If it returns a *Promise, Chain awaits it before
// continuing; any other return value becomes the next step's sole
// argument (spec §4.G).
type Step func(values ...any) any

// Chain pipes first's resolved values through steps in order, awaiting any
// step that returns a *Promise. A panicking step logs and resolves the
// whole chain with a nil value, mirroring the buffered reader's "coroutine
// failure: log and resolve outer promise with nil" policy (spec §7).
func Chain(first *Promise, steps ...Step) *Promise {
	out := New()

	var run func(idx int, values []any)
	run = func(idx int, values []any) {
		if idx == len(steps) {
			out.Resolve(values...)
			return
		}

		result, ok := safeStep(idx, steps[idx], values)
		if !ok {
			out.Resolve(nil)
			return
		}

		if p, isPromise := result.(*Promise); isPromise {
			p.Subscribe(func(values ...any) { run(idx+1, values) })
			return
		}

		run(idx+1, []any{result})
	}

	first.Subscribe(func(values ...any) { run(0, values) })
	return out
}

func safeStep(idx int, step Step, values []any) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			util.LogError("chain: step %d panicked: %v", idx, r)
			ok = false
		}
	}()
	return step(values...), true
}
