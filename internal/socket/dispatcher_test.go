package socket_test

import (
	"context"
	"sync"
	"testing"

	"github.com/corewave/ev80/internal/socket"
)

// TestConcurrentConnectAndDataDontRace exercises Dispatcher.Connect's
// documented "safe to call from any goroutine" guarantee: goroutines dialing
// out run alongside goroutines delivering inbound bytes for unrelated ids,
// all touching the Dispatcher's registry map at the same time.
func TestConcurrentConnectAndDataDontRace(t *testing.T) {
	driver := newFakeDriver()
	d := socket.NewDispatcher(driver)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n + n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := d.Connect(context.Background(), "example.invalid", 80); err != nil {
				t.Error(err)
			}
		}()
		go func(id socket.ID) {
			defer wg.Done()
			d.OnData(id, []byte("x"))
		}(socket.ID(1000 + i))
	}
	wg.Wait()

	if d.Len() != 2*n {
		t.Fatalf("got %d registered sockets, want %d", d.Len(), 2*n)
	}
}
