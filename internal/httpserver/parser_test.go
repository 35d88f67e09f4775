package httpserver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/corewave/ev80/internal/httpserver"
	"github.com/corewave/ev80/internal/socket"
)

// recordingDriver captures everything written to each socket id so a test
// can assert on the exact bytes an HTTPResponse call produced.
type recordingDriver struct {
	mu      sync.Mutex
	written map[socket.ID][]byte
	closed  map[socket.ID]bool
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{written: make(map[socket.ID][]byte), closed: make(map[socket.ID]bool)}
}

func (d *recordingDriver) Write(id socket.ID, data []byte, offset int) (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written[id] = append(d.written[id], data[offset:]...)
	return true, len(data) - offset
}

func (d *recordingDriver) Close(id socket.ID) bool {
	d.mu.Lock()
	d.closed[id] = true
	d.mu.Unlock()
	return true
}

func (d *recordingDriver) Connect(context.Context, string, int) (socket.ID, error) { return 0, nil }

func (d *recordingDriver) snapshot(id socket.ID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.written[id])
}

func (d *recordingDriver) isClosed(id socket.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[id]
}

func newBoundDispatcher(rt *httpserver.Router) (*socket.Dispatcher, *recordingDriver) {
	driver := newRecordingDriver()
	d := socket.NewDispatcher(driver)
	d.SetNewSocketHook(rt.Bind)
	return d, driver
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestGetRouteRespondsAndKeepsAlive(t *testing.T) {
	rt := httpserver.NewRouter()
	rt.Handle("GET", "/", func(s *socket.Socket, _ string, _ httpserver.Headers, _ []byte) {
		s.HTTPResponse("200 OK", "text/plain", []byte("hi"))
	})
	d, driver := newBoundDispatcher(rt)

	d.OnData(1, []byte("GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	d.OnWrite(1)

	waitFor(t, func() bool { return driver.snapshot(1) != "" })

	want := "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-type: text/plain\r\nContent-length: 2\r\n\r\nhi"
	if got := driver.snapshot(1); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if driver.isClosed(1) {
		t.Fatal("keep-alive response should not close the socket")
	}
}

func TestMissingRouteReturns404(t *testing.T) {
	rt := httpserver.NewRouter()
	d, driver := newBoundDispatcher(rt)

	d.OnData(1, []byte("GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n"))
	d.OnWrite(1)

	waitFor(t, func() bool { return driver.snapshot(1) != "" })

	want := "HTTP/1.1 404 Not Found\r\nConnection: close\r\nContent-type: text/plain\r\n" +
		"Content-length: 34\r\n\r\n/nope was not found on this server"
	if got := driver.snapshot(1); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	waitFor(t, func() bool { return driver.isClosed(1) })
}

func TestPostRouteReceivesBody(t *testing.T) {
	rt := httpserver.NewRouter()
	var gotBody []byte
	done := make(chan struct{})
	rt.Handle("POST", "/echo", func(s *socket.Socket, _ string, _ httpserver.Headers, body []byte) {
		gotBody = body
		s.HTTPResponse("200 OK", "text/plain", body)
		close(done)
	})
	d, _ := newBoundDispatcher(rt)

	req := "POST /echo HTTP/1.1\r\nContent-length: 5\r\n\r\nhello"
	d.OnData(1, []byte(req))
	d.OnWrite(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	if string(gotBody) != "hello" {
		t.Fatalf("got body %q, want %q", gotBody, "hello")
	}
}

func TestKeepAlivePipelineServesBothRequests(t *testing.T) {
	rt := httpserver.NewRouter()
	var seen []string
	var mu sync.Mutex
	rt.Handle("GET", "/a", func(s *socket.Socket, _ string, _ httpserver.Headers, _ []byte) {
		mu.Lock()
		seen = append(seen, "/a")
		mu.Unlock()
		s.HTTPResponse("200 OK", "text/plain", []byte("a"))
	})
	rt.Handle("GET", "/b", func(s *socket.Socket, _ string, _ httpserver.Headers, _ []byte) {
		mu.Lock()
		seen = append(seen, "/b")
		mu.Unlock()
		s.HTTPResponse("200 OK", "text/plain", []byte("b"))
	})
	d, driver := newBoundDispatcher(rt)

	d.OnData(1, []byte("GET /a HTTP/1.1\r\nConnection: keep-alive\r\n\r\nGET /b HTTP/1.1\r\nConnection: close\r\n\r\n"))
	d.OnWrite(1)

	waitFor(t, func() bool { return driver.isClosed(1) })

	mu.Lock()
	gotSeen := append([]string(nil), seen...)
	mu.Unlock()
	if len(gotSeen) != 2 || gotSeen[0] != "/a" || gotSeen[1] != "/b" {
		t.Fatalf("unexpected handler order: %v", gotSeen)
	}

	full := driver.snapshot(1)
	wantA := "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-type: text/plain\r\nContent-length: 1\r\n\r\na"
	wantB := "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-type: text/plain\r\nContent-length: 1\r\n\r\nb"
	if full != wantA+wantB {
		t.Fatalf("got %q, want %q", full, wantA+wantB)
	}
}

func TestMalformedContentLengthClosesWithoutResponding(t *testing.T) {
	rt := httpserver.NewRouter()
	called := false
	rt.Handle("POST", "/echo", func(s *socket.Socket, _ string, _ httpserver.Headers, _ []byte) {
		called = true
	})
	d, driver := newBoundDispatcher(rt)

	d.OnData(1, []byte("POST /echo HTTP/1.1\r\nContent-length: not-a-number\r\n\r\n"))
	d.OnWrite(1)

	waitFor(t, func() bool { return driver.isClosed(1) })

	if called {
		t.Fatal("a malformed Content-length must never reach the route handler")
	}
	if driver.snapshot(1) != "" {
		t.Fatalf("expected no response to have been written, got %q", driver.snapshot(1))
	}
}
