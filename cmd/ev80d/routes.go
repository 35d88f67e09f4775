package main

import (
	"context"
	"fmt"
	"os"

	"github.com/corewave/ev80/internal/blobhandler"
	"github.com/corewave/ev80/internal/httpserver"
	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
	"github.com/corewave/ev80/internal/wsupgrade"
)

// buildRoutes registers the example handlers every worker serves. Routing
// is exact-match (method, path) only, per spec §4.F — there is no path
// parameter syntax, so the blob route takes its key from the query string
// instead of the URL.
func buildRoutes() *httpserver.Router {
	rt := httpserver.NewRouter()

	rt.Handle("GET", "/", func(s *socket.Socket, _ string, _ httpserver.Headers, _ []byte) {
		s.HTTPResponse("200 OK", "text/plain", []byte("ev80"))
	})

	rt.Handle("POST", "/echo", func(s *socket.Socket, _ string, headers httpserver.Headers, body []byte) {
		s.HTTPResponse("200 OK", headers.Get("content-type"), body)
	})

	rt.Handle("GET", "/blob", blobRoute())

	rt.Handle("GET", "/ws", wsupgrade.Handler(func(s *socket.Socket, payload []byte) {
		util.LogInfo("ws: received %q", payload)
	}))

	return rt
}

// blobRoute demonstrates subscribing to a Promise from within a route
// handler instead of blocking the worker's loop goroutine: the S3 fetch
// runs on its own goroutine, and the HTTP response is written from
// whichever goroutine the Promise resolves on (spec §4.C's subscribe side
// has no goroutine affinity requirement, only Socket.Write does — and
// Socket.Write is documented safe to call from any goroutine).
func blobRoute() httpserver.Handler {
	bucket := os.Getenv("EV80_BLOB_BUCKET")

	return func(s *socket.Socket, query string, _ httpserver.Headers, _ []byte) {
		key := httpserver.ParseQuery(query)["key"]
		if key == "" || bucket == "" {
			s.HTTPResponse("400 Bad Request", "text/plain", []byte("missing key or EV80_BLOB_BUCKET not configured"))
			return
		}

		client, err := blobhandler.New(context.Background(), bucket)
		if err != nil {
			util.LogError("blobhandler: %v", err)
			s.HTTPResponse("502 Bad Gateway", "text/plain", []byte("blob store unavailable"))
			return
		}

		client.Fetch(context.Background(), key).Subscribe(func(values ...any) {
			body, _ := values[0].([]byte)
			if fetchErr, _ := values[1].(error); fetchErr != nil {
				s.HTTPResponse("404 Not Found", "text/plain", []byte(fmt.Sprintf("%s: %v", key, fetchErr)))
				return
			}
			s.HTTPResponse("200 OK", "application/octet-stream", body)
		})
	}
}
