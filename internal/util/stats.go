package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide socket/request counter.
var Stats = &stats{}

type stats struct {
	SocketsOpened atomic.Int64 // cumulative count of sockets accepted/connected since process start
	SocketsClosed atomic.Int64 // cumulative count of sockets closed since process start
	BytesWritten  atomic.Int64 // cumulative bytes written across all sockets
	BytesRead     atomic.Int64 // cumulative bytes read across all sockets
	RequestsServed atomic.Int64 // cumulative HTTP requests routed to a handler
	NotFound      atomic.Int64 // cumulative HTTP requests that matched no route
}

func (s *stats) AddSocket()      { s.SocketsOpened.Add(1) }
func (s *stats) RemoveSocket()   { s.SocketsClosed.Add(1) }
func (s *stats) AddWritten(n int) { s.BytesWritten.Add(int64(n)) }
func (s *stats) AddRead(n int)    { s.BytesRead.Add(int64(n)) }
func (s *stats) AddRequest()     { s.RequestsServed.Add(1) }
func (s *stats) AddNotFound()    { s.NotFound.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic/connection
// statistics every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevRead, prevWritten, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.SocketsOpened.Load()
				closed := Stats.SocketsClosed.Load()
				read := Stats.BytesRead.Load()
				written := Stats.BytesWritten.Load()

				inS := float64(read-prevRead) / 10.0
				outS := float64(written-prevWritten) / 10.0
				inC := opened - prevOpened
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC))
				}

				prevRead = read
				prevWritten = written
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC int64) string {
	return fmt.Sprintf("Read: %s/s | Written: %s/s | Sockets: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
	)
}
