package httpserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/stream"
	"github.com/corewave/ev80/internal/util"
)

// request is the parsed result of one header block plus its body, per spec
// §4.F step 2. traceID has no counterpart in spec.md — it exists purely so
// a keep-alive connection's interleaved log lines can be told apart.
type request struct {
	method  string
	url     string
	headers Headers
	body    []byte
	traceID string
}

// runConnection implements spec §4.F's per-connection loop: read a header
// block, parse it, read the body if any, dispatch, and either loop back for
// the next pipelined request or stop once close_after_write is set.
func runConnection(s *socket.Socket, rt *Router) {
	stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		for {
			head, ok := read(stream.Delimiter("\r\n\r\n"))
			if !ok {
				s.Close()
				resolve(nil)
				return
			}

			req, err := parseHead(head)
			if err != nil {
				util.LogWarning("httpserver: malformed request: %v", err)
				s.Close()
				resolve(nil)
				return
			}

			n, err := contentLength(req.headers)
			if err != nil {
				util.LogWarning("httpserver: malformed request: %v", err)
				s.Close()
				resolve(nil)
				return
			}
			if n > 0 {
				body, ok := read(stream.ByteCount(n))
				if !ok {
					s.Close()
					resolve(nil)
					return
				}
				req.body = body
			}

			s.SetCloseAfterWrite(closeAfterWrite(req.headers))

			rt.dispatch(s, req)

			if s.CloseAfterWrite() {
				resolve(nil)
				return
			}
		}
	})
}

// parseHead implements spec §4.F step 2: the start line splits on the
// first two ASCII spaces into method, URL, and the trailing HTTP version
// (which this parser does not otherwise use); header lines follow, one per
// "\r\n", names lowercased, last occurrence wins.
func parseHead(head []byte) (*request, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) < 1 || lines[0] == "" {
		return nil, fmt.Errorf("empty request line")
	}

	method, url, ok := splitStartLine(lines[0])
	if !ok {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}

	headers := make(Headers, len(lines))
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(name)] = strings.TrimLeft(value, " ")
	}

	return &request{method: method, url: url, headers: headers, traceID: uuid.NewString()}, nil
}

// splitStartLine splits "METHOD URL HTTP/x.y" on the first two spaces.
func splitStartLine(line string) (method, url string, ok bool) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return "", "", false
	}
	method = line[:i]
	rest := line[i+1:]

	j := strings.IndexByte(rest, ' ')
	if j < 0 {
		return "", "", false
	}
	return method, rest[:j], true
}

// contentLength implements spec §4.F step 3: case-insensitive lookup, zero
// when the header is absent. A present-but-unparseable or negative value is
// protocol malformation, not absence — spec §7 requires closing the
// connection without a response, the same treatment as a bad start line.
func contentLength(h Headers) (int, error) {
	v := strings.TrimSpace(h.Get("content-length"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed content-length %q", v)
	}
	return n, nil
}

// closeAfterWrite implements spec §4.F step 4: "close" (or a missing
// header) means close after this response drains; anything else is
// keep-alive.
func closeAfterWrite(h Headers) bool {
	v := strings.ToLower(strings.TrimSpace(h.Get("connection")))
	return v == "" || v == "close"
}
