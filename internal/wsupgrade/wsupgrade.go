// Package wsupgrade is an example hook-takeover HTTP handler: it answers
// the WebSocket handshake on an already-routed request and then replaces
// the Socket's OnData/OnClose hooks directly, demonstrating that a route
// handler can take over a connection from the HTTP loop entirely (the
// extensibility the Socket hook model in spec §3 exists for).
//
// It reuses only github.com/gorilla/websocket's close-frame helper and
// close-code constant. gorilla/websocket's Upgrader and Conn both
// assume an http.ResponseWriter/Hijacker pair, which httpserver's Socket
// is not — httpserver hands handlers a raw, already-parsed request, not a
// net/http one — so the handshake itself (the Sec-WebSocket-Accept
// derivation) and frame I/O are implemented by hand here. Inbound frame
// parsing covers only one masked, unfragmented text frame with a payload
// of at most 125 bytes (see decodeMaskedTextFrame).
package wsupgrade

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/corewave/ev80/internal/httpserver"
	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// magicGUID is the RFC 6455 §1.3 handshake constant.
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKey derives Sec-WebSocket-Accept from the client's
// Sec-WebSocket-Key, the same derivation gorilla/websocket's Upgrader
// performs internally (unexported there, so reimplemented here).
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(magicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// OnMessage receives one decoded text payload from the handshake's first
// (and, in this example, only) expected client frame.
type OnMessage func(s *socket.Socket, payload []byte)

// Handler builds an httpserver.Handler that completes the WebSocket
// handshake and then, for demonstration, waits for a single masked text
// frame, hands its payload to onMessage, and closes the connection with a
// normal-closure frame built via websocket.FormatCloseMessage.
func Handler(onMessage OnMessage) httpserver.Handler {
	return func(s *socket.Socket, _ string, headers httpserver.Headers, _ []byte) {
		key := headers.Get("sec-websocket-key")
		if key == "" {
			s.SetCloseAfterWrite(true)
			s.HTTPResponse("400 Bad Request", "text/plain", []byte("missing Sec-WebSocket-Key"))
			return
		}

		resp := fmt.Sprintf(
			"HTTP/1.1 101 Switching Protocols\r\n"+
				"Upgrade: websocket\r\n"+
				"Connection: Upgrade\r\n"+
				"Sec-WebSocket-Accept: %s\r\n\r\n",
			acceptKey(key),
		)
		s.SetCloseAfterWrite(false)
		if !s.Write([]byte(resp)) {
			return
		}

		takeOver(s, onMessage)
	}
}

// takeOver replaces the HTTP loop's hooks with the raw frame reader for
// this connection, per the Socket hook model's "exactly one hook per
// event at a time" rule (spec §3's Design Notes).
//
// This overwrites the on_close hook runConnection installed for its
// stream.Bind coroutine, so that coroutine's body goroutine never sees its
// terminal close frame and leaks until process exit. Acceptable for an
// illustrative handler; a production takeover would need to signal that
// goroutine before replacing the hook.
func takeOver(s *socket.Socket, onMessage OnMessage) {
	var buf []byte

	s.SetDataHandler(func(chunk []byte) {
		buf = append(buf, chunk...)

		payload, rest, ok := decodeMaskedTextFrame(buf)
		if !ok {
			return
		}
		buf = rest

		if onMessage != nil {
			onMessage(s, payload)
		}

		closeFrame := frameClose(websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		s.WriteAndClose(closeFrame)
	})

	s.SetCloseHandler(func() {
		util.LogDebug("wsupgrade: connection closed")
	})
}

// decodeMaskedTextFrame decodes the single common case this example
// handles: one complete, masked, unfragmented text frame (opcode 0x1,
// FIN set, client frames are always masked per RFC 6455 §5.2). Extended
// (16/64-bit) payload lengths, fragmentation, and control frames are
// intentionally not handled — this package demonstrates the hook
// takeover, not a general WebSocket implementation.
func decodeMaskedTextFrame(buf []byte) (payload, rest []byte, ok bool) {
	if len(buf) < 6 {
		return nil, buf, false
	}
	if buf[0] != 0x81 { // FIN=1, opcode=1 (text)
		return nil, buf, false
	}

	length := int(buf[1] &^ 0x80)
	if length > 125 {
		return nil, buf, false // extended length not handled by this example
	}
	if buf[1]&0x80 == 0 {
		return nil, buf, false // client frames must be masked
	}

	headerLen := 2 + 4
	if len(buf) < headerLen+length {
		return nil, buf, false
	}

	mask := buf[2:6]
	data := make([]byte, length)
	for i := 0; i < length; i++ {
		data[i] = buf[headerLen+i] ^ mask[i%4]
	}
	return data, buf[headerLen+length:], true
}

// frameClose wraps payload (already built by websocket.FormatCloseMessage)
// in an unmasked server-to-client close frame header.
func frameClose(payload []byte) []byte {
	frame := make([]byte, 0, 2+len(payload))
	frame = append(frame, 0x88) // FIN=1, opcode=8 (close)
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	return frame
}
