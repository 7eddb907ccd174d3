package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sink delivers events to one client. Implementations accept exactly one
// terminal event; anything sent after it, after Close, or after the peer
// went away is dropped without error.
type Sink interface {
	Send(e Event) error
	Close() error
}

// SetSSEHeaders prepares a response for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEWriter writes events as "event: <type>\ndata: <json>\n\n" frames.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool
	gone    bool
}

// NewSSEWriter sets the stream headers on w. w must support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	SetSSEHeaders(w)
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event. Marshal failures are the only reported errors.
func (s *SSEWriter) Send(e Event) error {
	return s.write(0, e)
}

// SendSeq writes one event with an "id:" line so clients can resume from it.
func (s *SSEWriter) SendSeq(seq int, e Event) error {
	return s.write(seq, e)
}

func (s *SSEWriter) write(seq int, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.gone {
		return nil
	}
	if IsTerminal(e) {
		s.done = true
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type(), data)
	if seq > 0 {
		frame = fmt.Sprintf("id: %d\n", seq) + frame
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.gone = true
		return nil
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes an SSE comment so idle proxies keep the connection open.
func (s *SSEWriter) KeepAlive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.gone {
		return
	}
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		s.gone = true
		return
	}
	s.flusher.Flush()
}

// Close marks the writer finished. The HTTP handler returning closes the
// connection itself.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}

// Done reports whether a terminal event was sent or the peer went away.
func (s *SSEWriter) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done || s.gone
}

const wsWriteWait = 10 * time.Second

// WSWriter writes each event as one JSON text frame.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	done bool
	gone bool
}

func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

func (s *WSWriter) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.gone {
		return nil
	}
	if IsTerminal(e) {
		s.done = true
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.gone = true
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (s *WSWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gone {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	s.done, s.gone = true, true
	return s.conn.Close()
}

// Done reports whether a terminal event was sent or the peer went away.
func (s *WSWriter) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done || s.gone
}

var (
	_ Sink    = (*SSEWriter)(nil)
	_ SeqSink = (*SSEWriter)(nil)
	_ Sink    = (*WSWriter)(nil)
)
