package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/lensrev/internal/review"
	"github.com/sprite-ai/lensrev/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	// The server binds to localhost by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket message types from client. The first message must be start or
// resume; cancel may follow at any time.
const (
	wsMsgStart  = "start"
	wsMsgResume = "resume"
	wsMsgCancel = "cancel"
)

// wsMessage is the envelope for client messages. Server messages are the
// stream events themselves.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsResume is the payload for "resume" messages.
type wsResume struct {
	ReviewID string `json:"reviewId"`
	From     int    `json:"from"`
}

func (s *Server) handleTriageWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	sink := stream.NewWSWriter(conn)
	defer sink.Close()

	var first wsMessage
	if err := conn.ReadJSON(&first); err != nil {
		s.log.Debug().Err(err).Msg("websocket closed before start")
		return
	}
	id, after, err := s.wsTarget(r.Context(), first)
	if err != nil {
		_ = sink.Send(errorEvent(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// A read error means the peer left; that ends the subscription only.
		defer cancel()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Str("review", id).Msg("websocket read")
				}
				return
			}
			if msg.Type == wsMsgCancel {
				s.reviews.Cancel(id)
			}
		}
	}()

	if err := s.reviews.Registry().Subscribe(ctx, id, after, sink); err != nil && !errors.Is(err, context.Canceled) {
		_ = sink.Send(errorEvent(err))
	}
}

// wsTarget resolves the opening message to the run to follow.
func (s *Server) wsTarget(ctx context.Context, msg wsMessage) (string, int, error) {
	switch msg.Type {
	case wsMsgStart:
		var req review.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return "", 0, &review.Error{Code: review.CodeInvalid, Err: err}
		}
		id, err := s.reviews.Start(ctx, req)
		return id, 0, err
	case wsMsgResume:
		var res wsResume
		if err := json.Unmarshal(msg.Data, &res); err != nil || res.ReviewID == "" {
			return "", 0, &review.Error{Code: review.CodeInvalid, Err: errors.New("resume needs a reviewId")}
		}
		return res.ReviewID, res.From, nil
	default:
		return "", 0, &review.Error{Code: review.CodeInvalid, Err: errors.New("unknown message type: " + msg.Type)}
	}
}
