package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarikpinarli/replicator/internal/orchestrator"
	"github.com/tarikpinarli/replicator/internal/protocol"
	"github.com/tarikpinarli/replicator/internal/session"
)

const (
	// Frames arrive base64-encoded inside JSON, so the read limit has to
	// accommodate a full camera frame with room to spare.
	wsReadLimit    = 16 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleWS runs one websocket connection. A connection is anonymous until
// its first join_session; after that, session broadcasts are pumped out and
// frames and triggers are accepted.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	queue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop when saturated.
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	var participant *session.Participant
	var leave func()
	pumpDone := make(chan struct{})
	close(pumpDone) // no pump until join

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.JoinSession:
			if participant != nil {
				queue(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "already_joined",
					Detail: "connection is already bound to a session",
				})
				continue
			}
			p, l, err := s.orchestrator.HandleJoin(msg)
			if err != nil {
				queue(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "join_failed",
					Detail: err.Error(),
				})
				continue
			}
			participant, leave = p, l
			pumpDone = make(chan struct{})
			go func() {
				defer close(pumpDone)
				pumpEvents(ctx, p, outbound)
			}()

		case protocol.SendFrame:
			if participant == nil {
				queue(notJoined())
				continue
			}
			if err := s.orchestrator.HandleFrame(participant, msg); err != nil {
				code := "frame_rejected"
				if errors.Is(err, orchestrator.ErrMalformedFrame) {
					code = "malformed_frame"
				}
				// Only the sender hears about its own bad frame.
				queue(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   code,
					Detail: err.Error(),
				})
			}

		case protocol.Process3D:
			if participant == nil {
				queue(notJoined())
				continue
			}
			s.orchestrator.HandleProcess(msg)
		}
	}

	cancel()
	if leave != nil {
		leave()
	}
	<-pumpDone
	<-writerDone
}

// pumpEvents forwards session broadcasts to the connection's writer until the
// participant leaves or the connection winds down.
func pumpEvents(ctx context.Context, p *session.Participant, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.Events():
			if !ok {
				return
			}
			select {
			case outbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func notJoined() protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   "not_joined",
		Detail: "join_session must precede this message",
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.JoinSession:
		return m.Type, true
	case protocol.SendFrame:
		return m.Type, true
	case protocol.Process3D:
		return m.Type, true
	case protocol.SessionStatus:
		return m.Type, true
	case protocol.FrameReceived:
		return m.Type, true
	case protocol.ProcessingStatus:
		return m.Type, true
	case protocol.ModelReady:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
