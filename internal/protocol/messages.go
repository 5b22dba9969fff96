package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeJoinSession MessageType = "join_session"
	TypeSendFrame   MessageType = "send_frame"
	TypeProcess3D   MessageType = "process_3d"

	TypeSessionStatus    MessageType = "session_status"
	TypeFrameReceived    MessageType = "frame_received"
	TypeProcessingStatus MessageType = "processing_status"
	TypeModelReady       MessageType = "model_ready"
	TypeErrorEvent       MessageType = "error_event"
)

// Participant roles accepted on join.
const (
	RoleSensor = "sensor"
	RoleViewer = "viewer"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type JoinSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Role      string      `json:"role"`
}

// SendFrame carries one captured frame as "<header>,<base64>" transport
// encoding. The session field is named roomId on the wire for compatibility
// with the sensor client.
type SendFrame struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"roomId"`
	Image     string      `json:"image"`
}

type Process3D struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type SessionStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

type FrameReceived struct {
	Type  MessageType `json:"type"`
	Image string      `json:"image"`
	Count int         `json:"count"`
}

type ProcessingStatus struct {
	Type MessageType `json:"type"`
	Step string      `json:"step"`
}

type ModelReady struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinSession:
		var msg JoinSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("join_session: missing sessionId")
		}
		switch msg.Role {
		case RoleSensor, RoleViewer:
		default:
			return nil, fmt.Errorf("join_session: invalid role %q", msg.Role)
		}
		return msg, nil
	case TypeSendFrame:
		var msg SendFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Image == "" {
			return nil, errors.New("send_frame: missing roomId or image")
		}
		return msg, nil
	case TypeProcess3D:
		var msg Process3D
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("process_3d: missing sessionId")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
