package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound, device and observer connections.
	TypeCallRegister MessageType = "call_register"
	TypeCallStatus   MessageType = "call_status"
	TypeCallAudio    MessageType = "call_audio"
	TypeCallObserve  MessageType = "call_observe"
	TypeDeviceInfo   MessageType = "device_info"

	// Outbound.
	TypeCallAIResponse MessageType = "call_ai_response"
	TypeCallUpdate     MessageType = "call_update"
	TypeCallTranscript MessageType = "call_transcript"
	TypeCallSummary    MessageType = "call_summary"
	TypeAck            MessageType = "ack"
	TypeErrorReply     MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type CallRegister struct {
	Type        MessageType `json:"type"`
	CallID      string      `json:"callId"`
	PhoneNumber string      `json:"phoneNumber"`
	DeviceID    string      `json:"deviceId"`
	IsIncoming  bool        `json:"isIncoming"`
}

type CallStatus struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"callId"`
	Status string      `json:"status"`
}

// CallAudio carries one base64-encoded audio fragment. Audio holds the
// decoded bytes after parsing.
type CallAudio struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"callId"`
	Audio  string      `json:"audio"`

	Decoded []byte `json:"-"`
}

type CallObserve struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"callId"`
}

type DeviceInfo struct {
	Type     MessageType       `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

type CallAIResponse struct {
	Type         MessageType `json:"type"`
	CallID       string      `json:"callId"`
	ResponseType string      `json:"responseType"`
	Text         string      `json:"text"`
}

// CallView is the session snapshot sent to clients; the transcript is
// deliberately omitted.
type CallView struct {
	CallID          string `json:"callId"`
	PhoneNumber     string `json:"phoneNumber"`
	DeviceID        string `json:"deviceId"`
	IsIncoming      bool   `json:"isIncoming"`
	Status          string `json:"status"`
	StartedAt       int64  `json:"startedAt"`
	AnsweredAt      int64  `json:"answeredAt,omitempty"`
	EndedAt         int64  `json:"endedAt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Summary         string `json:"summary,omitempty"`
}

type CallUpdate struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"callId"`
	Call   CallView    `json:"call"`
}

type CallTranscript struct {
	Type       MessageType `json:"type"`
	CallID     string      `json:"callId"`
	Transcript string      `json:"transcript"`
	IsFinal    bool        `json:"isFinal"`
	Timestamp  int64       `json:"timestamp"`
}

type CallSummary struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"callId"`
	Summary   string      `json:"summary"`
	Timestamp int64       `json:"timestamp"`
}

type Ack struct {
	Type   MessageType `json:"type"`
	Ref    MessageType `json:"ref"`
	CallID string      `json:"callId,omitempty"`
}

type ErrorReply struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	CallID string      `json:"callId,omitempty"`
	Detail string      `json:"detail"`
}

// ParseClientMessage validates an inbound transport message and returns the
// concrete typed variant. Required fields are checked here so handlers never
// see a partially-populated message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCallRegister:
		var msg CallRegister
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.PhoneNumber == "" || msg.DeviceID == "" {
			return nil, errors.New("invalid call_register: callId, phoneNumber and deviceId are required")
		}
		return msg, nil
	case TypeCallStatus:
		var msg CallStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.Status == "" {
			return nil, errors.New("invalid call_status: callId and status are required")
		}
		return msg, nil
	case TypeCallAudio:
		var msg CallAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.Audio == "" {
			return nil, errors.New("invalid call_audio: callId and audio are required")
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, fmt.Errorf("invalid call_audio: %w", err)
		}
		msg.Decoded = decoded
		return msg, nil
	case TypeCallObserve:
		var msg CallObserve
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, errors.New("invalid call_observe: callId is required")
		}
		return msg, nil
	case TypeDeviceInfo:
		var msg DeviceInfo
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Metadata) == 0 {
			return nil, errors.New("invalid device_info: metadata is required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of a known outbound or parsed inbound
// message. Used for metrics labels.
func TypeOf(msg any) (MessageType, bool) {
	switch m := msg.(type) {
	case CallRegister:
		return m.Type, true
	case CallStatus:
		return m.Type, true
	case CallAudio:
		return m.Type, true
	case CallObserve:
		return m.Type, true
	case DeviceInfo:
		return m.Type, true
	case CallAIResponse:
		return m.Type, true
	case CallUpdate:
		return m.Type, true
	case CallTranscript:
		return m.Type, true
	case CallSummary:
		return m.Type, true
	case Ack:
		return m.Type, true
	case ErrorReply:
		return m.Type, true
	default:
		return "", false
	}
}
