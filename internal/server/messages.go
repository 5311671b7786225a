package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-classroom/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound wire format. Exactly one of the event
// pointers is expected to be set.
type ClientMessage struct {
	BaseMessage
	Join            *Join        `json:"join,omitempty"`
	Leave           *Leave       `json:"leave,omitempty"`
	Chat            *Chat        `json:"chat,omitempty"`
	Doubt           *DoubtSend   `json:"doubt,omitempty"`
	CodePatch       *Patch       `json:"code_patch,omitempty"`
	WhiteboardPatch *Patch       `json:"whiteboard_patch,omitempty"`
	StateChange     *StateChange `json:"state_change,omitempty"`
	Heartbeat       *Heartbeat   `json:"heartbeat,omitempty"`
	Stats           *StatsReport `json:"stats,omitempty"`
	client          *Client
}

type Join struct {
	RoomId   string `json:"room_id"`
	UserId   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Chat struct {
	RoomId  string `json:"room_id"`
	Message string `json:"message"`
}

type DoubtSend struct {
	RoomId string `json:"room_id"`
	Text   string `json:"text"`
}

// Patch carries an opaque editor or canvas delta. The server never
// interprets the payload, it only transports it.
type Patch struct {
	RoomId string          `json:"room_id"`
	Patch  json.RawMessage `json:"patch"`
}

type StateChange struct {
	RoomId string          `json:"room_id"`
	State  json.RawMessage `json:"state"`
}

type Heartbeat struct{}

type StatsReport struct {
	Rtt        float64 `json:"rtt"`
	PacketLoss float64 `json:"packet_loss"`
	Bitrate    float64 `json:"bitrate"`
}

// ServerMessage is the outbound wire format, one event pointer per message.
type ServerMessage struct {
	BaseMessage
	Response         *Response          `json:"response,omitempty"`
	PresenceJoined   *PresenceJoined    `json:"presence_joined,omitempty"`
	PresenceLeft     *PresenceLeft      `json:"presence_left,omitempty"`
	PresenceCount    *PresenceCount     `json:"presence_count,omitempty"`
	ChatMessage      *types.ChatMessage `json:"chat_message,omitempty"`
	DoubtNew         *types.Doubt       `json:"doubt_new,omitempty"`
	CodeUpdate       *PatchUpdate       `json:"code_update,omitempty"`
	WhiteboardUpdate *PatchUpdate       `json:"whiteboard_update,omitempty"`
	StateUpdate      *StateUpdate       `json:"state_update,omitempty"`
	HeartbeatAck     *HeartbeatAck      `json:"heartbeat_ack,omitempty"`
	QualityAdjust    *QualityAdjust     `json:"quality_adjust,omitempty"`
	ChatError        *EventError        `json:"chat_error,omitempty"`
	DoubtError       *EventError        `json:"doubt_error,omitempty"`
	History          *History           `json:"history,omitempty"`
	SkipClient       *Client            `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type PresenceJoined struct {
	UserId           string `json:"user_id"`
	UserName         string `json:"user_name"`
	Role             string `json:"role"`
	ParticipantCount int    `json:"participant_count"`
}

type PresenceLeft struct {
	UserId           string `json:"user_id"`
	UserName         string `json:"user_name"`
	ParticipantCount int    `json:"participant_count"`
}

type PresenceCount struct {
	ParticipantCount int `json:"participant_count"`
}

type PatchUpdate struct {
	RoomId string          `json:"room_id"`
	Patch  json.RawMessage `json:"patch"`
}

type StateUpdate struct {
	RoomId string          `json:"room_id"`
	State  json.RawMessage `json:"state"`
}

type HeartbeatAck struct {
	ServerTime time.Time `json:"server_time"`
}

type QualityAdjust struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// EventError is delivered only to the offending connection. Reason is a
// machine-readable code, currently always "rate".
type EventError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// History is the replay snapshot delivered to a client on room join.
type History struct {
	Chat  []types.ChatMessage `json:"chat,omitempty"`
	Code  json.RawMessage     `json:"code,omitempty"`
	State json.RawMessage     `json:"state,omitempty"`
}

const reasonRate = "rate"

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrChatRateLimited(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		ChatError: &EventError{
			Reason:  reasonRate,
			Message: "slow down, too many messages",
		},
	}
}

func ErrDoubtRateLimited(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		DoubtError: &EventError{
			Reason:  reasonRate,
			Message: "please wait before submitting another doubt",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
