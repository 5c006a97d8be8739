package ws

import (
	"time"
)

// MessageType discriminates WebSocket messages.
type MessageType string

// Server-to-renderer messages. State-change types share their names with
// the event topics they are forwarded from.
const (
	MessageDevicesSnapshot MessageType = "devices.snapshot"
	MessageToastPushed     MessageType = "toast.pushed"
	MessageToastRemoved    MessageType = "toast.removed"
	MessageWakeState       MessageType = "wake.state"
	MessageWakeResult      MessageType = "wake.result"
	MessageMutationSettled MessageType = "mutation.settled"
	MessageCommandResult   MessageType = "command.result"
)

// Message is the envelope for all server-to-renderer messages.
type Message struct {
	Type MessageType `json:"type"`
	// CommandID echoes the ID of the command a command.result answers.
	CommandID string    `json:"command_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// CommandType names a renderer request.
type CommandType string

const (
	CommandWake    CommandType = "wake"
	CommandDelete  CommandType = "delete"
	CommandDismiss CommandType = "dismiss"
	CommandRefresh CommandType = "refresh"
)

// Command is a renderer-to-server request.
type Command struct {
	ID       string      `json:"id"`
	Type     CommandType `json:"type"`
	DeviceID string      `json:"device_id,omitempty"`
	ToastID  string      `json:"toast_id,omitempty"`
}

// CommandResultData is the payload of command.result messages.
type CommandResultData struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
