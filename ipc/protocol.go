// Package ipc carries commands from UI surfaces to the shell core and
// events from the core back to every connected surface.
package ipc

import (
	"github.com/zhubert/agentshell/agent"
	"github.com/zhubert/agentshell/window"
)

// Command names a request a UI surface can send.
type Command string

const (
	CommandOpenInteraction       Command = "open-interaction-window"
	CommandStartAgent            Command = "start-agent"
	CommandSendToAgent           Command = "send-to-agent"
	CommandStartVoiceMode        Command = "start-voice-mode"
	CommandStopVoiceMode         Command = "stop-voice-mode"
	CommandStopAgent             Command = "stop-agent"
	CommandIndicatorClicked      Command = "indicator-clicked"
	CommandInteractionClosed     Command = "interaction-closed"
	CommandDisplayMetricsChanged Command = "display-metrics-changed"
	CommandGetStatus             Command = "get-status"
)

// Commands lists every command in the order the CLI documents them.
var Commands = []Command{
	CommandOpenInteraction,
	CommandStartAgent,
	CommandSendToAgent,
	CommandStartVoiceMode,
	CommandStopVoiceMode,
	CommandStopAgent,
	CommandIndicatorClicked,
	CommandInteractionClosed,
	CommandDisplayMetricsChanged,
	CommandGetStatus,
}

// Request is a command invocation. Text is used by send-to-agent and Display
// by display-metrics-changed.
type Request struct {
	ID      string       `json:"id,omitempty"`
	Command Command      `json:"command"`
	Text    string       `json:"text,omitempty"`
	Display *window.Rect `json:"display,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID      string  `json:"id,omitempty"`
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is returned by get-status.
type Status struct {
	Agent   agent.Status   `json:"agent"`
	Windows []window.State `json:"windows"`
}

// OK returns a successful response.
func OK() Response {
	return Response{Success: true}
}

// Fail returns a failed response carrying a user-facing message.
func Fail(message string) Response {
	return Response{Success: false, Message: message}
}

// EventType names a notification pushed to UI surfaces.
type EventType string

const (
	EventAgentOutput    EventType = "agent-output"
	EventAgentError     EventType = "agent-error"
	EventAgentClosed    EventType = "agent-closed"
	EventStopMicrophone EventType = "stop-microphone"
	EventWindowState    EventType = "window-state"
)

// Event is a notification. Text is set for agent-output, Line for
// agent-error, Code for agent-closed and Window for window-state.
type Event struct {
	Type   EventType     `json:"type"`
	Text   string        `json:"text,omitempty"`
	Line   string        `json:"line,omitempty"`
	Code   *int          `json:"code,omitempty"`
	Window *window.State `json:"window,omitempty"`
}

// OutputEvent is an agent-output event.
func OutputEvent(text string) Event {
	return Event{Type: EventAgentOutput, Text: text}
}

// ErrorEvent is an agent-error event.
func ErrorEvent(line string) Event {
	return Event{Type: EventAgentError, Line: line}
}

// ClosedEvent is an agent-closed event.
func ClosedEvent(code int) Event {
	return Event{Type: EventAgentClosed, Code: &code}
}

// StopMicrophoneEvent tells surfaces to release the microphone.
func StopMicrophoneEvent() Event {
	return Event{Type: EventStopMicrophone}
}

// WindowStateEvent reports a window change.
func WindowStateEvent(state window.State) Event {
	return Event{Type: EventWindowState, Window: &state}
}

// FrameType identifies the payload of a Frame.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
)

// Frame is the wire envelope. Exactly one payload field is set, matching
// Type. Frames are newline-delimited JSON.
type Frame struct {
	Type     FrameType `json:"type"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}
