package gree

import "time"

// EventType identifies a session event.
type EventType uint8

const (
	// EventConnected is emitted once the appliance confirmed the bind.
	EventConnected EventType = iota + 1
	// EventDisconnected is emitted after Disconnect released the transport.
	EventDisconnected
	// EventUpdate carries properties changed on the appliance side.
	EventUpdate
	// EventSuccess carries properties confirmed after SetProperties.
	EventSuccess
	// EventNoResponse is emitted when a status request went unanswered.
	EventNoResponse
	// EventError carries a recoverable error; the session keeps running.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventUpdate:
		return "update"
	case EventSuccess:
		return "success"
	case EventNoResponse:
		return "no_response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on Client.Events.
type Event struct {
	Type EventType
	Time time.Time

	// Changed and Properties are set for EventUpdate and EventSuccess.
	Changed    Properties
	Properties Properties

	// Err is set for EventError.
	Err error
}
