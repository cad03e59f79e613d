package gree

// The session lifecycle is a pure transition table: (state, event) ->
// (new state, actions). The session goroutine executes the actions in order.
//
//	Idle/Disconnected --connect--> Discovering --dev--> Handshaking --bindok--> Bound
//	      ^                          ^    |                  |                  |
//	      |                          +----+ handshake timeout+                  |
//	      +------------------------------- disconnect ---------------------------+

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateHandshaking
	StateBound
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateHandshaking:
		return "handshaking"
	case StateBound:
		return "bound"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// hasTransport reports whether a transport is held in this state.
func (s State) hasTransport() bool {
	return s == StateDiscovering || s == StateHandshaking || s == StateBound
}

type fsmEvent uint8

const (
	evConnect fsmEvent = iota + 1
	evDeviceFound
	evBindConfirmed
	evHandshakeTimeout
	evBindRetryTimeout
	evPollTick
	evPollTimeout
	evStatusReceived
	evCommandConfirmed
	evCommandTimeout
	evDisconnect
)

func (e fsmEvent) String() string {
	switch e {
	case evConnect:
		return "Connect"
	case evDeviceFound:
		return "DeviceFound"
	case evBindConfirmed:
		return "BindConfirmed"
	case evHandshakeTimeout:
		return "HandshakeTimeout"
	case evBindRetryTimeout:
		return "BindRetryTimeout"
	case evPollTick:
		return "PollTick"
	case evPollTimeout:
		return "PollTimeout"
	case evStatusReceived:
		return "StatusReceived"
	case evCommandConfirmed:
		return "CommandConfirmed"
	case evCommandTimeout:
		return "CommandTimeout"
	case evDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

type fsmAction uint8

const (
	acBeginCycle fsmAction = iota + 1
	acResetCipher
	acSendScan
	acArmHandshakeTimer
	acNotifyHandshakeTimeout
	acRecordDevice
	acSendBind
	acArmBindRetry
	acCancelHandshakeTimers
	acRequestStatus
	acArmPoll
	acNotifyConnected
	acApplyStatus
	acClearProperties
	acNotifyNoResponse
	acApplyCommandResult
	acFailCommand
	acDispatchCommand
	acCancelAllTimers
	acReleaseTransport
	acNotifyDisconnected
)

func (a fsmAction) String() string {
	switch a {
	case acBeginCycle:
		return "BeginCycle"
	case acResetCipher:
		return "ResetCipher"
	case acSendScan:
		return "SendScan"
	case acArmHandshakeTimer:
		return "ArmHandshakeTimer"
	case acNotifyHandshakeTimeout:
		return "NotifyHandshakeTimeout"
	case acRecordDevice:
		return "RecordDevice"
	case acSendBind:
		return "SendBind"
	case acArmBindRetry:
		return "ArmBindRetry"
	case acCancelHandshakeTimers:
		return "CancelHandshakeTimers"
	case acRequestStatus:
		return "RequestStatus"
	case acArmPoll:
		return "ArmPoll"
	case acNotifyConnected:
		return "NotifyConnected"
	case acApplyStatus:
		return "ApplyStatus"
	case acClearProperties:
		return "ClearProperties"
	case acNotifyNoResponse:
		return "NotifyNoResponse"
	case acApplyCommandResult:
		return "ApplyCommandResult"
	case acFailCommand:
		return "FailCommand"
	case acDispatchCommand:
		return "DispatchCommand"
	case acCancelAllTimers:
		return "CancelAllTimers"
	case acReleaseTransport:
		return "ReleaseTransport"
	case acNotifyDisconnected:
		return "NotifyDisconnected"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event fsmEvent
}

type transition struct {
	newState State
	actions  []fsmAction
}

// fsmResult is the outcome of applying one event.
type fsmResult struct {
	OldState State
	NewState State
	Actions  []fsmAction
	// Changed is true when NewState differs from OldState.
	Changed bool
	// Matched is false when the event has no meaning in OldState.
	Matched bool
}

var (
	startCycle = []fsmAction{acBeginCycle, acResetCipher, acSendScan, acArmHandshakeTimer}
	restart    = []fsmAction{acResetCipher, acSendScan, acArmHandshakeTimer, acNotifyHandshakeTimeout}
	teardown   = []fsmAction{acCancelAllTimers, acReleaseTransport, acNotifyDisconnected}
)

var fsmTable = map[stateEvent]transition{
	{StateIdle, evConnect}:         {StateDiscovering, startCycle},
	{StateDisconnected, evConnect}: {StateDiscovering, startCycle},

	{StateDiscovering, evHandshakeTimeout}: {StateDiscovering, restart},
	{StateDiscovering, evDeviceFound}: {StateHandshaking, []fsmAction{
		acRecordDevice, acSendBind, acArmBindRetry,
	}},

	{StateHandshaking, evHandshakeTimeout}: {StateDiscovering, restart},
	{StateHandshaking, evBindRetryTimeout}: {StateHandshaking, []fsmAction{
		acSendBind, acArmBindRetry,
	}},
	{StateHandshaking, evBindConfirmed}: {StateBound, []fsmAction{
		acCancelHandshakeTimers, acRequestStatus, acArmPoll, acNotifyConnected,
	}},

	{StateBound, evPollTick}:         {StateBound, []fsmAction{acRequestStatus, acArmPoll}},
	{StateBound, evStatusReceived}:   {StateBound, []fsmAction{acApplyStatus}},
	{StateBound, evPollTimeout}:      {StateBound, []fsmAction{acClearProperties, acNotifyNoResponse}},
	{StateBound, evCommandConfirmed}: {StateBound, []fsmAction{acApplyCommandResult, acDispatchCommand}},
	{StateBound, evCommandTimeout}:   {StateBound, []fsmAction{acFailCommand, acDispatchCommand}},

	{StateDiscovering, evDisconnect}: {StateDisconnected, teardown},
	{StateHandshaking, evDisconnect}: {StateDisconnected, teardown},
	{StateBound, evDisconnect}:       {StateDisconnected, teardown},
}

// applyEvent looks up the transition for an event. It has no side effects.
func applyEvent(current State, ev fsmEvent) fsmResult {
	tr, ok := fsmTable[stateEvent{state: current, event: ev}]
	if !ok {
		return fsmResult{OldState: current, NewState: current}
	}
	return fsmResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  tr.newState != current,
		Matched:  true,
	}
}
