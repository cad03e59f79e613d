package gree

import (
	"slices"
	"testing"
	"time"
)

// TestFSMTransitionTable verifies every entry of the session transition table.
func TestFSMTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       State
		event       fsmEvent
		wantState   State
		wantChanged bool
		wantActions []fsmAction
	}{
		{
			name:        "Idle+Connect->Discovering",
			state:       StateIdle,
			event:       evConnect,
			wantState:   StateDiscovering,
			wantChanged: true,
			wantActions: []fsmAction{acBeginCycle, acResetCipher, acSendScan, acArmHandshakeTimer},
		},
		{
			name:        "Disconnected+Connect->Discovering",
			state:       StateDisconnected,
			event:       evConnect,
			wantState:   StateDiscovering,
			wantChanged: true,
			wantActions: []fsmAction{acBeginCycle, acResetCipher, acSendScan, acArmHandshakeTimer},
		},
		{
			name:        "Discovering+HandshakeTimeout->Discovering rescan",
			state:       StateDiscovering,
			event:       evHandshakeTimeout,
			wantState:   StateDiscovering,
			wantChanged: false,
			wantActions: []fsmAction{acResetCipher, acSendScan, acArmHandshakeTimer, acNotifyHandshakeTimeout},
		},
		{
			name:        "Discovering+DeviceFound->Handshaking",
			state:       StateDiscovering,
			event:       evDeviceFound,
			wantState:   StateHandshaking,
			wantChanged: true,
			wantActions: []fsmAction{acRecordDevice, acSendBind, acArmBindRetry},
		},
		{
			name:        "Handshaking+BindRetryTimeout->Handshaking",
			state:       StateHandshaking,
			event:       evBindRetryTimeout,
			wantState:   StateHandshaking,
			wantChanged: false,
			wantActions: []fsmAction{acSendBind, acArmBindRetry},
		},
		{
			name:        "Handshaking+HandshakeTimeout->Discovering",
			state:       StateHandshaking,
			event:       evHandshakeTimeout,
			wantState:   StateDiscovering,
			wantChanged: true,
			wantActions: []fsmAction{acResetCipher, acSendScan, acArmHandshakeTimer, acNotifyHandshakeTimeout},
		},
		{
			name:        "Handshaking+BindConfirmed->Bound",
			state:       StateHandshaking,
			event:       evBindConfirmed,
			wantState:   StateBound,
			wantChanged: true,
			wantActions: []fsmAction{acCancelHandshakeTimers, acRequestStatus, acArmPoll, acNotifyConnected},
		},
		{
			name:        "Bound+PollTick->Bound",
			state:       StateBound,
			event:       evPollTick,
			wantState:   StateBound,
			wantActions: []fsmAction{acRequestStatus, acArmPoll},
		},
		{
			name:        "Bound+StatusReceived->Bound",
			state:       StateBound,
			event:       evStatusReceived,
			wantState:   StateBound,
			wantActions: []fsmAction{acApplyStatus},
		},
		{
			name:        "Bound+PollTimeout->Bound",
			state:       StateBound,
			event:       evPollTimeout,
			wantState:   StateBound,
			wantActions: []fsmAction{acClearProperties, acNotifyNoResponse},
		},
		{
			name:        "Bound+CommandConfirmed->Bound",
			state:       StateBound,
			event:       evCommandConfirmed,
			wantState:   StateBound,
			wantActions: []fsmAction{acApplyCommandResult, acDispatchCommand},
		},
		{
			name:        "Bound+CommandTimeout->Bound",
			state:       StateBound,
			event:       evCommandTimeout,
			wantState:   StateBound,
			wantActions: []fsmAction{acFailCommand, acDispatchCommand},
		},
	}

	for _, st := range []State{StateDiscovering, StateHandshaking, StateBound} {
		tests = append(tests, struct {
			name        string
			state       State
			event       fsmEvent
			wantState   State
			wantChanged bool
			wantActions []fsmAction
		}{
			name:        st.String() + "+Disconnect->Disconnected",
			state:       st,
			event:       evDisconnect,
			wantState:   StateDisconnected,
			wantChanged: true,
			wantActions: []fsmAction{acCancelAllTimers, acReleaseTransport, acNotifyDisconnected},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := applyEvent(tt.state, tt.event)
			if !res.Matched {
				t.Fatalf("applyEvent(%s, %s) not matched", tt.state, tt.event)
			}
			if res.NewState != tt.wantState {
				t.Errorf("NewState = %s, want %s", res.NewState, tt.wantState)
			}
			if res.Changed != tt.wantChanged {
				t.Errorf("Changed = %v, want %v", res.Changed, tt.wantChanged)
			}
			if !slices.Equal(res.Actions, tt.wantActions) {
				t.Errorf("Actions = %v, want %v", res.Actions, tt.wantActions)
			}
		})
	}
}

// TestFSMUnmatchedEvents checks events that have no meaning in a state.
func TestFSMUnmatchedEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		event fsmEvent
	}{
		{StateIdle, evDisconnect},
		{StateIdle, evDeviceFound},
		{StateDisconnected, evDisconnect},
		{StateDiscovering, evBindConfirmed},
		{StateDiscovering, evStatusReceived},
		{StateHandshaking, evDeviceFound},
		{StateHandshaking, evPollTick},
		{StateBound, evDeviceFound},
		{StateBound, evBindConfirmed},
		{StateBound, evHandshakeTimeout},
		{StateBound, evConnect},
	}

	for _, tt := range tests {
		res := applyEvent(tt.state, tt.event)
		if res.Matched || res.Changed || res.NewState != tt.state || len(res.Actions) != 0 {
			t.Errorf("applyEvent(%s, %s) = %+v, want no-op", tt.state, tt.event, res)
		}
	}
}

func TestFSMStrings(t *testing.T) {
	t.Parallel()

	for ev := evConnect; ev <= evDisconnect; ev++ {
		if ev.String() == "Unknown" {
			t.Errorf("event %d has no name", ev)
		}
	}
	for a := acBeginCycle; a <= acNotifyDisconnected; a++ {
		if a.String() == "Unknown" {
			t.Errorf("action %d has no name", a)
		}
	}
	if got := StateBound.String(); got != "bound" {
		t.Errorf("StateBound = %q", got)
	}
}

func TestSessionTimer(t *testing.T) {
	t.Parallel()

	var st sessionTimer
	if st.C() != nil {
		t.Fatal("unarmed timer has a channel")
	}
	st.arm(time.Hour)
	if st.C() == nil {
		t.Fatal("armed timer has no channel")
	}
	st.stop()
	if st.C() != nil {
		t.Fatal("stopped timer still has a channel")
	}
}

func TestNewCommandSortsCodes(t *testing.T) {
	t.Parallel()

	cmd := newCommand(map[string]int{"SetTem": 25, "Mod": 1, "Pow": 1})
	if want := []string{"Mod", "Pow", "SetTem"}; !slices.Equal(cmd.opt, want) {
		t.Errorf("opt = %v, want %v", cmd.opt, want)
	}
	if want := []int{1, 1, 25}; !slices.Equal(cmd.p, want) {
		t.Errorf("p = %v, want %v", cmd.p, want)
	}
}

func TestStatusColumnsCoverEveryProperty(t *testing.T) {
	t.Parallel()

	if len(statusColumns) != len(properties) {
		t.Fatalf("statusColumns has %d entries, want %d", len(statusColumns), len(properties))
	}
	if statusColumns[0] != "Pow" || statusColumns[len(statusColumns)-1] != "StHt" {
		t.Errorf("statusColumns = %v", statusColumns)
	}
}
