// File: ipc/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection state and sub-state enums: small integer enums with a String
// method so connLog can print them directly.

package ipc

// state is the top-level Connection state (spec.md §3 "Connection state").
type state int32

const (
	stateClosed state = iota
	stateConnecting
	stateConnected
	stateConnectError
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateConnectError:
		return "connect_error"
	default:
		return "unknown"
	}
}

// connectSubState tracks handshake progress while in stateConnecting.
type connectSubState int32

const (
	subAwaitingConnect connectSubState = iota
	subSendingM1
	subAwaitingS1
	subSendingM2
)

func (s connectSubState) String() string {
	switch s {
	case subAwaitingConnect:
		return "awaiting_connect"
	case subSendingM1:
		return "sending_m1"
	case subAwaitingS1:
		return "awaiting_s1"
	case subSendingM2:
		return "sending_m2"
	default:
		return "unknown"
	}
}

// dataSubState tracks peer-close progression while in stateConnected.
type dataSubState int32

const (
	dataSendAndReceive dataSubState = iota
	dataReceiveOnly
	dataDisconnected
	dataProtocolError
)

func (s dataSubState) String() string {
	switch s {
	case dataSendAndReceive:
		return "send_and_receive"
	case dataReceiveOnly:
		return "receive_only"
	case dataDisconnected:
		return "disconnected"
	case dataProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}
