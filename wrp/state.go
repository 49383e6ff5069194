package wrp

import (
	"fmt"

	"github.com/ImprolabFIT/wrpserver/wire"
)

// State is the connection state of a session.
type State uint8

const (
	Connected State = iota
	GetCameraList
	OpenCamera
	CloseCamera
	CameraSelected
	GetFrame
	StartContinuousGrabbing
	StopContinuousGrabbing
	ContinuousGrabbing
)

var stateNames = [...]string{
	Connected:               "CONNECTED",
	GetCameraList:           "GET_CAMERA_LIST",
	OpenCamera:              "OPEN_CAMERA",
	CloseCamera:             "CLOSE_CAMERA",
	CameraSelected:          "CAMERA_SELECTED",
	GetFrame:                "GET_FRAME",
	StartContinuousGrabbing: "START_CONTINUOUS_GRABBING",
	StopContinuousGrabbing:  "STOP_CONTINUOUS_GRABBING",
	ContinuousGrabbing:      "CONTINUOUS_GRABBING",
}

// String returns the protocol name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// Waiting reports whether the session blocks for a new message header in
// this state. All other states are action states, entered holding a header
// whose handler runs without reading another one.
func (s State) Waiting() bool {
	_, ok := transitions[s]
	return ok
}

type transitionKey struct {
	from State
	msg  wire.MessageType
}

// transitions lists, per waiting state, the messages it accepts and the
// action state each one leads to.
var transitions = map[State]map[wire.MessageType]State{
	Connected: {
		wire.GetCameraList: GetCameraList,
		wire.OpenCamera:    OpenCamera,
	},
	CameraSelected: {
		wire.CloseCamera:             CloseCamera,
		wire.GetFrame:                GetFrame,
		wire.StartContinuousGrabbing: StartContinuousGrabbing,
	},
	ContinuousGrabbing: {
		wire.StopContinuousGrabbing: StopContinuousGrabbing,
	},
}

// inPlace lists messages a waiting state handles itself without leaving it.
var inPlace = map[transitionKey]bool{
	{ContinuousGrabbing, wire.AckContinuousGrabbing}: true,
}

// Next returns the action state a message received in the waiting state
// from leads to. ok is false for protocol violations and for messages
// handled in place (see HandledInPlace).
func Next(from State, msg wire.MessageType) (next State, ok bool) {
	next, ok = transitions[from][msg]
	return next, ok
}

// HandledInPlace reports whether msg is consumed in state from without a
// state change.
func HandledInPlace(from State, msg wire.MessageType) bool {
	return inPlace[transitionKey{from, msg}]
}
