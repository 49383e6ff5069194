package wrp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ImprolabFIT/wrpserver/wire"
)

var allStates = []State{
	Connected, GetCameraList, OpenCamera, CloseCamera, CameraSelected,
	GetFrame, StartContinuousGrabbing, StopContinuousGrabbing, ContinuousGrabbing,
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "CONTINUOUS_GRABBING", ContinuousGrabbing.String())
	assert.Equal(t, "STATE(42)", State(42).String())
}

func TestState_Waiting(t *testing.T) {
	waiting := map[State]bool{Connected: true, CameraSelected: true, ContinuousGrabbing: true}

	for _, s := range allStates {
		assert.Equal(t, waiting[s], s.Waiting(), s.String())
	}
}

func TestNext_table(t *testing.T) {
	want := map[transitionKey]State{
		{Connected, wire.GetCameraList}:                   GetCameraList,
		{Connected, wire.OpenCamera}:                      OpenCamera,
		{CameraSelected, wire.CloseCamera}:                CloseCamera,
		{CameraSelected, wire.GetFrame}:                   GetFrame,
		{CameraSelected, wire.StartContinuousGrabbing}:    StartContinuousGrabbing,
		{ContinuousGrabbing, wire.StopContinuousGrabbing}: StopContinuousGrabbing,
	}

	for _, from := range allStates {
		for msg := wire.MessageType(0); msg <= 12; msg++ {
			next, ok := Next(from, msg)
			expected, listed := want[transitionKey{from, msg}]

			assert.Equal(t, listed, ok, "%s + %s", from, msg)
			if listed {
				assert.Equal(t, expected, next, "%s + %s", from, msg)
				assert.False(t, next.Waiting(), "%s must be an action state", next)
			}

			inPlace := from == ContinuousGrabbing && msg == wire.AckContinuousGrabbing
			assert.Equal(t, inPlace, HandledInPlace(from, msg), "%s + %s", from, msg)
		}
	}
}

func TestHandlers_coverActionStates(t *testing.T) {
	for _, s := range allStates {
		_, ok := handlers[s]
		assert.Equal(t, !s.Waiting(), ok, s.String())
	}
}
