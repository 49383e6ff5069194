// Package wire implements the WRP binary codec: message and error enums, a
// fixed-capacity output buffer that rejects overflowing writes, and a reader
// that decodes big-endian fields from a connection.
//
// Every WRP message is a 1-byte type tag, a 4-byte big-endian payload length
// and exactly that many payload bytes.
package wire

import "fmt"

// HeaderLen is the size of the type tag plus the length prefix.
const HeaderLen = 5

// MaxSerialLength bounds the serial number carried by OPEN_CAMERA.
const MaxSerialLength = 255

// AckPayloadLen is the payload size of ACK_CONTINUOUS_GRABBING (one frame id).
const AckPayloadLen = 4

// FrameHeaderLen is the fixed part of a FRAME payload: frame id, timestamp,
// height and width.
const FrameHeaderLen = 4 + 8 + 2 + 2

// MessageType is the 1-byte type tag of a WRP message.
type MessageType uint8

const (
	OK                      MessageType = 1
	Error                   MessageType = 2
	GetCameraList           MessageType = 3
	CameraList              MessageType = 4
	OpenCamera              MessageType = 5
	CloseCamera             MessageType = 6
	GetFrame                MessageType = 7
	Frame                   MessageType = 8
	StartContinuousGrabbing MessageType = 9
	StopContinuousGrabbing  MessageType = 10
	AckContinuousGrabbing   MessageType = 11
)

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	switch t {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case GetCameraList:
		return "GET_CAMERA_LIST"
	case CameraList:
		return "CAMERA_LIST"
	case OpenCamera:
		return "OPEN_CAMERA"
	case CloseCamera:
		return "CLOSE_CAMERA"
	case GetFrame:
		return "GET_FRAME"
	case Frame:
		return "FRAME"
	case StartContinuousGrabbing:
		return "START_CONTINUOUS_GRABBING"
	case StopContinuousGrabbing:
		return "STOP_CONTINUOUS_GRABBING"
	case AckContinuousGrabbing:
		return "ACK_CONTINUOUS_GRABBING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ErrorCode is the single payload byte of an ERROR message.
type ErrorCode uint8

const (
	UnexpectedMessage   ErrorCode = 0
	CameraNotFound      ErrorCode = 1
	CameraNotResponding ErrorCode = 2
	CameraNotOpen       ErrorCode = 3
	CameraNotConnected  ErrorCode = 4
	CameraNotAcquiring  ErrorCode = 5
)

// String returns the protocol name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case UnexpectedMessage:
		return "UNEXPECTED_MESSAGE"
	case CameraNotFound:
		return "CAMERA_NOT_FOUND"
	case CameraNotResponding:
		return "CAMERA_NOT_RESPONDING"
	case CameraNotOpen:
		return "CAMERA_NOT_OPEN"
	case CameraNotConnected:
		return "CAMERA_NOT_CONNECTED"
	case CameraNotAcquiring:
		return "CAMERA_NOT_ACQUIRING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// Header is the decoded type and declared payload length of a message.
type Header struct {
	Type   MessageType
	Length uint32
}
