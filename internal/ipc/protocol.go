// Package ipc provides control of a running presenter from other
// processes (leoctl, editor plugins, foot pedals wired to scripts).
//
// The protocol is:
// - Request/response pattern for commands
// - Event streaming for cursor and mode updates
// - CBOR payloads behind a fixed binary header
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4C454F43 // "LEOC"
)

// MaxPayload bounds a single message.
const MaxPayload = 4 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Cursor commands (0x02xx)
	MsgAdvance       MessageType = 0x0200
	MsgPress         MessageType = 0x0201
	MsgJump          MessageType = 0x0202
	MsgStepForward   MessageType = 0x0203
	MsgStepBackward  MessageType = 0x0204
	MsgResetProgress MessageType = 0x0205
	MsgCommandResp   MessageType = 0x02FF

	// Mode commands (0x03xx)
	MsgToggleActive  MessageType = 0x0300
	MsgStartAutoType MessageType = 0x0301
	MsgStopAutoType  MessageType = 0x0302
	MsgPause         MessageType = 0x0303
	MsgResume        MessageType = 0x0304
	MsgReloadLesson  MessageType = 0x0305

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// String returns the command name used in logs.
func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgHandshake:
		return "handshake"
	case MsgHandshakeAck:
		return "handshake-ack"
	case MsgError:
		return "error"
	case MsgStatusRequest:
		return "status"
	case MsgStatusResponse:
		return "status-response"
	case MsgAdvance:
		return "advance"
	case MsgPress:
		return "press"
	case MsgJump:
		return "jump"
	case MsgStepForward:
		return "forward"
	case MsgStepBackward:
		return "back"
	case MsgResetProgress:
		return "reset"
	case MsgCommandResp:
		return "command-response"
	case MsgToggleActive:
		return "toggle"
	case MsgStartAutoType:
		return "auto"
	case MsgStopAutoType:
		return "stop"
	case MsgPause:
		return "pause"
	case MsgResume:
		return "resume"
	case MsgReloadLesson:
		return "reload"
	case MsgSubscribe:
		return "subscribe"
	case MsgSubscribeResp:
		return "subscribe-response"
	case MsgUnsubscribe:
		return "unsubscribe"
	case MsgUnsubscribeResp:
		return "unsubscribe-response"
	case MsgEvent:
		return "event"
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventCursor          EventType = 0x0001
	EventActive          EventType = 0x0002
	EventAutoTypeDone    EventType = 0x0003
	EventInjectionFailed EventType = 0x0004
	EventLessonLoaded    EventType = 0x0005
	EventShutdown        EventType = 0x0006
)

func (t EventType) String() string {
	switch t {
	case EventCursor:
		return "cursor"
	case EventActive:
		return "active"
	case EventAutoTypeDone:
		return "auto-type-done"
	case EventInjectionFailed:
		return "injection-failed"
	case EventLessonLoaded:
		return "lesson-loaded"
	case EventShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("event-0x%04x", uint16(t))
}

// AllEvents is the subscription used when a client names none.
var AllEvents = []EventType{
	EventCursor, EventActive, EventAutoTypeDone,
	EventInjectionFailed, EventLessonLoaded, EventShutdown,
}

// PermissionLevel defines client access levels
type PermissionLevel uint8

const (
	PermReadOnly PermissionLevel = 0x01
	PermControl  PermissionLevel = 0x02
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags, reserved
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message as a single buffer so concurrent writers on
// one connection never interleave.
func (m *Message) Write(w io.Writer) error {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], m.Header.Magic)
	hdr[4] = m.Header.Version
	hdr[5] = m.Header.Flags
	binary.BigEndian.PutUint16(hdr[6:8], uint16(m.Header.Type))
	binary.BigEndian.PutUint32(hdr[8:12], m.Header.RequestID)
	binary.BigEndian.PutUint32(hdr[12:16], m.Header.Length)

	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `cbor:"client_version"`
	ClientName      string `cbor:"client_name"`
	ProtocolVersion uint8  `cbor:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string          `cbor:"server_version"`
	ProtocolVersion uint8           `cbor:"protocol_version"`
	SessionID       string          `cbor:"session_id"`
	Permission      PermissionLevel `cbor:"permission"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrPermissionDenied = 3
	ErrInternalError    = 4
	ErrBusy             = 5
	ErrNoLesson         = 6
)

// StatusResponse is the presenter state.
type StatusResponse struct {
	Version    string        `cbor:"version"`
	Uptime     time.Duration `cbor:"uptime"`
	StartedAt  time.Time     `cbor:"started_at"`
	LessonPath string        `cbor:"lesson_path,omitempty"`
	LessonName string        `cbor:"lesson_name"`
	Blocks     int           `cbor:"blocks"`
	Index      int           `cbor:"index"`
	Total      int           `cbor:"total"`
	Progress   float64       `cbor:"progress"`
	Active     bool          `cbor:"active"`
	Paused     bool          `cbor:"paused"`
	AutoTyping bool          `cbor:"auto_typing"`
	Mode       string        `cbor:"mode"`
	Current    string        `cbor:"current,omitempty"`
	Students   int           `cbor:"students"`
	SessionID  string        `cbor:"session_id,omitempty"`
	KeyPresses int           `cbor:"key_presses"`
}

// JumpRequest moves the cursor.
type JumpRequest struct {
	Index int `cbor:"index"`
}

// PressRequest simulates a typing hotkey.
type PressRequest struct {
	Key string `cbor:"key"`
}

// CommandResponse reports the cursor after a command.
type CommandResponse struct {
	Success bool   `cbor:"success"`
	Index   int    `cbor:"index"`
	Total   int    `cbor:"total"`
	Active  bool   `cbor:"active"`
	Error   string `cbor:"error,omitempty"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `cbor:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `cbor:"success"`
	SubscriptionID string `cbor:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `cbor:"type"`
	Timestamp time.Time `cbor:"timestamp"`
	Index     int       `cbor:"index,omitempty"`
	Total     int       `cbor:"total,omitempty"`
	Active    bool      `cbor:"active,omitempty"`
	Completed bool      `cbor:"completed,omitempty"`
	Typed     int       `cbor:"typed,omitempty"`
	Lesson    string    `cbor:"lesson,omitempty"`
	Error     string    `cbor:"error,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode encodes a payload to CBOR. A nil payload encodes to nothing.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return encMode.Marshal(v)
}

// Decode decodes CBOR bytes to a payload
func Decode(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// RemoteError is an MsgError reply.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("presenter: %s (code %d)", e.Message, e.Code)
}
