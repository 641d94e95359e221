// Package protocol implements the lobby wire format: length-prefixed
// frames carrying a message type and a JSON payload.
//
//	[length:uint32 BE][type:uint16 BE][payload:JSON]
//
// length counts the type field and the payload.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MessageType identifies the payload of a frame
type MessageType uint16

const (
	TypeAuthRequest      MessageType = 0x0001
	TypeAuthResponse     MessageType = 0x0002
	TypeRegisterRequest  MessageType = 0x0003
	TypeRegisterResponse MessageType = 0x0004
	TypeLogout           MessageType = 0x0005

	TypeCreateRoom       MessageType = 0x0301
	TypeRoomCreated      MessageType = 0x0302
	TypeJoinRoom         MessageType = 0x0303
	TypeRoomJoined       MessageType = 0x0304
	TypeLeaveRoom        MessageType = 0x0305
	TypeRoomListRequest  MessageType = 0x0306
	TypeRoomListResponse MessageType = 0x0307
	TypeStartGame        MessageType = 0x0308
	TypeGameStarted      MessageType = 0x0309
	TypeRoomUpdate       MessageType = 0x030A
	TypeStopGame         MessageType = 0x030B

	TypeError     MessageType = 0x00FF
	TypeSuccess   MessageType = 0x00FE
	TypeHeartbeat MessageType = 0x00FD
)

var typeNames = map[MessageType]string{
	TypeAuthRequest:      "AUTH_REQUEST",
	TypeAuthResponse:     "AUTH_RESPONSE",
	TypeRegisterRequest:  "REGISTER_REQUEST",
	TypeRegisterResponse: "REGISTER_RESPONSE",
	TypeLogout:           "LOGOUT",
	TypeCreateRoom:       "CREATE_ROOM",
	TypeRoomCreated:      "ROOM_CREATED",
	TypeJoinRoom:         "JOIN_ROOM",
	TypeRoomJoined:       "ROOM_JOINED",
	TypeLeaveRoom:        "LEAVE_ROOM",
	TypeRoomListRequest:  "ROOM_LIST_REQUEST",
	TypeRoomListResponse: "ROOM_LIST_RESPONSE",
	TypeStartGame:        "START_GAME_REQUEST",
	TypeGameStarted:      "GAME_STARTED",
	TypeRoomUpdate:       "ROOM_UPDATE",
	TypeStopGame:         "STOP_GAME_REQUEST",
	TypeError:            "ERROR",
	TypeSuccess:          "SUCCESS",
	TypeHeartbeat:        "HEARTBEAT",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(t))
}

// MaxFrameSize bounds the length field of a frame
const MaxFrameSize = 1 << 20

const (
	lengthSize = 4
	typeSize   = 2
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrShortFrame    = errors.New("frame shorter than type header")
)

// Message is one decoded frame. Payload is raw JSON; empty means {}.
type Message struct {
	Type    MessageType
	Payload json.RawMessage
}

// NewMessage encodes payload as JSON
func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t, Payload: json.RawMessage("{}")}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// MarshalBinary returns the frame body without the length prefix, as
// carried in a WebSocket binary message
func (m Message) MarshalBinary() ([]byte, error) {
	if typeSize+len(m.Payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, typeSize+len(m.Payload))
	binary.BigEndian.PutUint16(buf, uint16(m.Type))
	copy(buf[typeSize:], m.Payload)
	return buf, nil
}

// UnmarshalBinary parses a frame body without the length prefix
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < typeSize {
		return ErrShortFrame
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	m.Type = MessageType(binary.BigEndian.Uint16(data))
	m.Payload = append(json.RawMessage(nil), data[typeSize:]...)
	return nil
}

// ReadMessage reads one length-prefixed frame from r
func ReadMessage(r io.Reader) (Message, error) {
	var header [lengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < typeSize {
		return Message{}, ErrShortFrame
	}
	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	var m Message
	if err := m.UnmarshalBinary(body); err != nil {
		return Message{}, err
	}
	return m, nil
}

// WriteMessage writes m as one length-prefixed frame
func WriteMessage(w io.Writer, m Message) error {
	body, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	frame := make([]byte, lengthSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lengthSize:], body)
	_, err = w.Write(frame)
	return err
}
