// Package protocol implements the framed binary protocol spoken with the
// Streamline host: the ASCII handshake, 5-byte frame headers, and the command
// and response type codes.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CommandType identifies a frame sent by the host.
type CommandType uint8

const (
	CommandRequestXML CommandType = 0
	CommandDeliverXML CommandType = 1
	CommandAPCStart   CommandType = 2
	CommandAPCStop    CommandType = 3
	CommandDisconnect CommandType = 4
	CommandPing       CommandType = 5
)

func (c CommandType) String() string {
	switch c {
	case CommandRequestXML:
		return "REQUEST_XML"
	case CommandDeliverXML:
		return "DELIVER_XML"
	case CommandAPCStart:
		return "APC_START"
	case CommandAPCStop:
		return "APC_STOP"
	case CommandDisconnect:
		return "DISCONNECT"
	case CommandPing:
		return "PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// ResponseType identifies a frame sent to the host.
type ResponseType uint8

const (
	ResponseXML     ResponseType = 1
	ResponseAPCData ResponseType = 3
	ResponseACK     ResponseType = 4
	ResponseNAK     ResponseType = 5
	ResponseError   ResponseType = 0xFF
)

func (r ResponseType) String() string {
	switch r {
	case ResponseXML:
		return "XML"
	case ResponseAPCData:
		return "APC_DATA"
	case ResponseACK:
		return "ACK"
	case ResponseNAK:
		return "NAK"
	case ResponseError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(r))
	}
}

const (
	// HeaderSize is the size of the type byte plus the little-endian length.
	HeaderSize = 5

	// MaxInboundLength is the largest payload accepted from the host.
	MaxInboundLength = 1 << 20
)

var (
	// ErrProtocolViolation marks input the host should never send.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrFrameTooLarge is returned for inbound lengths above MaxInboundLength.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrProtocolViolation)
)

// Header is a decoded frame header.
type Header struct {
	Type   uint8
	Length uint32
}

// Frame is a header together with its payload.
type Frame struct {
	Type    uint8
	Payload []byte
}

// EncodeFrame returns the wire form of a frame.
func EncodeFrame(typ uint8, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = typ
	binary.LittleEndian.PutUint32(out[1:HeaderSize], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// DecodeFrame parses a single complete frame. Trailing bytes are an error.
func DecodeFrame(b []byte) (Frame, error) {
	r := bytes.NewReader(b)
	f, err := ReadFrame(r)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, fmt.Errorf("%d trailing bytes after frame", r.Len())
	}
	return f, nil
}

// ReadHeader reads and validates one frame header.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Type:   hdr[0],
		Length: binary.LittleEndian.Uint32(hdr[1:]),
	}
	if h.Length > MaxInboundLength {
		return h, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, h.Length, MaxInboundLength)
	}
	return h, nil
}

// ReadPayload reads the payload announced by h.
func ReadPayload(r io.Reader, h Header) ([]byte, error) {
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read %d byte payload: %w", h.Length, err)
	}
	return payload, nil
}

// ReadFrame reads a header and its payload.
func ReadFrame(r io.Reader) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	payload, err := ReadPayload(r, h)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: h.Type, Payload: payload}, nil
}

// WriteFrame writes one response frame. Header and payload go out in a single
// write so concurrent writers serialised by the caller never interleave.
func WriteFrame(w io.Writer, typ ResponseType, payload []byte) error {
	if _, err := w.Write(EncodeFrame(uint8(typ), payload)); err != nil {
		return fmt.Errorf("write %s frame: %w", typ, err)
	}
	return nil
}
