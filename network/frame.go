package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType defines the type of a frame
type FrameType uint16

const (
	FrameTypeData      FrameType = 1
	FrameTypeHeartbeat FrameType = 2
	FrameTypeAck       FrameType = 3
	FrameTypeError     FrameType = 4
	FrameTypeClose     FrameType = 5
)

// String returns the string representation of FrameType
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeData:
		return "data"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeAck:
		return "ack"
	case FrameTypeError:
		return "error"
	case FrameTypeClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", ft)
	}
}

const (
	// FrameMagic prefixes every frame header.
	FrameMagic uint16 = 0x524F

	// FrameHeaderSize is the fixed size of the frame header in bytes
	FrameHeaderSize = 16

	// MaxPayloadSize is the maximum allowed payload size
	MaxPayloadSize = 1 << 20
)

// Frame is one unit of traffic on the wire. Header layout, big endian:
//
//	magic(2) type(2) priority(4, signed) sequence(4) length(4)
type Frame struct {
	Type     FrameType
	Priority int32
	Sequence uint32
	Payload  []byte
}

// NewDataFrame creates a data frame carrying payload at the given priority.
func NewDataFrame(priority int, payload []byte) *Frame {
	return &Frame{Type: FrameTypeData, Priority: int32(priority), Payload: payload}
}

// NewErrorFrame creates an error frame answering sequence.
func NewErrorFrame(sequence uint32, msg string) *Frame {
	return &Frame{Type: FrameTypeError, Sequence: sequence, Payload: []byte(msg)}
}

// NewAckFrame creates an acknowledgment for sequence.
func NewAckFrame(sequence uint32) *Frame {
	return &Frame{Type: FrameTypeAck, Sequence: sequence}
}

// Size returns the encoded size of the frame in bytes
func (f *Frame) Size() int {
	return FrameHeaderSize + len(f.Payload)
}

// MarshalBinary encodes the frame.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(f.Payload), MaxPayloadSize)
	}

	buf := make([]byte, f.Size())
	putHeader(buf, f)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// UnmarshalBinary decodes a complete frame from data.
func (f *Frame) UnmarshalBinary(data []byte) error {
	length, err := parseHeader(data, f)
	if err != nil {
		return err
	}
	if len(data) != FrameHeaderSize+int(length) {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidFrame, FrameHeaderSize+int(length), len(data))
	}

	f.Payload = nil
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, data[FrameHeaderSize:])
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	frame := &Frame{}
	length, err := parseHeader(header, frame)
	if err != nil {
		return nil, err
	}

	if length > 0 {
		frame.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return nil, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
	return frame, nil
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, frame *Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func putHeader(buf []byte, f *Frame) {
	binary.BigEndian.PutUint16(buf[0:2], FrameMagic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Priority))
	binary.BigEndian.PutUint32(buf[8:12], f.Sequence)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(f.Payload)))
}

func parseHeader(data []byte, f *Frame) (uint32, error) {
	if len(data) < FrameHeaderSize {
		return 0, fmt.Errorf("%w: header too short: %d bytes", ErrInvalidFrame, len(data))
	}
	if magic := binary.BigEndian.Uint16(data[0:2]); magic != FrameMagic {
		return 0, fmt.Errorf("%w: bad magic 0x%04x", ErrInvalidFrame, magic)
	}

	f.Type = FrameType(binary.BigEndian.Uint16(data[2:4]))
	f.Priority = int32(binary.BigEndian.Uint32(data[4:8]))
	f.Sequence = binary.BigEndian.Uint32(data[8:12])

	length := binary.BigEndian.Uint32(data[12:16])
	if length > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, MaxPayloadSize)
	}
	return length, nil
}
