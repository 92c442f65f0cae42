// Package protocol implements the control-plane wire format shared by the
// master and the node agents.
//
// Every message travels as a frame:
//
//	kind (1 byte) | length (uint32, little endian) | payload
//
// Strings carry ASCII payloads, integers an 8 byte little-endian two's
// complement int64, and byte frames the raw part contents. Frames are read
// with io.ReadFull so short reads on the stream are always accumulated.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

type Kind byte

const (
	KindString Kind = 'S'
	KindInt    Kind = 'I'
	KindBytes  Kind = 'B'
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

const (
	FrameHeaderSize = 1 + 4
	intPayloadSize  = 8

	// MaxFrameSize bounds a single payload so a corrupt header cannot make
	// the reader allocate without limit.
	MaxFrameSize = 1 << 30
)

type Frame struct {
	Kind    Kind
	Payload []byte
}

func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	b := make([]byte, 0, FrameHeaderSize+len(payload))
	b = append(b, byte(kind))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	b = append(b, payload...)
	_, err := w.Write(b)
	return err
}

func ReadFrame(r io.Reader) (Frame, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	kind := Kind(header[0])
	switch kind {
	case KindString, KindInt, KindBytes:
	default:
		return Frame{}, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}

	size := binary.LittleEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	if kind == KindInt && size != intPayloadSize {
		return Frame{}, fmt.Errorf("%w: int payload of %d bytes", ErrMalformedFrame, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

func WriteString(w io.Writer, s string) error {
	return WriteFrame(w, KindString, []byte(s))
}

func WriteInt(w io.Writer, v int64) error {
	return WriteFrame(w, KindInt, EncodeInt(v))
}

func WriteBytes(w io.Writer, data []byte) error {
	return WriteFrame(w, KindBytes, data)
}

func ReadString(r io.Reader) (string, error) {
	f, err := readKind(r, KindString)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

func ReadInt(r io.Reader) (int64, error) {
	f, err := readKind(r, KindInt)
	if err != nil {
		return 0, err
	}
	return DecodeInt(f.Payload), nil
}

func ReadBytes(r io.Reader) ([]byte, error) {
	f, err := readKind(r, KindBytes)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

func readKind(r io.Reader, want Kind) (Frame, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return Frame{}, err
	}
	if f.Kind != want {
		return Frame{}, fmt.Errorf("%w: want %v, got %v", ErrUnexpectedKind, want, f.Kind)
	}
	return f, nil
}

// EncodeInt returns v as 8 little-endian two's complement bytes.
func EncodeInt(v int64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, intPayloadSize), uint64(v))
}

func DecodeInt(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}
