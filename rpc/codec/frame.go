// Package codec implements component A of spec.md §4: a length-prefixed
// binary framing codec for the custom RPC wire protocol. Frames are an
// unsigned 64-bit little-endian length followed by exactly that many bytes
// of payload; the payload is a tagged MessageHeader union optionally
// followed by a method-specific body (rpc/methods encodes/decodes those
// bodies — this package only ever sees opaque body bytes).
//
// There is no ecosystem serialization library that models this bespoke
// sum-type framing any better than direct encoding/binary reads and writes
// (see DESIGN.md); the teacher's own rlp package takes the same approach
// for an equally bespoke format.
package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload this codec will decode before it
// treats the stream as corrupt and closes it (spec.md §4.A: "oversize (>
// 64 MiB recommended) frames close the stream").
const MaxFrameSize = 64 << 20

// LengthPrefixSize is the width of the frame's length prefix in bytes.
const LengthPrefixSize = 8

// ErrFrameTooLarge is returned by Decode when a frame's declared length
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

// ErrTruncatedFrame is returned when the stream ends before a declared
// frame body is fully read.
var ErrTruncatedFrame = errors.New("codec: stream ended mid-frame")

// MessageTag distinguishes the three MessageHeader variants on the wire.
type MessageTag byte

const (
	TagHeartbeat MessageTag = 0x00
	TagQuery     MessageTag = 0x01
	TagResponse  MessageTag = 0x02
)

// MessageHeader is the tagged union carried by every frame (spec.md §3):
// Heartbeat, Query{ID, Tag, Version}, or Response{ID}. Exactly one of the
// Query/Response-specific fields is meaningful, selected by Kind.
type MessageHeader struct {
	Kind MessageTag

	// ID is set for Query and Response; Method and Version for Query only.
	ID      int64
	Method  string
	Version int32
}

// NewHeartbeat builds a Heartbeat header.
func NewHeartbeat() MessageHeader { return MessageHeader{Kind: TagHeartbeat} }

// NewQuery builds a Query header for the given request id and method.
func NewQuery(id int64, method string, version int32) MessageHeader {
	return MessageHeader{Kind: TagQuery, ID: id, Method: method, Version: version}
}

// NewResponse builds a Response header for the given request id.
func NewResponse(id int64) MessageHeader {
	return MessageHeader{Kind: TagResponse, ID: id}
}

// Frame is a fully decoded wire frame: the header plus, for Query and
// Response headers, the method-specific body bytes that follow it.
type Frame struct {
	Header MessageHeader
	Body   []byte
}

// Encode serializes header and body into a single length-prefixed frame.
func Encode(header MessageHeader, body []byte) ([]byte, error) {
	payload, err := encodeHeader(header)
	if err != nil {
		return nil, err
	}
	if header.Kind != TagHeartbeat {
		payload = append(payload, body...)
	}
	if uint64(len(payload)) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint64(out[:LengthPrefixSize], uint64(len(payload)))
	copy(out[LengthPrefixSize:], payload)
	return out, nil
}

func encodeHeader(h MessageHeader) ([]byte, error) {
	switch h.Kind {
	case TagHeartbeat:
		return []byte{byte(TagHeartbeat)}, nil
	case TagQuery:
		if len(h.Method) > 0xFFFF {
			return nil, fmt.Errorf("codec: method name too long: %d bytes", len(h.Method))
		}
		buf := make([]byte, 1+8+2+len(h.Method)+4)
		buf[0] = byte(TagQuery)
		binary.LittleEndian.PutUint64(buf[1:9], uint64(h.ID))
		binary.LittleEndian.PutUint16(buf[9:11], uint16(len(h.Method)))
		copy(buf[11:11+len(h.Method)], h.Method)
		binary.LittleEndian.PutUint32(buf[11+len(h.Method):], uint32(h.Version))
		return buf, nil
	case TagResponse:
		buf := make([]byte, 1+8)
		buf[0] = byte(TagResponse)
		binary.LittleEndian.PutUint64(buf[1:9], uint64(h.ID))
		return buf, nil
	default:
		return nil, fmt.Errorf("codec: unknown message tag %#x", h.Kind)
	}
}

// Decode reads exactly one frame from r, blocking until the frame is
// complete (spec.md §4.A: "Partial frames must not be observed"). It
// returns ErrFrameTooLarge without consuming the oversize payload — the
// caller must close the stream, since the decoder cannot safely resync.
// A stream that ends cleanly between frames yields io.EOF.
func Decode(r *bufio.Reader) (Frame, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, wrapEOF(err)
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])
	if length > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, wrapEOF(err)
	}
	header, rest, err := decodeHeader(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: header, Body: rest}, nil
}

func wrapEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTruncatedFrame
	}
	return err
}

func decodeHeader(payload []byte) (MessageHeader, []byte, error) {
	if len(payload) < 1 {
		return MessageHeader{}, nil, fmt.Errorf("codec: empty frame payload")
	}
	switch MessageTag(payload[0]) {
	case TagHeartbeat:
		return NewHeartbeat(), payload[1:], nil
	case TagQuery:
		if len(payload) < 1+8+2 {
			return MessageHeader{}, nil, fmt.Errorf("codec: truncated query header")
		}
		id := int64(binary.LittleEndian.Uint64(payload[1:9]))
		methodLen := int(binary.LittleEndian.Uint16(payload[9:11]))
		end := 11 + methodLen
		if len(payload) < end+4 {
			return MessageHeader{}, nil, fmt.Errorf("codec: truncated query method/version")
		}
		method := string(payload[11:end])
		version := int32(binary.LittleEndian.Uint32(payload[end : end+4]))
		return NewQuery(id, method, version), payload[end+4:], nil
	case TagResponse:
		// The handshake magic (spec.md §3) is a Response whose id field is
		// narrowed to 6 bytes so the whole frame fits the stated 15-byte
		// blob; every other Response uses the full 8-byte id field.
		if len(payload) == 1+handshakeIDWidth {
			var idBuf [8]byte
			copy(idBuf[:handshakeIDWidth], payload[1:1+handshakeIDWidth])
			id := int64(binary.LittleEndian.Uint64(idBuf[:]))
			return NewResponse(id), payload[1+handshakeIDWidth:], nil
		}
		if len(payload) < 1+8 {
			return MessageHeader{}, nil, fmt.Errorf("codec: truncated response header")
		}
		id := int64(binary.LittleEndian.Uint64(payload[1:9]))
		return NewResponse(id), payload[9:], nil
	default:
		return MessageHeader{}, nil, fmt.Errorf("codec: unknown message tag %#x", payload[0])
	}
}

// HandshakeSentinelID is the reserved response id used by the handshake
// magic frame (spec.md §3, §9): any Response whose ID equals this value is
// the handshake magic, not a real RPC response, even on a stream past its
// initial phase.
const HandshakeSentinelID int64 = 0x0000005043505200

// handshakeIDWidth is the id field width (in bytes) the handshake magic
// uses in place of the ordinary 8-byte Response id field, so the whole
// frame is spec.md §3's fixed "15-byte blob" (8-byte length prefix + 1-byte
// tag + 6-byte id). HandshakeSentinelID fits losslessly in 6 little-endian
// bytes: its top two bytes are always zero.
const handshakeIDWidth = 6

// HandshakeMagic is the fixed frame every RPC stream exchanges immediately
// after substream negotiation (spec.md §3): an empty version-menu response
// under the sentinel id, narrowed to the spec's 15-byte total length.
var HandshakeMagic = mustEncodeHandshake()

func mustEncodeHandshake() []byte {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], uint64(HandshakeSentinelID))

	payload := make([]byte, 1+handshakeIDWidth)
	payload[0] = byte(TagResponse)
	copy(payload[1:], idBuf[:handshakeIDWidth])

	out := make([]byte, LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint64(out[:LengthPrefixSize], uint64(len(payload)))
	copy(out[LengthPrefixSize:], payload)
	return out
}

// IsHandshake reports whether header is the handshake magic sentinel.
func IsHandshake(h MessageHeader) bool {
	return h.Kind == TagResponse && h.ID == HandshakeSentinelID
}
