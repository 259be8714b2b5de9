// Package wire implements the length-prefixed JSON framing protocol shared
// by the sandbox executor (host) and the sandbox runner (guest), including
// the optional outer demultiplexing layer for transports that interleave
// multiple logical byte streams over one connection.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxBufferSize bounds the occupancy of either the raw or content
	// buffer at any point during reassembly.
	MaxBufferSize = 10 * 1024 * 1024

	// MaxMessageSize bounds an individual inbound message's declared
	// length prefix.
	MaxMessageSize = 10 * 1024 * 1024

	// MaxSendSize bounds an individual outbound payload.
	MaxSendSize = 50 * 1024 * 1024

	// MaxReadDuration is the absolute ceiling on how long a single
	// ReadMessage call may run, regardless of the caller's requested
	// timeout. It prevents an adversarial guest from dripping bytes
	// indefinitely.
	MaxReadDuration = 300 * time.Second

	// DefaultSendTimeout is used by SendMessage when the caller does not
	// override it.
	DefaultSendTimeout = 30 * time.Second

	frameHeaderLen = 8 // 1 tag byte + 3 reserved bytes + 4 length bytes
	lengthPrefixLen = 4
)

// ErrProtocol is wrapped by every error ReadMessage/SendMessage return that
// must be treated as fatal to the connection (size cap breach, malformed
// framing, deadline exceeded, short read). Callers use errors.Is(err,
// ErrProtocol) to route to the executor's failure-isolation path.
var ErrProtocol = errors.New("wire: protocol violation")

// protoErrorf wraps ErrProtocol with a formatted message while preserving
// errors.Is(err, ErrProtocol).
func protoErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrProtocol)...)
}

// EffectiveDeadline returns the deadline a single ReadMessage call must
// honor: the lesser of the absolute ceiling and the caller's timeout plus
// a 10s grace period, matching the reference implementation's dual-deadline
// design.
func EffectiveDeadline(timeout time.Duration) time.Duration {
	grace := timeout + 10*time.Second
	if grace > MaxReadDuration {
		return MaxReadDuration
	}
	if grace <= 0 {
		return MaxReadDuration
	}
	return grace
}

// EncodeFrame produces the on-wire byte layout for a logical message: a
// 4-byte big-endian length prefix followed by the payload bytes.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxSendSize {
		return nil, protoErrorf("payload of %d bytes exceeds send cap of %d bytes", len(payload), MaxSendSize)
	}
	out := make([]byte, lengthPrefixLen+len(payload))
	binary.BigEndian.PutUint32(out[:lengthPrefixLen], uint32(len(payload)))
	copy(out[lengthPrefixLen:], payload)
	return out, nil
}

// DemuxTag identifies a recognized outer multiplexed stream, such as
// "stdout" vs "stderr" tags on a multiplexed transport. Tag 0 means "not a
// recognized multiplex header" (raw passthrough).
type DemuxTag byte

// TryDemuxHeader inspects the first 8 bytes of buf (if present) to decide
// whether they form a multiplex frame header: byte 0 is a tag in knownTags,
// bytes 1-3 are zero, and bytes 4-7 are a big-endian length. It returns
// ok=false if buf is too short to decide yet, or if the prefix does not
// match the header shape (meaning buf should be treated as raw content).
func TryDemuxHeader(buf []byte, knownTags map[byte]bool) (tag byte, length uint32, headerLen int, matched bool, ok bool) {
	if len(buf) < frameHeaderLen {
		return 0, 0, 0, false, false
	}
	if !knownTags[buf[0]] {
		return 0, 0, 0, false, true
	}
	if buf[1] != 0 || buf[2] != 0 || buf[3] != 0 {
		return 0, 0, 0, false, true
	}
	length = binary.BigEndian.Uint32(buf[4:8])
	return buf[0], length, frameHeaderLen, true, true
}

// DefaultMultiplexTags is the reference transport's stream-tag set: 1 for
// stdout-like content, 2 for stderr-like content. Transports that do not
// multiplex use NoMultiplexTags instead so every byte is treated as raw
// content (TryDemuxHeader always reports "not a header").
var DefaultMultiplexTags = map[byte]bool{1: true, 2: true}

// NoMultiplexTags configures a no-op demultiplexer: TryDemuxHeader never
// recognizes a header, so all bytes flow straight into the content buffer.
var NoMultiplexTags = map[byte]bool{}
