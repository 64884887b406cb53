// Package registry implements the protocol-definition table: a 256-entry
// lookup from a message's leading byte to a length rule, used to carve raw
// application messages out of a reassembled connection byte stream.
package registry

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Length rule sentinels for Table entries.
const (
	// RuleUnknown marks an id with no registered rule.
	RuleUnknown int32 = 0
	// RuleByteLength means the message length is in the second byte.
	RuleByteLength int32 = -1
	// RuleWordLength means the message length is a little-endian u16 at bytes 1..2.
	RuleWordLength int32 = -2
)

// Outcome codes returned by PacketLength.
const (
	// NeedMoreBytes indicates the buffer is too short to determine a length yet.
	NeedMoreBytes int32 = 0
	// InvalidLength indicates a structurally invalid declared length.
	InvalidLength int32 = -1
	// UnknownID indicates the message id has no registered rule.
	UnknownID int32 = -2
)

// ErrInvalidMessage is raised when a message id's rule is itself corrupt
// (neither positive, nor one of the two recognized negative sentinels).
// This is the one truly-impossible case the core never recovers from locally.
var ErrInvalidMessage = errors.New("registry: invalid message length rule")

// Table is a 256-entry message length registry, indexed by a message's
// first byte. It is populated once by the application (AddType) and then
// treated as immutable for the lifetime of every connection consuming it.
type Table struct {
	rules [256]int32
}

// New returns an empty registry; every id is RuleUnknown until added.
func New() *Table {
	return &Table{}
}

// AddType registers the length rule for a given message id.
func (t *Table) AddType(id byte, rule int32) {
	t.rules[id] = rule
}

// PacketLength determines the length of the message starting at buf[0],
// given the bytes currently available. It returns:
//   - a positive length once it is known,
//   - NeedMoreBytes (0) if more bytes are required to decide,
//   - InvalidLength (-1) if the declared length is structurally invalid,
//   - UnknownID (-2) if the id has no registered rule.
//
// A rule value that is none of {>0, RuleUnknown, RuleByteLength, RuleWordLength}
// is a protocol invariant violation and panics via ErrInvalidMessage; callers
// that accept untrusted rule tables should recover, but AddType is an
// application-controlled, compile-time-shaped input in practice.
func (t *Table) PacketLength(buf []byte) int32 {
	if len(buf) == 0 {
		return NeedMoreBytes
	}

	id := buf[0]
	rule := t.rules[id]

	if rule > 0 {
		return rule
	}

	switch rule {
	case RuleUnknown:
		return UnknownID
	case RuleByteLength:
		if len(buf) < 2 {
			return NeedMoreBytes
		}
		if buf[1] >= 2 {
			return int32(buf[1])
		}
		return InvalidLength
	case RuleWordLength:
		if len(buf) < 3 {
			return NeedMoreBytes
		}
		slen := binary.LittleEndian.Uint16(buf[1:3])
		if slen >= 3 {
			return int32(slen)
		}
		return InvalidLength
	default:
		panic(errors.Wrapf(ErrInvalidMessage, "id=%d rule=%d", id, rule))
	}
}

// IsValidLength reports whether pktLength is a usable, complete length
// given how many bytes are actually available.
func IsValidLength(pktLength int32, bufLen int) bool {
	return pktLength > 0 && bufLen >= int(pktLength)
}

// IsValidPacket composes PacketLength and IsValidLength against buf.
func (t *Table) IsValidPacket(buf []byte) bool {
	return IsValidLength(t.PacketLength(buf), len(buf))
}
