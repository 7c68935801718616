package channel

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// machineID and processID are fixed for the lifetime of the process. They
// combine with a monotonic counter so that IDs remain unique across process
// restarts on the same host, for logging and correlation purposes.
var (
	machineID  uint64
	processID  uint32
	idSequence atomic.Uint64
)

func init() {
	// Random UUIDs rather than hardware addresses: stable enough for
	// correlation, and never blocks on interface enumeration.
	m := uuid.New()
	p := uuid.New()
	machineID = binary.BigEndian.Uint64(m[:8])
	processID = binary.BigEndian.Uint32(p[:4])
}

// ChannelID is a process-unique channel identity.
//
// The zero value is reserved as "no ID"; valid IDs are produced by
// [NewChannelID] exactly once per channel at construction and never mutated.
// ChannelID is comparable (usable as a map key) and totally ordered via
// [ChannelID.Compare] for deterministic sorting.
type ChannelID struct {
	machine  uint64
	process  uint32
	sequence uint64
}

// NewChannelID returns the next process-unique channel identity.
func NewChannelID() ChannelID {
	return ChannelID{
		machine:  machineID,
		process:  processID,
		sequence: idSequence.Add(1),
	}
}

// IsZero reports whether the ID is the reserved zero identity.
func (id ChannelID) IsZero() bool {
	return id == ChannelID{}
}

// Compare returns -1, 0, or 1 ordering IDs lexicographically by machine,
// process, then sequence. The ordering is total and stable for the lifetime
// of the process.
func (id ChannelID) Compare(other ChannelID) int {
	switch {
	case id.machine < other.machine:
		return -1
	case id.machine > other.machine:
		return 1
	case id.process < other.process:
		return -1
	case id.process > other.process:
		return 1
	case id.sequence < other.sequence:
		return -1
	case id.sequence > other.sequence:
		return 1
	}
	return 0
}

// String returns the short text form, unique within this process.
func (id ChannelID) String() string {
	return fmt.Sprintf("%08x", id.sequence)
}

// LongString returns the globally-correlatable long text form, combining
// machine identity, process entropy, and the sequence number.
func (id ChannelID) LongString() string {
	return fmt.Sprintf("%016x-%08x-%08x", id.machine, id.process, id.sequence)
}
