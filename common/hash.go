// Package common holds the data-model types shared across the bootstrap
// engine: state hashes, the protocol-state/block shape, accounts and Merkle
// addresses. None of these types carry behavior beyond (de)serialization and
// equality; the components in rpc/, sync/ and stagedledger/ operate on them.
package common

import (
	"encoding/hex"
	"errors"
)

// HashSize is the width of every hash used on the wire: state hashes, ledger
// hashes and account hashes are all single field elements serialized as 32
// bytes.
const HashSize = 32

// Hash is a fixed-size opaque hash. The concrete hash function (Poseidon,
// for Mina's field elements) lives entirely on the other side of the
// external collaborators named in spec.md §1 (the Merkle account database
// and the staged-ledger apply function); this type only ever carries bytes
// produced by those collaborators or read off the wire.
type Hash [HashSize]byte

// ErrBadHashLength is returned when decoding a hash from a byte slice whose
// length does not match HashSize.
var ErrBadHashLength = errors.New("common: hash must be exactly 32 bytes")

// HashFromBytes copies b into a Hash, failing if the length is wrong.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrBadHashLength
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used to detect an
// uninitialized field before the first handshake completes).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// StateHash identifies a protocol state (equivalently, a block) by the hash
// of its protocol_state value.
type StateHash = Hash

// LedgerHash identifies the root of a Merkle ledger (snarked or staged).
type LedgerHash = Hash

// StateBodyHash identifies the body-only portion of a protocol state, used
// in ancestry proofs (spec.md §6, get_ancestry).
type StateBodyHash = Hash
