package common

// LedgerDepth is the fixed depth of the snarked-ledger Merkle tree (spec.md
// §3). Leaf chunks are answered eight accounts at a time, so the last three
// levels are never individually addressed by WhatChildHashes.
const LedgerDepth = 35

// LeafChunkDepth is the depth at which the reconciler switches from
// WhatChildHashes to WhatContents, fetching a full chunk of LeafChunkSize
// accounts at once (spec.md §4.C).
const LeafChunkDepth = LedgerDepth - 3

// LeafChunkSize is the number of accounts in one leaf chunk.
const LeafChunkSize = 8

// MerkleAddr is a coordinate inside the fixed-depth account tree: a depth
// and a big-endian bit-prefix of the path from the root, encoded on the wire
// as (depth+7)/8 bytes capped at 4 (spec.md §4.C, §6).
type MerkleAddr struct {
	Depth  int64
	Prefix []byte
}

// NewMerkleAddr builds the wire-format address for the node at the given
// depth and index along that level (index counts nodes left-to-right at
// that depth, matching the reconciler's (depth, path) pair).
func NewMerkleAddr(depth int64, index uint64) MerkleAddr {
	nbytes := int((depth + 7) / 8)
	if nbytes > 4 {
		nbytes = 4
	}
	// The index is shifted so that bit 0 of the prefix lines up with the
	// most significant bit of the path, mirroring the original
	// big-endian-prefix encoding (sync_ledger.rs: `pos * (1 << (32 - depth))`).
	shifted := index << (32 - uint(depth))
	buf := make([]byte, 4)
	buf[0] = byte(shifted >> 24)
	buf[1] = byte(shifted >> 16)
	buf[2] = byte(shifted >> 8)
	buf[3] = byte(shifted)
	return MerkleAddr{Depth: depth, Prefix: buf[:nbytes]}
}

// LeafAddr builds the wire-format address for a leaf chunk at chunk index
// pos (i.e. accounts [pos*8, pos*8+8)), using the full one-byte-per-8-bits
// big-endian prefix as the reference implementation does at the leaf depth.
func LeafAddr(pos uint32) MerkleAddr {
	buf := []byte{byte(pos >> 24), byte(pos >> 16), byte(pos >> 8), byte(pos)}
	return MerkleAddr{Depth: LeafChunkDepth, Prefix: buf}
}
