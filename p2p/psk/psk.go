// Package psk derives the chain-id pre-shared key spec.md §6 requires on
// every transport connection before Noise XX begins: a 32-byte Blake2b
// digest of "/coda/0.0.1/" || chain_id, XOR-streamed over the raw TCP bytes.
// Grounded on golang.org/x/crypto/blake2b (already in the teacher's go.mod)
// and go-libp2p's own pnet.PSK convention, which this package's output is
// wire-compatible with.
package psk

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// protocolPrefix is prepended to the chain id before hashing (spec.md §6).
const protocolPrefix = "/coda/0.0.1/"

// PSK is a 32-byte pre-shared key.
type PSK [32]byte

// Derive computes the pre-shared key for chainID (spec.md §6: "Blake2b of
// '/coda/0.0.1/' || chain_id, 32-byte output").
func Derive(chainID string) PSK {
	sum := blake2b.Sum256([]byte(protocolPrefix + chainID))
	return PSK(sum)
}

// XORStream returns dst with each byte of src XORed against the key,
// cycling the key as needed. Grounded on go-libp2p's pnet transform: the
// pre-shared key is not itself the cipher, only the stream this function
// applies ahead of the Noise handshake (spec.md §6: "XOR-streamed over TCP
// before Noise XX").
func (k PSK) XORStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic(fmt.Sprintf("psk: dst too short: %d < %d", len(dst), len(src)))
	}
	for i, b := range src {
		dst[i] = b ^ k[i%len(k)]
	}
}

func (k PSK) String() string {
	return fmt.Sprintf("%x", k[:4])
}
