// Package identity manages the bootstrap client's libp2p peer identity:
// generating or loading an Ed25519 keypair, and decoding the
// OPENMINA_P2P_SEC_KEY environment variable (spec.md §6). Grounded on
// go-libp2p's core/crypto Ed25519 key type, and on
// orbas1-Synnergy/synnergy-network's use of mr-tron/base58 for wire-format
// key encoding.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mr-tron/base58"

	"github.com/openmina-labs/bootstrap-go/log"
)

// checksum computes the 4-byte double-SHA256 checksum base58check appends,
// the same scheme Bitcoin-style address encodings use. mr-tron/base58 only
// implements the plain base58 alphabet, not the checksum framing, so this
// package layers it on top (DESIGN.md: base58check decode).
func checksum(payload []byte) []byte {
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	return h2[:4]
}

func encodeBase58Check(payload []byte) string {
	full := append(append([]byte{}, payload...), checksum(payload)...)
	return base58.Encode(full)
}

func decodeBase58Check(encoded string) ([]byte, error) {
	full, err := base58.Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(full) < 4 {
		return nil, fmt.Errorf("identity: base58check payload too short")
	}
	payload, sum := full[:len(full)-4], full[len(full)-4:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, fmt.Errorf("identity: base58check checksum mismatch")
	}
	return payload, nil
}

// EnvKey is the environment variable spec.md §6 names for supplying a
// pre-existing private key.
const EnvKey = "OPENMINA_P2P_SEC_KEY"

// KeySize is the width of the raw Ed25519 private key this package
// persists to the session's identity file (spec.md §6: "64-byte Ed25519
// keypair").
const KeySize = ed25519.PrivateKeySize

// Identity wraps the libp2p private key; RawSeed derives the raw Ed25519
// form used for on-disk persistence and base58check encoding.
type Identity struct {
	Priv p2pcrypto.PrivKey
}

// PeerID returns the libp2p peer id derived from the private key.
func (id Identity) PeerID() (string, error) {
	pid, err := peer.IDFromPrivateKey(id.Priv)
	if err != nil {
		return "", err
	}
	return pid.String(), nil
}

// RawSeed returns the 64-byte Ed25519 private key (seed || public key), the
// form persisted under the session's "identity" file.
func (id Identity) RawSeed() ([]byte, error) {
	raw, err := id.Priv.Raw()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Generate creates a fresh Ed25519 identity.
func Generate() (Identity, error) {
	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Priv: priv}, nil
}

// FromRawSeed rebuilds an Identity from a persisted 64-byte Ed25519 key.
func FromRawSeed(raw []byte) (Identity, error) {
	if len(raw) != KeySize {
		return Identity{}, fmt.Errorf("identity: raw key must be %d bytes, got %d", KeySize, len(raw))
	}
	priv, err := p2pcrypto.UnmarshalEd25519PrivateKey(raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Priv: priv}, nil
}

// FromBase58Check decodes a base58check-encoded Ed25519 private key, the
// format OPENMINA_P2P_SEC_KEY carries (spec.md §6).
func FromBase58Check(encoded string) (Identity, error) {
	raw, err := decodeBase58Check(encoded)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: bad base58check: %w", err)
	}
	return FromRawSeed(raw)
}

// ToBase58Check encodes id's raw key the way OPENMINA_P2P_SEC_KEY expects
// it, for logging or re-exporting a generated key.
func ToBase58Check(id Identity) (string, error) {
	raw, err := id.RawSeed()
	if err != nil {
		return "", err
	}
	return encodeBase58Check(raw), nil
}

// Load reads the identity file at path, matching spec.md §6's on-disk
// layout ("identity — 64-byte Ed25519 keypair").
func Load(path string) (Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}
	return FromRawSeed(raw)
}

// Save persists id's raw key to path.
func Save(path string, id Identity) error {
	raw, err := id.RawSeed()
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Resolve implements spec.md §6's identity resolution order: prefer
// OPENMINA_P2P_SEC_KEY if set, else load path, else generate and persist a
// fresh key, logging it ("if unset, a fresh key is generated and logged").
func Resolve(path string, logger log.Logger) (Identity, error) {
	if logger == nil {
		logger = log.Noop()
	}
	if env := os.Getenv(EnvKey); env != "" {
		return FromBase58Check(env)
	}
	if id, err := Load(path); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		return Identity{}, err
	}

	id, err := Generate()
	if err != nil {
		return Identity{}, err
	}
	peerID, err := id.PeerID()
	if err != nil {
		return Identity{}, err
	}
	logger.Info("identity: generated fresh peer key", "peer_id", peerID)
	if err := Save(path, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}
