package bootstrap

import (
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/sync/ledger"
)

// EmptyLedgerHash wipes store and returns the resulting root hash: the hash
// of the empty, all-zero-account ledger at depth common.LedgerDepth. It
// never touches the network, so `empty` can smoke-test the on-disk Merkle
// account database (store itself, per spec.md §1) in isolation.
func EmptyLedgerHash(store ledger.Store) (string, error) {
	if err := store.Wipe(); err != nil {
		return "", ierrors.New(ierrors.KindTransport, "bootstrap.empty.wipe", err)
	}
	root, err := store.MerkleRoot()
	if err != nil {
		return "", ierrors.New(ierrors.KindTransport, "bootstrap.empty.merkle_root", err)
	}
	return root.String(), nil
}
