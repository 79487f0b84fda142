package bootstrap

import (
	"context"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/sync/backfill"
	"github.com/openmina-labs/bootstrap-go/sync/ledger"
)

// Peer is every RPC the orchestrator issues against a single connected
// peer, across all six bootstrap phases (spec.md §4.F). It composes the
// narrower interfaces sync/ledger and sync/backfill already define so a
// single rpc/stream-backed client satisfies all three.
type Peer interface {
	ledger.Querier
	backfill.Peer

	GetBestTip(ctx context.Context) (*methods.ProofCarryingData, error)
	GetAncestry(ctx context.Context, q methods.GetAncestryQuery) (*methods.AncestryProof, error)
	GetStagedLedgerAux(ctx context.Context, hash common.StateHash) (*methods.StagedLedgerAux, error)
	GetSomeInitialPeers(ctx context.Context) ([]methods.PeerAddr, error)
}
