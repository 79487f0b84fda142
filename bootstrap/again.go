package bootstrap

import (
	"context"
	"fmt"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/session"
	"github.com/openmina-labs/bootstrap-go/stagedledger"
	"github.com/openmina-labs/bootstrap-go/sync/backfill"
)

// offlinePeer implements backfill.Peer by always failing, so Again never
// touches the network and relies entirely on what was already recorded
// under blocks/ (spec.md: "re-run the apply phase of a previously recorded
// session from disk without re-fetching anything over the network",
// original_source/bootstrap-sandbox/src/bootstrap.rs::again).
type offlinePeer struct{}

func (offlinePeer) GetTransitionChain(ctx context.Context, hashes []common.StateHash) ([]common.Block, error) {
	return nil, fmt.Errorf("bootstrap: again runs offline, no predecessor for %v was cached", hashes)
}

func (offlinePeer) GetTransitionChainProof(ctx context.Context, hash common.StateHash) (*methods.TransitionChainProof, error) {
	return nil, fmt.Errorf("bootstrap: again runs offline")
}

// AgainConfig bundles the collaborators Again needs to redo the Replaying
// phase of a previously recorded session.
type AgainConfig struct {
	Session           *session.Session
	BackfillCacheSize int
	Builder           stagedledger.Builder
	Apply             stagedledger.ApplyFunc
	Constants         stagedledger.ConstraintConstants
	Hasher            Hasher
	Logger            log.Logger
}

// Again re-applies the blocks of a previously recorded session at height,
// without any network access: it reloads best_tip and staged_ledger_aux
// from disk, and walks blocks/ purely from the local cache (spec.md
// supplemented feature: the `again` CLI subcommand).
func Again(ctx context.Context, cfg AgainConfig, height uint32) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Noop()
	}

	bestTipData, ok, err := session.ReadBlob(cfg.Session.BestTipPath(height))
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.again.read_best_tip", err)
	}
	if !ok {
		return ierrors.New(ierrors.KindLogical, "bootstrap.again", fmt.Errorf("no best_tip recorded at height %d", height))
	}
	proof, err := methods.DecodeGetBestTipResponse(bestTipData)
	if err != nil {
		return ierrors.New(ierrors.KindProtocol, "bootstrap.again.decode_best_tip", err)
	}
	if proof == nil {
		return ierrors.New(ierrors.KindLogical, "bootstrap.again", fmt.Errorf("recorded best_tip at height %d is empty", height))
	}

	tip := proof.Data
	snarked := proof.Proof.Root
	tip.Header.ProtocolState.SetKnownHash(cfg.hash(tip.Header.ProtocolState.Body))
	snarked.Header.ProtocolState.SetKnownHash(cfg.hash(snarked.Header.ProtocolState.Body))
	tipHash := tip.Header.ProtocolState.Hash(nil)

	auxData, ok, err := session.ReadBlob(cfg.Session.StagedLedgerAuxPath(height))
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.again.read_aux", err)
	}
	if !ok {
		return ierrors.New(ierrors.KindLogical, "bootstrap.again", fmt.Errorf("no staged_ledger_aux recorded at height %d", height))
	}
	aux, err := methods.DecodeGetStagedLedgerAuxResponse(auxData)
	if err != nil {
		return ierrors.New(ierrors.KindProtocol, "bootstrap.again.decode_aux", err)
	}
	if aux == nil {
		return ierrors.New(ierrors.KindLogical, "bootstrap.again", fmt.Errorf("recorded staged_ledger_aux at height %d is empty", height))
	}

	bf, err := backfill.New(offlinePeer{}, cfg.Session.BlocksDir(), cfg.backfillCacheSize(), logger)
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.again.backfill_new", err)
	}
	blocks, err := bf.Walk(ctx, tip, tipHash, snarked.Height())
	if err != nil {
		return err
	}

	applier := stagedledger.New(cfg.Builder, cfg.Apply, cfg.Constants, logger)
	if err := applier.Initialize(*aux, &snarked.Header.ProtocolState); err != nil {
		return err
	}
	return applier.ApplyAll(blocks, stagedledger.PrevStateView{}, false)
}

func (cfg AgainConfig) hash(body common.ProtocolStateBody) common.StateHash {
	if cfg.Hasher == nil {
		return common.StateHash{}
	}
	return cfg.Hasher(body)
}

func (cfg AgainConfig) backfillCacheSize() int {
	if cfg.BackfillCacheSize > 0 {
		return cfg.BackfillCacheSize
	}
	return 256
}
