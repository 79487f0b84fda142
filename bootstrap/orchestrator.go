// Package bootstrap implements component F of spec.md §4.F: the top-level
// state machine driving menu handshake through snarked-ledger sync, aux
// fetch, backfill and replay, to steady-state gossip following. Grounded on
// original_source/bootstrap-sandbox/src/{bootstrap,record,replay,check}.rs,
// whose single linear `run`/`again`/`test` functions this package splits
// into named phases the way a long-lived Go service would.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/session"
	"github.com/openmina-labs/bootstrap-go/stagedledger"
	"github.com/openmina-labs/bootstrap-go/sync/backfill"
	"github.com/openmina-labs/bootstrap-go/sync/ledger"
)

// bestTipRetryInterval is spec.md §4.F's AwaitingBestTip retry delay
// ("response is None -> sleep 30s, retry").
var bestTipRetryInterval = 30 * time.Second

// maxBestTipRetries is spec.md §8 S2's retry cap: "after 5 retries, fail
// over to next peer."
const maxBestTipRetries = 5

// peerAdvancer lets the orchestrator force a PeerPool to rotate past a
// peer that keeps answering GetBestTip with None, without widening the
// Peer interface every other caller (tests, rpc/client) must satisfy.
type peerAdvancer interface {
	AdvanceCurrent()
}

// Hasher is the external protocol-state hashing collaborator spec.md §1
// treats as out of scope for this engine; the orchestrator calls it
// exactly once per freshly received protocol state, then relies on
// ProtocolState's own memoization for every subsequent read.
type Hasher func(common.ProtocolStateBody) common.StateHash

// GossipSource yields raw gossip message payloads once the orchestrator
// reaches the Following state (spec.md §4.F's gossip filter). A nil
// GossipSource means Run returns as soon as Replaying completes, useful
// for tests and for the `again`/`replay` offline paths that never follow
// live gossip.
type GossipSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// DumpableStore is the on-disk Merkle store as the orchestrator drives it:
// sync/ledger.Store's reconciliation surface, plus the account enumeration
// needed to persist a ledger dump after reconciliation (spec.md §6:
// "<height>/ledgers/<hash>", "<height>/current_ledger.bin").
type DumpableStore interface {
	ledger.Store
	AccountAt(index uint64) (common.Account, bool, error)
	NumAccounts() (uint32, error)
}

// Config bundles everything one Orchestrator run needs.
type Config struct {
	Peer              Peer
	LedgerStore       DumpableStore
	LedgerCacheBytes  int
	BackfillDir       string
	BackfillCacheSize int
	Builder           stagedledger.Builder
	Apply             stagedledger.ApplyFunc
	Constants         stagedledger.ConstraintConstants
	Session           *session.Session
	Hasher            Hasher
	Gossip            GossipSource
	Record            bool
	Logger            log.Logger
}

// Orchestrator drives one bootstrap session end to end.
type Orchestrator struct {
	cfg   Config
	state State

	tip               common.Block
	tipHash           common.StateHash
	snarked           common.Block
	snarkedHash       common.StateHash
	aux               *methods.StagedLedgerAux
	applier           *stagedledger.Applier
	lastAppliedHeight uint32
}

// New builds an Orchestrator starting in the Dialing state.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = log.Noop()
	}
	return &Orchestrator{cfg: cfg, state: Dialing}
}

// State returns the orchestrator's current phase.
func (o *Orchestrator) State() State { return o.state }

// transition logs and records a state-machine move (spec.md §4.F's
// transition table).
func (o *Orchestrator) transition(to State, reason string) {
	o.cfg.Logger.Info("bootstrap: transition", "from", o.state, "to", to, "reason", reason)
	o.state = to
}

// Run drives the orchestrator through every phase of spec.md §4.F's
// transition table. With a nil Gossip source it returns once Replaying
// completes (the Following state is entered but never polled); otherwise
// it blocks following gossip until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.transition(AwaitingBestTip, "handshake done")

	noneRetries := 0
	for {
		proof, err := o.cfg.Peer.GetBestTip(ctx)
		if err != nil {
			return ierrors.New(ierrors.KindTransport, "bootstrap.get_best_tip", err)
		}
		if proof == nil {
			noneRetries++
			if noneRetries >= maxBestTipRetries {
				if adv, ok := o.cfg.Peer.(peerAdvancer); ok {
					o.cfg.Logger.Info("bootstrap: peer has no best tip after max retries, failing over", "retries", noneRetries)
					adv.AdvanceCurrent()
					noneRetries = 0
				}
			}
			o.cfg.Logger.Info("bootstrap: peer has no best tip yet, retrying", "sleep", bestTipRetryInterval)
			select {
			case <-ctx.Done():
				return ierrors.New(ierrors.KindCancelled, "bootstrap.await_best_tip", ctx.Err())
			case <-time.After(bestTipRetryInterval):
			}
			continue
		}
		o.tip = proof.Data
		o.snarked = proof.Proof.Root
		o.tip.Header.ProtocolState.SetKnownHash(o.hash(o.tip.Header.ProtocolState.Body))
		o.snarked.Header.ProtocolState.SetKnownHash(o.hash(o.snarked.Header.ProtocolState.Body))
		o.tipHash = o.tip.Header.ProtocolState.Hash(nil)
		o.snarkedHash = o.snarked.Header.ProtocolState.Hash(nil)

		if o.cfg.Record && o.cfg.Session != nil {
			if err := session.WriteBlob(o.cfg.Session.BestTipPath(o.tip.Height()), methods.EncodeGetBestTipResponse(proof)); err != nil {
				return ierrors.New(ierrors.KindTransport, "bootstrap.record_best_tip", err)
			}
		}
		break
	}

	if o.cfg.Record && o.cfg.Session != nil {
		ancestry, err := o.cfg.Peer.GetAncestry(ctx, methods.GetAncestryQuery{
			Hash:      o.tipHash,
			Consensus: o.tip.Header.ProtocolState.Body.ConsensusState,
		})
		if err != nil {
			return ierrors.New(ierrors.KindTransport, "bootstrap.get_ancestry", err)
		}
		if ancestry != nil {
			if err := session.WriteBlob(o.cfg.Session.AncestryPath(o.tip.Height()), methods.EncodeGetAncestryResponse(ancestry)); err != nil {
				return ierrors.New(ierrors.KindTransport, "bootstrap.record_ancestry", err)
			}
		}
	}

	snarkedLedgerHash := o.snarked.Header.ProtocolState.Body.BlockchainState.LedgerProofStatement.Target.FirstPassLedger
	o.transition(SyncingLedger, "best tip received")
	reconciler := ledger.New(o.cfg.LedgerStore, o.cfg.Peer, o.ledgerCacheBytes(), o.cfg.Logger)
	if err := reconciler.Reconcile(ctx, snarkedLedgerHash); err != nil {
		return err
	}
	if o.cfg.Record && o.cfg.Session != nil {
		if err := o.dumpLedger(snarkedLedgerHash); err != nil {
			return err
		}
	}

	o.transition(FetchingStagedAux, "reconciler completed")
	aux, err := o.cfg.Peer.GetStagedLedgerAux(ctx, o.snarkedHash)
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.get_staged_ledger_aux", err)
	}
	o.aux = aux
	if o.cfg.Record && o.cfg.Session != nil && aux != nil {
		if err := session.WriteBlob(o.cfg.Session.StagedLedgerAuxPath(o.tip.Height()), methods.EncodeGetStagedLedgerAuxResponse(aux)); err != nil {
			return ierrors.New(ierrors.KindTransport, "bootstrap.record_staged_ledger_aux", err)
		}
	}

	o.transition(Backfilling, "aux received, begin backfill")
	bf, err := backfill.New(o.cfg.Peer, o.cfg.BackfillDir, o.cfg.BackfillCacheSize, o.cfg.Logger)
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.backfill_new", err)
	}
	blocks, err := bf.Walk(ctx, o.tip, o.tipHash, o.snarked.Height())
	if err != nil {
		return err
	}

	o.transition(Replaying, "all blocks collected")
	o.applier = stagedledger.New(o.cfg.Builder, o.cfg.Apply, o.cfg.Constants, o.cfg.Logger)
	if aux == nil {
		return ierrors.New(ierrors.KindLogical, "bootstrap.replaying", fmt.Errorf("peer returned no staged ledger aux"))
	}
	if err := o.applier.Initialize(*aux, &o.snarked.Header.ProtocolState); err != nil {
		return err
	}
	if err := o.applier.ApplyAll(blocks, stagedledger.PrevStateView{}, false); err != nil {
		return err
	}
	o.lastAppliedHeight = o.tip.Height()

	o.transition(Following, "all applied, spawn gossip listener")
	if o.cfg.Gossip == nil {
		return nil
	}
	return o.followGossip(ctx)
}

func (o *Orchestrator) hash(body common.ProtocolStateBody) common.StateHash {
	if o.cfg.Hasher == nil {
		return common.StateHash{}
	}
	return o.cfg.Hasher(body)
}

// dumpLedger persists every account the reconciler just reconstructed
// under "<height>/ledgers/<hash>" and mirrors it to
// "<height>/current_ledger.bin" (spec.md §6), so the `replay` side can
// later answer AnswerSyncLedgerQuery from this cache alone (spec.md §4.F
// / §8 S5).
func (o *Orchestrator) dumpLedger(ledgerHash fmt.Stringer) error {
	n, err := o.cfg.LedgerStore.NumAccounts()
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.dump_ledger.num_accounts", err)
	}
	accounts := make([]common.Account, 0, n)
	for i := uint64(0); i < uint64(n); i++ {
		account, ok, err := o.cfg.LedgerStore.AccountAt(i)
		if err != nil {
			return ierrors.New(ierrors.KindTransport, "bootstrap.dump_ledger.account_at", err)
		}
		if !ok {
			return ierrors.New(ierrors.KindIntegrity, "bootstrap.dump_ledger",
				fmt.Errorf("account %d missing right after a successful reconcile", i))
		}
		accounts = append(accounts, account)
	}

	height := o.tip.Height()
	if err := session.WriteJSON(o.cfg.Session.LedgerDumpPath(height, ledgerHash), accounts); err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.dump_ledger.write", err)
	}
	if err := session.WriteJSON(o.cfg.Session.CurrentLedgerPath(height), accounts); err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.dump_ledger.write_current", err)
	}
	return nil
}

func (o *Orchestrator) ledgerCacheBytes() int {
	if o.cfg.LedgerCacheBytes > 0 {
		return o.cfg.LedgerCacheBytes
	}
	return 4 << 20
}

// followGossip implements the Following -> Following self-loop: dedupe by
// height, apply only strictly newer blocks (spec.md §4.F).
func (o *Orchestrator) followGossip(ctx context.Context) error {
	for {
		payload, err := o.cfg.Gossip.Next(ctx)
		if err != nil {
			return ierrors.New(ierrors.KindCancelled, "bootstrap.follow_gossip", err)
		}
		if len(payload) == 0 {
			o.cfg.Logger.Debug("bootstrap: dropping empty gossip message")
			continue
		}
		if payload[0] != methods.GossipVariantNewState {
			o.cfg.Logger.Debug("bootstrap: ignoring gossip variant", "tag", payload[0])
			continue
		}
		blk, err := methods.DecodeBlockBytes(payload[1:])
		if err != nil {
			o.cfg.Logger.Warn("bootstrap: dropping malformed gossip message", "err", err)
			continue
		}
		blk.Header.ProtocolState.SetKnownHash(o.hash(blk.Header.ProtocolState.Body))
		if blk.Height() <= o.lastAppliedHeight {
			o.cfg.Logger.Debug("bootstrap: dropping stale gossip block", "height", blk.Height(), "last_applied", o.lastAppliedHeight)
			continue
		}
		if err := o.applier.ApplyBlock(blk, stagedledger.PrevStateView{}, false); err != nil {
			return err
		}
		o.lastAppliedHeight = blk.Height()
		o.cfg.Logger.Info("bootstrap: applied gossiped block", "height", blk.Height())
	}
}
