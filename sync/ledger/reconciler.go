// Package ledger implements component C of spec.md §4.C: a recursive,
// hash-pruned reconstruction of a sparse Merkle ledger from a peer,
// grounded on original_source/bootstrap-sandbox/src/snarked_ledger.rs's
// sync_at_depth. The on-disk Merkle account database itself is an external
// collaborator (spec.md §1); this package only drives it through the small
// Store interface below.
package ledger

import (
	"context"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"golang.org/x/sync/errgroup"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// Store is the on-disk Merkle account database this reconciler drives
// (spec.md §1: "consumed as set_at_index, get_inner_hash_at_addr,
// merkle_root"). fetchChildren descends both children of a node
// concurrently over disjoint leaf-address subtrees, so implementations must
// tolerate SetAtIndex and InnerHashAt being called from two goroutines at
// once. MerkleRoot is only ever called after every descent has returned, so
// it never overlaps a SetAtIndex call.
type Store interface {
	// InnerHashAt returns the locally-known hash at addr, or ok=false if
	// this subtree has never been populated.
	InnerHashAt(addr common.MerkleAddr) (hash common.Hash, ok bool, err error)
	// SetAtIndex writes a single leaf account at its absolute account
	// index (addr.Prefix interpreted as a big-endian leaf-chunk position
	// times 8, plus the account's offset within the chunk).
	SetAtIndex(index uint64, account common.Account) error
	// MerkleRoot returns the current root hash of the whole tree.
	MerkleRoot() (common.Hash, error)
	// Wipe discards all contents, used when the on-disk root disagrees
	// with the peer's advertised root before reconciliation starts.
	Wipe() error
}

// Querier issues answer_sync_ledger_query RPCs against a single peer.
type Querier interface {
	AnswerSyncLedgerQuery(ctx context.Context, q methods.SyncQuery) (methods.SyncAnswer, error)
}

// Reconciler drives the algorithm of spec.md §4.C against one Store and one
// peer Querier.
type Reconciler struct {
	store  Store
	peer   Querier
	logger log.Logger

	// leafDepth is the depth at which the recursion switches from
	// WhatChildHashes to WhatContents (common.LeafChunkDepth in
	// production; overridable so tests can exercise the algorithm over a
	// tractably small tree).
	leafDepth int64
	// chunkSize is the number of accounts answered per WhatContents call
	// (common.LeafChunkSize in production; overridable for tests).
	chunkSize uint64

	// hashCache memoizes InnerHashAt lookups across the recursion, keyed
	// on the wire-encoded Merkle address (spec.md domain-stack note:
	// fastcache backs this since the Store itself may be a disk-backed
	// mask with no cache of its own).
	hashCache *fastcache.Cache
}

// New builds a Reconciler. cacheBytes sizes the inner-hash memoization
// cache; callers with no particular budget can pass a few megabytes.
func New(store Store, peer Querier, cacheBytes int, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Noop()
	}
	return &Reconciler{
		store:     store,
		peer:      peer,
		logger:    logger,
		leafDepth: common.LeafChunkDepth,
		chunkSize: common.LeafChunkSize,
		hashCache: fastcache.New(cacheBytes),
	}
}

func addrKey(addr common.MerkleAddr) []byte {
	key := make([]byte, 0, 5)
	key = append(key, byte(addr.Depth))
	key = append(key, addr.Prefix...)
	return key
}

func (r *Reconciler) localHashAt(addr common.MerkleAddr) (common.Hash, bool, error) {
	if cached, ok := r.hashCache.HasGet(nil, addrKey(addr)); ok {
		h, err := common.HashFromBytes(cached)
		return h, true, err
	}
	hash, ok, err := r.store.InnerHashAt(addr)
	if err != nil || !ok {
		return hash, ok, err
	}
	r.hashCache.Set(addrKey(addr), hash[:])
	return hash, true, nil
}

func (r *Reconciler) invalidate(addr common.MerkleAddr) {
	r.hashCache.Del(addrKey(addr))
}

// Reconcile reconstructs the account ledger identified by expectedRoot,
// wiping any existing local contents that disagree with the peer's current
// root before walking down (spec.md §4.C: "if the top hash disagrees with
// the current on-disk ledger the reconciler wipes it").
func (r *Reconciler) Reconcile(ctx context.Context, expectedRoot common.LedgerHash) error {
	answer, err := r.peer.AnswerSyncLedgerQuery(ctx, methods.SyncQuery{
		LedgerHash: expectedRoot,
		Kind:       methods.SyncQueryNumAccounts,
	})
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.num_accounts", err)
	}
	if err := checkAnswerKind(answer, methods.SyncAnswerNumAccountsAre); err != nil {
		return err
	}

	rootAddr := common.MerkleAddr{Depth: 0}
	if local, ok, err := r.localHashAt(rootAddr); err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.local_root", err)
	} else if !ok || local != expectedRoot {
		r.logger.Info("ledger: wiping local snapshot, root disagrees with peer", "expected", expectedRoot, "local_known", ok)
		if err := r.store.Wipe(); err != nil {
			return ierrors.New(ierrors.KindTransport, "ledger.wipe", err)
		}
		r.hashCache.Reset()
	}

	if err := r.reconcileAt(ctx, expectedRoot, rootAddr); err != nil {
		return err
	}

	actual, err := r.store.MerkleRoot()
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.merkle_root", err)
	}
	if actual != expectedRoot {
		return ierrors.IntegrityMismatch("ledger.reconcile", expectedRoot, actual)
	}
	return nil
}

// reconcileAt implements the depth-first, hash-pruned descent of spec.md
// §4.C's algorithm at a single Merkle address.
func (r *Reconciler) reconcileAt(ctx context.Context, expected common.Hash, addr common.MerkleAddr) error {
	if local, ok, err := r.localHashAt(addr); err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.local_hash", err)
	} else if ok && local == expected {
		return nil
	}

	if addr.Depth == r.leafDepth {
		if err := r.fetchLeafChunk(ctx, expected, addr); err != nil {
			return err
		}
	} else {
		if err := r.fetchChildren(ctx, expected, addr); err != nil {
			return err
		}
	}

	r.invalidate(addr)
	actual, ok, err := r.localHashAt(addr)
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.local_hash", err)
	}
	if !ok || actual != expected {
		return ierrors.IntegrityMismatch(fmt.Sprintf("ledger.reconcile[depth=%d]", addr.Depth), expected, actual)
	}
	return nil
}

func (r *Reconciler) fetchLeafChunk(ctx context.Context, expected common.Hash, addr common.MerkleAddr) error {
	answer, err := r.peer.AnswerSyncLedgerQuery(ctx, methods.SyncQuery{
		LedgerHash: expected,
		Kind:       methods.SyncQueryWhatContents,
		Addr:       addr,
	})
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.what_contents", err)
	}
	if err := checkAnswerKind(answer, methods.SyncAnswerContentsAre); err != nil {
		return err
	}
	pos := leafPosition(addr)
	for i, account := range answer.Accounts {
		if err := r.store.SetAtIndex(pos*r.chunkSize+uint64(i), account); err != nil {
			return ierrors.New(ierrors.KindTransport, "ledger.set_at_index", err)
		}
	}
	return nil
}

func (r *Reconciler) fetchChildren(ctx context.Context, expected common.Hash, addr common.MerkleAddr) error {
	answer, err := r.peer.AnswerSyncLedgerQuery(ctx, methods.SyncQuery{
		LedgerHash: expected,
		Kind:       methods.SyncQueryWhatChildHashes,
		Addr:       addr,
	})
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "ledger.what_child_hashes", err)
	}
	if err := checkAnswerKind(answer, methods.SyncAnswerChildHashesAre); err != nil {
		return err
	}

	pos := leafPosition(addr)
	leftAddr := common.NewMerkleAddr(addr.Depth+1, pos*2)
	rightAddr := common.NewMerkleAddr(addr.Depth+1, pos*2+1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.reconcileAt(gctx, answer.Left, leftAddr) })
	g.Go(func() error { return r.reconcileAt(gctx, answer.Right, rightAddr) })
	return g.Wait()
}

// leafPosition recovers the integer position addr encodes, the inverse of
// common.NewMerkleAddr's shift.
func leafPosition(addr common.MerkleAddr) uint64 {
	var padded [4]byte
	copy(padded[:], addr.Prefix)
	raw := uint64(padded[0])<<24 | uint64(padded[1])<<16 | uint64(padded[2])<<8 | uint64(padded[3])
	shift := uint(32 - addr.Depth)
	return raw >> shift
}

func checkAnswerKind(answer methods.SyncAnswer, want methods.SyncAnswerKind) error {
	if answer.Kind == methods.SyncAnswerCouldNotConstruct {
		return ierrors.New(ierrors.KindLogical, "ledger.answer", fmt.Errorf("%w: %s", ierrors.ErrCouldNotConstruct, answer.Reason))
	}
	if answer.Kind != want {
		return ierrors.New(ierrors.KindProtocol, "ledger.answer", fmt.Errorf("unexpected answer kind %d, want %d", answer.Kind, want))
	}
	return nil
}
