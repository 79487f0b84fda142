// Package backfill implements component D of spec.md §4.D: walking the
// predecessor chain from the best tip down to the snarked-ledger height,
// caching every block by hash on disk and in memory. The walk itself is
// grounded on the teacher's skeleton downloader
// (A-Chain-AChain-smart-contract/eth/downloader/skeleton.go): a
// disk-backed, restart-safe progress record plus a bounded in-memory
// scratch cache, adapted from header-chain sync to the simpler
// single-peer predecessor walk this spec calls for.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// ErrGap is returned when a predecessor hash cannot be resolved to any
// block the peer is willing to supply (spec.md §4.D: "a gap in
// predecessor hashes aborts the session").
var ErrGap = errors.New("backfill: gap in predecessor chain")

// Peer is the subset of RPC methods the backfiller needs.
type Peer interface {
	GetTransitionChain(ctx context.Context, hashes []common.StateHash) ([]common.Block, error)
	GetTransitionChainProof(ctx context.Context, hash common.StateHash) (*methods.TransitionChainProof, error)
}

// diskStore is the on-disk layout of spec.md §6: blocks/<height>/<hash> plus
// a blocks/table.json side index mapping hash to height.
type diskStore struct {
	dir   string
	table map[string]uint32 // hex hash -> height, mirrors table.json
}

func openDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ds := &diskStore{dir: dir, table: map[string]uint32{}}
	tablePath := ds.tablePath()
	data, err := os.ReadFile(tablePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ds, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &ds.table); err != nil {
		return nil, err
	}
	return ds, nil
}

func (d *diskStore) tablePath() string { return filepath.Join(d.dir, "table.json") }

func (d *diskStore) blockPath(height uint32, hash common.StateHash) string {
	return filepath.Join(d.dir, fmt.Sprintf("%d", height), hash.String())
}

// saveTable persists the hash->height index via a temp-file-plus-rename, so
// a crash mid-write never leaves a corrupt table.json on disk (spec.md §9
// design note: "the table.json write is not shown as atomic in the
// original; this implementation makes it atomic").
func (d *diskStore) saveTable() error {
	data, err := json.Marshal(d.table)
	if err != nil {
		return err
	}
	tmp := d.tablePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.tablePath())
}

func (d *diskStore) load(height uint32, hash common.StateHash) (common.Block, bool, error) {
	path := d.blockPath(height, hash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return common.Block{}, false, nil
		}
		return common.Block{}, false, err
	}
	var blk common.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return common.Block{}, false, err
	}
	return blk, true, nil
}

func (d *diskStore) store(height uint32, hash common.StateHash, blk common.Block) error {
	if err := os.MkdirAll(filepath.Join(d.dir, fmt.Sprintf("%d", height)), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(blk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.blockPath(height, hash), data, 0o644); err != nil {
		return err
	}
	d.table[hash.String()] = height
	return d.saveTable()
}

// proofPath is "blocks/<height>/proof_<hash>" (spec.md §4.D: "cache a
// GetTransitionChainProof for each block").
func (d *diskStore) proofPath(height uint32, hash common.StateHash) string {
	return filepath.Join(d.dir, fmt.Sprintf("%d", height), "proof_"+hash.String())
}

func (d *diskStore) storeProof(height uint32, hash common.StateHash, proof *methods.TransitionChainProof) error {
	if proof == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(d.dir, fmt.Sprintf("%d", height)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.proofPath(height, hash), methods.EncodeGetTransitionChainProofResponse(proof), 0o644)
}

// Backfiller walks predecessor-ward from a tip block, producing the
// contiguous run of blocks down to (but not including) the snarked-ledger
// root height.
type Backfiller struct {
	peer   Peer
	disk   *diskStore
	cache  *lru.Cache // recent-block scratch cache, common.StateHash -> common.Block
	logger log.Logger
}

// New builds a Backfiller rooted at dir (the session's blocks/ directory),
// with an in-memory LRU scratch cache sized cacheSize blocks.
func New(peer Peer, dir string, cacheSize int, logger log.Logger) (*Backfiller, error) {
	if logger == nil {
		logger = log.Noop()
	}
	disk, err := openDiskStore(dir)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Backfiller{peer: peer, disk: disk, cache: cache, logger: logger}, nil
}

// Walk backfills from tip down to snarkedHeight (exclusive), returning the
// blocks in ascending-height order, verified to chain by previous-state-hash
// linkage as they're collected (spec.md §4.D). tipHash is the caller's
// already-known state hash of tip (computed by the external hashing
// collaborator spec.md §1 treats as out of scope), so the walk never needs
// to invoke that hasher itself — every other block's hash is learned from
// the predecessor query that fetched it.
func (b *Backfiller) Walk(ctx context.Context, tip common.Block, tipHash common.StateHash, snarkedHeight uint32) ([]common.Block, error) {
	tip.Header.ProtocolState.SetKnownHash(tipHash)
	descending := []common.Block{tip}
	current := tip

	for current.Height() > snarkedHeight+1 {
		prevHash := current.PreviousStateHash()
		prevHeight := current.Height() - 1

		blk, err := b.resolve(ctx, prevHash, prevHeight)
		if err != nil {
			return nil, err
		}
		descending = append(descending, blk)
		current = blk
	}

	ascending := make([]common.Block, len(descending))
	for i, blk := range descending {
		ascending[len(descending)-1-i] = blk
	}
	if err := verifyLinkage(ascending); err != nil {
		return nil, err
	}
	return ascending, nil
}

func (b *Backfiller) resolve(ctx context.Context, hash common.StateHash, height uint32) (common.Block, error) {
	if cached, ok := b.cache.Get(hash); ok {
		return cached.(common.Block), nil
	}
	if blk, ok, err := b.disk.load(height, hash); err != nil {
		return common.Block{}, ierrors.New(ierrors.KindTransport, "backfill.disk_load", err)
	} else if ok {
		blk.Header.ProtocolState.SetKnownHash(hash)
		b.cache.Add(hash, blk)
		return blk, nil
	}

	blocks, err := b.peer.GetTransitionChain(ctx, []common.StateHash{hash})
	if err != nil {
		return common.Block{}, ierrors.New(ierrors.KindTransport, "backfill.get_transition_chain", err)
	}
	if len(blocks) == 0 {
		return common.Block{}, ierrors.New(ierrors.KindLogical, "backfill.resolve", fmt.Errorf("%w: no block for predecessor hash", ErrGap))
	}
	blk := blocks[0]
	blk.Header.ProtocolState.SetKnownHash(hash)

	if proof, err := b.peer.GetTransitionChainProof(ctx, hash); err != nil {
		b.logger.Warn("backfill: could not fetch transition chain proof, continuing without it", "err", err)
	} else if err := b.disk.storeProof(height, hash, proof); err != nil {
		return common.Block{}, ierrors.New(ierrors.KindTransport, "backfill.disk_store_proof", err)
	}

	if err := b.disk.store(height, hash, blk); err != nil {
		return common.Block{}, ierrors.New(ierrors.KindTransport, "backfill.disk_store", err)
	}
	b.cache.Add(hash, blk)
	return blk, nil
}

// verifyLinkage checks that each block's previous_state_hash equals its
// predecessor's known state hash, the output postcondition of spec.md
// §4.D. Every block in ascending was resolved (or is the caller-supplied
// tip) with SetKnownHash already called, so Hash(nil) never needs to
// invoke the external hasher.
func verifyLinkage(ascending []common.Block) error {
	for i := 1; i < len(ascending); i++ {
		prevHash := ascending[i-1].Header.ProtocolState.Hash(nil)
		cur := ascending[i]
		if cur.PreviousStateHash() != prevHash {
			return ierrors.IntegrityMismatch(fmt.Sprintf("backfill.linkage[height=%d]", cur.Height()), prevHash, cur.PreviousStateHash())
		}
	}
	return nil
}
