// Package methods implements the RPC method catalog of spec.md §6: the tag
// and version of each of the eight methods a bootstrap stream speaks, plus
// the Go types and binary Encode/Decode pair for every request and
// response body. rpc/stream drives the state machine that decides when to
// send which method; this package only knows how to turn a method's Go
// value into bytes and back.
package methods

import (
	"errors"
	"fmt"

	"github.com/openmina-labs/bootstrap-go/common"
)

// Descriptor identifies a method by tag and version, the pair the
// "__Versioned_rpc.Menu" response enumerates for every method a peer
// implements (spec.md §6).
type Descriptor struct {
	Tag     string
	Version int32
}

func (d Descriptor) String() string { return fmt.Sprintf("%s/%d", d.Tag, d.Version) }

// The method catalog. GetTransitionChainProof and GetSomeInitialPeers are
// versioned "1-for-2" upstream (the caller speaks v1, the menu advertises
// compatibility up to v2); this engine only ever emits and expects v1
// bodies for them, so Version is pinned to 1.
var (
	MenuMethod                          = Descriptor{Tag: "__Versioned_rpc.Menu", Version: 1}
	GetBestTipMethod                    = Descriptor{Tag: "get_best_tip", Version: 2}
	GetAncestryMethod                   = Descriptor{Tag: "get_ancestry", Version: 2}
	GetStagedLedgerAuxMethod            = Descriptor{Tag: "get_staged_ledger_aux_and_pending_coinbases_at_hash", Version: 2}
	AnswerSyncLedgerQueryMethod         = Descriptor{Tag: "answer_sync_ledger_query", Version: 2}
	GetTransitionChainMethod            = Descriptor{Tag: "get_transition_chain", Version: 2}
	GetTransitionChainProofMethod       = Descriptor{Tag: "get_transition_chain_proof", Version: 1}
	GetSomeInitialPeersMethod           = Descriptor{Tag: "get_some_initial_peers", Version: 1}
)

// Catalog lists every method this engine can query or answer, in menu
// order.
var Catalog = []Descriptor{
	MenuMethod,
	GetBestTipMethod,
	GetAncestryMethod,
	GetStagedLedgerAuxMethod,
	AnswerSyncLedgerQueryMethod,
	GetTransitionChainMethod,
	GetTransitionChainProofMethod,
	GetSomeInitialPeersMethod,
}

// ErrNotInMenu is returned by RequireInMenu when a peer's advertised menu
// omits a method this engine needs (spec.md §8 S1).
var ErrNotInMenu = errors.New("methods: method not present in peer menu")

// RequireInMenu checks that menu advertises d at exactly the version this
// engine speaks.
func RequireInMenu(menu []Descriptor, d Descriptor) error {
	for _, m := range menu {
		if m == d {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotInMenu, d)
}

// --- __Versioned_rpc.Menu ---------------------------------------------

// EncodeMenuQuery/DecodeMenuQuery exist for symmetry; the query body is
// empty.
func EncodeMenuQuery() []byte { return nil }

func DecodeMenuQuery(body []byte) error {
	if len(body) != 0 {
		return fmt.Errorf("methods: menu query expects an empty body, got %d bytes", len(body))
	}
	return nil
}

func EncodeMenuResponse(methods []Descriptor) []byte {
	w := &writer{}
	w.u32(uint32(len(methods)))
	for _, m := range methods {
		w.str(m.Tag)
		w.i64(int64(m.Version))
	}
	return w.bytes()
}

func DecodeMenuResponse(body []byte) ([]Descriptor, error) {
	r := newReader(body)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		tag, err := r.str()
		if err != nil {
			return nil, err
		}
		version, err := r.i64()
		if err != nil {
			return nil, err
		}
		out = append(out, Descriptor{Tag: tag, Version: int32(version)})
	}
	return out, nil
}

// --- get_best_tip -------------------------------------------------------

// ProofCarryingData pairs a value with the chain of state-body hashes and
// the root block justifying it, the envelope get_best_tip and
// get_ancestry return (spec.md §6).
type ProofCarryingData struct {
	Data  common.Block
	Proof AncestryProof
}

// AncestryProof is the (state_body_hashes, root_block) pair used to verify
// a ProofCarryingData without re-walking the whole chain.
type AncestryProof struct {
	StateBodyHashes []common.StateBodyHash
	Root            common.Block
}

func encodeAncestryProof(w *writer, p AncestryProof) {
	w.u32(uint32(len(p.StateBodyHashes)))
	for _, h := range p.StateBodyHashes {
		w.hash(h)
	}
	EncodeBlock(w, p.Root)
}

func decodeAncestryProof(r *reader) (AncestryProof, error) {
	var p AncestryProof
	n, err := r.u32()
	if err != nil {
		return p, err
	}
	p.StateBodyHashes = make([]common.StateBodyHash, n)
	for i := range p.StateBodyHashes {
		h, err := r.hash()
		if err != nil {
			return p, err
		}
		p.StateBodyHashes[i] = h
	}
	root, err := DecodeBlock(r)
	if err != nil {
		return p, err
	}
	p.Root = root
	return p, nil
}

func EncodeGetBestTipQuery() []byte { return nil }

func EncodeGetBestTipResponse(pcd *ProofCarryingData) []byte {
	w := &writer{}
	w.option(pcd != nil, func() {
		EncodeBlock(w, pcd.Data)
		encodeAncestryProof(w, pcd.Proof)
	})
	return w.bytes()
}

func DecodeGetBestTipResponse(body []byte) (*ProofCarryingData, error) {
	r := newReader(body)
	var out *ProofCarryingData
	_, err := r.option(func() error {
		data, err := DecodeBlock(r)
		if err != nil {
			return err
		}
		proof, err := decodeAncestryProof(r)
		if err != nil {
			return err
		}
		out = &ProofCarryingData{Data: data, Proof: proof}
		return nil
	})
	return out, err
}

// --- get_ancestry ---------------------------------------------------

// GetAncestryQuery carries the consensus state whose ancestry is being
// requested, paired with the state hash it was derived from (the
// "with_hash" envelope, spec.md §6).
type GetAncestryQuery struct {
	Hash      common.StateHash
	Consensus common.ConsensusState
}

func EncodeGetAncestryQuery(q GetAncestryQuery) []byte {
	w := &writer{}
	w.hash(q.Hash)
	encodeConsensusState(w, q.Consensus)
	return w.bytes()
}

func DecodeGetAncestryQuery(body []byte) (GetAncestryQuery, error) {
	r := newReader(body)
	var q GetAncestryQuery
	var err error
	if q.Hash, err = r.hash(); err != nil {
		return q, err
	}
	if q.Consensus, err = decodeConsensusState(r); err != nil {
		return q, err
	}
	return q, nil
}

func EncodeGetAncestryResponse(proof *AncestryProof) []byte {
	w := &writer{}
	w.option(proof != nil, func() { encodeAncestryProof(w, *proof) })
	return w.bytes()
}

func DecodeGetAncestryResponse(body []byte) (*AncestryProof, error) {
	r := newReader(body)
	var out *AncestryProof
	_, err := r.option(func() error {
		p, err := decodeAncestryProof(r)
		if err != nil {
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

// --- get_staged_ledger_aux_and_pending_coinbases_at_hash ----------------

// StagedLedgerAux is the auxiliary bundle a peer sends so the requester can
// reconstruct a staged ledger from a snarked ledger it already has (spec.md
// §4.E): scan state, the expected resulting hash, pending-coinbase state,
// and every protocol state on the path from the snarked ledger to the
// staged ledger's root.
type StagedLedgerAux struct {
	ScanState       common.ScanState
	ExpectedHash    common.LedgerHash
	PendingCoinbase common.PendingCoinbase
	AncestorStates  []common.ProtocolState
}

func EncodeGetStagedLedgerAuxQuery(hash common.StateHash) []byte {
	w := &writer{}
	w.hash(hash)
	return w.bytes()
}

func DecodeGetStagedLedgerAuxQuery(body []byte) (common.StateHash, error) {
	return newReader(body).hash()
}

func EncodeGetStagedLedgerAuxResponse(aux *StagedLedgerAux) []byte {
	w := &writer{}
	w.option(aux != nil, func() {
		w.blob(aux.ScanState.Encoded)
		w.hash(aux.ExpectedHash)
		w.blob(aux.PendingCoinbase.Encoded)
		w.u32(uint32(len(aux.AncestorStates)))
		for _, s := range aux.AncestorStates {
			encodeProtocolState(w, s)
		}
	})
	return w.bytes()
}

func DecodeGetStagedLedgerAuxResponse(body []byte) (*StagedLedgerAux, error) {
	r := newReader(body)
	var out *StagedLedgerAux
	_, err := r.option(func() error {
		scanState, err := r.blob()
		if err != nil {
			return err
		}
		expected, err := r.hash()
		if err != nil {
			return err
		}
		pendingCoinbase, err := r.blob()
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		states := make([]common.ProtocolState, n)
		for i := range states {
			s, err := decodeProtocolState(r)
			if err != nil {
				return err
			}
			states[i] = s
		}
		out = &StagedLedgerAux{
			ScanState:       common.ScanState{Encoded: scanState},
			ExpectedHash:    expected,
			PendingCoinbase: common.PendingCoinbase{Encoded: pendingCoinbase},
			AncestorStates:  states,
		}
		return nil
	})
	return out, err
}

// --- answer_sync_ledger_query --------------------------------------------

// SyncQueryKind distinguishes the three probes a snarked-ledger reconciler
// can send at a single Merkle address (spec.md §4.C).
type SyncQueryKind uint8

const (
	SyncQueryNumAccounts SyncQueryKind = iota
	SyncQueryWhatChildHashes
	SyncQueryWhatContents
)

// SyncQuery is the (ledger_hash, query) pair sent to answer_sync_ledger_query.
type SyncQuery struct {
	LedgerHash common.LedgerHash
	Kind       SyncQueryKind
	Addr       common.MerkleAddr // meaningful for WhatChildHashes/WhatContents
}

func EncodeAnswerSyncLedgerQuery(q SyncQuery) []byte {
	w := &writer{}
	w.hash(q.LedgerHash)
	w.u8(uint8(q.Kind))
	if q.Kind != SyncQueryNumAccounts {
		encodeMerkleAddr(w, q.Addr)
	}
	return w.bytes()
}

func DecodeAnswerSyncLedgerQuery(body []byte) (SyncQuery, error) {
	r := newReader(body)
	var q SyncQuery
	var err error
	if q.LedgerHash, err = r.hash(); err != nil {
		return q, err
	}
	kind, err := r.u8()
	if err != nil {
		return q, err
	}
	q.Kind = SyncQueryKind(kind)
	if q.Kind != SyncQueryNumAccounts {
		if q.Addr, err = decodeMerkleAddr(r); err != nil {
			return q, err
		}
	}
	return q, nil
}

// SyncAnswerKind distinguishes the successful answer shapes, plus the
// logical failure a peer reports when it no longer holds the requested
// subtree (spec.md §4.C, §8 S3).
type SyncAnswerKind uint8

const (
	SyncAnswerNumAccountsAre SyncAnswerKind = iota
	SyncAnswerChildHashesAre
	SyncAnswerContentsAre
	SyncAnswerCouldNotConstruct
)

// SyncAnswer is the answer_sync_ledger_query response body: a tagged union
// over the three success shapes, or a CouldNotConstruct failure reason.
type SyncAnswer struct {
	Kind SyncAnswerKind

	NumAccounts uint32
	RootHash    common.LedgerHash // paired with NumAccounts

	Left  common.LedgerHash
	Right common.LedgerHash

	Accounts []common.Account

	Reason string // CouldNotConstruct
}

func EncodeAnswerSyncLedgerResponse(a SyncAnswer) []byte {
	w := &writer{}
	w.u8(uint8(a.Kind))
	switch a.Kind {
	case SyncAnswerNumAccountsAre:
		w.u32(a.NumAccounts)
		w.hash(a.RootHash)
	case SyncAnswerChildHashesAre:
		w.hash(a.Left)
		w.hash(a.Right)
	case SyncAnswerContentsAre:
		w.u32(uint32(len(a.Accounts)))
		for _, acc := range a.Accounts {
			encodeAccount(w, acc)
		}
	case SyncAnswerCouldNotConstruct:
		w.str(a.Reason)
	}
	return w.bytes()
}

func DecodeAnswerSyncLedgerResponse(body []byte) (SyncAnswer, error) {
	r := newReader(body)
	var a SyncAnswer
	kind, err := r.u8()
	if err != nil {
		return a, err
	}
	a.Kind = SyncAnswerKind(kind)
	switch a.Kind {
	case SyncAnswerNumAccountsAre:
		if a.NumAccounts, err = r.u32(); err != nil {
			return a, err
		}
		if a.RootHash, err = r.hash(); err != nil {
			return a, err
		}
	case SyncAnswerChildHashesAre:
		if a.Left, err = r.hash(); err != nil {
			return a, err
		}
		if a.Right, err = r.hash(); err != nil {
			return a, err
		}
	case SyncAnswerContentsAre:
		n, err := r.u32()
		if err != nil {
			return a, err
		}
		a.Accounts = make([]common.Account, n)
		for i := range a.Accounts {
			acc, err := decodeAccount(r)
			if err != nil {
				return a, err
			}
			a.Accounts[i] = acc
		}
	case SyncAnswerCouldNotConstruct:
		if a.Reason, err = r.str(); err != nil {
			return a, err
		}
	default:
		return a, fmt.Errorf("methods: unknown sync answer kind %d", kind)
	}
	return a, nil
}

// --- get_transition_chain -------------------------------------------

func EncodeGetTransitionChainQuery(hashes []common.StateHash) []byte {
	w := &writer{}
	w.u32(uint32(len(hashes)))
	for _, h := range hashes {
		w.hash(h)
	}
	return w.bytes()
}

func DecodeGetTransitionChainQuery(body []byte) ([]common.StateHash, error) {
	r := newReader(body)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]common.StateHash, n)
	for i := range out {
		if out[i], err = r.hash(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func EncodeGetTransitionChainResponse(blocks []common.Block) []byte {
	w := &writer{}
	w.option(blocks != nil, func() {
		w.u32(uint32(len(blocks)))
		for _, b := range blocks {
			EncodeBlock(w, b)
		}
	})
	return w.bytes()
}

func DecodeGetTransitionChainResponse(body []byte) ([]common.Block, error) {
	r := newReader(body)
	var out []common.Block
	_, err := r.option(func() error {
		n, err := r.u32()
		if err != nil {
			return err
		}
		out = make([]common.Block, n)
		for i := range out {
			b, err := DecodeBlock(r)
			if err != nil {
				return err
			}
			out[i] = b
		}
		return nil
	})
	return out, err
}

// --- get_transition_chain_proof --------------------------------------

func EncodeGetTransitionChainProofQuery(hash common.StateHash) []byte {
	w := &writer{}
	w.hash(hash)
	return w.bytes()
}

func DecodeGetTransitionChainProofQuery(body []byte) (common.StateHash, error) {
	return newReader(body).hash()
}

// TransitionChainProof is the opaque Merkle-list proof demonstrating a
// contiguous run of blocks links back to a known ancestor. Its internal
// structure is outside this engine's concerns (spec.md §1: external
// collaborator); it is only ever forwarded to backfill verification as
// bytes.
type TransitionChainProof struct {
	Encoded []byte
}

func EncodeGetTransitionChainProofResponse(proof *TransitionChainProof) []byte {
	w := &writer{}
	w.option(proof != nil, func() { w.blob(proof.Encoded) })
	return w.bytes()
}

func DecodeGetTransitionChainProofResponse(body []byte) (*TransitionChainProof, error) {
	r := newReader(body)
	var out *TransitionChainProof
	_, err := r.option(func() error {
		b, err := r.blob()
		if err != nil {
			return err
		}
		out = &TransitionChainProof{Encoded: b}
		return nil
	})
	return out, err
}

// --- get_some_initial_peers -------------------------------------------

// PeerAddr is a dialable peer address, as advertised by
// get_some_initial_peers (spec.md §4.F peer discovery fallback).
type PeerAddr struct {
	IP     string
	Port   uint16
	PeerID string
}

func EncodeGetSomeInitialPeersQuery() []byte { return nil }

func EncodeGetSomeInitialPeersResponse(peers []PeerAddr) []byte {
	w := &writer{}
	w.u32(uint32(len(peers)))
	for _, p := range peers {
		w.str(p.IP)
		w.u32(uint32(p.Port))
		w.str(p.PeerID)
	}
	return w.bytes()
}

func DecodeGetSomeInitialPeersResponse(body []byte) ([]PeerAddr, error) {
	r := newReader(body)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]PeerAddr, n)
	for i := range out {
		ip, err := r.str()
		if err != nil {
			return nil, err
		}
		port, err := r.u32()
		if err != nil {
			return nil, err
		}
		peerID, err := r.str()
		if err != nil {
			return nil, err
		}
		out[i] = PeerAddr{IP: ip, Port: uint16(port), PeerID: peerID}
	}
	return out, nil
}
