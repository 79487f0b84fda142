package common

// StagedLedgerHash is the 4-tuple composite hash of a staged ledger
// (spec.md §3): the ledger root, the scan-state aux hash, and the pending
// coinbase accumulator's aux and root hashes.
type StagedLedgerHash struct {
	LedgerHash         LedgerHash
	AuxHash            Hash
	PendingCoinbaseAux Hash
	PendingCoinbaseHash Hash
}

// Equal reports whether two staged-ledger hashes agree in all four
// components (spec.md §4.E step 4, the fatal-on-mismatch assertion).
func (h StagedLedgerHash) Equal(o StagedLedgerHash) bool {
	return h.LedgerHash == o.LedgerHash &&
		h.AuxHash == o.AuxHash &&
		h.PendingCoinbaseAux == o.PendingCoinbaseAux &&
		h.PendingCoinbaseHash == o.PendingCoinbaseHash
}

// String renders the 4-tuple for diagnostics and ierrors.IntegrityMismatch.
func (h StagedLedgerHash) String() string {
	return h.LedgerHash.String() + "/" + h.AuxHash.String() + "/" + h.PendingCoinbaseAux.String() + "/" + h.PendingCoinbaseHash.String()
}

// EpochData carries the per-epoch consensus bookkeeping embedded in the
// consensus state. Opaque beyond the fields the orchestrator reads.
type EpochData struct {
	LedgerHash LedgerHash
	SeedHash   Hash
}

// ConsensusState is the consensus-relevant subset of a protocol state
// (spec.md §3).
type ConsensusState struct {
	BlockchainLength        uint32
	GlobalSlotSinceGenesis  uint32
	CurrGlobalSlotNumber    uint32
	CoinbaseReceiver        []byte // compressed public key, opaque to this engine
	SuperchargeCoinbase     bool   // present on the wire, ignored per spec.md §4.E / §9
	StakingEpochData        EpochData
	NextEpochData           EpochData
}

// LedgerProofStatement names the snarked-ledger hash a protocol state's
// attached proof is targeting; the bootstrap orchestrator reads
// Target.FirstPassLedger to learn which snarked ledger to reconcile against
// (spec.md §4.F, AwaitingBestTip transition).
type LedgerProofStatement struct {
	Target struct {
		FirstPassLedger LedgerHash
	}
}

// BlockchainState is the ledger-hash-bearing subset of a protocol state.
type BlockchainState struct {
	SnarkedLedgerHash     LedgerHash
	StagedLedgerHash      StagedLedgerHash
	LedgerProofStatement  LedgerProofStatement
}

// ProtocolStateBody is the hashed body of a protocol state.
type ProtocolStateBody struct {
	ConsensusState  ConsensusState
	BlockchainState BlockchainState
}

// ProtocolState is a block header's protocol state: the hashed body plus the
// hash of the predecessor's protocol state (spec.md §3).
type ProtocolState struct {
	PreviousStateHash StateHash
	Body              ProtocolStateBody

	// hash caches the value returned by Hash(), computed once on first call
	// since it is derived from the external hashing collaborator and is
	// immutable once set.
	hash      StateHash
	hashKnown bool
}

// Hash returns the state hash of p, computing it via the injected hasher on
// first use and caching the result. Callers that already know the hash
// (e.g. it arrived on the wire alongside the state) should use
// SetKnownHash instead of forcing a recompute.
func (p *ProtocolState) Hash(hasher func(ProtocolStateBody) StateHash) StateHash {
	if !p.hashKnown {
		p.hash = hasher(p.Body)
		p.hashKnown = true
	}
	return p.hash
}

// SetKnownHash records a state hash obtained out-of-band (e.g. decoded
// alongside the state on the wire), avoiding a redundant hash computation.
func (p *ProtocolState) SetKnownHash(h StateHash) {
	p.hash = h
	p.hashKnown = true
}

// BlockHeader wraps the protocol state plus whatever header-only framing
// the wire format adds around it (currently none beyond the protocol state
// itself, per spec.md §3).
type BlockHeader struct {
	ProtocolState ProtocolState
}

// BlockBody carries the staged-ledger diff applied by this block.
type BlockBody struct {
	StagedLedgerDiff StagedLedgerDiff
}

// StagedLedgerDiff is an opaque binary-protocol encoded diff: the
// transactions and completed SNARK work a block applies to the staged
// ledger. Interpreted only by the external apply() collaborator (spec.md
// §1, §4.E).
type StagedLedgerDiff struct {
	Encoded []byte
}

// Block is (header, body) per spec.md §3.
type Block struct {
	Header BlockHeader
	Body   BlockBody
}

// Height returns the block's blockchain length, used throughout sync/backfill
// and the on-disk session layout (spec.md §6, "<height>/...").
func (b *Block) Height() uint32 {
	return b.Header.ProtocolState.Body.ConsensusState.BlockchainLength
}

// PreviousStateHash returns the predecessor link used to walk the chain
// backwards during backfill (spec.md §4.D).
func (b *Block) PreviousStateHash() StateHash {
	return b.Header.ProtocolState.PreviousStateHash
}
