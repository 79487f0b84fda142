package methods

import "github.com/openmina-labs/bootstrap-go/common"

// encodeMerkleAddr/decodeMerkleAddr, encodeAccount/decodeAccount and
// EncodeBlock/DecodeBlock implement the binary-protocol encoding for the
// common data-model types (spec.md §3) that travel as RPC method bodies.
// These are the only parts of a block this engine ever needs to produce or
// consume on the wire; the fields it does not interpret (account contents,
// staged-ledger diffs) are carried as opaque length-prefixed blobs.

func encodeMerkleAddr(w *writer, a common.MerkleAddr) {
	w.i64(a.Depth)
	w.blob(a.Prefix)
}

func decodeMerkleAddr(r *reader) (common.MerkleAddr, error) {
	depth, err := r.i64()
	if err != nil {
		return common.MerkleAddr{}, err
	}
	prefix, err := r.blob()
	if err != nil {
		return common.MerkleAddr{}, err
	}
	return common.MerkleAddr{Depth: depth, Prefix: prefix}, nil
}

func encodeAccount(w *writer, a common.Account) {
	w.blob(a.ID)
	w.blob(a.Encoded)
}

func decodeAccount(r *reader) (common.Account, error) {
	id, err := r.blob()
	if err != nil {
		return common.Account{}, err
	}
	enc, err := r.blob()
	if err != nil {
		return common.Account{}, err
	}
	return common.Account{ID: id, Encoded: enc}, nil
}

func encodeStagedLedgerHash(w *writer, h common.StagedLedgerHash) {
	w.hash(h.LedgerHash)
	w.hash(h.AuxHash)
	w.hash(h.PendingCoinbaseAux)
	w.hash(h.PendingCoinbaseHash)
}

func decodeStagedLedgerHash(r *reader) (common.StagedLedgerHash, error) {
	var h common.StagedLedgerHash
	var err error
	if h.LedgerHash, err = r.hash(); err != nil {
		return h, err
	}
	if h.AuxHash, err = r.hash(); err != nil {
		return h, err
	}
	if h.PendingCoinbaseAux, err = r.hash(); err != nil {
		return h, err
	}
	if h.PendingCoinbaseHash, err = r.hash(); err != nil {
		return h, err
	}
	return h, nil
}

func encodeEpochData(w *writer, e common.EpochData) {
	w.hash(e.LedgerHash)
	w.hash(e.SeedHash)
}

func decodeEpochData(r *reader) (common.EpochData, error) {
	var e common.EpochData
	var err error
	if e.LedgerHash, err = r.hash(); err != nil {
		return e, err
	}
	if e.SeedHash, err = r.hash(); err != nil {
		return e, err
	}
	return e, nil
}

func encodeConsensusState(w *writer, c common.ConsensusState) {
	w.u32(c.BlockchainLength)
	w.u32(c.GlobalSlotSinceGenesis)
	w.u32(c.CurrGlobalSlotNumber)
	w.blob(c.CoinbaseReceiver)
	w.bool(c.SuperchargeCoinbase)
	encodeEpochData(w, c.StakingEpochData)
	encodeEpochData(w, c.NextEpochData)
}

func decodeConsensusState(r *reader) (common.ConsensusState, error) {
	var c common.ConsensusState
	var err error
	if c.BlockchainLength, err = r.u32(); err != nil {
		return c, err
	}
	if c.GlobalSlotSinceGenesis, err = r.u32(); err != nil {
		return c, err
	}
	if c.CurrGlobalSlotNumber, err = r.u32(); err != nil {
		return c, err
	}
	if c.CoinbaseReceiver, err = r.blob(); err != nil {
		return c, err
	}
	if c.SuperchargeCoinbase, err = r.boolean(); err != nil {
		return c, err
	}
	if c.StakingEpochData, err = decodeEpochData(r); err != nil {
		return c, err
	}
	if c.NextEpochData, err = decodeEpochData(r); err != nil {
		return c, err
	}
	return c, nil
}

func encodeBlockchainState(w *writer, b common.BlockchainState) {
	w.hash(b.SnarkedLedgerHash)
	encodeStagedLedgerHash(w, b.StagedLedgerHash)
	w.hash(b.LedgerProofStatement.Target.FirstPassLedger)
}

func decodeBlockchainState(r *reader) (common.BlockchainState, error) {
	var b common.BlockchainState
	var err error
	if b.SnarkedLedgerHash, err = r.hash(); err != nil {
		return b, err
	}
	if b.StagedLedgerHash, err = decodeStagedLedgerHash(r); err != nil {
		return b, err
	}
	target, err := r.hash()
	if err != nil {
		return b, err
	}
	b.LedgerProofStatement.Target.FirstPassLedger = target
	return b, nil
}

func encodeProtocolState(w *writer, p common.ProtocolState) {
	w.hash(p.PreviousStateHash)
	encodeConsensusState(w, p.Body.ConsensusState)
	encodeBlockchainState(w, p.Body.BlockchainState)
}

func decodeProtocolState(r *reader) (common.ProtocolState, error) {
	var p common.ProtocolState
	var err error
	if p.PreviousStateHash, err = r.hash(); err != nil {
		return p, err
	}
	if p.Body.ConsensusState, err = decodeConsensusState(r); err != nil {
		return p, err
	}
	if p.Body.BlockchainState, err = decodeBlockchainState(r); err != nil {
		return p, err
	}
	return p, nil
}

// EncodeBlock serializes a full block (header + opaque staged-ledger diff
// body) for the wire.
func EncodeBlock(w *writer, b common.Block) {
	encodeProtocolState(w, b.Header.ProtocolState)
	w.blob(b.Body.StagedLedgerDiff.Encoded)
}

// DecodeBlock is the dual of EncodeBlock.
func DecodeBlock(r *reader) (common.Block, error) {
	var b common.Block
	state, err := decodeProtocolState(r)
	if err != nil {
		return b, err
	}
	diff, err := r.blob()
	if err != nil {
		return b, err
	}
	b.Header.ProtocolState = state
	b.Body.StagedLedgerDiff = common.StagedLedgerDiff{Encoded: diff}
	return b, nil
}

// EncodeBlockBytes is EncodeBlock for callers outside this package, such as
// the gossip listener framing a NewState message (spec.md §4.F).
func EncodeBlockBytes(b common.Block) []byte {
	w := &writer{}
	EncodeBlock(w, b)
	return w.bytes()
}

// DecodeBlockBytes is DecodeBlock for callers outside this package.
func DecodeBlockBytes(data []byte) (common.Block, error) {
	return DecodeBlock(newReader(data))
}

// GossipVariantNewState is the first body byte the gossip filter of
// spec.md §4.F dispatches on: "messages whose first body byte identifies
// them as NewState blocks are deserialized; all other variants are
// ignored". The body following this tag is a plain EncodeBlockBytes
// encoding.
const GossipVariantNewState byte = 0x00
