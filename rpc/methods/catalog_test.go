package methods

import (
	"testing"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/stretchr/testify/require"
)

func sampleHash(b byte) common.Hash {
	var h common.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func sampleBlock() common.Block {
	var blk common.Block
	blk.Header.ProtocolState.PreviousStateHash = sampleHash(1)
	blk.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 42
	blk.Header.ProtocolState.Body.ConsensusState.CoinbaseReceiver = []byte{1, 2, 3}
	blk.Header.ProtocolState.Body.ConsensusState.StakingEpochData.LedgerHash = sampleHash(2)
	blk.Header.ProtocolState.Body.ConsensusState.NextEpochData.SeedHash = sampleHash(3)
	blk.Header.ProtocolState.Body.BlockchainState.SnarkedLedgerHash = sampleHash(4)
	blk.Header.ProtocolState.Body.BlockchainState.StagedLedgerHash.LedgerHash = sampleHash(5)
	blk.Header.ProtocolState.Body.BlockchainState.LedgerProofStatement.Target.FirstPassLedger = sampleHash(6)
	blk.Body.StagedLedgerDiff.Encoded = []byte("diff-bytes")
	return blk
}

func TestMenuRoundTrip(t *testing.T) {
	methods := []Descriptor{MenuMethod, GetBestTipMethod, GetSomeInitialPeersMethod}
	body := EncodeMenuResponse(methods)
	decoded, err := DecodeMenuResponse(body)
	require.NoError(t, err)
	require.Equal(t, methods, decoded)
}

func TestGetBestTipRoundTripPresent(t *testing.T) {
	pcd := &ProofCarryingData{
		Data: sampleBlock(),
		Proof: AncestryProof{
			StateBodyHashes: []common.StateBodyHash{sampleHash(7), sampleHash(8)},
			Root:            sampleBlock(),
		},
	}
	body := EncodeGetBestTipResponse(pcd)
	decoded, err := DecodeGetBestTipResponse(body)
	require.NoError(t, err)
	require.Equal(t, pcd, decoded)
}

func TestGetBestTipRoundTripAbsent(t *testing.T) {
	body := EncodeGetBestTipResponse(nil)
	decoded, err := DecodeGetBestTipResponse(body)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestGetAncestryQueryRoundTrip(t *testing.T) {
	q := GetAncestryQuery{
		Hash:      sampleHash(9),
		Consensus: sampleBlock().Header.ProtocolState.Body.ConsensusState,
	}
	decoded, err := DecodeGetAncestryQuery(EncodeGetAncestryQuery(q))
	require.NoError(t, err)
	require.Equal(t, q, decoded)
}

func TestStagedLedgerAuxRoundTrip(t *testing.T) {
	aux := &StagedLedgerAux{
		ScanState:       common.ScanState{Encoded: []byte("scan")},
		ExpectedHash:    sampleHash(10),
		PendingCoinbase: common.PendingCoinbase{Encoded: []byte("coinbase")},
		AncestorStates:  []common.ProtocolState{sampleBlock().Header.ProtocolState},
	}
	body := EncodeGetStagedLedgerAuxResponse(aux)
	decoded, err := DecodeGetStagedLedgerAuxResponse(body)
	require.NoError(t, err)
	require.Equal(t, aux, decoded)
}

func TestAnswerSyncLedgerQueryRoundTrip(t *testing.T) {
	cases := []SyncQuery{
		{LedgerHash: sampleHash(1), Kind: SyncQueryNumAccounts},
		{LedgerHash: sampleHash(2), Kind: SyncQueryWhatChildHashes, Addr: common.NewMerkleAddr(3, 5)},
		{LedgerHash: sampleHash(3), Kind: SyncQueryWhatContents, Addr: common.LeafAddr(7)},
	}
	for _, c := range cases {
		decoded, err := DecodeAnswerSyncLedgerQuery(EncodeAnswerSyncLedgerQuery(c))
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestAnswerSyncLedgerResponseRoundTrip(t *testing.T) {
	cases := []SyncAnswer{
		{Kind: SyncAnswerNumAccountsAre, NumAccounts: 128, RootHash: sampleHash(1)},
		{Kind: SyncAnswerChildHashesAre, Left: sampleHash(2), Right: sampleHash(3)},
		{Kind: SyncAnswerContentsAre, Accounts: []common.Account{{ID: []byte("a"), Encoded: []byte("b")}}},
		{Kind: SyncAnswerCouldNotConstruct, Reason: "subtree pruned"},
	}
	for _, c := range cases {
		decoded, err := DecodeAnswerSyncLedgerResponse(EncodeAnswerSyncLedgerResponse(c))
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestGetTransitionChainRoundTrip(t *testing.T) {
	hashes := []common.StateHash{sampleHash(1), sampleHash(2)}
	decodedHashes, err := DecodeGetTransitionChainQuery(EncodeGetTransitionChainQuery(hashes))
	require.NoError(t, err)
	require.Equal(t, hashes, decodedHashes)

	blocks := []common.Block{sampleBlock(), sampleBlock()}
	decodedBlocks, err := DecodeGetTransitionChainResponse(EncodeGetTransitionChainResponse(blocks))
	require.NoError(t, err)
	require.Equal(t, blocks, decodedBlocks)

	decodedNone, err := DecodeGetTransitionChainResponse(EncodeGetTransitionChainResponse(nil))
	require.NoError(t, err)
	require.Nil(t, decodedNone)
}

func TestGetTransitionChainProofRoundTrip(t *testing.T) {
	proof := &TransitionChainProof{Encoded: []byte("proof-bytes")}
	decoded, err := DecodeGetTransitionChainProofResponse(EncodeGetTransitionChainProofResponse(proof))
	require.NoError(t, err)
	require.Equal(t, proof, decoded)
}

func TestGetSomeInitialPeersRoundTrip(t *testing.T) {
	peers := []PeerAddr{
		{IP: "10.0.0.1", Port: 8302, PeerID: "peer-a"},
		{IP: "10.0.0.2", Port: 8303, PeerID: "peer-b"},
	}
	decoded, err := DecodeGetSomeInitialPeersResponse(EncodeGetSomeInitialPeersResponse(peers))
	require.NoError(t, err)
	require.Equal(t, peers, decoded)
}

func TestRequireInMenu(t *testing.T) {
	menu := []Descriptor{MenuMethod, GetBestTipMethod}
	require.NoError(t, RequireInMenu(menu, GetBestTipMethod))
	require.ErrorIs(t, RequireInMenu(menu, GetAncestryMethod), ErrNotInMenu)
}
