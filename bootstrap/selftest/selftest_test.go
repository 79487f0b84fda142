package selftest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/session"
)

func sampleHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func hashByHeight(body common.ProtocolStateBody) common.StateHash {
	return sampleHash(byte(body.ConsensusState.BlockchainLength))
}

func buildFixture(t *testing.T) (sess *session.Session, head headState, tip, snarked common.Block) {
	t.Helper()
	sess, err := session.Open(t.TempDir())
	require.NoError(t, err)

	tip.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 4
	tip.Header.ProtocolState.SetKnownHash(sampleHash(4))

	snarked.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 2
	snarked.Header.ProtocolState.Body.BlockchainState.LedgerProofStatement.Target.FirstPassLedger = sampleHash(0xAA)
	snarked.Header.ProtocolState.SetKnownHash(sampleHash(2))

	proof := &methods.ProofCarryingData{Data: tip, Proof: methods.AncestryProof{Root: snarked}}
	require.NoError(t, session.WriteBlob(sess.BestTipPath(4), methods.EncodeGetBestTipResponse(proof)))

	head = loadHeadState(hashByHeight, tip, snarked)
	return
}

type fixedFeed struct {
	batches [][]Event
	calls   int
}

func (f *fixedFeed) FetchEvents(ctx context.Context) ([]Event, error) {
	idx := f.calls
	if idx >= len(f.batches) {
		idx = len(f.batches) - 1
	}
	f.calls++
	return f.batches[idx], nil
}

func syncedEvent(head headState) Event {
	synced := uint64(1)
	height := head.height
	return Event{
		Kind:   "Bootstrap",
		Synced: &synced,
		Ledgers: map[string]Ledgers{
			"root": {
				Snarked: &Ledger{Hash: head.snarkedLedgerHash.String()},
				Staged:  &Ledger{Hash: "staged"},
			},
		},
		Blocks: []Block{
			{Height: &height, Hash: head.stateHash.String(), Status: "Applied"},
		},
	}
}

func TestCheckEventsSucceedsWhenFullyMatched(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	err := checkEvents([]Event{syncedEvent(head)}, head)
	require.NoError(t, err)
}

func TestCheckEventsNotStartedWhenNoBootstrapEvent(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	err := checkEvents(nil, head)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, BootstrapNotStarted, e.Kind)
	require.False(t, e.Fatal())
}

func TestCheckEventsNotDoneWhenSyncedNil(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	ev := syncedEvent(head)
	ev.Synced = nil
	err := checkEvents([]Event{ev}, head)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, BootstrapNotDone, e.Kind)
	require.False(t, e.Fatal())
}

func TestCheckEventsFatalOnSnarkedHashMismatch(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	ev := syncedEvent(head)
	ev.Ledgers["root"].Snarked.Hash = "wrong"
	err := checkEvents([]Event{ev}, head)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, SnarkedLedgerHashMismatch, e.Kind)
	require.True(t, e.Fatal())
}

func TestCheckEventsFatalOnHeadBlockHashMismatch(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	ev := syncedEvent(head)
	ev.Blocks[0].Hash = "wrong"
	err := checkEvents([]Event{ev}, head)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, HeadBlockHashMismatch, e.Kind)
	require.True(t, e.Fatal())
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	sess, head, _, _ := buildFixture(t)
	notStarted := Event{Kind: "Other"}
	feed := &fixedFeed{batches: [][]Event{{notStarted}, {syncedEvent(head)}}}
	retryInterval = 0

	err := Run(context.Background(), sess, 4, hashByHeight, feed, nil)
	require.NoError(t, err)
	require.Equal(t, 2, feed.calls)
}

func TestRunReturnsFatalErrorImmediately(t *testing.T) {
	sess, head, _, _ := buildFixture(t)
	ev := syncedEvent(head)
	ev.Blocks[0].Status = "Fetching"
	feed := &fixedFeed{batches: [][]Event{{ev}}}

	err := Run(context.Background(), sess, 4, hashByHeight, feed, nil)
	require.Error(t, err)
	require.Equal(t, 1, feed.calls)
}

func TestCheckGraphQLSucceedsWhenMatched(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	resp := GraphQLResponse{
		SyncStatus: "SYNCED",
		BestChain: []GraphQLChain{{
			StateHash: head.stateHash.String(),
			ProtocolState: GraphQLProtocolState{
				ConsensusState:  GraphQLConsensusState{BlockHeight: []byte(`4`)},
				BlockchainState: GraphQLBlockchainState{SnarkedLedgerHash: head.snarkedLedgerHash.String()},
			},
		}},
	}
	require.NoError(t, checkGraphQL(resp, head))
}

func TestCheckGraphQLNotDoneWhenNotSynced(t *testing.T) {
	_, head, _, _ := buildFixture(t)
	resp := GraphQLResponse{SyncStatus: "BOOTSTRAP"}
	err := checkGraphQL(resp, head)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, BootstrapNotDone, e.Kind)
	require.False(t, e.Fatal())
}
