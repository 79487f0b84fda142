package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/rpc/stream"
)

func drainQuery(t *testing.T, s *stream.Stream, timeout time.Duration) stream.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatal("stream closed before query observed")
			}
			if ev.Kind == stream.EventQuery {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for query")
		}
	}
}

func newPipe(t *testing.T) (*stream.Stream, *stream.Stream) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	clientStream := stream.New(clientConn, stream.Options{Outbound: true})
	serverStream := stream.New(serverConn, stream.Options{Outbound: false})
	go clientStream.Run()
	go serverStream.Run()

	deadline := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-clientStream.Events():
			_ = ev
		case <-deadline:
			t.Fatal("timed out waiting for handshake")
		}
	}
	return clientStream, serverStream
}

func TestGetBestTipRoundTrip(t *testing.T) {
	clientStream, serverStream := newPipe(t)
	c := New(clientStream)

	var tip common.Block
	tip.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 9
	proof := &methods.ProofCarryingData{Data: tip}

	go func() {
		ev := drainQuery(t, serverStream, time.Second)
		require.Equal(t, methods.GetBestTipMethod.Tag, ev.Header.Method)
		serverStream.Respond(ev.Header.ID, methods.EncodeGetBestTipResponse(proof))
	}()

	got, err := c.GetBestTip(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(9), got.Data.Height())
}

func TestAnswerSyncLedgerQueryRoundTrip(t *testing.T) {
	clientStream, serverStream := newPipe(t)
	c := New(clientStream)

	answer := methods.SyncAnswer{Kind: methods.SyncAnswerNumAccountsAre, NumAccounts: 3}

	go func() {
		ev := drainQuery(t, serverStream, time.Second)
		require.Equal(t, methods.AnswerSyncLedgerQueryMethod.Tag, ev.Header.Method)
		serverStream.Respond(ev.Header.ID, methods.EncodeAnswerSyncLedgerResponse(answer))
	}()

	got, err := c.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryNumAccounts})
	require.NoError(t, err)
	require.Equal(t, uint32(3), got.NumAccounts)
}

func TestGetTransitionChainRoundTrip(t *testing.T) {
	clientStream, serverStream := newPipe(t)
	c := New(clientStream)

	var blk common.Block
	blk.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 5

	go func() {
		ev := drainQuery(t, serverStream, time.Second)
		require.Equal(t, methods.GetTransitionChainMethod.Tag, ev.Header.Method)
		serverStream.Respond(ev.Header.ID, methods.EncodeGetTransitionChainResponse([]common.Block{blk}))
	}()

	var h common.StateHash
	got, err := c.GetTransitionChain(context.Background(), []common.StateHash{h})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint32(5), got[0].Height())
}
