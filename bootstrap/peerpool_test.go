package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// stubPeer answers GetBestTip with a fixed result or a transport error.
type stubPeer struct {
	fakePeer
	fail bool
}

func (p *stubPeer) GetBestTip(ctx context.Context) (*methods.ProofCarryingData, error) {
	if p.fail {
		return nil, ierrors.New(ierrors.KindTransport, "stub", errors.New("boom"))
	}
	return p.fakePeer.GetBestTip(ctx)
}

func TestPeerPoolCyclesOnTransportFailure(t *testing.T) {
	bad := &stubPeer{fail: true}
	good := &stubPeer{fakePeer: fakePeer{bestTip: &methods.ProofCarryingData{Data: common.Block{}}}}
	pool := NewPeerPool([]Peer{bad, good}, nil)

	result, err := pool.GetBestTip(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, good.bestTipCalls)
}

func TestPeerPoolReturnsErrorWhenAllFail(t *testing.T) {
	bad1 := &stubPeer{fail: true}
	bad2 := &stubPeer{fail: true}
	pool := NewPeerPool([]Peer{bad1, bad2}, nil)

	_, err := pool.GetBestTip(context.Background())
	require.Error(t, err)
}

func TestPeerPoolEmptyIsLogicalError(t *testing.T) {
	pool := NewPeerPool(nil, nil)
	_, err := pool.GetBestTip(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoPeers)
}
