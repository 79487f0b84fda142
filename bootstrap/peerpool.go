package bootstrap

import (
	"context"
	"errors"
	"sync"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// ErrNoPeers is returned when a PeerPool has exhausted every peer without a
// successful response.
var ErrNoPeers = errors.New("bootstrap: no peers available")

// PeerPool implements Peer over a rotating set of peers, matching spec.md
// §4.F's peer-selection policy verbatim: "first available RPC-capable
// peer; if a query fails, cycle to the next. No scoring." Every method
// tries the current peer, and on a transport/protocol failure rotates to
// the next before retrying, until every peer has been tried once.
type PeerPool struct {
	mu     sync.Mutex
	peers  []Peer
	cursor int
	logger log.Logger
}

// NewPeerPool builds a PeerPool over peers, in the order supplied (the
// order they were dialed, matching "first available").
func NewPeerPool(peers []Peer, logger log.Logger) *PeerPool {
	if logger == nil {
		logger = log.Noop()
	}
	return &PeerPool{peers: peers, logger: logger}
}

func (p *PeerPool) current() Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[p.cursor%len(p.peers)]
}

func (p *PeerPool) advance(from Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peers[p.cursor%len(p.peers)] == from {
		p.cursor++
	}
}

// AdvanceCurrent unconditionally rotates to the next peer, satisfying the
// orchestrator's peerAdvancer capability (spec.md §8 S2: "after 5 retries,
// fail over to next peer").
func (p *PeerPool) AdvanceCurrent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor++
}

// call runs fn against each peer in rotation order, starting from the
// current one, stopping at the first success. Only transport/protocol
// failures trigger rotation; a well-formed negative answer (KindLogical)
// is returned immediately since another peer wouldn't change the answer.
func call[T any](p *PeerPool, fn func(Peer) (T, error)) (T, error) {
	var zero T
	if len(p.peers) == 0 {
		return zero, ierrors.New(ierrors.KindLogical, "bootstrap.peer_pool", ErrNoPeers)
	}
	var lastErr error
	for i := 0; i < len(p.peers); i++ {
		peer := p.current()
		result, err := fn(peer)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ierrors.IsFatal(err) {
			return zero, err
		}
		var ie *ierrors.Error
		if errors.As(err, &ie) && ie.Kind == ierrors.KindLogical {
			return zero, err
		}
		p.logger.Warn("bootstrap: peer call failed, cycling", "err", err)
		p.advance(peer)
	}
	return zero, ierrors.New(ierrors.KindTransport, "bootstrap.peer_pool", lastErr)
}

func (p *PeerPool) AnswerSyncLedgerQuery(ctx context.Context, q methods.SyncQuery) (methods.SyncAnswer, error) {
	return call(p, func(peer Peer) (methods.SyncAnswer, error) { return peer.AnswerSyncLedgerQuery(ctx, q) })
}

func (p *PeerPool) GetTransitionChain(ctx context.Context, hashes []common.StateHash) ([]common.Block, error) {
	return call(p, func(peer Peer) ([]common.Block, error) { return peer.GetTransitionChain(ctx, hashes) })
}

func (p *PeerPool) GetTransitionChainProof(ctx context.Context, hash common.StateHash) (*methods.TransitionChainProof, error) {
	return call(p, func(peer Peer) (*methods.TransitionChainProof, error) { return peer.GetTransitionChainProof(ctx, hash) })
}

func (p *PeerPool) GetBestTip(ctx context.Context) (*methods.ProofCarryingData, error) {
	return call(p, func(peer Peer) (*methods.ProofCarryingData, error) { return peer.GetBestTip(ctx) })
}

func (p *PeerPool) GetAncestry(ctx context.Context, q methods.GetAncestryQuery) (*methods.AncestryProof, error) {
	return call(p, func(peer Peer) (*methods.AncestryProof, error) { return peer.GetAncestry(ctx, q) })
}

func (p *PeerPool) GetStagedLedgerAux(ctx context.Context, hash common.StateHash) (*methods.StagedLedgerAux, error) {
	return call(p, func(peer Peer) (*methods.StagedLedgerAux, error) { return peer.GetStagedLedgerAux(ctx, hash) })
}

func (p *PeerPool) GetSomeInitialPeers(ctx context.Context) ([]methods.PeerAddr, error) {
	return call(p, func(peer Peer) ([]methods.PeerAddr, error) { return peer.GetSomeInitialPeers(ctx) })
}

var _ Peer = (*PeerPool)(nil)
