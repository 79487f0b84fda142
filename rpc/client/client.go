// Package client adapts one rpc/stream.Stream into the query-side
// interfaces sync/ledger, sync/backfill and bootstrap need (bootstrap.Peer),
// turning each method into a QueryNextAwait call plus the matching
// rpc/methods Encode/Decode pair. Grounded on spec.md §4.B's Query/Response
// cycle and §6's method catalog.
package client

import (
	"context"
	"fmt"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/rpc/stream"
)

// Client issues every RPC this engine's query side ever sends over a
// single Stream, regardless of which component (reconciler, backfiller,
// orchestrator) is asking.
type Client struct {
	stream *stream.Stream
}

// New wraps an already-running Stream (its Run loop must be started by the
// caller; Client only ever calls QueryNextAwait on it).
func New(s *stream.Stream) *Client {
	return &Client{stream: s}
}

func (c *Client) call(ctx context.Context, d methods.Descriptor, payload []byte) ([]byte, error) {
	type result struct {
		ev  stream.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := c.stream.QueryNextAwait(d.Version, d.Tag, payload)
		done <- result{ev, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ierrors.New(ierrors.KindCancelled, fmt.Sprintf("client.%s", d.Tag), ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, ierrors.New(ierrors.KindTransport, fmt.Sprintf("client.%s", d.Tag), r.err)
		}
		return r.ev.Body, nil
	}
}

// AnswerSyncLedgerQuery implements sync/ledger.Querier.
func (c *Client) AnswerSyncLedgerQuery(ctx context.Context, q methods.SyncQuery) (methods.SyncAnswer, error) {
	body, err := c.call(ctx, methods.AnswerSyncLedgerQueryMethod, methods.EncodeAnswerSyncLedgerQuery(q))
	if err != nil {
		return methods.SyncAnswer{}, err
	}
	answer, err := methods.DecodeAnswerSyncLedgerResponse(body)
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindProtocol, "client.answer_sync_ledger_query.decode", err)
	}
	return answer, nil
}

// GetTransitionChain implements sync/backfill.Peer.
func (c *Client) GetTransitionChain(ctx context.Context, hashes []common.StateHash) ([]common.Block, error) {
	body, err := c.call(ctx, methods.GetTransitionChainMethod, methods.EncodeGetTransitionChainQuery(hashes))
	if err != nil {
		return nil, err
	}
	blocks, err := methods.DecodeGetTransitionChainResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_transition_chain.decode", err)
	}
	return blocks, nil
}

// GetTransitionChainProof implements sync/backfill.Peer.
func (c *Client) GetTransitionChainProof(ctx context.Context, hash common.StateHash) (*methods.TransitionChainProof, error) {
	body, err := c.call(ctx, methods.GetTransitionChainProofMethod, methods.EncodeGetTransitionChainProofQuery(hash))
	if err != nil {
		return nil, err
	}
	proof, err := methods.DecodeGetTransitionChainProofResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_transition_chain_proof.decode", err)
	}
	return proof, nil
}

// GetBestTip implements bootstrap.Peer.
func (c *Client) GetBestTip(ctx context.Context) (*methods.ProofCarryingData, error) {
	body, err := c.call(ctx, methods.GetBestTipMethod, methods.EncodeGetBestTipQuery())
	if err != nil {
		return nil, err
	}
	proof, err := methods.DecodeGetBestTipResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_best_tip.decode", err)
	}
	return proof, nil
}

// GetAncestry implements bootstrap.Peer.
func (c *Client) GetAncestry(ctx context.Context, q methods.GetAncestryQuery) (*methods.AncestryProof, error) {
	body, err := c.call(ctx, methods.GetAncestryMethod, methods.EncodeGetAncestryQuery(q))
	if err != nil {
		return nil, err
	}
	proof, err := methods.DecodeGetAncestryResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_ancestry.decode", err)
	}
	return proof, nil
}

// GetStagedLedgerAux implements bootstrap.Peer.
func (c *Client) GetStagedLedgerAux(ctx context.Context, hash common.StateHash) (*methods.StagedLedgerAux, error) {
	body, err := c.call(ctx, methods.GetStagedLedgerAuxMethod, methods.EncodeGetStagedLedgerAuxQuery(hash))
	if err != nil {
		return nil, err
	}
	aux, err := methods.DecodeGetStagedLedgerAuxResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_staged_ledger_aux.decode", err)
	}
	return aux, nil
}

// GetSomeInitialPeers implements bootstrap.Peer.
func (c *Client) GetSomeInitialPeers(ctx context.Context) ([]methods.PeerAddr, error) {
	body, err := c.call(ctx, methods.GetSomeInitialPeersMethod, methods.EncodeGetSomeInitialPeersQuery())
	if err != nil {
		return nil, err
	}
	peers, err := methods.DecodeGetSomeInitialPeersResponse(body)
	if err != nil {
		return nil, ierrors.New(ierrors.KindProtocol, "client.get_some_initial_peers.decode", err)
	}
	return peers, nil
}
