// Package transport wires the libp2p host and gossipsub mesh this client
// dials into: a pre-shared-key-gated private network, Noise XX encryption,
// Yamux multiplexing under the chain's custom protocol name, and a single
// gossipsub topic for incoming blocks (spec.md §6). Grounded on
// orbas1-Synnergy/synnergy-network/core/network.go's libp2p.New + gossipsub
// wiring — the teacher itself never touches libp2p, so this package is
// built entirely from the domain-stack pack.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/pnet"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	yamux "github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/p2p/psk"
)

// GossipTopic is the single topic the bootstrap orchestrator subscribes to
// once it reaches the Following state (spec.md §4.F).
const GossipTopic = "coda/consensus-messages/0.0.1"

// MaxGossipMessageSize is the transmit size ceiling spec.md §4.F names for
// the gossip filter ("max transmit size 32 MiB").
const MaxGossipMessageSize = 32 * 1024 * 1024

// YamuxProtocolName is the muxer protocol id spec.md §6 requires in place
// of go-libp2p's default.
const YamuxProtocolName = "/coda/yamux/1.0.0"

// RPCProtocolID is the libp2p stream protocol this engine's rpc/stream
// frames are carried over, one stream per logical RPC connection (spec.md
// §4.A/§4.B).
const RPCProtocolID = "/coda/rpc/1.0.0"

// ConnectTimeout is spec.md §6's "20-second connect timeout".
const ConnectTimeout = 20 * time.Second

// Transport owns the libp2p host and the gossipsub router built on top of
// it.
type Transport struct {
	Host   host.Host
	PubSub *pubsub.PubSub
	logger log.Logger
}

// Options configures New.
type Options struct {
	PrivKey    p2pcrypto.PrivKey
	ListenAddrs []string
	ChainID    string
	Logger     log.Logger
}

// New builds a libp2p host gated by the chain's pre-shared key, with Noise
// XX security and a Yamux muxer under the chain-specific protocol name
// (spec.md §6), plus a gossipsub router over it.
func New(ctx context.Context, opts Options) (*Transport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Noop()
	}

	key := psk.Derive(opts.ChainID)

	libp2pOpts := []libp2p.Option{
		libp2p.Identity(opts.PrivKey),
		libp2p.ListenAddrStrings(opts.ListenAddrs...),
		libp2p.PrivateNetwork(pnet.PSK(key)),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(YamuxProtocolName, yamux.DefaultTransport),
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: new host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithMaxMessageSize(MaxGossipMessageSize))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: new gossipsub: %w", err)
	}

	logger.Info("transport: host ready", "peer_id", h.ID().String(), "listen", opts.ListenAddrs)
	return &Transport{Host: h, PubSub: ps, logger: logger}, nil
}

// Close shuts down the host.
func (t *Transport) Close() error {
	return t.Host.Close()
}

// DialWithTimeout connects to a peer multiaddr, enforcing spec.md §6's
// 20-second connect timeout.
func (t *Transport) DialWithTimeout(ctx context.Context, addr ma.Multiaddr) (network.Conn, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bad peer addr %s: %w", addr, err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := t.Host.Connect(dialCtx, *info); err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", info.ID, err)
	}
	conns := t.Host.Network().ConnsToPeer(info.ID)
	if len(conns) == 0 {
		return nil, fmt.Errorf("transport: connected to %s but no conn recorded", info.ID)
	}
	return conns[0], nil
}

// OpenRPCStream dials addr (if not already connected) and opens a new
// libp2p stream under RPCProtocolID, ready to be wrapped by rpc/stream.New.
func (t *Transport) OpenRPCStream(ctx context.Context, addr ma.Multiaddr) (network.Stream, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bad peer addr %s: %w", addr, err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := t.Host.Connect(dialCtx, *info); err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", info.ID, err)
	}
	s, err := t.Host.NewStream(ctx, info.ID, RPCProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: new stream to %s: %w", info.ID, err)
	}
	return s, nil
}

// JoinConsensusTopic subscribes to the single gossip topic the bootstrap
// orchestrator follows once it reaches the Following state.
func (t *Transport) JoinConsensusTopic() (*pubsub.Topic, *pubsub.Subscription, error) {
	topic, err := t.PubSub.Join(GossipTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, nil, fmt.Errorf("transport: subscribe: %w", err)
	}
	return topic, sub, nil
}
