package transport

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/stretchr/testify/require"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/openmina-labs/bootstrap-go/p2p/identity"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/rpc/stream"
)

func newTestTransport(t *testing.T, chainID string) *Transport {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	tr, err := New(context.Background(), Options{
		PrivKey:     id.Priv,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		ChainID:     chainID,
	})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

// TestOpenRPCStreamHandshakes dials a second in-process host over the
// chain-gated private network and exchanges an rpc/stream handshake plus
// menu exchange over the resulting libp2p stream, proving the transport
// and rpc/stream layers compose the way cmd/bootstrap's record path needs.
func TestOpenRPCStreamHandshakes(t *testing.T) {
	server := newTestTransport(t, "test-chain")
	client := newTestTransport(t, "test-chain")

	serverMenu := []methods.Descriptor{methods.MenuMethod, methods.GetBestTipMethod}
	serverStreams := make(chan network.Stream, 1)
	server.Host.SetStreamHandler(RPCProtocolID, func(s network.Stream) {
		serverStreams <- s
	})

	var serverAddr ma.Multiaddr
	for _, a := range server.Host.Addrs() {
		full, err := ma.NewMultiaddr(a.String() + "/p2p/" + server.Host.ID().String())
		require.NoError(t, err)
		serverAddr = full
		break
	}
	require.NotNil(t, serverAddr)

	clientConn, err := client.OpenRPCStream(context.Background(), serverAddr)
	require.NoError(t, err)

	var serverConn network.Stream
	select {
	case serverConn = <-serverStreams:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the stream")
	}

	clientStream := stream.New(clientConn, stream.Options{Outbound: true})
	serverStream := stream.New(serverConn, stream.Options{Outbound: false, LocalMenu: serverMenu})
	go clientStream.Run()
	go serverStream.Run()
	t.Cleanup(func() {
		clientStream.Close()
		serverStream.Close()
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-clientStream.Events():
			if ev.Kind == stream.EventMenu {
				require.Equal(t, serverMenu, ev.Menu)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for menu exchange over the real transport")
		}
	}
}
