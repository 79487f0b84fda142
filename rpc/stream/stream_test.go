package stream

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (io.ReadWriteCloser, io.ReadWriteCloser) {
	t.Helper()
	a, b := net.Pipe()
	return a, b
}

func drainEvents(t *testing.T, s *Stream, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("stream closed before %v observed", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

func TestHandshakeThenMenuExchange(t *testing.T) {
	clientConn, serverConn := pipePair(t)

	clientMenu := []methods.Descriptor{methods.MenuMethod, methods.GetBestTipMethod}
	serverMenu := []methods.Descriptor{methods.MenuMethod, methods.GetSomeInitialPeersMethod}

	client := New(clientConn, Options{Outbound: true, LocalMenu: clientMenu})
	server := New(serverConn, Options{Outbound: false, LocalMenu: serverMenu})

	go client.Run()
	go server.Run()

	drainEvents(t, client, EventHandshakeDone, time.Second)
	drainEvents(t, server, EventHandshakeDone, time.Second)

	ev := drainEvents(t, client, EventMenu, time.Second)
	require.Equal(t, serverMenu, ev.Menu)
}

func TestQueryResponseRoundTrip(t *testing.T) {
	clientConn, serverConn := pipePair(t)
	client := New(clientConn, Options{Outbound: true, LocalMenu: nil})
	server := New(serverConn, Options{Outbound: false, LocalMenu: nil})

	go client.Run()
	go server.Run()

	drainEvents(t, client, EventHandshakeDone, time.Second)
	drainEvents(t, server, EventHandshakeDone, time.Second)
	drainEvents(t, client, EventMenu, time.Second) // server auto-answers client's menu query

	go func() {
		ev := drainEvents(t, server, EventQuery, time.Second)
		require.Equal(t, "get_best_tip", ev.Header.Method)
		server.Respond(ev.Header.ID, []byte("tip-bytes"))
	}()

	resp, err := client.QueryNextAwait(2, "get_best_tip", []byte("query-bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("tip-bytes"), resp.Body)
}

func TestDuplicateAndNonMonotoneIDsRejected(t *testing.T) {
	clientConn, serverConn := pipePair(t)
	client := New(clientConn, Options{Outbound: true})
	server := New(serverConn, Options{Outbound: false})
	go client.Run()
	go server.Run()
	drainEvents(t, client, EventHandshakeDone, time.Second)

	require.NoError(t, client.Query(100, 1, "m", nil))
	require.ErrorIs(t, client.Query(100, 1, "m", nil), ErrDuplicateID)
	require.ErrorIs(t, client.Query(50, 1, "m", nil), ErrNonMonotoneID)
}

func TestCloseCancelsPendingQueries(t *testing.T) {
	clientConn, serverConn := pipePair(t)
	client := New(clientConn, Options{Outbound: true})
	server := New(serverConn, Options{Outbound: false})
	go client.Run()
	go server.Run()
	drainEvents(t, client, EventHandshakeDone, time.Second)

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.QueryNextAwait(2, "get_best_tip", nil)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-resultCh:
		require.ErrorIs(t, err, ErrLibp2pStopped)
	case <-time.After(time.Second):
		t.Fatal("pending query was not cancelled on close")
	}
}
