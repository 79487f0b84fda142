// Package stream implements component B of spec.md §4.B: the per-connection
// RPC stream lifecycle on top of rpc/codec's frames and rpc/methods' method
// catalog. Each Stream owns a read pump and a write pump goroutine (the
// "direction flip" of spec.md §4.B is naturally expressed here as two
// independent goroutines rather than a manual poll toggle, since Go gives
// us real concurrency instead of a single-threaded event loop — the
// fairness property the spec describes falls out of the scheduler for
// free). Upward events are delivered on a channel, the same
// channel-fan-in idiom the teacher's eth/handler.go uses for peer
// lifecycle events.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/codec"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// State is the per-stream lifecycle state of spec.md §4.B's state table.
type State int

const (
	StateOpening State = iota
	StateHandshakeSent
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateHandshakeSent:
		return "handshake-sent"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrLibp2pStopped is delivered to every pending query when a stream closes
// out from under it (spec.md §4.B "Cancellation").
var ErrLibp2pStopped = errors.New("stream: libp2p stream stopped")

// ErrDuplicateID is returned by Query when the caller reuses a request ID
// still awaiting a response.
var ErrDuplicateID = errors.New("stream: duplicate request id")

// ErrNonMonotoneID is returned by Query when id does not strictly increase
// over the last id this stream issued (spec.md §4.B "enforces
// monotone-increasing IDs").
var ErrNonMonotoneID = errors.New("stream: request id is not monotone increasing")

// EventKind distinguishes the upward events of spec.md §4.B.
type EventKind int

const (
	EventConnectionEstablished EventKind = iota
	EventConnectionClosed
	EventHandshakeDone
	EventMenu
	EventQuery
	EventResponse
)

// Event is an upward notification from the stream engine to the
// orchestrator.
type Event struct {
	Kind   EventKind
	Header codec.MessageHeader
	Body   []byte
	Menu   []methods.Descriptor
	Err    error
}

// pendingCall is a query awaiting its matching response.
type pendingCall struct {
	method string
	result chan Event
}

// Stream drives one RPC substream's frame exchange. Direction (initiator
// vs. responder) decides whether the menu query is sent automatically once
// the handshake completes (spec.md §4.B HandshakeSent→Ready).
type Stream struct {
	conn      io.ReadWriteCloser
	outbound  bool
	localMenu []methods.Descriptor
	logger    log.Logger

	events chan Event
	writeq chan codec.Frame

	mu      sync.Mutex
	state   State
	lastID  int64
	pending map[int64]*pendingCall

	closeOnce sync.Once
	closed    chan struct{}
}

// Options configures a new Stream.
type Options struct {
	// Outbound marks this stream as the initiator; only outbound streams
	// send the VersionedRpcMenu query once the handshake completes
	// (spec.md §4.B HandshakeSent state).
	Outbound bool
	// LocalMenu is the method catalog this side answers
	// VersionedRpcMenu queries with.
	LocalMenu []methods.Descriptor
	Logger    log.Logger
}

// New wraps conn in a Stream. It starts no goroutines and performs no I/O;
// the caller must call Run, which starts the read and write pumps.
func New(conn io.ReadWriteCloser, opts Options) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = log.Noop()
	}
	return &Stream{
		conn:      conn,
		outbound:  opts.Outbound,
		localMenu: opts.LocalMenu,
		logger:    logger,
		events:    make(chan Event, 32),
		writeq:    make(chan codec.Frame, 32),
		state:     StateOpening,
		pending:   make(map[int64]*pendingCall),
		closed:    make(chan struct{}),
	}
}

// Events returns the channel of upward notifications.
func (s *Stream) Events() <-chan Event { return s.events }

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run services the stream until it closes, running the read pump on the
// calling goroutine and the write pump on a spawned one; it returns once
// both have stopped. Callers typically invoke this in its own goroutine.
func (s *Stream) Run() {
	s.emit(Event{Kind: EventConnectionEstablished})
	s.setState(StateHandshakeSent)

	// The handshake is written from the write-pump goroutine so the read
	// pump is already draining the peer's handshake; on an unbuffered
	// conn both sides would otherwise block in Write.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sendHandshake()
		s.writePump()
	}()

	s.readPump()
	wg.Wait()
}

func (s *Stream) sendHandshake() {
	s.writeRaw(codec.HandshakeMagic)
}

func (s *Stream) writeRaw(b []byte) {
	select {
	case <-s.closed:
	default:
		if _, err := s.conn.Write(b); err != nil {
			s.fail(ierrors.New(ierrors.KindTransport, "stream.write", err))
		}
	}
}

func (s *Stream) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.writeq:
			encoded, err := codec.Encode(frame.Header, frame.Body)
			if err != nil {
				s.fail(ierrors.New(ierrors.KindProtocol, "stream.encode", err))
				return
			}
			s.writeRaw(encoded)
		}
	}
}

func (s *Stream) enqueueFrame(header codec.MessageHeader, body []byte) {
	select {
	case s.writeq <- codec.Frame{Header: header, Body: body}:
	case <-s.closed:
	}
}

func (s *Stream) readPump() {
	r := bufio.NewReader(s.conn)
	for {
		frame, err := codec.Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.closeWith(nil)
			} else {
				s.fail(ierrors.New(ierrors.KindTransport, "stream.read", err))
			}
			return
		}
		if err := s.step(frame); err != nil {
			s.fail(err)
			return
		}
	}
}

// step is the state-transition function of spec.md §4.B's table, applied
// to one decoded frame.
func (s *Stream) step(frame codec.Frame) error {
	if codec.IsHandshake(frame.Header) {
		return s.onHandshake()
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateHandshakeSent, StateOpening:
		return ierrors.New(ierrors.KindProtocol, "stream.step",
			fmt.Errorf("frame received before handshake in state %s", state))
	case StateClosed:
		return nil
	}

	switch frame.Header.Kind {
	case codec.TagHeartbeat:
		s.enqueueFrame(codec.NewHeartbeat(), nil)
		return nil
	case codec.TagQuery:
		return s.onQuery(frame)
	case codec.TagResponse:
		return s.onResponse(frame)
	default:
		return ierrors.New(ierrors.KindProtocol, "stream.step", fmt.Errorf("unknown frame tag"))
	}
}

func (s *Stream) onHandshake() error {
	s.setState(StateReady)
	s.emit(Event{Kind: EventHandshakeDone})
	if s.outbound {
		_, err := s.QueryNext(methods.MenuMethod.Version, methods.MenuMethod.Tag, nil)
		return err
	}
	return nil
}

func (s *Stream) onQuery(frame codec.Frame) error {
	if frame.Header.Method == methods.MenuMethod.Tag {
		body := methods.EncodeMenuResponse(s.localMenu)
		s.enqueueFrame(codec.NewResponse(frame.Header.ID), body)
		return nil
	}
	s.emit(Event{Kind: EventQuery, Header: frame.Header, Body: frame.Body})
	return nil
}

func (s *Stream) onResponse(frame codec.Frame) error {
	s.mu.Lock()
	call, ok := s.pending[frame.Header.ID]
	if ok {
		delete(s.pending, frame.Header.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("stream: response for unknown id", "id", frame.Header.ID)
		return nil
	}

	if call.method == methods.MenuMethod.Tag {
		menu, err := methods.DecodeMenuResponse(frame.Body)
		if err != nil {
			return ierrors.New(ierrors.KindProtocol, "stream.decode-menu", err)
		}
		s.emit(Event{Kind: EventMenu, Menu: menu})
		call.result <- Event{Kind: EventMenu, Menu: menu}
		close(call.result)
		return nil
	}

	ev := Event{Kind: EventResponse, Header: frame.Header, Body: frame.Body}
	s.emit(ev)
	call.result <- ev
	close(call.result)
	return nil
}

// Query enqueues an outgoing Query frame under id, which must strictly
// exceed every id this stream has previously sent (spec.md §4.B: "the
// engine rejects duplicate IDs and enforces monotone-increasing IDs").
func (s *Stream) Query(id int64, version int32, method string, payload []byte) error {
	_, err := s.query(id, version, method, payload)
	return err
}

// QueryAwait is Query plus blocking on the matching response.
func (s *Stream) QueryAwait(id int64, version int32, method string, payload []byte) (Event, error) {
	ch, err := s.query(id, version, method, payload)
	if err != nil {
		return Event{}, err
	}
	select {
	case ev := <-ch:
		if ev.Err != nil {
			return Event{}, ev.Err
		}
		return ev, nil
	case <-s.closed:
		return Event{}, ierrors.New(ierrors.KindCancelled, fmt.Sprintf("stream.query[%d]", id), ErrLibp2pStopped)
	}
}

func (s *Stream) query(id int64, version int32, method string, payload []byte) (chan Event, error) {
	s.mu.Lock()
	if _, dup := s.pending[id]; dup {
		s.mu.Unlock()
		return nil, ErrDuplicateID
	}
	if id <= s.lastID {
		s.mu.Unlock()
		return nil, ErrNonMonotoneID
	}
	s.lastID = id
	ch := make(chan Event, 1)
	s.pending[id] = &pendingCall{method: method, result: ch}
	s.mu.Unlock()

	s.enqueueFrame(codec.NewQuery(id, method, version), payload)
	return ch, nil
}

// QueryNext is Query with the id chosen automatically as one past the last
// id this stream issued, atomically with reserving it. Most callers that
// don't need to correlate ids across streams should use this instead of
// minting ids themselves.
func (s *Stream) QueryNext(version int32, method string, payload []byte) (int64, error) {
	s.mu.Lock()
	id := s.lastID + 1
	s.lastID = id
	ch := make(chan Event, 1)
	s.pending[id] = &pendingCall{method: method, result: ch}
	s.mu.Unlock()

	s.enqueueFrame(codec.NewQuery(id, method, version), payload)
	return id, nil
}

// QueryNextAwait is QueryNext plus blocking on the matching response.
func (s *Stream) QueryNextAwait(version int32, method string, payload []byte) (Event, error) {
	s.mu.Lock()
	id := s.lastID + 1
	s.lastID = id
	ch := make(chan Event, 1)
	s.pending[id] = &pendingCall{method: method, result: ch}
	s.mu.Unlock()

	s.enqueueFrame(codec.NewQuery(id, method, version), payload)

	select {
	case ev := <-ch:
		if ev.Err != nil {
			return Event{}, ev.Err
		}
		return ev, nil
	case <-s.closed:
		return Event{}, ierrors.New(ierrors.KindCancelled, fmt.Sprintf("stream.query[%d]", id), ErrLibp2pStopped)
	}
}

// Respond encodes and enqueues a Response frame for a previously observed
// Query id.
func (s *Stream) Respond(id int64, body []byte) {
	s.enqueueFrame(codec.NewResponse(id), body)
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Stream) fail(err error) {
	s.closeWith(err)
}

func (s *Stream) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closed)
		_ = s.conn.Close()

		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		cancelErr := ierrors.New(ierrors.KindCancelled, "stream.closed", ErrLibp2pStopped)
		for _, call := range pending {
			call.result <- Event{Kind: EventResponse, Err: cancelErr}
			close(call.result)
		}

		select {
		case s.events <- Event{Kind: EventConnectionClosed, Err: err}:
		default:
		}
	})
}

// Close shuts down the stream, cancelling every pending query with
// ErrLibp2pStopped (spec.md §4.B "Cancellation").
func (s *Stream) Close() error {
	s.closeWith(nil)
	return nil
}
