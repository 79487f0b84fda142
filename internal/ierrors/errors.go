// Package ierrors classifies the five error kinds spec.md §7 names, so that
// every call site — RPC call, reconciler step, backfill walk, applier
// assertion — can be handled uniformly by the orchestrator instead of by
// string-matching. Grounded on the teacher's sentinel-error convention
// (eth/downloader/peer_test.go's errAlreadyFetching/errNotRegistered,
// potecoin-Potecoin/eth/handler.go's errResp/errIncompatibleConfig).
package ierrors

import (
	"errors"
	"fmt"
)

// Kind distinguishes the five error categories of spec.md §7.
type Kind int

const (
	// KindTransport covers I/O, Noise handshake failure, Yamux resets.
	KindTransport Kind = iota
	// KindProtocol covers malformed frames, unknown tags, version mismatch.
	KindProtocol
	// KindLogical covers well-formed but negative peer responses
	// (CouldNotConstruct, a null best tip).
	KindLogical
	// KindIntegrity covers hash-equality assertion failures; always fatal.
	KindIntegrity
	// KindCancelled covers user shutdown or a stream closing mid-RPC.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindLogical:
		return "logical"
	case KindIntegrity:
		return "integrity"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its Kind, so the orchestrator can
// type-switch on Kind without parsing error strings.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "rpc.query", "ledger.reconcile"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fatal reports whether an error of this kind always poisons the current
// session (spec.md §7 kind 4: integrity errors are always fatal; the other
// kinds are retryable or benign).
func (e *Error) Fatal() bool {
	return e.Kind == KindIntegrity
}

// IsFatal is a convenience wrapper for callers holding a plain error, not
// necessarily an *Error (e.g. one that has been wrapped further up).
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// Sentinel logical-error values the peer can legitimately return; these are
// not failures of the RPC layer itself (spec.md §7: "peer returned None"
// must be distinguished from "peer failed").
var (
	// ErrCouldNotConstruct is returned by a peer that no longer holds the
	// requested Merkle subtree snapshot (spec.md §4.C, §8 S3).
	ErrCouldNotConstruct = errors.New("peer could not construct subtree")
	// ErrNoBestTip is the "peer returned None" best-tip outcome (spec.md
	// §4.F AwaitingBestTip, §8 S2).
	ErrNoBestTip = errors.New("peer has no best tip yet")
	// ErrUnimplemented is returned when a peer's menu does not include a
	// method we queried (spec.md §8 S1).
	ErrUnimplemented = errors.New("peer does not implement method")
)

// IntegrityMismatch builds a fatal KindIntegrity error describing a hash
// equality assertion failure, the single most important failure mode in
// this repository (spec.md §8 properties 1 and 2).
func IntegrityMismatch(op string, expected, actual fmt.Stringer) *Error {
	return New(KindIntegrity, op, fmt.Errorf("hash mismatch: expected %s, actual %s", expected, actual))
}
