// Package selftest implements the supplemented `test`/`test-graphql` CLI
// subcommands: polling an already-running node's event feed until it
// reports the same head block the locally recorded best_tip names, or
// failing fast on a disagreement. Grounded on
// original_source/bootstrap-sandbox/src/check.rs::{test,test_graphql}.
package selftest

import (
	"fmt"

	"github.com/openmina-labs/bootstrap-go/common"
)

// ErrorKind classifies a check failure the way check.rs's TestError enum
// does.
type ErrorKind int

const (
	BootstrapNotStarted ErrorKind = iota
	BootstrapNotDone
	RootLedgerIsAbsent
	SnarkedLedgerHashMismatch
	HeadBlockIsWrong
	HeadBlockIsNotApplied
	HeadBlockHashMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case BootstrapNotStarted:
		return "bootstrap not started"
	case BootstrapNotDone:
		return "bootstrap not done"
	case RootLedgerIsAbsent:
		return "root ledger is absent"
	case SnarkedLedgerHashMismatch:
		return "snarked ledger hash mismatch"
	case HeadBlockIsWrong:
		return "head block is wrong"
	case HeadBlockIsNotApplied:
		return "head block is not applied"
	case HeadBlockHashMismatch:
		return "head block hash mismatch"
	default:
		return "unknown"
	}
}

// Error reports one failed check, with the expected/actual values that
// produced it where applicable.
type Error struct {
	Kind     ErrorKind
	Expected string
	Actual   string
}

func (e *Error) Error() string {
	if e.Expected == "" && e.Actual == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: expected %s, actual %s", e.Kind, e.Expected, e.Actual)
}

// Fatal reports whether err should abort the poll loop instead of being
// retried (check.rs's TestError::fatal: everything but the "not ready yet"
// trio is fatal).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case BootstrapNotStarted, BootstrapNotDone, RootLedgerIsAbsent:
		return false
	default:
		return true
	}
}

// headState bundles the locally recorded facts both the JSON and GraphQL
// checks compare a peer's self-reported status against.
type headState struct {
	height            uint32
	stateHash         common.StateHash
	snarkedLedgerHash common.Hash
}

func loadHeadState(hasher func(common.ProtocolStateBody) common.StateHash, proofData common.Block, rootSnarked common.Block) headState {
	proofData.Header.ProtocolState.SetKnownHash(hasher(proofData.Header.ProtocolState.Body))
	return headState{
		height:            proofData.Height(),
		stateHash:         proofData.Header.ProtocolState.Hash(nil),
		snarkedLedgerHash: rootSnarked.Header.ProtocolState.Body.BlockchainState.LedgerProofStatement.Target.FirstPassLedger,
	}
}
