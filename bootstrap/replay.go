package bootstrap

import (
	"context"
	"errors"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

var errUnknownSyncQueryKind = errors.New("bootstrap: unknown sync query kind")

// Ledger is the read side of the on-disk Merkle account database (spec.md
// §1 treats the database itself as an external collaborator; this package
// only needs the lookups a replay server answers queries from).
type Ledger interface {
	InnerHashAt(addr common.MerkleAddr) (hash common.Hash, ok bool, err error)
	AccountAt(index uint64) (account common.Account, ok bool, err error)
	NumAccounts() (uint32, error)
	MerkleRoot() (common.Hash, error)
}

// ReplayServer answers answer_sync_ledger_query requests against a local
// Ledger, the role the original peer played during sync/ledger's
// reconciliation (spec.md §4.F: "the replay CLI also exposes the same RPC
// surface so a second client can sync against it", §8 S5).
type ReplayServer struct {
	ledger Ledger
}

// NewReplayServer wraps ledger as an answer_sync_ledger_query responder.
func NewReplayServer(ledger Ledger) *ReplayServer {
	return &ReplayServer{ledger: ledger}
}

// AnswerSyncLedgerQuery implements sync/ledger.Querier from the server
// side: it never calls out over the network, just reads the local Ledger.
func (s *ReplayServer) AnswerSyncLedgerQuery(ctx context.Context, q methods.SyncQuery) (methods.SyncAnswer, error) {
	switch q.Kind {
	case methods.SyncQueryNumAccounts:
		return s.answerNumAccounts()
	case methods.SyncQueryWhatChildHashes:
		return s.answerChildHashes(q.Addr)
	case methods.SyncQueryWhatContents:
		return s.answerContents(q.Addr)
	default:
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindProtocol, "bootstrap.replay.answer", errUnknownSyncQueryKind)
	}
}

func (s *ReplayServer) answerNumAccounts() (methods.SyncAnswer, error) {
	n, err := s.ledger.NumAccounts()
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.num_accounts", err)
	}
	root, err := s.ledger.MerkleRoot()
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.merkle_root", err)
	}
	return methods.SyncAnswer{Kind: methods.SyncAnswerNumAccountsAre, NumAccounts: n, RootHash: root}, nil
}

func (s *ReplayServer) answerChildHashes(addr common.MerkleAddr) (methods.SyncAnswer, error) {
	pos := leafPosition(addr)
	leftAddr := common.NewMerkleAddr(addr.Depth+1, pos*2)
	rightAddr := common.NewMerkleAddr(addr.Depth+1, pos*2+1)

	left, ok, err := s.ledger.InnerHashAt(leftAddr)
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.left_hash", err)
	}
	if !ok {
		return methods.SyncAnswer{Kind: methods.SyncAnswerCouldNotConstruct, Reason: "left subtree not held"}, nil
	}
	right, ok, err := s.ledger.InnerHashAt(rightAddr)
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.right_hash", err)
	}
	if !ok {
		return methods.SyncAnswer{Kind: methods.SyncAnswerCouldNotConstruct, Reason: "right subtree not held"}, nil
	}
	return methods.SyncAnswer{Kind: methods.SyncAnswerChildHashesAre, Left: left, Right: right}, nil
}

// answerContents returns up to LeafChunkSize consecutive accounts starting
// at leaf index pos*LeafChunkSize, truncating at NumAccounts (spec.md §4.F:
// "up to 8 consecutive accounts starting at leaf index p*8, truncating at
// num"). A ledger whose account count isn't a multiple of LeafChunkSize
// still answers its final, short chunk instead of refusing it.
func (s *ReplayServer) answerContents(addr common.MerkleAddr) (methods.SyncAnswer, error) {
	pos := leafPosition(addr)
	start := pos * common.LeafChunkSize

	num, err := s.ledger.NumAccounts()
	if err != nil {
		return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.num_accounts", err)
	}
	if start >= uint64(num) {
		return methods.SyncAnswer{Kind: methods.SyncAnswerContentsAre, Accounts: []common.Account{}}, nil
	}

	want := uint64(common.LeafChunkSize)
	if remaining := uint64(num) - start; remaining < want {
		want = remaining
	}

	accounts := make([]common.Account, 0, want)
	for i := uint64(0); i < want; i++ {
		account, ok, err := s.ledger.AccountAt(start + i)
		if err != nil {
			return methods.SyncAnswer{}, ierrors.New(ierrors.KindTransport, "bootstrap.replay.account_at", err)
		}
		if !ok {
			return methods.SyncAnswer{Kind: methods.SyncAnswerCouldNotConstruct, Reason: "leaf chunk not fully populated"}, nil
		}
		accounts = append(accounts, account)
	}
	return methods.SyncAnswer{Kind: methods.SyncAnswerContentsAre, Accounts: accounts}, nil
}

// leafPosition recovers the integer position addr encodes, the inverse of
// common.NewMerkleAddr's shift (mirrors sync/ledger's unexported helper of
// the same name; duplicated rather than exported across packages since
// it's a five-line coordinate inverse, not shared state).
func leafPosition(addr common.MerkleAddr) uint64 {
	var padded [4]byte
	copy(padded[:], addr.Prefix)
	raw := uint64(padded[0])<<24 | uint64(padded[1])<<16 | uint64(padded[2])<<8 | uint64(padded[3])
	shift := uint(32 - addr.Depth)
	return raw >> shift
}
