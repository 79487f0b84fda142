package main

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/openmina-labs/bootstrap-go/bootstrap"
	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/p2p/transport"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/rpc/stream"
	"github.com/openmina-labs/bootstrap-go/session"
)

// replayLedger serves bootstrap.Ledger reads out of a recorded ledger dump
// (spec.md §6 "<height>/ledgers/<hash>"), loaded once into memory. Account
// enumeration is real; inner-hash/root lookups still route through
// ErrCollaboratorNotWired since this build ships no Merkle-hashing
// cryptography (spec.md §1's external-collaborator boundary).
type replayLedger struct {
	accounts []common.Account
}

func loadReplayLedger(sess *session.Session, height uint32, ledgerHash common.LedgerHash) (*replayLedger, error) {
	var accounts []common.Account
	ok, err := session.ReadJSON(sess.LedgerDumpPath(height, ledgerHash), &accounts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("replay: no recorded ledger dump for height %d hash %s", height, ledgerHash)
	}
	return &replayLedger{accounts: accounts}, nil
}

func (l *replayLedger) InnerHashAt(common.MerkleAddr) (common.Hash, bool, error) {
	return common.Hash{}, false, ErrCollaboratorNotWired
}

func (l *replayLedger) AccountAt(index uint64) (common.Account, bool, error) {
	if index >= uint64(len(l.accounts)) {
		return common.Account{}, false, nil
	}
	return l.accounts[index], true, nil
}

func (l *replayLedger) NumAccounts() (uint32, error) {
	return uint32(len(l.accounts)), nil
}

func (l *replayLedger) MerkleRoot() (common.Hash, error) {
	return common.Hash{}, ErrCollaboratorNotWired
}

// serveReplay drives srv against every RPC stream a peer opens to tr,
// answering AnswerSyncLedgerQuery from the recorded dump (spec.md §4.F's
// "symmetric replay server", §8 S5). It blocks until ctx is cancelled.
func serveReplay(ctx context.Context, tr *transport.Transport, srv *bootstrap.ReplayServer, logger log.Logger) error {
	conns := make(chan network.Stream, 8)
	tr.Host.SetStreamHandler(transport.RPCProtocolID, func(s network.Stream) {
		select {
		case conns <- s:
		case <-ctx.Done():
			_ = s.Close()
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case conn := <-conns:
			go serveReplayConn(ctx, conn, srv, logger)
		}
	}
}

func serveReplayConn(ctx context.Context, conn network.Stream, srv *bootstrap.ReplayServer, logger log.Logger) {
	s := stream.New(conn, stream.Options{Outbound: false, LocalMenu: methods.Catalog, Logger: logger})
	go s.Run()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case stream.EventConnectionClosed:
				return
			case stream.EventQuery:
				if ev.Header.Method != methods.AnswerSyncLedgerQueryMethod.Tag {
					continue
				}
				q, err := methods.DecodeAnswerSyncLedgerQuery(ev.Body)
				if err != nil {
					logger.Warn("replay: bad query, dropping", "err", err)
					continue
				}
				answer, err := srv.AnswerSyncLedgerQuery(ctx, q)
				if err != nil {
					logger.Warn("replay: could not answer query", "err", err)
					continue
				}
				s.Respond(ev.Header.ID, methods.EncodeAnswerSyncLedgerResponse(answer))
			}
		}
	}
}
