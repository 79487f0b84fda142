package selftest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/session"
)

const graphqlQuery = `
query MyQuery {
	syncStatus
	bestChain(maxLength: 1) {
		stateHash
		protocolState {
			consensusState {
				blockHeight
			}
			blockchainState {
				snarkedLedgerHash
			}
		}
	}
}`

// GraphQLResponse mirrors the "data" object of the node's GraphQL query
// response (check.rs::test_graphql's local Response struct).
type GraphQLResponse struct {
	SyncStatus string          `json:"syncStatus"`
	BestChain  []GraphQLChain  `json:"bestChain"`
}

type GraphQLChain struct {
	StateHash      string               `json:"stateHash"`
	ProtocolState  GraphQLProtocolState `json:"protocolState"`
}

type GraphQLProtocolState struct {
	ConsensusState  GraphQLConsensusState  `json:"consensusState"`
	BlockchainState GraphQLBlockchainState `json:"blockchainState"`
}

type GraphQLConsensusState struct {
	// BlockHeight arrives as either a JSON number or a numeric string
	// depending on node version, so it's decoded raw and parsed in
	// blockHeight() below.
	BlockHeight json.RawMessage `json:"blockHeight"`
}

func (c GraphQLConsensusState) blockHeight() (uint32, bool) {
	var n int64
	if err := json.Unmarshal(c.BlockHeight, &n); err == nil {
		return uint32(n), true
	}
	var s string
	if err := json.Unmarshal(c.BlockHeight, &s); err == nil {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			return uint32(n), true
		}
	}
	return 0, false
}

type GraphQLBlockchainState struct {
	SnarkedLedgerHash string `json:"snarkedLedgerHash"`
}

// GraphQLSource queries a GraphQL endpoint for the fixed query above.
type GraphQLSource interface {
	Query(ctx context.Context) (GraphQLResponse, error)
}

// HTTPGraphQLSource sends the fixed query to a GraphQL endpoint as the
// "query" parameter of a GET request and decodes its "data" object.
type HTTPGraphQLSource struct {
	Client *http.Client
	URL    string
}

func (s HTTPGraphQLSource) Query(ctx context.Context) (GraphQLResponse, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	q := url.Values{"query": {graphqlQuery}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"?"+q.Encode(), nil)
	if err != nil {
		return GraphQLResponse{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return GraphQLResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GraphQLResponse{}, err
	}

	var envelope struct {
		Data GraphQLResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return GraphQLResponse{}, fmt.Errorf("selftest: decoding graphql response: %w (body: %s)", err, body)
	}
	return envelope.Data, nil
}

func checkGraphQL(resp GraphQLResponse, head headState) error {
	if resp.SyncStatus != "SYNCED" {
		return &Error{Kind: BootstrapNotDone}
	}
	if len(resp.BestChain) == 0 {
		return &Error{Kind: BootstrapNotDone}
	}
	chain := resp.BestChain[0]

	height, ok := chain.ProtocolState.ConsensusState.blockHeight()
	if !ok {
		return &Error{Kind: BootstrapNotDone}
	}
	if height < head.height {
		return &Error{Kind: BootstrapNotDone}
	}
	if height > head.height {
		return &Error{Kind: HeadBlockIsWrong, Expected: fmt.Sprintf("%d", head.height), Actual: fmt.Sprintf("%d", height)}
	}

	snarkedHashStr := head.snarkedLedgerHash.String()
	if snarkedHashStr != chain.ProtocolState.BlockchainState.SnarkedLedgerHash {
		return &Error{Kind: SnarkedLedgerHashMismatch, Expected: snarkedHashStr, Actual: chain.ProtocolState.BlockchainState.SnarkedLedgerHash}
	}

	stateHashStr := head.stateHash.String()
	if chain.StateHash != stateHashStr {
		return &Error{Kind: HeadBlockHashMismatch, Expected: stateHashStr, Actual: chain.StateHash}
	}

	return nil
}

// RunGraphQL is Run's GraphQL-endpoint counterpart
// (check.rs::test_graphql).
func RunGraphQL(ctx context.Context, sess *session.Session, height uint32, hasher func(common.ProtocolStateBody) common.StateHash, source GraphQLSource, logger log.Logger) error {
	if logger == nil {
		logger = log.Noop()
	}

	data, ok, err := session.ReadBlob(sess.BestTipPath(height))
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "selftest.read_best_tip", err)
	}
	if !ok {
		return ierrors.New(ierrors.KindLogical, "selftest", fmt.Errorf("no best_tip recorded at height %d", height))
	}
	proof, err := methods.DecodeGetBestTipResponse(data)
	if err != nil {
		return ierrors.New(ierrors.KindProtocol, "selftest.decode_best_tip", err)
	}
	if proof == nil {
		return ierrors.New(ierrors.KindLogical, "selftest", fmt.Errorf("recorded best_tip at height %d is empty", height))
	}

	head := loadHeadState(hasher, proof.Data, proof.Proof.Root)

	for {
		resp, err := source.Query(ctx)
		if err != nil {
			return ierrors.New(ierrors.KindTransport, "selftest.graphql_query", err)
		}
		checkErr := checkGraphQL(resp, head)
		if checkErr == nil {
			return nil
		}
		var selftestErr *Error
		if !asSelftestError(checkErr, &selftestErr) || selftestErr.Fatal() {
			return ierrors.New(ierrors.KindLogical, "selftest.check_graphql", checkErr)
		}
		logger.Info("selftest: not ready yet, retrying", "err", checkErr, "sleep", retryInterval)
		select {
		case <-ctx.Done():
			return ierrors.New(ierrors.KindCancelled, "selftest.wait", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
