package selftest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/session"
)

// retryInterval is check.rs's 60-second wait between non-fatal poll
// attempts.
var retryInterval = 60 * time.Second

// Event is one entry of the node's self-reported JSON event feed
// (check.rs::test's local Event struct).
type Event struct {
	Kind      string             `json:"kind"`
	Synced    *uint64            `json:"synced"`
	Ledgers   map[string]Ledgers `json:"ledgers"`
	Blocks    []Block            `json:"blocks"`
}

// Ledgers holds the snarked/staged ledger status for one tracked root
// (check.rs::test's local Ledgers struct).
type Ledgers struct {
	Snarked *Ledger `json:"snarked"`
	Staged  *Ledger `json:"staged"`
}

// Ledger names which ledger hash a root reports.
type Ledger struct {
	Hash string `json:"hash"`
}

// Block is one cached block's replay status, as the node's event feed
// reports it (check.rs::test's local Block struct).
type Block struct {
	Height   *uint32 `json:"height"`
	Hash     string  `json:"hash"`
	PredHash string  `json:"pred_hash"`
	Status   string  `json:"status"`
}

// EventFeed fetches the current event log from a running node. The single
// production implementation is an HTTP GET against a fixed URL returning a
// JSON array of Event; DESIGN.md justifies stdlib net/http+encoding/json
// here since no REST/GraphQL client in the pack fits one hardcoded query
// any better than a plain GET.
type EventFeed interface {
	FetchEvents(ctx context.Context) ([]Event, error)
}

// HTTPEventFeed is the production EventFeed: a GET against url, decoded as
// a JSON array of Event.
type HTTPEventFeed struct {
	Client *http.Client
	URL    string
}

func (f HTTPEventFeed) FetchEvents(ctx context.Context) ([]Event, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("selftest: decoding event feed: %w (body: %s)", err, body)
	}
	return events, nil
}

func checkEvents(events []Event, head headState) error {
	var bootstrap *Event
	for i := range events {
		if events[i].Kind == "Bootstrap" {
			bootstrap = &events[i]
			break
		}
	}
	if bootstrap == nil {
		return &Error{Kind: BootstrapNotStarted}
	}
	if bootstrap.Synced == nil {
		return &Error{Kind: BootstrapNotDone}
	}

	root, ok := bootstrap.Ledgers["root"]
	if !ok || root.Snarked == nil || root.Staged == nil {
		return &Error{Kind: RootLedgerIsAbsent}
	}

	snarkedHashStr := head.snarkedLedgerHash.String()
	if snarkedHashStr != root.Snarked.Hash {
		return &Error{Kind: SnarkedLedgerHashMismatch, Expected: snarkedHashStr, Actual: root.Snarked.Hash}
	}

	if len(bootstrap.Blocks) == 0 {
		return &Error{Kind: HeadBlockIsWrong, Expected: fmt.Sprintf("%d", head.height), Actual: "0"}
	}
	headBlock := bootstrap.Blocks[0]
	if headBlock.Height == nil || *headBlock.Height != head.height {
		actual := "none"
		if headBlock.Height != nil {
			actual = fmt.Sprintf("%d", *headBlock.Height)
		}
		return &Error{Kind: HeadBlockIsWrong, Expected: fmt.Sprintf("%d", head.height), Actual: actual}
	}

	if headBlock.Status != "Applied" {
		return &Error{Kind: HeadBlockIsNotApplied}
	}

	stateHashStr := head.stateHash.String()
	if headBlock.Hash != stateHashStr {
		return &Error{Kind: HeadBlockHashMismatch, Expected: stateHashStr, Actual: headBlock.Hash}
	}

	return nil
}

// Run polls feed until the node's reported status matches the best_tip
// recorded at height under sess, or a fatal mismatch is found. A non-fatal
// mismatch (bootstrap hasn't started or finished yet) is retried every
// 60s; ctx cancellation aborts the wait.
func Run(ctx context.Context, sess *session.Session, height uint32, hasher func(common.ProtocolStateBody) common.StateHash, feed EventFeed, logger log.Logger) error {
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
		events, err := feed.FetchEvents(ctx)
		if err != nil {
			return ierrors.New(ierrors.KindTransport, "selftest.fetch_events", err)
		}
		checkErr := checkEvents(events, head)
		if checkErr == nil {
			return nil
		}
		var selftestErr *Error
		if !asSelftestError(checkErr, &selftestErr) || selftestErr.Fatal() {
			return ierrors.New(ierrors.KindLogical, "selftest.check", checkErr)
		}
		logger.Info("selftest: not ready yet, retrying", "err", checkErr, "sleep", retryInterval)
		select {
		case <-ctx.Done():
			return ierrors.New(ierrors.KindCancelled, "selftest.wait", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

func asSelftestError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
