// Command bootstrap drives a Mina-style proof-of-stake bootstrap client
// through the subcommands spec.md §6 names: record, replay, again, test,
// test-graphql, archive, empty. Grounded on
// original_source/bootstrap-sandbox/src/main.rs's subcommand dispatch,
// rebuilt atop github.com/urfave/cli/v2 the way the teacher's cmd/geth
// does (cmd/geth/main.go's cli.App + flag/command split).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/openmina-labs/bootstrap-go/bootstrap"
	"github.com/openmina-labs/bootstrap-go/bootstrap/selftest"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/p2p/identity"
	"github.com/openmina-labs/bootstrap-go/p2p/transport"
	"github.com/openmina-labs/bootstrap-go/rpc/client"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
	"github.com/openmina-labs/bootstrap-go/rpc/stream"
	"github.com/openmina-labs/bootstrap-go/session"
	"github.com/openmina-labs/bootstrap-go/stagedledger"
)

var (
	pathFlag = &cli.StringFlag{
		Name:  "path",
		Usage: "session root directory (spec.md §6 on-disk layout)",
		Value: "./bootstrap-session",
	}
	chainIDFlag = &cli.StringFlag{
		Name:  "chain-id",
		Usage: "chain identifier the pre-shared network key is derived from",
		Value: "mainnet",
	}
	listenFlag = &cli.StringSliceFlag{
		Name:  "listen",
		Usage: "libp2p listen multiaddr, repeatable",
	}
	peerFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "peer multiaddr to dial, repeatable",
	}
)

func main() {
	logger := log.NewDefault()
	app := &cli.App{
		Name:  "bootstrap",
		Usage: "bootstrap client for a Mina-style proof-of-stake blockchain",
		Flags: []cli.Flag{pathFlag, chainIDFlag, listenFlag, peerFlag},
		Commands: []*cli.Command{
			recordCommand(logger),
			replayCommand(logger),
			againCommand(logger),
			testCommand(logger),
			testGraphQLCommand(logger),
			archiveCommand(logger),
			emptyCommand(logger),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap:", err)
		if ierrors.IsFatal(err) {
			os.Exit(1)
		}
		os.Exit(1)
	}
}

func openSession(c *cli.Context) (*session.Session, error) {
	return session.Open(c.String("path"))
}

// dialPeers resolves this host's identity, brings up the libp2p transport
// gated by --chain-id, and opens one RPC stream (and rpc/client.Client
// wrapper) per --peer address.
func dialPeers(ctx context.Context, c *cli.Context, logger log.Logger) (*transport.Transport, []*client.Client, error) {
	sess, err := openSession(c)
	if err != nil {
		return nil, nil, err
	}
	id, err := identity.Resolve(sess.IdentityPath(), logger)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transport.New(ctx, transport.Options{
		PrivKey:     id.Priv,
		ListenAddrs: c.StringSlice("listen"),
		ChainID:     c.String("chain-id"),
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}

	var clients []*client.Client
	for _, addr := range c.StringSlice("peer") {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			tr.Close()
			return nil, nil, fmt.Errorf("bad --peer %q: %w", addr, err)
		}
		conn, err := tr.OpenRPCStream(ctx, maddr)
		if err != nil {
			tr.Close()
			return nil, nil, err
		}
		s := stream.New(conn, stream.Options{Outbound: true, LocalMenu: methods.Catalog, Logger: logger})
		go s.Run()
		clients = append(clients, client.New(s))
	}
	return tr, clients, nil
}

func peersAsBootstrapPeers(clients []*client.Client) []bootstrap.Peer {
	peers := make([]bootstrap.Peer, len(clients))
	for i, c := range clients {
		peers[i] = c
	}
	return peers
}

// withHasherRecovered runs fn, converting notWiredHasher's panic (the
// out-of-scope protocol-state hashing collaborator, spec.md §1) into a
// plain error instead of crashing the process.
func withHasherRecovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bootstrap: %v", r)
		}
	}()
	return fn()
}

func recordCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "bootstrap against live peers, recording every response to disk",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "bootstrap"}},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			tr, clients, err := dialPeers(ctx, c, logger)
			if err != nil {
				return err
			}
			defer tr.Close()
			if len(clients) == 0 {
				return fmt.Errorf("record: at least one --peer is required")
			}

			pool := bootstrap.NewPeerPool(peersAsBootstrapPeers(clients), logger)
			return withHasherRecovered(func() error {
				o := bootstrap.New(bootstrap.Config{
					Peer:        pool,
					LedgerStore: stubLedgerStore{},
					BackfillDir: sess.BlocksDir(),
					Builder:     stubBuilder{},
					Apply:       stubApply,
					Constants:   stagedledger.DefaultConstraintConstants,
					Session:     sess,
					Hasher:      notWiredHasher,
					Record:      true,
					Logger:      logger,
				})
				return o.Run(ctx)
			})
		},
	}
}

func replayCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "replay a previously recorded session against a new client over the network",
		ArgsUsage: "<height>",
		Action: func(c *cli.Context) error {
			height, err := parseHeight(c)
			if err != nil {
				return err
			}
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			ctx := context.Background()
			id, err := identity.Resolve(sess.IdentityPath(), logger)
			if err != nil {
				return err
			}
			tr, err := transport.New(ctx, transport.Options{
				PrivKey:     id.Priv,
				ListenAddrs: c.StringSlice("listen"),
				ChainID:     c.String("chain-id"),
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			defer tr.Close()

			body, ok, err := session.ReadBlob(sess.BestTipPath(height))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("replay: no recorded best_tip for height %d", height)
			}
			proof, err := methods.DecodeGetBestTipResponse(body)
			if err != nil {
				return err
			}
			if proof == nil {
				return fmt.Errorf("replay: recorded best_tip for height %d has no proof", height)
			}
			ledgerHash := proof.Proof.Root.Header.ProtocolState.Body.BlockchainState.LedgerProofStatement.Target.FirstPassLedger

			led, err := loadReplayLedger(sess, height, ledgerHash)
			if err != nil {
				return err
			}
			srv := bootstrap.NewReplayServer(led)

			logger.Info("bootstrap: replay server listening", "height", height, "peer_id", tr.Host.ID())
			return serveReplay(ctx, tr, srv, logger)
		},
	}
}

func againCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "again",
		Usage:     "re-run the apply phase of a previously recorded session, offline",
		ArgsUsage: "<height>",
		Action: func(c *cli.Context) error {
			height, err := parseHeight(c)
			if err != nil {
				return err
			}
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			return withHasherRecovered(func() error {
				return bootstrap.Again(context.Background(), bootstrap.AgainConfig{
					Session:   sess,
					Builder:   stubBuilder{},
					Apply:     stubApply,
					Constants: stagedledger.DefaultConstraintConstants,
					Hasher:    notWiredHasher,
					Logger:    logger,
				}, height)
			})
		},
	}
}

func testCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "test",
		Usage:     "poll a running node's JSON event feed until it matches a recorded best_tip",
		ArgsUsage: "<height> <url>",
		Action: func(c *cli.Context) error {
			height, err := parseHeight(c)
			if err != nil {
				return err
			}
			url := c.Args().Get(1)
			if url == "" {
				return fmt.Errorf("test: a url is required")
			}
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			return withHasherRecovered(func() error {
				return selftest.Run(context.Background(), sess, height, notWiredHasher, selftest.HTTPEventFeed{URL: url}, logger)
			})
		},
	}
}

func testGraphQLCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "test-graphql",
		Usage:     "poll a running node's GraphQL endpoint until it matches a recorded best_tip",
		ArgsUsage: "<height> <url>",
		Action: func(c *cli.Context) error {
			height, err := parseHeight(c)
			if err != nil {
				return err
			}
			url := c.Args().Get(1)
			if url == "" {
				return fmt.Errorf("test-graphql: a url is required")
			}
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			return withHasherRecovered(func() error {
				return selftest.RunGraphQL(context.Background(), sess, height, notWiredHasher, selftest.HTTPGraphQLSource{URL: url}, logger)
			})
		},
	}
}

func archiveCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "replay one cached block against an archive sink",
		ArgsUsage: "<state_hash>",
		Action: func(c *cli.Context) error {
			stateHash := c.Args().Get(0)
			if stateHash == "" {
				return fmt.Errorf("archive: a state_hash is required")
			}
			sess, err := openSession(c)
			if err != nil {
				return err
			}
			heights, err := sess.Heights()
			if err != nil {
				return err
			}
			if len(heights) == 0 {
				return fmt.Errorf("archive: no recorded heights under %s", sess.Root)
			}
			return bootstrap.ArchiveBlock(sess, heights[len(heights)-1], stringerHash(stateHash), bootstrap.NoopArchiveSink{Logger: logger})
		},
	}
}

func emptyCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "empty",
		Usage: "print the hash of the empty snarked ledger",
		Action: func(c *cli.Context) error {
			hash, err := bootstrap.EmptyLedgerHash(stubLedgerStore{})
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func parseHeight(c *cli.Context) (uint32, error) {
	arg := c.Args().Get(0)
	if arg == "" {
		return 0, fmt.Errorf("a height argument is required")
	}
	var height uint32
	if _, err := fmt.Sscanf(arg, "%d", &height); err != nil {
		return 0, fmt.Errorf("bad height %q: %w", arg, err)
	}
	return height, nil
}

// stringerHash lets a plain CLI string argument satisfy the fmt.Stringer
// ArchiveBlock expects for a state hash.
type stringerHash string

func (s stringerHash) String() string { return string(s) }
