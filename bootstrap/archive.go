package bootstrap

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/session"
)

// ArchiveSink is the external indexer/archive collaborator a single cached
// block gets replayed against (spec.md's Non-goals exclude implementing a
// concrete archive indexer, so this package only defines the interface and
// a logging no-op, grounded on
// original_source/bootstrap-sandbox/src/archive_block.rs).
type ArchiveSink interface {
	ArchiveBlock(blk common.Block) error
}

// NoopArchiveSink logs each block instead of indexing it, for smoke-testing
// the `archive` CLI subcommand without a real archive database.
type NoopArchiveSink struct {
	Logger log.Logger
}

func (s NoopArchiveSink) ArchiveBlock(blk common.Block) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Noop()
	}
	logger.Info("bootstrap: archive (no-op sink)", "height", blk.Height())
	return nil
}

// ArchiveBlock loads a single cached block by its recorded height and
// state hash and replays it against sink, without touching the live staged
// ledger (spec.md supplemented feature: the `archive` subcommand).
func ArchiveBlock(sess *session.Session, height uint32, stateHash fmt.Stringer, sink ArchiveSink) error {
	path := filepath.Join(sess.BlocksDir(), fmt.Sprintf("%d", height), stateHash.String())
	data, ok, err := session.ReadBlob(path)
	if err != nil {
		return ierrors.New(ierrors.KindTransport, "bootstrap.archive.read_block", err)
	}
	if !ok {
		return ierrors.New(ierrors.KindLogical, "bootstrap.archive", fmt.Errorf("no cached block at height %d hash %s", height, stateHash))
	}

	var blk common.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return ierrors.New(ierrors.KindProtocol, "bootstrap.archive.decode_block", err)
	}
	if err := sink.ArchiveBlock(blk); err != nil {
		return ierrors.New(ierrors.KindLogical, "bootstrap.archive.sink", err)
	}
	return nil
}
