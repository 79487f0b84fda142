package bootstrap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/session"
)

type recordingSink struct {
	blocks []common.Block
}

func (s *recordingSink) ArchiveBlock(blk common.Block) error {
	s.blocks = append(s.blocks, blk)
	return nil
}

func TestArchiveBlockLoadsCachedBlockAndCallsSink(t *testing.T) {
	sess, err := session.Open(t.TempDir())
	require.NoError(t, err)

	var blk common.Block
	blk.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 7
	blk.Header.ProtocolState.SetKnownHash(sampleHash(7))
	hash := blk.Header.ProtocolState.Hash(nil)

	data, err := json.Marshal(blk)
	require.NoError(t, err)
	blockPath := filepath.Join(sess.BlocksDir(), "7", hash.String())
	require.NoError(t, os.MkdirAll(filepath.Dir(blockPath), 0o755))
	require.NoError(t, os.WriteFile(blockPath, data, 0o644))

	sink := &recordingSink{}
	err = ArchiveBlock(sess, 7, hash, sink)
	require.NoError(t, err)
	require.Len(t, sink.blocks, 1)
	require.Equal(t, uint32(7), sink.blocks[0].Height())
}

func TestArchiveBlockMissingIsLogicalError(t *testing.T) {
	sess, err := session.Open(t.TempDir())
	require.NoError(t, err)

	err = ArchiveBlock(sess, 7, sampleHash(9), &recordingSink{})
	require.Error(t, err)
}

func TestNoopArchiveSinkAcceptsBlock(t *testing.T) {
	var blk common.Block
	blk.Header.ProtocolState.Body.ConsensusState.BlockchainLength = 1
	sink := NoopArchiveSink{}
	require.NoError(t, sink.ArchiveBlock(blk))
}
