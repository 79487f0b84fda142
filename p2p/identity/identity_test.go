package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSaveLoadRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "identity")
	require.NoError(t, Save(path, id))

	loaded, err := Load(path)
	require.NoError(t, err)

	wantPeerID, err := id.PeerID()
	require.NoError(t, err)
	gotPeerID, err := loaded.PeerID()
	require.NoError(t, err)
	require.Equal(t, wantPeerID, gotPeerID)
}

func TestResolvePrefersEnvVar(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	encoded, err := ToBase58Check(id)
	require.NoError(t, err)
	t.Setenv("OPENMINA_P2P_SEC_KEY", encoded)

	resolved, err := Resolve(filepath.Join(t.TempDir(), "identity"), nil)
	require.NoError(t, err)

	want, err := id.PeerID()
	require.NoError(t, err)
	got, err := resolved.PeerID()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolveGeneratesAndPersistsWhenAbsent(t *testing.T) {
	t.Setenv("OPENMINA_P2P_SEC_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "identity")

	first, err := Resolve(path, nil)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	second, err := Resolve(path, nil)
	require.NoError(t, err)

	wantPeerID, err := first.PeerID()
	require.NoError(t, err)
	gotPeerID, err := second.PeerID()
	require.NoError(t, err)
	require.Equal(t, wantPeerID, gotPeerID, "a second Resolve must load the persisted key, not generate a new one")
}

func TestBase58CheckRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	encoded, err := ToBase58Check(id)
	require.NoError(t, err)

	decoded, err := FromBase58Check(encoded)
	require.NoError(t, err)

	want, err := id.PeerID()
	require.NoError(t, err)
	got, err := decoded.PeerID()
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = FromBase58Check(encoded[:len(encoded)-1] + "x")
	require.Error(t, err, "a corrupted base58check string must fail its checksum")
}
