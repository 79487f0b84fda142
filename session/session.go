// Package session implements the on-disk record/replay layout of spec.md
// §6: a root directory holding the peer identity, one subdirectory per
// height with the cached RPC responses for that height, and the blocks/
// tree sync/backfill already owns. This is direct, spec-mandated file I/O
// (paths, not a database) — DESIGN.md justifies plain os/encoding/json
// here over any of the pack's storage engines, since none of them fit a
// fixed, spec-defined directory layout better than direct file operations.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Session roots every read/write under a single directory (spec.md §6:
// "<root>").
type Session struct {
	Root string
}

// Open ensures root exists and returns a Session rooted there.
func Open(root string) (*Session, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Session{Root: root}, nil
}

// IdentityPath is spec.md §6's "identity — 64-byte Ed25519 keypair".
func (s *Session) IdentityPath() string {
	return filepath.Join(s.Root, "identity")
}

func (s *Session) heightDir(height uint32) string {
	return filepath.Join(s.Root, fmt.Sprintf("%d", height))
}

// BestTipPath is "<height>/best_tip — binary-encoded best-tip response".
func (s *Session) BestTipPath(height uint32) string {
	return filepath.Join(s.heightDir(height), "best_tip")
}

// AncestryPath is "<height>/ancestry — binary-encoded ancestry response".
func (s *Session) AncestryPath(height uint32) string {
	return filepath.Join(s.heightDir(height), "ancestry")
}

// StagedLedgerAuxPath is "<height>/staged_ledger_aux — binary-encoded
// aux/pending-coinbases response".
func (s *Session) StagedLedgerAuxPath(height uint32) string {
	return filepath.Join(s.heightDir(height), "staged_ledger_aux")
}

// LedgerDumpPath is "<height>/ledgers/<hash> — binary-encoded account list
// for that ledger hash".
func (s *Session) LedgerDumpPath(height uint32, ledgerHash fmt.Stringer) string {
	return filepath.Join(s.heightDir(height), "ledgers", ledgerHash.String())
}

// CurrentLedgerPath is "<height>/current_ledger.bin — most recent snarked
// ledger".
func (s *Session) CurrentLedgerPath(height uint32) string {
	return filepath.Join(s.heightDir(height), "current_ledger.bin")
}

// BlocksDir is the root sync/backfill's on-disk store is rooted at
// ("blocks/table.json", "blocks/<height>/<hash>").
func (s *Session) BlocksDir() string {
	return filepath.Join(s.Root, "blocks")
}

// ProofPath is "blocks/<height>/proof_<hash> — optional transition-chain
// proof".
func (s *Session) ProofPath(height uint32, hash fmt.Stringer) string {
	return filepath.Join(s.BlocksDir(), fmt.Sprintf("%d", height), "proof_"+hash.String())
}

// WriteBlob writes raw bytes to path, creating parent directories as
// needed. Record mode uses this for every cached RPC response.
func WriteBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadBlob reads raw bytes from path, reporting ok=false if the file does
// not exist (replay mode treats a missing cache entry as "not recorded").
func ReadBlob(path string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// WriteJSON marshals v and writes it to path.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteBlob(path, data)
}

// ReadJSON reads and unmarshals path into v, reporting ok=false if absent.
func ReadJSON(path string, v any) (ok bool, err error) {
	data, ok, err := ReadBlob(path)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(data, v)
}

// Heights lists the numeric height subdirectories present under Root,
// ascending, skipping "blocks" and any non-numeric entry.
func (s *Session) Heights() ([]uint32, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}
	var heights []uint32
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var h uint32
		if _, err := fmt.Sscanf(e.Name(), "%d", &h); err != nil {
			continue
		}
		if fmt.Sprintf("%d", h) != e.Name() {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}
