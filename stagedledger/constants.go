// Package stagedledger implements component E of spec.md §4.E: building a
// staged ledger from the aux bundle fetched over RPC and replaying blocks
// against it. The construction and apply steps are themselves external
// collaborators (spec.md §1) — Mina's transaction snark and scan-state
// machinery — so this package only drives them through the Builder
// interface and ApplyFunc type, grounded on
// original_source/bootstrap-sandbox/src/bootstrap.rs's Storage/Staged_ledger
// usage.
package stagedledger

import "github.com/holiman/uint256"

// ConstraintConstants is the static record of protocol constants every
// apply() call is parameterized by (spec.md §4.E). These never change at
// runtime; they are bound once at startup from the chain's genesis
// constants. CoinbaseAmount and AccountCreationFee are currency amounts
// (Mina nanomina), represented as uint256.Int the way the rest of the pack
// represents on-chain balances rather than a machine-width integer that
// could silently wrap.
type ConstraintConstants struct {
	SubWindowsPerWindow        uint32
	LedgerDepth                uint32
	WorkDelay                  uint32
	BlockWindowDurationMs      uint64
	TransactionCapacityLog2    uint32
	PendingCoinbaseDepth       uint32
	CoinbaseAmount             *uint256.Int
	SuperchargedCoinbaseFactor uint32
	AccountCreationFee         *uint256.Int
	Fork                       *ForkConstants
}

// ForkConstants names the predecessor chain a hard fork carries forward
// from. Nil means no fork (spec.md §4.E: fork=none).
type ForkConstants struct {
	PreviousStateHash string
	PreviousLength     uint32
}

// DefaultConstraintConstants is the literal constant record spec.md §4.E
// requires: sub_windows_per_window=11, ledger_depth=35, work_delay=2,
// block_window_duration_ms=180000, transaction_capacity_log_2=7,
// pending_coinbase_depth=5, coinbase_amount=720_000_000_000,
// supercharged_coinbase_factor=2, account_creation_fee=1_000_000_000,
// fork=none.
var DefaultConstraintConstants = ConstraintConstants{
	SubWindowsPerWindow:        11,
	LedgerDepth:                35,
	WorkDelay:                  2,
	BlockWindowDurationMs:      180_000,
	TransactionCapacityLog2:    7,
	PendingCoinbaseDepth:       5,
	CoinbaseAmount:             uint256.NewInt(720_000_000_000),
	SuperchargedCoinbaseFactor: 2,
	AccountCreationFee:         uint256.NewInt(1_000_000_000),
	Fork:                       nil,
}
