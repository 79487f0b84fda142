package common

// Account is an opaque account record as stored in the snarked ledger. The
// bootstrap engine never interprets account fields beyond passing them to
// the external Merkle database (spec.md §1); it is kept as a binary blob
// plus the identifier the database indexes by.
type Account struct {
	// ID is the account identifier (public key + token id) used by
	// set_at_index/get_or_create_account on the external ledger database.
	ID []byte
	// Encoded is the binary-protocol encoding of the full account record,
	// as received from an AnswerSyncLedgerQuery ContentsAre response or read
	// back from a ledgers/<hash> dump.
	Encoded []byte
}

// PendingCoinbase is an opaque snapshot of the staged ledger's pending
// coinbase accumulator, passed through to the external staged-ledger
// constructor unmodified.
type PendingCoinbase struct {
	Encoded []byte
}

// ScanState is an opaque snapshot of the staged ledger's scan state (the
// tree of partially completed SNARK work), passed through unmodified.
type ScanState struct {
	Encoded []byte
}
