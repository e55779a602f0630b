package ledger

import "context"

// Store persists matches, player records and per-player match histories.
// Get methods return (nil, nil) for missing keys; the ledger maps absence
// to its not-found sentinels so callers never see zero-valued records.
type Store interface {
	// NextMatchID allocates the next monotonically increasing match ID.
	NextMatchID(ctx context.Context) (uint64, error)

	PutMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, id uint64) (*Match, error)
	PendingMatches(ctx context.Context) ([]*Match, error)

	PutPlayerRecord(ctx context.Context, rec *PlayerRecord) error
	GetPlayerRecord(ctx context.Context, addr Address) (*PlayerRecord, error)

	AppendHistory(ctx context.Context, addr Address, matchID uint64) error
	History(ctx context.Context, addr Address) ([]uint64, error)

	Close() error
}

// Payment is a single escrow release.
type Payment struct {
	To     Address
	Amount int64
}

// Bank moves funds between player accounts and the ledger's escrow.
// Debit pulls a caller's stake into escrow and fails with
// ErrInsufficientFunds when the account cannot cover it. Pay releases
// escrow to one or more recipients and must be all-or-nothing: either
// every payment lands or none do. The ledger relies on that guarantee to
// keep settlement atomic.
type Bank interface {
	Debit(ctx context.Context, from Address, amount int64) error
	Pay(ctx context.Context, payments ...Payment) error
}
