// Package api defines the JSON wire types shared by the ledger HTTP
// service and its clients. Callers identify themselves with the
// X-Player-Address header; monetary amounts are integer smallest units.
package api

import "github.com/massiveideaslabs/pongwager/ledger"

// CallerHeader carries the authenticated caller address. Authentication
// itself (wallet/signature verification) is an external concern.
const CallerHeader = "X-Player-Address"

type CreateMatchRequest struct {
	Difficulty      int   `json:"difficulty"`
	DurationSeconds int64 `json:"durationSeconds"`
	Wager           int64 `json:"wager"`
}

type JoinMatchRequest struct {
	// Value is the submitted stake; it must equal the match wager
	// exactly.
	Value int64 `json:"value"`
}

type CompleteMatchRequest struct {
	Winner ledger.Address `json:"winner"`
}

type DepositRequest struct {
	To     ledger.Address `json:"to"`
	Amount int64          `json:"amount"`
}

type BalanceResponse struct {
	Address ledger.Address `json:"address"`
	Balance int64          `json:"balance"`
}

type HistoryResponse struct {
	Address ledger.Address `json:"address"`
	Matches []uint64       `json:"matches"`
}

// ErrorResponse carries a stable machine-readable code (see
// ledger.ErrorCode) plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
