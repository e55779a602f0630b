package ledger

import "errors"

var (
	// Create preconditions.
	ErrInvalidWager      = errors.New("wager must be positive")
	ErrInvalidDifficulty = errors.New("difficulty out of range")
	ErrInvalidDuration   = errors.New("duration out of range")

	// Join preconditions.
	ErrMatchUnavailable = errors.New("match not open for joining")
	ErrSelfJoin         = errors.New("host cannot join own match")
	ErrWagerMismatch    = errors.New("submitted value does not match wager")
	ErrMatchExpired     = errors.New("match expired")

	// Cancel preconditions.
	ErrNotCancellable = errors.New("match not cancellable")
	ErrNotExpired     = errors.New("match deadline not reached")

	// Complete preconditions.
	ErrMatchNotActive = errors.New("match not active")
	ErrInvalidWinner  = errors.New("winner must be a participant")

	// Shared.
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrMatchNotFound     = errors.New("match not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// errCodes gives each rejection a stable wire code so HTTP clients can
// recover the sentinel with errors.Is semantics across the API boundary.
var errCodes = []struct {
	code string
	err  error
}{
	{"invalid_wager", ErrInvalidWager},
	{"invalid_difficulty", ErrInvalidDifficulty},
	{"invalid_duration", ErrInvalidDuration},
	{"match_unavailable", ErrMatchUnavailable},
	{"self_join", ErrSelfJoin},
	{"wager_mismatch", ErrWagerMismatch},
	{"match_expired", ErrMatchExpired},
	{"not_cancellable", ErrNotCancellable},
	{"not_expired", ErrNotExpired},
	{"match_not_active", ErrMatchNotActive},
	{"invalid_winner", ErrInvalidWinner},
	{"unauthorized", ErrUnauthorized},
	{"match_not_found", ErrMatchNotFound},
	{"player_not_found", ErrPlayerNotFound},
	{"insufficient_funds", ErrInsufficientFunds},
}

// ErrorCode returns the wire code for a ledger rejection, or "" when the
// error is not one of the ledger sentinels.
func ErrorCode(err error) string {
	for _, ec := range errCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ""
}

// ErrorFromCode maps a wire code back to its sentinel. Unknown codes
// return nil.
func ErrorFromCode(code string) error {
	for _, ec := range errCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
