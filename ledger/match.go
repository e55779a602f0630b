package ledger

import "time"

// State is the lifecycle state of a match. Pending and Active hold
// escrowed funds; Completed and Cancelled are terminal and hold none.
type State uint8

const (
	StatePending State = iota
	StateActive
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

const (
	MinDifficulty = 1
	MaxDifficulty = 10

	// MaxDuration bounds how long a pending match may wait for a
	// challenger before anyone can reclaim the host's wager.
	MaxDuration = 7 * 24 * time.Hour
)

// Match is the ledger's record of a wagered game. Matches are never
// deleted; terminal matches remain queryable by ID.
type Match struct {
	ID         uint64    `json:"id"`
	Host       Address   `json:"host"`
	Challenger Address   `json:"challenger"`
	Wager      int64     `json:"wager"`
	Difficulty int       `json:"difficulty"`
	State      State     `json:"state"`
	Winner     Address   `json:"winner"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Escrowed returns the funds the ledger holds for this match: one wager
// while a challenger is awaited, the full pot once active, nothing once
// terminal.
func (m *Match) Escrowed() int64 {
	switch m.State {
	case StatePending:
		return m.Wager
	case StateActive:
		return 2 * m.Wager
	default:
		return 0
	}
}

// HasParticipant reports whether addr is the host or the challenger.
func (m *Match) HasParticipant(addr Address) bool {
	return addr == m.Host || (!m.Challenger.IsZero() && addr == m.Challenger)
}

// PlayerRecord tracks per-player lifetime counters. All fields are
// monotonically non-decreasing and change only when a match completes.
type PlayerRecord struct {
	Address       Address `json:"address"`
	Wins          uint64  `json:"wins"`
	TotalWinnings int64   `json:"totalWinnings"`
	MatchesPlayed uint64  `json:"matchesPlayed"`
}
