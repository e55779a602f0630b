package relay

// Event types carried over the relay connection. The relay is a
// best-effort fan-out: any event may be late, duplicated or lost, and
// none of them affect settlement.
const (
	// Client -> relay.
	EventJoin           = "join"
	EventMatchCreated   = "matchCreated"
	EventMatchJoined    = "matchJoined"
	EventMatchCancelled = "matchCancelled"
	EventPaddleUpdate   = "paddleUpdate"
	EventBallUpdate     = "ballUpdate"
	EventScoreUpdate    = "scoreUpdate"

	// Relay -> client.
	EventJoined   = "joined"
	EventPresence = "presence"
)

// BallState is the live ball snapshot relayed between participants.
type BallState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
	Speed float64 `json:"speed"`
}

// Scores is the left/right scoreboard snapshot.
type Scores struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Event is the single wire envelope for all relay traffic. Payload
// fields are optional and scoped by Type; the shapes are a compatibility
// contract with any peer implementation.
type Event struct {
	Type    string `json:"type"`
	MatchID uint64 `json:"matchId,omitempty"`

	// joined reply: 1 for the first arrival in a room, 2 for the second.
	Ordinal int `json:"ordinal,omitempty"`
	// presence broadcast: current number of connected participants.
	Count int `json:"count,omitempty"`

	// matchJoined fan-out.
	Host       string `json:"host,omitempty"`
	Challenger string `json:"challenger,omitempty"`

	// paddleUpdate.
	Y *float64 `json:"y,omitempty"`
	// ballUpdate.
	Ball *BallState `json:"ball,omitempty"`
	// scoreUpdate.
	Scores *Scores `json:"scores,omitempty"`
}
