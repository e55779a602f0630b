package client

import (
	"sync"
	"time"

	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/relay"
)

// The following handlers are called when a client event of the
// corresponding type is received. Register them on a NotificationManager
// before connecting.

// OnMatchCreatedNtfn fires when any player opens a new match.
type OnMatchCreatedNtfn func(matchID uint64, host string, ts time.Time)

// OnMatchJoinedNtfn fires when a match gains a challenger and goes
// active.
type OnMatchJoinedNtfn func(matchID uint64, host, challenger string, ts time.Time)

// OnMatchCancelledNtfn fires when a match is withdrawn or reclaimed.
type OnMatchCancelledNtfn func(matchID uint64, ts time.Time)

// OnGameReadyNtfn fires when the local match transitions to active and
// play may begin.
type OnGameReadyNtfn func(m *ledger.Match, ts time.Time)

// OnGameEndedNtfn fires when the local match's outcome has been
// submitted (or found already settled by the opponent).
type OnGameEndedNtfn func(m *ledger.Match, ts time.Time)

// OnPresenceNtfn fires when room membership changes for a joined match.
type OnPresenceNtfn func(matchID uint64, count int, ts time.Time)

// OnRemotePaddleNtfn fires with the opponent's paddle position.
type OnRemotePaddleNtfn func(matchID uint64, y float64, ts time.Time)

// OnRemoteBallNtfn fires with the opponent's ball snapshot.
type OnRemoteBallNtfn func(matchID uint64, ball relay.BallState, ts time.Time)

// OnRemoteScoreNtfn fires with the opponent's scoreboard snapshot.
type OnRemoteScoreNtfn func(matchID uint64, scores relay.Scores, ts time.Time)

type handler struct {
	fn     interface{}
	inline bool
}

// NotificationManager dispatches client events to registered handlers.
// Handlers registered with Register run on their own goroutine so a
// slow UI cannot stall the relay read loop; RegisterSync handlers run
// inline and must return quickly.
type NotificationManager struct {
	mtx      sync.Mutex
	handlers map[string][]handler
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{handlers: make(map[string][]handler)}
}

func (nmgr *NotificationManager) register(typ string, fn interface{}, inline bool) {
	nmgr.mtx.Lock()
	nmgr.handlers[typ] = append(nmgr.handlers[typ], handler{fn: fn, inline: inline})
	nmgr.mtx.Unlock()
}

func (nmgr *NotificationManager) each(typ string, call func(fn interface{})) {
	nmgr.mtx.Lock()
	hs := nmgr.handlers[typ]
	nmgr.mtx.Unlock()
	for _, h := range hs {
		if h.inline {
			call(h.fn)
		} else {
			go call(h.fn)
		}
	}
}

func (nmgr *NotificationManager) Register(fn interface{})     { nmgr.registerTyped(fn, false) }
func (nmgr *NotificationManager) RegisterSync(fn interface{}) { nmgr.registerTyped(fn, true) }

func (nmgr *NotificationManager) registerTyped(fn interface{}, inline bool) {
	switch fn.(type) {
	case OnMatchCreatedNtfn:
		nmgr.register("matchCreated", fn, inline)
	case OnMatchJoinedNtfn:
		nmgr.register("matchJoined", fn, inline)
	case OnMatchCancelledNtfn:
		nmgr.register("matchCancelled", fn, inline)
	case OnGameReadyNtfn:
		nmgr.register("gameReady", fn, inline)
	case OnGameEndedNtfn:
		nmgr.register("gameEnded", fn, inline)
	case OnPresenceNtfn:
		nmgr.register("presence", fn, inline)
	case OnRemotePaddleNtfn:
		nmgr.register("remotePaddle", fn, inline)
	case OnRemoteBallNtfn:
		nmgr.register("remoteBall", fn, inline)
	case OnRemoteScoreNtfn:
		nmgr.register("remoteScore", fn, inline)
	default:
		panic("unsupported notification handler type")
	}
}

func (nmgr *NotificationManager) notifyMatchCreated(matchID uint64, host string, ts time.Time) {
	nmgr.each("matchCreated", func(fn interface{}) { fn.(OnMatchCreatedNtfn)(matchID, host, ts) })
}

func (nmgr *NotificationManager) notifyMatchJoined(matchID uint64, host, challenger string, ts time.Time) {
	nmgr.each("matchJoined", func(fn interface{}) { fn.(OnMatchJoinedNtfn)(matchID, host, challenger, ts) })
}

func (nmgr *NotificationManager) notifyMatchCancelled(matchID uint64, ts time.Time) {
	nmgr.each("matchCancelled", func(fn interface{}) { fn.(OnMatchCancelledNtfn)(matchID, ts) })
}

func (nmgr *NotificationManager) notifyGameReady(m *ledger.Match, ts time.Time) {
	nmgr.each("gameReady", func(fn interface{}) { fn.(OnGameReadyNtfn)(m, ts) })
}

func (nmgr *NotificationManager) notifyGameEnded(m *ledger.Match, ts time.Time) {
	nmgr.each("gameEnded", func(fn interface{}) { fn.(OnGameEndedNtfn)(m, ts) })
}

func (nmgr *NotificationManager) notifyPresence(matchID uint64, count int, ts time.Time) {
	nmgr.each("presence", func(fn interface{}) { fn.(OnPresenceNtfn)(matchID, count, ts) })
}

func (nmgr *NotificationManager) notifyRemotePaddle(matchID uint64, y float64, ts time.Time) {
	nmgr.each("remotePaddle", func(fn interface{}) { fn.(OnRemotePaddleNtfn)(matchID, y, ts) })
}

func (nmgr *NotificationManager) notifyRemoteBall(matchID uint64, ball relay.BallState, ts time.Time) {
	nmgr.each("remoteBall", func(fn interface{}) { fn.(OnRemoteBallNtfn)(matchID, ball, ts) })
}

func (nmgr *NotificationManager) notifyRemoteScore(matchID uint64, scores relay.Scores, ts time.Time) {
	nmgr.each("remoteScore", func(fn interface{}) { fn.(OnRemoteScoreNtfn)(matchID, scores, ts) })
}
