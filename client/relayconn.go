package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/massiveideaslabs/pongwager/relay"
)

// ErrRoomFull is returned when the relay rejects a room join because
// both seats are taken.
var ErrRoomFull = errors.New("match room is full")

const joinReplyTimeout = 10 * time.Second

// RelayConn is one client's websocket connection to the match
// coordinator. It dispatches inbound events to the notification manager
// and exposes send methods for the live game stream. The relay is
// best-effort: sends may be dropped and none of this affects
// settlement, so every method here is fire-and-forget.
type RelayConn struct {
	conn  *websocket.Conn
	ntfns *NotificationManager
	log   slog.Logger

	writeMtx sync.Mutex
	joinedCh chan int

	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to the coordinator's websocket endpoint and starts
// the read loop. wsURL is e.g. "ws://host:port/ws".
func DialRelay(ctx context.Context, wsURL string, ntfns *NotificationManager, log slog.Logger) (*RelayConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	rc := &RelayConn{
		conn:     conn,
		ntfns:    ntfns,
		log:      log,
		joinedCh: make(chan int, 1),
		done:     make(chan struct{}),
	}
	go rc.readLoop()
	return rc, nil
}

// JoinRoom enters the per-match room and returns the assigned ordinal
// (1 for the first arrival, 2 for the second).
func (rc *RelayConn) JoinRoom(ctx context.Context, matchID uint64) (int, error) {
	if err := rc.send(relay.Event{Type: relay.EventJoin, MatchID: matchID}); err != nil {
		return 0, err
	}
	select {
	case ord := <-rc.joinedCh:
		if ord == 0 {
			return 0, ErrRoomFull
		}
		return ord, nil
	case <-time.After(joinReplyTimeout):
		return 0, fmt.Errorf("no join reply from relay")
	case <-rc.done:
		return 0, fmt.Errorf("relay connection closed")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SendPaddle streams the local paddle position to the room.
func (rc *RelayConn) SendPaddle(matchID uint64, y float64) {
	if err := rc.send(relay.Event{Type: relay.EventPaddleUpdate, MatchID: matchID, Y: &y}); err != nil {
		rc.log.Debugf("send paddle: %v", err)
	}
}

// SendBall streams the local ball snapshot to the room.
func (rc *RelayConn) SendBall(matchID uint64, ball relay.BallState) {
	if err := rc.send(relay.Event{Type: relay.EventBallUpdate, MatchID: matchID, Ball: &ball}); err != nil {
		rc.log.Debugf("send ball: %v", err)
	}
}

// SendScore streams the local scoreboard to the room.
func (rc *RelayConn) SendScore(matchID uint64, scores relay.Scores) {
	if err := rc.send(relay.Event{Type: relay.EventScoreUpdate, MatchID: matchID, Scores: &scores}); err != nil {
		rc.log.Debugf("send score: %v", err)
	}
}

func (rc *RelayConn) send(ev relay.Event) error {
	rc.writeMtx.Lock()
	defer rc.writeMtx.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return rc.conn.WriteJSON(ev)
}

func (rc *RelayConn) readLoop() {
	defer rc.Close()
	for {
		var ev relay.Event
		if err := rc.conn.ReadJSON(&ev); err != nil {
			select {
			case <-rc.done:
			default:
				rc.log.Debugf("relay read loop ended: %v", err)
			}
			return
		}
		now := time.Now()
		switch ev.Type {
		case relay.EventJoined:
			select {
			case rc.joinedCh <- ev.Ordinal:
			default:
			}
		case relay.EventPresence:
			rc.ntfns.notifyPresence(ev.MatchID, ev.Count, now)
		case relay.EventMatchCreated:
			rc.ntfns.notifyMatchCreated(ev.MatchID, ev.Host, now)
		case relay.EventMatchJoined:
			rc.ntfns.notifyMatchJoined(ev.MatchID, ev.Host, ev.Challenger, now)
		case relay.EventMatchCancelled:
			rc.ntfns.notifyMatchCancelled(ev.MatchID, now)
		case relay.EventPaddleUpdate:
			if ev.Y != nil {
				rc.ntfns.notifyRemotePaddle(ev.MatchID, *ev.Y, now)
			}
		case relay.EventBallUpdate:
			if ev.Ball != nil {
				rc.ntfns.notifyRemoteBall(ev.MatchID, *ev.Ball, now)
			}
		case relay.EventScoreUpdate:
			if ev.Scores != nil {
				rc.ntfns.notifyRemoteScore(ev.MatchID, *ev.Scores, now)
			}
		default:
			rc.log.Debugf("unknown relay event type %q", ev.Type)
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (rc *RelayConn) Close() error {
	var err error
	rc.closeOnce.Do(func() {
		close(rc.done)
		err = rc.conn.Close()
	})
	return err
}
