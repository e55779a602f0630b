package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBuffer bounds the per-session outbound queue. Live-play
	// telemetry is droppable, so a full buffer loses the event rather
	// than stalling the room.
	sendBuffer = 64
)

// session is one connected client. Reads and writes run on separate
// goroutines; outbound events pass through the buffered send channel so
// broadcasts never block on a slow peer.
type session struct {
	id    uuid.UUID
	relay *Relay
	conn  *websocket.Conn
	send  chan Event

	mu    sync.Mutex
	rooms map[uint64]struct{}

	closeOnce sync.Once
}

func newSession(r *Relay, conn *websocket.Conn) *session {
	return &session{
		id:    uuid.New(),
		relay: r,
		conn:  conn,
		send:  make(chan Event, sendBuffer),
		rooms: make(map[uint64]struct{}),
	}
}

func (s *session) addRoom(matchID uint64) {
	s.mu.Lock()
	s.rooms[matchID] = struct{}{}
	s.mu.Unlock()
}

func (s *session) roomIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// enqueue queues an event for delivery, dropping it if the session's
// buffer is full. Delivery is at-most-once by design.
func (s *session) enqueue(ev Event) {
	select {
	case s.send <- ev:
	default:
		s.relay.log.Debugf("Send buffer full for session %s, dropping %s", s.id, ev.Type)
	}
}

// close tears the session down. The send channel is left open: late
// broadcasts may still enqueue into it harmlessly, and writePump exits
// on its next write against the closed connection.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.relay.dropSession(s)
	})
}

func (s *session) readPump() {
	defer func() {
		s.close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.relay.log.Debugf("Session %s read error: %v", s.id, err)
			}
			return
		}
		s.relay.handleEvent(s, ev)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
