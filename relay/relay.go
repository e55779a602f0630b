package relay

import (
	"net/http"
	"sync"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxRoomMembers caps a room at the two participants of a match.
const maxRoomMembers = 2

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay fans presence and live-play events out to connected clients. It
// holds no wager state and is not authoritative over outcomes; rooms are
// ephemeral, destroyed when their last participant disconnects, and
// nothing here survives a restart. An explicit instance is constructed
// per process so deployments can run several behind a backplane later.
type Relay struct {
	log slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
	rooms    map[uint64]*room
}

// room groups the sessions of one match. Membership mutation and the
// broadcast it triggers happen under the room lock so a broadcast always
// reflects membership at the time of the triggering event.
type room struct {
	mu      sync.Mutex
	matchID uint64
	members []*session
}

func NewRelay(log slog.Logger) *Relay {
	return &Relay{
		log:      log,
		sessions: make(map[uuid.UUID]*session),
		rooms:    make(map[uint64]*room),
	}
}

// ServeWS upgrades an HTTP request to a relay session.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Errorf("websocket upgrade: %v", err)
		return
	}

	s := newSession(r, conn)
	r.mu.Lock()
	r.sessions[s.id] = s
	total := len(r.sessions)
	r.mu.Unlock()
	r.log.Debugf("Session %s connected (%d total)", s.id, total)

	go s.writePump()
	go s.readPump()
}

// handleEvent dispatches one inbound client event.
func (r *Relay) handleEvent(s *session, ev Event) {
	switch ev.Type {
	case EventJoin:
		r.joinRoom(s, ev.MatchID)
	case EventMatchCreated, EventMatchJoined, EventMatchCancelled:
		// Global hints: every connected client re-queries the ledger
		// and filters locally. The relay does not know match contents.
		r.broadcastAll(ev)
	case EventPaddleUpdate, EventBallUpdate:
		// Movement goes only to the other participant; the sender
		// already has the authoritative local copy.
		r.broadcastRoom(ev.MatchID, ev, s)
	case EventScoreUpdate:
		// Scores go to every room member, sender included.
		r.broadcastRoom(ev.MatchID, ev, nil)
	default:
		r.log.Debugf("Session %s sent unknown event type %q", s.id, ev.Type)
	}
}

// joinRoom registers the session under matchID and replies with its join
// ordinal. The second arrival triggers a presence broadcast to the room.
func (r *Relay) joinRoom(s *session, matchID uint64) {
	r.mu.Lock()
	rm := r.rooms[matchID]
	if rm == nil {
		rm = &room{matchID: matchID}
		r.rooms[matchID] = rm
	}
	r.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	ordinal := 0
	for i, m := range rm.members {
		if m == s {
			ordinal = i + 1
			break
		}
	}
	if ordinal == 0 {
		if len(rm.members) >= maxRoomMembers {
			r.log.Debugf("Room %d full, rejecting session %s", matchID, s.id)
			s.enqueue(Event{Type: EventJoined, MatchID: matchID, Ordinal: 0})
			return
		}
		rm.members = append(rm.members, s)
		ordinal = len(rm.members)
		s.addRoom(matchID)
	}

	s.enqueue(Event{Type: EventJoined, MatchID: matchID, Ordinal: ordinal})
	r.log.Debugf("Session %s joined room %d as #%d", s.id, matchID, ordinal)

	if len(rm.members) == maxRoomMembers {
		presence := Event{Type: EventPresence, MatchID: matchID, Count: len(rm.members)}
		for _, m := range rm.members {
			m.enqueue(presence)
		}
	}
}

// broadcastRoom sends ev to the members of the match's room. A non-nil
// except session is skipped. Unknown rooms are silently ignored.
func (r *Relay) broadcastRoom(matchID uint64, ev Event, except *session) {
	r.mu.RLock()
	rm := r.rooms[matchID]
	r.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, m := range rm.members {
		if m == except {
			continue
		}
		m.enqueue(ev)
	}
}

// broadcastAll sends ev to every connected session.
func (r *Relay) broadcastAll(ev Event) {
	r.mu.RLock()
	targets := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(ev)
	}
}

// AnnounceMatchCreated tells every connected client a new match is open
// for challengers.
func (r *Relay) AnnounceMatchCreated(matchID uint64, host string) {
	r.broadcastAll(Event{Type: EventMatchCreated, MatchID: matchID, Host: host})
}

// AnnounceMatchJoined tells every connected client a match went active.
func (r *Relay) AnnounceMatchJoined(matchID uint64, host, challenger string) {
	r.broadcastAll(Event{
		Type:       EventMatchJoined,
		MatchID:    matchID,
		Host:       host,
		Challenger: challenger,
	})
}

// AnnounceMatchCancelled tells every connected client a match was
// withdrawn or reclaimed.
func (r *Relay) AnnounceMatchCancelled(matchID uint64) {
	r.broadcastAll(Event{Type: EventMatchCancelled, MatchID: matchID})
}

// dropSession removes a departed session from the registry and from any
// room it was in, destroying rooms that become empty. Remaining members
// get a presence update so they can render the peer as gone.
func (r *Relay) dropSession(s *session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	roomIDs := s.roomIDs()
	rooms := make([]*room, 0, len(roomIDs))
	for _, id := range roomIDs {
		if rm := r.rooms[id]; rm != nil {
			rooms = append(rooms, rm)
		}
	}
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		for i, m := range rm.members {
			if m == s {
				rm.members = append(rm.members[:i], rm.members[i+1:]...)
				break
			}
		}
		remaining := len(rm.members)
		presence := Event{Type: EventPresence, MatchID: rm.matchID, Count: remaining}
		for _, m := range rm.members {
			m.enqueue(presence)
		}
		rm.mu.Unlock()

		if remaining == 0 {
			r.mu.Lock()
			// Re-check under the registry lock; a concurrent join may
			// have repopulated the room.
			rm.mu.Lock()
			if len(rm.members) == 0 {
				delete(r.rooms, rm.matchID)
			}
			rm.mu.Unlock()
			r.mu.Unlock()
		}
	}

	r.log.Debugf("Session %s disconnected", s.id)
}

// SessionCount reports connected sessions, for health endpoints.
func (r *Relay) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount reports live rooms.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
