package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/massiveideaslabs/pongwager/api"
	"github.com/massiveideaslabs/pongwager/ledger"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/matches", s.handleCreateMatch)
	mux.HandleFunc("GET /api/matches/open", s.handleOpenMatches)
	mux.HandleFunc("GET /api/matches/{id}", s.handleGetMatch)
	mux.HandleFunc("POST /api/matches/{id}/join", s.handleJoinMatch)
	mux.HandleFunc("POST /api/matches/{id}/cancel", s.handleCancelMatch)
	mux.HandleFunc("POST /api/matches/{id}/cancel-expired", s.handleCancelExpired)
	mux.HandleFunc("POST /api/matches/{id}/complete", s.handleCompleteMatch)

	mux.HandleFunc("GET /api/players/{addr}", s.handlePlayerRecord)
	mux.HandleFunc("GET /api/players/{addr}/history", s.handlePlayerHistory)
	mux.HandleFunc("GET /api/players/{addr}/balance", s.handleBalance)
	mux.HandleFunc("POST /api/deposit", s.handleDeposit)

	mux.HandleFunc("GET /ws", s.relay.ServeWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// caller extracts the caller's address from the request header. The
// zero address is returned when the header is absent; ledger guards
// reject it where identity matters.
func caller(r *http.Request) (ledger.Address, error) {
	h := r.Header.Get(api.CallerHeader)
	if h == "" {
		return ledger.Address{}, nil
	}
	return ledger.ParseAddress(h)
}

func matchID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "bad_request",
			Message: "malformed request body: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps ledger errors to HTTP statuses while preserving the
// stable wire code, so clients can classify with errors.Is after a
// round trip.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := ledger.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrMatchNotFound),
		errors.Is(err, ledger.ErrPlayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidWager),
		errors.Is(err, ledger.ErrInvalidDifficulty),
		errors.Is(err, ledger.ErrInvalidDuration),
		errors.Is(err, ledger.ErrInvalidWinner),
		errors.Is(err, ledger.ErrSelfJoin),
		errors.Is(err, ledger.ErrWagerMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrMatchUnavailable),
		errors.Is(err, ledger.ErrMatchExpired),
		errors.Is(err, ledger.ErrNotCancellable),
		errors.Is(err, ledger.ErrNotExpired),
		errors.Is(err, ledger.ErrMatchNotActive),
		errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Errorf("Request failed: %v", err)
	}
	if code == "" {
		code = "internal"
	}
	writeJSON(w, status, api.ErrorResponse{Error: code, Message: err.Error()})
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.writeError(w, ledger.ErrUnauthorized)
		return
	}
	var req api.CreateMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.ledger.Create(r.Context(), from, req.Difficulty,
		time.Duration(req.DurationSeconds)*time.Second, req.Wager)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relay.AnnounceMatchCreated(m.ID, m.Host.String())
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.writeError(w, ledger.ErrUnauthorized)
		return
	}
	id, err := matchID(r)
	if err != nil {
		s.writeError(w, ledger.ErrMatchNotFound)
		return
	}
	var req api.JoinMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.ledger.Join(r.Context(), from, id, req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relay.AnnounceMatchJoined(m.ID, m.Host.String(), m.Challenger.String())
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.writeError(w, ledger.ErrUnauthorized)
		return
	}
	id, err := matchID(r)
	if err != nil {
		s.writeError(w, ledger.ErrMatchNotFound)
		return
	}
	m, err := s.ledger.Cancel(r.Context(), from, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relay.AnnounceMatchCancelled(m.ID)
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCancelExpired(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		s.writeError(w, ledger.ErrMatchNotFound)
		return
	}
	m, err := s.ledger.CancelExpired(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.relay.AnnounceMatchCancelled(m.ID)
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCompleteMatch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.writeError(w, ledger.ErrUnauthorized)
		return
	}
	id, err := matchID(r)
	if err != nil {
		s.writeError(w, ledger.ErrMatchNotFound)
		return
	}
	var req api.CompleteMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.ledger.Complete(r.Context(), from, id, req.Winner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		s.writeError(w, ledger.ErrMatchNotFound)
		return
	}
	m, err := s.ledger.Match(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleOpenMatches(w http.ResponseWriter, r *http.Request) {
	open, err := s.ledger.OpenMatches(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if open == nil {
		open = []*ledger.Match{}
	}
	writeJSON(w, http.StatusOK, open)
}

func (s *Server) handlePlayerRecord(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.PathValue("addr"))
	if err != nil {
		s.writeError(w, ledger.ErrPlayerNotFound)
		return
	}
	rec, err := s.ledger.PlayerRecord(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.PathValue("addr"))
	if err != nil {
		s.writeError(w, ledger.ErrPlayerNotFound)
		return
	}
	ids, err := s.ledger.MatchHistory(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, api.HistoryResponse{Address: addr, Matches: ids})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.PathValue("addr"))
	if err != nil {
		s.writeError(w, ledger.ErrPlayerNotFound)
		return
	}
	bal, err := s.db.Balance(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BalanceResponse{Address: addr, Balance: bal})
}

// handleDeposit credits an account. This stands in for on-chain funding
// so players have a balance to wager from.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req api.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "bad_request",
			Message: "deposit amount must be positive",
		})
		return
	}
	if err := s.db.Deposit(r.Context(), req.To, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	bal, err := s.db.Balance(r.Context(), req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BalanceResponse{Address: req.To, Balance: bal})
}
