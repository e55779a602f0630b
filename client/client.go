package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"

	"github.com/massiveideaslabs/pongwager/ledger"
)

// ErrMatchCancelled is returned when the awaited match was cancelled
// before a challenger arrived.
var ErrMatchCancelled = errors.New("match was cancelled")

// ErrChallengerArrived is returned when a cancel lost the race against
// an incoming challenger. The match is active and must be played out.
var ErrChallengerArrived = errors.New("a challenger joined before the cancel landed")

// Config wires a MatchClient.
type Config struct {
	// ServerURL is the base URL of the escrow service's JSON API.
	ServerURL string
	// RelayURL is the coordinator websocket URL. May be empty: the
	// client then runs poll-only, and live position streaming is
	// unavailable.
	RelayURL string

	Address ledger.Address

	// Notifications tracks handlers for client events. If nil, the
	// client creates an empty manager.
	Notifications *NotificationManager

	// Poller controls readiness polling. The zero value uses defaults.
	Poller Poller

	Log slog.Logger
}

// MatchClient is one player's view of the system: the ledger API for
// everything that moves funds, and an optional relay connection for the
// live game stream. Settlement never depends on the relay.
type MatchClient struct {
	ledger *LedgerClient
	relay  *RelayConn
	ntfns  *NotificationManager
	poller Poller
	log    slog.Logger
}

func NewMatchClient(ctx context.Context, cfg Config) (*MatchClient, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("client must have logger")
	}
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("client must have a player address")
	}
	ntfns := cfg.Notifications
	if ntfns == nil {
		ntfns = NewNotificationManager()
	}

	mc := &MatchClient{
		ledger: NewLedgerClient(cfg.ServerURL, cfg.Address),
		ntfns:  ntfns,
		poller: cfg.Poller,
		log:    cfg.Log,
	}

	if cfg.RelayURL != "" {
		rc, err := DialRelay(ctx, cfg.RelayURL, ntfns, cfg.Log)
		if err != nil {
			// The relay is a nicety; the ledger is the product. Run
			// poll-only rather than failing the whole client.
			cfg.Log.Warnf("Relay unavailable, running poll-only: %v", err)
		} else {
			mc.relay = rc
		}
	}
	return mc, nil
}

// Ledger exposes the raw API client for queries the MatchClient does
// not wrap.
func (mc *MatchClient) Ledger() *LedgerClient { return mc.ledger }

// Relay returns the live connection, or nil when running poll-only.
func (mc *MatchClient) Relay() *RelayConn { return mc.relay }

// CreateMatch opens a match with the player's wager in escrow and, when
// a relay connection is up, enters the match room to wait for the
// challenger.
func (mc *MatchClient) CreateMatch(ctx context.Context, difficulty int, duration time.Duration, wager int64) (*ledger.Match, error) {
	m, err := mc.ledger.CreateMatch(ctx, difficulty, duration, wager)
	if err != nil {
		return nil, err
	}
	mc.log.Infof("Created match %d, wager %d locked", m.ID, m.Wager)
	mc.enterRoom(ctx, m.ID)
	return m, nil
}

// JoinMatch stakes the matching wager on an open match and enters its
// room.
func (mc *MatchClient) JoinMatch(ctx context.Context, matchID uint64, value int64) (*ledger.Match, error) {
	m, err := mc.ledger.JoinMatch(ctx, matchID, value)
	if err != nil {
		return nil, err
	}
	mc.log.Infof("Joined match %d, pot is %d", m.ID, 2*m.Wager)
	mc.enterRoom(ctx, m.ID)
	return m, nil
}

func (mc *MatchClient) enterRoom(ctx context.Context, matchID uint64) {
	if mc.relay == nil {
		return
	}
	ord, err := mc.relay.JoinRoom(ctx, matchID)
	if err != nil {
		mc.log.Warnf("Could not enter room for match %d: %v", matchID, err)
		return
	}
	mc.log.Debugf("Entered room for match %d as participant %d", matchID, ord)
}

// CancelMatch withdraws a pending match. Losing the race against an
// incoming challenger is reported as ErrChallengerArrived with the
// now-active match; the caller has a game to play.
func (mc *MatchClient) CancelMatch(ctx context.Context, matchID uint64) (*ledger.Match, error) {
	m, err := mc.ledger.CancelMatch(ctx, matchID)
	if err == nil {
		mc.log.Infof("Cancelled match %d, wager refunded", matchID)
		return m, nil
	}
	if !errors.Is(err, ledger.ErrNotCancellable) {
		return nil, err
	}
	cur, lerr := mc.ledger.Match(ctx, matchID)
	if lerr != nil {
		return nil, err
	}
	if cur.State == ledger.StateActive {
		return cur, ErrChallengerArrived
	}
	// Already terminal; nothing left to withdraw.
	return cur, err
}

// WaitForActive polls the ledger until the match has a challenger and
// is active, then fires the gameReady notification. It classifies the
// other ways a pending match can end: cancellation yields
// ErrMatchCancelled, and a match still pending after the poll budget
// yields ErrRetriesExhausted.
func (mc *MatchClient) WaitForActive(ctx context.Context, matchID uint64) (*ledger.Match, error) {
	var final *ledger.Match
	err := mc.poller.Wait(ctx, func(ctx context.Context) (bool, error) {
		m, err := mc.ledger.Match(ctx, matchID)
		if err != nil {
			return false, err
		}
		switch m.State {
		case ledger.StateActive, ledger.StateCompleted:
			if m.Challenger.IsZero() {
				return false, fmt.Errorf("match %d active without challenger", matchID)
			}
			final = m
			return true, nil
		case ledger.StateCancelled:
			return false, ErrMatchCancelled
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	mc.log.Infof("Match %d is ready: %s vs %s", matchID, final.Host, final.Challenger)
	mc.ntfns.notifyGameReady(final, time.Now())
	return final, nil
}

// SubmitOutcome reports the winner once the local simulation reached
// the winning score. Both participants submit independently; whoever
// lands second gets ErrMatchNotActive, which is the expected shape of
// an opponent's earlier identical report. That case is folded into
// success when the settled winner matches.
func (mc *MatchClient) SubmitOutcome(ctx context.Context, matchID uint64, winner ledger.Address) (*ledger.Match, error) {
	m, err := mc.ledger.CompleteMatch(ctx, matchID, winner)
	if err == nil {
		mc.log.Infof("Match %d settled, winner %s", matchID, winner)
		mc.ntfns.notifyGameEnded(m, time.Now())
		return m, nil
	}
	if !errors.Is(err, ledger.ErrMatchNotActive) {
		return nil, err
	}

	cur, lerr := mc.ledger.Match(ctx, matchID)
	if lerr != nil {
		return nil, fmt.Errorf("match already settled but unreadable: %w", lerr)
	}
	if cur.State == ledger.StateCompleted && cur.Winner == winner {
		mc.log.Infof("Match %d already settled by opponent, winner %s", matchID, winner)
		mc.ntfns.notifyGameEnded(cur, time.Now())
		return cur, nil
	}
	if cur.State == ledger.StateCompleted {
		// Settled with a different winner: the reports disagree. Funds
		// followed the first report; surface the conflict.
		return cur, fmt.Errorf("match %d settled with winner %s, local result disagreed", matchID, cur.Winner)
	}
	return nil, err
}

// Close tears down the relay connection if one is up.
func (mc *MatchClient) Close() error {
	if mc.relay != nil {
		return mc.relay.Close()
	}
	return nil
}
