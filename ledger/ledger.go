package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

// DefaultFeeRateBps is the platform cut of the pot in basis points (1%).
const DefaultFeeRateBps = 100

// Config wires the ledger's collaborators.
type Config struct {
	Store Store
	Bank  Bank
	Clock Clock

	// FeeRateBps is the settlement fee in basis points of the pot.
	FeeRateBps int64
	// FeeRecipient receives the settlement fee.
	FeeRecipient Address

	Log slog.Logger
}

// Ledger is the escrow authority for wagered matches. It is the sole
// source of truth for which matches exist and what state they are in.
// Every mutating call is serialized under one mutex so the state guards
// arbitrate races: of two concurrent joins on the same pending match,
// exactly one observes Pending and wins.
type Ledger struct {
	mu sync.Mutex

	store Store
	bank  Bank
	clock Clock

	feeRateBps   int64
	feeRecipient Address

	log slog.Logger
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger requires a store")
	}
	if cfg.Bank == nil {
		return nil, fmt.Errorf("ledger requires a bank")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("ledger requires a logger")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	feeRate := cfg.FeeRateBps
	if feeRate < 0 || feeRate >= 10000 {
		return nil, fmt.Errorf("fee rate %d bps out of range", feeRate)
	}
	return &Ledger{
		store:        cfg.Store,
		bank:         cfg.Bank,
		clock:        clock,
		feeRateBps:   feeRate,
		feeRecipient: cfg.FeeRecipient,
		log:          cfg.Log,
	}, nil
}

// Create opens a new match, locking the caller's wager in escrow. The
// match waits in Pending until a challenger joins or it is cancelled.
func (l *Ledger) Create(ctx context.Context, caller Address, difficulty int, duration time.Duration, wager int64) (*Match, error) {
	if wager <= 0 {
		return nil, ErrInvalidWager
	}
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return nil, ErrInvalidDifficulty
	}
	if duration <= 0 || duration > MaxDuration {
		return nil, ErrInvalidDuration
	}
	if caller.IsZero() {
		return nil, ErrUnauthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.bank.Debit(ctx, caller, wager); err != nil {
		return nil, fmt.Errorf("lock wager: %w", err)
	}

	id, err := l.store.NextMatchID(ctx)
	if err != nil {
		l.refund(ctx, caller, wager, "create id allocation failed")
		return nil, fmt.Errorf("allocate match id: %w", err)
	}

	now := l.clock.Now()
	m := &Match{
		ID:         id,
		Host:       caller,
		Wager:      wager,
		Difficulty: difficulty,
		State:      StatePending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(duration),
	}
	if err := l.store.PutMatch(ctx, m); err != nil {
		l.refund(ctx, caller, wager, "create persist failed")
		return nil, fmt.Errorf("persist match: %w", err)
	}
	if err := l.store.AppendHistory(ctx, caller, id); err != nil {
		l.log.Errorf("append history for host %s match %d: %v", caller, id, err)
	}

	l.log.Infof("Match %d created by %s: wager=%d difficulty=%d expires=%s",
		id, caller, wager, difficulty, m.ExpiresAt.Format(time.RFC3339))
	return m, nil
}

// Join locks the challenger's matching wager and activates the match.
// The submitted value must equal the host's wager exactly.
func (l *Ledger) Join(ctx context.Context, caller Address, matchID uint64, value int64) (*Match, error) {
	if caller.IsZero() {
		return nil, ErrUnauthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != StatePending {
		return nil, ErrMatchUnavailable
	}
	if caller == m.Host {
		return nil, ErrSelfJoin
	}
	if value != m.Wager {
		return nil, ErrWagerMismatch
	}
	if !l.clock.Now().Before(m.ExpiresAt) {
		return nil, ErrMatchExpired
	}

	if err := l.bank.Debit(ctx, caller, value); err != nil {
		return nil, fmt.Errorf("lock wager: %w", err)
	}

	m.Challenger = caller
	m.State = StateActive
	if err := l.store.PutMatch(ctx, m); err != nil {
		l.refund(ctx, caller, value, "join persist failed")
		return nil, fmt.Errorf("persist match: %w", err)
	}
	if err := l.store.AppendHistory(ctx, caller, matchID); err != nil {
		l.log.Errorf("append history for challenger %s match %d: %v", caller, matchID, err)
	}

	l.log.Infof("Match %d joined by %s, now active with pot %d", matchID, caller, 2*m.Wager)
	return m, nil
}

// Cancel lets the host withdraw a match no challenger has joined yet,
// refunding the host's wager.
func (l *Ledger) Cancel(ctx context.Context, caller Address, matchID uint64) (*Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != StatePending {
		return nil, ErrNotCancellable
	}
	if caller != m.Host {
		return nil, ErrUnauthorized
	}
	if err := l.cancelPending(ctx, m); err != nil {
		return nil, err
	}
	l.log.Infof("Match %d cancelled by host %s, wager %d refunded", matchID, caller, m.Wager)
	return m, nil
}

// CancelExpired reclaims a pending match whose deadline has passed.
// Anyone may call it; the refund always goes to the host. This is how
// funds escape a match whose host vanished.
func (l *Ledger) CancelExpired(ctx context.Context, matchID uint64) (*Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != StatePending {
		return nil, ErrNotCancellable
	}
	if l.clock.Now().Before(m.ExpiresAt) {
		return nil, ErrNotExpired
	}
	if err := l.cancelPending(ctx, m); err != nil {
		return nil, err
	}
	l.log.Infof("Match %d expired and cancelled, wager %d refunded to host %s", matchID, m.Wager, m.Host)
	return m, nil
}

// cancelPending refunds the host and moves a pending match to Cancelled.
// Fund movement comes first: the state transition is recorded only after
// the refund lands, and a failed persist claws the refund back.
func (l *Ledger) cancelPending(ctx context.Context, m *Match) error {
	if err := l.bank.Pay(ctx, Payment{To: m.Host, Amount: m.Wager}); err != nil {
		return fmt.Errorf("refund host: %w", err)
	}
	m.State = StateCancelled
	if err := l.store.PutMatch(ctx, m); err != nil {
		m.State = StatePending
		if derr := l.bank.Debit(ctx, m.Host, m.Wager); derr != nil {
			l.log.Errorf("CRITICAL: match %d refund persisted nowhere and claw-back failed: %v", m.ID, derr)
		}
		return fmt.Errorf("persist cancellation: %w", err)
	}
	return nil
}

// Complete settles an active match. Either participant may report the
// winner; the Pending/Active guard makes the second report fail with
// ErrMatchNotActive, which clients treat as "already settled".
func (l *Ledger) Complete(ctx context.Context, caller Address, matchID uint64, winner Address) (*Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != StateActive {
		return nil, ErrMatchNotActive
	}
	if !m.HasParticipant(caller) {
		return nil, ErrUnauthorized
	}
	if !m.HasParticipant(winner) {
		return nil, ErrInvalidWinner
	}

	pot := 2 * m.Wager
	fee := pot * l.feeRateBps / 10000
	payout := pot - fee

	payments := []Payment{{To: winner, Amount: payout}}
	if fee > 0 {
		payments = append(payments, Payment{To: l.feeRecipient, Amount: fee})
	}
	if err := l.bank.Pay(ctx, payments...); err != nil {
		return nil, fmt.Errorf("disburse pot: %w", err)
	}

	m.State = StateCompleted
	m.Winner = winner
	if err := l.store.PutMatch(ctx, m); err != nil {
		m.State = StateActive
		m.Winner = Address{}
		for _, p := range payments {
			if derr := l.bank.Debit(ctx, p.To, p.Amount); derr != nil {
				l.log.Errorf("CRITICAL: match %d payout claw-back of %d from %s failed: %v", m.ID, p.Amount, p.To, derr)
			}
		}
		return nil, fmt.Errorf("persist completion: %w", err)
	}

	loser := m.Host
	if winner == m.Host {
		loser = m.Challenger
	}
	l.recordOutcome(ctx, winner, loser, payout)

	l.log.Infof("Match %d completed: winner=%s payout=%d fee=%d (reported by %s)",
		matchID, winner, payout, fee, caller)
	return m, nil
}

// recordOutcome bumps the winner's and loser's lifetime counters. Record
// updates are best-effort bookkeeping; the settlement itself already
// happened.
func (l *Ledger) recordOutcome(ctx context.Context, winner, loser Address, payout int64) {
	wrec, err := l.store.GetPlayerRecord(ctx, winner)
	if err != nil {
		l.log.Errorf("load winner record %s: %v", winner, err)
		return
	}
	if wrec == nil {
		wrec = &PlayerRecord{Address: winner}
	}
	wrec.Wins++
	wrec.TotalWinnings += payout
	if err := l.store.PutPlayerRecord(ctx, wrec); err != nil {
		l.log.Errorf("store winner record %s: %v", winner, err)
	}

	lrec, err := l.store.GetPlayerRecord(ctx, loser)
	if err != nil {
		l.log.Errorf("load loser record %s: %v", loser, err)
		return
	}
	if lrec == nil {
		lrec = &PlayerRecord{Address: loser}
	}
	lrec.MatchesPlayed++
	if err := l.store.PutPlayerRecord(ctx, lrec); err != nil {
		l.log.Errorf("store loser record %s: %v", loser, err)
	}
}

// Match returns a single match by ID.
func (l *Ledger) Match(ctx context.Context, matchID uint64) (*Match, error) {
	return l.getMatch(ctx, matchID)
}

// OpenMatches returns all matches still waiting for a challenger.
func (l *Ledger) OpenMatches(ctx context.Context) ([]*Match, error) {
	return l.store.PendingMatches(ctx)
}

// PlayerRecord returns a player's lifetime counters, or
// ErrPlayerNotFound if the player has never completed a match.
func (l *Ledger) PlayerRecord(ctx context.Context, addr Address) (*PlayerRecord, error) {
	rec, err := l.store.GetPlayerRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrPlayerNotFound
	}
	return rec, nil
}

// MatchHistory returns the IDs of every match the player has hosted or
// joined, oldest first.
func (l *Ledger) MatchHistory(ctx context.Context, addr Address) ([]uint64, error) {
	return l.store.History(ctx, addr)
}

func (l *Ledger) getMatch(ctx context.Context, matchID uint64) (*Match, error) {
	m, err := l.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// refund compensates a debit whose enclosing operation failed.
func (l *Ledger) refund(ctx context.Context, to Address, amount int64, reason string) {
	if err := l.bank.Pay(ctx, Payment{To: to, Amount: amount}); err != nil {
		l.log.Errorf("CRITICAL: %s and refund of %d to %s failed: %v", reason, amount, to, err)
	}
}
