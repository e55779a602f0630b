package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/ledger/ledgerdb"
)

var (
	hostAddr       = ledger.MustParseAddress("0x1111111111111111111111111111111111111111")
	challengerAddr = ledger.MustParseAddress("0x2222222222222222222222222222222222222222")
	outsiderAddr   = ledger.MustParseAddress("0x3333333333333333333333333333333333333333")
	feeAddr        = ledger.MustParseAddress("0xfeefeefeefeefeefeefeefeefeefeefeefeefee0")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ledger *ledger.Ledger
	db     *ledgerdb.BoltDB
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := ledgerdb.NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l, err := ledger.New(ledger.Config{
		Store:        db,
		Bank:         db,
		Clock:        clock,
		FeeRateBps:   ledger.DefaultFeeRateBps,
		FeeRecipient: feeAddr,
		Log:          slog.Disabled,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Deposit(ctx, hostAddr, 10000))
	require.NoError(t, db.Deposit(ctx, challengerAddr, 10000))

	return &testEnv{ledger: l, db: db, clock: clock}
}

func (e *testEnv) balance(t *testing.T, addr ledger.Address) int64 {
	t.Helper()
	bal, err := e.db.Balance(context.Background(), addr)
	require.NoError(t, err)
	return bal
}

func TestCreateValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidWager)

	_, err = e.ledger.Create(ctx, hostAddr, 5, time.Hour, -50)
	assert.ErrorIs(t, err, ledger.ErrInvalidWager)

	_, err = e.ledger.Create(ctx, hostAddr, 0, time.Hour, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidDifficulty)

	_, err = e.ledger.Create(ctx, hostAddr, 11, time.Hour, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidDifficulty)

	_, err = e.ledger.Create(ctx, hostAddr, 5, 0, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidDuration)

	_, err = e.ledger.Create(ctx, hostAddr, 5, 8*24*time.Hour, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidDuration)

	// No funds were locked by any rejected create.
	assert.Equal(t, int64(10000), e.balance(t, hostAddr))
}

func TestCreateInsufficientFunds(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.ledger.Create(context.Background(), hostAddr, 5, time.Hour, 20000)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(10000), e.balance(t, hostAddr))
}

func TestCreateThenCancelRefundsHost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, m.State)
	assert.Equal(t, int64(100), m.Escrowed())
	assert.Equal(t, int64(9900), e.balance(t, hostAddr))

	m, err = e.ledger.Cancel(ctx, hostAddr, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCancelled, m.State)
	assert.Equal(t, int64(0), m.Escrowed())
	assert.Equal(t, int64(10000), e.balance(t, hostAddr))
}

func TestCancelAuthorization(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)

	_, err = e.ledger.Cancel(ctx, challengerAddr, m.ID)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	// Once active, not even the host can cancel.
	_, err = e.ledger.Join(ctx, challengerAddr, m.ID, 100)
	require.NoError(t, err)
	_, err = e.ledger.Cancel(ctx, hostAddr, m.ID)
	assert.ErrorIs(t, err, ledger.ErrNotCancellable)
}

func TestJoinActivatesAndCompleteSettles(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)

	m, err = e.ledger.Join(ctx, challengerAddr, m.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateActive, m.State)
	assert.Equal(t, challengerAddr, m.Challenger)
	assert.Equal(t, int64(200), m.Escrowed())
	assert.Equal(t, int64(9900), e.balance(t, challengerAddr))

	// Fee rate 100 bps on pot 200: fee 2, payout 198.
	m, err = e.ledger.Complete(ctx, hostAddr, m.ID, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCompleted, m.State)
	assert.Equal(t, challengerAddr, m.Winner)
	assert.Equal(t, int64(0), m.Escrowed())

	assert.Equal(t, int64(9900+198), e.balance(t, challengerAddr))
	assert.Equal(t, int64(2), e.balance(t, feeAddr))
	assert.Equal(t, int64(9900), e.balance(t, hostAddr))

	wrec, err := e.ledger.PlayerRecord(ctx, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wrec.Wins)
	assert.Equal(t, int64(198), wrec.TotalWinnings)

	lrec, err := e.ledger.PlayerRecord(ctx, hostAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lrec.Wins)
	assert.Equal(t, uint64(1), lrec.MatchesPlayed)
}

func TestFeeConservation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Odd pots floor the fee; payout + fee must still equal the pot.
	for _, wager := range []int64{1, 3, 33, 99, 101, 4999} {
		m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, wager)
		require.NoError(t, err)
		_, err = e.ledger.Join(ctx, challengerAddr, m.ID, wager)
		require.NoError(t, err)

		hostBefore := e.balance(t, hostAddr)
		feeBefore := e.balance(t, feeAddr)
		_, err = e.ledger.Complete(ctx, hostAddr, m.ID, hostAddr)
		require.NoError(t, err)

		pot := 2 * wager
		fee := pot * ledger.DefaultFeeRateBps / 10000
		assert.Equal(t, fee, e.balance(t, feeAddr)-feeBefore, "wager %d: fee", wager)
		assert.Equal(t, pot-fee, e.balance(t, hostAddr)-hostBefore, "wager %d: payout", wager)
	}
}

func TestJoinValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)

	_, err = e.ledger.Join(ctx, hostAddr, m.ID, 100)
	assert.ErrorIs(t, err, ledger.ErrSelfJoin)

	// Scenario: wrong value leaves the match pending with the host's
	// wager still locked.
	_, err = e.ledger.Join(ctx, challengerAddr, m.ID, 99)
	assert.ErrorIs(t, err, ledger.ErrWagerMismatch)
	assert.Equal(t, int64(10000), e.balance(t, challengerAddr))

	got, err := e.ledger.Match(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, got.State)
	assert.Equal(t, int64(100), got.Escrowed())

	_, err = e.ledger.Join(ctx, challengerAddr, 999, 100)
	assert.ErrorIs(t, err, ledger.ErrMatchNotFound)
}

func TestExpiry(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, 10*time.Second, 100)
	require.NoError(t, err)

	// Before the deadline nobody can reclaim, regardless of caller.
	_, err = e.ledger.CancelExpired(ctx, m.ID)
	assert.ErrorIs(t, err, ledger.ErrNotExpired)

	e.clock.Advance(11 * time.Second)

	// Past the deadline a join is rejected even though the state is
	// still nominally pending.
	_, err = e.ledger.Join(ctx, challengerAddr, m.ID, 100)
	assert.ErrorIs(t, err, ledger.ErrMatchExpired)

	// Anyone may now reclaim; the refund goes to the host.
	got, err := e.ledger.CancelExpired(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCancelled, got.State)
	assert.Equal(t, int64(10000), e.balance(t, hostAddr))

	// Second reclaim fails: the state guard already fired.
	_, err = e.ledger.CancelExpired(ctx, m.ID)
	assert.ErrorIs(t, err, ledger.ErrNotCancellable)
}

func TestCompleteGuards(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)

	// Pending matches cannot settle.
	_, err = e.ledger.Complete(ctx, hostAddr, m.ID, hostAddr)
	assert.ErrorIs(t, err, ledger.ErrMatchNotActive)

	_, err = e.ledger.Join(ctx, challengerAddr, m.ID, 100)
	require.NoError(t, err)

	_, err = e.ledger.Complete(ctx, outsiderAddr, m.ID, hostAddr)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = e.ledger.Complete(ctx, hostAddr, m.ID, outsiderAddr)
	assert.ErrorIs(t, err, ledger.ErrInvalidWinner)
}

func TestDoubleSettlement(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)
	_, err = e.ledger.Join(ctx, challengerAddr, m.ID, 100)
	require.NoError(t, err)

	// Both participants race to report the same winner; exactly one
	// settlement lands.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, caller := range []ledger.Address{hostAddr, challengerAddr} {
		wg.Add(1)
		go func(i int, caller ledger.Address) {
			defer wg.Done()
			_, errs[i] = e.ledger.Complete(ctx, caller, m.ID, challengerAddr)
		}(i, caller)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else if errors.Is(err, ledger.ErrMatchNotActive) {
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	// Exactly one payout happened.
	assert.Equal(t, int64(9900+198), e.balance(t, challengerAddr))
	assert.Equal(t, int64(2), e.balance(t, feeAddr))

	rec, err := e.ledger.PlayerRecord(ctx, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Wins)
}

func TestJoinExclusivity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.db.Deposit(ctx, outsiderAddr, 10000))

	m, err := e.ledger.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, caller := range []ledger.Address{challengerAddr, outsiderAddr} {
		wg.Add(1)
		go func(i int, caller ledger.Address) {
			defer wg.Done()
			_, errs[i] = e.ledger.Join(ctx, caller, m.ID, 100)
		}(i, caller)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else if errors.Is(err, ledger.ErrMatchUnavailable) {
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one join must win")
	assert.Equal(t, 1, lost, "the loser must see the state guard")

	got, err := e.ledger.Match(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateActive, got.State)
	assert.Equal(t, int64(200), got.Escrowed())

	// Only the winning joiner was debited.
	total := e.balance(t, challengerAddr) + e.balance(t, outsiderAddr)
	assert.Equal(t, int64(19900), total)
}

func TestQueriesSignalNotFound(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.ledger.Match(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrMatchNotFound)

	_, err = e.ledger.PlayerRecord(ctx, outsiderAddr)
	assert.ErrorIs(t, err, ledger.ErrPlayerNotFound)
}

func TestMatchHistory(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	m1, err := e.ledger.Create(ctx, hostAddr, 3, time.Hour, 50)
	require.NoError(t, err)
	m2, err := e.ledger.Create(ctx, hostAddr, 4, time.Hour, 75)
	require.NoError(t, err)
	_, err = e.ledger.Join(ctx, challengerAddr, m1.ID, 50)
	require.NoError(t, err)

	hostHist, err := e.ledger.MatchHistory(ctx, hostAddr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{m1.ID, m2.ID}, hostHist)

	chHist, err := e.ledger.MatchHistory(ctx, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{m1.ID}, chHist)
}

func TestTransferFailureRollsBack(t *testing.T) {
	db, err := ledgerdb.NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fb := &failingBank{inner: db}
	l, err := ledger.New(ledger.Config{
		Store:        db,
		Bank:         fb,
		Clock:        &fakeClock{now: time.Unix(1700000000, 0)},
		FeeRateBps:   ledger.DefaultFeeRateBps,
		FeeRecipient: feeAddr,
		Log:          slog.Disabled,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Deposit(ctx, hostAddr, 1000))
	require.NoError(t, db.Deposit(ctx, challengerAddr, 1000))

	m, err := l.Create(ctx, hostAddr, 5, time.Hour, 100)
	require.NoError(t, err)
	_, err = l.Join(ctx, challengerAddr, m.ID, 100)
	require.NoError(t, err)

	// Payout failure must leave the match active and unsettled.
	fb.failPay = true
	_, err = l.Complete(ctx, hostAddr, m.ID, hostAddr)
	require.Error(t, err)

	got, err := l.Match(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateActive, got.State)
	assert.True(t, got.Winner.IsZero())

	// Once transfers work again the settlement goes through.
	fb.failPay = false
	_, err = l.Complete(ctx, hostAddr, m.ID, hostAddr)
	require.NoError(t, err)
}

type failingBank struct {
	inner   ledger.Bank
	failPay bool
}

func (b *failingBank) Debit(ctx context.Context, from ledger.Address, amount int64) error {
	return b.inner.Debit(ctx, from, amount)
}

func (b *failingBank) Pay(ctx context.Context, payments ...ledger.Payment) error {
	if b.failPay {
		return errors.New("transfer rejected")
	}
	return b.inner.Pay(ctx, payments...)
}
