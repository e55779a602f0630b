package client_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massiveideaslabs/pongwager/client"
	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/relay"
	"github.com/massiveideaslabs/pongwager/server"
)

var (
	hostAddr       = ledger.MustParseAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	challengerAddr = ledger.MustParseAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	feeAddr        = ledger.MustParseAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

// fastPoll keeps readiness waits snappy in tests.
var fastPoll = client.Poller{Interval: 10 * time.Millisecond, Growth: 1, MaxAttempts: 50}

type testEnv struct {
	t        *testing.T
	srv      *server.Server
	httpURL  string
	relayURL string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv, err := server.NewServer(server.Config{
		DataDir:      t.TempDir(),
		ListenAddr:   "127.0.0.1:0",
		FeeRateBps:   ledger.DefaultFeeRateBps,
		FeeRecipient: feeAddr,
		LogBackend:   slog.NewBackend(io.Discard),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return &testEnv{
		t:        t,
		srv:      srv,
		httpURL:  ts.URL,
		relayURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) newClient(addr ledger.Address, funds int64, ntfns *client.NotificationManager) *client.MatchClient {
	e.t.Helper()

	mc, err := client.NewMatchClient(context.Background(), client.Config{
		ServerURL:     e.httpURL,
		RelayURL:      e.relayURL,
		Address:       addr,
		Notifications: ntfns,
		Poller:        fastPoll,
		Log:           slog.Disabled,
	})
	require.NoError(e.t, err)
	e.t.Cleanup(func() { mc.Close() })

	if funds > 0 {
		_, err := mc.Ledger().Deposit(context.Background(), addr, funds)
		require.NoError(e.t, err)
	}
	return mc
}

func TestFullMatchLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	hostNtfns := client.NewNotificationManager()
	ready := make(chan *ledger.Match, 1)
	hostNtfns.RegisterSync(client.OnGameReadyNtfn(func(m *ledger.Match, ts time.Time) {
		ready <- m
	}))

	host := e.newClient(hostAddr, 100, hostNtfns)
	challenger := e.newClient(challengerAddr, 100, nil)

	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, m.State)

	joined, err := challenger.JoinMatch(ctx, m.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateActive, joined.State)

	active, err := host.WaitForActive(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, challengerAddr, active.Challenger)
	select {
	case got := <-ready:
		assert.Equal(t, m.ID, got.ID)
	default:
		t.Fatal("gameReady notification did not fire")
	}

	// Both sides report the same winner; the loser's report lands
	// second and is folded into success.
	done, err := host.SubmitOutcome(ctx, m.ID, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCompleted, done.State)

	done2, err := challenger.SubmitOutcome(ctx, m.ID, challengerAddr)
	require.NoError(t, err)
	assert.Equal(t, challengerAddr, done2.Winner)

	bal, err := challenger.Ledger().Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(198), bal)
}

func TestWaitForActiveCancelled(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	host := e.newClient(hostAddr, 100, nil)
	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)

	_, err = host.CancelMatch(ctx, m.ID)
	require.NoError(t, err)

	_, err = host.WaitForActive(ctx, m.ID)
	assert.ErrorIs(t, err, client.ErrMatchCancelled)
}

func TestWaitForActiveTimesOut(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	host := e.newClient(hostAddr, 100, nil)
	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)

	short := client.Poller{Interval: time.Millisecond, MaxAttempts: 2}
	mc, err := client.NewMatchClient(ctx, client.Config{
		ServerURL: e.httpURL,
		Address:   hostAddr,
		Poller:    short,
		Log:       slog.Disabled,
	})
	require.NoError(t, err)
	defer mc.Close()

	_, err = mc.WaitForActive(ctx, m.ID)
	assert.ErrorIs(t, err, client.ErrRetriesExhausted)
}

func TestCancelLosesRaceToJoin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	host := e.newClient(hostAddr, 100, nil)
	challenger := e.newClient(challengerAddr, 100, nil)

	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)

	_, err = challenger.JoinMatch(ctx, m.ID, 100)
	require.NoError(t, err)

	cur, err := host.CancelMatch(ctx, m.ID)
	assert.ErrorIs(t, err, client.ErrChallengerArrived)
	require.NotNil(t, cur)
	assert.Equal(t, ledger.StateActive, cur.State)
}

func TestSubmitOutcomeDisagreement(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	host := e.newClient(hostAddr, 100, nil)
	challenger := e.newClient(challengerAddr, 100, nil)

	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)
	_, err = challenger.JoinMatch(ctx, m.ID, 100)
	require.NoError(t, err)

	_, err = host.SubmitOutcome(ctx, m.ID, hostAddr)
	require.NoError(t, err)

	// The challenger believes it won; the pot already went the other
	// way and the conflict is surfaced, not silently folded.
	cur, err := challenger.SubmitOutcome(ctx, m.ID, challengerAddr)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrMatchNotActive)
	require.NotNil(t, cur)
	assert.Equal(t, hostAddr, cur.Winner)
}

func TestPollOnlyFallback(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	mc, err := client.NewMatchClient(ctx, client.Config{
		ServerURL: e.httpURL,
		// Unreachable relay: the client still comes up poll-only.
		RelayURL: "ws://127.0.0.1:1/ws",
		Address:  hostAddr,
		Poller:   fastPoll,
		Log:      slog.Disabled,
	})
	require.NoError(t, err)
	defer mc.Close()
	assert.Nil(t, mc.Relay())

	_, err = mc.Ledger().Deposit(ctx, hostAddr, 100)
	require.NoError(t, err)
	m, err := mc.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, m.State)
}

func TestRelayStreamsBetweenParticipants(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	hostNtfns := client.NewNotificationManager()
	paddles := make(chan float64, 8)
	scores := make(chan relay.Scores, 8)
	hostNtfns.RegisterSync(client.OnRemotePaddleNtfn(func(matchID uint64, y float64, ts time.Time) {
		paddles <- y
	}))
	hostNtfns.RegisterSync(client.OnRemoteScoreNtfn(func(matchID uint64, s relay.Scores, ts time.Time) {
		scores <- s
	}))

	host := e.newClient(hostAddr, 100, hostNtfns)
	challenger := e.newClient(challengerAddr, 100, nil)

	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)
	_, err = challenger.JoinMatch(ctx, m.ID, 100)
	require.NoError(t, err)

	challenger.Relay().SendPaddle(m.ID, 123.5)
	select {
	case y := <-paddles:
		assert.Equal(t, 123.5, y)
	case <-time.After(5 * time.Second):
		t.Fatal("remote paddle update never arrived")
	}

	challenger.Relay().SendScore(m.ID, relay.Scores{Left: 3, Right: 7})
	select {
	case s := <-scores:
		assert.Equal(t, relay.Scores{Left: 3, Right: 7}, s)
	case <-time.After(5 * time.Second):
		t.Fatal("remote score update never arrived")
	}
}

func TestLobbyAnnouncements(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	ntfns := client.NewNotificationManager()
	created := make(chan uint64, 8)
	ntfns.RegisterSync(client.OnMatchCreatedNtfn(func(matchID uint64, host string, ts time.Time) {
		created <- matchID
	}))

	watcher := e.newClient(challengerAddr, 0, ntfns)
	_ = watcher

	host := e.newClient(hostAddr, 100, nil)
	m, err := host.CreateMatch(ctx, 5, time.Hour, 100)
	require.NoError(t, err)

	select {
	case id := <-created:
		assert.Equal(t, m.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("matchCreated announcement never arrived")
	}
}
