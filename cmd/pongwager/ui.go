package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/massiveideaslabs/pongwager/client"
	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/ponggame"
	"github.com/massiveideaslabs/pongwager/relay"
)

type appMode int

const (
	modeLobby appMode = iota
	modeWaiting
	modePlaying
	modeResult
)

// Message types pumped through msgCh into the bubbletea loop.
type (
	lobbyMsg     []ledger.Match
	balanceMsg   int64
	noteMsg      string
	gameReadyMsg *ledger.Match
	frameMsg     ponggame.Snapshot
	settledMsg   *ledger.Match
)

const (
	keyReleaseDelay = 100 * time.Millisecond
	ballSendStride  = 3
	faucetAmount    = 1000
)

type appstate struct {
	sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	mc     *client.MatchClient
	addr   ledger.Address
	log    slog.Logger

	mode  appMode
	msgCh chan tea.Msg

	openMatches []ledger.Match
	selected    int
	balance     int64

	// Parameters for the next created match.
	wager      int64
	difficulty int

	current   *ledger.Match
	localSide ponggame.Side
	sim       *ponggame.Simulation
	simCancel context.CancelFunc
	frame     ponggame.Snapshot

	result       string
	notification string

	upTimer   *time.Timer
	downTimer *time.Timer
}

func newAppstate(ctx context.Context, cancel context.CancelFunc, mc *client.MatchClient, ntfns *client.NotificationManager, addr ledger.Address, log slog.Logger) *appstate {
	m := &appstate{
		ctx:        ctx,
		cancel:     cancel,
		mc:         mc,
		addr:       addr,
		log:        log,
		msgCh:      make(chan tea.Msg, 64),
		wager:      100,
		difficulty: 5,
	}

	ntfns.Register(client.OnGameReadyNtfn(func(match *ledger.Match, ts time.Time) {
		m.msgCh <- gameReadyMsg(match)
	}))
	ntfns.Register(client.OnMatchCreatedNtfn(func(matchID uint64, host string, ts time.Time) {
		m.refreshLobby()
	}))
	ntfns.Register(client.OnMatchCancelledNtfn(func(matchID uint64, ts time.Time) {
		m.refreshLobby()
	}))
	ntfns.RegisterSync(client.OnRemotePaddleNtfn(func(matchID uint64, y float64, ts time.Time) {
		m.Lock()
		sim := m.sim
		m.Unlock()
		if sim != nil {
			sim.ApplyRemotePaddleY(y)
		}
	}))
	ntfns.RegisterSync(client.OnRemoteBallNtfn(func(matchID uint64, ball relay.BallState, ts time.Time) {
		m.Lock()
		sim, side := m.sim, m.localSide
		m.Unlock()
		// Only the challenger adopts the host's ball stream.
		if sim != nil && side == ponggame.SideRight {
			sim.ApplyRemoteBall(ball.X, ball.Y, ball.DX, ball.DY, ball.Speed)
		}
	}))
	return m
}

func (m *appstate) waitForMsg() tea.Cmd {
	return func() tea.Msg {
		return <-m.msgCh
	}
}

func (m *appstate) refreshLobby() {
	go func() {
		open, err := m.mc.Ledger().OpenMatches(m.ctx)
		if err != nil {
			m.msgCh <- noteMsg(fmt.Sprintf("list matches: %v", err))
			return
		}
		m.msgCh <- lobbyMsg(open)
	}()
}

func (m *appstate) refreshBalance() {
	go func() {
		bal, err := m.mc.Ledger().Balance(m.ctx)
		if err != nil {
			m.msgCh <- noteMsg(fmt.Sprintf("balance: %v", err))
			return
		}
		m.msgCh <- balanceMsg(bal)
	}()
}

func (m *appstate) Init() tea.Cmd {
	m.refreshLobby()
	m.refreshBalance()
	return tea.Batch(m.waitForMsg(), tea.EnterAltScreen)
}

func (m *appstate) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case lobbyMsg:
		m.Lock()
		m.openMatches = msg
		if m.selected >= len(m.openMatches) {
			m.selected = 0
		}
		m.Unlock()
		return m, m.waitForMsg()

	case balanceMsg:
		m.Lock()
		m.balance = int64(msg)
		m.Unlock()
		return m, m.waitForMsg()

	case noteMsg:
		m.Lock()
		m.notification = string(msg)
		m.Unlock()
		return m, m.waitForMsg()

	case gameReadyMsg:
		m.startGame((*ledger.Match)(msg))
		return m, m.waitForMsg()

	case frameMsg:
		m.Lock()
		m.frame = ponggame.Snapshot(msg)
		m.Unlock()
		return m, m.waitForMsg()

	case settledMsg:
		m.Lock()
		m.mode = modeResult
		won := msg.Winner == m.addr
		if won {
			m.result = fmt.Sprintf("You won match %d!", msg.ID)
		} else {
			m.result = fmt.Sprintf("You lost match %d.", msg.ID)
		}
		m.Unlock()
		m.refreshBalance()
		return m, m.waitForMsg()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancel()
			return m, tea.Quit
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *appstate) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.Lock()
	mode := m.mode
	m.Unlock()

	if mode == modePlaying {
		return m.handleGameKey(msg)
	}

	switch msg.String() {
	case "q":
		m.cancel()
		return m, tea.Quit

	case "l":
		m.refreshLobby()
		m.refreshBalance()

	case "up", "k":
		m.Lock()
		if m.selected > 0 {
			m.selected--
		}
		m.Unlock()

	case "down", "j":
		m.Lock()
		if m.selected < len(m.openMatches)-1 {
			m.selected++
		}
		m.Unlock()

	case "+", "=":
		m.Lock()
		m.wager += 50
		m.Unlock()

	case "-", "_":
		m.Lock()
		if m.wager > 50 {
			m.wager -= 50
		}
		m.Unlock()

	case "[":
		m.Lock()
		if m.difficulty > ledger.MinDifficulty {
			m.difficulty--
		}
		m.Unlock()

	case "]":
		m.Lock()
		if m.difficulty < ledger.MaxDifficulty {
			m.difficulty++
		}
		m.Unlock()

	case "d":
		go func() {
			bal, err := m.mc.Ledger().Deposit(m.ctx, m.addr, faucetAmount)
			if err != nil {
				m.msgCh <- noteMsg(fmt.Sprintf("deposit: %v", err))
				return
			}
			m.msgCh <- balanceMsg(bal)
			m.msgCh <- noteMsg(fmt.Sprintf("Deposited %d", faucetAmount))
		}()

	case "c":
		if mode == modeLobby {
			m.createMatch()
		}

	case "enter":
		switch mode {
		case modeLobby:
			m.joinSelected()
		case modeResult:
			m.Lock()
			m.mode = modeLobby
			m.current = nil
			m.notification = ""
			m.Unlock()
			m.refreshLobby()
		}

	case "x":
		if mode == modeWaiting {
			m.cancelCurrent()
		}
	}
	return m, nil
}

func (m *appstate) handleGameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.Lock()
	sim := m.sim
	m.Unlock()
	if sim == nil {
		return m, nil
	}

	// Terminals deliver repeats, not releases, so each press drives the
	// paddle briefly and a timer stops it again.
	switch msg.String() {
	case "w", "up":
		sim.SetPaddleDir(-1)
		m.Lock()
		if m.upTimer != nil {
			m.upTimer.Stop()
		}
		m.upTimer = time.AfterFunc(keyReleaseDelay, func() { sim.SetPaddleDir(0) })
		m.Unlock()

	case "s", "down":
		sim.SetPaddleDir(1)
		m.Lock()
		if m.downTimer != nil {
			m.downTimer.Stop()
		}
		m.downTimer = time.AfterFunc(keyReleaseDelay, func() { sim.SetPaddleDir(0) })
		m.Unlock()

	case "q":
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

func (m *appstate) createMatch() {
	m.Lock()
	wager, difficulty := m.wager, m.difficulty
	m.Unlock()
	go func() {
		match, err := m.mc.CreateMatch(m.ctx, difficulty, time.Hour, wager)
		if err != nil {
			m.msgCh <- noteMsg(fmt.Sprintf("create: %v", err))
			return
		}
		m.Lock()
		m.mode = modeWaiting
		m.current = match
		m.Unlock()
		m.msgCh <- noteMsg(fmt.Sprintf("Match %d open, waiting for a challenger ('x' to cancel)", match.ID))
		m.refreshBalance()

		if _, err := m.mc.WaitForActive(m.ctx, match.ID); err != nil {
			switch {
			case errors.Is(err, client.ErrMatchCancelled):
				m.msgCh <- noteMsg("Match cancelled.")
			case errors.Is(err, client.ErrRetriesExhausted):
				m.msgCh <- noteMsg("No challenger arrived; match is still open.")
			default:
				m.msgCh <- noteMsg(fmt.Sprintf("waiting: %v", err))
			}
			m.Lock()
			if m.mode == modeWaiting {
				m.mode = modeLobby
			}
			m.Unlock()
			m.refreshLobby()
		}
		// Success surfaces through the gameReady notification.
	}()
}

func (m *appstate) joinSelected() {
	m.Lock()
	if len(m.openMatches) == 0 {
		m.Unlock()
		return
	}
	target := m.openMatches[m.selected]
	m.Unlock()

	go func() {
		match, err := m.mc.JoinMatch(m.ctx, target.ID, target.Wager)
		if err != nil {
			m.msgCh <- noteMsg(fmt.Sprintf("join: %v", err))
			m.refreshLobby()
			return
		}
		m.refreshBalance()
		m.msgCh <- gameReadyMsg(match)
	}()
}

func (m *appstate) cancelCurrent() {
	m.Lock()
	cur := m.current
	m.Unlock()
	if cur == nil {
		return
	}
	go func() {
		_, err := m.mc.CancelMatch(m.ctx, cur.ID)
		if errors.Is(err, client.ErrChallengerArrived) {
			m.msgCh <- noteMsg("Too late, a challenger arrived. Game on!")
			return
		}
		if err != nil {
			m.msgCh <- noteMsg(fmt.Sprintf("cancel: %v", err))
		}
		// State change lands via the match-cancelled announcement and
		// the pending WaitForActive call.
	}()
}

// startGame spins up the local simulation and the relay stream pumps
// for an active match.
func (m *appstate) startGame(match *ledger.Match) {
	side := ponggame.SideRight
	if match.Host == m.addr {
		side = ponggame.SideLeft
	}
	sim := ponggame.NewSimulation(match.Difficulty, side, m.log)

	gctx, gcancel := context.WithCancel(m.ctx)

	m.Lock()
	if m.simCancel != nil {
		m.simCancel()
	}
	m.mode = modePlaying
	m.current = match
	m.localSide = side
	m.sim = sim
	m.simCancel = gcancel
	m.notification = ""
	m.Unlock()

	go sim.Run(gctx)

	// Frame pump: render locally and stream our view to the opponent.
	// The host's instance is authoritative for the relayed ball.
	go func() {
		rc := m.mc.Relay()
		n := 0
		for {
			select {
			case <-gctx.Done():
				return
			case fr, ok := <-sim.Frames():
				if !ok {
					return
				}
				m.msgCh <- frameMsg(fr)
				if rc == nil {
					continue
				}
				y := fr.LeftY
				if side == ponggame.SideRight {
					y = fr.RightY
				}
				rc.SendPaddle(match.ID, y)
				n++
				if side == ponggame.SideLeft && n%ballSendStride == 0 {
					rc.SendBall(match.ID, relay.BallState{
						X: fr.BallX, Y: fr.BallY,
						DX: fr.BallDX, DY: fr.BallDY,
						Speed: fr.BallSpeed,
					})
					rc.SendScore(match.ID, relay.Scores{Left: fr.ScoreLeft, Right: fr.ScoreRight})
				}
			}
		}
	}()

	// Result pump: the local scoreboard decides who we report.
	go func() {
		select {
		case <-gctx.Done():
			return
		case winnerSide := <-sim.Result():
			gcancel()
			winner := match.Host
			if winnerSide == ponggame.SideRight {
				winner = match.Challenger
			}
			settled, err := m.mc.SubmitOutcome(m.ctx, match.ID, winner)
			if err != nil {
				m.msgCh <- noteMsg(fmt.Sprintf("settle: %v", err))
				if settled == nil {
					return
				}
			}
			m.msgCh <- settledMsg(settled)
		}
	}()
}

const (
	boardCols = 64
	boardRows = 20
)

func (m *appstate) View() string {
	m.Lock()
	defer m.Unlock()

	var b strings.Builder
	switch m.mode {
	case modeLobby:
		fmt.Fprintf(&b, "PONG WAGER        balance: %d        you: %s\n\n", m.balance, m.addr)
		fmt.Fprintf(&b, "Next match: wager=%d (+/-)  difficulty=%d ([/])\n\n", m.wager, m.difficulty)
		if len(m.openMatches) == 0 {
			b.WriteString("No open matches. Press 'c' to create one.\n")
		} else {
			b.WriteString("Open matches (enter to join):\n")
			for i, om := range m.openMatches {
				cursor := "  "
				if i == m.selected {
					cursor = "> "
				}
				fmt.Fprintf(&b, "%s#%d  wager=%d  difficulty=%d  host=%s\n",
					cursor, om.ID, om.Wager, om.Difficulty, om.Host)
			}
		}
		b.WriteString("\n[c]reate  [enter] join  [l] refresh  [d] faucet  [q]uit\n")

	case modeWaiting:
		fmt.Fprintf(&b, "Waiting for a challenger...\n\n")
		if m.current != nil {
			fmt.Fprintf(&b, "Match #%d  wager=%d  difficulty=%d\n", m.current.ID, m.current.Wager, m.current.Difficulty)
		}
		b.WriteString("\n[x] cancel and refund\n")

	case modePlaying:
		b.WriteString(renderBoard(m.frame, m.localSide))

	case modeResult:
		fmt.Fprintf(&b, "%s\n\nFinal score %d - %d\n\n[enter] back to lobby  [q]uit\n",
			m.result, m.frame.ScoreLeft, m.frame.ScoreRight)
	}

	if m.notification != "" {
		fmt.Fprintf(&b, "\n%s\n", m.notification)
	}
	return b.String()
}

func renderBoard(fr ponggame.Snapshot, local ponggame.Side) string {
	if fr.Width == 0 || fr.Height == 0 {
		return "starting...\n"
	}

	grid := make([][]rune, boardRows)
	for r := range grid {
		grid[r] = make([]rune, boardCols)
		for c := range grid[r] {
			grid[r][c] = ' '
		}
	}

	scaleX := float64(boardCols-1) / fr.Width
	scaleY := float64(boardRows-1) / fr.Height
	put := func(x, y float64, ch rune) {
		c := int(x * scaleX)
		r := int(y * scaleY)
		if c >= 0 && c < boardCols && r >= 0 && r < boardRows {
			grid[r][c] = ch
		}
	}

	// Paddles span a few rows around their center.
	paddleSpan := fr.Height * 0.125 / 2
	for dy := -paddleSpan; dy <= paddleSpan; dy += fr.Height / float64(boardRows) {
		put(0, fr.LeftY+dy, '|')
		put(fr.Width-1, fr.RightY+dy, '|')
	}
	put(fr.BallX, fr.BallY, 'o')

	you := "left"
	if local == ponggame.SideRight {
		you = "right"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  %d : %d   (you are %s, first to %d wins; w/s to move)\n",
		fr.ScoreLeft, fr.ScoreRight, you, ponggame.WinningScore)
	b.WriteString("+" + strings.Repeat("-", boardCols) + "+\n")
	for _, row := range grid {
		b.WriteString("|" + string(row) + "|\n")
	}
	b.WriteString("+" + strings.Repeat("-", boardCols) + "+\n")
	return b.String()
}
