package ponggame

import (
	"context"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideOther(t *testing.T) {
	assert.Equal(t, SideRight, SideLeft.Other())
	assert.Equal(t, SideLeft, SideRight.Other())
	assert.Equal(t, "left", SideLeft.String())
	assert.Equal(t, "right", SideRight.String())
}

func TestNewSimulationInitialState(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	snap := s.Snapshot()
	assert.Equal(t, gameWidth/2, snap.BallX)
	assert.Equal(t, gameHeight/2, snap.BallY)
	assert.Equal(t, 0, snap.ScoreLeft)
	assert.Equal(t, 0, snap.ScoreRight)
	assert.NotZero(t, snap.BallDX, "serve must be in motion")
	assert.Equal(t, Side(0), s.Winner())
}

func TestDifficultyScalesBallSpeed(t *testing.T) {
	slow := NewSimulation(1, SideLeft, slog.Disabled)
	fast := NewSimulation(10, SideLeft, slog.Disabled)
	assert.Greater(t, fast.Snapshot().BallSpeed, slow.Snapshot().BallSpeed)
}

func TestTickAdvancesBall(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)
	before := s.Snapshot()

	s.mu.Lock()
	s.tick(0.016, time.Now())
	s.mu.Unlock()

	after := s.Snapshot()
	assert.NotEqual(t, before.BallX, after.BallX)
}

func TestGoalScoresAndServesNextRound(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	// Force the ball past the left edge with the paddle out of the way.
	s.mu.Lock()
	s.leftY = gameHeight - paddleHeight/2
	s.ballPos = Vec2{1, paddleHeight * 2}
	s.ballVel = Vec2{-500, 0}
	s.tick(0.05, time.Now())
	s.mu.Unlock()

	left, right := s.Scores()
	assert.Equal(t, 0, left)
	assert.Equal(t, 1, right)

	// Next round is already served from center.
	snap := s.Snapshot()
	assert.Equal(t, gameWidth/2, snap.BallX)
}

func TestTerminalScoreSetsWinner(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	s.mu.Lock()
	s.scoreRight = WinningScore - 1
	s.leftY = gameHeight - paddleHeight/2
	s.ballPos = Vec2{1, paddleHeight * 2}
	s.ballVel = Vec2{-500, 0}
	s.tick(0.05, time.Now())
	s.mu.Unlock()

	assert.Equal(t, SideRight, s.Winner())
}

func TestPaddleBlocksGoal(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	s.mu.Lock()
	s.leftY = 300
	s.ballPos = Vec2{paddleWidth + ballSize/2 + 1, 300}
	s.ballVel = Vec2{-400, 0}
	s.tick(0.016, time.Now())
	bounced := s.ballVel.X > 0
	s.mu.Unlock()

	assert.True(t, bounced, "ball should reflect off the paddle")
	left, right := s.Scores()
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, right)
}

func TestApplyRemotePaddleOverridesProxy(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	s.ApplyRemotePaddleY(123)
	snap := s.Snapshot()
	assert.Equal(t, 123.0, snap.RightY)

	// A fresh remote position suppresses the AI proxy for the hold
	// window: the paddle stays put through a tick.
	s.mu.Lock()
	s.tick(0.016, time.Now())
	y := s.rightY
	s.mu.Unlock()
	assert.Equal(t, 123.0, y)
}

func TestApplyRemotePaddleClamps(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)
	s.ApplyRemotePaddleY(-50)
	assert.Equal(t, paddleHeight/2, s.Snapshot().RightY)
	s.ApplyRemotePaddleY(gameHeight * 2)
	assert.Equal(t, gameHeight-paddleHeight/2, s.Snapshot().RightY)
}

func TestRunDeliversFramesAndStopsOnCancel(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-s.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunReportsResult(t *testing.T) {
	s := NewSimulation(5, SideLeft, slog.Disabled)

	// Rig the board one point from the end with an unstoppable goal.
	s.mu.Lock()
	s.scoreLeft = WinningScore - 1
	s.rightY = paddleHeight / 2
	s.ballPos = Vec2{gameWidth - 1, gameHeight - paddleHeight/2}
	s.ballVel = Vec2{2000, 0}
	s.lastRemote = time.Now().Add(time.Hour) // pin the proxy
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)

	select {
	case winner := <-s.Result():
		assert.Equal(t, SideLeft, winner)
	case <-ctx.Done():
		t.Fatal("no result before timeout")
	}

	require.Equal(t, SideLeft, s.Winner())
}
