package ponggame

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/ndabAP/ping-pong/engine"
)

const (
	DefaultFPS = 60

	// WinningScore ends the match: first side to reach it wins.
	WinningScore = 10

	gameWidth    = 800.0
	gameHeight   = 600.0
	paddleWidth  = 10.0
	paddleHeight = 75.0
	ballSize     = 15.0

	// Ball speed as a fraction of field width per second at difficulty 1;
	// each difficulty step adds 12%.
	baseSpeedRatio = 0.45
	difficultyStep = 0.12

	// Paddle speed as a fraction of field height per second.
	paddleSpeedRatio = 0.9

	// Speed multiplier applied on every paddle hit within a round.
	rallyAccel = 1.04

	// maxServeAngle bounds the serve away from the vertical.
	maxServeAngle = math.Pi / 4

	// remoteHold is how long a relayed paddle position overrides the AI
	// proxy before the proxy resumes driving the remote paddle.
	remoteHold = 500 * time.Millisecond
)

// Side identifies a paddle. The host renders on the left, the
// challenger on the right.
type Side int

const (
	SideLeft Side = iota + 1
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Vec2 is a 2D vector.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(w Vec2) Vec2 {
	return Vec2{v.X + w.X, v.Y + w.Y}
}

func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Snapshot is one rendered frame of simulation state.
type Snapshot struct {
	Width, Height  float64
	BallX, BallY   float64
	BallDX, BallDY float64
	BallSpeed      float64
	LeftY, RightY  float64
	ScoreLeft      int
	ScoreRight     int
}

// Simulation is the client-local pong simulation. Both participants run
// their own instance seeded from the same difficulty; the remote
// player's paddle is driven by an AI proxy between relayed position
// updates, so the two instances need not be bit-identical. Each client's
// local scoreboard is the arbiter for that client's completion report;
// the ledger's state guard resolves the resulting race.
type Simulation struct {
	mu sync.RWMutex

	game engine.Game

	ballPos, ballVel Vec2
	ballSpeed        float64
	leftY, rightY    float64
	leftVel          float64
	rightVel         float64

	scoreLeft, scoreRight int
	winner                Side

	localSide  Side
	difficulty int

	lastRemote time.Time

	rng *rand.Rand
	log slog.Logger

	frames chan Snapshot
	result chan Side
}

// NewSimulation builds a simulation for the given difficulty with the
// local player on localSide. Difficulty only shapes ball and proxy
// speed; it never touches settlement logic.
func NewSimulation(difficulty int, localSide Side, log slog.Logger) *Simulation {
	g := engine.NewGame(
		gameWidth, gameHeight,
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewBall(ballSize, ballSize),
	)
	s := &Simulation{
		game:       g,
		localSide:  localSide,
		difficulty: difficulty,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        log,
		frames:     make(chan Snapshot, 16),
		result:     make(chan Side, 1),
	}
	s.resetRound(SideLeft)
	return s
}

// Frames delivers rendered snapshots. Frames are dropped, not queued,
// when the consumer falls behind.
func (s *Simulation) Frames() <-chan Snapshot { return s.frames }

// Result delivers the winning side once a score reaches WinningScore.
func (s *Simulation) Result() <-chan Side { return s.result }

func (s *Simulation) speed() float64 {
	return gameWidth * baseSpeedRatio * (1 + difficultyStep*float64(s.difficulty-1))
}

// resetRound recenters the ball and rolls a fresh serve angle toward
// the side that conceded the last point.
func (s *Simulation) resetRound(towards Side) {
	angle := (s.rng.Float64()*2 - 1) * maxServeAngle
	dir := 1.0
	if towards == SideLeft {
		dir = -1
	}
	s.ballSpeed = s.speed()
	s.ballPos = Vec2{gameWidth / 2, gameHeight / 2}
	s.ballVel = Vec2{
		X: dir * s.ballSpeed * math.Cos(angle),
		Y: s.ballSpeed * math.Sin(angle),
	}
	s.leftY = gameHeight / 2
	s.rightY = gameHeight / 2
}

// SetPaddleDir sets the local paddle's movement: -1 up, 0 stop, 1 down.
func (s *Simulation) SetPaddleDir(dir int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := float64(dir) * paddleSpeedRatio * gameHeight
	if s.localSide == SideLeft {
		s.leftVel = v
	} else {
		s.rightVel = v
	}
}

// ApplyRemotePaddleY adopts the true remote paddle position from the
// relay. The AI proxy yields while these keep arriving.
func (s *Simulation) ApplyRemotePaddleY(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y = clamp(y, paddleHeight/2, gameHeight-paddleHeight/2)
	if s.localSide == SideLeft {
		s.rightY = y
	} else {
		s.leftY = y
	}
	s.lastRemote = time.Now()
}

// ApplyRemoteBall nudges the local ball toward the peer's snapshot to
// keep the two simulations converging. Best effort only.
func (s *Simulation) ApplyRemoteBall(x, y, dx, dy, speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const blend = 0.5
	s.ballPos.X += (x - s.ballPos.X) * blend
	s.ballPos.Y += (y - s.ballPos.Y) * blend
	s.ballVel = Vec2{dx, dy}
	if speed > 0 {
		s.ballSpeed = speed
	}
}

// Snapshot returns the current frame.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Simulation) snapshotLocked() Snapshot {
	return Snapshot{
		Width:      s.game.Width,
		Height:     s.game.Height,
		BallX:      s.ballPos.X,
		BallY:      s.ballPos.Y,
		BallDX:     s.ballVel.X,
		BallDY:     s.ballVel.Y,
		BallSpeed:  s.ballSpeed,
		LeftY:      s.leftY,
		RightY:     s.rightY,
		ScoreLeft:  s.scoreLeft,
		ScoreRight: s.scoreRight,
	}
}

// Scores returns the local scoreboard.
func (s *Simulation) Scores() (left, right int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoreLeft, s.scoreRight
}

// Winner returns the winning side, or 0 while the match is live.
func (s *Simulation) Winner() Side {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.winner
}

// Run drives the simulation until a side wins or ctx is cancelled. It
// must only be started once the match is ready; callers gate it on the
// ledger reporting Active with both participants present, so no physics
// accumulates while the client renders a waiting state.
func (s *Simulation) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / DefaultFPS)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			s.mu.Lock()
			s.tick(dt, now)
			done := s.winner != 0
			frame := s.snapshotLocked()
			winner := s.winner
			s.mu.Unlock()

			select {
			case s.frames <- frame:
			default:
				// Renderer behind; drop the frame.
			}

			if done {
				s.log.Infof("Simulation finished: %s reached %d", winner, WinningScore)
				s.result <- winner
				return
			}
		}
	}
}

// tick advances physics by dt seconds. Caller holds the lock.
func (s *Simulation) tick(dt float64, now time.Time) {
	// Local paddle integrates its velocity.
	if s.localSide == SideLeft {
		s.leftY = clamp(s.leftY+s.leftVel*dt, paddleHeight/2, gameHeight-paddleHeight/2)
	} else {
		s.rightY = clamp(s.rightY+s.rightVel*dt, paddleHeight/2, gameHeight-paddleHeight/2)
	}

	// Remote paddle: AI proxy tracks the ball unless fresh relayed
	// positions are overriding it.
	if now.Sub(s.lastRemote) > remoteHold {
		s.driveProxy(dt)
	}

	// Ball.
	s.ballPos = s.ballPos.Add(s.ballVel.Scale(dt))

	// Top/bottom walls.
	if s.ballPos.Y <= ballSize/2 {
		s.ballPos.Y = ballSize / 2
		s.ballVel.Y = math.Abs(s.ballVel.Y)
	} else if s.ballPos.Y >= gameHeight-ballSize/2 {
		s.ballPos.Y = gameHeight - ballSize/2
		s.ballVel.Y = -math.Abs(s.ballVel.Y)
	}

	// Paddle collisions.
	leftX := paddleWidth + ballSize/2
	rightX := gameWidth - paddleWidth - ballSize/2
	if s.ballVel.X < 0 && s.ballPos.X <= leftX && hitsPaddle(s.ballPos.Y, s.leftY) {
		s.ballPos.X = leftX
		s.bounce(s.leftY, 1)
	} else if s.ballVel.X > 0 && s.ballPos.X >= rightX && hitsPaddle(s.ballPos.Y, s.rightY) {
		s.ballPos.X = rightX
		s.bounce(s.rightY, -1)
	}

	// Goals.
	if s.ballPos.X < 0 {
		s.scoreRight++
		s.afterPoint(SideLeft)
	} else if s.ballPos.X > gameWidth {
		s.scoreLeft++
		s.afterPoint(SideRight)
	}
}

// bounce reflects the ball off a paddle, steering by hit offset and
// accelerating the rally.
func (s *Simulation) bounce(paddleY float64, dirX float64) {
	offset := (s.ballPos.Y - paddleY) / (paddleHeight / 2)
	offset = clamp(offset, -1, 1)
	angle := offset * maxServeAngle
	s.ballSpeed *= rallyAccel
	s.ballVel = Vec2{
		X: dirX * s.ballSpeed * math.Cos(angle),
		Y: s.ballSpeed * math.Sin(angle),
	}
}

// afterPoint checks for a terminal score and otherwise serves the next
// round toward the conceding side.
func (s *Simulation) afterPoint(conceded Side) {
	if s.scoreLeft >= WinningScore {
		s.winner = SideLeft
		return
	}
	if s.scoreRight >= WinningScore {
		s.winner = SideRight
		return
	}
	s.resetRound(conceded)
}

// driveProxy moves the remote-side paddle toward the ball at a
// difficulty-scaled speed.
func (s *Simulation) driveProxy(dt float64) {
	speed := paddleSpeedRatio * gameHeight * (0.5 + 0.05*float64(s.difficulty))
	var y *float64
	if s.localSide == SideLeft {
		y = &s.rightY
	} else {
		y = &s.leftY
	}
	delta := s.ballPos.Y - *y
	step := clamp(delta, -speed*dt, speed*dt)
	*y = clamp(*y+step, paddleHeight/2, gameHeight-paddleHeight/2)
}

func hitsPaddle(ballY, paddleY float64) bool {
	return math.Abs(ballY-paddleY) <= paddleHeight/2+ballSize/2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
