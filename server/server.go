package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/ledger/ledgerdb"
	"github.com/massiveideaslabs/pongwager/relay"
)

// DefaultSweepInterval is how often the daemon scans for expired
// pending matches to reclaim.
const DefaultSweepInterval = 30 * time.Second

type Config struct {
	// DataDir holds the ledger database.
	DataDir string
	// ListenAddr is the HTTP listen address for both the API and the
	// relay websocket endpoint.
	ListenAddr string

	FeeRateBps   int64
	FeeRecipient ledger.Address

	// SweepInterval controls the expired-match maintenance loop.
	// Zero selects DefaultSweepInterval.
	SweepInterval time.Duration

	LogBackend *slog.Backend
}

// Server hosts the escrow ledger behind an HTTP JSON API and the match
// coordinator behind a websocket endpoint. The two share a process but
// not state: the relay never reads the ledger, and clients bridge the
// gap by polling.
type Server struct {
	cfg    Config
	log    slog.Logger
	db     *ledgerdb.BoltDB
	ledger *ledger.Ledger
	relay  *relay.Relay
	httpd  *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is nil")
	}
	log := cfg.LogBackend.Logger("SRVR")

	db, err := ledgerdb.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	l, err := ledger.New(ledger.Config{
		Store:        db,
		Bank:         db,
		FeeRateBps:   cfg.FeeRateBps,
		FeeRecipient: cfg.FeeRecipient,
		Log:          cfg.LogBackend.Logger("LDGR"),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		db:     db,
		ledger: l,
		relay:  relay.NewRelay(cfg.LogBackend.Logger("RELY")),
	}
	s.httpd = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.routes(),
	}
	return s, nil
}

// Handler exposes the HTTP surface for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpd.Handler
}

// Run serves until ctx is cancelled, then shuts down cleanly.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Infof("Listening on %s", s.cfg.ListenAddr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// sweepLoop is the automated maintenance client: it periodically
// reclaims pending matches whose deadline has passed, so a vanished
// host cannot strand locked funds. CancelExpired is callable by anyone,
// so the daemon needs no special authority.
func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Server) sweepExpired(ctx context.Context) {
	open, err := s.ledger.OpenMatches(ctx)
	if err != nil {
		s.log.Errorf("Sweep: list open matches: %v", err)
		return
	}
	now := time.Now()
	for _, m := range open {
		if now.Before(m.ExpiresAt) {
			continue
		}
		if _, err := s.ledger.CancelExpired(ctx, m.ID); err != nil {
			// Racing a host cancel or a last-moment handling elsewhere
			// is expected; anything else is worth a log line.
			if !errors.Is(err, ledger.ErrNotCancellable) && !errors.Is(err, ledger.ErrNotExpired) {
				s.log.Errorf("Sweep: cancel expired match %d: %v", m.ID, err)
			}
			continue
		}
		s.log.Infof("Sweep: reclaimed expired match %d", m.ID)
	}
}

// Shutdown stops the HTTP server and closes the database.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.log.Info("Shutting down HTTP server...")
	if err := s.httpd.Shutdown(ctx); err != nil {
		s.log.Errorf("HTTP shutdown: %v", err)
	}

	s.log.Info("Closing database...")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	s.log.Info("Server shut down completed.")
	return nil
}
