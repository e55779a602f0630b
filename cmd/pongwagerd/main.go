package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/decred/slog"
	"github.com/joho/godotenv"

	"github.com/massiveideaslabs/pongwager/ledger"
	"github.com/massiveideaslabs/pongwager/server"
)

// env looks up key with a fallback, letting a .env file or the process
// environment override flag defaults.
func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pongwagerd"
	}
	return filepath.Join(home, ".pongwagerd")
}

func realMain() error {
	// A .env beside the binary is optional; flags and the environment
	// both work without it.
	godotenv.Load()

	var (
		dataDir  = flag.String("datadir", env("PONGWAGER_DATADIR", defaultDataDir()), "directory for the ledger database")
		listen   = flag.String("listen", env("PONGWAGER_LISTEN", ":8080"), "HTTP listen address")
		feeBps   = flag.String("feebps", env("PONGWAGER_FEE_BPS", strconv.Itoa(ledger.DefaultFeeRateBps)), "settlement fee in basis points")
		feeAddr  = flag.String("feeaddr", env("PONGWAGER_FEE_ADDR", ""), "address receiving settlement fees")
		sweep    = flag.Duration("sweep", server.DefaultSweepInterval, "expired-match sweep interval")
		logLevel = flag.String("loglevel", env("PONGWAGER_LOGLEVEL", "info"), "log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	bps, err := strconv.ParseInt(*feeBps, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid -feebps %q: %w", *feeBps, err)
	}
	var feeRecipient ledger.Address
	if *feeAddr != "" {
		feeRecipient, err = ledger.ParseAddress(*feeAddr)
		if err != nil {
			return fmt.Errorf("invalid -feeaddr: %w", err)
		}
	}
	if bps > 0 && feeRecipient.IsZero() {
		return fmt.Errorf("a nonzero fee requires -feeaddr")
	}
	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	backend := slog.NewBackend(os.Stdout)
	log := backend.Logger("MAIN")
	level, ok := slog.LevelFromString(*logLevel)
	if !ok {
		return fmt.Errorf("invalid -loglevel %q", *logLevel)
	}
	log.SetLevel(level)

	srv, err := server.NewServer(server.Config{
		DataDir:       *dataDir,
		ListenAddr:    *listen,
		FeeRateBps:    bps,
		FeeRecipient:  feeRecipient,
		SweepInterval: *sweep,
		LogBackend:    backend,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("pongwagerd starting: datadir=%s fee=%dbps", *dataDir, bps)
	return srv.Run(ctx)
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
