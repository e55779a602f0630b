package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/decred/slog"
	"github.com/joho/godotenv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/massiveideaslabs/pongwager/client"
	"github.com/massiveideaslabs/pongwager/ledger"
)

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func realMain() error {
	godotenv.Load()

	var (
		serverURL = flag.String("server", env("PONGWAGER_SERVER", "http://127.0.0.1:8080"), "escrow service base URL")
		relayURL  = flag.String("relay", env("PONGWAGER_RELAY", "ws://127.0.0.1:8080/ws"), "coordinator websocket URL (empty for poll-only)")
		addrStr   = flag.String("addr", env("PONGWAGER_ADDR", ""), "player address (20-byte hex)")
		logPath   = flag.String("logfile", env("PONGWAGER_LOGFILE", ""), "optional debug log file")
	)
	flag.Parse()

	if *addrStr == "" {
		return fmt.Errorf("a player address is required (-addr or PONGWAGER_ADDR)")
	}
	addr, err := ledger.ParseAddress(*addrStr)
	if err != nil {
		return fmt.Errorf("invalid player address: %w", err)
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	log := slog.Disabled
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log = slog.NewBackend(f).Logger("PONG")
		log.SetLevel(slog.LevelDebug)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ntfns := client.NewNotificationManager()
	mc, err := client.NewMatchClient(ctx, client.Config{
		ServerURL:     *serverURL,
		RelayURL:      *relayURL,
		Address:       addr,
		Notifications: ntfns,
		Log:           log,
	})
	if err != nil {
		return err
	}
	defer mc.Close()

	m := newAppstate(ctx, cancel, mc, ntfns, addr, log)
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
