package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/massiveideaslabs/pongwager/api"
	"github.com/massiveideaslabs/pongwager/ledger"
)

// LedgerClient talks to the escrow service's JSON API on behalf of one
// player. Rejections come back as the ledger's sentinel errors, so
// callers classify them with errors.Is exactly as they would in-process.
type LedgerClient struct {
	addr ledger.Address
	base string
	hc   *http.Client
}

func NewLedgerClient(serverURL string, addr ledger.Address) *LedgerClient {
	return &LedgerClient{
		addr: addr,
		base: serverURL,
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Address returns the player identity this client submits as.
func (c *LedgerClient) Address() ledger.Address { return c.addr }

// apiError converts an error response body back into a classifiable
// error. Unknown codes degrade to a plain error carrying the message.
func apiError(status int, body []byte) error {
	var resp api.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		if sentinel := ledger.ErrorFromCode(resp.Error); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("server rejected request (%d): %s", status, resp.Message)
	}
	return fmt.Errorf("server returned status %d", status)
}

func (c *LedgerClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.addr.IsZero() {
		req.Header.Set(api.CallerHeader, c.addr.String())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, raw.Bytes())
	}
	if out != nil {
		if err := json.Unmarshal(raw.Bytes(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *LedgerClient) CreateMatch(ctx context.Context, difficulty int, duration time.Duration, wager int64) (*ledger.Match, error) {
	var m ledger.Match
	err := c.do(ctx, "POST", "/api/matches", api.CreateMatchRequest{
		Difficulty:      difficulty,
		DurationSeconds: int64(duration / time.Second),
		Wager:           wager,
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) JoinMatch(ctx context.Context, matchID uint64, value int64) (*ledger.Match, error) {
	var m ledger.Match
	err := c.do(ctx, "POST", fmt.Sprintf("/api/matches/%d/join", matchID),
		api.JoinMatchRequest{Value: value}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) CancelMatch(ctx context.Context, matchID uint64) (*ledger.Match, error) {
	var m ledger.Match
	err := c.do(ctx, "POST", fmt.Sprintf("/api/matches/%d/cancel", matchID), nil, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) CancelExpired(ctx context.Context, matchID uint64) (*ledger.Match, error) {
	var m ledger.Match
	err := c.do(ctx, "POST", fmt.Sprintf("/api/matches/%d/cancel-expired", matchID), nil, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) CompleteMatch(ctx context.Context, matchID uint64, winner ledger.Address) (*ledger.Match, error) {
	var m ledger.Match
	err := c.do(ctx, "POST", fmt.Sprintf("/api/matches/%d/complete", matchID),
		api.CompleteMatchRequest{Winner: winner}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) Match(ctx context.Context, matchID uint64) (*ledger.Match, error) {
	var m ledger.Match
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/matches/%d", matchID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *LedgerClient) OpenMatches(ctx context.Context) ([]ledger.Match, error) {
	var open []ledger.Match
	if err := c.do(ctx, "GET", "/api/matches/open", nil, &open); err != nil {
		return nil, err
	}
	return open, nil
}

func (c *LedgerClient) PlayerRecord(ctx context.Context, addr ledger.Address) (*ledger.PlayerRecord, error) {
	var rec ledger.PlayerRecord
	if err := c.do(ctx, "GET", "/api/players/"+addr.String(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *LedgerClient) MatchHistory(ctx context.Context, addr ledger.Address) ([]uint64, error) {
	var resp api.HistoryResponse
	if err := c.do(ctx, "GET", "/api/players/"+addr.String()+"/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (c *LedgerClient) Balance(ctx context.Context) (int64, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, "GET", "/api/players/"+c.addr.String()+"/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *LedgerClient) Deposit(ctx context.Context, to ledger.Address, amount int64) (int64, error) {
	var resp api.BalanceResponse
	err := c.do(ctx, "POST", "/api/deposit", api.DepositRequest{To: to, Amount: amount}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}
