package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mjasion/glucose-tray/glucose"
)

// NightscoutOptions points at a Nightscout site. Token is an access token, not the API secret.
type NightscoutOptions struct {
	URL   string
	Token string
}

// Nightscout reads the newest sensor glucose entry from a Nightscout site
type Nightscout struct {
	entriesURL string
	token      string
	client     *http.Client
}

// NewNightscout creates a Nightscout client
func NewNightscout(opts NightscoutOptions, client *http.Client) (*Nightscout, error) {
	if opts.URL == "" {
		return nil, errors.New("nightscout url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid nightscout url %q", opts.URL)
	}

	return &Nightscout{
		entriesURL: base.String() + "/api/v1/entries/sgv.json",
		token:      opts.Token,
		client:     client,
	}, nil
}

func (n *Nightscout) Name() string { return string(MethodNightscout) }

type nightscoutEntry struct {
	SGV       decimal.Decimal `json:"sgv"`
	Direction string          `json:"direction"`
	Trend     *int            `json:"trend"`
	Date      int64           `json:"date"`
}

// Latest reads the single newest entry
func (n *Nightscout) Latest(ctx context.Context) (*Entry, error) {
	query := url.Values{}
	query.Set("count", "1")
	if n.token != "" {
		query.Set("token", n.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.entriesURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("nightscout: %w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var entries []nightscoutEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	e := entries[0]
	trend := glucose.ParseTrend(e.Direction)
	if trend == glucose.TrendUnknown && e.Trend != nil {
		trend = glucose.TrendFromCode(*e.Trend)
	}

	return &Entry{MgDL: e.SGV, Trend: trend, Timestamp: time.UnixMilli(e.Date)}, nil
}
