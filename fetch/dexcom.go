package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/glucose"
)

const (
	dexcomApplicationID = "d89443d2-327c-4a6f-89e5-496bbb0317db"
	dexcomServerUS      = "https://share2.dexcom.com"
	dexcomServerOUS     = "https://shareous1.dexcom.com"
	dexcomEmptyID       = "00000000-0000-0000-0000-000000000000"

	pathAuthenticate = "/ShareWebServices/Services/General/AuthenticatePublisherAccount"
	pathLogin        = "/ShareWebServices/Services/General/LoginPublisherAccountById"
	pathLatest       = "/ShareWebServices/Services/Publisher/ReadPublisherLatestGlucoseValues"
)

var errSessionExpired = errors.New("dexcom session expired")

// DexcomOptions holds Share credentials. Server is "us", "ous" or a base URL.
type DexcomOptions struct {
	Username string
	Password string
	Server   string
}

// DexcomServerURL resolves a server name to its base URL
func DexcomServerURL(server string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(server)) {
	case "", "us":
		return dexcomServerUS, nil
	case "ous", "eu":
		return dexcomServerOUS, nil
	}
	if u, err := url.Parse(server); err == nil && u.Scheme != "" && u.Host != "" {
		return strings.TrimRight(server, "/"), nil
	}
	return "", fmt.Errorf("unknown dexcom server %q, expected us, ous or a URL", server)
}

// Dexcom reads from the Dexcom Share publisher API, caching the session id
type Dexcom struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *zap.Logger

	mu        sync.Mutex
	sessionID string
}

// NewDexcom creates a Share client
func NewDexcom(opts DexcomOptions, client *http.Client, logger *zap.Logger) (*Dexcom, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("dexcom username and password are required")
	}
	base, err := DexcomServerURL(opts.Server)
	if err != nil {
		return nil, err
	}
	return &Dexcom{
		baseURL:  base,
		username: opts.Username,
		password: opts.Password,
		client:   client,
		logger:   logger,
	}, nil
}

func (d *Dexcom) Name() string { return string(MethodDexcom) }

// Latest reads the newest value, logging in again once if the cached session is rejected
func (d *Dexcom) Latest(ctx context.Context) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for renewed := false; ; renewed = true {
		if d.sessionID == "" {
			id, err := d.login(ctx)
			if err != nil {
				return nil, err
			}
			d.sessionID = id
		}

		entry, err := d.readLatest(ctx, d.sessionID)
		if errors.Is(err, errSessionExpired) && !renewed {
			d.logger.Info("dexcom session rejected, logging in again")
			d.sessionID = ""
			continue
		}
		return entry, err
	}
}

func (d *Dexcom) login(ctx context.Context) (string, error) {
	var accountID string
	err := d.post(ctx, pathAuthenticate, nil, map[string]string{
		"accountName":   d.username,
		"password":      d.password,
		"applicationId": dexcomApplicationID,
	}, &accountID)
	if err != nil {
		return "", fmt.Errorf("dexcom authenticate: %w", err)
	}
	if accountID == "" || accountID == dexcomEmptyID {
		return "", fmt.Errorf("dexcom authenticate: %w", ErrUnauthorized)
	}

	var sessionID string
	err = d.post(ctx, pathLogin, nil, map[string]string{
		"accountId":     accountID,
		"password":      d.password,
		"applicationId": dexcomApplicationID,
	}, &sessionID)
	if err != nil {
		return "", fmt.Errorf("dexcom login: %w", err)
	}
	if sessionID == "" || sessionID == dexcomEmptyID {
		return "", fmt.Errorf("dexcom login: %w", ErrUnauthorized)
	}
	return sessionID, nil
}

type dexcomValue struct {
	WT    string          `json:"WT"`
	Value decimal.Decimal `json:"Value"`
	Trend dexcomTrend     `json:"Trend"`
}

func (d *Dexcom) readLatest(ctx context.Context, sessionID string) (*Entry, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("minutes", "1440")
	query.Set("maxCount", "1")

	var values []dexcomValue
	if err := d.post(ctx, pathLatest, query, nil, &values); err != nil {
		return nil, fmt.Errorf("dexcom read latest: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	ts, err := parseDexcomTime(values[0].WT)
	if err != nil {
		return nil, err
	}
	return &Entry{MgDL: values[0].Value, Trend: glucose.Trend(values[0].Trend), Timestamp: ts}, nil
}

type dexcomError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

func (d *Dexcom) post(ctx context.Context, path string, query url.Values, body any, out any) error {
	target := d.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var de dexcomError
		if json.Unmarshal(data, &de) == nil && de.Code != "" {
			switch {
			case strings.HasPrefix(de.Code, "Session"):
				return fmt.Errorf("%w: %s", errSessionExpired, de.Code)
			case strings.Contains(de.Code, "Password"), strings.Contains(de.Code, "AccountNotFound"):
				return fmt.Errorf("%w: %s", ErrUnauthorized, de.Code)
			}
			return fmt.Errorf("unexpected status code %d: %s: %s", resp.StatusCode, de.Code, de.Message)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// parseDexcomTime reads "Date(1690000000000)" or "/Date(1690000000000-0400)/"
func parseDexcomTime(s string) (time.Time, error) {
	start := strings.Index(s, "(")
	if start < 0 {
		return time.Time{}, fmt.Errorf("invalid dexcom timestamp %q", s)
	}
	digits := s[start+1:]
	end := 0
	for end < len(digits) && (digits[end] >= '0' && digits[end] <= '9' || end == 0 && digits[end] == '-') {
		end++
	}
	ms, err := strconv.ParseInt(digits[:end], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid dexcom timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms), nil
}

// dexcomTrend decodes a trend sent either as a direction name or a numeric code
type dexcomTrend glucose.Trend

func (t *dexcomTrend) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*t = dexcomTrend(glucose.TrendFromCode(code))
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("invalid dexcom trend %s", data)
	}
	if code, err := strconv.Atoi(name); err == nil {
		*t = dexcomTrend(glucose.TrendFromCode(code))
		return nil
	}
	*t = dexcomTrend(glucose.ParseTrend(name))
	return nil
}
