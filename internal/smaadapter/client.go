package smaadapter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Logger keys of the WebConnect history API.
const (
	KeyDailyTotals     = 28704
	KeyFiveMinuteTotal = 28672
)

var (
	// ErrLoginFailed is returned when the device refuses the session.
	ErrLoginFailed = errors.New("smaadapter: login failed")
	// ErrSessionExpired is returned when the device reports an invalid sid.
	ErrSessionExpired = errors.New("smaadapter: session expired")
)

// Client is a minimal SMA WebConnect JSON client.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithInsecureTLS disables certificate verification; inverters ship with
// self-signed certificates.
func WithInsecureTLS() ClientOption {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		c.client = &http.Client{Timeout: c.client.Timeout, Transport: transport}
	}
}

// WithRateLimit limits requests per second against one device.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewClient constructs a client for one inverter.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("smaadapter: empty base url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("smaadapter: invalid base url: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LogEntry is one logger record. V is nil when the device has no value.
type LogEntry struct {
	T int64    `json:"t"`
	V *float64 `json:"v"`
}

// Time returns the entry timestamp.
func (e LogEntry) Time() time.Time { return time.Unix(e.T, 0) }

// Login opens a session and returns its sid. group is "user" or "installer".
func (c *Client) Login(ctx context.Context, group, password string) (string, error) {
	right, err := groupRight(group)
	if err != nil {
		return "", err
	}
	body := map[string]any{"right": right, "pass": password}
	var resp loginResponse
	if err := c.doJSON(ctx, "/dyn/login.json", "", body, &resp); err != nil {
		return "", err
	}
	if resp.Err != 0 || resp.Result.SID == "" {
		return "", fmt.Errorf("%w: code %d", ErrLoginFailed, resp.Err)
	}
	return resp.Result.SID, nil
}

// Logout closes a session.
func (c *Client) Logout(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return c.doJSON(ctx, "/dyn/logout.json", sid, map[string]any{}, nil)
}

// Logger reads the history logger between start and end (unix seconds,
// inclusive). Entries of every serial in the answer are merged and sorted.
func (c *Client) Logger(ctx context.Context, sid string, key int, start, end time.Time) ([]LogEntry, error) {
	if sid == "" {
		return nil, ErrSessionExpired
	}
	body := map[string]any{
		"destDev": []string{},
		"key":     key,
		"tStart":  start.Unix(),
		"tEnd":    end.Unix(),
	}
	var resp loggerResponse
	if err := c.doJSON(ctx, "/dyn/getLogger.json", sid, body, &resp); err != nil {
		return nil, err
	}
	if resp.Err == 401 {
		return nil, ErrSessionExpired
	}
	if resp.Err != 0 {
		return nil, fmt.Errorf("smaadapter: logger error %d", resp.Err)
	}
	var out []LogEntry
	for _, entries := range resp.Result {
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })
	return out, nil
}

type loginResponse struct {
	Result struct {
		SID string `json:"sid"`
	} `json:"result"`
	Err int `json:"err"`
}

type loggerResponse struct {
	Result map[string][]LogEntry `json:"result"`
	Err    int                   `json:"err"`
}

func groupRight(group string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "", "user", "usr":
		return "usr", nil
	case "installer", "istl":
		return "istl", nil
	default:
		return "", fmt.Errorf("smaadapter: unknown group %q", group)
	}
}

func (c *Client) doJSON(ctx context.Context, path, sid string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if sid != "" {
		target += "?sid=" + url.QueryEscape(sid)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("smaadapter: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
