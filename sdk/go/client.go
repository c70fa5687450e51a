package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"statsbridge/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the statsbridge HTTP + WebSocket API.
// Lookups the server answers with null come back with ok=false and a nil
// error; errors are reserved for transport and request failures.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// GetStat reads an integer stat.
func (c *Client) GetStat(ctx context.Context, name string) (int32, bool, error) {
	if strings.TrimSpace(name) == "" {
		return 0, false, ErrEmptyName
	}
	var body struct {
		Value *int32 `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/stats/"+url.PathEscape(name), nil, nil, &body); err != nil {
		return 0, false, err
	}
	if body.Value == nil {
		return 0, false, nil
	}
	return *body.Value, true, nil
}

// SetStat writes an integer stat; it stays pending until StoreStats.
func (c *Client) SetStat(ctx context.Context, name string, value int32) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, ErrEmptyName
	}
	return c.doOK(ctx, http.MethodPut, "/stats/"+url.PathEscape(name), nil, map[string]int32{"value": value})
}

// StoreStats persists pending stat changes.
func (c *Client) StoreStats(ctx context.Context) (bool, error) {
	return c.doOK(ctx, http.MethodPost, "/stats/store", nil, nil)
}

// ResetAllStats wipes every stat, and achievements when asked.
func (c *Client) ResetAllStats(ctx context.Context, achievementsToo bool) (bool, error) {
	q := url.Values{"achievements": {strconv.FormatBool(achievementsToo)}}
	return c.doOK(ctx, http.MethodPost, "/stats/reset", q, nil)
}

// FindOrCreateLeaderboard returns the token of the named leaderboard, creating it
// with the given sort and display codes when missing.
func (c *Client) FindOrCreateLeaderboard(ctx context.Context, name string, sortMethod, displayType int32) (core.LeaderboardToken, bool, error) {
	if strings.TrimSpace(name) == "" {
		return 0, false, ErrEmptyName
	}
	req := CreateLeaderboardRequest{Name: name, SortMethod: sortMethod, DisplayType: displayType}
	var body tokenBody
	if err := c.do(ctx, http.MethodPost, "/leaderboards", nil, req, &body); err != nil {
		return 0, false, err
	}
	return body.unwrap()
}

// FindLeaderboard returns the token of an existing leaderboard.
func (c *Client) FindLeaderboard(ctx context.Context, name string) (core.LeaderboardToken, bool, error) {
	if strings.TrimSpace(name) == "" {
		return 0, false, ErrEmptyName
	}
	var body tokenBody
	if err := c.do(ctx, http.MethodGet, "/leaderboards/by-name/"+url.PathEscape(name), nil, nil, &body); err != nil {
		return 0, false, err
	}
	return body.unwrap()
}

// LeaderboardInfo describes the leaderboard behind token.
func (c *Client) LeaderboardInfo(ctx context.Context, token core.LeaderboardToken) (core.LeaderboardInfo, bool, error) {
	var info *core.LeaderboardInfo
	if err := c.do(ctx, http.MethodGet, "/leaderboards/"+token.String(), nil, nil, &info); err != nil || info == nil {
		return core.LeaderboardInfo{}, false, err
	}
	return *info, true, nil
}

// UploadScore submits a score with an upload method code (0 keep best, 1 force update).
func (c *Client) UploadScore(ctx context.Context, token core.LeaderboardToken, method, score int32, details []int32) (core.ScoreUploaded, bool, error) {
	req := UploadScoreRequest{Method: method, Score: score, Details: details}
	var res *core.ScoreUploaded
	if err := c.do(ctx, http.MethodPost, "/leaderboards/"+token.String()+"/scores", nil, req, &res); err != nil || res == nil {
		return core.ScoreUploaded{}, false, err
	}
	return *res, true, nil
}

// DownloadEntries fetches leaderboard rows.
func (c *Client) DownloadEntries(ctx context.Context, token core.LeaderboardToken, q EntriesQuery) ([]core.LeaderboardEntry, bool, error) {
	var entries *[]core.LeaderboardEntry
	if err := c.do(ctx, http.MethodGet, "/leaderboards/"+token.String()+"/entries", q.values(), nil, &entries); err != nil || entries == nil {
		return nil, false, err
	}
	return *entries, true, nil
}

// Health calls /healthz.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values,
// optionally only the listed types.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		target += "?" + url.Values{"types": {strings.Join(names, ",")}}.Encode()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) doOK(ctx context.Context, method, path string, query url.Values, in any) (bool, error) {
	var body struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, method, path, query, in, &body); err != nil {
		return false, err
	}
	return body.OK, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var payload *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	var req *http.Request
	var err error
	if payload != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
