package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"statsbridge/core"
)

// CreateLeaderboardRequest is the body of POST /leaderboards.
type CreateLeaderboardRequest struct {
	Name        string `json:"name"`
	SortMethod  int32  `json:"sort_method"`
	DisplayType int32  `json:"display_type"`
}

// UploadScoreRequest is the body of POST /leaderboards/{token}/scores.
type UploadScoreRequest struct {
	Method  int32   `json:"method"`
	Score   int32   `json:"score"`
	Details []int32 `json:"details,omitempty"`
}

// EntriesQuery selects rows for DownloadEntries. Request is a data request
// code: 0 global, 1 around the user, 2 friends.
type EntriesQuery struct {
	Request    int32
	Start      int32
	End        int32
	MaxDetails int32
}

func (q EntriesQuery) values() url.Values {
	return url.Values{
		"request":     {strconv.Itoa(int(q.Request))},
		"start":       {strconv.Itoa(int(q.Start))},
		"end":         {strconv.Itoa(int(q.End))},
		"max_details": {strconv.Itoa(int(q.MaxDetails))},
	}
}

type tokenBody struct {
	Token *core.LeaderboardToken `json:"token"`
}

func (b tokenBody) unwrap() (core.LeaderboardToken, bool, error) {
	if b.Token == nil {
		return 0, false, nil
	}
	return *b.Token, true, nil
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is returned when the server rejects a request.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyName is returned when a stat or leaderboard name is empty.
var ErrEmptyName = errors.New("name is required")
