package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// UserID is the 64-bit platform identifier of a user.
type UserID uint64

// Platform limits enforced by native backends.
const (
	MaxLeaderboardDetails    = 64
	MaxLeaderboardNameLength = 128
)

// LeaderboardHandle is an opaque reference to a leaderboard minted by a native
// backend. Its value is only meaningful to the backend that produced it.
type LeaderboardHandle struct {
	raw uint64
}

// NewLeaderboardHandle is for native backends only; the bridge never builds
// handles on its own.
func NewLeaderboardHandle(raw uint64) LeaderboardHandle {
	return LeaderboardHandle{raw: raw}
}

// Raw returns the backend-specific value behind the handle.
func (h LeaderboardHandle) Raw() uint64 { return h.raw }

// IsZero reports whether the handle was never set.
func (h LeaderboardHandle) IsZero() bool { return h.raw == 0 }

// LeaderboardToken is the boundary form of a leaderboard handle.
type LeaderboardToken uint64

func (t LeaderboardToken) String() string { return strconv.FormatUint(uint64(t), 10) }

// MarshalText encodes the token as a decimal string so JSON callers never lose
// precision on 64-bit values.
func (t LeaderboardToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LeaderboardToken) UnmarshalText(b []byte) error {
	v, err := ParseLeaderboardToken(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ErrMalformedToken is returned when a token string is not a decimal uint64.
var ErrMalformedToken = errors.New("malformed leaderboard token")

// ParseLeaderboardToken parses the decimal string form of a token.
func ParseLeaderboardToken(s string) (LeaderboardToken, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedToken, s)
	}
	return LeaderboardToken(v), nil
}

// ScoreUploaded is the outcome of a score upload.
type ScoreUploaded struct {
	Score              int32 `json:"score"`
	WasChanged         bool  `json:"was_changed"`
	GlobalRankNew      int32 `json:"global_rank_new"`
	GlobalRankPrevious int32 `json:"global_rank_previous"`
}

// LeaderboardEntry is a single downloaded row.
type LeaderboardEntry struct {
	User       UserID  `json:"user,string"`
	GlobalRank int32   `json:"global_rank"`
	Score      int32   `json:"score"`
	Details    []int32 `json:"details"`
}

// LeaderboardInfo describes a leaderboard as the native backend sees it.
type LeaderboardInfo struct {
	Name        string      `json:"name"`
	SortMethod  SortMethod  `json:"sort_method"`
	DisplayType DisplayType `json:"display_type"`
	EntryCount  int32       `json:"entry_count"`
}

// TruncateDetails returns at most max details. The result is never nil so
// callers always see an ordered, possibly empty, sequence.
func TruncateDetails(details []int32, max int) []int32 {
	if max < 0 {
		max = 0
	}
	if len(details) < max {
		max = len(details)
	}
	out := make([]int32, max)
	copy(out, details[:max])
	return out
}

// ValidateLeaderboardName checks the platform name constraints.
func ValidateLeaderboardName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("empty leaderboard name")
	}
	if len(name) > MaxLeaderboardNameLength {
		return fmt.Errorf("leaderboard name longer than %d bytes", MaxLeaderboardNameLength)
	}
	return nil
}
