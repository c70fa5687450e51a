package core

import "errors"

// Errors native backends report through their return values and callbacks.
var (
	ErrStatNotFound        = errors.New("stat not found")
	ErrLeaderboardNotFound = errors.New("leaderboard not found")
	ErrDetailsTooLong      = errors.New("too many leaderboard details")
	ErrClientClosed        = errors.New("native client closed")
)

// CheckDetails enforces the per-entry details limit.
func CheckDetails(details []int32) error {
	if len(details) > MaxLeaderboardDetails {
		return ErrDetailsTooLong
	}
	return nil
}
