package engine

import "statsbridge/core"

// Callbacks used by the asynchronous half of UserStats. A backend invokes each
// callback at most once, from any goroutine, possibly never. A nil pointer with
// a nil error means the backend answered with nothing.
type (
	LeaderboardCallback func(lb *core.LeaderboardHandle, err error)
	UploadCallback      func(res *core.ScoreUploaded, err error)
	EntriesCallback     func(entries []core.LeaderboardEntry, err error)
)

// UserStats is the stats and leaderboard surface of a native client.
type UserStats interface {
	GetStatInt32(name string) (int32, error)
	SetStatInt32(name string, value int32) error
	StoreStats() error
	ResetAllStats(achievementsToo bool) error

	FindLeaderboard(name string, cb LeaderboardCallback)
	FindOrCreateLeaderboard(name string, sort core.SortMethod, display core.DisplayType, cb LeaderboardCallback)
	UploadLeaderboardScore(lb core.LeaderboardHandle, method core.UploadScoreMethod, score int32, details []int32, cb UploadCallback)
	DownloadLeaderboardEntries(lb core.LeaderboardHandle, request core.DataRequest, start, end int32, maxDetails int, cb EntriesCallback)
	LeaderboardInfo(lb core.LeaderboardHandle) (core.LeaderboardInfo, error)
}

// NativeClient is an initialized native client session. The bridge only calls
// its methods; it never initializes or shuts it down.
type NativeClient interface {
	UserStats() UserStats
}
