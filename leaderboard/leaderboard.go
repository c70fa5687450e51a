package leaderboard

import "statsbridge/core"

// Entry represents a score entry.
type Entry struct {
	User    core.UserID
	Score   int32
	Details []int32
}

// Board abstracts leaderboard operations. Ranks are 1-based.
type Board interface {
	Update(user core.UserID, score int32, details []int32)
	Remove(user core.UserID)
	Get(user core.UserID) (Entry, bool)
	Rank(user core.UserID) (int, bool)
	Range(startRank, endRank int) []Entry
	TopN(n int) []Entry
	Len() int
}
