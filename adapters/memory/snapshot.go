package memory

import "statsbridge/core"

// Snapshot is the durable part of a Client: stored stats, unlocked
// achievements and every leaderboard.
type Snapshot struct {
	Stats        map[string]int32 `json:"stats"`
	Achievements map[string]bool  `json:"achievements,omitempty"`
	Leaderboards []BoardSnapshot  `json:"leaderboards,omitempty"`
}

type BoardSnapshot struct {
	ID          uint64           `json:"id"`
	Name        string           `json:"name"`
	SortMethod  core.SortMethod  `json:"sort_method"`
	DisplayType core.DisplayType `json:"display_type"`
	Entries     []EntrySnapshot  `json:"entries,omitempty"`
}

type EntrySnapshot struct {
	User    core.UserID `json:"user,string"`
	Score   int32       `json:"score"`
	Details []int32     `json:"details,omitempty"`
}

// Persister saves and restores snapshots. Load reports found=false when
// nothing has been saved yet.
type Persister interface {
	Load() (snap Snapshot, found bool, err error)
	Save(snap Snapshot) error
}
