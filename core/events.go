package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventStatSet          EventType = "stat_set"
	EventStatsStored      EventType = "stats_stored"
	EventStatsReset       EventType = "stats_reset"
	EventLeaderboardFound EventType = "leaderboard_found"
	EventScoreUploaded    EventType = "score_uploaded"
)

// Event represents an immutable domain event.
type Event struct {
	Type         EventType        `json:"type"`
	Time         time.Time        `json:"time"`
	Stat         string           `json:"stat,omitempty"`
	Value        int32            `json:"value"`
	Leaderboard  string           `json:"leaderboard,omitempty"`
	Token        LeaderboardToken `json:"token,omitempty"`
	Upload       *ScoreUploaded   `json:"upload,omitempty"`
	Achievements bool             `json:"achievements,omitempty"`
}

func NewStatSet(name string, value int32) Event {
	return Event{Type: EventStatSet, Time: time.Now().UTC(), Stat: name, Value: value}
}

func NewStatsStored() Event {
	return Event{Type: EventStatsStored, Time: time.Now().UTC()}
}

func NewStatsReset(achievementsToo bool) Event {
	return Event{Type: EventStatsReset, Time: time.Now().UTC(), Achievements: achievementsToo}
}

func NewLeaderboardFound(name string, token LeaderboardToken) Event {
	return Event{Type: EventLeaderboardFound, Time: time.Now().UTC(), Leaderboard: name, Token: token}
}

func NewScoreUploaded(token LeaderboardToken, res ScoreUploaded) Event {
	return Event{Type: EventScoreUploaded, Time: time.Now().UTC(), Token: token, Upload: &res}
}

// AllEventTypes lists every event the facade publishes.
var AllEventTypes = []EventType{
	EventStatSet,
	EventStatsStored,
	EventStatsReset,
	EventLeaderboardFound,
	EventScoreUploaded,
}
