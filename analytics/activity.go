package analytics

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"sort"
	"sync"
	"time"

	"statsbridge/core"
)

const dayLayout = "2006-01-02"

// DailyActivity is the per-day roll-up of facade events.
type DailyActivity struct {
	Day          string                   `json:"day"`
	Events       map[core.EventType]int64 `json:"events"`
	StatWrites   map[string]int64         `json:"stat_writes,omitempty"`
	Uploads      int64                    `json:"uploads"`
	Improvements int64                    `json:"improvements"`
}

// BoardActivity tracks uploads against one leaderboard token.
type BoardActivity struct {
	Token        core.LeaderboardToken `json:"token"`
	Name         string                `json:"name,omitempty"`
	Uploads      int64                 `json:"uploads"`
	Improvements int64                 `json:"improvements"`
	BestRank     int32                 `json:"best_rank"`
	LastScore    int32                 `json:"last_score"`
	LastUpload   time.Time             `json:"last_upload"`
}

// Activity aggregates the event stream of one session. It is safe for
// concurrent use and its OnEvent matches the event bus handler signature.
type Activity struct {
	mu     sync.RWMutex
	days   map[string]*DailyActivity
	boards map[core.LeaderboardToken]*BoardActivity
}

func NewActivity() *Activity {
	return &Activity{
		days:   map[string]*DailyActivity{},
		boards: map[core.LeaderboardToken]*BoardActivity{},
	}
}

func (a *Activity) OnEvent(_ context.Context, e core.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := a.day(e.Time)
	d.Events[e.Type]++

	switch e.Type {
	case core.EventStatSet:
		if d.StatWrites == nil {
			d.StatWrites = map[string]int64{}
		}
		d.StatWrites[e.Stat]++
	case core.EventLeaderboardFound:
		a.board(e.Token).Name = e.Leaderboard
	case core.EventScoreUploaded:
		if e.Upload == nil {
			return
		}
		d.Uploads++
		b := a.board(e.Token)
		b.Uploads++
		b.LastScore = e.Upload.Score
		b.LastUpload = e.Time
		if e.Upload.WasChanged {
			d.Improvements++
			b.Improvements++
		}
		if r := e.Upload.GlobalRankNew; r > 0 && (b.BestRank == 0 || r < b.BestRank) {
			b.BestRank = r
		}
	}
}

func (a *Activity) day(t time.Time) *DailyActivity {
	if t.IsZero() {
		t = time.Now()
	}
	key := t.UTC().Format(dayLayout)
	d, ok := a.days[key]
	if !ok {
		d = &DailyActivity{Day: key, Events: map[core.EventType]int64{}}
		a.days[key] = d
	}
	return d
}

func (a *Activity) board(tok core.LeaderboardToken) *BoardActivity {
	b, ok := a.boards[tok]
	if !ok {
		b = &BoardActivity{Token: tok}
		a.boards[tok] = b
	}
	return b
}

// Day returns a copy of the roll-up for day (YYYY-MM-DD).
func (a *Activity) Day(day string) (DailyActivity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.days[day]
	if !ok {
		return DailyActivity{}, false
	}
	out := *d
	out.Events = maps.Clone(d.Events)
	out.StatWrites = maps.Clone(d.StatWrites)
	return out, true
}

// Boards lists per-leaderboard activity, most uploads first.
func (a *Activity) Boards() []BoardActivity {
	a.mu.RLock()
	out := make([]BoardActivity, 0, len(a.boards))
	for _, b := range a.boards {
		out = append(out, *b)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Uploads != out[j].Uploads {
			return out[i].Uploads > out[j].Uploads
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Report is the exported form of an Activity.
type Report struct {
	Days   []DailyActivity `json:"days"`
	Boards []BoardActivity `json:"boards"`
}

// Report snapshots every day (oldest first) and board.
func (a *Activity) Report() Report {
	a.mu.RLock()
	keys := make([]string, 0, len(a.days))
	for k := range a.days {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	sort.Strings(keys)

	r := Report{Days: make([]DailyActivity, 0, len(keys)), Boards: a.Boards()}
	for _, k := range keys {
		if d, ok := a.Day(k); ok {
			r.Days = append(r.Days, d)
		}
	}
	return r
}

// Export writes the report as indented JSON.
func (a *Activity) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Report())
}
