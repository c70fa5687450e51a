package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"statsbridge/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewStatSet("wins", 10)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.Stat != "wins" || received.Type != core.EventStatSet {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestHubTypeFilter(t *testing.T) {
	h := NewHub()
	_, scores := h.Subscribe(4, core.EventScoreUploaded)

	h.Broadcast(context.Background(), core.NewStatsStored())
	h.Broadcast(context.Background(), core.NewScoreUploaded(42, core.ScoreUploaded{Score: 7}))

	got := <-scores
	if got.Type != core.EventScoreUploaded || got.Upload.Score != 7 {
		t.Fatalf("unexpected event: %+v", got)
	}
	select {
	case extra := <-scores:
		t.Fatalf("filtered event delivered: %+v", extra)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	h.Broadcast(context.Background(), core.NewStatSet("a", 1))
	h.Broadcast(context.Background(), core.NewStatSet("b", 2))

	if got := <-ch; got.Stat != "a" {
		t.Fatalf("expected first event kept, got %+v", got)
	}
	if len(ch) != 0 {
		t.Fatal("expected second event dropped")
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewLeaderboardFound("weekly", 12345678901234)
	b := MarshalJSON(ev)
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["token"] != "12345678901234" {
		t.Fatalf("expected token as decimal string, got %v", raw["token"])
	}
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if out.Leaderboard != "weekly" || out.Token != 12345678901234 {
		t.Fatalf("unexpected event: %+v", out)
	}
}
