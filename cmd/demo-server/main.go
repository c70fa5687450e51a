package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	mem "statsbridge/adapters/memory"
	"statsbridge/api/httpapi"
	"statsbridge/bridge"
	"statsbridge/core"
	"statsbridge/realtime"
)

// demo players seeded onto the boards; the local user is 1 and is friends with 3 and 5
var rivals = []struct {
	user  core.UserID
	score int32
}{
	{2, 4200}, {3, 3900}, {4, 3100}, {5, 2500}, {6, 1200},
}

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(textHandler))

	client, err := mem.New(
		mem.WithUser(1),
		mem.WithFriends(3, 5),
		mem.WithStats(map[string]int32{"wins": 0, "losses": 0, "kills": 0}),
		mem.WithAchievements("first_win"),
	)
	if err != nil {
		slog.Error("create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	hub := realtime.NewHub()
	svc, err := bridge.New(bridge.WithClient(client), bridge.WithRealtime(hub))
	if err != nil {
		slog.Error("create service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx := context.Background()
	if _, ok := svc.FindOrCreateLeaderboard(ctx, "weekly", int32(core.SortDescending), int32(core.DisplayNumeric)); !ok {
		slog.Error("create demo leaderboard")
		os.Exit(1)
	}
	if _, ok := svc.FindOrCreateLeaderboard(ctx, "speedrun", int32(core.SortAscending), int32(core.DisplayTimeMilliSeconds)); !ok {
		slog.Error("create demo leaderboard")
		os.Exit(1)
	}
	for _, r := range rivals {
		_ = client.SeedScore("weekly", r.user, r.score, int32(r.user))
		_ = client.SeedScore("speedrun", r.user, 60000+r.score, int32(r.user))
	}

	handler := httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:      "/api",
		AllowCORSOrigin: "*",
		MetricsPath:     "/metrics",
	})

	slog.Info("starting demo server on :8080", "user", 1, "leaderboards", []string{"weekly", "speedrun"})

	if err := http.ListenAndServe(":8080", handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}
