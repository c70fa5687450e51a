package engine

import (
	"context"
	"log/slog"
	"time"

	"statsbridge/core"
	"statsbridge/logger"
	"statsbridge/metrics"
)

// Operation names used for logging and metrics.
const (
	OpGetInt                     = "get_int"
	OpSetInt                     = "set_int"
	OpStore                      = "store"
	OpResetAll                   = "reset_all"
	OpFindLeaderboard            = "find_leaderboard"
	OpFindOrCreateLeaderboard    = "find_or_create_leaderboard"
	OpUploadLeaderboardScore     = "upload_leaderboard_score"
	OpDownloadLeaderboardEntries = "download_leaderboard_entries"
	OpLeaderboardInfo            = "leaderboard_info"
)

// StatsService is the caller-facing facade over a native client's stats and
// leaderboards. None of its methods return errors: native failures, bad
// tokens and abandoned waits all collapse to an absent result or false.
type StatsService struct {
	client NativeClient
	tokens *TokenRegistry
	bus    *EventBus
	log    *slog.Logger
}

func NewStatsService(client NativeClient, tokens *TokenRegistry, bus *EventBus, log *slog.Logger) *StatsService {
	if client == nil || tokens == nil || bus == nil {
		panic("NewStatsService requires non-nil client, tokens, and bus")
	}
	if log == nil {
		log = slog.Default()
	}
	return &StatsService{client: client, tokens: tokens, bus: bus, log: log}
}

// Subscribe convenience method.
func (s *StatsService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *StatsService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Tokens exposes the registry backing this session.
func (s *StatsService) Tokens() *TokenRegistry { return s.tokens }

func (s *StatsService) Close() { s.bus.Close() }

// GetInt reads an integer stat.
func (s *StatsService) GetInt(ctx context.Context, name string) (int32, bool) {
	v, err := s.client.UserStats().GetStatInt32(name)
	if err != nil {
		s.fail(ctx, OpGetInt, err, "stat", name)
		return 0, false
	}
	s.succeed(OpGetInt)
	return v, true
}

// SetInt writes an integer stat. The write stays pending until Store.
func (s *StatsService) SetInt(ctx context.Context, name string, value int32) bool {
	if err := s.client.UserStats().SetStatInt32(name, value); err != nil {
		s.fail(ctx, OpSetInt, err, "stat", name)
		return false
	}
	s.succeed(OpSetInt)
	s.bus.Publish(ctx, core.NewStatSet(name, value))
	return true
}

// Store persists pending stat and achievement changes.
func (s *StatsService) Store(ctx context.Context) bool {
	if err := s.client.UserStats().StoreStats(); err != nil {
		s.fail(ctx, OpStore, err)
		return false
	}
	s.succeed(OpStore)
	s.bus.Publish(ctx, core.NewStatsStored())
	return true
}

// ResetAll wipes every stat, and achievements when asked. Irreversible.
func (s *StatsService) ResetAll(ctx context.Context, achievementsToo bool) bool {
	if err := s.client.UserStats().ResetAllStats(achievementsToo); err != nil {
		s.fail(ctx, OpResetAll, err, "achievements", achievementsToo)
		return false
	}
	s.succeed(OpResetAll)
	s.bus.Publish(ctx, core.NewStatsReset(achievementsToo))
	return true
}

// FindOrCreateLeaderboard looks a leaderboard up by name, creating it with the
// given sort and display codes when missing, and returns its token.
func (s *StatsService) FindOrCreateLeaderboard(ctx context.Context, name string, sortCode, displayCode int32) (core.LeaderboardToken, bool) {
	sort := core.SortMethodFromCode(sortCode)
	display := core.DisplayTypeFromCode(displayCode)

	c := NewCompletion[Result[*core.LeaderboardHandle]]()
	s.client.UserStats().FindOrCreateLeaderboard(name, sort, display, Deliver(c))
	return s.leaderboardToken(ctx, OpFindOrCreateLeaderboard, name, c)
}

// FindLeaderboard looks a leaderboard up by name without creating it.
func (s *StatsService) FindLeaderboard(ctx context.Context, name string) (core.LeaderboardToken, bool) {
	c := NewCompletion[Result[*core.LeaderboardHandle]]()
	s.client.UserStats().FindLeaderboard(name, Deliver(c))
	return s.leaderboardToken(ctx, OpFindLeaderboard, name, c)
}

func (s *StatsService) leaderboardToken(ctx context.Context, op, name string, c *Completion[Result[*core.LeaderboardHandle]]) (core.LeaderboardToken, bool) {
	lb, ok := await(ctx, s, op, c)
	if !ok || lb == nil {
		if ok {
			s.absent(ctx, op, "leaderboard", name)
		}
		return 0, false
	}
	s.succeed(op)
	tok := s.tokens.Issue(*lb)
	metrics.IssuedTokens.Set(float64(s.tokens.Len()))
	s.bus.Publish(ctx, core.NewLeaderboardFound(name, tok))
	return tok, true
}

// UploadLeaderboardScore submits a score to the leaderboard behind token.
func (s *StatsService) UploadLeaderboardScore(ctx context.Context, token string, methodCode int32, score int32, details []int32) (core.ScoreUploaded, bool) {
	lb, tok, ok := s.redeem(ctx, OpUploadLeaderboardScore, token)
	if !ok {
		return core.ScoreUploaded{}, false
	}
	method := core.UploadScoreMethodFromCode(methodCode)

	c := NewCompletion[Result[*core.ScoreUploaded]]()
	s.client.UserStats().UploadLeaderboardScore(lb, method, score, details, Deliver(c))
	res, ok := await(ctx, s, OpUploadLeaderboardScore, c)
	if !ok || res == nil {
		if ok {
			s.absent(ctx, OpUploadLeaderboardScore, "token", token)
		}
		return core.ScoreUploaded{}, false
	}
	s.succeed(OpUploadLeaderboardScore)
	s.bus.Publish(ctx, core.NewScoreUploaded(tok, *res))
	return *res, true
}

// DownloadLeaderboardEntries fetches the rows in [start, end] for the given
// request scope, with at most maxDetails detail values per row.
func (s *StatsService) DownloadLeaderboardEntries(ctx context.Context, token string, requestCode, start, end, maxDetails int32) ([]core.LeaderboardEntry, bool) {
	lb, _, ok := s.redeem(ctx, OpDownloadLeaderboardEntries, token)
	if !ok {
		return nil, false
	}
	request := core.DataRequestFromCode(requestCode)
	if maxDetails < 0 {
		maxDetails = 0
	}

	c := NewCompletion[Result[[]core.LeaderboardEntry]]()
	s.client.UserStats().DownloadLeaderboardEntries(lb, request, start, end, int(maxDetails), Deliver(c))
	entries, ok := await(ctx, s, OpDownloadLeaderboardEntries, c)
	if !ok {
		return nil, false
	}
	s.succeed(OpDownloadLeaderboardEntries)
	out := make([]core.LeaderboardEntry, len(entries))
	for i, e := range entries {
		e.Details = core.TruncateDetails(e.Details, int(maxDetails))
		out[i] = e
	}
	return out, true
}

// LeaderboardInfo describes the leaderboard behind token.
func (s *StatsService) LeaderboardInfo(ctx context.Context, token string) (core.LeaderboardInfo, bool) {
	lb, _, ok := s.redeem(ctx, OpLeaderboardInfo, token)
	if !ok {
		return core.LeaderboardInfo{}, false
	}
	info, err := s.client.UserStats().LeaderboardInfo(lb)
	if err != nil {
		s.fail(ctx, OpLeaderboardInfo, err, "token", token)
		return core.LeaderboardInfo{}, false
	}
	s.succeed(OpLeaderboardInfo)
	return info, true
}

// ResetSession forgets every issued token. Call it when the native session
// that minted the handles ends.
func (s *StatsService) ResetSession() {
	s.tokens.Reset()
	metrics.IssuedTokens.Set(0)
}

func (s *StatsService) redeem(ctx context.Context, op, token string) (core.LeaderboardHandle, core.LeaderboardToken, bool) {
	tok, err := core.ParseLeaderboardToken(token)
	if err == nil {
		var lb core.LeaderboardHandle
		if lb, err = s.tokens.Redeem(tok); err == nil {
			return lb, tok, true
		}
	}
	metrics.BridgeOperations.WithLabelValues(op, metrics.OutcomeInvalidToken).Inc()
	logger.FromContext(ctx, s.log).Debug("token rejected", "operation", op, "token", token, "error", err)
	return core.LeaderboardHandle{}, 0, false
}

// await suspends on c and unwraps the native result. ok is false when the
// caller gave up or the native side reported an error; callers record success
// themselves once they have checked the payload.
func await[T any](ctx context.Context, s *StatsService, op string, c *Completion[Result[T]]) (T, bool) {
	var zero T
	pending := metrics.BridgePending.WithLabelValues(op)
	pending.Inc()
	started := time.Now()
	res, err := c.Wait(ctx)
	pending.Dec()
	if err != nil {
		metrics.BridgeOperations.WithLabelValues(op, metrics.OutcomeAbandoned).Inc()
		logger.FromContext(ctx, s.log).Debug("native callback abandoned", "operation", op, "error", err)
		return zero, false
	}
	metrics.BridgeLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if res.Err != nil {
		s.fail(ctx, op, res.Err)
		return zero, false
	}
	return res.Value, true
}

func (s *StatsService) succeed(op string) {
	metrics.BridgeOperations.WithLabelValues(op, metrics.OutcomeOK).Inc()
}

func (s *StatsService) fail(ctx context.Context, op string, err error, attrs ...any) {
	metrics.BridgeOperations.WithLabelValues(op, metrics.OutcomeAbsent).Inc()
	args := append([]any{"operation", op, "error", err}, attrs...)
	logger.FromContext(ctx, s.log).Debug("native operation failed", args...)
}

func (s *StatsService) absent(ctx context.Context, op string, attrs ...any) {
	metrics.BridgeOperations.WithLabelValues(op, metrics.OutcomeAbsent).Inc()
	args := append([]any{"operation", op}, attrs...)
	logger.FromContext(ctx, s.log).Debug("native operation returned nothing", args...)
}
