package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statsbridge/adapters/jsonfile"
	mem "statsbridge/adapters/memory"
	redisAdapter "statsbridge/adapters/redis"
	sqlxAdapter "statsbridge/adapters/sqlx"
	"statsbridge/analytics"
	"statsbridge/api/httpapi"
	"statsbridge/bridge"
	"statsbridge/config"
	"statsbridge/core"
	"statsbridge/engine"
	"statsbridge/integrations/webhook"
	"statsbridge/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Hub      *realtime.Hub
	Activity *analytics.Activity
	Client   engine.NativeClient
	Service  *engine.StatsService
	Handler  http.Handler
	Server   *http.Server
	Metrics  *MetricsServer
}

// MetricsServer serves /metrics on its own listener. Its Server is nil when
// metrics are disabled or share the API listener.
type MetricsServer struct {
	Server *http.Server
}

// configSource selects where configuration comes from. File wins over Profile.
type configSource struct {
	File    string
	Profile string
}

func provideConfig(ctx context.Context, src configSource) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case src.File != "":
		cfg, err = config.LoadFromFile(src.File)
	case src.Profile != "":
		cfg, err = config.LoadProfile(src.Profile)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	config.LoadSecretsFromEnv(ctx, cfg, config.NewEnvironmentSecretStore())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after secrets: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg, os.Stdout)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideActivity() *analytics.Activity {
	return analytics.NewActivity()
}

func provideNativeClient(cfg *config.Config) (engine.NativeClient, func(), error) {
	client, err := setupBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := client.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return client, cleanup, nil
}

func provideWebhookSink(cfg *config.Config, log *slog.Logger) *webhook.Sink {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil
	}
	types := make([]core.EventType, len(cfg.Webhooks.Types))
	for i, t := range cfg.Webhooks.Types {
		types[i] = core.EventType(t)
	}
	return webhook.New(cfg.Webhooks.Endpoints,
		webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
		webhook.WithTypes(types...),
		webhook.WithLogger(log),
	)
}

func provideService(cfg *config.Config, client engine.NativeClient, hub *realtime.Hub, activity *analytics.Activity, sink *webhook.Sink, log *slog.Logger) (*engine.StatsService, func(), error) {
	mode := engine.DispatchAsync
	if cfg.Session.DispatchMode == "sync" {
		mode = engine.DispatchSync
	}
	opts := []bridge.Option{
		bridge.WithClient(client),
		bridge.WithRealtime(hub),
		bridge.WithDispatchMode(mode),
		bridge.WithLogger(log),
		bridge.WithSink(activity.OnEvent),
	}
	if sink != nil {
		opts = append(opts, bridge.WithSink(sink.OnEvent))
	}
	svc, err := bridge.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.StatsService, hub *realtime.Hub, cfg *config.Config, log *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Logger:           log,
	}
	if metricsShareListener(cfg) {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return httpapi.NewMux(svc, hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config) *MetricsServer {
	if !cfg.Metrics.Enabled || metricsShareListener(cfg) {
		return &MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	return &MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

func metricsShareListener(cfg *config.Config) bool {
	return cfg.Metrics.Enabled && (cfg.Metrics.Address == "" || cfg.Metrics.Address == cfg.Server.Address)
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Output == "stderr" {
		w = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

func sessionUsers(s config.SessionConfig) (core.UserID, []core.UserID) {
	friends := make([]core.UserID, len(s.Friends))
	for i, f := range s.Friends {
		friends[i] = core.UserID(f)
	}
	return core.UserID(s.UserID), friends
}

// setupBackend creates the native client selected by configuration.
func setupBackend(cfg *config.Config) (engine.NativeClient, error) {
	user, friends := sessionUsers(cfg.Session)
	stats := cfg.Session.Stats

	switch cfg.Backend.Adapter {
	case "memory":
		return mem.New(mem.WithUser(user), mem.WithFriends(friends...), mem.WithStats(stats))
	case "file":
		store, err := jsonfile.New(cfg.Backend.File.Path)
		if err != nil {
			return nil, err
		}
		return mem.New(mem.WithUser(user), mem.WithFriends(friends...), mem.WithStats(stats), mem.WithPersister(store))
	case "redis":
		return redisAdapter.New(cfg.Backend.Redis,
			redisAdapter.WithUser(user),
			redisAdapter.WithStats(stats),
			redisAdapter.WithFriends(friends...),
		)
	case "sql":
		return sqlxAdapter.New(cfg.Backend.SQL,
			sqlxAdapter.WithUser(user),
			sqlxAdapter.WithStats(stats),
			sqlxAdapter.WithFriends(friends...),
		)
	default:
		return nil, fmt.Errorf("unknown backend adapter: %s", cfg.Backend.Adapter)
	}
}
