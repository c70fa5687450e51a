package bridge

import (
	"context"
	"log/slog"

	mem "statsbridge/adapters/memory"
	"statsbridge/core"
	"statsbridge/engine"
	"statsbridge/realtime"
)

// Option configures the bridge builder.
type Option func(*config)

type config struct {
	client engine.NativeClient
	mode   engine.DispatchMode
	tokens *engine.TokenRegistry
	hub    *realtime.Hub
	sinks  []func(context.Context, core.Event)
	log    *slog.Logger
}

// WithClient sets the native stats client.
func WithClient(c engine.NativeClient) Option { return func(cfg *config) { cfg.client = c } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(cfg *config) { cfg.mode = m } }

// WithTokens shares a token registry, e.g. across a session restart.
func WithTokens(r *engine.TokenRegistry) Option { return func(cfg *config) { cfg.tokens = r } }

// WithRealtime wires a realtime hub to receive all facade events.
func WithRealtime(h *realtime.Hub) Option { return func(cfg *config) { cfg.hub = h } }

// WithSink subscribes an event handler, such as a webhook sink's OnEvent, to every event.
func WithSink(fn func(context.Context, core.Event)) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.sinks = append(cfg.sinks, fn)
		}
	}
}

// WithLogger sets the logger used for facade failures.
func WithLogger(l *slog.Logger) Option { return func(cfg *config) { cfg.log = l } }

// New builds a configured StatsService. If not provided, defaults are used:
//   - client: in-memory, callbacks delivered inline
//   - tokens: a fresh registry
//   - dispatch: async
func New(opts ...Option) (*engine.StatsService, error) {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.client == nil {
		c, err := mem.New(mem.WithSyncCallbacks())
		if err != nil {
			return nil, err
		}
		cfg.client = c
	}
	if cfg.tokens == nil {
		cfg.tokens = engine.NewTokenRegistry()
	}
	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, sink := range cfg.sinks {
		bus.SubscribeAll(sink)
	}
	return engine.NewStatsService(cfg.client, cfg.tokens, bus, cfg.log), nil
}
