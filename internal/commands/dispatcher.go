package commands

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
	"github.com/nextlevelbuilder/neverbot/internal/channels"
	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// User-visible notices.
const (
	MsgNotEnabled    = "This command is not enabled in this channel."
	MsgNoPermission  = "You do not have permission to use this command."
	MsgSlowDown      = "Whoa, slow down! Try again in a minute."
	MsgCommandFailed = "An error occurred while executing this command."
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Servers  store.ServerStore // nil: no server records, every channel enabled
	Users    store.UserStore   // nil: no profiles
	Limiter  *channels.RateLimiter
	Dedup    *channels.DedupGuard
	Metrics  metrics.Recorder
}

// Dispatcher routes command events to handlers. Safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	servers  store.ServerStore
	users    store.UserStore
	limiter  *channels.RateLimiter
	dedup    *channels.DedupGuard
	rec      metrics.Recorder
	tracer   trace.Tracer

	rejectLog rate.Sometimes
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = channels.NewRateLimiter(channels.DefaultRateLimitWindow, channels.DefaultRateLimitMax)
	}
	if cfg.Dedup == nil {
		cfg.Dedup = channels.NewDedupGuard()
	}
	return &Dispatcher{
		registry:  cfg.Registry,
		servers:   cfg.Servers,
		users:     cfg.Users,
		limiter:   cfg.Limiter,
		dedup:     cfg.Dedup,
		rec:       metrics.Safe(cfg.Metrics),
		tracer:    otel.Tracer("github.com/nextlevelbuilder/neverbot/internal/commands"),
		rejectLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Registry returns the command table.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch handles one command invocation end to end. Every failure is
// handled here; nothing is returned to the event source.
func (d *Dispatcher) Dispatch(ctx context.Context, ev bus.CommandEvent, ia Interaction) {
	if !d.dedup.TryBegin(ev.ID) {
		slog.Debug("commands: duplicate interaction ignored", "interaction_id", ev.ID, "command", ev.Name)
		return
	}
	defer d.dedup.End(ev.ID)

	cmd, ok := d.registry.Get(ev.Name)
	if !ok {
		slog.Error("commands: no handler registered", "command", ev.Name)
		return
	}

	safe := newSafeInteraction(ia, cmd.profile())
	inv := &Invocation{Event: ev, Interaction: safe}
	inv.Server, inv.User = d.loadProfiles(ctx, ev)

	if ev.ServerID != "" && inv.Server != nil && !channels.ChannelEnabled(inv.Server.EnabledChannels, ev.ChannelID) {
		d.notify(ctx, safe, cmd.Name, MsgNotEnabled)
		return
	}
	if cmd.AdminOnly && ev.ServerID != "" && !ev.IsAdmin {
		d.notify(ctx, safe, cmd.Name, MsgNoPermission)
		return
	}
	if !d.limiter.Allow(ev.ActorID) {
		d.rec.RateLimitHit("command")
		d.rejectLog.Do(func() {
			slog.Info("commands: rate limited", "user_id", ev.ActorID, "command", cmd.Name)
		})
		d.notify(ctx, safe, cmd.Name, MsgSlowDown)
		return
	}

	ctx, span := d.tracer.Start(ctx, "command."+cmd.Name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("command", cmd.Name),
			attribute.String("channel_id", ev.ChannelID),
		),
	)
	defer span.End()

	timer := metrics.StartTimer(d.rec, cmd.Name)
	defer timer.Stop()
	d.rec.CommandStarted(cmd.Name)

	err := d.invoke(ctx, cmd, inv)
	timer.Stop()

	if err == nil {
		d.rec.CommandSucceeded(cmd.Name)
		slog.Debug("commands: completed", "command", cmd.Name, "user_id", ev.ActorID)
		return
	}

	kind := resilience.Label(err)
	d.rec.CommandFailed(cmd.Name, kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)

	if resilience.Classify(err) == resilience.KindPermission {
		slog.Warn("commands: missing permission", "command", cmd.Name, "channel_id", ev.ChannelID, "error", err)
		return
	}
	slog.Error("commands: handler failed", "command", cmd.Name, "user_id", ev.ActorID, "kind", kind, "error", err)
	if rerr := safe.notify(ctx, MsgCommandFailed); rerr != nil {
		slog.Debug("commands: error reply failed", "command", cmd.Name, "error", rerr)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("commands: handler panic", "command", cmd.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Handler(ctx, inv)
}

// loadProfiles resolves the server record and actor profile. Failures are
// logged and leave the corresponding value nil.
func (d *Dispatcher) loadProfiles(ctx context.Context, ev bus.CommandEvent) (*store.ServerData, *store.UserData) {
	var srv *store.ServerData
	var usr *store.UserData
	if d.servers != nil && ev.ServerID != "" {
		s, err := d.servers.FindOrCreate(ctx, ev.ServerID, ev.Server)
		if err != nil {
			slog.Error("commands: load server failed", "server_id", ev.ServerID, "error", err)
		} else {
			srv = s
		}
	}
	if d.users != nil {
		u, err := d.users.FindOrCreate(ctx, ev.ActorID, ev.ServerID, ev.ActorName)
		if err != nil {
			slog.Error("commands: load user failed", "user_id", ev.ActorID, "error", err)
		} else {
			usr = u
		}
	}
	return srv, usr
}

func (d *Dispatcher) notify(ctx context.Context, safe *safeInteraction, command, content string) {
	if err := safe.notify(ctx, content); err != nil {
		slog.Warn("commands: notice failed", "command", command, "error", err)
	}
}
