// Package metrics is the fire-and-forget metrics sink. Counters are kept in
// memory for the botstat command and mirrored to OpenTelemetry instruments
// on the global meter provider. A failure inside a recorder never reaches
// the caller.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder receives bot metrics.
type Recorder interface {
	CommandStarted(command string)
	CommandSucceeded(command string)
	CommandFailed(command, kind string)
	ObserveCommandLatency(command string, d time.Duration)
	CompletionError(kind string)
	CompletionSucceeded()
	TokenUsage(prompt, completion int)
	RateLimitHit(source string)
}

// Metric names.
const (
	NameCommandStarted  = "discord_command_started_total"
	NameCommandSuccess  = "discord_command_success_total"
	NameCommandErrors   = "discord_command_errors_total"
	NameCommandLatency  = "discord_command_latency_ms"
	NameCompletionError = "openai_request_errors_total"
	NameCompletionOK    = "openai_request_success_total"
	NameTokens          = "openai_tokens_total"
	NameRateLimitHits   = "rate_limit_hits_total"
)

// Registry is the default Recorder.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	latency  map[string]*latencyStats

	started    metric.Int64Counter
	succeeded  metric.Int64Counter
	failed     metric.Int64Counter
	histogram  metric.Float64Histogram
	completion metric.Int64Counter
	completed  metric.Int64Counter
	tokens     metric.Int64Counter
	rateLimits metric.Int64Counter
}

type latencyStats struct {
	count int64
	total time.Duration
	max   time.Duration
}

// NewRegistry creates a Registry whose instruments come from the global
// OpenTelemetry meter provider (a no-op until one is installed).
func NewRegistry() *Registry {
	r := &Registry{
		counters: make(map[string]int64),
		latency:  make(map[string]*latencyStats),
	}

	meter := otel.Meter("github.com/nextlevelbuilder/neverbot")
	var err error
	if r.started, err = meter.Int64Counter(NameCommandStarted); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCommandStarted, "error", err)
	}
	if r.succeeded, err = meter.Int64Counter(NameCommandSuccess); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCommandSuccess, "error", err)
	}
	if r.failed, err = meter.Int64Counter(NameCommandErrors); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCommandErrors, "error", err)
	}
	if r.histogram, err = meter.Float64Histogram(NameCommandLatency,
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(50, 100, 200, 500, 1000, 2000, 5000),
	); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCommandLatency, "error", err)
	}
	if r.completion, err = meter.Int64Counter(NameCompletionError); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCompletionError, "error", err)
	}
	if r.completed, err = meter.Int64Counter(NameCompletionOK); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameCompletionOK, "error", err)
	}
	if r.tokens, err = meter.Int64Counter(NameTokens); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameTokens, "error", err)
	}
	if r.rateLimits, err = meter.Int64Counter(NameRateLimitHits); err != nil {
		slog.Warn("metrics: instrument unavailable", "name", NameRateLimitHits, "error", err)
	}
	return r
}

// guard swallows panics from a reporting call.
func guard(name string) {
	if rec := recover(); rec != nil {
		slog.Warn("metrics: recorder panicked", "metric", name, "panic", rec)
	}
}

func seriesKey(name string, labels ...string) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(labels[i])
		b.WriteByte('=')
		b.WriteString(labels[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func (r *Registry) add(delta int64, name string, labels ...string) {
	r.mu.Lock()
	r.counters[seriesKey(name, labels...)] += delta
	r.mu.Unlock()
}

func addOtel(c metric.Int64Counter, delta int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(attrs...))
}

func (r *Registry) CommandStarted(command string) {
	defer guard(NameCommandStarted)
	r.add(1, NameCommandStarted, "command", command)
	addOtel(r.started, 1, attribute.String("command", command))
}

func (r *Registry) CommandSucceeded(command string) {
	defer guard(NameCommandSuccess)
	r.add(1, NameCommandSuccess, "command", command)
	addOtel(r.succeeded, 1, attribute.String("command", command))
}

func (r *Registry) CommandFailed(command, kind string) {
	defer guard(NameCommandErrors)
	r.add(1, NameCommandErrors, "command", command, "type", kind)
	addOtel(r.failed, 1, attribute.String("command", command), attribute.String("type", kind))
}

func (r *Registry) ObserveCommandLatency(command string, d time.Duration) {
	defer guard(NameCommandLatency)
	r.mu.Lock()
	st, ok := r.latency[command]
	if !ok {
		st = &latencyStats{}
		r.latency[command] = st
	}
	st.count++
	st.total += d
	if d > st.max {
		st.max = d
	}
	r.mu.Unlock()

	if r.histogram != nil {
		r.histogram.Record(context.Background(), float64(d)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("command", command)))
	}
}

func (r *Registry) CompletionError(kind string) {
	defer guard(NameCompletionError)
	r.add(1, NameCompletionError, "type", kind)
	addOtel(r.completion, 1, attribute.String("type", kind))
}

func (r *Registry) CompletionSucceeded() {
	defer guard(NameCompletionOK)
	r.add(1, NameCompletionOK)
	addOtel(r.completed, 1)
}

func (r *Registry) TokenUsage(prompt, completion int) {
	defer guard(NameTokens)
	if prompt > 0 {
		r.add(int64(prompt), NameTokens, "kind", "prompt")
		addOtel(r.tokens, int64(prompt), attribute.String("kind", "prompt"))
	}
	if completion > 0 {
		r.add(int64(completion), NameTokens, "kind", "completion")
		addOtel(r.tokens, int64(completion), attribute.String("kind", "completion"))
	}
}

func (r *Registry) RateLimitHit(source string) {
	defer guard(NameRateLimitHits)
	r.add(1, NameRateLimitHits, "source", source)
	addOtel(r.rateLimits, 1, attribute.String("source", source))
}

// Counter returns the current value of one series, e.g.
// Counter(NameCommandErrors, "command", "ask", "type", "timeout").
func (r *Registry) Counter(name string, labels ...string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[seriesKey(name, labels...)]
}

// Total sums every series of a metric.
func (r *Registry) Total(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, v := range r.counters {
		if k == name || strings.HasPrefix(k, name+"{") {
			n += v
		}
	}
	return n
}

// LatencySummary describes observed latency for one command.
type LatencySummary struct {
	Command string
	Count   int64
	Mean    time.Duration
	Max     time.Duration
}

// Latencies returns per-command latency summaries sorted by command.
func (r *Registry) Latencies() []LatencySummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LatencySummary, 0, len(r.latency))
	for cmd, st := range r.latency {
		s := LatencySummary{Command: cmd, Count: st.count, Max: st.max}
		if st.count > 0 {
			s.Mean = st.total / time.Duration(st.count)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Timer measures one command's latency. Stop is safe to call more than once;
// only the first call records.
type Timer struct {
	rec     Recorder
	command string
	start   time.Time
	once    sync.Once
}

// StartTimer begins a latency measurement.
func StartTimer(rec Recorder, command string) *Timer {
	return &Timer{rec: rec, command: command, start: time.Now()}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	var d time.Duration
	t.once.Do(func() {
		d = time.Since(t.start)
		if t.rec != nil {
			t.rec.ObserveCommandLatency(t.command, d)
		}
	})
	return d
}

// Safe wraps rec so a panicking implementation cannot reach the caller.
// A nil rec becomes Nop.
func Safe(rec Recorder) Recorder {
	switch r := rec.(type) {
	case nil:
		return Nop{}
	case *Registry, Nop, safeRecorder:
		return r
	default:
		return safeRecorder{rec: rec}
	}
}

type safeRecorder struct{ rec Recorder }

func (s safeRecorder) CommandStarted(command string) {
	defer guard(NameCommandStarted)
	s.rec.CommandStarted(command)
}

func (s safeRecorder) CommandSucceeded(command string) {
	defer guard(NameCommandSuccess)
	s.rec.CommandSucceeded(command)
}

func (s safeRecorder) CommandFailed(command, kind string) {
	defer guard(NameCommandErrors)
	s.rec.CommandFailed(command, kind)
}

func (s safeRecorder) ObserveCommandLatency(command string, d time.Duration) {
	defer guard(NameCommandLatency)
	s.rec.ObserveCommandLatency(command, d)
}

func (s safeRecorder) CompletionError(kind string) {
	defer guard(NameCompletionError)
	s.rec.CompletionError(kind)
}

func (s safeRecorder) CompletionSucceeded() {
	defer guard(NameCompletionOK)
	s.rec.CompletionSucceeded()
}

func (s safeRecorder) TokenUsage(prompt, completion int) {
	defer guard(NameTokens)
	s.rec.TokenUsage(prompt, completion)
}

func (s safeRecorder) RateLimitHit(source string) {
	defer guard(NameRateLimitHits)
	s.rec.RateLimitHit(source)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CommandStarted(string)                       {}
func (Nop) CommandSucceeded(string)                     {}
func (Nop) CommandFailed(string, string)                {}
func (Nop) ObserveCommandLatency(string, time.Duration) {}
func (Nop) CompletionError(string)                      {}
func (Nop) CompletionSucceeded()                        {}
func (Nop) TokenUsage(int, int)                         {}
func (Nop) RateLimitHit(string)                         {}
