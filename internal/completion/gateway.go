// Package completion turns a user prompt into a reply from the completion
// backend. Every backend call runs through resilience.Execute; failures are
// counted per attempt and, once retries are exhausted, reported to the
// caller as an empty reply rather than an error.
package completion

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/providers"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

// Request is one reply generation.
type Request struct {
	Prompt   string
	UserName string
	// UserInsight is an optional personality summary for the user.
	UserInsight string
	// History holds earlier turns of a follow-up, oldest first. It is only
	// sent when there is no ConversationID.
	History []providers.Message
	// ConversationID continues a backend conversation when set.
	ConversationID string
}

// Reply is the outcome of GenerateReply. An empty Text means no reply
// could be produced and the caller should use its fallback message.
type Reply struct {
	Text           string
	ConversationID string
	Usage          *providers.Usage
}

// OK reports whether the backend produced text.
func (r Reply) OK() bool { return r.Text != "" }

// Config configures a Gateway.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64 // 0 leaves the backend default
	Profile     resilience.Profile
	Persona     Persona
	Metrics     metrics.Recorder
	Logger      *slog.Logger
}

// Gateway builds backend requests and extracts replies.
type Gateway struct {
	provider providers.Provider
	cfg      Config
	rec      metrics.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewGateway creates a Gateway. A zero Profile uses resilience.CompletionProfile.
func NewGateway(provider providers.Provider, cfg Config) *Gateway {
	if cfg.Profile == (resilience.Profile{}) {
		cfg.Profile = resilience.CompletionProfile()
	}
	if cfg.Persona.Instructions == nil && cfg.Persona.Examples == nil {
		cfg.Persona = DefaultPersona()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		rec:      metrics.Safe(cfg.Metrics),
		logger:   logger,
		tracer:   otel.Tracer("github.com/nextlevelbuilder/neverbot/internal/completion"),
	}
}

// GenerateReply asks the backend for a reply. It never returns an error;
// a failed generation is a Reply with empty Text.
func (g *Gateway) GenerateReply(ctx context.Context, req Request) Reply {
	ctx, span := g.tracer.Start(ctx, "completion.generate",
		trace.WithAttributes(
			attribute.String("provider", g.provider.Name()),
			attribute.Bool("continued", req.ConversationID != ""),
			attribute.Int("history", len(req.History)),
		))
	defer span.End()

	resp, err := g.call(ctx, g.buildRequest(req, req.ConversationID))
	if err != nil && req.ConversationID != "" && resilience.Classify(err) == resilience.KindClient {
		// The backend rejected the handle (expired or unknown); start over
		// with full context.
		g.logger.Info("completion: conversation handle rejected, starting fresh", "error", err)
		span.AddEvent("handle_rejected")
		resp, err = g.call(ctx, g.buildRequest(req, ""))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resilience.Label(err))
		g.logger.Error("completion failed", "error", err, "kind", string(resilience.Classify(err)))
		return Reply{}
	}

	g.rec.CompletionSucceeded()
	if resp.Usage != nil {
		g.rec.TokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		span.SetAttributes(
			attribute.Int("tokens.prompt", resp.Usage.PromptTokens),
			attribute.Int("tokens.completion", resp.Usage.CompletionTokens),
		)
	}
	if resp.Content == "" {
		span.SetStatus(codes.Error, "empty reply")
	}

	return Reply{
		Text:           resp.Content,
		ConversationID: resp.ConversationID,
		Usage:          resp.Usage,
	}
}

func (g *Gateway) call(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return resilience.Execute(ctx, g.cfg.Profile,
		func(ctx context.Context) (*providers.ChatResponse, error) {
			return g.provider.Chat(ctx, req)
		},
		resilience.WithName("completion."+g.provider.Name()),
		resilience.WithLogger(g.logger),
		resilience.WithOnAttemptError(func(_ int, err error) {
			g.rec.CompletionError(resilience.Label(err))
		}),
	)
}

func (g *Gateway) buildRequest(req Request, conversationID string) providers.ChatRequest {
	userName := req.UserName
	if userName == "" {
		userName = "friend"
	}

	var msgs []providers.Message
	if conversationID == "" {
		msgs = append(msgs, g.cfg.Persona.examples(userName)...)
		msgs = append(msgs, req.History...)
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: req.Prompt})

	opts := map[string]interface{}{}
	if g.cfg.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = g.cfg.MaxTokens
	}
	if g.cfg.Temperature > 0 {
		opts[providers.OptTemperature] = g.cfg.Temperature
	}

	return providers.ChatRequest{
		Instructions:   g.cfg.Persona.instructions(userName, req.UserInsight),
		Messages:       msgs,
		Model:          g.cfg.Model,
		ConversationID: conversationID,
		Options:        opts,
	}
}
