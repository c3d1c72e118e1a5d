package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/neverbot/internal/providers"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

// ErrEmptySummary is returned when the backend answers with no text.
var ErrEmptySummary = errors.New("completion: empty personality summary")

const (
	summaryInstructions = "You are an AI assistant that generates insightful personality summaries based on user data and message content. Your summaries should be nuanced and capture communication style as well as topics."
	summaryMaxTokens    = 150
	summaryTemperature  = 0.7
)

// SummaryRequest is what is known about one user when refreshing their
// personality summary.
type SummaryRequest struct {
	UserName     string
	MessageCount int64
	// Samples are the user's recent messages, oldest first.
	Samples []string
}

// Summarize asks the backend for a two or three sentence personality
// summary. Unlike GenerateReply it reports failures to the caller.
func (g *Gateway) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	ctx, span := g.tracer.Start(ctx, "completion.summarize",
		trace.WithAttributes(
			attribute.String("provider", g.provider.Name()),
			attribute.Int("samples", len(req.Samples)),
		))
	defer span.End()

	resp, err := g.call(ctx, providers.ChatRequest{
		Instructions: summaryInstructions,
		Messages:     []providers.Message{{Role: "user", Content: summaryPrompt(req)}},
		Model:        g.cfg.Model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   summaryMaxTokens,
			providers.OptTemperature: summaryTemperature,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resilience.Label(err))
		return "", fmt.Errorf("summarize %s: %w", req.UserName, err)
	}

	g.rec.CompletionSucceeded()
	if resp.Usage != nil {
		g.rec.TokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		span.SetStatus(codes.Error, "empty summary")
		return "", ErrEmptySummary
	}
	return text, nil
}

func summaryPrompt(req SummaryRequest) string {
	samples := "No recent messages available."
	if len(req.Samples) > 0 {
		samples = strings.Join(req.Samples, "\n- ")
	}
	name := req.UserName
	if name == "" {
		name = "unknown"
	}

	var sb strings.Builder
	sb.WriteString("Based on the following user data and recent messages, generate a concise and insightful personality summary (2-3 sentences) for a Discord bot to understand the user better. ")
	sb.WriteString("Focus on their typical communication style, recurring themes in their messages, and main interests. Do not address the user directly.\n\n")
	sb.WriteString("User Data:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", name)
	fmt.Fprintf(&sb, "- Message Count: %d\n\n", req.MessageCount)
	fmt.Fprintf(&sb, "Recent Message Samples (last %d):\n- %s\n\n", len(req.Samples), samples)
	sb.WriteString(`Example Summary: "This user is generally positive, frequently discusses gaming and music, and their recent messages show an inquisitive and sometimes humorous communication style. They seem to enjoy detailed explanations."`)
	sb.WriteString("\n\nGenerate the personality summary:")
	return sb.String()
}
