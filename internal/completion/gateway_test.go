package completion

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/providers"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

type scriptedProvider struct {
	mu       sync.Mutex
	requests []providers.ChatRequest
	respond  func(ctx context.Context, call int, req providers.ChatRequest) (*providers.ChatResponse, error)
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	call := len(p.requests)
	p.mu.Unlock()
	return p.respond(ctx, call, req)
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "scripted" }

func (p *scriptedProvider) calls() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.ChatRequest(nil), p.requests...)
}

func testProfile(retries int) resilience.Profile {
	return resilience.Profile{
		Retries:   retries,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Timeout:   20 * time.Millisecond,
	}
}

type httpStatus int

func (s httpStatus) Error() string   { return "status" }
func (s httpStatus) StatusCode() int { return int(s) }

func TestGenerateReply_SucceedsAfterTwoTimeouts(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	reg := metrics.NewRegistry()

	p := &scriptedProvider{respond: func(ctx context.Context, call int, _ providers.ChatRequest) (*providers.ChatResponse, error) {
		if call <= 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &providers.ChatResponse{Content: "4. Obviously.", ConversationID: "resp_1",
			Usage: &providers.Usage{PromptTokens: 30, CompletionTokens: 4}}, nil
	}}

	g := NewGateway(p, Config{Profile: testProfile(2), Metrics: reg, Logger: logger})
	reply := g.GenerateReply(context.Background(), Request{Prompt: "what's 2+2", UserName: "alice"})

	require.True(t, reply.OK())
	assert.Equal(t, "4. Obviously.", reply.Text)
	assert.Equal(t, "resp_1", reply.ConversationID)
	assert.Len(t, p.calls(), 3)
	assert.Equal(t, 2, strings.Count(logs.String(), "external call failed"))
	assert.Equal(t, int64(2), reg.Counter(metrics.NameCompletionError, "type", "timeout"))
	assert.Equal(t, int64(1), reg.Total(metrics.NameCompletionOK))
	assert.Equal(t, int64(30), reg.Counter(metrics.NameTokens, "kind", "prompt"))
}

func TestGenerateReply_ExhaustedIsEmptyReply(t *testing.T) {
	reg := metrics.NewRegistry()
	p := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, httpStatus(503)
	}}

	g := NewGateway(p, Config{Profile: testProfile(1), Metrics: reg, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	reply := g.GenerateReply(context.Background(), Request{Prompt: "hi"})

	assert.False(t, reply.OK())
	assert.Len(t, p.calls(), 2)
	assert.Equal(t, int64(2), reg.Counter(metrics.NameCompletionError, "type", "http_503"))
	assert.Zero(t, reg.Total(metrics.NameCompletionOK))
}

func TestGenerateReply_FreshConversationSendsContext(t *testing.T) {
	p := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "ok", ConversationID: "resp_2"}, nil
	}}
	g := NewGateway(p, Config{Profile: testProfile(0), Model: "gpt-x", MaxTokens: 512})

	history := []providers.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}}
	g.GenerateReply(context.Background(), Request{Prompt: "now", UserName: "bob", UserInsight: "likes cats", History: history})

	req := p.calls()[0]
	assert.Empty(t, req.ConversationID)
	assert.Equal(t, "gpt-x", req.Model)
	assert.Equal(t, 512, req.Options[providers.OptMaxTokens])
	assert.Contains(t, req.Instructions, "The current user is bob.")
	assert.Contains(t, req.Instructions, "likes cats")

	examples := len(DefaultPersona().Examples)
	require.Len(t, req.Messages, examples+len(history)+1)
	assert.Contains(t, req.Messages[1].Content, "Listen bob.")
	assert.Equal(t, "earlier", req.Messages[examples].Content)
	assert.Equal(t, providers.Message{Role: "user", Content: "now"}, req.Messages[len(req.Messages)-1])
}

func TestGenerateReply_ContinuedConversationSendsOnlyPrompt(t *testing.T) {
	p := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "ok", ConversationID: "resp_3"}, nil
	}}
	g := NewGateway(p, Config{Profile: testProfile(0)})

	reply := g.GenerateReply(context.Background(), Request{
		Prompt:         "and 4+4?",
		ConversationID: "resp_2",
		History:        []providers.Message{{Role: "user", Content: "ignored"}},
	})

	assert.Equal(t, "resp_3", reply.ConversationID)
	req := p.calls()[0]
	assert.Equal(t, "resp_2", req.ConversationID)
	assert.Equal(t, []providers.Message{{Role: "user", Content: "and 4+4?"}}, req.Messages)
}

func TestGenerateReply_RejectedHandleStartsFresh(t *testing.T) {
	p := &scriptedProvider{respond: func(_ context.Context, _ int, req providers.ChatRequest) (*providers.ChatResponse, error) {
		if req.ConversationID != "" {
			return nil, httpStatus(400)
		}
		return &providers.ChatResponse{Content: "fresh", ConversationID: "resp_new"}, nil
	}}
	g := NewGateway(p, Config{Profile: testProfile(3), Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	reply := g.GenerateReply(context.Background(), Request{Prompt: "hi", ConversationID: "resp_gone"})

	assert.Equal(t, "fresh", reply.Text)
	calls := p.calls()
	require.Len(t, calls, 2, "client errors are not retried with the same handle")
	assert.Empty(t, calls[1].ConversationID)
}

func TestGenerateReply_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scriptedProvider{respond: func(ctx context.Context, _ int, _ providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, errors.New("unreachable")
	}}
	g := NewGateway(p, Config{Profile: testProfile(2), Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	assert.False(t, g.GenerateReply(ctx, Request{Prompt: "hi"}).OK())
}

func TestSummarize_BuildsPromptFromSamples(t *testing.T) {
	reg := metrics.NewRegistry()
	p := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "  Curious and punny.\n", Usage: &providers.Usage{PromptTokens: 40, CompletionTokens: 8}}, nil
	}}
	g := NewGateway(p, Config{Profile: testProfile(0), Model: "gpt-x", MaxTokens: 512, Metrics: reg})

	got, err := g.Summarize(context.Background(), SummaryRequest{
		UserName: "alice", MessageCount: 7, Samples: []string{"first", "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Curious and punny.", got)

	req := p.calls()[0]
	assert.Empty(t, req.ConversationID)
	assert.Contains(t, req.Instructions, "personality summaries")
	assert.Equal(t, 150, req.Options[providers.OptMaxTokens], "summary has its own token budget")
	assert.Equal(t, 0.7, req.Options[providers.OptTemperature])
	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "- Name: alice")
	assert.Contains(t, prompt, "- Message Count: 7")
	assert.Contains(t, prompt, "- first\n- second")
	assert.Contains(t, prompt, "Do not address the user directly.")
}

func TestSummarize_FailuresAreReturned(t *testing.T) {
	p := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, httpStatus(503)
	}}
	g := NewGateway(p, Config{Profile: testProfile(1)})
	_, err := g.Summarize(context.Background(), SummaryRequest{UserName: "bob"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindServer, resilience.Classify(err))
	assert.Len(t, p.calls(), 2)
	assert.Contains(t, p.calls()[0].Messages[0].Content, "No recent messages available.")

	empty := &scriptedProvider{respond: func(context.Context, int, providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "   "}, nil
	}}
	_, err = NewGateway(empty, Config{Profile: testProfile(0)}).Summarize(context.Background(), SummaryRequest{UserName: "bob"})
	assert.ErrorIs(t, err, ErrEmptySummary)
}
