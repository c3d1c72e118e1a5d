package commands

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

// safeInteraction runs every call on the inner Interaction through the
// backoff executor with the command's profile, and remembers whether the
// invocation has been acknowledged.
type safeInteraction struct {
	inner   Interaction
	profile resilience.Profile
	acked   atomic.Bool
}

func newSafeInteraction(inner Interaction, p resilience.Profile) *safeInteraction {
	return &safeInteraction{inner: inner, profile: p}
}

func (s *safeInteraction) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := resilience.Execute(ctx, s.profile, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, resilience.WithName(name))
	return err
}

func (s *safeInteraction) Reply(ctx context.Context, content string, ephemeral bool) error {
	err := s.call(ctx, "discord.interaction_reply", func(ctx context.Context) error {
		return s.inner.Reply(ctx, content, ephemeral)
	})
	if err == nil {
		s.acked.Store(true)
	}
	return err
}

func (s *safeInteraction) Defer(ctx context.Context, ephemeral bool) error {
	err := s.call(ctx, "discord.interaction_defer", func(ctx context.Context) error {
		return s.inner.Defer(ctx, ephemeral)
	})
	if err == nil {
		s.acked.Store(true)
	}
	return err
}

func (s *safeInteraction) Edit(ctx context.Context, content string) error {
	return s.call(ctx, "discord.interaction_edit", func(ctx context.Context) error {
		return s.inner.Edit(ctx, content)
	})
}

func (s *safeInteraction) FollowUp(ctx context.Context, content string, ephemeral bool) error {
	return s.call(ctx, "discord.interaction_followup", func(ctx context.Context) error {
		return s.inner.FollowUp(ctx, content, ephemeral)
	})
}

// Acknowledged reports whether a Reply or Defer has succeeded.
func (s *safeInteraction) Acknowledged() bool { return s.acked.Load() }

// notify sends a short ephemeral message, choosing a follow-up once the
// invocation has been acknowledged.
func (s *safeInteraction) notify(ctx context.Context, content string) error {
	if s.Acknowledged() {
		return s.FollowUp(ctx, content, true)
	}
	return s.Reply(ctx, content, true)
}
