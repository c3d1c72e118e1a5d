// Package insight keeps each active user's personality summary fresh. A
// periodic pass asks the completion backend to summarize the user's recent
// messages and stores the result on the profile, where it is woven into
// later prompts and shown by the personality command.
package insight

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/neverbot/internal/completion"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// ErrorSummary is stored when a user has no summary yet and generating one
// failed, so the personality command can say so.
const ErrorSummary = "Error generating summary. It will be retried on the next refresh."

// IsErrorSummary reports whether s marks a failed generation.
func IsErrorSummary(s string) bool {
	return strings.Contains(strings.ToLower(s), "error generating summary")
}

const (
	DefaultInterval  = 24 * time.Hour
	DefaultSamples   = 20
	DefaultBatchSize = 200
)

// Summarizer produces a personality summary. completion.Gateway implements it.
type Summarizer interface {
	Summarize(ctx context.Context, req completion.SummaryRequest) (string, error)
}

// Config tunes an Updater. Zero fields take the defaults.
type Config struct {
	Interval time.Duration // time between passes
	// Lookback selects users seen within this long before a pass. Defaults
	// to Interval.
	Lookback  time.Duration
	Samples   int // recent messages sent per user
	BatchSize int // users refreshed per pass
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Lookback <= 0 {
		c.Lookback = c.Interval
	}
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Result counts the outcome of one pass.
type Result struct {
	Updated int
	Skipped int
	Failed  int
}

// Updater refreshes personality summaries.
type Updater struct {
	users  store.UserStore
	sum    Summarizer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewUpdater(users store.UserStore, sum Summarizer, cfg Config) *Updater {
	return &Updater{
		users:  users,
		sum:    sum,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default().With("component", "insight"),
	}
}

// SetClock overrides the time source. Used by tests.
func (u *Updater) SetClock(now func() time.Time) { u.now = now }

// Run refreshes summaries once per interval until ctx is done.
func (u *Updater) Run(ctx context.Context) error {
	t := time.NewTicker(u.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
				u.logger.Error("personality refresh failed", "error", err)
			}
		}
	}
}

// RunOnce refreshes every user active within the lookback window. A failure
// for one user is logged and counted; only listing the users is fatal.
func (u *Updater) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	since := u.now().Add(-u.cfg.Lookback)
	active, err := u.users.ListActive(ctx, since, u.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	u.logger.Info("personality refresh started", "users", len(active))

	for _, user := range active {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch err := u.refresh(ctx, user); {
		case errors.Is(err, errNoSamples):
			res.Skipped++
		case err != nil:
			res.Failed++
			u.logger.Warn("personality summary not updated", "user_id", user.UserID, "server_id", user.ServerID, "error", err)
		default:
			res.Updated++
		}
	}
	u.logger.Info("personality refresh finished", "updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

var errNoSamples = errors.New("no recorded messages")

func (u *Updater) refresh(ctx context.Context, user store.UserData) error {
	samples, err := u.users.RecentMessages(ctx, user.UserID, user.ServerID, u.cfg.Samples)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errNoSamples
	}

	summary, err := u.sum.Summarize(ctx, completion.SummaryRequest{
		UserName:     user.Username,
		MessageCount: user.MessageCount,
		Samples:      samples,
	})
	if err != nil {
		// Keep a previous good summary; mark only a profile that has none.
		if user.PersonalitySummary == "" && ctx.Err() == nil {
			if serr := u.users.SetPersonalitySummary(ctx, user.UserID, user.ServerID, ErrorSummary); serr != nil {
				err = errors.Join(err, serr)
			}
		}
		return err
	}
	return u.users.SetPersonalitySummary(ctx, user.UserID, user.ServerID, summary)
}
