package services

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPublishInterval = 60 * time.Second

// TickResult summarises one publisher pass
type TickResult struct {
	Due      int
	Promoted int
	Failed   int
	Skipped  bool
}

// ScheduledPublisher periodically promotes scheduled posts whose time has come.
// Ticks never overlap: a tick that fires while the previous one is still running is skipped.
type ScheduledPublisher struct {
	store    PostStore
	sync     *CacheSync
	now      Clock
	interval time.Duration
	running  sync.Mutex
	logger   zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type PublisherOption func(*ScheduledPublisher)

func WithPublisherClock(clock Clock) PublisherOption {
	return func(p *ScheduledPublisher) {
		p.now = clock
	}
}

func WithPublishInterval(interval time.Duration) PublisherOption {
	return func(p *ScheduledPublisher) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func NewScheduledPublisher(store PostStore, sync *CacheSync, opts ...PublisherOption) *ScheduledPublisher {
	if sync == nil {
		sync = NewCacheSync(nil, DefaultCacheTTL)
	}
	p := &ScheduledPublisher{
		store:    store,
		sync:     sync,
		now:      systemClock,
		interval: DefaultPublishInterval,
		logger:   log.With().Str("component", "scheduledPublisher").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick promotes every due post. A failure on one post does not stop the others.
// The feed is purged once if anything was promoted.
func (p *ScheduledPublisher) Tick(ctx context.Context) TickResult {
	if !p.running.TryLock() {
		p.logger.Debug().Msg("previous tick still running, skipping")
		return TickResult{Skipped: true}
	}
	defer p.running.Unlock()

	now := p.now()
	due, err := p.store.FindDueScheduled(ctx, now)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load due scheduled posts")
		return TickResult{}
	}

	result := TickResult{Due: len(due)}
	for i := range due {
		post := &due[i]
		promoted, err := p.store.PromoteScheduled(ctx, post.ID, now)
		if err != nil {
			result.Failed++
			p.logger.Error().Err(err).Str("postID", post.ID.String()).Str("slug", post.Slug).Msg("failed to publish scheduled post")
			continue
		}
		if !promoted {
			p.logger.Debug().Str("postID", post.ID.String()).Msg("post no longer scheduled, skipping")
			continue
		}
		result.Promoted++
		p.logger.Info().Str("postID", post.ID.String()).Str("slug", post.Slug).Msg("published scheduled post")
	}

	p.sync.ScheduledPublished(ctx, result.Promoted)

	if result.Due > 0 {
		p.logger.Info().
			Int("due", result.Due).
			Int("promoted", result.Promoted).
			Int("failed", result.Failed).
			Msg("scheduled publish pass finished")
	}
	return result
}

// Start schedules Tick every interval in the background
func (p *ScheduledPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{p.logger}),
		cron.SkipIfStillRunning(cronLogger{p.logger}),
	))
	if _, err := c.AddFunc("@every "+p.interval.String(), func() {
		p.Tick(ctx)
	}); err != nil {
		return err
	}

	c.Start()
	p.cron = c
	p.logger.Info().Dur("interval", p.interval).Msg("scheduled publisher started")
	return nil
}

// Stop halts the schedule and waits for a running tick to finish
func (p *ScheduledPublisher) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info().Msg("scheduled publisher stopped")
}

// Run starts the publisher and blocks until ctx is cancelled
func (p *ScheduledPublisher) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
