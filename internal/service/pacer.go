package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// Sleeper suspends the caller for d. Implementations return ctx.Err() when
// the context ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PacerConfig bounds the per-call jitter and the periodic batch cooldown.
type PacerConfig struct {
	JitterMin     time.Duration
	JitterMax     time.Duration
	PauseEveryMin int
	PauseEveryMax int
	PauseMin      time.Duration
	PauseMax      time.Duration
}

// DefaultPacerConfig returns the default pacing: 3-7s between calls and a
// 5-10 minute pause every 50-100 calls.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		JitterMin:     3 * time.Second,
		JitterMax:     7 * time.Second,
		PauseEveryMin: 50,
		PauseEveryMax: 100,
		PauseMin:      5 * time.Minute,
		PauseMax:      10 * time.Minute,
	}
}

// PauseSchedule is the pacer's cooldown state.
type PauseSchedule struct {
	SinceLastPause int
	PauseEvery     int
	PauseFor       time.Duration
}

// Countdown cadence while a batch cooldown is running.
const (
	countdownStep      = time.Minute
	countdownFinalStep = 30 * time.Second
)

// Pacer spaces remote calls. It is owned by a single worker and is not safe
// for concurrent use.
type Pacer struct {
	cfg      PacerConfig
	sleeper  Sleeper
	rng      *rand.Rand
	logger   *logging.Logger
	metrics  *Metrics
	schedule PauseSchedule
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithSleeper replaces the real timer.
func WithSleeper(s Sleeper) PacerOption {
	return func(p *Pacer) {
		p.sleeper = s
	}
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) PacerOption {
	return func(p *Pacer) {
		p.rng = r
	}
}

// WithPacerLogger sets the logger used for cooldown countdowns.
func WithPacerLogger(l *logging.Logger) PacerOption {
	return func(p *Pacer) {
		p.logger = l
	}
}

// WithPacerMetrics records pauses in m.
func WithPacerMetrics(m *Metrics) PacerOption {
	return func(p *Pacer) {
		p.metrics = m
	}
}

// NewPacer creates a pacer with a freshly rolled schedule.
func NewPacer(cfg PacerConfig, opts ...PacerOption) *Pacer {
	p := &Pacer{
		cfg:     cfg,
		sleeper: TimerSleeper{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Reset()
	return p
}

// Reset zeroes the call counter and re-rolls the pause schedule.
func (p *Pacer) Reset() {
	p.schedule = PauseSchedule{
		PauseEvery: uniformInt(p.rng, p.cfg.PauseEveryMin, p.cfg.PauseEveryMax),
		PauseFor:   uniformDuration(p.rng, p.cfg.PauseMin, p.cfg.PauseMax),
	}
}

// Schedule returns a copy of the current pause schedule.
func (p *Pacer) Schedule() PauseSchedule {
	return p.schedule
}

// Wait must be called before every remote call. It runs a batch cooldown
// when the call budget is spent, then sleeps the per-call jitter.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.schedule.PauseEvery > 0 && p.schedule.SinceLastPause >= p.schedule.PauseEvery {
		if err := p.pause(ctx, p.schedule.PauseFor); err != nil {
			return err
		}
		p.Reset()
	}

	if err := p.sleeper.Sleep(ctx, uniformDuration(p.rng, p.cfg.JitterMin, p.cfg.JitterMax)); err != nil {
		return err
	}
	p.schedule.SinceLastPause++
	return nil
}

// pause sleeps d, logging the remaining time every minute and every 30s
// during the last minute.
func (p *Pacer) pause(ctx context.Context, d time.Duration) error {
	p.logger.Info("batch cooldown started",
		"calls", p.schedule.SinceLastPause,
		"duration", d.Round(time.Second).String(),
	)
	p.metrics.ObservePause(d)

	for remaining := d; remaining > 0; {
		step := countdownStep
		if remaining <= countdownStep {
			step = countdownFinalStep
		}
		if step > remaining {
			step = remaining
		}
		p.logger.Info("cooling down", "remaining", remaining.Round(time.Second).String())
		if err := p.sleeper.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}

	p.logger.Info("batch cooldown finished")
	return nil
}

func uniformDuration(r *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Int63n(int64(hi-lo)+1))
}

func uniformInt(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}
