// Package faker implements the per-torrent faker engine: a state machine
// that, once started, ticks once a second, accrues synthetic
// upload/download traffic, and issues tracker announces on the schedule
// the tracker itself dictates.
package faker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prxssh/phantom/internal/identity"
	"github.com/prxssh/phantom/internal/metainfo"
	"github.com/prxssh/phantom/internal/rate"
	"github.com/prxssh/phantom/internal/stats"
	"github.com/prxssh/phantom/internal/tracker"
)

// ErrInvalidState is returned when an operation is attempted from a
// state that does not permit it (e.g. pausing an Idle faker).
var ErrInvalidState = errors.New("faker: invalid state")

const tickInterval = 1 * time.Second

// Engine owns one torrent's faked announce lifecycle. All mutable state
// lives under mu; the tick loop and external calls contend for it, but
// hold times are expected to stay in the microseconds.
type Engine struct {
	mu sync.Mutex

	torrent *metainfo.Torrent
	cfg     stats.Config
	runtime *stats.Runtime

	identity  *identity.Identity
	client    *tracker.Client
	rateModel rate.Model

	retry    backoff.BackOff
	stopping bool
	loopDone chan struct{}
}

// New constructs an Engine for torrent under the given configuration.
// The engine starts Idle; call Start to begin ticking.
func New(t *metainfo.Torrent, cfg stats.Config) *Engine {
	return &Engine{
		torrent: t,
		cfg:     cfg,
		runtime: stats.NewRuntime(),
		client:  tracker.New(t.Announce),
	}
}

// Stats returns an immutable snapshot of the faker's current state.
func (e *Engine) Stats() stats.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return stats.Derive(e.torrent.TotalSize, e.cfg, e.runtime, time.Now())
}

// UpdateConfig replaces the faker's configuration. Disallowed while
// Running, matching the registry's update_config contract.
func (e *Engine) UpdateConfig(cfg stats.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime.State == stats.Running {
		return fmt.Errorf("%w: cannot update config while running", ErrInvalidState)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Start transitions Idle/Stopped/Completed to Starting and spawns the
// tick loop. A new identity (peer-id, key) is generated fresh for this
// run, matching real-client behavior on re-open.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	switch e.runtime.State {
	case stats.Idle, stats.Stopped, stats.Completed:
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, e.runtime.State)
	}

	if err := e.cfg.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}

	id, err := identity.New(e.cfg.Client, e.cfg.Version)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("faker: build identity: %w", err)
	}

	now := time.Now()
	e.identity = id
	e.runtime = stats.NewRuntime()
	e.runtime.State = stats.Starting
	e.runtime.Uploaded = e.cfg.InitialUploaded
	e.runtime.Downloaded = initialDownloaded(e.cfg, e.torrent.TotalSize)
	e.runtime.SessionUploaded = 0
	e.runtime.SessionDownloaded = 0
	e.runtime.StartedAt = now
	e.runtime.LastTick = now
	e.runtime.SeenNonzeroLeft = e.leftLocked() > 0
	e.runtime.PausedAt = time.Time{}
	e.rateModel = rate.Model{
		UploadRate:          e.cfg.UploadRate,
		DownloadRate:        e.cfg.DownloadRate,
		Progressive:         e.cfg.Progressive,
		TargetUploadRate:    e.cfg.TargetUploadRate,
		TargetDownloadRate:  e.cfg.TargetDownloadRate,
		ProgressiveDuration: e.cfg.ProgressiveDuration,
		Randomize:           e.cfg.Randomize,
		RandomRangePercent:  e.cfg.RandomRangePercent,
	}
	e.retry = tracker.NewBackoff()
	e.stopping = false
	e.loopDone = make(chan struct{})

	e.mu.Unlock()

	go e.loop(ctx)
	return nil
}

// Pause is idempotent: pausing an already-paused faker succeeds without
// further work.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.runtime.State {
	case stats.Paused:
		return nil
	case stats.Running:
		e.runtime.State = stats.Paused
		e.runtime.PausedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidState, e.runtime.State)
	}
}

// Resume is idempotent. Resuming resets last_tick so the paused interval
// is never counted as elapsed traffic time, and advances started_at by
// the same paused duration so elapsed_time and stop_at_seed_time also
// freeze across the pause rather than counting paused wall-clock.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.runtime.State {
	case stats.Running:
		return nil
	case stats.Paused:
		now := time.Now()
		if !e.runtime.PausedAt.IsZero() {
			e.runtime.StartedAt = e.runtime.StartedAt.Add(now.Sub(e.runtime.PausedAt))
			e.runtime.PausedAt = time.Time{}
		}
		e.runtime.State = stats.Running
		e.runtime.LastTick = now
		return nil
	default:
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, e.runtime.State)
	}
}

// Stop requests a graceful shutdown: the tick loop sends a best-effort
// "stopped" announce and transitions to Stopped. Stop is idempotent and
// returns once the loop has exited or ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.runtime.State == stats.Idle || e.runtime.State == stats.Stopped {
		e.runtime.State = stats.Stopped
		e.mu.Unlock()
		return nil
	}
	if e.stopping {
		done := e.loopDone
		e.mu.Unlock()
		return waitDone(ctx, done)
	}
	e.stopping = true
	done := e.loopDone
	e.mu.Unlock()

	return waitDone(ctx, done)
}

func waitDone(ctx context.Context, done chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualAnnounce triggers an off-schedule announce. It is a no-op while
// Paused. On success it returns the seeders/leechers counts the tracker
// just reported, sparing the caller a separate Stats() round trip.
func (e *Engine) ManualAnnounce(ctx context.Context) (seeders, leechers uint32, err error) {
	e.mu.Lock()
	if e.runtime.State == stats.Paused {
		e.mu.Unlock()
		return 0, 0, nil
	}
	if e.runtime.State != stats.Running && e.runtime.State != stats.Starting {
		state := e.runtime.State
		e.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: cannot announce from %s", ErrInvalidState, state)
	}
	e.mu.Unlock()

	if err := e.announce(ctx, tracker.EventNone); err != nil {
		return 0, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtime.Seeders, e.runtime.Leechers, nil
}

// initialDownloaded derives the starting downloaded counter from
// whichever of InitialDownloaded or CompletionPercent implies more
// progress, so a caller specifying completion_percent=100 gets
// left=0 on the very first announce rather than waiting on a
// download_rate that may be zero.
func initialDownloaded(cfg stats.Config, totalSize int64) uint64 {
	fromPercent := uint64(float64(totalSize) * cfg.CompletionPercent / 100)
	if fromPercent > cfg.InitialDownloaded {
		return fromPercent
	}
	return cfg.InitialDownloaded
}

func (e *Engine) leftLocked() uint64 {
	total := uint64(e.torrent.TotalSize)
	if e.runtime.Downloaded >= total {
		return 0
	}
	return total - e.runtime.Downloaded
}

// loop is the tick loop goroutine: one logical task per faker that
// never overlaps with itself.
func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.finalizeStop(ctx)
			return
		case <-ticker.C:
			if e.tick(ctx) {
				e.finalizeStop(ctx)
				return
			}
		}
	}
}

// tick advances the engine by one cadence. It returns true once the
// faker has reached a terminal state and the loop should exit.
func (e *Engine) tick(ctx context.Context) bool {
	e.mu.Lock()
	now := time.Now()

	if e.stopping {
		e.runtime.State = stats.Stopping
		e.mu.Unlock()
		return true
	}

	if e.runtime.State == stats.Paused {
		e.runtime.LastTick = now
		e.mu.Unlock()
		return false
	}

	dt := now.Sub(e.runtime.LastTick).Seconds()
	e.runtime.LastTick = now

	elapsed := now.Sub(e.runtime.StartedAt).Seconds()
	rates := e.rateModel.At(elapsed)
	e.accrue(rates, dt)

	e.runtime.UploadHistory.Push(rates.UploadBytesPerSec)
	e.runtime.DownloadHistory.Push(rates.DownloadBytesPerSec)
	e.runtime.RatioHistory.Push(sessionRatio(e.runtime))

	if reason, stop := e.evaluateStopConditions(now); stop {
		slog.Debug("faker stop condition met", slog.String("reason", reason))
		e.runtime.State = stats.Stopping
		e.mu.Unlock()
		return true
	}

	dueNow := now.After(e.runtime.NextAnnounceAt) ||
		now.Equal(e.runtime.NextAnnounceAt)
	state := e.runtime.State
	e.mu.Unlock()

	if state == stats.Starting || (state == stats.Running && dueNow) {
		e.performScheduledAnnounce(ctx)
	}

	return false
}

// accrue integrates the current rates over dt and updates counters.
// Downloaded stops accumulating once left reaches zero; uploaded never
// stops.
func (e *Engine) accrue(r rate.Rates, dt float64) {
	if dt <= 0 {
		return
	}

	uploadDelta := uint64(r.UploadBytesPerSec * dt)
	e.runtime.Uploaded += uploadDelta
	e.runtime.SessionUploaded += uploadDelta

	if e.leftLocked() > 0 {
		downloadDelta := uint64(r.DownloadBytesPerSec * dt)
		total := uint64(e.torrent.TotalSize)
		if e.runtime.Downloaded+downloadDelta > total {
			downloadDelta = total - e.runtime.Downloaded
		}
		e.runtime.Downloaded += downloadDelta
		e.runtime.SessionDownloaded += downloadDelta
	}
}

func sessionRatio(rt *stats.Runtime) float64 {
	if rt.SessionDownloaded >= 1 {
		return float64(rt.SessionUploaded) / float64(rt.SessionDownloaded)
	}
	return float64(rt.SessionUploaded)
}

// evaluateStopConditions checks, in priority order, every enabled stop
// condition. The first match wins.
func (e *Engine) evaluateStopConditions(now time.Time) (string, bool) {
	if e.cfg.HasStopAtDownloaded() && e.runtime.Downloaded >= e.cfg.StopAtDownloaded {
		return "stop_at_downloaded", true
	}
	if e.cfg.HasStopAtUploaded() && e.runtime.Uploaded >= e.cfg.StopAtUploaded {
		return "stop_at_uploaded", true
	}
	if e.cfg.HasStopAtRatio() && sessionRatio(e.runtime) >= e.cfg.StopAtRatio {
		return "stop_at_ratio", true
	}
	if e.cfg.HasStopAtSeedTime() && now.Sub(e.runtime.StartedAt) >= e.cfg.StopAtSeedTime {
		return "stop_at_seed_time", true
	}
	if e.cfg.StopWhenNoLeechers && !e.runtime.LastAnnounceAt.IsZero() && e.runtime.Leechers == 0 {
		if e.runtime.ZeroLeechersSince.IsZero() {
			e.runtime.ZeroLeechersSince = now
		} else if now.Sub(e.runtime.ZeroLeechersSince) >= e.currentInterval() {
			return "stop_when_no_leechers", true
		}
	} else {
		e.runtime.ZeroLeechersSince = time.Time{}
	}
	return "", false
}

func (e *Engine) currentInterval() time.Duration {
	if e.cfg.UpdateInterval > 0 {
		return e.cfg.UpdateInterval
	}
	return 30 * time.Second
}

// performScheduledAnnounce issues a regular or first announce, swallowing
// and retrying transport failures locally so the faker stays Running.
func (e *Engine) performScheduledAnnounce(ctx context.Context) {
	e.mu.Lock()
	first := e.runtime.State == stats.Starting
	left := e.leftLocked()
	completedNow := left == 0 && e.runtime.SeenNonzeroLeft
	e.mu.Unlock()

	event := tracker.EventNone
	switch {
	case first:
		event = tracker.EventStarted
	case completedNow:
		event = tracker.EventCompleted
	}

	if err := e.announce(ctx, event); err != nil {
		e.mu.Lock()
		e.runtime.LastError = err
		wait := e.retry.NextBackOff()
		e.runtime.NextAnnounceAt = time.Now().Add(wait)
		e.mu.Unlock()

		slog.Warn(
			"announce failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", wait),
		)

		var refused *tracker.TrackerRefusedError
		if errors.As(err, &refused) {
			e.mu.Lock()
			delay := 30 * time.Second
			e.runtime.NextAnnounceAt = time.Now().Add(delay)
			if first {
				e.runtime.State = stats.Running
			}
			e.mu.Unlock()
		}
		return
	}

	e.mu.Lock()
	e.retry = tracker.NewBackoff()
	e.runtime.LastError = nil
	if first {
		e.runtime.State = stats.Running
	}
	if completedNow {
		e.runtime.SeenNonzeroLeft = false
	}
	e.mu.Unlock()
}

// announce performs one announce with the given event and updates
// runtime fields from the response on success.
func (e *Engine) announce(ctx context.Context, event tracker.Event) error {
	e.mu.Lock()
	params := tracker.AnnounceParams{
		InfoHash:   e.torrent.InfoHash,
		Port:       e.cfg.Port,
		Uploaded:   e.runtime.Uploaded,
		Downloaded: e.runtime.Downloaded,
		Left:       e.leftLocked(),
		NumWant:    e.cfg.NumWant,
		Event:      event,
	}
	id := e.identity
	e.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.client.Announce(callCtx, id, params)
	if err != nil {
		return err
	}

	e.mu.Lock()
	now := time.Now()
	e.runtime.LastAnnounceAt = now
	e.runtime.NextAnnounceAt = now.Add(resp.Interval)
	e.runtime.Seeders = resp.Seeders
	e.runtime.Leechers = resp.Leechers
	e.mu.Unlock()

	return nil
}

// finalizeStop sends a best-effort stopped announce and records the
// terminal state.
func (e *Engine) finalizeStop(ctx context.Context) {
	e.mu.Lock()
	state := e.runtime.State
	e.mu.Unlock()

	if state != stats.Idle {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.announce(stopCtx, tracker.EventStopped); err != nil {
			slog.Warn("stopped announce failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtime.State == stats.Stopping && e.stopAtSeedTimeReachedLocked() {
		e.runtime.State = stats.Completed
	} else {
		e.runtime.State = stats.Stopped
	}
}

// stopAtSeedTimeReachedLocked reports whether the configured seed-time
// threshold has been reached. If the engine is being stopped directly
// out of Paused (never resumed), the still-open pause is excluded from
// the elapsed calculation so paused wall-clock is never counted.
func (e *Engine) stopAtSeedTimeReachedLocked() bool {
	if !e.cfg.HasStopAtSeedTime() {
		return false
	}
	reference := time.Now()
	if !e.runtime.PausedAt.IsZero() {
		reference = e.runtime.PausedAt
	}
	return reference.Sub(e.runtime.StartedAt) >= e.cfg.StopAtSeedTime
}
