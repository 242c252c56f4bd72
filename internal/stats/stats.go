// Package stats defines the faker's configuration and runtime data model
// and derives the immutable snapshot a caller observes: byte counters,
// rates, ratio, progress toward any enabled stop condition, and rolling
// history.
package stats

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prxssh/phantom/internal/identity"
)

// State is a faker's position in its lifecycle state machine.
type State int

const (
	Idle State = iota
	Starting
	Running
	Paused
	Stopping
	Completed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config is the caller-supplied, immutable-per-run faker configuration.
type Config struct {
	UploadRate   float64 // KB/s
	DownloadRate float64 // KB/s

	Port       uint16
	Client     identity.Client
	Version    string
	NumWant    int32

	InitialUploaded    uint64
	InitialDownloaded  uint64
	CompletionPercent  float64

	Randomize          bool
	RandomRangePercent float64

	Progressive         bool
	TargetUploadRate    float64
	TargetDownloadRate  float64
	ProgressiveDuration float64 // seconds

	StopAtRatio          float64 // 0 disables
	StopAtUploaded       uint64  // 0 disables
	StopAtDownloaded     uint64  // 0 disables
	StopAtSeedTime       time.Duration
	StopWhenNoLeechers   bool

	UpdateInterval time.Duration
}

// HasStopAtRatio reports whether the session-ratio stop condition is
// enabled. A zero threshold is treated as disabled rather than
// "stop immediately", since a ratio of exactly zero is never reached
// once any uploading occurs.
func (c Config) HasStopAtRatio() bool { return c.StopAtRatio > 0 }

// HasStopAtUploaded reports whether the cumulative-uploaded stop
// condition is enabled.
func (c Config) HasStopAtUploaded() bool { return c.StopAtUploaded > 0 }

// HasStopAtDownloaded reports whether the cumulative-downloaded stop
// condition is enabled.
func (c Config) HasStopAtDownloaded() bool { return c.StopAtDownloaded > 0 }

// HasStopAtSeedTime reports whether the elapsed-seed-time stop
// condition is enabled.
func (c Config) HasStopAtSeedTime() bool { return c.StopAtSeedTime > 0 }

// ErrInvalidConfig is returned by Validate when a field is out of its
// documented range or mutually inconsistent with another field.
var ErrInvalidConfig = errors.New("stats: invalid config")

// Validate checks Config against the configuration surface's documented
// ranges. A zero UpdateInterval is treated as "use the built-in
// default", not a validation failure, matching the faker's own
// fallback when no interval is supplied.
func (c Config) Validate() error {
	var problems []string

	if c.Port < 1024 {
		problems = append(problems, fmt.Sprintf("port %d below 1024", c.Port))
	}
	if c.CompletionPercent < 0 || c.CompletionPercent > 100 {
		problems = append(problems, fmt.Sprintf(
			"completion_percent %g out of range [0, 100]",
			c.CompletionPercent,
		))
	}
	if c.UpdateInterval < 0 || c.UpdateInterval > 300*time.Second {
		problems = append(problems, fmt.Sprintf(
			"update_interval %s out of range [1s, 300s]",
			c.UpdateInterval,
		))
	}
	if c.RandomRangePercent < 0 || c.RandomRangePercent > 50 {
		problems = append(problems, fmt.Sprintf(
			"random_range_percent %g out of range [0, 50]",
			c.RandomRangePercent,
		))
	}
	if c.Progressive && c.ProgressiveDuration <= 0 {
		problems = append(problems, "progressive enabled with progressive_duration <= 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Runtime is the mutable state owned by exactly one faker. All fields
// are protected by the faker's own mutex; this type carries no locking
// of its own.
type Runtime struct {
	State State

	Uploaded   uint64
	Downloaded uint64

	SessionUploaded   uint64
	SessionDownloaded uint64

	StartedAt      time.Time
	LastAnnounceAt time.Time
	NextAnnounceAt time.Time
	LastTick       time.Time

	// PausedAt is set while State is Paused and cleared on Resume. It
	// lets Derive report elapsed_time as of the moment the pause began
	// rather than as of now, so a long-paused instance's elapsed seed
	// time does not keep growing while frozen.
	PausedAt time.Time

	Seeders  uint32
	Leechers uint32

	// ZeroLeechersSince records when incomplete==0 was first observed
	// on a tracker response, so stop_when_no_leechers can require a
	// full announce interval of sustained zero leechers rather than
	// firing on a single lucky response.
	ZeroLeechersSince time.Time

	// SeenNonzeroLeft tracks whether left has ever been positive, so a
	// transition to zero can be detected exactly once.
	SeenNonzeroLeft bool

	LastError error

	UploadHistory   *Ring
	DownloadHistory *Ring
	RatioHistory    *Ring
}

// NewRuntime returns a zero-valued Runtime with its history rings
// allocated at the spec's fixed capacity.
func NewRuntime() *Runtime {
	return &Runtime{
		State:           Idle,
		UploadHistory:   NewRing(256),
		DownloadHistory: NewRing(256),
		RatioHistory:    NewRing(256),
	}
}

// Snapshot is the immutable, on-demand projection of a faker's current
// state, suitable for display or for a stats API response.
type Snapshot struct {
	State State

	Uploaded        uint64
	Downloaded      uint64
	SessionUploaded uint64
	SessionDownloaded uint64

	UploadRateKBs   float64
	DownloadRateKBs float64

	Ratio float64
	Left  uint64

	StopAtRatioProgress      float64
	StopAtUploadedProgress   float64
	StopAtDownloadedProgress float64
	StopAtSeedTimeProgress   float64

	ElapsedSeedTime time.Duration
	Seeders         uint32
	Leechers        uint32

	UploadHistory   []float64
	DownloadHistory []float64
	RatioHistory    []float64

	LastError error
}

// Derive computes a Snapshot from a torrent's total size, the faker's
// config, and its current runtime, at the given instant. now is passed
// explicitly so callers control the time source (and tests can pin it).
func Derive(totalSize int64, cfg Config, rt *Runtime, now time.Time) Snapshot {
	left := uint64(0)
	if totalSize > int64(rt.Downloaded) {
		left = uint64(totalSize) - rt.Downloaded
	}

	ratio := sessionRatio(rt)

	effectiveNow := now
	if rt.State == Paused && !rt.PausedAt.IsZero() {
		effectiveNow = rt.PausedAt
	}
	elapsed := elapsedSeedTime(rt, effectiveNow)

	var uploadRate, downloadRate float64
	if v, ok := rt.UploadHistory.Last(); ok {
		uploadRate = v
	}
	if v, ok := rt.DownloadHistory.Last(); ok {
		downloadRate = v
	}

	return Snapshot{
		State:             rt.State,
		Uploaded:          rt.Uploaded,
		Downloaded:        rt.Downloaded,
		SessionUploaded:   rt.SessionUploaded,
		SessionDownloaded: rt.SessionDownloaded,
		UploadRateKBs:     uploadRate / 1024,
		DownloadRateKBs:   downloadRate / 1024,
		Ratio:             ratio,
		Left:              left,

		StopAtRatioProgress:      progress(cfg.HasStopAtRatio(), ratio, cfg.StopAtRatio),
		StopAtUploadedProgress:   progress(cfg.HasStopAtUploaded(), float64(rt.Uploaded), float64(cfg.StopAtUploaded)),
		StopAtDownloadedProgress: progress(cfg.HasStopAtDownloaded(), float64(rt.Downloaded), float64(cfg.StopAtDownloaded)),
		StopAtSeedTimeProgress:   progress(cfg.HasStopAtSeedTime(), float64(elapsed), float64(cfg.StopAtSeedTime)),

		ElapsedSeedTime: elapsed,
		Seeders:         rt.Seeders,
		Leechers:        rt.Leechers,

		UploadHistory:   rt.UploadHistory.Values(),
		DownloadHistory: rt.DownloadHistory.Values(),
		RatioHistory:    rt.RatioHistory.Values(),

		LastError: rt.LastError,
	}
}

// sessionRatio is uploaded/downloaded for the current run, matching the
// stop_at_ratio condition's "session, not cumulative" semantics.
func sessionRatio(rt *Runtime) float64 {
	if rt.SessionDownloaded >= 1 {
		return float64(rt.SessionUploaded) / float64(rt.SessionDownloaded)
	}
	return float64(rt.SessionUploaded)
}

func elapsedSeedTime(rt *Runtime, now time.Time) time.Duration {
	if rt.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(rt.StartedAt)
}

func progress(enabled bool, current, target float64) float64 {
	if !enabled || target <= 0 {
		return 0
	}
	p := current / target
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
