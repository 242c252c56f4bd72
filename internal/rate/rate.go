// Package rate computes the synthetic upload/download byte rates a faker
// reports at each tick: a base rate, optionally ramped up over time, and
// optionally jittered by a percentage band.
package rate

import "math/rand/v2"

const bytesPerKB = 1024

// Model is the immutable rate configuration for one faker run.
type Model struct {
	// UploadRate and DownloadRate are the base rates in KB/s at t=0.
	UploadRate   float64
	DownloadRate float64

	// Progressive enables linear interpolation toward Target{Upload,
	// Download}Rate over ProgressiveDuration seconds.
	Progressive         bool
	TargetUploadRate    float64
	TargetDownloadRate  float64
	ProgressiveDuration float64

	// Randomize enables per-tick jitter of ±RandomRangePercent.
	Randomize          bool
	RandomRangePercent float64
}

// Rates is a pair of instantaneous rates in bytes/second.
type Rates struct {
	UploadBytesPerSec   float64
	DownloadBytesPerSec float64
}

// At returns the instantaneous rates at elapsed seconds t, applying
// progressive ramp-up and randomization as configured. Call once per
// tick; the randomized factor is independent from call to call.
func (m Model) At(t float64) Rates {
	uKB, dKB := m.baseAt(t)

	if m.Randomize && m.RandomRangePercent > 0 {
		uKB *= m.jitterFactor()
		dKB *= m.jitterFactor()
	}

	return Rates{
		UploadBytesPerSec:   uKB * bytesPerKB,
		DownloadBytesPerSec: dKB * bytesPerKB,
	}
}

func (m Model) baseAt(t float64) (upload, download float64) {
	if !m.Progressive || m.ProgressiveDuration <= 0 {
		return m.UploadRate, m.DownloadRate
	}

	frac := t / m.ProgressiveDuration
	frac = clamp(frac, 0, 1)

	upload = lerp(m.UploadRate, m.TargetUploadRate, frac)
	download = lerp(m.DownloadRate, m.TargetDownloadRate, frac)
	return upload, download
}

// jitterFactor draws a uniform multiplier in
// [1-p/100, 1+p/100] for the configured random range.
func (m Model) jitterFactor() float64 {
	p := m.RandomRangePercent / 100
	lo, hi := 1-p, 1+p
	return lo + rand.Float64()*(hi-lo)
}

func lerp(a, b, frac float64) float64 { return a + (b-a)*frac }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
