// Package meter implements the peak/RMS/peak-hold metering primitives
// published across the audio/UI boundary (spec §4.7). The running state
// (peak, RMS window, hold countdown) is grounded on
// analysis.PeakMeter/RMSMeter in the example pack's vst3go meters.go, but
// restructured for HotMic's threading model: that reference protects its
// state with a sync.Mutex because any goroutine might call Process and
// GetX concurrently, whereas here Process is only ever called by the one
// audio thread that owns a given channel/slot, so the running state needs
// no lock at all — only the *published* snapshot (read by the UI) is
// atomic, via lockfree.FloatCell, matching spec §4.7's "writes atomically,
// UI reads atomically without locking."
package meter

import (
	"math"

	"github.com/hotmic/engine/internal/lockfree"
)

// Meter tracks peak, windowed RMS, and a linearly-decaying peak hold for
// one signal point (an input meter, an output meter, a per-slot post
// meter). All Process calls must come from a single owning thread.
type Meter struct {
	sampleRate float64

	rmsWindow []float32
	rmsPos    int
	rmsSum    float64
	rmsCount  int

	peak     float32
	hold     float32
	holdLeft int

	holdSeconds float64
	decayPerSec float64 // linear decay applied to `peak`, not dB

	publishedPeak *lockfree.FloatCell
	publishedRMS  *lockfree.FloatCell
	publishedHold *lockfree.FloatCell
}

// Config controls the RMS window and peak-hold behavior.
type Config struct {
	SampleRate      float64
	RMSWindowMillis float64
	HoldSeconds     float64
	DecayPerSecond  float64 // linear units per second
}

// DefaultConfig returns sane defaults: a 300ms RMS window, a 1.5s peak
// hold, and a gentle linear decay.
func DefaultConfig(sampleRate float64) Config {
	return Config{
		SampleRate:      sampleRate,
		RMSWindowMillis: 300,
		HoldSeconds:     1.5,
		DecayPerSecond:  1.2,
	}
}

// New allocates a meter. Must be called off the audio thread (spec §4.8:
// allocation happens at initialize time, not per block).
func New(cfg Config) *Meter {
	windowSamples := int(cfg.SampleRate * cfg.RMSWindowMillis / 1000.0)
	if windowSamples < 1 {
		windowSamples = 1
	}
	return &Meter{
		sampleRate:    cfg.SampleRate,
		rmsWindow:     make([]float32, windowSamples),
		holdSeconds:   cfg.HoldSeconds,
		decayPerSec:   cfg.DecayPerSecond,
		publishedPeak: &lockfree.FloatCell{},
		publishedRMS:  &lockfree.FloatCell{},
		publishedHold: &lockfree.FloatCell{},
	}
}

// Process folds a block of samples into the running peak/RMS/hold state
// and republishes the atomics. Called once per block from the owning
// thread; allocates nothing.
func (m *Meter) Process(buf []float32) {
	blockPeak := float32(0)
	for _, s := range buf {
		a := s
		if a < 0 {
			a = -a
		}
		if a > blockPeak {
			blockPeak = a
		}

		old := m.rmsWindow[m.rmsPos]
		m.rmsSum -= float64(old) * float64(old)
		m.rmsWindow[m.rmsPos] = s
		m.rmsSum += float64(s) * float64(s)
		m.rmsPos++
		if m.rmsPos == len(m.rmsWindow) {
			m.rmsPos = 0
		}
		if m.rmsCount < len(m.rmsWindow) {
			m.rmsCount++
		}
	}

	decay := float32(m.decayPerSec) * float32(len(buf)) / float32(m.sampleRate)
	m.peak -= decay
	if m.peak < 0 {
		m.peak = 0
	}
	if blockPeak > m.peak {
		m.peak = blockPeak
	}

	if blockPeak > m.hold {
		m.hold = blockPeak
		m.holdLeft = int(m.holdSeconds * m.sampleRate)
	} else {
		m.holdLeft -= len(buf)
		if m.holdLeft <= 0 {
			m.hold = m.peak
			m.holdLeft = 0
		}
	}

	rms := float32(0)
	if m.rmsCount > 0 {
		rms = float32(math.Sqrt(m.rmsSum / float64(m.rmsCount)))
	}

	m.publishedPeak.Store(m.peak)
	m.publishedRMS.Store(rms)
	m.publishedHold.Store(m.hold)
}

// Zero clears the published values without touching running state,
// used when a plugin fault forces a slot's post-meter to go silent for
// the rest of the block (spec §7 Runtime plugin faults: "its post-meter
// is zeroed for the rest of the block").
func (m *Meter) Zero() {
	m.publishedPeak.Store(0)
	m.publishedRMS.Store(0)
	m.publishedHold.Store(0)
}

// Reset clears all running and published state. Called off the audio
// thread (e.g. on preset load).
func (m *Meter) Reset() {
	for i := range m.rmsWindow {
		m.rmsWindow[i] = 0
	}
	m.rmsPos, m.rmsSum, m.rmsCount = 0, 0, 0
	m.peak, m.hold, m.holdLeft = 0, 0, 0
	m.Zero()
}

// PeakLinear returns the most recently published peak value (UI thread).
func (m *Meter) PeakLinear() float32 { return m.publishedPeak.Load() }

// RMSLinear returns the most recently published RMS value (UI thread).
func (m *Meter) RMSLinear() float32 { return m.publishedRMS.Load() }

// HoldLinear returns the most recently published peak-hold value (UI
// thread).
func (m *Meter) HoldLinear() float32 { return m.publishedHold.Load() }

// LinearToDB converts a linear amplitude to decibels. dB conversion is
// done on the reader side (spec §4.7).
func LinearToDB(linear float32) float32 {
	if linear <= 0 {
		return float32(math.Inf(-1))
	}
	return float32(20.0 * math.Log10(float64(linear)))
}

// DBToLinear converts decibels to a linear amplitude multiplier.
func DBToLinear(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20.0))
}

// VOXScale remaps a dB value to a [0,1] display position with expanded
// resolution in [-30, 0] dB, without altering the underlying published
// value (spec §4.7 "VOX scale flag"). Below -30dB the remaining range
// down to minDB is compressed into the bottom of the scale.
func VOXScale(db, minDB float32) float32 {
	const expandedFloor = -30.0
	if db >= 0 {
		return 1
	}
	if db >= expandedFloor {
		// Top 70% of the display range covers [-30, 0] dB.
		return 0.3 + 0.7*(db-expandedFloor)/(0 - expandedFloor)
	}
	if db <= minDB {
		return 0
	}
	// Bottom 30% of the display range covers [minDB, -30) dB.
	return 0.3 * (db - minDB) / (expandedFloor - minDB)
}
