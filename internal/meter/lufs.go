package meter

import (
	"math"

	"github.com/hotmic/engine/internal/lockfree"
)

// LUFS implements a simplified ITU-R BS.1770-style momentary/short-term
// loudness measurement with gated integration, grounded on the windowed-
// block-average shape of analysis.LUFSMeter in the example pack's vst3go
// meters.go (momentary ~400ms, short-term ~3s blocks, a gating threshold
// before integration). Spec §4.5 step 5 names exactly these two windows
// plus "gated per standard broadcast integration" and calls the K-weighting
// filter and per-channel power summation out-of-scope DSP internals (spec
// §1: "concrete DSP algorithm internals ... out of scope"); this type
// supplies the windowing/gating/aggregation shell the engine needs and
// takes pre-weighted per-sample power as input, matching the "opaque
// compute block" treatment spec §1 prescribes for algorithm-heavy pieces.
type LUFS struct {
	sampleRate float64

	momentaryBuf  []float64
	momentaryPos  int
	momentarySum  float64
	momentaryFull bool

	shortTermBuf  []float64
	shortTermPos  int
	shortTermSum  float64
	shortTermFull bool

	gateThresholdLU float64
	integratedSum   float64
	integratedCount int64

	publishedMomentary  *lockfree.FloatCell
	publishedShortTerm  *lockfree.FloatCell
	publishedIntegrated *lockfree.FloatCell
}

// NewLUFS allocates momentary (400ms) and short-term (3s) windows sized
// for sampleRate. Must be called off the audio thread.
func NewLUFS(sampleRate float64) *LUFS {
	momentarySamples := int(sampleRate * 0.4)
	shortTermSamples := int(sampleRate * 3.0)
	if momentarySamples < 1 {
		momentarySamples = 1
	}
	if shortTermSamples < 1 {
		shortTermSamples = 1
	}
	return &LUFS{
		sampleRate:          sampleRate,
		momentaryBuf:        make([]float64, momentarySamples),
		shortTermBuf:        make([]float64, shortTermSamples),
		gateThresholdLU:     -70, // absolute gate, LUFS
		publishedMomentary:  &lockfree.FloatCell{},
		publishedShortTerm:  &lockfree.FloatCell{},
		publishedIntegrated: &lockfree.FloatCell{},
	}
}

// Process accumulates mean-square power for a block of already
// K-weighted, per-channel-summed samples (the weighting/summing itself is
// the out-of-scope DSP internal; see type doc). Called once per block
// from the owning thread.
func (l *LUFS) Process(weightedPower []float64) {
	for _, p := range weightedPower {
		oldM := l.momentaryBuf[l.momentaryPos]
		l.momentarySum -= oldM
		l.momentaryBuf[l.momentaryPos] = p
		l.momentarySum += p
		l.momentaryPos++
		if l.momentaryPos == len(l.momentaryBuf) {
			l.momentaryPos = 0
			l.momentaryFull = true
		}

		oldS := l.shortTermBuf[l.shortTermPos]
		l.shortTermSum -= oldS
		l.shortTermBuf[l.shortTermPos] = p
		l.shortTermSum += p
		l.shortTermPos++
		if l.shortTermPos == len(l.shortTermBuf) {
			l.shortTermPos = 0
			l.shortTermFull = true
		}
	}

	momentaryLUFS := powerToLUFS(l.momentarySum / float64(len(l.momentaryBuf)))
	shortTermLUFS := powerToLUFS(l.shortTermSum / float64(len(l.shortTermBuf)))

	if momentaryLUFS > l.gateThresholdLU {
		meanPower := l.momentarySum / float64(len(l.momentaryBuf))
		l.integratedSum += meanPower
		l.integratedCount++
	}

	l.publishedMomentary.Store(float32(momentaryLUFS))
	l.publishedShortTerm.Store(float32(shortTermLUFS))
	if l.integratedCount > 0 {
		l.publishedIntegrated.Store(float32(powerToLUFS(l.integratedSum / float64(l.integratedCount))))
	}
}

func powerToLUFS(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(meanSquare)
}

// Momentary returns the most recently published momentary LUFS value.
func (l *LUFS) Momentary() float32 { return l.publishedMomentary.Load() }

// ShortTerm returns the most recently published short-term LUFS value.
func (l *LUFS) ShortTerm() float32 { return l.publishedShortTerm.Load() }

// Integrated returns the most recently published gated-integrated LUFS
// value.
func (l *LUFS) Integrated() float32 { return l.publishedIntegrated.Load() }

// Reset clears all running and published state (e.g. on preset load).
func (l *LUFS) Reset() {
	for i := range l.momentaryBuf {
		l.momentaryBuf[i] = 0
	}
	for i := range l.shortTermBuf {
		l.shortTermBuf[i] = 0
	}
	l.momentaryPos, l.momentarySum, l.momentaryFull = 0, 0, false
	l.shortTermPos, l.shortTermSum, l.shortTermFull = 0, 0, false
	l.integratedSum, l.integratedCount = 0, 0
	l.publishedMomentary.Store(0)
	l.publishedShortTerm.Store(0)
	l.publishedIntegrated.Store(0)
}
