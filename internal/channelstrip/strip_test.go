package channelstrip

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/plugin"
)

const testSampleRate = 48000.0

func newTestStrip(t *testing.T, rampMillis float64) *Strip {
	t.Helper()
	ch := chain.New(testSampleRate, 64)
	return New(1, ch, Config{SampleRate: testSampleRate, BlockSize: 64, RampMillis: rampMillis})
}

func runBlocks(s *Strip, blocks int, blockSize int, input float32, anySolo bool) []float32 {
	var last []float32
	for b := 0; b < blocks; b++ {
		buf := make([]float32, blockSize)
		for i := range buf {
			buf[i] = input
		}
		ctx := &plugin.Context{ProducerMap: analysisbus.NewProducerMap()}
		s.Process(buf, ctx, int64(1e9), anySolo)
		last = buf
	}
	return last
}

func rms(buf []float32) float64 {
	var sum float64
	for _, v := range buf {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(buf)))
}

// TestInputGainAppliesStandardGainLaw confirms a -6dB input gain settles
// to a 0.5012x linear multiplier (spec §8 "Gain law"): after the
// smoothing ramp has had enough blocks to settle, RMS must track the
// input within 1%.
func TestInputGainAppliesStandardGainLaw(t *testing.T) {
	s := newTestStrip(t, 10)
	s.SetInputGain(dbToLinearGain(-6))

	// 30ms at 48kHz / 64-sample blocks is about 23 blocks; run generously
	// past that so the one-pole ramp has fully settled.
	const blockSize = 64
	const settleBlocks = 60
	buf := runBlocks(s, settleBlocks, blockSize, 1.0, false)

	got := rms(buf)
	want := 1.0 * 0.5012
	assert.InEpsilonf(t, want, got, 0.01, "expected RMS %.4f after -6dB gain, got %.4f", want, got)
}

// TestOutputGainAppliesAfterChain confirms the output gain stage scales
// the post-chain signal independently of the input stage.
func TestOutputGainAppliesAfterChain(t *testing.T) {
	s := newTestStrip(t, 10)
	s.SetOutputGain(dbToLinearGain(-6))

	const blockSize = 64
	buf := runBlocks(s, 60, blockSize, 1.0, false)

	got := rms(buf)
	want := 1.0 * 0.5012
	assert.InEpsilonf(t, want, got, 0.01, "expected RMS %.4f after -6dB output gain, got %.4f", want, got)
}

func TestMutedChannelOutputsSilence(t *testing.T) {
	s := newTestStrip(t, 0) // 0 selects the default gain ramp; mute itself is not ramped
	s.SetMuted(true)

	buf := runBlocks(s, 1, 64, 1.0, false)
	for _, v := range buf {
		assert.Equal(t, float32(0), v)
	}
}

// TestSoloSilencesNonSoloedChannels confirms spec §9's solo+mute
// precedence: a channel that is not muted but also not the soloed
// channel is silenced whenever any channel in the engine is soloed.
func TestSoloSilencesNonSoloedChannels(t *testing.T) {
	s := newTestStrip(t, 0)
	// s itself is not soloed, but some other channel is (anySolo=true).
	buf := runBlocks(s, 1, 64, 1.0, true)
	for _, v := range buf {
		assert.Equal(t, float32(0), v)
	}
}

func TestSoloedChannelPassesThroughWhileOthersAreSuppressed(t *testing.T) {
	s := newTestStrip(t, 0)
	s.SetSolo(true)
	buf := runBlocks(s, 1, 64, 1.0, true)
	for _, v := range buf {
		assert.NotEqual(t, float32(0), v)
	}
}

func TestMuteTakesPrecedenceOverSolo(t *testing.T) {
	s := newTestStrip(t, 0)
	s.SetSolo(true)
	s.SetMuted(true)
	buf := runBlocks(s, 1, 64, 1.0, true)
	for _, v := range buf {
		assert.Equal(t, float32(0), v, "a muted channel must stay silent even when soloed")
	}
}

func dbToLinearGain(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}
