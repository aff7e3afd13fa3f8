package analysisbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestWriteThenReadAtTheSameSampleTimeReturnsTheWrittenValue(t *testing.T) {
	bus := NewBus(1, 1024)
	writer := bus.NewWriter(0, MaskOf(SignalPitchHz))

	writer.Write(SignalPitchHz, 100, 220.0)

	pm := NewProducerMap()
	pm.SetProducer(MaskOf(SignalPitchHz), 0)

	got := bus.ReadSample(pm, SignalPitchHz, 100)
	assert.Equal(t, float32(220.0), got)
}

func TestReadAtAnUnwrittenSampleTimeReturnsZero(t *testing.T) {
	bus := NewBus(1, 1024)
	pm := NewProducerMap()
	pm.SetProducer(MaskOf(SignalPitchHz), 0)

	assert.Equal(t, float32(0), bus.ReadSample(pm, SignalPitchHz, 42))
}

func TestReadWithNoMappedProducerReturnsZero(t *testing.T) {
	bus := NewBus(1, 1024)
	writer := bus.NewWriter(0, MaskOf(SignalPitchHz))
	writer.Write(SignalPitchHz, 10, 99)

	pm := NewProducerMap() // every entry still -1
	assert.Equal(t, float32(0), bus.ReadSample(pm, SignalPitchHz, 10))
}

func TestWriteOutsideTheAllowedMaskIsDropped(t *testing.T) {
	bus := NewBus(1, 1024)
	writer := bus.NewWriter(0, MaskOf(SignalPitchHz)) // not SignalVoicingScore
	writer.Write(SignalVoicingScore, 10, 1)

	pm := NewProducerMap()
	pm.SetProducer(MaskOf(SignalVoicingScore), 0)
	assert.Equal(t, float32(0), bus.ReadSample(pm, SignalVoicingScore, 10))
}

func TestWriteWithNegativeSampleTimeIsDropped(t *testing.T) {
	bus := NewBus(1, 1024)
	writer := bus.NewWriter(0, MaskOf(SignalPitchHz))
	pm := NewProducerMap()
	pm.SetProducer(MaskOf(SignalPitchHz), 0)

	// -1, as an unsigned ring index, would land on the same slot as
	// sampleTime == capacity-1; pre-write a sentinel there, then confirm
	// a negative-time write never touches it.
	sentinelTime := int64(bus.Capacity() - 1)
	writer.Write(SignalPitchHz, sentinelTime, 7)
	writer.Write(SignalPitchHz, -1, 5)

	assert.Equal(t, float32(7), bus.ReadSample(pm, SignalPitchHz, sentinelTime))
}

func TestProducerMapResetClearsEveryEntry(t *testing.T) {
	var pm ProducerMap
	pm.SetProducer(MaskOf(SignalPitchHz, SignalVoicingScore), 3)
	pm.Reset()
	for s := Signal(0); s < SignalCount; s++ {
		assert.Equal(t, int32(-1), pm[s])
	}
}

func TestProducerMapBlockClearsOnlyMaskedSignals(t *testing.T) {
	var pm ProducerMap
	pm.SetProducer(MaskOf(SignalPitchHz, SignalVoicingScore), 2)
	pm.Block(MaskOf(SignalPitchHz))

	assert.Equal(t, int32(-1), pm[SignalPitchHz])
	assert.Equal(t, int32(2), pm[SignalVoicingScore])
}

func TestProducerMapAvailableRequiresEverySignalInMask(t *testing.T) {
	var pm ProducerMap
	pm.Reset()
	pm.SetProducer(MaskOf(SignalPitchHz), 0)

	assert.True(t, pm.Available(MaskOf(SignalPitchHz)))
	assert.False(t, pm.Available(MaskOf(SignalPitchHz, SignalVoicingScore)))
}

func TestProducerMapCloneIsIndependentOfFurtherMutation(t *testing.T) {
	var pm ProducerMap
	pm.Reset()
	pm.SetProducer(MaskOf(SignalPitchHz), 1)

	snapshot := pm.Clone()
	pm.SetProducer(MaskOf(SignalPitchHz), 2)

	assert.Equal(t, int32(1), snapshot[SignalPitchHz])
	assert.Equal(t, int32(2), pm[SignalPitchHz])
}

// TestBusIsTimeAlignedAcrossProducerAndConsumer is the signal-bus time-
// alignment property spec §8 names directly: a producer writing a value
// at a given sample time must be readable by a consumer querying that
// same sample time, for any sequence of (sampleTime, value) writes
// within the ring's capacity.
func TestBusIsTimeAlignedAcrossProducerAndConsumer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := 256
		bus := NewBus(1, capacity)
		writer := bus.NewWriter(0, MaskOf(SignalPitchHz))
		pm := NewProducerMap()
		pm.SetProducer(MaskOf(SignalPitchHz), 0)

		n := rapid.IntRange(1, 20).Draw(t, "n")
		type write struct {
			t int64
			v float32
		}
		writes := make([]write, n)
		base := rapid.Int64Range(0, 1<<40).Draw(t, "base")
		for i := 0; i < n; i++ {
			// Keep every write's absolute sample time within one ring
			// capacity of each other so no write can be overwritten by a
			// later one landing on the same masked slot before we read it
			// back, which would otherwise make this property
			// indistinguishable from the ring overwriting itself.
			offset := rapid.Int64Range(0, int64(capacity-1)).Draw(t, "offset")
			v := rapid.Float32Range(-1, 1).Draw(t, "v")
			st := base + offset
			writer.Write(SignalPitchHz, st, v)
			writes[i] = write{t: st, v: v}
		}

		// Only the last write to any given masked ring slot is guaranteed
		// to survive; check that one against a fresh read.
		bySlot := make(map[int64]write)
		for _, w := range writes {
			bySlot[w.t&int64(capacity-1)] = w
		}
		for _, w := range bySlot {
			got := bus.ReadSample(pm, SignalPitchHz, w.t)
			assert.Equal(t, w.v, got)
		}
	})
}
