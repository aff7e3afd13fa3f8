// Package monitor implements the monitor-device mirror (spec §4.5 step
// 7): a copy of the master stereo output fed to a local monitor
// listener, and an optional network sink that Opus-encodes the mirror
// for remote monitoring.
//
// Grounded on the teacher's Opus encode/decode path in
// internal/audio/opus.go (layeh.com/gopus wrapper around frame-sized
// PCM buffers) and on bot's per-SSRC ring-buffer staging, generalized
// from a single voice stream to the shared master bus mirror.
package monitor

import "github.com/hotmic/engine/internal/ringbuf"

// Mirror is the monitor-device write target: a ring buffer the audio
// thread writes into every block, and local/remote sinks drain from
// independently at their own pace.
type Mirror struct {
	ring *ringbuf.SampleRing
	sink Sink
}

// Sink receives the interleaved stereo mirror, one block at a time.
// Implementations must not block the calling (audio) thread; an
// encoder sink should stage work for its own goroutine, the same way
// bot's packet handlers hand frames to internal/pipeline rather than
// encoding inline.
type Sink interface {
	Write(interleavedStereo []float32)
}

// NewMirror allocates a mirror ring sized for capacitySamples
// interleaved stereo samples (i.e. capacitySamples/2 stereo frames),
// with an optional sink that receives every block synchronously in
// addition to being ring-buffered for a local pull-based reader.
func NewMirror(capacitySamples int, sink Sink) *Mirror {
	return &Mirror{ring: ringbuf.NewSampleRing(capacitySamples), sink: sink}
}

// Write stages one block's interleaved stereo output into the ring and
// forwards it to the sink, if any (spec §4.5 step 7: "never allocates,
// never blocks the audio thread").
func (m *Mirror) Write(interleavedStereo []float32) {
	m.ring.Push(interleavedStereo)
	if m.sink != nil {
		m.sink.Write(interleavedStereo)
	}
}

// Pull drains up to len(out) samples for a local monitor reader,
// zero-filling any shortfall (spec §8 scenario 6 applies here too: a
// slow local reader sees silence, not garbage, on underrun).
func (m *Mirror) Pull(out []float32) int { return m.ring.Pop(out) }

// Dropped returns the cumulative count of mirror samples overwritten
// before a local reader consumed them.
func (m *Mirror) Dropped() uint64 { return m.ring.Dropped() }
