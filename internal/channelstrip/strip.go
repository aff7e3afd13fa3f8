// Package channelstrip implements the per-channel signal path (spec §2
// item 4, §4.5 step 3): input gain -> input meter -> plugin chain ->
// output gain -> mute/solo -> output meter.
//
// Grounded on engine/channel.go's channel-strip shape (gain stages
// around a processing chain) from the pack's macaudio example, combined
// with the teacher's per-entity state-and-mutex ownership style from
// session.Session (one struct per live entity, config fields guarded
// by atomics for the audio-thread-visible ones).
package channelstrip

import (
	"math"
	"sync/atomic"

	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/lockfree"
	"github.com/hotmic/engine/internal/meter"
	"github.com/hotmic/engine/internal/plugin"
)

// smoother is a one-pole gain ramp so discrete gain changes from the UI
// thread never step-discontinuity the audio thread's output (mute is
// not smoothed; it zeroes the block directly)
// (spec §4.5 step 3: "gain changes are smoothed, never applied as a
// step"). The coefficient is derived once from a fixed ramp time at
// construction, matching the teacher's fixed-constant approach to
// timing parameters (e.g. pipeline worker timeouts) rather than a
// runtime-tunable filter.
type smoother struct {
	current float32
	target  lockfree.FloatCell
	coeff   float32
}

func newSmoother(sampleRate float64, rampMillis float64) *smoother {
	coeff := float32(1)
	if sampleRate > 0 && rampMillis > 0 {
		samples := sampleRate * rampMillis / 1000.0
		if samples >= 1 {
			coeff = float32(1.0 - math.Exp(-1.0/samples))
		}
	}
	s := &smoother{coeff: coeff}
	s.setTarget(0)
	return s
}

func (s *smoother) setTarget(v float32) {
	s.target.Store(v)
}

func (s *smoother) next() float32 {
	t := s.target.Load()
	s.current += (t - s.current) * s.coeff
	return s.current
}

// Strip is one channel's full gain -> chain -> gain -> mute/solo path.
type Strip struct {
	ChannelID int
	Chain     *chain.Chain

	inputGain  *smoother
	outputGain *smoother

	InputMeter  *meter.Meter
	OutputMeter *meter.Meter

	muted atomic.Bool
	solo  atomic.Bool

	inputBuf []float32
}

// Config carries construction-time sizing (spec §4.8: buffers sized at
// initialize time, never on the audio thread).
type Config struct {
	SampleRate float64
	BlockSize  int
	RampMillis float64 // default 10ms if zero
}

// New constructs a channel strip over an already-built chain.
func New(channelID int, ch *chain.Chain, cfg Config) *Strip {
	ramp := cfg.RampMillis
	if ramp <= 0 {
		ramp = 10
	}
	s := &Strip{
		ChannelID:   channelID,
		Chain:       ch,
		inputGain:   newSmoother(cfg.SampleRate, ramp),
		outputGain:  newSmoother(cfg.SampleRate, ramp),
		InputMeter:  meter.New(meter.DefaultConfig(cfg.SampleRate)),
		OutputMeter: meter.New(meter.DefaultConfig(cfg.SampleRate)),
		inputBuf:    make([]float32, cfg.BlockSize),
	}
	s.inputGain.setTarget(1)
	s.outputGain.setTarget(1)
	return s
}

// SetInputGain sets the linear input gain target (ramped, never
// stepped).
func (s *Strip) SetInputGain(linear float32) { s.inputGain.setTarget(linear) }

// SetOutputGain sets the linear output gain target (ramped).
func (s *Strip) SetOutputGain(linear float32) { s.outputGain.setTarget(linear) }

// SetMuted sets this channel's own mute flag (spec §9 "Solo+mute
// precedence": channel mute applies first, solo-implied mute second).
func (s *Strip) SetMuted(v bool) { s.muted.Store(v) }

// SetSolo sets this channel's solo flag. Whether non-soloed channels are
// muted as a consequence is the caller's (engine-level) responsibility,
// since it requires seeing every channel's solo state at once; this
// type only exposes its own flags.
func (s *Strip) SetSolo(v bool) { s.solo.Store(v) }

// Muted reports this channel's own mute flag.
func (s *Strip) Muted() bool { return s.muted.Load() }

// Solo reports this channel's solo flag.
func (s *Strip) Solo() bool { return s.solo.Load() }

// Process runs one block through the full strip in place: input gain,
// input meter, chain, output gain, mute/solo silencing, output meter
// (spec §4.5 step 3). anySolo is whether any channel in the engine is
// currently soloed; this channel is silenced if it is muted, or if
// anySolo is true and this channel is not the one soloed (spec §9).
func (s *Strip) Process(buf []float32, ctx *plugin.Context, blockWallNanos int64, anySolo bool) {
	for i := range buf {
		buf[i] *= s.inputGain.next()
	}
	s.InputMeter.Process(buf)

	s.Chain.ProcessBlock(buf, ctx, blockWallNanos)

	for i := range buf {
		buf[i] *= s.outputGain.next()
	}

	silence := s.muted.Load() || (anySolo && !s.solo.Load())
	if silence {
		for i := range buf {
			buf[i] = 0
		}
	}

	s.OutputMeter.Process(buf)
}
