// Package device implements the audio device I/O collaborator (spec §6
// "Audio device I/O"): the `{start, stop, on_block(out_buf)}` plus
// `on_input_block(channel_id, samples)` contract the engine drives, and
// a concrete PortAudio-backed implementation.
//
// Grounded on the retrieval pack's portaudio usage pattern (even though
// the teacher itself never calls the engine's own device loop — its
// "device" is the Discord voice socket) combined with the teacher's
// start/stop lifecycle naming from bot.Bot (Start/Stop around a
// long-lived connection).
package device

import "github.com/hotmic/engine/internal/ringbuf"

// OnBlock is called once per output callback with the stereo
// interleaved output buffer to fill in place.
type OnBlock func(out []float32)

// OnInputBlock is called once per input callback for each input
// channel with its newly captured samples.
type OnInputBlock func(channelID int, samples []float32)

// Device is the external audio device collaborator contract (spec §6).
type Device interface {
	Start() error
	Stop() error
}

// Config carries the fixed session parameters every device
// implementation is constructed with (spec §3 "Block", "Sample clock":
// block size is fixed within a session and a power of two in {128,
// 256, 512, 1024}; sample rate is 44.1k or 48k).
type Config struct {
	SampleRate float64
	BlockSize  int
	Inputs     []int // channel ids with a bound input device
}

// InputRing exposes the per-input staging ring a device implementation
// writes captured samples into (spec §2 item 2 "per-input ring
// buffers").
type InputRing struct {
	ChannelID int
	Ring      *ringbuf.SampleRing
}

// NewInputRings allocates one ring per configured input, sized for a
// few blocks of headroom so a slow consumer doesn't immediately drop
// samples (spec §8 scenario 6).
func NewInputRings(cfg Config, blocksOfHeadroom int) []*InputRing {
	if blocksOfHeadroom < 1 {
		blocksOfHeadroom = 4
	}
	rings := make([]*InputRing, len(cfg.Inputs))
	for i, id := range cfg.Inputs {
		rings[i] = &InputRing{
			ChannelID: id,
			Ring:      ringbuf.NewSampleRing(cfg.BlockSize * blocksOfHeadroom),
		}
	}
	return rings
}
