package monitor

import (
	"math"

	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

// OpusSink Opus-encodes the monitor mirror for a remote listener,
// mirroring the teacher's decode path (gopus.NewDecoder in
// internal/audio/processor.go) but run in reverse as an encoder. PCM
// conversion (float32 <-> int16) follows the same binary.LittleEndian
// 16-bit convention the teacher's processor.go uses for its captured
// stream.
type OpusSink struct {
	encoder   *gopus.Encoder
	frameSize int
	channels  int

	pcm     []int16
	pending []float32

	out chan []byte

	log *logrus.Entry
}

// NewOpusSink creates a sink that accumulates interleaved stereo
// float32 input into fixed Opus frames and emits encoded frames on the
// channel returned by Frames. frameSize is in samples per channel (960 = 20ms at
// 48kHz, matching the teacher's own frameSize constant).
func NewOpusSink(sampleRate, channels, frameSize int, log *logrus.Entry) (*OpusSink, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &OpusSink{
		encoder:   enc,
		frameSize: frameSize,
		channels:  channels,
		pcm:       make([]int16, frameSize*channels),
		out:       make(chan []byte, 64),
		log:       log,
	}, nil
}

// Frames returns the channel encoded Opus frames are delivered on.
func (s *OpusSink) Frames() <-chan []byte { return s.out }

// Write implements monitor.Sink. It buffers input until a full frame is
// available, encodes it, and forwards the result without blocking (a
// full output channel drops the frame and logs it, matching the
// teacher's drop-on-backpressure policy for best-effort media).
func (s *OpusSink) Write(interleavedStereo []float32) {
	s.pending = append(s.pending, interleavedStereo...)
	frameLen := s.frameSize * s.channels

	for len(s.pending) >= frameLen {
		chunk := s.pending[:frameLen]
		for i, f := range chunk {
			s.pcm[i] = floatToPCM16(f)
		}
		s.pending = s.pending[frameLen:]

		encoded, err := s.encoder.Encode(s.pcm, s.frameSize, frameLen*2)
		if err != nil {
			s.log.WithError(err).Warn("opus encode failed, dropping monitor frame")
			continue
		}
		select {
		case s.out <- encoded:
		default:
			s.log.Warn("monitor opus sink backpressured, dropping frame")
		}
	}
}

func floatToPCM16(f float32) int16 {
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int16(math.Round(float64(f) * 32767))
}
