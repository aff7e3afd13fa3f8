package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// PortAudioDevice is the concrete Device implementation backing the
// engine against the local machine's default audio interface via
// gordonklaus/portaudio.
type PortAudioDevice struct {
	cfg    Config
	stream *portaudio.Stream

	onBlock      OnBlock
	onInputBlock OnInputBlock

	outBuf []float32
	inBufs [][]float32

	mu  sync.Mutex
	log *logrus.Entry
}

// NewPortAudioDevice constructs a device bound to the default input and
// output streams at cfg's sample rate and block size.
func NewPortAudioDevice(cfg Config, onBlock OnBlock, onInputBlock OnInputBlock, log *logrus.Entry) *PortAudioDevice {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	inBufs := make([][]float32, len(cfg.Inputs))
	for i := range inBufs {
		inBufs[i] = make([]float32, cfg.BlockSize)
	}
	return &PortAudioDevice{
		cfg:     cfg,
		onBlock: onBlock,
		onInputBlock: onInputBlock,
		outBuf:  make([]float32, cfg.BlockSize*2),
		inBufs:  inBufs,
		log:     log,
	}
}

// Start initializes PortAudio and opens a full-duplex default stream
// (spec §6 "start").
func (d *PortAudioDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("device: portaudio init: %w", err)
	}

	numIn := len(d.cfg.Inputs)
	stream, err := portaudio.OpenDefaultStream(numIn, 2, d.cfg.SampleRate, d.cfg.BlockSize, d.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("device: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("device: start stream: %w", err)
	}

	d.stream = stream
	d.log.Info("portaudio device started")
	return nil
}

// Stop closes the stream and terminates PortAudio (spec §6 "stop").
func (d *PortAudioDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	if err := d.stream.Stop(); err != nil {
		d.log.WithError(err).Warn("error stopping portaudio stream")
	}
	if err := d.stream.Close(); err != nil {
		d.log.WithError(err).Warn("error closing portaudio stream")
	}
	d.stream = nil
	return portaudio.Terminate()
}

// callback is PortAudio's real-time callback. It must not allocate,
// lock a contended mutex, or log (spec §5, §9 "No allocation/locks/
// formatting on the audio thread"); it only copies into pre-sized
// buffers and invokes the engine's own callbacks, which carry the same
// obligation.
func (d *PortAudioDevice) callback(in, out []float32) {
	numIn := len(d.cfg.Inputs)
	for ch := 0; ch < numIn; ch++ {
		for i := 0; i < d.cfg.BlockSize; i++ {
			d.inBufs[ch][i] = in[i*numIn+ch]
		}
		if d.onInputBlock != nil {
			d.onInputBlock(d.cfg.Inputs[ch], d.inBufs[ch])
		}
	}

	if d.onBlock != nil {
		d.onBlock(d.outBuf)
	}
	copy(out, d.outBuf)
}
