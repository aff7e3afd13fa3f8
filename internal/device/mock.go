package device

// MockDevice is a test double that drives onBlock/onInputBlock
// synchronously from Tick, rather than from a real-time audio thread —
// used by cmd/hotmicd's -mock-device mode and by cmd/hotmic-pipeline-test.
type MockDevice struct {
	cfg          Config
	onBlock      OnBlock
	onInputBlock OnInputBlock

	started bool
	outBuf  []float32
}

// NewMockDevice constructs a mock device.
func NewMockDevice(cfg Config, onBlock OnBlock, onInputBlock OnInputBlock) *MockDevice {
	return &MockDevice{cfg: cfg, onBlock: onBlock, onInputBlock: onInputBlock, outBuf: make([]float32, cfg.BlockSize*2)}
}

// Start marks the device started; it performs no I/O.
func (d *MockDevice) Start() error {
	d.started = true
	return nil
}

// Stop marks the device stopped.
func (d *MockDevice) Stop() error {
	d.started = false
	return nil
}

// Tick drives exactly one callback cycle, feeding input (if any) and
// invoking onBlock, returning the produced output buffer.
func (d *MockDevice) Tick(input map[int][]float32) []float32 {
	if d.onInputBlock != nil {
		for ch, samples := range input {
			d.onInputBlock(ch, samples)
		}
	}
	if d.onBlock != nil {
		d.onBlock(d.outBuf)
	}
	out := make([]float32, len(d.outBuf))
	copy(out, d.outBuf)
	return out
}

// Started reports whether Start has been called without a matching
// Stop.
func (d *MockDevice) Started() bool { return d.started }
