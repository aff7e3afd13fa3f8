// Package plugin defines the uniform contract every in-chain DSP unit
// implements (spec §6 "Plugin contract"). It is modeled directly on
// transcriber.Transcriber: a small required interface (init/dispose,
// process, ready/state) plus optional capability interfaces a chain slot
// probes for with a type assertion, rather than a class hierarchy (spec
// §9 "Dynamic dispatch over plugins").
package plugin

import "github.com/hotmic/engine/internal/analysisbus"

// Param describes one plugin parameter (spec §6).
type Param struct {
	Index   int
	Name    string
	Min     float32
	Max     float32
	Default float32
	Unit    string
}

// Context is the per-block state threaded through a chain walk (spec
// §4.5 step "d"). The output pipeline allocates one per channel, refreshes
// it in place each block and passes it by pointer down the chain; plugins must not retain it past
// Process returning.
type Context struct {
	SampleRate  int
	BlockSize   int
	SampleClock uint64
	SampleTime  int64 // sample_clock - cumulative_latency, running
	SlotIndex   int
	ChannelID   int
	RoutingCtx  *RoutingContext

	Bus         *analysisbus.Bus
	ProducerMap analysisbus.ProducerMap // signal_id -> producer index, or -1
	Requested   analysisbus.Mask        // signals some downstream consumer (or the analysis orchestrator) wants

	// Writer is this slot's bound analysis-signal writer, set by the
	// chain walk just before Process runs (nil if this slot is not a
	// Producer). A Producer plugin calls ctx.Writer.Write(signal,
	// ctx.SampleTime, value) from inside Process.
	Writer *analysisbus.Writer
}

// RoutingContext is the per-block cross-channel view described in spec
// §4.4 and §3 "Routing context". It is owned by the routing scheduler and
// the output pipeline; plugins only read it.
type RoutingContext struct {
	SampleClock uint64
	Channels    map[int]*ChannelSlot
}

// ChannelSlot is one channel's published state for the current block.
type ChannelSlot struct {
	Output           []float32
	CumulativeLatency int
	Ready            bool
}

// Plugin is the mandatory contract every DSP unit implements (spec §6).
type Plugin interface {
	ID() string
	Name() string
	LatencySamples() int

	Parameters() []Param
	SetParameter(index int, value float32)

	Initialize(sampleRate, blockSize int)
	Dispose()

	// Process runs the block-processing entry point in place on a mono
	// float buffer. ctx carries sample-time/routing/bus state (spec
	// §4.1 step 1, §4.5 step d).
	Process(buffer []float32, ctx *Context)

	GetState() []byte
	SetState(state []byte)
}

// Producer is an optional capability: a plugin that writes analysis
// signals at its chain position (spec §4.3 "Write contract").
type Producer interface {
	// ProducerSignals returns the mask of signals this plugin may write.
	ProducerSignals() analysisbus.Mask
}

// Consumer is an optional capability: a plugin that reads analysis
// signals written upstream (spec §4.3 "Read contract").
type Consumer interface {
	ConsumerSignals() analysisbus.Mask
	SetAvailability(available bool)
}

// Blocker is an optional capability: a plugin that suppresses specific
// signals from reaching anything downstream of it (spec §4.3 "Blocker
// contract").
type Blocker interface {
	BlockedSignals() analysisbus.Mask
}

// ChannelInputProvider is an optional capability: a plugin acting as a
// channel's input source by reading another channel's output through the
// routing context (spec §4.4, §4.5 step 3a).
type ChannelInputProvider interface {
	SourceChannelID() int
}

// SendMode selects how an output-send plugin places its channel's audio
// into the stereo bus (spec §4.5 step 4, glossary "Send mode").
type SendMode uint8

const (
	SendLeft SendMode = iota
	SendRight
	SendBoth
)

// ChannelOutputEndpoint is an optional capability: a terminal routing
// plugin that mixes its channel's output into the shared bus.
type ChannelOutputEndpoint interface {
	SendMode() SendMode
}

// Tap is an optional capability for a special slot that may, per signal,
// pass an upstream value through, generate it locally, or block it (spec
// §4.3 "Tap slot"). Package chain has no Tap-specific handling: a tap
// is walked as the Producer and Blocker it embeds, and nothing in the
// engine calls ShouldCapture.
type Tap interface {
	Producer
	Blocker
	// ShouldCapture reports whether this block's processing should
	// capture locally (spec §4.6 "Entry selection").
	ShouldCapture() bool
}
