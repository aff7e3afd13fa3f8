// Package output implements the per-callback output pipeline (spec §2
// item 9, §4.5): the single entry point the audio device callback
// invokes once per block, which drains parameters, walks every channel
// in scheduler order, mixes the stereo bus, meters the master signal,
// enqueues one analysis capture record for each channel that has an
// analysis bus (no tap-based entry selection is made), mirrors to the
// monitor device, and advances the sample clock.
//
// Grounded on the teacher's audio callback -> pipeline dispatch shape
// (bot's per-SSRC packet handler feeding pipeline.Dispatcher) and on
// pipeline.Worker's bounded-step processing loop, generalized from "one
// segment through one worker" to "one block through every channel".
package output

import (
	"math"
	"sync/atomic"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/capture"
	"github.com/hotmic/engine/internal/channelstrip"
	"github.com/hotmic/engine/internal/lockfree"
	"github.com/hotmic/engine/internal/meter"
	"github.com/hotmic/engine/internal/monitor"
	"github.com/hotmic/engine/internal/plugin"
	"github.com/hotmic/engine/internal/ringbuf"
	"github.com/hotmic/engine/internal/routing"
)

// Channel is one scheduled channel's pipeline-visible surface: its
// strip, its scratch output buffer, and how it participates in the
// stereo mix (spec §4.5 step 4 "Send mode").
type Channel struct {
	ID     int
	Strip  *channelstrip.Strip
	PanLaw float32 // -1 (full left) .. +1 (full right), equal-power

	sendMode atomic.Uint32 // plugin.SendMode, published lock-free (spec §4.5 step 4: a chain's output-send plugin owns the mode)
	bus      atomic.Pointer[analysisbus.Bus]

	// inputRing is the per-input staging ring the device's
	// on_input_block callback writes into; nil for a channel with no
	// bound hardware input (e.g. one sourced entirely through a
	// ChannelInputProvider reading another channel's routed output).
	inputRing atomic.Pointer[ringbuf.SampleRing]

	buf []float32

	// ctx and slot are this channel's reusable per-block scratch state.
	// Both are allocated once here, off the audio thread, and mutated
	// in place by Process every block rather than rebuilt, so walking
	// the chain performs no allocation (spec §4.8/§9 "no allocation on
	// the audio thread"). slot.Output aliases buf for the channel's
	// entire lifetime (spec §4.4: a channel "sets its output buffer
	// reference", not a copy) and never needs reassigning.
	ctx  *plugin.Context
	slot *plugin.ChannelSlot
}

// NewChannel allocates a channel's scratch buffer and its reusable
// per-block plugin.Context/ChannelSlot. Must be called off the audio
// thread.
func NewChannel(id int, strip *channelstrip.Strip, sendMode plugin.SendMode, pan float32, sampleRate float64, blockSize int) *Channel {
	buf := make([]float32, blockSize)
	c := &Channel{ID: id, Strip: strip, PanLaw: pan, buf: buf}
	c.sendMode.Store(uint32(sendMode))
	c.ctx = &plugin.Context{
		SampleRate:  int(sampleRate),
		BlockSize:   blockSize,
		ChannelID:   id,
		ProducerMap: analysisbus.NewProducerMap(),
	}
	c.slot = &plugin.ChannelSlot{Output: buf, Ready: true}
	return c
}

// SetSendMode installs the channel's current send mode, read off an
// in-chain ChannelOutputEndpoint plugin (spec §4.5 step 4: "each
// output-send plugin ... writes into the mono bus according to its send
// mode"). Called from the UI thread whenever the chain is rebuilt.
func (c *Channel) SetSendMode(mode plugin.SendMode) { c.sendMode.Store(uint32(mode)) }

// SendMode returns the channel's current send mode.
func (c *Channel) SendMode() plugin.SendMode { return plugin.SendMode(c.sendMode.Load()) }

// SetInputRing installs (or clears, with nil) the channel's bound
// hardware-input staging ring.
func (c *Channel) SetInputRing(ring *ringbuf.SampleRing) { c.inputRing.Store(ring) }

// SetBus installs the channel's current analysis bus, atomically
// published so the audio thread can pick it up without locking (spec
// §3 "Analysis bus is (re)allocated at chain rebuild time"). Called
// from the UI thread whenever the channel's chain is rebuilt.
func (c *Channel) SetBus(bus *analysisbus.Bus) { c.bus.Store(bus) }

// Bus returns the channel's current analysis bus, or nil if none is
// set yet.
func (c *Channel) Bus() *analysisbus.Bus { return c.bus.Load() }

// Pipeline is the top-level per-callback orchestrator (spec §3 "Output
// pipeline").
type Pipeline struct {
	sampleRate float64
	blockSize  int

	channels map[int]*Channel

	paramQueue *lockfree.ParamQueue

	masterPeak *meter.Meter
	masterLUFS *meter.LUFS

	captureLink *capture.Link
	monitorSink *monitor.Mirror

	sampleClock atomic.Uint64

	loadingPreset atomic.Bool

	// order is the last computed schedule; recomputed whenever the
	// routing graph changes, not every block (spec §4.4: "recomputed on
	// structural change, not every block").
	order []int

	weightedPowerScratch []float64

	// routingCtx is the single cross-channel routing view shared by
	// every channel's ctx.RoutingCtx pointer, built once here and
	// merely cleared/updated each block (spec §4.4/§4.5 step 2 "clear
	// all per-channel slots") instead of reallocated.
	routingCtx *plugin.RoutingContext
}

// Config carries construction-time sizing.
type Config struct {
	SampleRate  float64
	BlockSize   int
	ParamQueue  int
	CaptureCap  int
}

// New constructs a pipeline with no channels yet (added via AddChannel).
func New(cfg Config) *Pipeline {
	return &Pipeline{
		sampleRate:           cfg.SampleRate,
		blockSize:            cfg.BlockSize,
		channels:             make(map[int]*Channel),
		paramQueue:           lockfree.NewParamQueue(cfg.ParamQueue),
		masterPeak:           meter.New(meter.DefaultConfig(cfg.SampleRate)),
		masterLUFS:           meter.NewLUFS(cfg.SampleRate),
		captureLink:          capture.NewLink(cfg.CaptureCap, cfg.BlockSize),
		weightedPowerScratch: make([]float64, cfg.BlockSize),
		routingCtx:           &plugin.RoutingContext{Channels: make(map[int]*plugin.ChannelSlot)},
	}
}

// ParamQueue returns the parameter bridge queue for UI-thread submitters.
func (p *Pipeline) ParamQueue() *lockfree.ParamQueue { return p.paramQueue }

// CaptureLink returns the analysis capture link for an orchestrator to
// consume.
func (p *Pipeline) CaptureLink() *capture.Link { return p.captureLink }


// SetMonitorSink installs the monitor mirror output.
func (p *Pipeline) SetMonitorSink(m *monitor.Mirror) { p.monitorSink = m }

// AddChannel registers a channel into the pipeline. Called off the
// audio thread (structural change, not a per-block operation), so
// growing the shared routing context's map here is fine; Process
// itself never inserts into it.
func (p *Pipeline) AddChannel(ch *Channel) {
	p.channels[ch.ID] = ch
	ch.ctx.RoutingCtx = p.routingCtx
	p.routingCtx.Channels[ch.ID] = ch.slot
}

// RemoveChannel unregisters a channel.
func (p *Pipeline) RemoveChannel(id int) {
	delete(p.channels, id)
	delete(p.routingCtx.Channels, id)
}

// SetOrder installs a freshly computed schedule (spec §4.4). Call
// whenever the routing graph changes structurally.
func (p *Pipeline) SetOrder(res routing.Result) { p.order = res.Order }

// SampleClock returns the current sample clock value.
func (p *Pipeline) SampleClock() uint64 { return p.sampleClock.Load() }

// BeginPresetLoad sets the pipeline's loading flag. Process does not
// read the flag: it keeps running every block as usual (channels in the
// order with no registered channel are skipped at any time), and the
// sample clock, channel buffers and capture link are not reset.
func (p *Pipeline) BeginPresetLoad() { p.loadingPreset.Store(true) }

// EndPresetLoad clears the loading flag.
func (p *Pipeline) EndPresetLoad() { p.loadingPreset.Store(false) }

// Process runs one full callback (spec §4.5 steps 1-8). master is the
// interleaved stereo output buffer (len == 2*blockSize, L/R
// interleaved); it must already be sized and is fully overwritten.
// blockWallNanos is the budget basis threaded down into every chain.
func (p *Pipeline) Process(master []float32, blockWallNanos int64) {
	// Step 1: drain parameter queue.
	p.paramQueue.DrainInto(p.applyParam)

	clock := p.sampleClock.Load()
	// Step 2: begin block. Advance the shared routing context's clock
	// and clear every channel's slot rather than reallocating the map
	// (spec §4.4/§4.5 step 2 "clear all per-channel slots"); each slot
	// is marked ready again as its channel finishes below.
	p.routingCtx.SampleClock = clock
	for _, slot := range p.routingCtx.Channels {
		slot.Ready = false
	}

	anySolo := false
	for _, ch := range p.channels {
		if ch.Strip.Solo() {
			anySolo = true
			break
		}
	}

	for i := range master {
		master[i] = 0
	}
	for i := range p.weightedPowerScratch {
		p.weightedPowerScratch[i] = 0
	}

	// Step 3: process every channel in scheduler order.
	for _, id := range p.order {
		ch, ok := p.channels[id]
		if !ok {
			continue
		}
		if ring := ch.inputRing.Load(); ring != nil {
			ring.Pop(ch.buf)
		} else {
			for i := range ch.buf {
				ch.buf[i] = 0
			}
		}

		ctx := ch.ctx
		ctx.SampleClock = clock
		ctx.Bus = ch.Bus()
		ctx.ProducerMap.Reset()

		ch.Strip.Process(ch.buf, ctx, blockWallNanos, anySolo)

		// ch.slot.Output already aliases ch.buf (set once at
		// construction); only the readiness flag needs updating here.
		ch.slot.Ready = true

		mixIn(master, ch.buf, ch.SendMode(), ch.PanLaw)

		for i, s := range ch.buf {
			p.weightedPowerScratch[i] += float64(s) * float64(s)
		}

		p.maybeCapture(ctx, ch, id, clock)
	}

	// Step 5: master metering.
	p.masterPeak.Process(master)
	p.masterLUFS.Process(p.weightedPowerScratch)

	// Step 7: monitor mirror.
	if p.monitorSink != nil {
		p.monitorSink.Write(master)
	}

	// Step 8: advance the sample clock by one block.
	p.sampleClock.Add(uint64(p.blockSize))
}

func (p *Pipeline) maybeCapture(ctx *plugin.Context, ch *Channel, channelID int, clock uint64) {
	if ctx.Bus == nil {
		return
	}
	buf := p.captureLink.Acquire()
	copy(buf, ch.buf)
	p.captureLink.Push(capture.Record{
		ChannelID:   channelID,
		SampleTime:  ctx.SampleTime,
		Buffer:      buf,
		ProducerMap: ctx.ProducerMap.Clone(),
	})
}

// mixIn places src into dst (interleaved stereo) per sendMode and an
// equal-power pan law (spec §4.5 step 4 "Send mode"). panLaw in [-1,1].
func mixIn(dst []float32, src []float32, mode plugin.SendMode, panLaw float32) {
	left, right := panGains(mode, panLaw)
	for i, s := range src {
		li := 2 * i
		ri := li + 1
		if li < len(dst) {
			dst[li] += s * left
		}
		if ri < len(dst) {
			dst[ri] += s * right
		}
	}
}

func panGains(mode plugin.SendMode, panLaw float32) (left, right float32) {
	switch mode {
	case plugin.SendLeft:
		return 1, 0
	case plugin.SendRight:
		return 0, 1
	default:
		return equalPowerPan(panLaw)
	}
}

// equalPowerPan implements a standard equal-power (constant loudness)
// pan law over p in [-1, 1]: p=-1 full left, p=1 full right, p=0 center
// at -3dB each side.
func equalPowerPan(p float32) (left, right float32) {
	if p < -1 {
		p = -1
	}
	if p > 1 {
		p = 1
	}
	angle := float64(p+1) * 0.25 * math.Pi
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}

func (p *Pipeline) applyParam(c lockfree.ParamChange) {
	switch c.Target.Kind {
	case lockfree.ParamKindChannelInputGain:
		if ch, ok := p.channels[c.Target.ChannelID]; ok {
			ch.Strip.SetInputGain(c.Value)
		}
	case lockfree.ParamKindChannelOutputGain:
		if ch, ok := p.channels[c.Target.ChannelID]; ok {
			ch.Strip.SetOutputGain(c.Value)
		}
	case lockfree.ParamKindChannelMute:
		if ch, ok := p.channels[c.Target.ChannelID]; ok {
			ch.Strip.SetMuted(c.Value != 0)
		}
	case lockfree.ParamKindChannelSolo:
		if ch, ok := p.channels[c.Target.ChannelID]; ok {
			ch.Strip.SetSolo(c.Value != 0)
		}
	case lockfree.ParamKindPluginParam:
		if ch, ok := p.channels[c.Target.ChannelID]; ok {
			if slot, _ := ch.Strip.Chain.LookupByInstanceID(c.Target.InstanceID); slot != nil {
				slot.Plugin.SetParameter(c.Target.ParamIndex, c.Value)
			}
		}
	case lockfree.ParamKindContainerBypass:
		// Ignored: container membership lives in package graph, which
		// applies container bypass through Graph.SetContainerBypass; no
		// parameter kind carries per-plugin bypass.
	}
}

// MasterPeak and MasterLUFS expose the master bus meters.
func (p *Pipeline) MasterPeak() *meter.Meter { return p.masterPeak }
func (p *Pipeline) MasterLUFS() *meter.LUFS  { return p.masterLUFS }
