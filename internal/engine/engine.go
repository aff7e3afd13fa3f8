// Package engine wires every other package into the running system
// (spec §2 "Module map" as a whole): per-channel graph/chain/strip,
// the routing scheduler, the output pipeline, the analysis bus and
// orchestrator, the parameter bridge, and the audio device.
//
// Grounded on bot.VoiceBot as the top-level owner that holds every
// other collaborator (session manager, audio processor, pipeline
// dispatcher) and exposes a small set of verbs the MCP layer calls
// into — engine.Engine plays exactly that role for HotMic.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/capture"
	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/channelstrip"
	"github.com/hotmic/engine/internal/config"
	"github.com/hotmic/engine/internal/device"
	"github.com/hotmic/engine/internal/graph"
	"github.com/hotmic/engine/internal/lockfree"
	"github.com/hotmic/engine/internal/meter"
	"github.com/hotmic/engine/internal/monitor"
	"github.com/hotmic/engine/internal/output"
	"github.com/hotmic/engine/internal/plugin"
	"github.com/hotmic/engine/internal/ringbuf"
	"github.com/hotmic/engine/internal/routing"
	"github.com/hotmic/engine/internal/telemetry"
)

// Config carries session-wide fixed parameters (spec §3 "Block",
// "Sample clock").
type Config struct {
	SampleRate float64
	BlockSize  int

	ParamQueueCapacity int
	CaptureCapacity    int
	BusWindowSamples   int
}

// channelState is everything the engine owns for one live channel.
type channelState struct {
	id         int
	createdAt  int64
	graph      *graph.Graph
	strip      *channelstrip.Strip
	bus        *analysisbus.Bus
	outChannel *output.Channel
}

// Engine is the top-level owner of a running HotMic session.
type Engine struct {
	cfg     Config
	factory graph.Factory

	mu          sync.Mutex
	channels    map[int]*channelState
	nextChannel int
	creation    int64

	pipeline     *output.Pipeline
	orchestrator *capture.Orchestrator
	dev          device.Device
	monitorMirror *monitor.Mirror

	// inputRings is a copy-on-write published map of channel id -> its
	// bound hardware-input staging ring (mirroring chain.Chain's
	// snapshot-swap idiom), so OnInputBlock can run on the audio thread
	// without taking e.mu (spec §9 "no locks on the audio thread").
	inputRings atomic.Pointer[map[int]*ringbuf.SampleRing]

	log *logrus.Entry
}

// New constructs an engine with no channels yet.
func New(cfg Config, factory graph.Factory, computers []capture.Computer, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.ParamQueueCapacity <= 0 {
		cfg.ParamQueueCapacity = 256
	}
	if cfg.CaptureCapacity <= 0 {
		cfg.CaptureCapacity = 32
	}
	if cfg.BusWindowSamples <= 0 {
		cfg.BusWindowSamples = cfg.BlockSize * 8
	}

	pipeline := output.New(output.Config{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.BlockSize,
		ParamQueue: cfg.ParamQueueCapacity,
		CaptureCap: cfg.CaptureCapacity,
	})

	e := &Engine{
		cfg:      cfg,
		factory:  factory,
		channels: make(map[int]*channelState),
		pipeline: pipeline,
		log:      log,
	}
	emptyRings := make(map[int]*ringbuf.SampleRing)
	e.inputRings.Store(&emptyRings)

	e.orchestrator = capture.NewOrchestrator(pipeline.CaptureLink(), e.busForChannel, 5*time.Millisecond, computers)
	return e
}

// busForChannel resolves a channel's current analysis bus for the
// orchestrator, which runs off the audio thread entirely so taking the
// engine's mutex here carries none of the audio-thread restrictions
// that forced channelState.bus off the hot path in package output.
func (e *Engine) busForChannel(channelID int) *analysisbus.Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.channels[channelID]; ok {
		return cs.bus
	}
	return nil
}

// AttachDevice installs the audio device collaborator that Start and
// Stop drive. It only stores dev: the caller constructs the device with
// callbacks into OnBlock and OnInputBlock (spec §6 "on_block").
func (e *Engine) AttachDevice(dev device.Device) { e.dev = dev }

// BindInput binds a channel to a hardware input, allocating its staging
// ring with headroom for a few blocks (spec §2 item 2 "per-input ring
// buffers", §8 scenario 6). Call before Start.
func (e *Engine) BindInput(channelID int, blocksOfHeadroom int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.channels[channelID]
	if !ok {
		return
	}
	if blocksOfHeadroom < 1 {
		blocksOfHeadroom = 4
	}
	ring := ringbuf.NewSampleRing(e.cfg.BlockSize * blocksOfHeadroom)
	if cs.outChannel != nil {
		cs.outChannel.SetInputRing(ring)
	}

	cur := *e.inputRings.Load()
	next := make(map[int]*ringbuf.SampleRing, len(cur)+1)
	for id, r := range cur {
		next[id] = r
	}
	next[channelID] = ring
	e.inputRings.Store(&next)
}

// OnInputBlock is the device callback invoked once per input block for
// each bound channel (spec §6 "on_input_block(channel_id, samples)").
// Runs on the audio thread: reads the published ring map lock-free and
// pushes into the ring, which itself is single-producer/single-consumer
// and allocation-free.
func (e *Engine) OnInputBlock(channelID int, samples []float32) {
	rings := *e.inputRings.Load()
	if ring, ok := rings[channelID]; ok {
		ring.Push(samples)
	}
}

// SetMonitorSink installs a monitor-device sink (spec §4.5 step 7).
func (e *Engine) SetMonitorSink(sink monitor.Sink) {
	e.monitorMirror = monitor.NewMirror(e.cfg.BlockSize*2*8, sink)
	e.pipeline.SetMonitorSink(e.monitorMirror)
}

// Start starts the orchestrator and the audio device.
func (e *Engine) Start(ctx context.Context) error {
	e.orchestrator.Start(ctx)
	if e.dev != nil {
		return e.dev.Start()
	}
	return nil
}

// Stop stops the audio device and the orchestrator.
func (e *Engine) Stop() error {
	var err error
	if e.dev != nil {
		err = e.dev.Stop()
	}
	e.orchestrator.Stop()
	return err
}

// OnBlock is the callback the audio device invokes once per block
// (spec §6 "on_block(out_buf)"). blockWallNanos should be the caller's
// measured or budgeted per-block wall-clock time.
func (e *Engine) OnBlock(out []float32, blockWallNanos int64) {
	e.pipeline.Process(out, blockWallNanos)
}

// CreateChannel adds a new channel with an empty chain (spec §3
// "Channels created by explicit user action").
func (e *Engine) CreateChannel(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextChannel++
	id := e.nextChannel
	e.createChannelLocked(id)
	e.rebuildScheduleLocked()
	return id
}

// createChannelLocked builds and registers a new, empty channel at the
// given id. Must be called with e.mu held; does not rebuild the
// schedule (callers that create several channels in a row should
// rebuild once at the end).
func (e *Engine) createChannelLocked(id int) *channelState {
	e.creation++

	ch := chain.New(e.cfg.SampleRate, e.cfg.BlockSize)
	g := graph.New(ch, e.cfg.SampleRate, e.cfg.BlockSize)
	strip := channelstrip.New(id, ch, channelstrip.Config{SampleRate: e.cfg.SampleRate, BlockSize: e.cfg.BlockSize})
	bus := analysisbus.NewBus(1, e.cfg.BusWindowSamples)

	cs := &channelState{id: id, createdAt: e.creation, graph: g, strip: strip, bus: bus}
	e.channels[id] = cs

	outCh := output.NewChannel(id, strip, plugin.SendBoth, 0, e.cfg.SampleRate, e.cfg.BlockSize)
	outCh.SetBus(bus)
	cs.outChannel = outCh
	e.pipeline.AddChannel(outCh)
	if id > e.nextChannel {
		e.nextChannel = id
	}
	return cs
}

// RemoveChannel deletes a channel (spec §3 "destroyed by explicit
// deletion").
func (e *Engine) RemoveChannel(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, id)
	e.pipeline.RemoveChannel(id)
	e.rebuildScheduleLocked()
}

// rebuildScheduleLocked recomputes the routing order from every
// channel's ChannelInputProvider dependencies (spec §4.4). Must be
// called with e.mu held.
func (e *Engine) rebuildScheduleLocked() {
	sources := make([]routing.Source, 0, len(e.channels))
	for id, cs := range e.channels {
		var deps []int
		sendMode := plugin.SendBoth
		for _, slot := range cs.graph.Chain().Snapshot() {
			if prov, ok := slot.Plugin.(plugin.ChannelInputProvider); ok {
				deps = append(deps, prov.SourceChannelID())
			}
			if endpoint, ok := slot.Plugin.(plugin.ChannelOutputEndpoint); ok {
				sendMode = endpoint.SendMode()
			}
		}
		if cs.outChannel != nil {
			cs.outChannel.SetSendMode(sendMode)
		}
		sources = append(sources, routing.Source{ChannelID: id, CreatedAt: cs.createdAt, DependsOn: deps})
	}
	res := routing.Schedule(sources)
	if len(res.DroppedEdges) > 0 {
		e.log.WithField("dropped", res.DroppedEdges).Warn("routing scheduler dropped cyclic edges")
	}
	e.pipeline.SetOrder(res)
}

// RebuildSchedule recomputes the routing order; call after any
// structural change to a channel's input-providing plugins.
func (e *Engine) RebuildSchedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildScheduleLocked()
}

// InsertPlugin inserts a plugin by type name into a channel's chain and
// rebinds its analysis bus producer assignments.
func (e *Engine) InsertPlugin(channelID int, pluginType string, at int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.channels[channelID]
	if !ok {
		return 0, fmt.Errorf("engine: channel %d not found", channelID)
	}
	p, err := e.factory.Create(pluginType)
	if err != nil {
		return 0, fmt.Errorf("engine: create plugin %q: %w", pluginType, err)
	}
	id := cs.graph.InsertPlugin(p, at)
	e.rebindBusLocked(cs)
	e.rebuildScheduleLocked()
	return id, nil
}

// SetPluginBypass toggles a plugin's bypass flag.
func (e *Engine) SetPluginBypass(channelID, instanceID int, bypassed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.channels[channelID]
	if !ok {
		return fmt.Errorf("engine: channel %d not found", channelID)
	}
	cs.graph.SetPluginBypass(instanceID, bypassed)
	return nil
}

// rebindBusLocked reallocates a channel's analysis bus sized for its
// current producer count and rebinds every producer slot's writer
// (spec §3 "Analysis bus is (re)allocated at chain rebuild time").
// Producer index 0 is reserved for orchestrator-computed signals; live
// in-chain producers start at index 1.
func (e *Engine) rebindBusLocked(cs *channelState) {
	slots := cs.graph.Chain().Snapshot()
	next := int32(1)
	indices := make(map[int]int)
	for _, s := range slots {
		if _, ok := s.Plugin.(plugin.Producer); ok {
			indices[s.InstanceID] = int(next)
			next++
		}
	}
	bus := analysisbus.NewBus(int(next), e.cfg.BusWindowSamples)
	cs.bus = bus
	cs.graph.Chain().RebindAnalysisBus(bus, func(instanceID int) int {
		if idx, ok := indices[instanceID]; ok {
			return idx
		}
		return -1
	})
	if cs.outChannel != nil {
		cs.outChannel.SetBus(bus)
	}
}

// SubmitParam enqueues a parameter change for the next block (spec §4.7).
func (e *Engine) SubmitParam(target lockfree.ParamTarget, value float32) bool {
	return e.pipeline.ParamQueue().Submit(lockfree.ParamChange{Target: target, Value: value})
}

// MasterMeterSnapshot reads the current master bus meters.
func (e *Engine) MasterMeterSnapshot() map[string]float32 {
	peak := e.pipeline.MasterPeak()
	lufs := e.pipeline.MasterLUFS()
	return map[string]float32{
		"peak_db":          meter.LinearToDB(peak.PeakLinear()),
		"rms_db":           meter.LinearToDB(peak.RMSLinear()),
		"lufs_momentary":   lufs.Momentary(),
		"lufs_short_term":  lufs.ShortTerm(),
		"lufs_integrated":  lufs.Integrated(),
	}
}

// TelemetrySnapshot implements telemetry.Source, giving the broadcast
// hub a single point-in-time read of every published meter without
// taking the audio-thread's locks (every value here is itself an
// atomically-published meter reading).
func (e *Engine) TelemetrySnapshot() telemetry.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	channels := make(map[int]telemetry.ChannelMeters, len(e.channels))
	for id, cs := range e.channels {
		channels[id] = telemetry.ChannelMeters{
			InputPeakDB:  meter.LinearToDB(cs.strip.InputMeter.PeakLinear()),
			OutputPeakDB: meter.LinearToDB(cs.strip.OutputMeter.PeakLinear()),
		}
	}

	return telemetry.Snapshot{
		SampleClock: e.pipeline.SampleClock(),
		Master:      e.MasterMeterSnapshot(),
		Channels:    channels,
	}
}

// LoadSessionConfig rebuilds every channel from a persisted session
// document (spec §4.2 "load_from_config"), between the pipeline's
// BeginPresetLoad and EndPresetLoad calls; the pipeline keeps
// processing blocks while the rebuild runs.
func (e *Engine) LoadSessionConfig(doc *config.Session) error {
	e.pipeline.BeginPresetLoad()
	defer e.pipeline.EndPresetLoad()

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ch := range doc.Channels {
		cs, ok := e.channels[id]
		if !ok {
			cs = e.createChannelLocked(id)
		}
		plugins, containers := ch.ToGraphConfig()
		if err := cs.graph.LoadFromConfig(plugins, containers, e.factory); err != nil {
			e.log.WithError(err).WithField("channel", id).Warn("partial plugin load failure")
		}
		cs.strip.SetInputGain(meter.DBToLinear(ch.InputGainDB))
		cs.strip.SetOutputGain(meter.DBToLinear(ch.OutputGainDB))
		cs.strip.SetMuted(ch.Muted)
		cs.strip.SetSolo(ch.Soloed)
		e.rebindBusLocked(cs)
	}
	e.rebuildScheduleLocked()
	return nil
}
