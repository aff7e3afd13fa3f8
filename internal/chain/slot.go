// Package chain implements the ordered plugin chain (spec §4.1): an
// atomically-swapped snapshot array the audio thread iterates without
// locking, and the per-slot bookkeeping (post-meter, spectral-delta
// scratch, profiling counters, fault isolation) that traversal needs.
//
// The atomic-pointer-swap snapshot pattern is spec's own prescription
// (§9 "UI-updated mutable graph vs. audio-visible chain"); the counter/
// isolation style is grounded on the teacher's metrics structs
// (pipeline.DispatcherMetrics, processorMetricsInternal) — atomic
// int64/int32 fields updated with atomic.Add*, read with atomic.Load*,
// no mutex on the hot path.
package chain

import (
	"sync/atomic"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/meter"
	"github.com/hotmic/engine/internal/plugin"
)

// SlotProfiling holds per-slot profiling counters (spec §4.1 step 4).
// Every field is touched only by the audio thread during Process and read
// by the UI thread via atomic loads.
type SlotProfiling struct {
	lastWallNanos   atomic.Int64
	totalWallNanos  atomic.Int64
	overBudgetCount atomic.Int64
	faultCount      atomic.Int64
}

func (p *SlotProfiling) recordWall(nanos int64) {
	p.lastWallNanos.Store(nanos)
	p.totalWallNanos.Add(nanos)
}

// LastWallNanos returns the most recent block's processing time for this
// slot.
func (p *SlotProfiling) LastWallNanos() int64 { return p.lastWallNanos.Load() }

// TotalWallNanos returns the cumulative processing time for this slot.
func (p *SlotProfiling) TotalWallNanos() int64 { return p.totalWallNanos.Load() }

// OverBudgetCount returns how many blocks this slot has exceeded its
// budget (spec §4.1 step 4, §5 "Plugin hangs").
func (p *SlotProfiling) OverBudgetCount() int64 { return p.overBudgetCount.Load() }

// FaultCount returns how many times this slot has been auto-bypassed due
// to a runtime fault (spec §7 Runtime plugin faults).
func (p *SlotProfiling) FaultCount() int64 { return p.faultCount.Load() }

// Slot is one position in the chain (spec §3 "Plugin slot"). instance_id
// is assigned once by Chain.Insert and never changes for the lifetime of
// the slot (spec §3 "Plugin instance id").
type Slot struct {
	InstanceID int
	Plugin     plugin.Plugin

	PostMeter      *meter.Meter
	SpectralDelta  []float32 // scratch buffer for spectral-delta analysis

	Profiling *SlotProfiling

	bypassed     atomic.Bool
	autoBypassed atomic.Bool // set by the chain on an unrecoverable fault

	// ProducerIndex is this slot's index into the analysis bus's producer
	// dimension, or -1 if it is not a Producer or no bus is bound yet.
	// Reassigned by Chain.RebindAnalysisBus on every bus rebind.
	ProducerIndex int
	writer        *analysisbus.Writer // nil unless ProducerIndex >= 0
}

// NewSlot constructs a slot. Must be called off the audio thread: it
// allocates the post-meter and scratch buffer (spec §4.1 "allocated on
// the calling (UI) thread").
func NewSlot(instanceID int, p plugin.Plugin, sampleRate float64, blockSize int) *Slot {
	return &Slot{
		InstanceID:    instanceID,
		Plugin:        p,
		PostMeter:     meter.New(meter.DefaultConfig(sampleRate)),
		SpectralDelta: make([]float32, blockSize),
		Profiling:     &SlotProfiling{},
		ProducerIndex: -1,
	}
}

// SetBypass sets the slot's bypass state, mirrored onto the plugin itself
// is the caller's responsibility via config (spec §3 Plugin slot
// invariant: "bypass state is mirrored on the plugin and on its
// persisted config entry").
func (s *Slot) SetBypass(v bool) { s.bypassed.Store(v) }

// Bypassed reports whether this slot is user- or auto-bypassed.
func (s *Slot) Bypassed() bool {
	return s.bypassed.Load() || s.autoBypassed.Load()
}

// AutoBypassed reports whether the chain auto-bypassed this slot due to a
// runtime fault (spec §7).
func (s *Slot) AutoBypassed() bool { return s.autoBypassed.Load() }

// ClearAutoBypass releases a fault-induced auto-bypass (e.g. after the UI
// acknowledges the fault and the plugin is reset), leaving the user's own
// bypass flag untouched.
func (s *Slot) ClearAutoBypass() { s.autoBypassed.Store(false) }

func (s *Slot) bindProducer(bus *analysisbus.Bus, index int, mask analysisbus.Mask) {
	s.ProducerIndex = index
	if bus != nil {
		s.writer = bus.NewWriter(index, mask)
	}
}
