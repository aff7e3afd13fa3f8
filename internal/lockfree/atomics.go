package lockfree

import (
	"math"
	"sync/atomic"
)

// FloatCell is an atomically published float32, the building block for
// every meter value crossing the audio/UI boundary (spec §4.7 Metering
// publication). Grounded on the atomic int64 counters in
// pipeline.DispatcherMetrics, generalized to floats via bit-casting
// (math.Float32bits), which is the standard Go idiom for an atomic float.
type FloatCell struct {
	bits atomic.Uint32
}

// Store publishes a new value. Called from the audio thread.
func (c *FloatCell) Store(v float32) {
	c.bits.Store(math.Float32bits(v))
}

// Load reads the most recently published value. Called from the UI thread.
func (c *FloatCell) Load() float32 {
	return math.Float32frombits(c.bits.Load())
}

// IntCell is an atomically published int64 counter, used for fault/drop/
// over-budget counters that are incremented on the audio thread and read
// by the UI thread (spec §7 propagation policy: "deferred surfacing via
// counters").
type IntCell struct {
	v atomic.Int64
}

func (c *IntCell) Add(delta int64) int64 { return c.v.Add(delta) }
func (c *IntCell) Load() int64           { return c.v.Load() }
func (c *IntCell) Store(v int64)         { c.v.Store(v) }

// FlagCell is an atomically published boolean, used for single-bit state
// like "recovering" or a plugin's latched fault flag.
type FlagCell struct {
	v atomic.Bool
}

func (c *FlagCell) Store(v bool) { c.v.Store(v) }
func (c *FlagCell) Load() bool   { return c.v.Load() }
