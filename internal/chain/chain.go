package chain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/plugin"
)

// Chain is the ordered sequence of plugin slots inside one channel (spec
// §2 item 5, §4.1). The audio thread reads a snapshot via an atomic
// pointer; every structural edit publishes a freshly-built snapshot
// (spec §9 "UI-updated mutable graph vs. audio-visible chain").
type Chain struct {
	snapshot    atomic.Pointer[[]*Slot]
	nextInstance atomic.Int64

	sampleRate float64
	blockSize  int

	// budgetFraction is the configurable fraction of block-wallclock a
	// slot may consume before it counts as over-budget (spec §4.1 step
	// 4).
	budgetFraction float64

	mu sync.Mutex // coordinates UI-thread callers with each other only
}

// New creates an empty chain. sampleRate/blockSize size every slot's
// meter and scratch buffers at construction time (spec §4.8: "Plugin
// state arrays are sized at initialize(...) time").
func New(sampleRate float64, blockSize int) *Chain {
	c := &Chain{sampleRate: sampleRate, blockSize: blockSize, budgetFraction: 0.8}
	empty := make([]*Slot, 0)
	c.snapshot.Store(&empty)
	return c
}

// Snapshot returns the current slot array. The audio thread calls this
// once at block start and iterates the result without locking (spec
// §4.1 "snapshot()").
func (c *Chain) Snapshot() []*Slot {
	return *c.snapshot.Load()
}

func (c *Chain) publish(slots []*Slot) {
	c.snapshot.Store(&slots)
}

// nextInstanceID assigns the next positive instance id, unique within
// this chain for its lifetime (spec §3 "Plugin instance id" — id 0 is
// reserved as "absent", so the counter starts at 1).
func (c *Chain) nextInstanceID() int {
	return int(c.nextInstance.Add(1))
}

// Insert assigns the next instance id to p, inserts it at position
// `at` (clamped to the chain length — spec §4.2 "Insert at index >=
// chain length -> append"), and publishes a new snapshot. Returns the
// assigned instance id. Must be called from a UI-thread caller; the
// slot's meter/scratch buffers are allocated here, off the audio thread
// (spec §4.1 "insert(at_index, plugin)").
func (c *Chain) Insert(at int, p plugin.Plugin) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Snapshot()
	if at < 0 {
		at = 0
	}
	if at > len(cur) {
		at = len(cur)
	}

	id := c.nextInstanceID()
	slot := NewSlot(id, p, c.sampleRate, c.blockSize)

	next := make([]*Slot, 0, len(cur)+1)
	next = append(next, cur[:at]...)
	next = append(next, slot)
	next = append(next, cur[at:]...)
	c.publish(next)
	return id
}

// InsertSlot inserts an already-constructed slot (used by the graph when
// rebuilding from persisted config, where instance ids are already
// known) at the given chain index.
func (c *Chain) InsertSlot(at int, slot *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Snapshot()
	if at < 0 {
		at = 0
	}
	if at > len(cur) {
		at = len(cur)
	}
	next := make([]*Slot, 0, len(cur)+1)
	next = append(next, cur[:at]...)
	next = append(next, slot)
	next = append(next, cur[at:]...)
	c.publish(next)

	if id := int64(slot.InstanceID); id >= c.nextInstance.Load() {
		c.nextInstance.Store(id)
	}
}

// Remove detaches the slot at index, returning it for off-thread
// disposal (spec §4.1 "remove(index)": "the audio thread will pick up
// the new snapshot on its next block"). Returns nil if index is out of
// range.
func (c *Chain) Remove(index int) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Snapshot()
	if index < 0 || index >= len(cur) {
		return nil
	}
	removed := cur[index]
	next := make([]*Slot, 0, len(cur)-1)
	next = append(next, cur[:index]...)
	next = append(next, cur[index+1:]...)
	c.publish(next)
	return removed
}

// ReplaceAll atomically swaps the whole chain, used by preset load (spec
// §4.1 "replace_all(new_slots)").
func (c *Chain) ReplaceAll(slots []*Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*Slot, len(slots))
	copy(cp, slots)
	c.publish(cp)
	for _, s := range cp {
		if int64(s.InstanceID) >= c.nextInstance.Load() {
			c.nextInstance.Store(int64(s.InstanceID))
		}
	}
}

// LookupByInstanceID returns the slot and its index, or (nil, -1) if
// absent (spec §4.1 "lookup_by_instance_id(id)").
func (c *Chain) LookupByInstanceID(id int) (*Slot, int) {
	cur := c.Snapshot()
	for i, s := range cur {
		if s.InstanceID == id {
			return s, i
		}
	}
	return nil, -1
}

// Len returns the current chain length.
func (c *Chain) Len() int { return len(c.Snapshot()) }

// RebindAnalysisBus rebuilds every producer slot's Writer against a newly
// (re)allocated bus (spec §3 lifecycles: "Analysis bus is (re)allocated
// at chain rebuild time"). producerIndexOf assigns a stable producer
// index per slot; the caller (package graph) owns that assignment policy.
func (c *Chain) RebindAnalysisBus(bus *analysisbus.Bus, producerIndexOf func(instanceID int) int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.Snapshot()
	for _, s := range cur {
		prod, ok := s.Plugin.(plugin.Producer)
		if !ok {
			s.ProducerIndex = -1
			s.writer = nil
			continue
		}
		idx := producerIndexOf(s.InstanceID)
		s.bindProducer(bus, idx, prod.ProducerSignals())
	}
}

// ProcessBlock walks the chain once, threading ctx down it (spec §4.1
// "Block processing", §4.5 step d). It advances ctx.SampleTime and
// ctx.ProducerMap as it goes, so slot j sees the state left by every
// slot before it. blockWallNanos is the budget basis for over-budget
// accounting (spec §4.1 step 4).
func (c *Chain) ProcessBlock(buf []float32, ctx *plugin.Context, blockWallNanos int64) {
	slots := c.Snapshot()
	cumulativeLatency := 0
	budgetNanos := int64(float64(blockWallNanos) * c.budgetFraction)

	for i, slot := range slots {
		ctx.SlotIndex = i
		ctx.SampleTime = int64(ctx.SampleClock) - int64(cumulativeLatency)

		if blocker, ok := slot.Plugin.(plugin.Blocker); ok {
			ctx.ProducerMap.Block(blocker.BlockedSignals())
		}

		if consumer, ok := slot.Plugin.(plugin.Consumer); ok {
			consumer.SetAvailability(ctx.ProducerMap.Available(consumer.ConsumerSignals()))
		}

		if !slot.Bypassed() {
			ctx.Writer = slot.writer
			start := time.Now()
			faulted := runSlot(slot, buf, ctx)
			elapsed := time.Since(start).Nanoseconds()
			slot.Profiling.recordWall(elapsed)
			if elapsed > budgetNanos {
				slot.Profiling.overBudgetCount.Add(1)
			}
			if faulted {
				slot.autoBypassed.Store(true)
				slot.Profiling.faultCount.Add(1)
				slot.PostMeter.Zero()
			} else {
				slot.PostMeter.Process(buf)
			}
		} else {
			slot.PostMeter.Process(buf)
		}

		if slot.ProducerIndex >= 0 {
			if prod, ok := slot.Plugin.(plugin.Producer); ok {
				ctx.ProducerMap.SetProducer(prod.ProducerSignals(), slot.ProducerIndex)
			}
		}

		cumulativeLatency += slot.Plugin.LatencySamples()
	}

	ctx.SampleTime = int64(ctx.SampleClock) - int64(cumulativeLatency)
}

// runSlot calls the plugin's Process entry, isolating any panic as a
// recoverable runtime fault and checking for non-finite output (spec §4.1
// "Failure semantics", §7 "Runtime plugin faults"). It must not allocate
// or format strings on the success path; the recover path is, by
// construction, off the steady-state path and only ever runs once per
// faulting plugin before that plugin is auto-bypassed.
func runSlot(slot *Slot, buf []float32, ctx *plugin.Context) (faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			faulted = true
		}
	}()

	slot.Plugin.Process(buf, ctx)

	for _, s := range buf {
		if isNonFinite(s) {
			return true
		}
	}
	return false
}

func isNonFinite(f float32) bool {
	return f != f || f > maxFinite || f < -maxFinite
}

const maxFinite = 3.4e38
