// Package lockfree provides the audio-thread-safe primitives the rest of
// the engine is built on: a bounded single-producer/single-consumer queue
// of parameter changes, and atomic scalar cells for meter publication.
//
// Both are modeled on the producer/consumer channel plumbing in
// pipeline.TranscriptionQueue (non-blocking send with a drop counter,
// bounded capacity, atomic metrics) — the same shape, aimed at the audio
// callback instead of a worker pool.
package lockfree

import (
	"sync/atomic"
)

// ParamChange is a single parameter update submitted by the UI thread and
// drained by the audio thread at the top of a block. See spec §3 "Parameter
// change" and §4.7.
type ParamChange struct {
	Target    ParamTarget
	Value     float32
	Timestamp uint64 // sample_clock at submission time
}

// ParamTarget is a pre-resolved dispatch handle. The UI thread parses the
// string grammar in spec §6 exactly once (see package param) and only ever
// submits ParamTarget values here — the audio thread never parses strings,
// allocates, or touches a map on its hot path (spec §9 "Parameter paths").
type ParamTarget struct {
	Kind         ParamKind
	ChannelID    int
	InstanceID   int
	ParamIndex   int
	ContainerID  int
}

// ParamKind tags which setter a ParamTarget resolves to.
type ParamKind uint8

const (
	ParamKindChannelInputGain ParamKind = iota
	ParamKindChannelOutputGain
	ParamKindChannelMute
	ParamKindChannelSolo
	ParamKindPluginParam
	ParamKindContainerBypass
	ParamKindMasterMute
	ParamKindMasterStereo
)

// ParamQueue is a bounded SPSC queue: one UI-thread producer, one
// audio-thread consumer. Built on a buffered channel, matching the
// teacher's own queue implementations (pipeline.TranscriptionQueue) —
// Go's channel is the idiomatic wait-free-enough SPSC primitive here;
// a hand-rolled ring buffer would just reimplement what `chan` already
// gives us, and the pack does not show a roll-your-own SPSC ring anywhere
// we could ground one on.
type ParamQueue struct {
	ch      chan ParamChange
	dropped atomic.Int64
}

// NewParamQueue creates a queue with the given bounded capacity.
func NewParamQueue(capacity int) *ParamQueue {
	return &ParamQueue{ch: make(chan ParamChange, capacity)}
}

// Submit is called from the UI thread. It never blocks: on a full queue it
// drops the change and increments the drop counter (spec §4.7, §7
// Back-pressure).
func (q *ParamQueue) Submit(c ParamChange) bool {
	select {
	case q.ch <- c:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// DrainInto is called once per callback, from the audio thread, at the top
// of the block (spec §4.5 step 1). It pulls every currently-queued change
// without blocking and hands each to apply. apply must not allocate.
func (q *ParamQueue) DrainInto(apply func(ParamChange)) int {
	n := 0
	for {
		select {
		case c := <-q.ch:
			apply(c)
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of changes dropped due to a full queue.
func (q *ParamQueue) Dropped() int64 {
	return q.dropped.Load()
}
