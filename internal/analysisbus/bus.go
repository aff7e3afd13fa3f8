// Package analysisbus implements the in-chain lateral data plane (spec
// §2 item 4, §4.3): a per-producer, per-signal time-indexed ring-buffer
// grid. Writers at in-chain positions; readers by sample-time lookup.
//
// This is the one genuinely novel piece of HotMic relative to the
// teacher: the teacher has nothing resembling a lateral sideband bus.
// Its storage is still grounded on the teacher's buffer-pool discipline
// (ringbuf.FloatRing, itself grounded on audio.VoiceActivityDetector's
// sync.Pool buffers) and its producer/consumer vocabulary is grounded on
// transcriber.Transcriber's capability-interface shape.
package analysisbus

import "github.com/hotmic/engine/internal/ringbuf"

// Bus is producer_count x signal_count ring buffers of floats (spec §3
// "Analysis signal bus").
type Bus struct {
	rings         []*ringbuf.FloatRing // flattened [producer*signalCount + signal]
	producerCount int
	capacity      int
}

// NewBus allocates a bus sized for producerCount producers over the
// closed signal set, with capacity rounded up to a power of two >=
// windowSamples. Must be called off the audio thread (spec §4.8); the
// engine (re)allocates a bus at chain-rebuild time (spec §3 lifecycles).
func NewBus(producerCount, windowSamples int) *Bus {
	if producerCount < 1 {
		producerCount = 1
	}
	cap := ringbuf.NextPow2(windowSamples)
	rings := make([]*ringbuf.FloatRing, producerCount*int(SignalCount))
	for i := range rings {
		rings[i] = ringbuf.NewFloatRing(cap)
	}
	return &Bus{rings: rings, producerCount: producerCount, capacity: cap}
}

// ProducerCount returns the number of producer slots this bus was sized
// for.
func (b *Bus) ProducerCount() int { return b.producerCount }

// Capacity returns the ring capacity in samples (a power of two).
func (b *Bus) Capacity() int { return b.capacity }

func (b *Bus) ring(producerIndex int, s Signal) *ringbuf.FloatRing {
	return b.rings[producerIndex*int(SignalCount)+int(s)]
}

// Writer is a typed handle bound to one producer index and its
// allowed-signals mask (spec §4.3 "Write contract"). A chain slot obtains
// one Writer when it is recognized as a Producer and reuses it for the
// lifetime of the chain; it allocates nothing per block.
type Writer struct {
	bus           *Bus
	producerIndex int
	allowed       Mask
}

// NewWriter binds a writer to a producer index and its declared signal
// mask.
func (b *Bus) NewWriter(producerIndex int, allowed Mask) *Writer {
	return &Writer{bus: b, producerIndex: producerIndex, allowed: allowed}
}

// Write stores v for signal at sampleTime. Writes outside the declared
// mask, or with a negative sample time, are silently dropped (spec §4.3:
// "cheap guard against mis-wiring"; negative sample times are dropped).
func (w *Writer) Write(s Signal, sampleTime int64, v float32) {
	if !w.allowed.Has(s) || sampleTime < 0 {
		return
	}
	w.bus.ring(w.producerIndex, s).Write(sampleTime, v)
}

// ReadSample returns the stored float for signal at sampleTime via the
// producer indicated by producerMap, or 0 if no producer is mapped (spec
// §4.3 "Read contract": no freshness check, stale reads preferred to
// stalls).
func (b *Bus) ReadSample(producerMap ProducerMap, s Signal, sampleTime int64) float32 {
	idx := producerMap[s]
	if idx < 0 {
		return 0
	}
	return b.ring(int(idx), s).Read(sampleTime)
}

// ProducerMap maps each signal to the producer index of the nearest
// upstream producer, or -1 if none (spec §4.3 "Read contract"). Recomputed
// as the chain is walked; see package chain.
type ProducerMap [SignalCount]int32

// NewProducerMap returns a map with every entry set to "no producer".
func NewProducerMap() ProducerMap {
	var m ProducerMap
	m.Reset()
	return m
}

// Reset clears every entry back to -1.
func (m *ProducerMap) Reset() {
	for i := range m {
		m[i] = -1
	}
}

// SetProducer records that producerIndex is now the nearest upstream
// producer for every signal in mask.
func (m *ProducerMap) SetProducer(mask Mask, producerIndex int) {
	for s := Signal(0); s < SignalCount; s++ {
		if mask.Has(s) {
			m[s] = int32(producerIndex)
		}
	}
}

// Block clears every signal in mask back to "no producer" (spec §4.3
// "Blocker contract": downstream consumers see -1 even if an earlier
// producer exists).
func (m *ProducerMap) Block(mask Mask) {
	for s := Signal(0); s < SignalCount; s++ {
		if mask.Has(s) {
			m[s] = -1
		}
	}
}

// Available reports whether every signal in mask currently has an
// upstream producer mapped (spec §4.3 "Read contract" capability list:
// consumer "mask + set_availability(bool)"). The chain walk calls this
// once per consumer slot per block so a Consumer plugin can adapt its
// own processing when the signals it needs aren't being produced this
// block, rather than silently reading stale zeros.
func (m ProducerMap) Available(mask Mask) bool {
	for s := Signal(0); s < SignalCount; s++ {
		if mask.Has(s) && m[s] < 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy, used when a capture record needs its own
// snapshot of the map as of the moment it was taken (spec §4.6 capture
// record "producer_map_snapshot").
func (m ProducerMap) Clone() ProducerMap {
	return m
}
