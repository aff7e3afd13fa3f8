// Command hotmic-bench microbenchmarks the hot-path primitives the
// audio thread leans on: the parameter bridge, the analysis bus, the
// ring buffers, and a full channel-strip block walk.
//
// Grounded on cmd/benchmark's shape: a named list of self-contained
// benchmark functions, each timing a fixed iteration count and
// reporting ops/sec plus allocation delta, closed out with a summary
// table.
package main

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/channelstrip"
	"github.com/hotmic/engine/internal/lockfree"
	"github.com/hotmic/engine/internal/plugin"
	"github.com/hotmic/engine/internal/plugins"
	"github.com/hotmic/engine/internal/ringbuf"
)

type result struct {
	name       string
	duration   time.Duration
	opsPerSec  float64
	memUsed    uint64
	goroutines int
	details    string
}

func main() {
	fmt.Println("HotMic Engine - Hot-Path Benchmarks")
	fmt.Println(strings.Repeat("=", 60))

	var results []result

	fmt.Println("\n1. Parameter Bridge Throughput")
	results = append(results, benchmarkParamQueue())

	fmt.Println("\n2. Analysis Bus Write/Read Throughput")
	results = append(results, benchmarkAnalysisBus())

	fmt.Println("\n3. Ring Buffer Push/Pop Throughput")
	results = append(results, benchmarkRingBuffer())

	fmt.Println("\n4. Channel Strip Block Processing")
	results = append(results, benchmarkChannelStrip())

	printSummary(results)
}

func benchmarkParamQueue() result {
	const iterations = 1_000_000
	q := lockfree.NewParamQueue(4096)

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	submitted := 0
	for i := 0; i < iterations; i++ {
		target := lockfree.ParamTarget{Kind: lockfree.ParamKindChannelInputGain, ChannelID: i % 8}
		if q.Submit(lockfree.ParamChange{Target: target, Value: float32(i % 100)}) {
			submitted++
		}
		if i%256 == 0 {
			q.DrainInto(func(lockfree.ParamChange) {})
		}
	}
	q.DrainInto(func(lockfree.ParamChange) {})
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations) / duration.Seconds()
	fmt.Printf("  Submitted %d/%d changes in %v (%.0f dropped)\n", submitted, iterations, duration, float64(iterations-submitted))
	fmt.Printf("  Submits/sec: %.2f\n", opsPerSec)

	return result{
		name:       "Parameter Bridge",
		duration:   duration,
		opsPerSec:  opsPerSec,
		memUsed:    memAfter.Alloc - memBefore.Alloc,
		goroutines: runtime.NumGoroutine(),
		details:    fmt.Sprintf("%d submitted, %d dropped", submitted, iterations-submitted),
	}
}

func benchmarkAnalysisBus() result {
	const iterations = 500_000
	bus := analysisbus.NewBus(2, 4096)
	writer := bus.NewWriter(1, analysisbus.MaskOf(analysisbus.SignalSpeechPresence))
	var pm analysisbus.ProducerMap
	pm.Reset()
	pm.SetProducer(analysisbus.MaskOf(analysisbus.SignalSpeechPresence), 1)

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	var sum float32
	for i := 0; i < iterations; i++ {
		writer.Write(analysisbus.SignalSpeechPresence, int64(i), float32(i%2))
		sum += bus.ReadSample(pm, analysisbus.SignalSpeechPresence, int64(i))
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations*2) / duration.Seconds()
	fmt.Printf("  %d write+read pairs in %v (checksum %.0f)\n", iterations, duration, sum)
	fmt.Printf("  Ops/sec: %.2f\n", opsPerSec)

	return result{
		name:       "Analysis Bus",
		duration:   duration,
		opsPerSec:  opsPerSec,
		memUsed:    memAfter.Alloc - memBefore.Alloc,
		goroutines: runtime.NumGoroutine(),
		details:    fmt.Sprintf("%d write+read pairs", iterations),
	}
}

func benchmarkRingBuffer() result {
	const iterations = 200_000
	const blockSize = 512
	ring := ringbuf.NewSampleRing(blockSize * 8)
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for i := range in {
		in[i] = float32(i) / float32(blockSize)
	}

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		ring.Push(in)
		ring.Pop(out)
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations*blockSize) / duration.Seconds()
	fmt.Printf("  %d push+pop cycles of %d samples in %v (%d dropped)\n", iterations, blockSize, duration, ring.Dropped())
	fmt.Printf("  Samples/sec: %.2f\n", opsPerSec)

	return result{
		name:       "Ring Buffer",
		duration:   duration,
		opsPerSec:  opsPerSec,
		memUsed:    memAfter.Alloc - memBefore.Alloc,
		goroutines: runtime.NumGoroutine(),
		details:    fmt.Sprintf("%d cycles, %d samples each", iterations, blockSize),
	}
}

func benchmarkChannelStrip() result {
	const iterations = 20_000
	const sampleRate = 48000.0
	const blockSize = 512

	ch := chain.New(sampleRate, blockSize)
	ch.Insert(0, plugins.NewGain())
	ch.Insert(1, plugins.NewSpeechGate())

	strip := channelstrip.New(1, ch, channelstrip.Config{SampleRate: sampleRate, BlockSize: blockSize})
	strip.SetInputGain(1)
	strip.SetOutputGain(1)

	bus := analysisbus.NewBus(1, 4096)
	ch.RebindAnalysisBus(bus, func(int) int { return -1 })

	buf := make([]float32, blockSize)
	for i := range buf {
		buf[i] = 0.1
	}

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	var pm analysisbus.ProducerMap
	pm.Reset()

	start := time.Now()
	budget := time.Duration(float64(blockSize) / sampleRate * float64(time.Second)).Nanoseconds()
	for i := 0; i < iterations; i++ {
		ctx := &plugin.Context{
			SampleRate:  int(sampleRate),
			BlockSize:   blockSize,
			SampleClock: uint64(i * blockSize),
			SampleTime:  int64(i * blockSize),
			ChannelID:   1,
			Bus:         bus,
			ProducerMap: pm,
		}
		strip.Process(buf, ctx, budget, false)
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations*blockSize) / duration.Seconds()
	fmt.Printf("  %d blocks of %d samples through a 2-plugin chain in %v\n", iterations, blockSize, duration)
	fmt.Printf("  Samples/sec: %.2f (%.1fx real-time)\n", opsPerSec, opsPerSec/sampleRate)

	return result{
		name:       "Channel Strip",
		duration:   duration,
		opsPerSec:  opsPerSec,
		memUsed:    memAfter.Alloc - memBefore.Alloc,
		goroutines: runtime.NumGoroutine(),
		details:    fmt.Sprintf("%d blocks, %.1fx real-time", iterations, opsPerSec/sampleRate),
	}
}

func printSummary(results []result) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	for _, r := range results {
		fmt.Printf("\n%s\n", r.name)
		fmt.Printf("  Duration: %v\n", r.duration)
		fmt.Printf("  Ops/sec: %.2f\n", r.opsPerSec)
		fmt.Printf("  Memory: %.2f MB\n", float64(r.memUsed)/1024/1024)
		fmt.Printf("  Goroutines: %d\n", r.goroutines)
		fmt.Printf("  Details: %s\n", r.details)
	}
}
