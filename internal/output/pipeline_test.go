package output

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/channelstrip"
	"github.com/hotmic/engine/internal/plugin"
	"github.com/hotmic/engine/internal/ringbuf"
	"github.com/hotmic/engine/internal/routing"
)

const (
	testSampleRate = 48000.0
	testBlockSize  = 64
)

func newTestPipeline(t *testing.T, ids ...int) (*Pipeline, []*Channel) {
	t.Helper()
	p := New(Config{SampleRate: testSampleRate, BlockSize: testBlockSize, ParamQueue: 16, CaptureCap: 4})

	channels := make([]*Channel, 0, len(ids))
	order := make([]int, 0, len(ids))
	for _, id := range ids {
		ch := chain.New(testSampleRate, testBlockSize)
		strip := channelstrip.New(id, ch, channelstrip.Config{SampleRate: testSampleRate, BlockSize: testBlockSize})
		oc := NewChannel(id, strip, plugin.SendBoth, 0, testSampleRate, testBlockSize)
		p.AddChannel(oc)
		channels = append(channels, oc)
		order = append(order, id)
	}
	p.SetOrder(routing.Result{Order: order})
	return p, channels
}

func TestSampleClockAdvancesByBlockSizeEveryCallback(t *testing.T) {
	p, _ := newTestPipeline(t, 1)
	master := make([]float32, 2*testBlockSize)

	var last uint64
	for i := 0; i < 4; i++ {
		p.Process(master, int64(1e9))
		clock := p.SampleClock()
		if i > 0 {
			assert.Equal(t, last+uint64(testBlockSize), clock)
		}
		last = clock
	}
}

func TestMutedChannelContributesNothingToTheMasterBus(t *testing.T) {
	p, channels := newTestPipeline(t, 1, 2)
	channels[0].Strip.SetInputGain(1)
	channels[1].Strip.SetInputGain(1)
	channels[1].Strip.SetMuted(true)

	ringA := ringbuf.NewSampleRing(testBlockSize)
	ringB := ringbuf.NewSampleRing(testBlockSize)
	input := make([]float32, testBlockSize)
	for i := range input {
		input[i] = 1
	}
	ringA.Push(input)
	ringB.Push(input)
	channels[0].SetInputRing(ringA)
	channels[1].SetInputRing(ringB)

	master := make([]float32, 2*testBlockSize)
	p.Process(master, int64(1e9))

	for _, v := range channels[1].buf {
		assert.Equal(t, float32(0), v, "a muted channel's output buffer must be silent")
	}
	for _, v := range channels[0].buf {
		assert.NotEqual(t, float32(0), v, "the unmuted channel must still pass its input through")
	}
	// With both channels centered (equal-power, pan=0) the master bus
	// must carry only channel 1's contribution once channel 2 is muted.
	for i := 0; i < testBlockSize; i++ {
		left, right := master[2*i], master[2*i+1]
		assert.InDelta(t, channels[0].buf[i]*float32(math.Sqrt2)/2, left, 1e-5)
		assert.InDelta(t, channels[0].buf[i]*float32(math.Sqrt2)/2, right, 1e-5)
	}
}

// TestProcessAllocatesNothingOnTheAudioThread is the zero-allocation
// property spec §8 calls out directly ("No allocation in the hot path"):
// once a pipeline and its channels are fully constructed and warmed up,
// repeated Process calls must not allocate (spec §4.8, §9).
func TestProcessAllocatesNothingOnTheAudioThread(t *testing.T) {
	p, _ := newTestPipeline(t, 1, 2, 3)
	master := make([]float32, 2*testBlockSize)

	// Warm up: the first couple of calls may still touch lazily-sized
	// internal slices.
	for i := 0; i < 4; i++ {
		p.Process(master, int64(1e9))
	}

	allocs := testing.AllocsPerRun(20, func() {
		p.Process(master, int64(1e9))
	})
	assert.Zero(t, allocs, "Pipeline.Process must not allocate on the audio thread")
}

func TestRoutingContextSlotsAreClearedNotReallocatedEachBlock(t *testing.T) {
	p, channels := newTestPipeline(t, 1, 2)
	master := make([]float32, 2*testBlockSize)

	slotBefore := p.routingCtx.Channels[channels[0].ID]
	p.Process(master, int64(1e9))
	slotAfter := p.routingCtx.Channels[channels[0].ID]

	assert.Same(t, slotBefore, slotAfter, "a channel's routing slot must be the same object every block")
	assert.True(t, slotAfter.Ready, "a channel's slot must be marked ready again once it finishes its block")
	assert.Same(t, &channels[0].buf[0], &slotAfter.Output[0], "a channel's slot output must alias its own buffer, never a copy")
}
