package chain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/plugin"
)

// mockPlugin is a minimal plugin.Plugin double, in the teacher's
// mock.Mock-embedded-in-the-test-file style (audio.MockTranscriber):
// no production code depends on it, it exists purely to let a test
// assert Process was called, in what order, and with what side effect.
type mockPlugin struct {
	mock.Mock
	id string
}

func newMockPlugin(id string) *mockPlugin { return &mockPlugin{id: id} }

func (p *mockPlugin) ID() string                  { return p.id }
func (p *mockPlugin) Name() string                { return p.id }
func (p *mockPlugin) LatencySamples() int         { return 0 }
func (p *mockPlugin) Parameters() []plugin.Param  { return nil }
func (p *mockPlugin) SetParameter(int, float32)   {}
func (p *mockPlugin) Initialize(int, int)         {}
func (p *mockPlugin) Dispose()                    {}
func (p *mockPlugin) GetState() []byte            { return nil }
func (p *mockPlugin) SetState([]byte)             {}
func (p *mockPlugin) Process(buf []float32, ctx *plugin.Context) {
	p.Called(buf, ctx)
}

// mockProducerPlugin additionally implements plugin.Producer.
type mockProducerPlugin struct {
	mockPlugin
	signals analysisbus.Mask
}

func newMockProducerPlugin(id string, signals analysisbus.Mask) *mockProducerPlugin {
	return &mockProducerPlugin{mockPlugin: mockPlugin{id: id}, signals: signals}
}

func (p *mockProducerPlugin) ProducerSignals() analysisbus.Mask { return p.signals }

// mockConsumerPlugin additionally implements plugin.Consumer.
type mockConsumerPlugin struct {
	mockPlugin
	signals analysisbus.Mask
}

func newMockConsumerPlugin(id string, signals analysisbus.Mask) *mockConsumerPlugin {
	return &mockConsumerPlugin{mockPlugin: mockPlugin{id: id}, signals: signals}
}

func (p *mockConsumerPlugin) ConsumerSignals() analysisbus.Mask { return p.signals }

func (p *mockConsumerPlugin) SetAvailability(available bool) {
	p.Called(available)
}

// mockBlockerPlugin additionally implements plugin.Blocker.
type mockBlockerPlugin struct {
	mockPlugin
	signals analysisbus.Mask
}

func newMockBlockerPlugin(id string, signals analysisbus.Mask) *mockBlockerPlugin {
	return &mockBlockerPlugin{mockPlugin: mockPlugin{id: id}, signals: signals}
}

func (p *mockBlockerPlugin) BlockedSignals() analysisbus.Mask { return p.signals }

func blankContext() *plugin.Context {
	return &plugin.Context{ProducerMap: analysisbus.NewProducerMap()}
}

func TestProcessBlockWalksSlotsInChainOrder(t *testing.T) {
	c := New(48000, 64)
	var order []string

	a := newMockPlugin("a")
	a.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) { order = append(order, "a") }).Return()
	b := newMockPlugin("b")
	b.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) { order = append(order, "b") }).Return()
	cc := newMockPlugin("c")
	cc.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) { order = append(order, "c") }).Return()

	c.Insert(0, a)
	c.Insert(1, b)
	c.Insert(1, cc) // chain is now a, c, b

	buf := make([]float32, 64)
	ctx := blankContext()
	c.ProcessBlock(buf, ctx, int64(1e9))

	assert.Equal(t, []string{"a", "c", "b"}, order)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
	cc.AssertExpectations(t)
}

func TestInstanceIDsAreStableAcrossInsertsAndRemoves(t *testing.T) {
	c := New(48000, 64)
	a := newMockPlugin("a")
	a.On("Process", mock.Anything, mock.Anything).Return()
	b := newMockPlugin("b")
	b.On("Process", mock.Anything, mock.Anything).Return()
	cc := newMockPlugin("c")
	cc.On("Process", mock.Anything, mock.Anything).Return()

	idA := c.Insert(0, a)
	idB := c.Insert(1, b)
	idC := c.Insert(1, cc)

	assert.NotEqual(t, idA, idB)
	assert.NotEqual(t, idB, idC)
	assert.NotEqual(t, idA, idC)

	removed := c.Remove(0) // chain is a, c, b -> removes a
	assert.Equal(t, idA, removed.InstanceID)

	_, idxB := c.LookupByInstanceID(idB)
	_, idxC := c.LookupByInstanceID(idC)
	assert.GreaterOrEqual(t, idxB, 0)
	assert.GreaterOrEqual(t, idxC, 0)

	_, idxA := c.LookupByInstanceID(idA)
	assert.Equal(t, -1, idxA)
}

func TestFaultingPluginIsAutoBypassedAndPostMeterZeroed(t *testing.T) {
	c := New(48000, 64)
	faulty := newMockPlugin("faulty")
	faulty.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("simulated plugin fault")
	}).Return()

	id := c.Insert(0, faulty)

	buf := make([]float32, 64)
	for i := range buf {
		buf[i] = 1
	}
	ctx := blankContext()

	assert.NotPanics(t, func() {
		c.ProcessBlock(buf, ctx, int64(1e9))
	})

	slot, idx := c.LookupByInstanceID(id)
	assert.GreaterOrEqual(t, idx, 0)
	assert.True(t, slot.AutoBypassed())
	assert.True(t, slot.Bypassed())
	assert.Equal(t, float32(0), slot.PostMeter.PeakLinear())
	assert.EqualValues(t, 1, slot.Profiling.FaultCount())
}

func TestNonFiniteOutputAutoBypassesSlot(t *testing.T) {
	c := New(48000, 4)
	bad := newMockPlugin("bad")
	bad.On("Process", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		buf := args.Get(0).([]float32)
		buf[0] = float32(math.Inf(1))
	}).Return()

	id := c.Insert(0, bad)
	buf := make([]float32, 4)
	ctx := blankContext()
	c.ProcessBlock(buf, ctx, int64(1e9))

	slot, _ := c.LookupByInstanceID(id)
	assert.True(t, slot.AutoBypassed())
}

func TestConsumerSeesAvailabilityAfterUpstreamProducer(t *testing.T) {
	c := New(48000, 64)
	signals := analysisbus.MaskOf(analysisbus.SignalSpeechPresence)

	producer := newMockProducerPlugin("producer", signals)
	producer.On("Process", mock.Anything, mock.Anything).Return()
	consumer := newMockConsumerPlugin("consumer", signals)
	consumer.On("Process", mock.Anything, mock.Anything).Return()
	consumer.On("SetAvailability", true).Return()

	c.Insert(0, producer)
	c.Insert(1, consumer)

	bus := analysisbus.NewBus(1, 1024)
	c.RebindAnalysisBus(bus, func(int) int { return 0 })

	buf := make([]float32, 64)
	ctx := &plugin.Context{ProducerMap: analysisbus.NewProducerMap(), Bus: bus}
	c.ProcessBlock(buf, ctx, int64(1e9))

	consumer.AssertExpectations(t)
}

func TestBlockerMasksUpstreamProducerFromDownstreamConsumer(t *testing.T) {
	c := New(48000, 64)
	signals := analysisbus.MaskOf(analysisbus.SignalSpeechPresence)

	producer := newMockProducerPlugin("producer", signals)
	producer.On("Process", mock.Anything, mock.Anything).Return()
	blocker := newMockBlockerPlugin("blocker", signals)
	blocker.On("Process", mock.Anything, mock.Anything).Return()
	consumer := newMockConsumerPlugin("consumer", signals)
	consumer.On("Process", mock.Anything, mock.Anything).Return()
	consumer.On("SetAvailability", false).Return()

	c.Insert(0, producer)
	c.Insert(1, blocker)
	c.Insert(2, consumer)

	bus := analysisbus.NewBus(1, 1024)
	c.RebindAnalysisBus(bus, func(int) int { return 0 })

	buf := make([]float32, 64)
	ctx := &plugin.Context{ProducerMap: analysisbus.NewProducerMap(), Bus: bus}
	c.ProcessBlock(buf, ctx, int64(1e9))

	consumer.AssertExpectations(t)
}

func TestSampleTimeAccountsForCumulativeLatency(t *testing.T) {
	c := New(48000, 64)
	// latencyPlugin reports a fixed latency but otherwise behaves like a
	// passthrough; used to confirm ctx.SampleTime is sample_clock minus
	// the latency accumulated by every earlier slot (spec §4.1 step "d").
	lat := &latencyPlugin{id: "lat", latency: 10}
	c.Insert(0, lat)

	probe := newMockPlugin("probe")
	var sampleTimeSeen int64
	probe.On("Process", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(1).(*plugin.Context)
		sampleTimeSeen = ctx.SampleTime
	}).Return()
	c.Insert(1, probe)

	buf := make([]float32, 64)
	ctx := blankContext()
	ctx.SampleClock = 1000
	c.ProcessBlock(buf, ctx, int64(1e9))

	assert.Equal(t, int64(990), sampleTimeSeen)
}

// latencyPlugin is a bare (non-mock) plugin.Plugin double used only to
// report a fixed processing latency; a mock.Mock isn't needed here since
// nothing asserts on how it was called.
type latencyPlugin struct {
	id      string
	latency int
}

func (p *latencyPlugin) ID() string                 { return p.id }
func (p *latencyPlugin) Name() string                { return p.id }
func (p *latencyPlugin) LatencySamples() int         { return p.latency }
func (p *latencyPlugin) Parameters() []plugin.Param  { return nil }
func (p *latencyPlugin) SetParameter(int, float32)   {}
func (p *latencyPlugin) Initialize(int, int)         {}
func (p *latencyPlugin) Dispose()                    {}
func (p *latencyPlugin) GetState() []byte            { return nil }
func (p *latencyPlugin) SetState([]byte)             {}
func (p *latencyPlugin) Process([]float32, *plugin.Context) {}
