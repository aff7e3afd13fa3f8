package plugins

import (
	"math"

	"github.com/hotmic/engine/internal/analysisbus"
	"github.com/hotmic/engine/internal/plugin"
)

// TypeSpeechGate is the type name for SpeechGate in graph.Factory.Create.
const TypeSpeechGate = "speech_gate"

// SpeechGate is a Consumer plugin attenuating its channel whenever no
// upstream producer reports speech presence (spec §4.3 "Read contract").
// A missing producer (no upstream SpeechPresence plugin in this chain
// yet, or one placed downstream) leaves ctx.ProducerMap[signal] at -1;
// SpeechGate treats that as "pass through unattenuated" rather than
// "always gated", matching the read contract's "no producer mapped ->
// read returns 0" only applying to the raw value, not to availability.
//
// Grounded on intelligent_vad.go's energy-drop/silence-duration gating
// logic, replacing its own duration bookkeeping with a read of the
// SpeechPresence signal another plugin already computed.
type SpeechGate struct {
	id          string
	attenDB     float32
	attenLinear float32
	available   bool
}

// NewSpeechGate constructs a gate attenuating by 18dB during silence.
func NewSpeechGate() *SpeechGate {
	g := &SpeechGate{id: "speech_gate", attenDB: -18}
	g.SetParameter(0, g.attenDB)
	return g
}

func (g *SpeechGate) ID() string          { return g.id }
func (g *SpeechGate) Name() string        { return "Speech Gate" }
func (g *SpeechGate) LatencySamples() int { return 0 }

func (g *SpeechGate) Parameters() []plugin.Param {
	return []plugin.Param{
		{Index: 0, Name: "attenuation_db", Min: -60, Max: 0, Default: -18, Unit: "dB"},
	}
}

func (g *SpeechGate) SetParameter(index int, value float32) {
	if index != 0 {
		return
	}
	g.attenDB = value
	g.attenLinear = dbToLinear(value)
}

func (g *SpeechGate) Initialize(sampleRate, blockSize int) {}
func (g *SpeechGate) Dispose()                             {}

// ConsumerSignals declares the read capability (spec §4.3).
func (g *SpeechGate) ConsumerSignals() analysisbus.Mask {
	return analysisbus.MaskOf(analysisbus.SignalSpeechPresence)
}

// SetAvailability is called by the chain walk to report whether any
// upstream producer currently maps SignalSpeechPresence.
func (g *SpeechGate) SetAvailability(available bool) { g.available = available }

func (g *SpeechGate) Process(buf []float32, ctx *plugin.Context) {
	if !g.available || ctx.Bus == nil {
		return
	}
	presence := ctx.Bus.ReadSample(ctx.ProducerMap, analysisbus.SignalSpeechPresence, ctx.SampleTime)
	if presence > 0.5 {
		return
	}
	for i, s := range buf {
		buf[i] = s * g.attenLinear
	}
}

func (g *SpeechGate) GetState() []byte      { return nil }
func (g *SpeechGate) SetState(state []byte) {}

func dbToLinear(db float32) float32 {
	if db <= -60 {
		return 0
	}
	return float32(math.Pow(10, float64(db)/20))
}
