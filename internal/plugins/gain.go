// Package plugins supplies the concrete plugin.Plugin implementations
// HotMic ships with, plus the graph.Factory that constructs them by
// type name (spec §6 "Plugin contract", §4.2 "load_from_config").
//
// Grounded on internal/audio.Processor's small set of concrete
// processing stages, generalized from a fixed Discord pipeline stage to
// an arbitrary named, user-insertable plugin.
package plugins

import (
	"math"

	"github.com/hotmic/engine/internal/plugin"
)

// TypeGain is the type name for Gain in graph.Factory.Create.
const TypeGain = "gain"

// Gain is the simplest possible plugin: a single parameter, linear
// scale applied in place. It carries no analysis-bus capability.
type Gain struct {
	id         string
	gainLinear float32
}

// NewGain constructs a unity-gain plugin instance.
func NewGain() *Gain { return &Gain{id: "gain", gainLinear: 1} }

func (g *Gain) ID() string            { return g.id }
func (g *Gain) Name() string          { return "Gain" }
func (g *Gain) LatencySamples() int   { return 0 }

func (g *Gain) Parameters() []plugin.Param {
	return []plugin.Param{
		{Index: 0, Name: "gain_db", Min: -60, Max: 12, Default: 0, Unit: "dB"},
	}
}

func (g *Gain) SetParameter(index int, value float32) {
	if index == 0 {
		g.gainLinear = float32(math.Pow(10, float64(value)/20))
	}
}

func (g *Gain) Initialize(sampleRate, blockSize int) {}
func (g *Gain) Dispose()                             {}

func (g *Gain) Process(buf []float32, ctx *plugin.Context) {
	gain := g.gainLinear
	for i, s := range buf {
		buf[i] = s * gain
	}
}

func (g *Gain) GetState() []byte    { return nil }
func (g *Gain) SetState(state []byte) {}
