package plugins

import "github.com/hotmic/engine/internal/plugin"

// TypeOutputSend is the type name for OutputSend in graph.Factory.Create.
const TypeOutputSend = "output_send"

// OutputSend is a terminal routing plugin: it does not touch the audio
// in Process at all, it only declares which side of the stereo bus its
// channel's output should land on (spec §4.5 step 4 "Send mode"). The
// output pipeline reads this declaration, not the plugin's Process
// output, to decide Left/Right/Both placement and equal-power panning.
type OutputSend struct {
	id   string
	mode plugin.SendMode
}

// NewOutputSend constructs an output-send plugin defaulting to Both
// (center, equal-power split).
func NewOutputSend() *OutputSend { return &OutputSend{id: "output_send", mode: plugin.SendBoth} }

func (o *OutputSend) ID() string          { return o.id }
func (o *OutputSend) Name() string        { return "Output Send" }
func (o *OutputSend) LatencySamples() int { return 0 }

func (o *OutputSend) Parameters() []plugin.Param {
	return []plugin.Param{
		{Index: 0, Name: "send_mode", Min: 0, Max: 2, Default: float32(plugin.SendBoth)},
	}
}

func (o *OutputSend) SetParameter(index int, value float32) {
	if index != 0 {
		return
	}
	switch plugin.SendMode(value) {
	case plugin.SendLeft:
		o.mode = plugin.SendLeft
	case plugin.SendRight:
		o.mode = plugin.SendRight
	default:
		o.mode = plugin.SendBoth
	}
}

func (o *OutputSend) Initialize(sampleRate, blockSize int) {}
func (o *OutputSend) Dispose()                              {}
func (o *OutputSend) Process(buf []float32, ctx *plugin.Context) {}

// SendMode implements plugin.ChannelOutputEndpoint.
func (o *OutputSend) SendMode() plugin.SendMode { return o.mode }

func (o *OutputSend) GetState() []byte      { return nil }
func (o *OutputSend) SetState(state []byte) {}
