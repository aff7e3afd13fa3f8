package plugins

import (
	"fmt"

	"github.com/hotmic/engine/internal/plugin"
)

// Factory constructs plugins by their registered type name, implementing
// graph.Factory (spec §4.2 "load_from_config").
type Factory struct {
	ctors map[string]func() plugin.Plugin
}

// NewFactory returns a factory pre-registered with every plugin type
// this package ships.
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[string]func() plugin.Plugin)}
	f.Register(TypeGain, func() plugin.Plugin { return NewGain() })
	f.Register(TypeSpeechPresence, func() plugin.Plugin { return NewSpeechPresence() })
	f.Register(TypeSpeechGate, func() plugin.Plugin { return NewSpeechGate() })
	f.Register(TypeOutputSend, func() plugin.Plugin { return NewOutputSend() })
	return f
}

// Register adds or overrides a plugin type's constructor.
func (f *Factory) Register(pluginType string, ctor func() plugin.Plugin) {
	f.ctors[pluginType] = ctor
}

// Create builds a new plugin instance by type name.
func (f *Factory) Create(pluginType string) (plugin.Plugin, error) {
	ctor, ok := f.ctors[pluginType]
	if !ok {
		return nil, fmt.Errorf("plugins: unknown plugin type %q", pluginType)
	}
	return ctor(), nil
}
