package config

import "github.com/hotmic/engine/internal/graph"

// ToGraphConfig converts a persisted Channel's plugin/container lists
// into the shapes package graph's LoadFromConfig expects.
func (c Channel) ToGraphConfig() ([]*graph.PluginConfigEntry, []*graph.ContainerConfig) {
	plugins := make([]*graph.PluginConfigEntry, len(c.Plugins))
	for i, p := range c.Plugins {
		plugins[i] = &graph.PluginConfigEntry{
			InstanceID: p.InstanceID,
			Type:       p.Type,
			Bypassed:   p.IsBypassed,
			PresetName: p.PresetName,
			Parameters: p.Parameters,
			State:      p.State,
		}
	}

	containers := make([]*graph.ContainerConfig, len(c.Containers))
	for i, cc := range c.Containers {
		containers[i] = &graph.ContainerConfig{
			ID:          cc.ID,
			Name:        cc.Name,
			Bypassed:    cc.Bypassed,
			InstanceIDs: cc.PluginInstanceIDs,
		}
	}
	return plugins, containers
}

// FromGraph captures a graph's current plugin/container state back into
// persisted form (spec §4.2: config mirrors chain state after every
// edit, ready to be saved at any time).
func FromGraph(g *graph.Graph) ([]PluginEntry, []ContainerEntry) {
	cfg := g.Config()
	plugins := make([]PluginEntry, len(cfg))
	for i, e := range cfg {
		plugins[i] = PluginEntry{
			InstanceID: e.InstanceID,
			Type:       e.Type,
			IsBypassed: e.Bypassed,
			PresetName: e.PresetName,
			Parameters: e.Parameters,
			State:      e.State,
		}
	}

	containers := g.Containers()
	out := make([]ContainerEntry, len(containers))
	for i, c := range containers {
		out[i] = ContainerEntry{
			ID:                c.ID,
			Name:              c.Name,
			Bypassed:          c.Bypassed,
			PluginInstanceIDs: c.Members,
		}
	}
	return plugins, out
}
