// Package config implements the persisted state layout (spec §6
// "Persisted state layout"): per-channel and global session state,
// loaded and saved as YAML.
//
// Grounded on the teacher's own .env/config loading (cmd/discord-voice-mcp's
// use of joho/godotenv for process config) generalized to a structured,
// versioned session file; the YAML codec choice is enrichment drawn
// from the wider example pack, which favors yaml.v3 for structured
// config over hand-rolled JSON or .env parsing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PluginEntry is one persisted plugin slot (spec §6).
type PluginEntry struct {
	InstanceID int                `yaml:"instance_id"`
	Type       string             `yaml:"type"`
	IsBypassed bool               `yaml:"is_bypassed"`
	PresetName string             `yaml:"preset_name,omitempty"`
	Parameters map[string]float32 `yaml:"parameters,omitempty"`
	State      []byte             `yaml:"state,omitempty"`
}

// ContainerEntry is one persisted container (spec §6).
type ContainerEntry struct {
	ID                int    `yaml:"id"`
	Name              string `yaml:"name"`
	Bypassed          bool   `yaml:"bypassed"`
	PluginInstanceIDs []int  `yaml:"plugin_instance_ids"`
}

// Channel is one channel's full persisted state (spec §6).
type Channel struct {
	Name          string           `yaml:"name"`
	InputGainDB   float32          `yaml:"input_gain_db"`
	OutputGainDB  float32          `yaml:"output_gain_db"`
	Muted         bool             `yaml:"muted"`
	Soloed        bool             `yaml:"soloed"`
	Plugins       []PluginEntry    `yaml:"plugins"`
	Containers    []ContainerEntry `yaml:"containers"`
}

// Global is the session-wide persisted state (spec §6).
type Global struct {
	SampleRate    float64 `yaml:"sample_rate"`
	BlockSize     int     `yaml:"block_size"`
	Master        Master  `yaml:"master"`
	Inputs        []Input `yaml:"inputs"`
	OutputDevice  string  `yaml:"output_device"`
	MonitorDevice string  `yaml:"monitor_device"`
}

// Master carries the persisted master-bus toggles.
type Master struct {
	Mute   bool `yaml:"mute"`
	Stereo bool `yaml:"stereo"`
}

// Input describes one persisted input device binding.
type Input struct {
	ChannelID int    `yaml:"channel_id"`
	Device    string `yaml:"device"`
}

// Session is the full persisted document: global settings plus every
// channel, keyed by channel id.
type Session struct {
	Global   Global           `yaml:"global"`
	Channels map[int]Channel  `yaml:"channels"`
}

// Load reads and parses a session document from path.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if s.Channels == nil {
		s.Channels = make(map[int]Channel)
	}
	return &s, nil
}

// Save writes the session document to path as YAML.
func Save(path string, s *Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Default returns a minimal, valid single-channel session, used on
// first run or when no session file exists yet.
func Default(sampleRate float64, blockSize int) *Session {
	return &Session{
		Global: Global{
			SampleRate: sampleRate,
			BlockSize:  blockSize,
		},
		Channels: map[int]Channel{
			1: {Name: "Channel 1", OutputGainDB: 0},
		},
	}
}
