// Package control implements an MCP-based automation surface over the
// engine (spec §9 enrichment: the teacher's MCP front-end is repurposed
// here from "control a Discord voice bot" to "control a running audio
// engine" — set a parameter, insert a plugin, toggle a plugin's bypass,
// query meters, exposed as MCP tools instead of Discord voice-channel
// actions). Removing or moving plugins is not exposed.
//
// Grounded on internal/mcp.Server's tool-registration shape, rebuilt
// against github.com/modelcontextprotocol/go-sdk/mcp directly (the
// teacher's own server.go predates the SDK dependency it later added
// and still hand-rolls JSON-RPC; its own test file already expects the
// SDK-backed shape this package implements).
package control

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/hotmic/engine/internal/engine"
	"github.com/hotmic/engine/internal/param"
)

// Server exposes engine operations as MCP tools.
type Server struct {
	eng       *engine.Engine
	mcpServer *mcp.Server
	log       *logrus.Entry
}

// NewServer builds an MCP server wired to eng's operations.
func NewServer(eng *engine.Engine, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		eng: eng,
		log: log,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "hotmic",
			Version: "0.1.0",
		}, nil),
	}
	s.registerTools()
	return s
}

type setParameterArgs struct {
	Path  string  `json:"path" jsonschema:"parameter target path, e.g. channel1.input_gain"`
	Value float32 `json:"value" jsonschema:"new value"`
}

type insertPluginArgs struct {
	ChannelID  int    `json:"channel_id"`
	PluginType string `json:"plugin_type"`
	AtIndex    int    `json:"at_index"`
}

type bypassPluginArgs struct {
	ChannelID  int  `json:"channel_id"`
	InstanceID int  `json:"instance_id"`
	Bypassed   bool `json:"bypassed"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_parameter",
		Description: "Set a parameter by its target path (channel gain/mute/solo, plugin parameter, container bypass, or master toggle)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args setParameterArgs) (*mcp.CallToolResult, any, error) {
		target, err := param.Parse(args.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("set_parameter: %w", err)
		}
		if !s.eng.SubmitParam(target, args.Value) {
			s.log.WithField("path", args.Path).Warn("parameter queue full, change dropped")
		}
		return &mcp.CallToolResult{}, nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "insert_plugin",
		Description: "Insert a plugin by type name into a channel's chain at the given index",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args insertPluginArgs) (*mcp.CallToolResult, any, error) {
		id, err := s.eng.InsertPlugin(args.ChannelID, args.PluginType, args.AtIndex)
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{}, map[string]int{"instance_id": id}, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_plugin_bypass",
		Description: "Bypass or re-enable a plugin instance",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args bypassPluginArgs) (*mcp.CallToolResult, any, error) {
		if err := s.eng.SetPluginBypass(args.ChannelID, args.InstanceID, args.Bypassed); err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{}, nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_meters",
		Description: "Read the current master peak/RMS/LUFS meter values",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{}, s.eng.MasterMeterSnapshot(), nil
	})
}

// Run serves over stdio until ctx is canceled (matching the teacher's
// own MCP server running for the process lifetime over stdin/stdout).
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP control server started")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
