// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the livedesk console for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/starford/livedesk/internal/console"
	"github.com/starford/livedesk/internal/logbuf"
	"github.com/starford/livedesk/internal/settings"
)

// SettingsURI is the resource holding the current settings as YAML.
const SettingsURI = "livedesk://settings"

// Server wraps the MCP server with the console tools.
type Server struct {
	mcp  *server.MCPServer
	sess *console.Session
}

// New creates a new MCP server with all console tools registered.
func New(sess *console.Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"livedesk",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_messages",
		mcp.WithDescription("List the rows of the message panel, newest first."),
	), s.listMessages)

	s.mcp.AddTool(mcp.NewTool("post_message",
		mcp.WithDescription("Append a row to the message panel."),
		mcp.WithString("level", mcp.Required(), mcp.Description("Severity"),
			mcp.Enum("TRACE", "DEBUG", "INFO", "WARN", "ERROR", "CRITICAL")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), s.postMessage)

	s.mcp.AddTool(mcp.NewTool("delete_message",
		mcp.WithDescription("Remove one row from the message panel."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Row id (msg_...)")),
	), s.deleteMessage)

	s.mcp.AddTool(mcp.NewTool("clear_messages",
		mcp.WithDescription("Remove every row from the message panel."),
	), s.clearMessages)

	s.mcp.AddTool(mcp.NewTool("beacon_status",
		mcp.WithDescription("Current beacon status text and whether it reports an error."),
	), s.beaconStatus)

	s.mcp.AddTool(mcp.NewTool("toggle_loop",
		mcp.WithDescription("Enable or disable one of the polling loops. Returns the new state."),
		mcp.WithString("loop", mcp.Required(), mcp.Description("Loop name"),
			mcp.Enum(settings.Beacon, settings.Messages, settings.Preview)),
	), s.toggleLoop)

	s.mcp.AddTool(mcp.NewTool("get_settings",
		mcp.WithDescription("Return every console setting grouped by category. "+
			"Read the settings guide resource for the meaning of each key."),
	), s.getSettings)

	s.mcp.AddTool(mcp.NewTool("set_setting",
		mcp.WithDescription("Change one console setting. Booleans for switches, positive integers otherwise."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Setting key, <category>.<attribute> (e.g. messages.maxShow)")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New value: true/false for switches, a positive integer otherwise")),
	), s.setSetting)

	s.mcp.AddResource(
		mcp.NewResource(SettingsURI, "Console Settings",
			mcp.WithResourceDescription("Current console settings as YAML."),
			mcp.WithMIMEType("application/yaml"),
		),
		s.readSettingsResource,
	)

	s.mcp.AddResource(
		mcp.NewResource(GuideURI, "Settings Guide",
			mcp.WithResourceDescription("Meaning, type and default of every console setting."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.Buffer().Rows())
}

func (s *Server) postMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireString("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	row, ok := s.sess.Post(logbuf.ParseLevel(level), text)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("message already shown: %s", row.ID)), nil
	}
	return jsonResult(row)
}

func (s *Server) deleteMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.sess.Buffer().Remove(id) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) clearMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := s.sess.Buffer().Len()
	s.sess.Buffer().Clear()
	return mcp.NewToolResultText(fmt.Sprintf("cleared: %d", n)), nil
}

func (s *Server) beaconStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.BeaconStatus())
}

func (s *Server) toggleLoop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("loop")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	active, err := s.sess.ToggleLoop(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", name, state)), nil
}

func (s *Server) getSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.Settings().Snapshot())
}

func (s *Server) setSetting(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, ok := req.GetArguments()["value"]
	if !ok {
		return mcp.NewToolResultError("required argument \"value\" not found"), nil
	}
	if err := s.sess.Settings().SaveKey(key, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", key)), nil
}

func (s *Server) readSettingsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := yaml.Marshal(s.sess.Settings().Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SettingsURI,
			MIMEType: "application/yaml",
			Text:     string(out),
		},
	}, nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      GuideURI,
			MIMEType: "text/markdown",
			Text:     SettingsGuide,
		},
	}, nil
}
