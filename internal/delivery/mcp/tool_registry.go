package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/FreePeak/database-mcp-server/internal/config"
	"github.com/FreePeak/database-mcp-server/internal/logger"
)

// ServerName is the implementation name announced to clients
const ServerName = "database-mcp-server"

const instructions = `Call list_sources to see the configured databases, connect_db to open a
connection and pass the returned connection_id to the other tools. Close
connections you no longer need with close_connection.`

// NewServer creates the MCP server with tool support enabled
func NewServer(version string) *server.MCPServer {
	return server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithLogging(),
		server.WithInstructions(instructions),
	)
}

// ToolRegistry structure to handle tool registration
type ToolRegistry struct {
	server  *ServerWrapper
	factory *ToolTypeFactory
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry(mcpServer *server.MCPServer) *ToolRegistry {
	return &ToolRegistry{
		server:  NewServerWrapper(mcpServer),
		factory: NewToolTypeFactory(),
	}
}

// RegisterAllTools registers the built-in tools and the configured tools of
// toolset (every configured tool when toolset is empty).
func (tr *ToolRegistry) RegisterAllTools(useCase UseCaseProvider, tools *config.ToolsConfig, toolset string) error {
	for _, toolType := range tr.factory.GetAllToolTypes() {
		tr.server.AddTool(toolType, useCase)
	}

	configured, err := tools.ToolsFor(toolset)
	if err != nil {
		return err
	}

	for _, tool := range configured {
		if _, builtin := tr.factory.GetToolType(tool.Name); builtin {
			logger.Warn("Configured tool '%s' clashes with a built-in tool, skipping", tool.Name)
			continue
		}
		tr.server.AddTool(NewConfiguredTool(tool), useCase)
	}

	logger.Info("Registered %d tools (%d configured)", len(tr.server.ToolNames()), len(configured))
	return nil
}

// ToolNames returns the names of every registered tool
func (tr *ToolRegistry) ToolNames() []string {
	return tr.server.ToolNames()
}
