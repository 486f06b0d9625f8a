package mcp

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FreePeak/database-mcp-server/internal/logger"
)

// ServerWrapper adds ToolType based registration on top of server.MCPServer
type ServerWrapper struct {
	mcpServer *server.MCPServer

	mu    sync.Mutex
	names map[string]struct{}
}

// NewServerWrapper creates a new ServerWrapper
func NewServerWrapper(mcpServer *server.MCPServer) *ServerWrapper {
	return &ServerWrapper{
		mcpServer: mcpServer,
		names:     make(map[string]struct{}),
	}
}

// AddTool registers a tool type. Handler errors become tool error results
// rather than JSON-RPC errors.
func (sw *ServerWrapper) AddTool(toolType ToolType, useCase UseCaseProvider) {
	tool := toolType.CreateTool()
	logger.Debug("Adding tool: %s", tool.Name)

	sw.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, err := toolType.HandleRequest(ctx, request, useCase)
		if err != nil {
			logger.Debug("Tool %s failed: %v", tool.Name, err)
			return FromError(err), nil
		}
		return FormatResponse(payload), nil
	})

	sw.mu.Lock()
	sw.names[tool.Name] = struct{}{}
	sw.mu.Unlock()
}

// ToolNames returns the names of the registered tools, sorted
func (sw *ServerWrapper) ToolNames() []string {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	names := make([]string, 0, len(sw.names))
	for name := range sw.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
