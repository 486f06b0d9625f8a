package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// FormatResponse renders a tool payload as indented JSON text
func FormatResponse(payload interface{}) *mcp.CallToolResult {
	if payload == nil {
		payload = map[string]interface{}{"success": true}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return FromError(fmt.Errorf("failed to encode result: %w", err))
	}
	return mcp.NewToolResultText(string(data))
}

// FromError renders an error as a tool error result. The text is still a JSON
// object so clients can parse success and error uniformly.
func FromError(err error) *mcp.CallToolResult {
	data, marshalErr := json.MarshalIndent(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}, "", "  ")
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}
