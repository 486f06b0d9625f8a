package mcp

import (
	"context"
	"errors"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FreePeak/database-mcp-server/internal/config"
)

// ToolType describes one MCP tool: its schema and how a call is served
type ToolType interface {
	// GetName returns the tool name clients call
	GetName() string

	// GetDescription returns the description shown to clients
	GetDescription() string

	// CreateTool builds the tool definition with its input schema
	CreateTool() mcp.Tool

	// HandleRequest serves a call and returns the JSON payload. Returned
	// errors are reported to the client as tool errors.
	HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error)
}

// UseCaseProvider abstracts the database operations behind the tools
type UseCaseProvider interface {
	ConnectDB(ctx context.Context, sourceName string) (map[string]interface{}, error)
	ExecuteSQL(ctx context.Context, connectionID, statement string, params map[string]interface{}) (map[string]interface{}, error)
	CloseConnection(connectionID string) map[string]interface{}
	ListConnections() map[string]interface{}
	ExplainPlan(ctx context.Context, connectionID, statement string) (map[string]interface{}, error)
	ListTables(ctx context.Context, connectionID string) (map[string]interface{}, error)
	GetDatabaseInfo(ctx context.Context, connectionID string) (map[string]interface{}, error)
	ListSources() map[string]interface{}
	DescribeTable(ctx context.Context, connectionID, tableName string) (map[string]interface{}, error)
	ListSchemas(ctx context.Context, connectionID string) (map[string]interface{}, error)
	QueryMetrics(slowOnly bool, limit int, reset bool) map[string]interface{}
	RunTool(ctx context.Context, tool config.Tool, args map[string]interface{}) (map[string]interface{}, error)
}

// BaseToolType provides common functionality for tool types
type BaseToolType struct {
	name        string
	description string
}

// GetName returns the name of the tool type
func (b *BaseToolType) GetName() string {
	return b.name
}

// GetDescription returns a description for the tool type
func (b *BaseToolType) GetDescription() string {
	return b.description
}

// newTool starts a tool definition carrying the base name and description
func (b *BaseToolType) newTool(opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(b.name, append([]mcp.ToolOption{mcp.WithDescription(b.description)}, opts...)...)
}

func connectionIDOption() mcp.ToolOption {
	return mcp.WithString("connection_id",
		mcp.Description("Connection ID returned by connect_db"),
		mcp.Required(),
	)
}

//------------------------------------------------------------------------------
// Connection tools
//------------------------------------------------------------------------------

// ConnectTool opens a connection to a configured source
type ConnectTool struct {
	BaseToolType
}

// NewConnectTool creates the connect_db tool type
func NewConnectTool() *ConnectTool {
	return &ConnectTool{BaseToolType{
		name:        "connect_db",
		description: "Connect to a database source defined in the configuration and return a connection ID",
	}}
}

// CreateTool creates the connect_db tool
func (t *ConnectTool) CreateTool() mcp.Tool {
	return t.newTool(
		mcp.WithString("source_name",
			mcp.Description("Name of the configured source to connect to"),
			mcp.Required(),
		),
	)
}

// HandleRequest handles connect_db requests
func (t *ConnectTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	source, err := request.RequireString("source_name")
	if err != nil {
		return nil, err
	}
	return useCase.ConnectDB(ctx, source)
}

// CloseConnectionTool closes a tracked connection
type CloseConnectionTool struct {
	BaseToolType
}

// NewCloseConnectionTool creates the close_connection tool type
func NewCloseConnectionTool() *CloseConnectionTool {
	return &CloseConnectionTool{BaseToolType{
		name:        "close_connection",
		description: "Close a database connection",
	}}
}

// CreateTool creates the close_connection tool
func (t *CloseConnectionTool) CreateTool() mcp.Tool {
	return t.newTool(connectionIDOption())
}

// HandleRequest handles close_connection requests
func (t *CloseConnectionTool) HandleRequest(_ context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	id, err := request.RequireString("connection_id")
	if err != nil {
		return nil, err
	}
	return useCase.CloseConnection(id), nil
}

// ListConnectionsTool lists tracked connections
type ListConnectionsTool struct {
	BaseToolType
}

// NewListConnectionsTool creates the list_connections tool type
func NewListConnectionsTool() *ListConnectionsTool {
	return &ListConnectionsTool{BaseToolType{
		name:        "list_connections",
		description: "List all active database connections",
	}}
}

// CreateTool creates the list_connections tool
func (t *ListConnectionsTool) CreateTool() mcp.Tool {
	return t.newTool(mcp.WithReadOnlyHintAnnotation(true))
}

// HandleRequest handles list_connections requests
func (t *ListConnectionsTool) HandleRequest(_ context.Context, _ mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	return useCase.ListConnections(), nil
}

// ListSourcesTool lists the configured sources
type ListSourcesTool struct {
	BaseToolType
}

// NewListSourcesTool creates the list_sources tool type
func NewListSourcesTool() *ListSourcesTool {
	return &ListSourcesTool{BaseToolType{
		name:        "list_sources",
		description: "List the database sources available in the configuration",
	}}
}

// CreateTool creates the list_sources tool
func (t *ListSourcesTool) CreateTool() mcp.Tool {
	return t.newTool(mcp.WithReadOnlyHintAnnotation(true))
}

// HandleRequest handles list_sources requests
func (t *ListSourcesTool) HandleRequest(_ context.Context, _ mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	return useCase.ListSources(), nil
}

//------------------------------------------------------------------------------
// Statement tools
//------------------------------------------------------------------------------

// ExecuteSQLTool runs a statement on a connection
type ExecuteSQLTool struct {
	BaseToolType
}

// NewExecuteSQLTool creates the execute_sql tool type
func NewExecuteSQLTool() *ExecuteSQLTool {
	return &ExecuteSQLTool{BaseToolType{
		name:        "execute_sql",
		description: "Execute a SQL statement on a connection. Use :name placeholders with the parameters object. " +
			"When parameters are given, every :word in the statement is read as a placeholder, including inside " +
			"string literals; pass literals containing ':' (such as '10:30') as parameters instead.",
	}}
}

// CreateTool creates the execute_sql tool
func (t *ExecuteSQLTool) CreateTool() mcp.Tool {
	return t.newTool(
		connectionIDOption(),
		mcp.WithString("sql",
			mcp.Description("SQL statement to execute"),
			mcp.Required(),
		),
		mcp.WithObject("parameters",
			mcp.Description("Named parameters for the statement"),
		),
	)
}

// HandleRequest handles execute_sql requests
func (t *ExecuteSQLTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	id, err := request.RequireString("connection_id")
	if err != nil {
		return nil, err
	}
	statement, err := request.RequireString("sql")
	if err != nil {
		return nil, err
	}

	var params map[string]interface{}
	if raw, ok := request.GetArguments()["parameters"]; ok && raw != nil {
		params, ok = raw.(map[string]interface{})
		if !ok {
			return nil, errors.New("parameters must be an object")
		}
	}

	return useCase.ExecuteSQL(ctx, id, statement, params)
}

// ExplainPlanTool shows the execution plan of a statement
type ExplainPlanTool struct {
	BaseToolType
}

// NewExplainPlanTool creates the explain_plan tool type
func NewExplainPlanTool() *ExplainPlanTool {
	return &ExplainPlanTool{BaseToolType{
		name:        "explain_plan",
		description: "Show the execution plan of a SQL statement",
	}}
}

// CreateTool creates the explain_plan tool
func (t *ExplainPlanTool) CreateTool() mcp.Tool {
	return t.newTool(
		connectionIDOption(),
		mcp.WithString("sql",
			mcp.Description("SQL statement to explain"),
			mcp.Required(),
		),
	)
}

// HandleRequest handles explain_plan requests
func (t *ExplainPlanTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	id, err := request.RequireString("connection_id")
	if err != nil {
		return nil, err
	}
	statement, err := request.RequireString("sql")
	if err != nil {
		return nil, err
	}
	return useCase.ExplainPlan(ctx, id, statement)
}

//------------------------------------------------------------------------------
// Schema tools
//------------------------------------------------------------------------------

// connectionTool is a read only tool taking only a connection ID
type connectionTool struct {
	BaseToolType
	handle func(ctx context.Context, useCase UseCaseProvider, id string) (map[string]interface{}, error)
}

// CreateTool creates the tool
func (t *connectionTool) CreateTool() mcp.Tool {
	return t.newTool(connectionIDOption(), mcp.WithReadOnlyHintAnnotation(true))
}

// HandleRequest handles requests for the tool
func (t *connectionTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	id, err := request.RequireString("connection_id")
	if err != nil {
		return nil, err
	}
	return t.handle(ctx, useCase, id)
}

// NewListTablesTool creates the list_tables tool type
func NewListTablesTool() ToolType {
	return &connectionTool{
		BaseToolType: BaseToolType{name: "list_tables", description: "List the tables of the connection's schema"},
		handle: func(ctx context.Context, useCase UseCaseProvider, id string) (map[string]interface{}, error) {
			return useCase.ListTables(ctx, id)
		},
	}
}

// NewListSchemasTool creates the list_schemas tool type
func NewListSchemasTool() ToolType {
	return &connectionTool{
		BaseToolType: BaseToolType{name: "list_schemas", description: "List the schemas of the database"},
		handle: func(ctx context.Context, useCase UseCaseProvider, id string) (map[string]interface{}, error) {
			return useCase.ListSchemas(ctx, id)
		},
	}
}

// NewDatabaseInfoTool creates the get_database_info tool type
func NewDatabaseInfoTool() ToolType {
	return &connectionTool{
		BaseToolType: BaseToolType{name: "get_database_info", description: "Get the server version and size of the database"},
		handle: func(ctx context.Context, useCase UseCaseProvider, id string) (map[string]interface{}, error) {
			return useCase.GetDatabaseInfo(ctx, id)
		},
	}
}

// DescribeTableTool describes the columns of a table
type DescribeTableTool struct {
	BaseToolType
}

// NewDescribeTableTool creates the describe_table tool type
func NewDescribeTableTool() *DescribeTableTool {
	return &DescribeTableTool{BaseToolType{
		name:        "describe_table",
		description: "Describe the columns and size of a table",
	}}
}

// CreateTool creates the describe_table tool
func (t *DescribeTableTool) CreateTool() mcp.Tool {
	return t.newTool(
		connectionIDOption(),
		mcp.WithString("table_name",
			mcp.Description("Table name, optionally qualified as schema.table"),
			mcp.Required(),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// HandleRequest handles describe_table requests
func (t *DescribeTableTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	id, err := request.RequireString("connection_id")
	if err != nil {
		return nil, err
	}
	table, err := request.RequireString("table_name")
	if err != nil {
		return nil, err
	}
	return useCase.DescribeTable(ctx, id, table)
}

//------------------------------------------------------------------------------
// PerformanceTool implementation
//------------------------------------------------------------------------------

// PerformanceTool reports query execution metrics
type PerformanceTool struct {
	BaseToolType
}

// NewPerformanceTool creates the get_query_metrics tool type
func NewPerformanceTool() *PerformanceTool {
	return &PerformanceTool{BaseToolType{
		name:        "get_query_metrics",
		description: "Get execution statistics of the statements run so far, slowest first",
	}}
}

// CreateTool creates the get_query_metrics tool
func (t *PerformanceTool) CreateTool() mcp.Tool {
	return t.newTool(
		mcp.WithBoolean("slow_only",
			mcp.Description("Only report statements slower than the threshold"),
			mcp.DefaultBool(false),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries to return (0 for all)"),
			mcp.DefaultNumber(0),
		),
		mcp.WithBoolean("reset",
			mcp.Description("Clear the statistics after reporting them"),
			mcp.DefaultBool(false),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// HandleRequest handles get_query_metrics requests
func (t *PerformanceTool) HandleRequest(_ context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	return useCase.QueryMetrics(
		request.GetBool("slow_only", false),
		request.GetInt("limit", 0),
		request.GetBool("reset", false),
	), nil
}

//------------------------------------------------------------------------------
// ConfiguredTool implementation
//------------------------------------------------------------------------------

// ConfiguredTool exposes a tool declared in the tools configuration
type ConfiguredTool struct {
	BaseToolType
	tool config.Tool
}

// NewConfiguredTool creates a tool type for a configured tool
func NewConfiguredTool(tool config.Tool) *ConfiguredTool {
	description := tool.Description
	if description == "" {
		description = "Run the " + tool.Name + " tool on " + tool.Source
	}
	return &ConfiguredTool{
		BaseToolType: BaseToolType{name: tool.Name, description: description},
		tool:         tool,
	}
}

// CreateTool declares the tool's parameters in its input schema
func (t *ConfiguredTool) CreateTool() mcp.Tool {
	opts := make([]mcp.ToolOption, 0, len(t.tool.Parameters))
	for _, p := range t.tool.Parameters {
		opts = append(opts, parameterOption(p))
	}
	return t.newTool(opts...)
}

// HandleRequest runs the configured tool with the call arguments
func (t *ConfiguredTool) HandleRequest(ctx context.Context, request mcp.CallToolRequest, useCase UseCaseProvider) (interface{}, error) {
	return useCase.RunTool(ctx, t.tool, request.GetArguments())
}

// parameterOption maps a configured parameter onto a JSON schema property
func parameterOption(p config.ToolParameter) mcp.ToolOption {
	props := []mcp.PropertyOption{mcp.Description(p.Description)}
	if p.IsRequired() && p.Default == nil {
		props = append(props, mcp.Required())
	}

	switch p.Type {
	case "integer":
		return func(t *mcp.Tool) {
			mcp.WithNumber(p.Name, props...)(t)
			schema := t.InputSchema.Properties[p.Name].(map[string]any)
			schema["type"] = "integer"
			if p.Default != nil {
				schema["default"] = p.Default
			}
		}
	case "number":
		if f, ok := toFloat(p.Default); ok {
			props = append(props, mcp.DefaultNumber(f))
		}
		return mcp.WithNumber(p.Name, props...)
	case "boolean":
		if b, ok := p.Default.(bool); ok {
			props = append(props, mcp.DefaultBool(b))
		}
		return mcp.WithBoolean(p.Name, props...)
	case "object":
		return mcp.WithObject(p.Name, props...)
	case "array":
		return mcp.WithArray(p.Name, props...)
	default:
		if s, ok := p.Default.(string); ok {
			props = append(props, mcp.DefaultString(s))
		}
		return mcp.WithString(p.Name, props...)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

//------------------------------------------------------------------------------
// ToolTypeFactory provides a factory for creating tool types
//------------------------------------------------------------------------------

// ToolTypeFactory creates and manages tool types
type ToolTypeFactory struct {
	toolTypes map[string]ToolType
}

// NewToolTypeFactory creates a new tool type factory with all built-in tool types
func NewToolTypeFactory() *ToolTypeFactory {
	factory := &ToolTypeFactory{
		toolTypes: make(map[string]ToolType),
	}

	factory.Register(NewConnectTool())
	factory.Register(NewExecuteSQLTool())
	factory.Register(NewCloseConnectionTool())
	factory.Register(NewListConnectionsTool())
	factory.Register(NewExplainPlanTool())
	factory.Register(NewListTablesTool())
	factory.Register(NewDatabaseInfoTool())
	factory.Register(NewListSourcesTool())
	factory.Register(NewDescribeTableTool())
	factory.Register(NewListSchemasTool())
	factory.Register(NewPerformanceTool())

	return factory
}

// Register adds a tool type to the factory, replacing one with the same name
func (f *ToolTypeFactory) Register(toolType ToolType) {
	f.toolTypes[toolType.GetName()] = toolType
}

// GetToolType returns a tool type by name
func (f *ToolTypeFactory) GetToolType(name string) (ToolType, bool) {
	toolType, ok := f.toolTypes[name]
	return toolType, ok
}

// GetAllToolTypes returns all registered tool types sorted by name
func (f *ToolTypeFactory) GetAllToolTypes() []ToolType {
	types := make([]ToolType, 0, len(f.toolTypes))
	for _, toolType := range f.toolTypes {
		types = append(types, toolType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].GetName() < types[j].GetName() })
	return types
}
