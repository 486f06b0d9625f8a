package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FreePeak/database-mcp-server/internal/logger"
	"github.com/FreePeak/database-mcp-server/pkg/db"
)

// Tool kinds
const (
	KindDatabaseConnection = "database-connection"
	KindPostgresSQL        = "postgres-sql"
	KindMySQLSQL           = "mysql-sql"
	KindOracleSQL          = "oracle-sql"
	KindGenericSQL         = "generic-sql"
)

// sqlToolKinds maps each SQL tool kind to the source kinds it can run on.
// An empty list accepts any source.
var sqlToolKinds = map[string][]string{
	KindPostgresSQL: {"postgres", "postgresql"},
	KindMySQLSQL:    {"mysql"},
	KindOracleSQL:   {"oracle"},
	KindGenericSQL:  nil,
}

var parameterTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// DefaultSearchPaths lists where the tools file is looked for when no path is given
func DefaultSearchPaths() []string {
	paths := []string{
		"tools.yaml",
		filepath.Join("config", "tools.yaml"),
		"tools.yml",
		filepath.Join("config", "tools.yml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "database-mcp", "tools.yaml"))
	}
	return append(paths, "/etc/database-mcp/tools.yaml")
}

// Source describes a database that tools can connect to
type Source struct {
	Name        string `yaml:"-"`
	Kind        string `yaml:"kind"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Schema      string `yaml:"schema"`
	ServiceName string `yaml:"service_name"`
	SID         string `yaml:"sid"`
	SSLMode     string `yaml:"sslmode"`
	Charset     string `yaml:"charset"`
	Timeout     int    `yaml:"timeout"`
}

// Validate checks a source definition
func (s Source) Validate() error {
	var errs []error
	if !db.IsSupported(s.Kind) {
		errs = append(errs, fmt.Errorf("kind %q must be one of %s", s.Kind, strings.Join(db.SupportedKinds(), ", ")))
	}
	if s.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d must be between 1 and 65535", s.Port))
	}
	oracleTarget := strings.EqualFold(s.Kind, "oracle") && (s.ServiceName != "" || s.SID != "")
	if s.Database == "" && !oracleTarget {
		errs = append(errs, errors.New("database is required"))
	}
	if s.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if s.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if s.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// DBConfig converts the source into an engine configuration
func (s Source) DBConfig() db.Config {
	return db.Config{
		Type:           s.Kind,
		Host:           s.Host,
		Port:           s.Port,
		User:           s.User,
		Password:       s.Password,
		Name:           s.Database,
		Schema:         s.Schema,
		ServiceName:    s.ServiceName,
		SID:            s.SID,
		SSLMode:        s.SSLMode,
		Charset:        s.Charset,
		ConnectTimeout: time.Duration(s.Timeout) * time.Second,
	}
}

// ToolParameter declares one argument of a configured tool
type ToolParameter struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"`
	Description string      `yaml:"description"`
	Required    *bool       `yaml:"required"`
	Default     interface{} `yaml:"default"`
}

// IsRequired reports whether the parameter must be supplied. Parameters are
// required unless declared otherwise.
func (p ToolParameter) IsRequired() bool {
	return p.Required == nil || *p.Required
}

// Tool is a configured tool bound to a source
type Tool struct {
	Name        string          `yaml:"-"`
	Kind        string          `yaml:"kind"`
	Source      string          `yaml:"source"`
	Description string          `yaml:"description"`
	Statement   string          `yaml:"statement"`
	Parameters  []ToolParameter `yaml:"parameters"`
	Timeout     int             `yaml:"timeout"`
	MaxRows     int             `yaml:"max_rows"`
}

// IsSQL reports whether the tool runs a statement
func (t Tool) IsSQL() bool {
	_, ok := sqlToolKinds[t.Kind]
	return ok
}

// validate checks the tool on its own and against the known sources
func (t Tool) validate(sources map[string]Source) error {
	var errs []error

	if t.Kind != KindDatabaseConnection && !t.IsSQL() {
		errs = append(errs, fmt.Errorf("unknown tool kind %q", t.Kind))
	}

	if t.Source == "" {
		errs = append(errs, errors.New("source is required"))
	} else if src, ok := sources[t.Source]; !ok {
		errs = append(errs, fmt.Errorf("references unknown source %q", t.Source))
	} else if allowed := sqlToolKinds[t.Kind]; len(allowed) > 0 && !containsFold(allowed, src.Kind) {
		errs = append(errs, fmt.Errorf("kind %s cannot run on %s source %q", t.Kind, src.Kind, t.Source))
	}

	if t.IsSQL() && strings.TrimSpace(t.Statement) == "" {
		errs = append(errs, errors.New("statement is required"))
	}

	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			errs = append(errs, errors.New("parameter without a name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate parameter %q", p.Name))
		}
		seen[p.Name] = true
		if !parameterTypes[p.Type] {
			errs = append(errs, fmt.Errorf("parameter %q has invalid type %q", p.Name, p.Type))
		}
	}

	if t.Timeout < 0 || t.MaxRows < 0 {
		errs = append(errs, errors.New("timeout and max_rows must not be negative"))
	}

	return errors.Join(errs...)
}

// Toolset groups tools under a name
type Toolset struct {
	Name        string   `yaml:"-"`
	Tools       []string `yaml:"tools"`
	Description string   `yaml:"description"`
}

// ValidationResult is the outcome of ToolsConfig.Validate
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *ValidationResult) addError(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	v.Valid = false
}

func (v *ValidationResult) addWarning(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// ToolsConfig is the parsed tools file
type ToolsConfig struct {
	Path     string
	Sources  map[string]Source
	Tools    map[string]Tool
	Toolsets map[string]Toolset

	// problems found while loading; the affected entries were skipped
	rejected []string
}

type toolsFile struct {
	Sources  map[string]Source  `yaml:"sources"`
	Tools    map[string]Tool    `yaml:"tools"`
	Toolsets map[string]Toolset `yaml:"toolsets"`
}

// LoadTools loads the tools file at path, or the first file found in the
// default search paths when path is empty. When nothing is found an empty
// configuration is returned.
func LoadTools(path string) (*ToolsConfig, error) {
	if path == "" {
		for _, candidate := range DefaultSearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			logger.Warn("No tools configuration found, starting without sources")
			return emptyToolsConfig(), nil
		}
	}

	cfg := emptyToolsConfig()
	cfg.Path = path
	if err := cfg.load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func emptyToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		Sources:  map[string]Source{},
		Tools:    map[string]Tool{},
		Toolsets: map[string]Toolset{},
	}
}

// Reload re-reads the file the configuration came from
func (c *ToolsConfig) Reload() error {
	if c.Path == "" {
		return errors.New("configuration was not loaded from a file")
	}
	return c.load()
}

func (c *ToolsConfig) load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("configuration file not found: %w", err)
	}
	return c.parse(data)
}

// parse replaces the configuration with the contents of data
func (c *ToolsConfig) parse(data []byte) error {
	var raw toolsFile
	if err := yaml.Unmarshal(expandEnv(data), &raw); err != nil {
		return fmt.Errorf("invalid YAML in configuration file: %w", err)
	}

	sources := make(map[string]Source, len(raw.Sources))
	tools := make(map[string]Tool, len(raw.Tools))
	toolsets := make(map[string]Toolset, len(raw.Toolsets))
	var rejected []string

	for name, src := range raw.Sources {
		src.Name = name
		if err := src.Validate(); err != nil {
			msg := fmt.Sprintf("Invalid source configuration for '%s': %s", name, flatten(err))
			logger.Warn("%s", msg)
			rejected = append(rejected, msg)
			continue
		}
		sources[name] = src
	}

	for name, tool := range raw.Tools {
		tool.Name = name
		if err := tool.validate(sources); err != nil {
			msg := fmt.Sprintf("Invalid tool configuration for '%s': %s", name, flatten(err))
			logger.Warn("%s", msg)
			rejected = append(rejected, msg)
			continue
		}
		tools[name] = tool
	}

	for name, ts := range raw.Toolsets {
		ts.Name = name
		toolsets[name] = ts
	}

	sort.Strings(rejected)
	c.Sources, c.Tools, c.Toolsets, c.rejected = sources, tools, toolsets, rejected

	logger.Info("Loaded configuration from %s: %d source(s), %d tool(s), %d toolset(s)",
		c.Path, len(sources), len(tools), len(toolsets))
	return nil
}

// Source looks up a source by name
func (c *ToolsConfig) Source(name string) (Source, bool) {
	s, ok := c.Sources[name]
	return s, ok
}

// SourceNames returns the configured source names, sorted
func (c *ToolsConfig) SourceNames() []string {
	return sortedKeys(c.Sources)
}

// ToolsFor returns the tools to expose. An empty toolset selects every tool.
func (c *ToolsConfig) ToolsFor(toolset string) ([]Tool, error) {
	var names []string
	if toolset == "" {
		names = sortedKeys(c.Tools)
	} else {
		ts, ok := c.Toolsets[toolset]
		if !ok {
			return nil, fmt.Errorf("toolset '%s' not found in configuration", toolset)
		}
		names = ts.Tools
	}

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tool, ok := c.Tools[name]
		if !ok {
			logger.Warn("Toolset %s references unavailable tool %s", toolset, name)
			continue
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// Validate reports every problem in the configuration
func (c *ToolsConfig) Validate() ValidationResult {
	result := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	for _, msg := range c.rejected {
		result.addError("%s", msg)
	}

	if len(c.Sources) == 0 {
		result.addWarning("No database sources configured")
	}

	for _, name := range sortedKeys(c.Toolsets) {
		ts := c.Toolsets[name]
		if len(ts.Tools) == 0 {
			result.addWarning("Toolset '%s' has no tools", name)
			continue
		}
		for _, tool := range ts.Tools {
			if _, ok := c.Tools[tool]; !ok {
				result.addError("Toolset '%s' references unknown tool '%s'", name, tool)
			}
		}
	}

	return result
}

// Summary describes the loaded configuration
func (c *ToolsConfig) Summary() map[string]interface{} {
	return map[string]interface{}{
		"config_file":   c.Path,
		"sources_count": len(c.Sources),
		"sources":       sortedKeys(c.Sources),
		"tools_count":   len(c.Tools),
		"tools":         sortedKeys(c.Tools),
		"toolsets":      sortedKeys(c.Toolsets),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references. Bare $name is left alone so
// positional placeholders such as $1 in statements survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// flatten joins the messages of an errors.Join result on one line
func flatten(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
