package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"memory", "preferences", "skills"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"memory_append": {
		def:     appendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAppend },
	},
	"memory_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"memory_scan": {
		def:     scanToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScan },
	},
	"memory_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"memory_neighborhood": {
		def:     neighborhoodToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNeighborhood },
	},
	"memory_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"memory_compact": {
		def:     compactToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCompact },
	},
	"preferences_resolve": {
		def:     preferencesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePreferences },
	},
	"skills_route": {
		def:     skillsRouteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRouteSkills },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "memory_append" → "memory").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Kapy tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kapy",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)
	cfg := env.Config
	logger := logging.OrNop(env.Logger)

	if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	s := NewServer(env, version)
	return server.ServeStdio(s)
}
