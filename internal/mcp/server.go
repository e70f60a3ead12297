package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/logger"
	"github.com/hpungsan/efact/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"efact_login": {
		def:     loginToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogin },
	},
	"efact_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"efact_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"efact_logout": {
		def:     logoutToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogout },
	},
	"efact_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"efact_purge": {
		def:     purgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePurge },
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

// NewServer creates a new MCP server with efact tools registered against a
// single document session. Tools listed in DisabledTools are not registered.
func NewServer(rt *ops.Runtime, sessionID string, sess *document.Session, log *zap.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"efact",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(rt, sessionID, sess, log)

	disabled := make(map[string]bool)
	for _, name := range rt.Config().DisabledTools {
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

// Run serves the MCP tools over stdio until the client disconnects. The
// session is closed on return.
func Run(rt *ops.Runtime, sessionID string, log *zap.Logger, version string) error {
	log = logger.OrNop(log).Named("mcp")
	sess := rt.Session(sessionID)
	defer sess.Close()

	s := NewServer(rt, sessionID, sess, log, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
