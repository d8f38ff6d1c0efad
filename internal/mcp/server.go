// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes coverage collection and coverage reports as MCP tools:
//
// Reports (always available):
//   - coverage_status: Show the active or a past coverage run
//   - coverage_summary: Per-file hit counts of a coverage file
//   - coverage_report: Per-line coverage in Debug Adapter Protocol form
//
// Collection (full mode only):
//   - coverage_collect: Connect to a debug server and collect coverage until
//     the engine closes the connection
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/jerry-coverage/internal/config"
	"github.com/ctagard/jerry-coverage/internal/jerry"
	"github.com/ctagard/jerry-coverage/internal/version"
)

// Server wraps the MCP server with coverage capabilities
type Server struct {
	mcpServer      *server.MCPServer
	sessionManager *jerry.SessionManager
	config         *config.Config
}

// NewServer creates a new coverage MCP server
func NewServer(cfg *config.Config) *Server {
	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer:      mcpServer,
		sessionManager: jerry.NewSessionManager(),
		config:         cfg,
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
