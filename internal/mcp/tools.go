package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the coverage tools allowed by the capability mode
func (s *Server) registerTools() {
	s.registerCoverageStatus()
	s.registerCoverageSummary()
	s.registerCoverageReport()

	if s.config.CanCollect() {
		s.registerCoverageCollect()
	}
}

func (s *Server) registerCoverageCollect() {
	tool := mcp.NewTool("coverage_collect",
		mcp.WithDescription("Connect to a JerryScript debug server, run the engine to completion while recording every executed source line, then merge the result into the coverage file. Blocks until the engine closes the connection. Only one run can be active at a time."),
		mcp.WithString("address",
			mcp.Description("Debug server address as host[:port]. Default port is 5001. Defaults to the configured address."),
		),
		mcp.WithString("output",
			mcp.Description("Coverage file to merge into and rewrite. Defaults to the configured coverage output."),
		),
		mcp.WithBoolean("verbose",
			mcp.Description("Log every breakpoint hit to the server log (default: configured value)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleCoverageCollect)
}

func (s *Server) registerCoverageStatus() {
	tool := mcp.NewTool("coverage_status",
		mcp.WithDescription("Show a coverage run. Without sessionId, lists every run of this server, including the active one."),
		mcp.WithString("sessionId",
			mcp.Description("Session ID returned by coverage_collect"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleCoverageStatus)
}

func (s *Server) registerCoverageSummary() {
	tool := mcp.NewTool("coverage_summary",
		mcp.WithDescription("Summarize a coverage file: instrumented lines, hit lines and percentage per source and in total."),
		mcp.WithString("output",
			mcp.Description("Coverage file to read. Defaults to the configured coverage output."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleCoverageSummary)
}

func (s *Server) registerCoverageReport() {
	tool := mcp.NewTool("coverage_report",
		mcp.WithDescription("Per-line coverage of a coverage file in Debug Adapter Protocol form: one Source per file and one Breakpoint per instrumented line, verified when the line was executed."),
		mcp.WithString("output",
			mcp.Description("Coverage file to read. Defaults to the configured coverage output."),
		),
		mcp.WithString("source",
			mcp.Description("Only report this source name"),
		),
		mcp.WithBoolean("uncoveredOnly",
			mcp.Description("Only include lines that were never executed (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleCoverageReport)
}
