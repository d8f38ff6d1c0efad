package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/jerry-coverage/internal/config"
	"github.com/ctagard/jerry-coverage/internal/coverage"
	"github.com/ctagard/jerry-coverage/internal/errors"
	"github.com/ctagard/jerry-coverage/internal/jerry"
	"github.com/ctagard/jerry-coverage/pkg/types"
)

// Collection Handlers

func (s *Server) handleCoverageCollect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, err := config.ParseAddress(request.GetString("address", s.config.Address))
	if err != nil {
		return mcp.NewToolResultError(errors.InvalidParameter("address", request.GetString("address", ""), "host[:port], e.g. localhost:5001").Error()), nil
	}

	output := request.GetString("output", s.config.CoverageOutput)
	if output == "" {
		return mcp.NewToolResultError(errors.MissingParameter("output",
			"Specify the coverage file to write, e.g. coverage_output.json.").Error()), nil
	}

	opts := jerry.Options{
		Address:      address,
		Output:       output,
		PollInterval: time.Duration(s.config.PollInterval),
		Verbose:      request.GetBool("verbose", s.config.Verbose),
		Logger:       log.Default(),
	}

	session, err := s.sessionManager.Collect(ctx, opts)
	if session == nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	result := map[string]interface{}{
		"session": session.Info(),
	}
	if err != nil {
		result["error"] = errors.FromError(err)
		return jsonErrorResult(result)
	}

	store, err := coverage.Load(output)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	result["summary"] = types.NewCoverageSummary(output, store.Summary())

	return jsonResult(result)
}

// Report Handlers

func (s *Server) handleCoverageStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("sessionId", "")
	if sessionID == "" {
		result := map[string]interface{}{
			"sessions": s.sessionManager.ListSessions(),
		}
		if active, ok := s.sessionManager.ActiveSession(); ok {
			result["activeSessionId"] = active.ID
		}
		return jsonResult(result)
	}

	session, ok := s.sessionManager.GetSession(sessionID)
	if !ok {
		return mcp.NewToolResultError(errors.InvalidParameter("sessionId", sessionID,
			"an ID returned by coverage_collect; call coverage_status without arguments to list runs").Error()), nil
	}
	return jsonResult(session.Info())
}

func (s *Server) handleCoverageSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output := request.GetString("output", s.config.CoverageOutput)

	store, err := coverage.Load(output)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	return jsonResult(types.NewCoverageSummary(output, store.Summary()))
}

func (s *Server) handleCoverageReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output := request.GetString("output", s.config.CoverageOutput)
	source := request.GetString("source", "")
	uncoveredOnly := request.GetBool("uncoveredOnly", false)

	store, err := coverage.Load(output)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	reports := make([]coverage.FileReport, 0)
	for _, report := range store.Report() {
		if source != "" && report.Source.Path != source {
			continue
		}
		if uncoveredOnly {
			kept := report.Breakpoints[:0]
			for _, bp := range report.Breakpoints {
				if !bp.Verified {
					kept = append(kept, bp)
				}
			}
			report.Breakpoints = kept
		}
		reports = append(reports, report)
	}

	if source != "" && len(reports) == 0 {
		return mcp.NewToolResultError(errors.InvalidParameter("source", source,
			fmt.Sprintf("one of the sources in %s; call coverage_summary to list them", output)).Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"output":  output,
		"sources": reports,
	})
}

// Helper functions

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func jsonErrorResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultError(string(jsonBytes)), nil
}
