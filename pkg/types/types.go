// Package types defines shared data types used across jerry-coverage.
//
// This package provides type definitions for:
//   - SessionStatus: coverage run states (connecting, running, finished, failed)
//   - SessionInfo, RunStats: a coverage run as reported to MCP clients
//   - FileCoverage: per-source hit counts
//
// These types are used by the MCP surface and the CLI so results have one
// JSON shape regardless of where they are produced.
package types

import "time"

// SessionStatus represents the status of a coverage run
type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusFinished   SessionStatus = "finished"
	SessionStatusFailed     SessionStatus = "failed"
)

// SessionInfo represents information about a coverage run
type SessionInfo struct {
	SessionID  string        `json:"sessionId"`
	Address    string        `json:"address"`
	Output     string        `json:"output"`
	Status     SessionStatus `json:"status"`
	Config     string        `json:"config,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Error      string        `json:"error,omitempty"`
	Stats      *RunStats     `json:"stats,omitempty"`
}

// RunStats counts the messages a coverage run has processed
type RunStats struct {
	ParseUnits     int `json:"parseUnits"`
	ParseErrors    int `json:"parseErrors"`
	Functions      int `json:"functions"`
	Releases       int `json:"releases"`
	BreakpointHits int `json:"breakpointHits"`
	ExceptionHits  int `json:"exceptionHits"`
}

// FileCoverage represents the line coverage of one source
type FileCoverage struct {
	Source  string  `json:"source"`
	Lines   int     `json:"lines"`
	Hit     int     `json:"hit"`
	Percent float64 `json:"percent"`
}

// CoverageSummary represents the coverage of every source plus totals
type CoverageSummary struct {
	Output  string         `json:"output"`
	Files   []FileCoverage `json:"files"`
	Lines   int            `json:"lines"`
	Hit     int            `json:"hit"`
	Percent float64        `json:"percent"`
}

// NewCoverageSummary totals per-file coverage.
func NewCoverageSummary(output string, files []FileCoverage) CoverageSummary {
	summary := CoverageSummary{Output: output, Files: files}
	for _, f := range files {
		summary.Lines += f.Lines
		summary.Hit += f.Hit
	}
	if summary.Lines > 0 {
		summary.Percent = float64(summary.Hit) * 100 / float64(summary.Lines)
	}
	return summary
}
