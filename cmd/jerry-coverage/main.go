package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctagard/jerry-coverage/internal/config"
	"github.com/ctagard/jerry-coverage/internal/jerry"
	"github.com/ctagard/jerry-coverage/internal/mcp"
	"github.com/ctagard/jerry-coverage/internal/version"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	output := flag.String("coverage-output", "", "Output file for coverage (default: coverage_output.json)")
	verbose := flag.Bool("verbose", false, "Log every breakpoint hit")
	serveMCP := flag.Bool("mcp", false, "Serve coverage tools over MCP on stdio instead of running once")
	mode := flag.String("mode", "", "MCP capability mode: 'readonly' or 'full'")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line values override the configuration file
	if flag.NArg() > 1 {
		log.Fatalf("Expected at most one address argument, got %d", flag.NArg())
	}
	if flag.NArg() == 1 {
		cfg.Address = flag.Arg(0)
	}
	if *output != "" {
		cfg.CoverageOutput = *output
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *mode == "readonly" {
		cfg.Mode = config.ModeReadOnly
	} else if *mode == "full" {
		cfg.Mode = config.ModeFull
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *serveMCP {
		server := mcp.NewServer(cfg)
		log.Println("jerry-coverage MCP server starting...")
		if err := server.ServeStdio(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	address, err := config.ParseAddress(cfg.Address)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}

	// A signal aborts the run; coverage is only written when the engine
	// closes the connection.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := jerry.Collect(ctx, jerry.Options{
		Address:      address,
		Output:       cfg.CoverageOutput,
		PollInterval: time.Duration(cfg.PollInterval),
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		log.Fatalf("Coverage run %s failed: %v", session.ID, err)
	}

	fmt.Println("Finished the execution.")
}

func printHelp() {
	fmt.Println(`jerry-coverage: JavaScript line coverage over the JerryScript debugger protocol

Connects to a JerryScript engine started with its remote debugger enabled,
lets it run to completion and records which instrumented source lines were
executed. Results are merged into the coverage file, so several runs (for
example one per test) accumulate into one report.

USAGE:
    jerry-coverage [OPTIONS] [host[:port]]

    The address defaults to localhost:5001.

OPTIONS:
    -coverage-output <path>   Coverage file (default: coverage_output.json)
    -config <path>            Path to configuration file (JSON)
    -verbose                  Log every breakpoint hit
    -mcp                      Serve coverage tools over MCP on stdio
    -mode <mode>              MCP capability mode: 'readonly' or 'full' (default: full)
    -version                  Show version and exit
    -help                     Show this help message

CONFIGURATION:
    {
        "mode": "full",
        "address": "localhost:5001",
        "coverageOutput": "coverage_output.json",
        "pollInterval": "10ms",
        "verbose": false
    }

OUTPUT:
    { "<source name>": { "<line>": true|false, ... }, ... }

    A line is true once it has been executed in any run. The file is only
    rewritten when the engine closes the connection normally.

MCP TOOLS:
    coverage_collect    Run a coverage session (full mode only)
    coverage_status     Show active and past runs
    coverage_summary    Per-file hit counts of a coverage file
    coverage_report     Per-line coverage in Debug Adapter Protocol form`)
}
