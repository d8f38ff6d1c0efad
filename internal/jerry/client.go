package jerry

import (
	"context"
	"log"
	"time"

	"github.com/ctagard/jerry-coverage/internal/errors"
	"github.com/ctagard/jerry-coverage/pkg/types"
)

// CoverageSink receives the line coverage produced by a session.
type CoverageSink interface {
	// Seed records the instrumented lines of a source as not hit, keeping
	// lines that already have a value.
	Seed(source string, lines []uint32)
	// MarkHit records a line as hit.
	MarkHit(source string, line uint32)
}

// Client processes the message stream of one debugger session. It is not
// safe for concurrent use: a session is driven by a single goroutine.
type Client struct {
	transport *Transport
	codec     Codec
	registry  *FunctionRegistry
	coverage  CoverageSink

	logger  *log.Logger
	verbose bool

	// prompt is set while the engine is stopped and waits for a command.
	prompt bool

	exception     []byte
	lastException string

	stats types.RunStats
}

// NewClient creates a client over an initialized transport.
func NewClient(transport *Transport, coverage CoverageSink) *Client {
	return &Client{
		transport: transport,
		codec:     transport.Codec(),
		registry:  NewFunctionRegistry(),
		coverage:  coverage,
		logger:    log.Default(),
	}
}

// SetLogger sets the logger used for session events.
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// SetVerbose enables a log line per breakpoint hit.
func (c *Client) SetVerbose(verbose bool) {
	c.verbose = verbose
}

// Registry returns the committed functions.
func (c *Client) Registry() *FunctionRegistry {
	return c.registry
}

// Stats returns the counters collected so far.
func (c *Client) Stats() types.RunStats {
	return c.stats
}

// LastException returns the text of the last complete exception string.
func (c *Client) LastException() string {
	return c.lastException
}

// Run drives the session until the engine closes the connection. Every
// stop is answered with a single continue. Run returns nil only when the
// peer closed the connection; errors and cancellation leave coverage
// unflushed for the caller to discard.
func (c *Client) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		action, err := c.ProcessMessages()
		if err != nil {
			return err
		}

		switch action {
		case ActionEnd:
			c.logger.Printf("Connection closed by the debugger (%d parse units, %d breakpoint hits)",
				c.stats.ParseUnits, c.stats.BreakpointHits)
			return nil
		case ActionPrompt:
			if err := c.Continue(); err != nil {
				return err
			}
		case ActionWait:
			if pollInterval <= 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		case ActionNone:
		}
	}
}

// Continue resumes the stopped engine.
func (c *Client) Continue() error {
	c.prompt = false
	return c.transport.SendContinue()
}

// ProcessMessages handles frames until one needs the driver's attention.
// It never blocks in steady state; only a parse unit, once started, is
// read to completion.
func (c *Client) ProcessMessages() (Action, error) {
	for {
		frame, status, err := c.transport.ReadFrame(false)
		if err != nil {
			return ActionNone, err
		}

		switch status {
		case FrameEmpty:
			if c.prompt {
				return ActionPrompt, nil
			}
			return ActionWait, nil
		case FrameClosed:
			return ActionEnd, nil
		case FrameReady:
		}

		switch msgType := frame.Type(); msgType {
		case MsgParseError, MsgByteCodeCp, MsgParseFunction,
			MsgBreakpointList, MsgBreakpointOffsetList,
			MsgSourceCode, MsgSourceCodeEnd,
			MsgSourceCodeName, MsgSourceCodeNameEnd,
			MsgFunctionName, MsgFunctionNameEnd:
			if err := c.parseSource(frame); err != nil {
				return ActionNone, err
			}

		case MsgReleaseByteCodeCp:
			if err := c.releaseFunction(frame); err != nil {
				return ActionNone, err
			}

		case MsgBreakpointHit, MsgExceptionHit:
			if err := c.handleHit(msgType, frame); err != nil {
				return ActionNone, err
			}
			return ActionNone, nil

		case MsgExceptionString:
			c.exception = append(c.exception, frame.Payload()...)

		case MsgExceptionStringEnd:
			c.exception = append(c.exception, frame.Payload()...)
			c.lastException = string(c.exception)

		case MsgConfiguration:
			return ActionNone, errors.UnexpectedMessage("configuration after initialization")

		default:
			return ActionNone, errors.UnexpectedMessage("unknown message %s", msgType)
		}
	}
}

// Resolve maps a hit at offset in the function cp to its breakpoint.
func (c *Client) Resolve(cp, offset uint32) (*Breakpoint, bool, error) {
	f, ok := c.registry.Get(cp)
	if !ok {
		return nil, false, errors.UnknownCp(cp)
	}
	bp, exact := f.Resolve(offset)
	if bp == nil {
		return nil, false, errors.UnexpectedMessage("hit at offset %d in function %#x without breakpoints", offset, cp)
	}
	return bp, exact, nil
}

func (c *Client) handleHit(msgType MessageType, frame Frame) error {
	if msgType == MsgExceptionHit {
		if len(c.exception) > 0 {
			c.logger.Printf("Exception thrown: %s", c.exception)
		}
		c.exception = c.exception[:0]
		c.stats.ExceptionHits++
	} else {
		c.stats.BreakpointHits++
	}

	cp, offset, err := c.codec.CpOffset(frame.Payload())
	if err != nil {
		return err
	}
	bp, exact, err := c.Resolve(cp, offset)
	if err != nil {
		return err
	}

	c.coverage.MarkHit(bp.Function.SourceName, bp.Line)
	if c.verbose {
		c.logger.Printf("%s %s:%d (cp %#x, offset %d, exact %t)", msgType, bp.Function.SourceName, bp.Line, cp, offset, exact)
	}

	// An inactive breakpoint is disabled on the engine after its first hit.
	if err := c.transport.SendUpdateBreakpoint(bp.Active, bp.Function.ByteCodeCp, bp.Offset); err != nil {
		return err
	}

	c.prompt = true
	return nil
}

func (c *Client) releaseFunction(frame Frame) error {
	cp, err := c.codec.Cp(frame.Payload())
	if err != nil {
		return err
	}
	if err := c.registry.Release(cp, c.transport); err != nil {
		return err
	}
	c.stats.Releases++
	return nil
}
