package jerry

import (
	"strings"

	"github.com/ctagard/jerry-coverage/internal/errors"
)

// parseSource reads one parse unit starting at first. Functions are built
// bottom-up: a PARSE_FUNCTION message opens a nested function and the
// matching BYTE_CODE_CP closes the innermost open one. The unit ends when
// the outermost script code is closed; only then are its functions
// committed and their lines seeded into the coverage.
func (c *Client) parseSource(first Frame) error {
	var (
		sourceCode   strings.Builder
		sourceName   strings.Builder
		functionName strings.Builder
	)

	stack := []*buildState{{line: 1, column: 1}}
	pending := make(map[uint32]*Function)

	frame := first
	for {
		payload := frame.Payload()

		switch msgType := frame.Type(); msgType {
		case MsgParseError:
			c.stats.ParseErrors++
			c.logger.Printf("Parse error reported by the engine, dropping %d pending functions", len(pending))
			return nil

		case MsgSourceCode, MsgSourceCodeEnd:
			sourceCode.Write(payload)

		case MsgSourceCodeName, MsgSourceCodeNameEnd:
			sourceName.Write(payload)

		case MsgFunctionName, MsgFunctionNameEnd:
			functionName.Write(payload)

		case MsgParseFunction:
			if len(payload) < 8 {
				return errors.UnexpectedMessage("function position needs 8 bytes, have %d", len(payload))
			}
			line, _ := c.codec.Uint32(payload)
			column, _ := c.codec.Uint32(payload[4:])

			stack = append(stack, &buildState{
				source:     sourceCode.String(),
				sourceName: sourceName.String(),
				name:       functionName.String(),
				line:       line,
				column:     column,
			})
			functionName.Reset()

		case MsgBreakpointList, MsgBreakpointOffsetList:
			values, err := c.codec.Uint32s(payload)
			if err != nil {
				return err
			}
			top := stack[len(stack)-1]
			if msgType == MsgBreakpointList {
				top.lines = append(top.lines, values...)
			} else {
				top.offsets = append(top.offsets, values...)
			}

		case MsgByteCodeCp:
			cp, err := c.codec.Cp(payload)
			if err != nil {
				return err
			}

			st := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			// The outermost code is announced last, after its whole source.
			if len(stack) == 0 {
				st.source = sourceCode.String()
				st.sourceName = sourceName.String()
			}

			f, err := newFunction(cp, len(stack) > 0, st)
			if err != nil {
				return err
			}
			pending[cp] = f

		case MsgReleaseByteCodeCp:
			cp, err := c.codec.Cp(payload)
			if err != nil {
				return err
			}
			// A function redefined inside the same unit is released before it
			// was ever committed.
			if _, ok := pending[cp]; ok {
				delete(pending, cp)
				if err := c.transport.SendFreeByteCodeCp(cp); err != nil {
					return err
				}
				c.stats.Releases++
			} else if err := c.releaseFunction(frame); err != nil {
				return err
			}

		default:
			return errors.UnexpectedMessage("%s inside a parse unit", msgType)
		}

		if len(stack) == 0 {
			break
		}

		next, status, err := c.transport.ReadFrame(true)
		if err != nil {
			return err
		}
		if status == FrameClosed {
			return errors.ConnectionClosed("source code receiving")
		}
		frame = next
	}

	c.commit(pending)
	return nil
}

func (c *Client) commit(pending map[uint32]*Function) {
	c.registry.Commit(pending)

	var name string
	for _, f := range pending {
		c.coverage.Seed(f.SourceName, f.BreakpointLines())
		if !f.IsFunc {
			name = f.SourceName
		}
	}

	c.stats.ParseUnits++
	c.stats.Functions += len(pending)
	c.logger.Printf("Parsed source %q: %d functions", name, len(pending))
}
