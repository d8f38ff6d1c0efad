package jerry

import (
	"regexp"
	"sort"

	"github.com/ctagard/jerry-coverage/internal/errors"
)

var lineBreak = regexp.MustCompile("\r\n|[\r\n]")

// Breakpoint is an instrumented location of a function: a source line and
// the byte code offset the engine reports for it.
type Breakpoint struct {
	Line   uint32
	Offset uint32

	// Function owns the breakpoint.
	Function *Function

	// Active is set while the breakpoint is enabled on the engine.
	Active bool
}

// Function is a parsed function (or the top level code of a script) as
// described by one entry of a parse unit.
type Function struct {
	// ByteCodeCp is the compressed pointer the engine uses for the function.
	ByteCodeCp uint32

	// IsFunc is false for the outermost script code.
	IsFunc bool

	Source     []string
	SourceName string
	Name       string
	Line       uint32
	Column     uint32

	// Lines and Offsets hold the same breakpoints indexed two ways.
	Lines   map[uint32]*Breakpoint
	Offsets map[uint32]*Breakpoint

	// FirstBreakpointOffset is the smallest key of Offsets, or -1 when the
	// function has no breakpoints.
	FirstBreakpointOffset int64
}

// buildState collects the pieces of one function while its parse unit is
// still arriving.
type buildState struct {
	source     string
	sourceName string
	name       string
	line       uint32
	column     uint32
	lines      []uint32
	offsets    []uint32
}

// newFunction consumes a completed build state. Lines and offsets are
// paired by index.
func newFunction(cp uint32, isFunc bool, st *buildState) (*Function, error) {
	if len(st.lines) != len(st.offsets) {
		return nil, errors.UnexpectedMessage("function %#x has %d breakpoint lines but %d offsets", cp, len(st.lines), len(st.offsets))
	}

	source := lineBreak.Split(st.source, -1)
	if len(source) > 1 && source[len(source)-1] == "" {
		source = source[:len(source)-1]
	}

	f := &Function{
		ByteCodeCp:            cp,
		IsFunc:                isFunc,
		Source:                source,
		SourceName:            st.sourceName,
		Name:                  st.name,
		Line:                  st.line,
		Column:                st.column,
		Lines:                 make(map[uint32]*Breakpoint, len(st.lines)),
		Offsets:               make(map[uint32]*Breakpoint, len(st.offsets)),
		FirstBreakpointOffset: -1,
	}

	for i, line := range st.lines {
		offset := st.offsets[i]
		bp := &Breakpoint{Line: line, Offset: offset, Function: f}
		f.Lines[line] = bp
		f.Offsets[offset] = bp
	}
	if len(st.offsets) > 0 {
		f.FirstBreakpointOffset = int64(st.offsets[0])
	}

	// The engine lists offsets in ascending order, but the invariant is the
	// minimum key, not the first entry.
	for offset := range f.Offsets {
		if int64(offset) < f.FirstBreakpointOffset {
			f.FirstBreakpointOffset = int64(offset)
		}
	}

	return f, nil
}

// BreakpointLines returns the instrumented lines in ascending order.
func (f *Function) BreakpointLines() []uint32 {
	lines := make([]uint32, 0, len(f.Lines))
	for line := range f.Lines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	return lines
}

// Resolve maps a byte code offset reported by the engine to a breakpoint.
// An exact offset match wins; offsets before the first breakpoint map to
// the first breakpoint; any other offset maps to the nearest breakpoint
// below it. exact reports whether the offset matched a breakpoint.
func (f *Function) Resolve(offset uint32) (bp *Breakpoint, exact bool) {
	if bp, ok := f.Offsets[offset]; ok {
		return bp, true
	}
	if f.FirstBreakpointOffset < 0 {
		return nil, false
	}
	if int64(offset) < f.FirstBreakpointOffset {
		return f.Offsets[uint32(f.FirstBreakpointOffset)], false
	}

	nearest := int64(-1)
	for current := range f.Offsets {
		if current <= offset && int64(current) > nearest {
			nearest = int64(current)
		}
	}
	return f.Offsets[uint32(nearest)], false
}
