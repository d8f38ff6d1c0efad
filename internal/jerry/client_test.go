package jerry

import (
	"context"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/ctagard/jerry-coverage/internal/coverage"
	"github.com/ctagard/jerry-coverage/internal/errors"
)

var (
	outerFn = unitFunction{cp: 0x10, lines: []uint32{1, 4}, offsets: []uint32{3, 12}}
	innerFn = unitFunction{cp: 0x20, name: "inner", line: 1, column: 10, lines: []uint32{2, 3}, offsets: []uint32{5, 9}}
)

const nestedSource = "function inner() {\n  x();\n}\nfoo();\n"

func newTestClient(t *testing.T, addr string) (*Client, *coverage.Store, *Transport) {
	t.Helper()
	tr, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	store := coverage.NewStore("")
	c := NewClient(tr, store)
	c.SetLogger(log.New(io.Discard, "", 0))
	c.SetVerbose(true)
	return c, store, tr
}

func runClient(t *testing.T, c *Client) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Run(ctx, time.Millisecond)
}

func expectLines(t *testing.T, store *coverage.Store, source string, want map[uint32]bool) {
	t.Helper()
	got := store.Snapshot()[source]
	if !reflect.DeepEqual(got, want) {
		t.Errorf("coverage of %s: got %v, want %v", source, got, want)
	}
}

// TestClient_NestedParseUnit verifies an inner function completed before
// its enclosing script is registered with its own breakpoints.
func TestClient_NestedParseUnit(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(e.parseUnit("a.js", nestedSource, outerFn, innerFn))
	})

	c, store, tr := newTestClient(t, addr)
	defer tr.Close()

	if err := runClient(t, c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	if c.Registry().Len() != 2 {
		t.Fatalf("expected 2 functions, got %d", c.Registry().Len())
	}

	inner, ok := c.Registry().Get(0x20)
	if !ok {
		t.Fatal("inner function not registered")
	}
	if !inner.IsFunc || inner.Name != "inner" || inner.Line != 1 || inner.Column != 10 {
		t.Errorf("unexpected inner function %+v", inner)
	}
	if inner.Lines[2].Offset != 5 || inner.Lines[3].Offset != 9 || len(inner.Offsets) != 2 {
		t.Errorf("inner breakpoints not paired: %v", inner.Lines)
	}

	outer, ok := c.Registry().Get(0x10)
	if !ok {
		t.Fatal("outer function not registered")
	}
	if outer.IsFunc || outer.Name != "" {
		t.Errorf("unexpected outer function %+v", outer)
	}
	if outer.Lines[1].Offset != 3 || outer.Lines[4].Offset != 12 || len(outer.Offsets) != 2 {
		t.Errorf("outer breakpoints not paired: %v", outer.Lines)
	}

	if inner.SourceName != "a.js" || outer.SourceName != "a.js" {
		t.Errorf("expected both functions in a.js, got %q and %q", inner.SourceName, outer.SourceName)
	}
	wantSource := []string{"function inner() {", "  x();", "}", "foo();"}
	if !reflect.DeepEqual(outer.Source, wantSource) {
		t.Errorf("unexpected outer source %q", outer.Source)
	}

	expectLines(t, store, "a.js", map[uint32]bool{1: false, 2: false, 3: false, 4: false})

	if bp, exact := inner.Resolve(inner.Lines[2].Offset); !exact || bp.Line != 2 {
		t.Errorf("expected line 2 to belong to the inner function, got %+v", bp)
	}

	stats := c.Stats()
	if stats.ParseUnits != 1 || stats.Functions != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// TestClient_FragmentedMessages verifies fragments of the same kind
// accumulate until their end variant.
func TestClient_FragmentedMessages(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(
			frame(MsgSourceCode, []byte("var a")),
			frame(MsgSourceCode, []byte(" = 1;")),
			frame(MsgSourceCodeEnd, []byte("\n")),
			frame(MsgSourceCodeName, []byte("dir/")),
			frame(MsgSourceCodeNameEnd, []byte("b.js")),
			frame(MsgFunctionName, []byte("fo")),
			frame(MsgFunctionNameEnd, []byte("o")),
			frame(MsgParseFunction, e.u32s(1, 1)),
			frame(MsgBreakpointList, e.u32s(1)),
			frame(MsgBreakpointList, e.u32s(2)),
			frame(MsgBreakpointOffsetList, e.u32s(4)),
			frame(MsgBreakpointOffsetList, e.u32s(8)),
			frame(MsgByteCodeCp, e.cp(5)),
			frame(MsgBreakpointList, e.u32s(1)),
			frame(MsgBreakpointOffsetList, e.u32s(2)),
			frame(MsgByteCodeCp, e.cp(6)),
		)
	})

	c, store, tr := newTestClient(t, addr)
	defer tr.Close()

	if err := runClient(t, c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	f, ok := c.Registry().Get(5)
	if !ok {
		t.Fatal("function 5 not registered")
	}
	if f.Name != "foo" || f.SourceName != "dir/b.js" {
		t.Errorf("unexpected function name %q source %q", f.Name, f.SourceName)
	}
	if !reflect.DeepEqual(f.Source, []string{"var a = 1;"}) {
		t.Errorf("unexpected source %q", f.Source)
	}
	if f.Lines[1].Offset != 4 || f.Lines[2].Offset != 8 {
		t.Errorf("fragmented breakpoint lists not paired: %v", f.Lines)
	}
	expectLines(t, store, "dir/b.js", map[uint32]bool{1: false, 2: false})
}

// TestClient_HitMarksCoverageAndContinues verifies hits are resolved to
// lines, their breakpoints are updated and the engine is resumed.
func TestClient_HitMarksCoverageAndContinues(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(e.parseUnit("a.js", nestedSource, outerFn, innerFn), e.hit(MsgBreakpointHit, 0x10, 7))
		e.expectCommand(CmdUpdateBreakpoint, append(append([]byte{0}, e.cp(0x10)...), e.u32s(3)...))
		e.expectCommand(CmdContinue, []byte{})

		e.send(
			frame(MsgExceptionString, []byte("Type")),
			frame(MsgExceptionStringEnd, []byte("Error")),
			e.hit(MsgExceptionHit, 0x20, 1),
		)
		e.expectCommand(CmdUpdateBreakpoint, append(append([]byte{0}, e.cp(0x20)...), e.u32s(5)...))
		e.expectCommand(CmdContinue, []byte{})

		e.closeWrite()
		e.expectNoMoreCommands()
	})

	c, store, tr := newTestClient(t, addr)

	err := runClient(t, c)
	tr.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	expectLines(t, store, "a.js", map[uint32]bool{1: true, 2: true, 3: false, 4: false})

	stats := c.Stats()
	if stats.BreakpointHits != 1 || stats.ExceptionHits != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if c.LastException() != "TypeError" {
		t.Errorf("expected exception text TypeError, got %q", c.LastException())
	}
}

// TestClient_ProcessMessagesActions verifies the action returned in each
// steady state.
func TestClient_ProcessMessagesActions(t *testing.T) {
	release := make(chan struct{})
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		<-release
		e.send(e.parseUnit("a.js", nestedSource, outerFn), e.hit(MsgBreakpointHit, 0x10, 12))
		e.expectCommand(CmdUpdateBreakpoint, append(append([]byte{0}, e.cp(0x10)...), e.u32s(12)...))
		e.expectCommand(CmdContinue, []byte{})
	})

	c, _, tr := newTestClient(t, addr)
	defer tr.Close()

	action, err := c.ProcessMessages()
	if err != nil || action != ActionWait {
		t.Fatalf("expected wait on an idle engine, got %s, %v", action, err)
	}

	close(release)

	next := func() Action {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			action, err := c.ProcessMessages()
			if err != nil {
				t.Fatalf("ProcessMessages: %v", err)
			}
			if action != ActionWait {
				return action
			}
			if time.Now().After(deadline) {
				t.Fatal("engine never produced a message")
			}
			time.Sleep(time.Millisecond)
		}
	}

	if action := next(); action != ActionNone {
		t.Fatalf("expected none after a hit, got %s", action)
	}
	if action := next(); action != ActionPrompt {
		t.Fatalf("expected prompt while stopped, got %s", action)
	}
	if err := c.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if action := next(); action != ActionEnd {
		t.Fatalf("expected end after close, got %s", action)
	}
	waitDone(t, done)
}

// TestClient_ReleaseCommitted verifies a release removes the function and
// is acknowledged exactly once with the same pointer.
func TestClient_ReleaseCommitted(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(e.parseUnit("a.js", nestedSource, outerFn, innerFn), frame(MsgReleaseByteCodeCp, e.cp(0x20)))
		e.expectCommand(CmdFreeByteCodeCp, e.cp(0x20))
		e.closeWrite()
		e.expectNoMoreCommands()
	})

	c, store, tr := newTestClient(t, addr)

	err := runClient(t, c)
	tr.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	if _, ok := c.Registry().Get(0x20); ok {
		t.Error("released function is still registered")
	}
	if _, ok := c.Registry().Get(0x10); !ok {
		t.Error("outer function was removed")
	}
	if cps := c.Registry().Pointers(); !reflect.DeepEqual(cps, []uint32{0x10}) {
		t.Errorf("expected only the outer function registered, got %#x", cps)
	}
	if c.Stats().Releases != 1 {
		t.Errorf("expected 1 release, got %d", c.Stats().Releases)
	}
	// Coverage keeps the lines of released functions.
	expectLines(t, store, "a.js", map[uint32]bool{1: false, 2: false, 3: false, 4: false})
}

// TestClient_ReleasePendingInsideUnit verifies a function released before
// its unit completes is acknowledged but never registered.
func TestClient_ReleasePendingInsideUnit(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(
			frame(MsgSourceCodeEnd, []byte(nestedSource)),
			frame(MsgSourceCodeNameEnd, []byte("a.js")),
			frame(MsgFunctionNameEnd, []byte("inner")),
			frame(MsgParseFunction, e.u32s(1, 10)),
			frame(MsgBreakpointList, e.u32s(2, 3)),
			frame(MsgBreakpointOffsetList, e.u32s(5, 9)),
			frame(MsgByteCodeCp, e.cp(0x20)),
			frame(MsgReleaseByteCodeCp, e.cp(0x20)),
			frame(MsgBreakpointList, e.u32s(1, 4)),
			frame(MsgBreakpointOffsetList, e.u32s(3, 12)),
			frame(MsgByteCodeCp, e.cp(0x10)),
		)
		e.expectCommand(CmdFreeByteCodeCp, e.cp(0x20))
		e.closeWrite()
		e.expectNoMoreCommands()
	})

	c, store, tr := newTestClient(t, addr)

	err := runClient(t, c)
	tr.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	if _, ok := c.Registry().Get(0x20); ok {
		t.Error("dropped function was registered")
	}
	if c.Registry().Len() != 1 {
		t.Errorf("expected 1 function, got %d", c.Registry().Len())
	}
	expectLines(t, store, "a.js", map[uint32]bool{1: false, 4: false})
}

// TestClient_ReleaseUnknownCp verifies releasing an unregistered pointer
// fails without an acknowledgement.
func TestClient_ReleaseUnknownCp(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(e.parseUnit("a.js", nestedSource, outerFn), frame(MsgReleaseByteCodeCp, e.cp(0x99)))
		e.expectNoMoreCommands()
	})

	c, _, tr := newTestClient(t, addr)

	err := runClient(t, c)
	tr.Close()
	if !errors.IsCode(err, errors.CodeUnknownCp) {
		t.Errorf("expected %s, got %v", errors.CodeUnknownCp, err)
	}
	waitDone(t, done)
}

// TestClient_HitUnknownCp verifies a hit in an unregistered function fails.
func TestClient_HitUnknownCp(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(e.hit(MsgBreakpointHit, 0x55, 0))
		e.expectNoMoreCommands()
	})

	c, _, tr := newTestClient(t, addr)

	err := runClient(t, c)
	tr.Close()
	if !errors.IsCode(err, errors.CodeUnknownCp) {
		t.Errorf("expected %s, got %v", errors.CodeUnknownCp, err)
	}
	waitDone(t, done)
}

// TestClient_ParseErrorDiscardsUnit verifies nothing of a failed unit is
// committed and later units still are.
func TestClient_ParseErrorDiscardsUnit(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(
			frame(MsgSourceCodeEnd, []byte("function (")),
			frame(MsgSourceCodeNameEnd, []byte("bad.js")),
			frame(MsgParseFunction, e.u32s(1, 1)),
			frame(MsgBreakpointList, e.u32s(1)),
			frame(MsgBreakpointOffsetList, e.u32s(4)),
			frame(MsgByteCodeCp, e.cp(0x30)),
			frame(MsgParseError, nil),
		)
		e.send(e.parseUnit("good.js", "ok();\n", unitFunction{cp: 0x40, lines: []uint32{1}, offsets: []uint32{2}}))
	})

	c, store, tr := newTestClient(t, addr)
	defer tr.Close()

	if err := runClient(t, c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	waitDone(t, done)

	if _, ok := c.Registry().Get(0x30); ok {
		t.Error("function of a failed unit was registered")
	}
	if _, ok := c.Registry().Get(0x40); !ok {
		t.Error("function of the following unit was not registered")
	}
	if got := store.Sources(); !reflect.DeepEqual(got, []string{"good.js"}) {
		t.Errorf("expected only good.js in coverage, got %v", got)
	}
	stats := c.Stats()
	if stats.ParseErrors != 1 || stats.ParseUnits != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// TestClient_UnexpectedMessages verifies messages invalid for the current
// state end the session with an error.
func TestClient_UnexpectedMessages(t *testing.T) {
	tests := []struct {
		name   string
		frames func(e *fakeEngine) [][]byte
	}{
		{"unknown type", func(e *fakeEngine) [][]byte {
			return [][]byte{frame(MessageType(99), []byte{0})}
		}},
		{"configuration after start", func(e *fakeEngine) [][]byte {
			return [][]byte{frame(MsgConfiguration, []byte{1, 8, 0, 0, 0, 128, 2})}
		}},
		{"hit inside a parse unit", func(e *fakeEngine) [][]byte {
			return [][]byte{frame(MsgSourceCode, []byte("x")), e.hit(MsgBreakpointHit, 1, 1)}
		}},
		{"short function position", func(e *fakeEngine) [][]byte {
			return [][]byte{frame(MsgParseFunction, []byte{1, 0, 0, 0})}
		}},
		{"unpaired breakpoint lists", func(e *fakeEngine) [][]byte {
			return [][]byte{
				frame(MsgBreakpointList, e.u32s(1, 2)),
				frame(MsgBreakpointOffsetList, e.u32s(4)),
				frame(MsgByteCodeCp, e.cp(1)),
			}
		}},
		{"short hit payload", func(e *fakeEngine) [][]byte {
			return [][]byte{frame(MsgBreakpointHit, []byte{1, 0})}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
				e.send(tc.frames(e)...)
				e.expectNoMoreCommands()
			})

			c, _, tr := newTestClient(t, addr)
			err := runClient(t, c)
			tr.Close()
			if !errors.IsCode(err, errors.CodeUnexpectedMessage) {
				t.Errorf("expected %s, got %v", errors.CodeUnexpectedMessage, err)
			}
			waitDone(t, done)
		})
	}
}

// TestClient_ClosedMidUnit verifies a connection lost inside a parse unit
// is an error and commits nothing.
func TestClient_ClosedMidUnit(t *testing.T) {
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		e.send(
			frame(MsgSourceCodeEnd, []byte("f();")),
			frame(MsgParseFunction, e.u32s(1, 1)),
		)
	})

	c, _, tr := newTestClient(t, addr)
	defer tr.Close()

	err := runClient(t, c)
	if !errors.IsCode(err, errors.CodeConnectionClosed) {
		t.Errorf("expected %s, got %v", errors.CodeConnectionClosed, err)
	}
	if c.Registry().Len() != 0 {
		t.Errorf("expected no functions, got %d", c.Registry().Len())
	}
	waitDone(t, done)
}

// TestClient_RunCancelled verifies cancellation stops the run loop.
func TestClient_RunCancelled(t *testing.T) {
	release := make(chan struct{})
	addr, done := startEngine(t, defaultEngine, func(e *fakeEngine) {
		<-release
	})

	c, _, tr := newTestClient(t, addr)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, time.Millisecond)
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(release)
	waitDone(t, done)
}

// TestFunctionRegistry_ReleaseAcknowledges verifies one acknowledgement per
// release and none for unknown pointers.
func TestFunctionRegistry_ReleaseAcknowledges(t *testing.T) {
	r := NewFunctionRegistry()
	f, _ := newFunction(7, true, &buildState{lines: []uint32{3}, offsets: []uint32{1}})
	r.Commit(map[uint32]*Function{7: f})

	ack := &recordingAck{}
	if err := r.Release(7, ack); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := r.Release(7, ack); !errors.IsCode(err, errors.CodeUnknownCp) {
		t.Errorf("expected %s on second release, got %v", errors.CodeUnknownCp, err)
	}
	if !reflect.DeepEqual(ack.cps, []uint32{7}) {
		t.Errorf("expected one acknowledgement for 7, got %v", ack.cps)
	}
	if r.Len() != 0 || len(r.Pointers()) != 0 {
		t.Error("registry not empty after release")
	}
}

type recordingAck struct {
	cps []uint32
}

func (a *recordingAck) SendFreeByteCodeCp(cp uint32) error {
	a.cps = append(a.cps, cp)
	return nil
}
