package jerry

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// fakeEngine plays the debug server side of a session over a real TCP
// connection. Scripts run in their own goroutine and report failures with
// t.Errorf.
type fakeEngine struct {
	t      *testing.T
	conn   net.Conn
	order  binary.ByteOrder
	cpSize int
}

type engineOptions struct {
	littleEndian bool
	cpSize       int
	version      uint32
}

var defaultEngine = engineOptions{littleEndian: true, cpSize: 2, version: ProtocolVersion}

// startEngine listens on a loopback port and serves a single connection:
// it checks the upgrade request, replies, sends the configuration frame and
// then runs script. The connection is closed when script returns.
func startEngine(t *testing.T, opts engineOptions, script func(e *fakeEngine)) (string, <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)

		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()

		var order binary.ByteOrder = binary.BigEndian
		if opts.littleEndian {
			order = binary.LittleEndian
		}
		e := &fakeEngine{t: t, conn: conn, order: order, cpSize: opts.cpSize}

		request := make([]byte, len(handshakeRequest))
		if _, err := io.ReadFull(conn, request); err != nil {
			t.Errorf("read upgrade request: %v", err)
			return
		}
		if !bytes.Equal(request, handshakeRequest) {
			t.Errorf("unexpected upgrade request %q", request)
			return
		}

		e.write(handshakeReply, e.configFrame(opts))
		if script != nil {
			script(e)
		}
	}()

	return ln.Addr().String(), done
}

func (e *fakeEngine) configFrame(opts engineOptions) []byte {
	bitfield := byte(0)
	if opts.littleEndian {
		bitfield = littleEndianFlag
	}
	frame := []byte{frameMarker, 8, byte(MsgConfiguration), bitfield}
	version := make([]byte, 4)
	e.order.PutUint32(version, opts.version)
	frame = append(frame, version...)
	return append(frame, 128, byte(opts.cpSize))
}

func (e *fakeEngine) write(chunks ...[]byte) {
	for _, chunk := range chunks {
		if _, err := e.conn.Write(chunk); err != nil {
			e.t.Errorf("engine write: %v", err)
			return
		}
	}
}

// send writes the given frames as one stream.
func (e *fakeEngine) send(frames ...[]byte) {
	e.write(bytes.Join(frames, nil))
}

// closeWrite signals end of stream while still reading client frames.
func (e *fakeEngine) closeWrite() {
	if tcp, ok := e.conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
}

// readCommand reads one client frame and returns its command and payload.
func (e *fakeEngine) readCommand() (CommandType, []byte, bool) {
	e.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	header := make([]byte, 2)
	if _, err := io.ReadFull(e.conn, header); err != nil {
		e.t.Errorf("engine read command header: %v", err)
		return 0, nil, false
	}
	if header[0] != frameMarker || header[1]&websocketFinBit == 0 {
		e.t.Errorf("bad client frame header % x", header)
		return 0, nil, false
	}
	size := int(header[1] &^ websocketFinBit)
	body := make([]byte, 4+size)
	if _, err := io.ReadFull(e.conn, body); err != nil {
		e.t.Errorf("engine read command body: %v", err)
		return 0, nil, false
	}
	if !bytes.Equal(body[:4], []byte{0, 0, 0, 0}) {
		e.t.Errorf("client frame mask is % x, want zero", body[:4])
	}
	return CommandType(body[4]), body[5:], true
}

// expectCommand reads one client frame and checks it.
func (e *fakeEngine) expectCommand(cmd CommandType, payload []byte) {
	got, gotPayload, ok := e.readCommand()
	if !ok {
		return
	}
	if got != cmd || !bytes.Equal(gotPayload, payload) {
		e.t.Errorf("client sent command %d % x, want %d % x", got, gotPayload, cmd, payload)
	}
}

// expectNoMoreCommands reads until the client closes and fails on any data.
func (e *fakeEngine) expectNoMoreCommands() {
	e.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	rest, err := io.ReadAll(e.conn)
	if err != nil {
		e.t.Errorf("engine drain: %v", err)
	}
	if len(rest) != 0 {
		e.t.Errorf("client sent %d unexpected bytes: % x", len(rest), rest)
	}
}

func (e *fakeEngine) cp(v uint32) []byte {
	b := make([]byte, e.cpSize)
	if e.cpSize == 2 {
		e.order.PutUint16(b, uint16(v))
	} else {
		e.order.PutUint32(b, v)
	}
	return b
}

func (e *fakeEngine) u32s(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		e.order.PutUint32(b[4*i:], v)
	}
	return b
}

func (e *fakeEngine) hit(msg MessageType, cp, offset uint32) []byte {
	return frame(msg, append(e.cp(cp), e.u32s(offset)...))
}

// unitFunction describes one function of a scripted parse unit.
type unitFunction struct {
	cp      uint32
	name    string
	line    uint32
	column  uint32
	lines   []uint32
	offsets []uint32
}

// parseUnit builds the frames of a parse unit with one level of nesting:
// every inner function is defined and completed before the outer script.
func (e *fakeEngine) parseUnit(sourceName, source string, outer unitFunction, inner ...unitFunction) []byte {
	var frames [][]byte
	frames = append(frames, frame(MsgSourceCodeEnd, []byte(source)))
	frames = append(frames, frame(MsgSourceCodeNameEnd, []byte(sourceName)))
	for _, f := range inner {
		frames = append(frames, frame(MsgFunctionNameEnd, []byte(f.name)))
		frames = append(frames, frame(MsgParseFunction, e.u32s(f.line, f.column)))
		frames = append(frames, frame(MsgBreakpointList, e.u32s(f.lines...)))
		frames = append(frames, frame(MsgBreakpointOffsetList, e.u32s(f.offsets...)))
		frames = append(frames, frame(MsgByteCodeCp, e.cp(f.cp)))
	}
	frames = append(frames, frame(MsgBreakpointList, e.u32s(outer.lines...)))
	frames = append(frames, frame(MsgBreakpointOffsetList, e.u32s(outer.offsets...)))
	frames = append(frames, frame(MsgByteCodeCp, e.cp(outer.cp)))
	return bytes.Join(frames, nil)
}

// frame builds a server frame. Payloads may be empty; the type tag is
// always present.
func frame(msg MessageType, payload []byte) []byte {
	return append([]byte{frameMarker, byte(1 + len(payload)), byte(msg)}, payload...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fake engine did not finish")
	}
}
