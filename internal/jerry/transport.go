package jerry

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ctagard/jerry-coverage/internal/errors"
)

// fallbackPollWait is how long a non-blocking read waits on connections whose
// readiness cannot be polled directly.
const fallbackPollWait = time.Millisecond

// SessionConfig holds the values negotiated by the configuration frame.
type SessionConfig struct {
	LittleEndian   bool
	Version        uint32
	MaxMessageSize int
	CpSize         int
}

func (c SessionConfig) String() string {
	order := "big-endian"
	if c.LittleEndian {
		order = "little-endian"
	}
	return fmt.Sprintf("version %d, %s, %d-byte pointers, max message %d", c.Version, order, c.CpSize, c.MaxMessageSize)
}

// Frame is one complete frame: 2-byte header, type tag, payload.
type Frame []byte

// Type returns the message type tag.
func (f Frame) Type() MessageType {
	return MessageType(f[frameHeaderSize])
}

// Payload returns the bytes following the type tag.
func (f Frame) Payload() []byte {
	return f[frameHeaderSize+1:]
}

// ReadStatus describes the outcome of ReadFrame.
type ReadStatus int

const (
	// FrameReady means a complete frame was returned.
	FrameReady ReadStatus = iota
	// FrameEmpty means a non-blocking read found no complete frame.
	FrameEmpty
	// FrameClosed means the peer closed the connection; no more frames follow.
	FrameClosed
)

// Transport owns the connection to the debug server and the buffer of
// received bytes not yet consumed as frames.
type Transport struct {
	conn   net.Conn
	codec  Codec
	config SessionConfig
	buf    []byte
	eof    bool
	closed bool
}

// Dial connects to a debug server at address ("host:port") and runs the
// handshake and configuration exchange.
func Dial(address string) (*Transport, error) {
	return DialContext(context.Background(), address)
}

// DialContext is Dial with cancellation. Cancelling ctx aborts the connect
// and any wait for the handshake reply or the configuration frame; the
// returned error is then ctx.Err().
func DialContext(ctx context.Context, address string) (*Transport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ConnectFailed(address, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	t, err := NewTransport(conn)
	if !stop() || err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return t, nil
}

// NewTransport performs the upgrade handshake and reads the configuration
// frame over an established connection. Bytes received past the
// configuration frame are kept for ReadFrame.
func NewTransport(conn net.Conn) (*Transport, error) {
	t := &Transport{conn: conn}

	if err := t.handshake(); err != nil {
		return nil, err
	}
	if err := t.readConfiguration(); err != nil {
		return nil, err
	}
	return t, nil
}

// Config returns the negotiated session configuration.
func (t *Transport) Config() SessionConfig {
	return t.config
}

// Codec returns the codec bound to the negotiated configuration.
func (t *Transport) Codec() Codec {
	return t.codec
}

// Close closes the connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) handshake() error {
	if err := t.write(handshakeRequest); err != nil {
		return err
	}

	if err := t.fillTo(len(handshakeReply)); err != nil {
		if errors.IsCode(err, errors.CodeConnectionClosed) {
			return errors.HandshakeFailed("connection closed before the upgrade reply").WithCause(err)
		}
		return err
	}

	if !bytes.Equal(t.buf[:len(handshakeReply)], handshakeReply) {
		return errors.HandshakeFailed("upgrade reply does not match").
			WithDetails("reply", string(t.buf[:len(handshakeReply)]))
	}
	t.buf = t.buf[len(handshakeReply):]
	return nil
}

func (t *Transport) readConfiguration() error {
	if err := t.fillTo(configFrameSize); err != nil {
		return err
	}

	head := t.buf[:configFrameSize]
	if head[0] != frameMarker || head[1] != configFrameSize-frameHeaderSize || MessageType(head[2]) != MsgConfiguration {
		return errors.UnexpectedMessage("bad configuration frame header % x", head[:3])
	}

	littleEndian := head[3]&littleEndianFlag != 0
	// The version is checked before the pointer width so an incompatible
	// engine is always reported as a version mismatch.
	versionCodec, _ := NewCodec(littleEndian, 4)
	version, err := versionCodec.Uint32(head[4:8])
	if err != nil {
		return err
	}
	if version != ProtocolVersion {
		return errors.ProtocolVersion(version, ProtocolVersion)
	}

	codec, err := NewCodec(littleEndian, int(head[9]))
	if err != nil {
		return err
	}

	t.codec = codec
	t.config = SessionConfig{
		LittleEndian:   littleEndian,
		Version:        version,
		MaxMessageSize: int(head[8]),
		CpSize:         codec.CpSize,
	}
	t.buf = t.buf[configFrameSize:]
	return nil
}

// fillTo blocks until the buffer holds at least n bytes.
func (t *Transport) fillTo(n int) error {
	chunk := make([]byte, 1024)
	for len(t.buf) < n {
		read, err := t.conn.Read(chunk)
		t.buf = append(t.buf, chunk[:read]...)
		if err != nil {
			if len(t.buf) >= n {
				break
			}
			if err == io.EOF {
				return errors.ConnectionClosed("initialization")
			}
			return errors.ConnectionClosed("initialization").WithCause(err)
		}
	}
	return nil
}

// ReadFrame extracts the next complete frame from the buffer, reading from
// the connection when the buffer holds only part of one. In non-blocking
// mode it returns FrameEmpty instead of waiting for data. After the peer
// closes the connection every call returns FrameClosed.
func (t *Transport) ReadFrame(blocking bool) (Frame, ReadStatus, error) {
	if t.closed {
		return nil, FrameClosed, nil
	}

	for {
		if len(t.buf) >= frameHeaderSize {
			if t.buf[0] != frameMarker {
				return nil, FrameEmpty, errors.UnexpectedMessage("unexpected data frame marker %#x", t.buf[0])
			}
			size := int(t.buf[1])
			if size == 0 || size > maxPayloadSize {
				return nil, FrameEmpty, errors.UnexpectedMessage("unexpected data frame size %d", size)
			}
			if len(t.buf) >= frameHeaderSize+size {
				frame := make(Frame, frameHeaderSize+size)
				copy(frame, t.buf)
				t.buf = t.buf[frameHeaderSize+size:]
				return frame, FrameReady, nil
			}
		}

		if t.eof {
			t.closed = true
			t.buf = nil
			return nil, FrameClosed, nil
		}

		got, err := t.recv(blocking)
		if err != nil {
			return nil, FrameEmpty, err
		}
		if !got {
			return nil, FrameEmpty, nil
		}
	}
}

// recv appends one chunk read from the connection to the buffer. In
// non-blocking mode it reports false when no data is pending.
func (t *Transport) recv(blocking bool) (bool, error) {
	chunk := make([]byte, recvChunkSize)

	if !blocking {
		ready, supported, err := pollReadable(t.conn)
		if err != nil {
			return false, errors.ConnectionClosed("poll").WithCause(err)
		}
		if supported && !ready {
			return false, nil
		}
		if !supported {
			return t.recvWithin(chunk, fallbackPollWait)
		}
	}

	n, err := t.conn.Read(chunk)
	t.buf = append(t.buf, chunk[:n]...)
	if err != nil {
		if err == io.EOF {
			t.eof = true
			return true, nil
		}
		return false, errors.ConnectionClosed("read").WithCause(err)
	}
	return true, nil
}

// recvWithin reads with a short deadline, for connections without a
// pollable descriptor.
func (t *Transport) recvWithin(chunk []byte, wait time.Duration) (bool, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return false, errors.ConnectionClosed("poll").WithCause(err)
	}
	n, err := t.conn.Read(chunk)
	t.conn.SetReadDeadline(time.Time{})

	t.buf = append(t.buf, chunk[:n]...)
	if err != nil {
		if stderrors.Is(err, os.ErrDeadlineExceeded) {
			return n > 0, nil
		}
		if err == io.EOF {
			t.eof = true
			return true, nil
		}
		return false, errors.ConnectionClosed("read").WithCause(err)
	}
	return true, nil
}

// SendFreeByteCodeCp acknowledges the release of a byte code pointer.
func (t *Transport) SendFreeByteCodeCp(cp uint32) error {
	return t.send(CmdFreeByteCodeCp, t.codec.AppendCp(nil, cp))
}

// SendUpdateBreakpoint enables or disables the breakpoint at offset in the
// function identified by cp.
func (t *Transport) SendUpdateBreakpoint(active bool, cp, offset uint32) error {
	payload := []byte{0}
	if active {
		payload[0] = 1
	}
	payload = t.codec.AppendCp(payload, cp)
	payload = t.codec.AppendUint32(payload, offset)
	return t.send(CmdUpdateBreakpoint, payload)
}

// SendContinue resumes execution of a stopped engine.
func (t *Transport) SendContinue() error {
	return t.send(CmdContinue, nil)
}

// send writes a client frame. Client frames set the mask bit in the length
// byte and carry an all-zero mask key.
func (t *Transport) send(cmd CommandType, payload []byte) error {
	size := 1 + len(payload)
	msg := make([]byte, 0, frameHeaderSize+4+size)
	msg = append(msg, frameMarker, websocketFinBit|byte(size), 0, 0, 0, 0, byte(cmd))
	msg = append(msg, payload...)
	return t.write(msg)
}

func (t *Transport) write(msg []byte) error {
	for len(msg) > 0 {
		n, err := t.conn.Write(msg)
		if err != nil {
			return errors.ConnectionClosed("write").WithCause(err)
		}
		msg = msg[n:]
	}
	return nil
}
