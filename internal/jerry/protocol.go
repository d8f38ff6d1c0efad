// Package jerry implements a client for the JerryScript remote debugger
// protocol, specialised for collecting source-line coverage.
//
// The protocol runs over a TCP connection upgraded with a fixed, minimal
// WebSocket handshake. After the upgrade the engine sends a configuration
// frame that fixes the byte order and the width of compressed pointers for
// the rest of the session. This package provides:
//   - Codec: typed reads and writes bound to the negotiated configuration
//   - Transport: handshake, configuration and frame extraction
//   - FunctionRegistry: committed functions keyed by compressed pointer
//   - Client: parse-unit reconstruction, hit resolution and run control
package jerry

import "fmt"

// ProtocolVersion is the debugger protocol version this client speaks.
const ProtocolVersion = 8

// DefaultPort is used when an address carries no port.
const DefaultPort = 5001

// Frame layout constants.
const (
	websocketBinaryFrame = 2
	websocketFinBit      = 0x80

	// frameMarker is the first byte of every frame: binary opcode, final.
	frameMarker = websocketBinaryFrame | websocketFinBit

	// maxPayloadSize is the largest payload a single-byte length can describe
	// without the extended length forms, which the protocol never uses.
	maxPayloadSize = 125

	frameHeaderSize = 2

	// recvChunkSize bounds a single socket read.
	recvChunkSize = 128

	// configFrameSize is header(2) + type(1) + bitfield(1) + version(4) +
	// max message size(1) + cp size(1).
	configFrameSize = 10

	littleEndianFlag = 0x1
)

// MessageType is the type tag of a frame sent by the engine.
type MessageType byte

// Messages sent by the engine to the client.
const (
	MsgConfiguration        MessageType = 1
	MsgParseError           MessageType = 2
	MsgByteCodeCp           MessageType = 3
	MsgParseFunction        MessageType = 4
	MsgBreakpointList       MessageType = 5
	MsgBreakpointOffsetList MessageType = 6
	MsgSourceCode           MessageType = 7
	MsgSourceCodeEnd        MessageType = 8
	MsgSourceCodeName       MessageType = 9
	MsgSourceCodeNameEnd    MessageType = 10
	MsgFunctionName         MessageType = 11
	MsgFunctionNameEnd      MessageType = 12
	MsgReleaseByteCodeCp    MessageType = 14
	MsgBreakpointHit        MessageType = 16
	MsgExceptionHit         MessageType = 17
	MsgExceptionString      MessageType = 18
	MsgExceptionStringEnd   MessageType = 19
)

var messageTypeNames = map[MessageType]string{
	MsgConfiguration:        "CONFIGURATION",
	MsgParseError:           "PARSE_ERROR",
	MsgByteCodeCp:           "BYTE_CODE_CP",
	MsgParseFunction:        "PARSE_FUNCTION",
	MsgBreakpointList:       "BREAKPOINT_LIST",
	MsgBreakpointOffsetList: "BREAKPOINT_OFFSET_LIST",
	MsgSourceCode:           "SOURCE_CODE",
	MsgSourceCodeEnd:        "SOURCE_CODE_END",
	MsgSourceCodeName:       "SOURCE_CODE_NAME",
	MsgSourceCodeNameEnd:    "SOURCE_CODE_NAME_END",
	MsgFunctionName:         "FUNCTION_NAME",
	MsgFunctionNameEnd:      "FUNCTION_NAME_END",
	MsgReleaseByteCodeCp:    "RELEASE_BYTE_CODE_CP",
	MsgBreakpointHit:        "BREAKPOINT_HIT",
	MsgExceptionHit:         "EXCEPTION_HIT",
	MsgExceptionString:      "EXCEPTION_STR",
	MsgExceptionStringEnd:   "EXCEPTION_STR_END",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// IsParse reports whether the message belongs to a parse unit.
func (t MessageType) IsParse() bool {
	switch t {
	case MsgParseError, MsgByteCodeCp, MsgParseFunction,
		MsgBreakpointList, MsgBreakpointOffsetList,
		MsgSourceCode, MsgSourceCodeEnd,
		MsgSourceCodeName, MsgSourceCodeNameEnd,
		MsgFunctionName, MsgFunctionNameEnd:
		return true
	}
	return false
}

// CommandType is the type tag of a frame sent by the client.
type CommandType byte

// Messages sent by the client to the engine.
const (
	CmdFreeByteCodeCp   CommandType = 1
	CmdUpdateBreakpoint CommandType = 2
	CmdContinue         CommandType = 12
)

// Action tells the driver loop what to do after ProcessMessages returns.
type Action int

const (
	// ActionNone means a message was handled; poll again.
	ActionNone Action = iota
	// ActionEnd means the engine closed the connection.
	ActionEnd
	// ActionWait means nothing is pending and no response is owed.
	ActionWait
	// ActionPrompt means the engine is stopped and waits for a command.
	ActionPrompt
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionEnd:
		return "end"
	case ActionWait:
		return "wait"
	case ActionPrompt:
		return "prompt"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

var handshakeRequest = []byte("GET /jerry-debugger HTTP/1.1\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")

var handshakeReply = []byte("HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n")
