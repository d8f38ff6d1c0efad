package jerry

import (
	"encoding/binary"

	"github.com/ctagard/jerry-coverage/internal/errors"
)

// Codec reads and writes the multi-byte fields of a session. Its byte order
// and compressed pointer width are fixed by the configuration frame.
type Codec struct {
	Order  binary.ByteOrder
	CpSize int
}

// NewCodec returns a codec for the given endianness and pointer width.
// Only 2 and 4 byte compressed pointers exist.
func NewCodec(littleEndian bool, cpSize int) (Codec, error) {
	if cpSize != 2 && cpSize != 4 {
		return Codec{}, errors.UnexpectedMessage("unsupported compressed pointer size %d", cpSize)
	}
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}
	return Codec{Order: order, CpSize: cpSize}, nil
}

// Uint32 decodes a 4-byte integer from the start of b.
func (c Codec) Uint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, errors.UnexpectedMessage("need 4 bytes for an integer, have %d", len(b))
	}
	return c.Order.Uint32(b), nil
}

// Cp decodes a compressed pointer from the start of b.
func (c Codec) Cp(b []byte) (uint32, error) {
	if len(b) < c.CpSize {
		return 0, errors.UnexpectedMessage("need %d bytes for a compressed pointer, have %d", c.CpSize, len(b))
	}
	if c.CpSize == 2 {
		return uint32(c.Order.Uint16(b)), nil
	}
	return c.Order.Uint32(b), nil
}

// CpOffset decodes the (compressed pointer, offset) pair carried by hit messages.
func (c Codec) CpOffset(b []byte) (cp uint32, offset uint32, err error) {
	if len(b) != c.CpSize+4 {
		return 0, 0, errors.UnexpectedMessage("hit payload has %d bytes, want %d", len(b), c.CpSize+4)
	}
	if cp, err = c.Cp(b); err != nil {
		return 0, 0, err
	}
	offset, err = c.Uint32(b[c.CpSize:])
	return cp, offset, err
}

// Uint32s decodes b as a packed sequence of 4-byte integers.
func (c Codec) Uint32s(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, errors.UnexpectedMessage("integer list length %d is not a multiple of 4", len(b))
	}
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i < len(b); i += 4 {
		out = append(out, c.Order.Uint32(b[i:]))
	}
	return out, nil
}

// AppendUint32 appends v as a 4-byte integer.
func (c Codec) AppendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	c.Order.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendCp appends cp using the negotiated pointer width.
func (c Codec) AppendCp(b []byte, cp uint32) []byte {
	if c.CpSize == 2 {
		var tmp [2]byte
		c.Order.PutUint16(tmp[:], uint16(cp))
		return append(b, tmp[:]...)
	}
	return c.AppendUint32(b, cp)
}
