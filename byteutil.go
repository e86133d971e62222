package odb

import (
	"encoding/binary"
	"fmt"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	off, buf := grow(buf, 8)
	binary.BigEndian.PutUint64(buf[off:], v)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	off, buf := grow(buf, 4)
	binary.BigEndian.PutUint32(buf[off:], v)
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

const (
	escByte  = 0x00
	escFill  = 0xFF
	termByte = 0x00
)

// appendTerminated appends v escaped so that the result is self-delimiting
// and preserves lexicographic order: 0x00 becomes 0x00 0xFF, and the sequence
// is closed with a lone 0x00 terminator (which sorts before any escaped
// byte).
func appendTerminated(buf []byte, v []byte) []byte {
	for _, b := range v {
		if b == escByte {
			buf = append(buf, escByte, escFill)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, termByte)
}

// decodeTerminated reverses appendTerminated, returning the unescaped bytes
// and the number of input bytes consumed including the terminator.
func decodeTerminated(data []byte) ([]byte, int, error) {
	var out []byte
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != escByte {
			out = append(out, b)
			continue
		}
		if i+1 >= len(data) {
			return out, i + 1, nil // lone 0x00 at end = terminator
		}
		if data[i+1] == escFill {
			out = append(out, escByte)
			i++
			continue
		}
		return out, i + 1, nil
	}
	return nil, 0, fmt.Errorf("unterminated byte sequence")
}

// terminatedLen returns the encoded length of the escaped sequence at the
// start of data, including the terminator, without unescaping.
func terminatedLen(data []byte) (int, error) {
	for i := 0; i < len(data); i++ {
		if data[i] != escByte {
			continue
		}
		if i+1 < len(data) && data[i+1] == escFill {
			i++
			continue
		}
		return i + 1, nil
	}
	return 0, fmt.Errorf("unterminated byte sequence")
}
