// Package leb128 implements the variable-length integer encoding used
// throughout the WebAssembly binary format.
//
// See https://webassembly.github.io/spec/core/binary/values.html#integers
package leb128

import "errors"

// ErrOverflow is returned when a LEB128-encoded integer uses more bytes
// than its target type can represent.
var ErrOverflow = errors.New("leb128: integer overflow")

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// LoadUint32 decodes an unsigned LEB128 value from the head of buf,
// returning the value and the number of bytes consumed.
func LoadUint32(buf []byte) (uint32, uint64, error) {
	v, n, err := LoadUint64(buf)
	if err != nil {
		return 0, n, err
	}
	if v > 0xffffffff {
		return 0, n, ErrOverflow
	}
	return uint32(v), n, nil
}

// LoadUint64 decodes an unsigned LEB128 value from the head of buf.
func LoadUint64(buf []byte) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var n uint64
	for {
		if int(n) >= len(buf) {
			return 0, n, errors.New("leb128: unexpected end of buffer")
		}
		b := buf[n]
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, n, ErrOverflow
		}
	}
}

// LoadInt32 decodes a signed LEB128 value from the head of buf.
func LoadInt32(buf []byte) (int32, uint64, error) {
	v, n, err := LoadInt64(buf)
	if err != nil {
		return 0, n, err
	}
	if v > 0x7fffffff || v < -0x80000000 {
		return 0, n, ErrOverflow
	}
	return int32(v), n, nil
}

// LoadInt64 decodes a signed LEB128 value from the head of buf.
func LoadInt64(buf []byte) (int64, uint64, error) {
	var result int64
	var shift uint
	var n uint64
	var b byte
	for {
		if int(n) >= len(buf) {
			return 0, n, errors.New("leb128: unexpected end of buffer")
		}
		b = buf[n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, n, ErrOverflow
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}
