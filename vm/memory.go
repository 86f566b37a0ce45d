package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Memory: the object memory view
// ---------------------------------------------------------------------------

// Memory is the payload of an object, boxed value, array or static area.
//
// It has two planes sharing one offset space:
//   - a byte plane holding every value-type field and element
//   - a reference plane with one slot per RefSize-aligned word, holding
//     managed references the collector can see
//
// All offset arithmetic in the package goes through Memory. Every access is
// checked against the layout size; a violation means a descriptor is
// corrupt and panics.
type Memory struct {
	data  []byte
	refs  []Ref
	order binary.ByteOrder
}

func newMemory(size int, withRefs bool, order binary.ByteOrder) Memory {
	m := Memory{data: make([]byte, size), order: order}
	if withRefs {
		m.refs = make([]Ref, (size+RefSize-1)/RefSize)
	}
	return m
}

// Len returns the layout size in bytes.
func (m *Memory) Len() int { return len(m.data) }

// Order returns the byte order used for multi-byte scalars.
func (m *Memory) Order() binary.ByteOrder { return m.order }

func (m *Memory) check(off, n int) {
	if off < 0 || n < 0 || off+n > len(m.data) {
		panic(fmt.Sprintf("vm: memory access [%d,%d) outside layout of %d bytes", off, off+n, len(m.data)))
	}
}

func (m *Memory) checkRef(off int) {
	m.check(off, RefSize)
	if off%RefSize != 0 {
		panic(fmt.Sprintf("vm: unaligned reference slot at offset %d", off))
	}
	if m.refs == nil {
		panic(fmt.Sprintf("vm: reference slot at offset %d in a layout without references", off))
	}
}

func (m *Memory) clone() Memory {
	c := Memory{data: bytes.Clone(m.data), order: m.order}
	if m.refs != nil {
		c.refs = make([]Ref, len(m.refs))
		copy(c.refs, m.refs)
	}
	return c
}

// ---------------------------------------------------------------------------
// Scalar access
// ---------------------------------------------------------------------------

func (m *Memory) Uint8(off int) uint8 {
	m.check(off, 1)
	return m.data[off]
}

func (m *Memory) PutUint8(off int, v uint8) {
	m.check(off, 1)
	m.data[off] = v
}

func (m *Memory) Uint16(off int) uint16 {
	m.check(off, 2)
	return m.order.Uint16(m.data[off:])
}

func (m *Memory) PutUint16(off int, v uint16) {
	m.check(off, 2)
	m.order.PutUint16(m.data[off:], v)
}

func (m *Memory) Uint32(off int) uint32 {
	m.check(off, 4)
	return m.order.Uint32(m.data[off:])
}

func (m *Memory) PutUint32(off int, v uint32) {
	m.check(off, 4)
	m.order.PutUint32(m.data[off:], v)
}

func (m *Memory) Uint64(off int) uint64 {
	m.check(off, 8)
	return m.order.Uint64(m.data[off:])
}

func (m *Memory) PutUint64(off int, v uint64) {
	m.check(off, 8)
	m.order.PutUint64(m.data[off:], v)
}

// Ref returns the reference stored in the slot at off.
func (m *Memory) Ref(off int) Ref {
	m.checkRef(off)
	return m.refs[off/RefSize]
}

// SetRef stores r in the slot at off.
func (m *Memory) SetRef(off int, r Ref) {
	m.checkRef(off)
	if isNilRef(r) {
		r = nil
	}
	m.refs[off/RefSize] = r
}

// loadUnsigned reads an unsigned (or char/boolean) scalar zero-extended.
func (m *Memory) loadUnsigned(off int, k Kind) uint64 {
	switch k.primitiveSize() {
	case 1:
		return uint64(m.Uint8(off))
	case 2:
		return uint64(m.Uint16(off))
	case 4:
		return uint64(m.Uint32(off))
	case 8:
		return m.Uint64(off)
	}
	panic(fmt.Sprintf("vm: loadUnsigned: kind %v is not a scalar", k))
}

// loadSigned reads a signed integer scalar sign-extended.
func (m *Memory) loadSigned(off int, k Kind) int64 {
	switch k.primitiveSize() {
	case 1:
		return int64(int8(m.Uint8(off)))
	case 2:
		return int64(int16(m.Uint16(off)))
	case 4:
		return int64(int32(m.Uint32(off)))
	case 8:
		return int64(m.Uint64(off))
	}
	panic(fmt.Sprintf("vm: loadSigned: kind %v is not a scalar", k))
}

func (m *Memory) loadFloat(off int, k Kind) float64 {
	switch k {
	case KindR4:
		return float64(math.Float32frombits(m.Uint32(off)))
	case KindR8:
		return math.Float64frombits(m.Uint64(off))
	}
	panic(fmt.Sprintf("vm: loadFloat: kind %v is not floating point", k))
}

// storeBits writes the low bits of v sized to k.
func (m *Memory) storeBits(off int, k Kind, v uint64) {
	switch k.primitiveSize() {
	case 1:
		m.PutUint8(off, uint8(v))
	case 2:
		m.PutUint16(off, uint16(v))
	case 4:
		m.PutUint32(off, uint32(v))
	case 8:
		m.PutUint64(off, v)
	default:
		panic(fmt.Sprintf("vm: storeBits: kind %v is not a scalar", k))
	}
}

func (m *Memory) storeFloat(off int, k Kind, v float64) {
	switch k {
	case KindR4:
		m.PutUint32(off, math.Float32bits(float32(v)))
	case KindR8:
		m.PutUint64(off, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("vm: storeFloat: kind %v is not floating point", k))
	}
}

// ---------------------------------------------------------------------------
// Block operations
// ---------------------------------------------------------------------------

// Zero clears n bytes at off together with any reference slots they cover.
func (m *Memory) Zero(off, n int) {
	m.check(off, n)
	clear(m.data[off : off+n])
	if m.refs != nil && n > 0 {
		clear(m.refs[off/RefSize : (off+n+RefSize-1)/RefSize])
	}
}

// Copy moves n bytes from src at srcOff to m at dstOff, including the
// reference slots covered by the range. Overlapping ranges are safe.
func (m *Memory) Copy(dstOff int, src *Memory, srcOff, n int) {
	m.check(dstOff, n)
	src.check(srcOff, n)
	copy(m.data[dstOff:dstOff+n], src.data[srcOff:srcOff+n])
	if n == 0 || (m.refs == nil && src.refs == nil) {
		return
	}
	if m.refs == nil {
		return
	}
	lo, hi := dstOff/RefSize, (dstOff+n+RefSize-1)/RefSize
	if src.refs == nil {
		clear(m.refs[lo:hi])
		return
	}
	if dstOff%RefSize != 0 || srcOff%RefSize != 0 {
		panic(fmt.Sprintf("vm: unaligned copy of reference-bearing memory (%d <- %d)", dstOff, srcOff))
	}
	copy(m.refs[lo:hi], src.refs[srcOff/RefSize:])
}

// copyBytes moves raw bytes only. It is the unchecked Buffer path: the
// caller guarantees both ranges are in bounds.
func (m *Memory) copyBytes(dstOff int, src *Memory, srcOff, n int) {
	copy(m.data[dstOff:dstOff+n], src.data[srcOff:srcOff+n])
}

// PutBytes copies b into the byte plane at off.
func (m *Memory) PutBytes(off int, b []byte) {
	m.check(off, len(b))
	copy(m.data[off:], b)
}

// Bytes returns a copy of n bytes at off.
func (m *Memory) Bytes(off, n int) []byte {
	m.check(off, n)
	return bytes.Clone(m.data[off : off+n])
}

// Equal compares n bytes and the covered reference slots by identity. A
// layout without a reference plane compares as all nil references.
func (m *Memory) Equal(off int, o *Memory, ooff, n int) bool {
	m.check(off, n)
	o.check(ooff, n)
	if !bytes.Equal(m.data[off:off+n], o.data[ooff:ooff+n]) {
		return false
	}
	a, b := m.refSlots(off, n), o.refSlots(ooff, n)
	for i := range max(len(a), len(b)) {
		var x, y Ref
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if isNilRef(x) != isNilRef(y) || !isNilRef(x) && x != y {
			return false
		}
	}
	return true
}

// refSlots returns the reference slots covering [off, off+n), or nil when
// the layout has no reference plane.
func (m *Memory) refSlots(off, n int) []Ref {
	if m.refs == nil || n == 0 {
		return nil
	}
	return m.refs[off/RefSize : (off+n+RefSize-1)/RefSize]
}

func isBigEndian(order binary.ByteOrder) bool {
	var b [2]byte
	order.PutUint16(b[:], 1)
	return b[0] == 0
}
