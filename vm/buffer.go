package vm

// ---------------------------------------------------------------------------
// Buffer: byte-level views of primitive arrays
// ---------------------------------------------------------------------------

// ByteLength returns the payload size in bytes of a primitive-element array,
// or -1 when the elements are not primitives.
func ByteLength(a *Array) int {
	elem := a.class.Elem
	if elem.ByRef || elem.Pointer || !elem.Kind.IsPrimitive() {
		return -1
	}
	return a.length * elem.Size()
}

// GetByte returns byte idx of the array payload.
func GetByte(a *Array, idx int) (byte, error) {
	n := ByteLength(a)
	if n < 0 {
		return 0, argInvalid("array", "array elements are not primitives")
	}
	if idx < 0 || idx >= n {
		return 0, ErrIndexOutOfRange
	}
	return a.mem.Uint8(idx), nil
}

// SetByte overwrites byte idx of the array payload.
func SetByte(a *Array, idx int, v byte) error {
	n := ByteLength(a)
	if n < 0 {
		return argInvalid("array", "array elements are not primitives")
	}
	if idx < 0 || idx >= n {
		return ErrIndexOutOfRange
	}
	a.mem.PutUint8(idx, v)
	return nil
}

// BlockCopy copies count raw bytes between primitive array payloads. The
// caller has validated offsets against ByteLength; nothing is re-checked
// here.
func BlockCopy(src *Array, srcOffset int, dst *Array, dstOffset int, count int) {
	dst.mem.copyBytes(dstOffset, &src.mem, srcOffset, count)
}
