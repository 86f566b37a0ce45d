package vm

// ---------------------------------------------------------------------------
// Widening: primitive coercion rules for array stores
// ---------------------------------------------------------------------------

// Conversion is the verdict for storing a boxed primitive of one kind into a
// slot of another.
type Conversion uint8

const (
	// ConvInvalidCast: the pair is not a primitive conversion at all.
	ConvInvalidCast Conversion = iota
	// ConvExact: same kind, copy the bytes.
	ConvExact
	// ConvWiden: lossless widening, convert and store.
	ConvWiden
	// ConvNotWidening: a primitive pair that would narrow or change sign.
	ConvNotWidening
)

func (c Conversion) String() string {
	switch c {
	case ConvExact:
		return "exact"
	case ConvWiden:
		return "widen"
	case ConvNotWidening:
		return "not-widening"
	}
	return "invalid-cast"
}

type numClass uint8

const (
	numNone numClass = iota
	numBool
	numUnsigned
	numSigned
	numFloat
)

// classify groups primitive kinds. Char counts as unsigned.
func classify(k Kind) numClass {
	switch k {
	case KindBoolean:
		return numBool
	case KindChar, KindU1, KindU2, KindU4, KindU8:
		return numUnsigned
	case KindI1, KindI2, KindI4, KindI8:
		return numSigned
	case KindR4, KindR8:
		return numFloat
	}
	return numNone
}

// Widening decides whether a boxed src value may be stored in a dst slot.
//
//	dst unsigned: unsigned src no wider than dst
//	dst signed:   signed src no wider, or unsigned src strictly narrower
//	dst float:    any integer, or a float no wider
//
// Boolean only pairs with itself. Non-primitive kinds are invalid casts.
func Widening(dst, src Kind) Conversion {
	d, s := classify(dst), classify(src)
	if d == numNone || s == numNone {
		return ConvInvalidCast
	}
	if dst == src {
		return ConvExact
	}
	if d == numBool || s == numBool {
		return ConvNotWidening
	}
	dsz, ssz := dst.primitiveSize(), src.primitiveSize()
	switch d {
	case numUnsigned:
		if s == numUnsigned && dsz >= ssz {
			return ConvWiden
		}
	case numSigned:
		if s == numSigned && dsz >= ssz || s == numUnsigned && dsz > ssz {
			return ConvWiden
		}
	case numFloat:
		if s != numFloat || dsz >= ssz {
			return ConvWiden
		}
	}
	return ConvNotWidening
}

// widen converts the scalar of kind src at soff into kind dst at doff. The
// pair must have been approved by Widening.
func widen(dstMem *Memory, doff int, dst Kind, srcMem *Memory, soff int, src Kind) {
	switch classify(src) {
	case numUnsigned:
		u := srcMem.loadUnsigned(soff, src)
		if classify(dst) == numFloat {
			dstMem.storeFloat(doff, dst, float64(u))
			return
		}
		dstMem.storeBits(doff, dst, u)
	case numSigned:
		i := srcMem.loadSigned(soff, src)
		if classify(dst) == numFloat {
			dstMem.storeFloat(doff, dst, float64(i))
			return
		}
		dstMem.storeBits(doff, dst, uint64(i))
	case numFloat:
		dstMem.storeFloat(doff, dst, srcMem.loadFloat(soff, src))
	default:
		panic("vm: widen: source is not numeric")
	}
}
