package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// Ref is a managed reference: an object, a boxed value, a string or an
// array. A nil Ref is the null reference.
type Ref interface {
	Class() *Class
	IdentityHash() int32
	heapHeader() *header
}

// header is the common prefix of every heap allocation.
type header struct {
	class  *Class
	domain *Domain
	hash   int32
}

// Class returns the runtime class of the allocation.
func (h *header) Class() *Class { return h.class }

// Domain returns the domain that allocated the object.
func (h *header) Domain() *Domain { return h.domain }

// IdentityHash returns the hash assigned at allocation. It is stable for the
// life of the object.
func (h *header) IdentityHash() int32 { return h.hash }

func (h *header) heapHeader() *header { return h }

// isNilRef treats typed nil pointers the same as a nil interface.
func isNilRef(r Ref) bool {
	switch x := r.(type) {
	case nil:
		return true
	case *Object:
		return x == nil
	case *Array:
		return x == nil
	case *String:
		return x == nil
	}
	return false
}

// Object is an instance of a reference class or a boxed value type.
type Object struct {
	header
	mem Memory
}

// Memory exposes the payload of the object.
func (o *Object) Memory() *Memory { return &o.mem }

// String is an immutable managed string.
type String struct {
	header
	value string
}

// Value returns the Go string.
func (s *String) Value() string { return s.value }

func (s *String) String() string { return s.value }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewObject allocates a zeroed instance of c.
func (d *Domain) NewObject(c *Class) *Object {
	if c.Rank > 0 || c.intrinsic == KindString {
		panic(fmt.Sprintf("vm: NewObject: %s needs a dedicated allocator", c.FullName()))
	}
	return &Object{
		header: d.newHeader(c),
		mem:    newMemory(c.InstanceSize(), c.hasInstanceRefs(), d.Order),
	}
}

// NewString allocates a managed string.
func (d *Domain) NewString(s string) *String {
	return &String{header: d.newHeader(d.Corlib().String), value: s}
}

// Box copies the value of class c found at off in src into a new object.
func (d *Domain) Box(c *Class, src *Memory, off int) *Object {
	o := d.NewObject(c)
	o.mem.Copy(0, src, off, c.InstanceSize())
	return o
}

// BoxValue boxes a Go scalar as an instance of a primitive or enum class.
// Integers are truncated to the class width; floats are accepted only for
// floating point classes.
func (d *Domain) BoxValue(c *Class, v any) (*Object, error) {
	k := c.Type().Underlying().Kind
	if !k.IsPrimitive() && k != KindI && k != KindU {
		return nil, fmt.Errorf("%w: cannot box a Go value as %s", ErrInvalidCast, c.FullName())
	}
	o := d.NewObject(c)
	switch x := v.(type) {
	case bool:
		if k != KindBoolean {
			return nil, fmt.Errorf("%w: bool into %s", ErrInvalidCast, c.FullName())
		}
		if x {
			o.mem.PutUint8(0, 1)
		}
		return o, nil
	case float32, float64:
		if k != KindR4 && k != KindR8 {
			return nil, fmt.Errorf("%w: %T into %s", ErrInvalidCast, v, c.FullName())
		}
		f, _ := toFloat64(x)
		o.mem.storeFloat(0, k, f)
		return o, nil
	}
	bits, signed, ok := integerBits(v)
	if !ok || k == KindBoolean {
		return nil, fmt.Errorf("%w: %T into %s", ErrInvalidCast, v, c.FullName())
	}
	switch k {
	case KindR4, KindR8:
		f := float64(bits)
		if signed {
			f = float64(int64(bits))
		}
		o.mem.storeFloat(0, k, f)
	default:
		o.mem.storeBits(0, k, bits)
	}
	return o, nil
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func integerBits(v any) (bits uint64, signed, ok bool) {
	switch x := v.(type) {
	case int:
		return uint64(x), true, true
	case int8:
		return uint64(x), true, true
	case int16:
		return uint64(x), true, true
	case int32:
		return uint64(x), true, true
	case int64:
		return uint64(x), true, true
	case uint:
		return uint64(x), false, true
	case uint8:
		return uint64(x), false, true
	case uint16:
		return uint64(x), false, true
	case uint32:
		return uint64(x), false, true
	case uint64:
		return x, false, true
	}
	return 0, false, false
}

// Unbox returns the Go value of a boxed primitive or enum: bool, uint16 for
// char, the sized integer types, float32 or float64. Other objects yield nil.
func (o *Object) Unbox() any {
	switch k := o.class.Type().Underlying().Kind; k {
	case KindBoolean:
		return o.mem.Uint8(0) != 0
	case KindChar, KindU2:
		return o.mem.Uint16(0)
	case KindI1:
		return int8(o.mem.Uint8(0))
	case KindU1:
		return o.mem.Uint8(0)
	case KindI2:
		return int16(o.mem.Uint16(0))
	case KindI4:
		return int32(o.mem.Uint32(0))
	case KindU4:
		return o.mem.Uint32(0)
	case KindI8, KindI:
		return int64(o.mem.Uint64(0))
	case KindU8, KindU:
		return o.mem.Uint64(0)
	case KindR4:
		return math.Float32frombits(o.mem.Uint32(0))
	case KindR8:
		return math.Float64frombits(o.mem.Uint64(0))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Object operations
// ---------------------------------------------------------------------------

// Clone makes a shallow copy of r with a fresh identity.
func (d *Domain) Clone(r Ref) Ref {
	switch x := r.(type) {
	case *Object:
		if x == nil {
			return nil
		}
		return &Object{header: d.newHeader(x.class), mem: x.mem.clone()}
	case *Array:
		if x == nil {
			return nil
		}
		return x.clone(d)
	case *String:
		if x == nil {
			return nil
		}
		return &String{header: d.newHeader(x.class), value: x.value}
	}
	return nil
}

// TypeOf returns the runtime type of r, or nil for the null reference.
func TypeOf(r Ref) *Type {
	if isNilRef(r) {
		return nil
	}
	return r.Class().Type()
}

// ValueTypeHash hashes the payload bytes of a boxed value type. Each byte is
// treated as signed and folded as h = h*31 + b.
func ValueTypeHash(o *Object) (int32, error) {
	if o == nil {
		return 0, argNull("this")
	}
	var h uint32
	for _, b := range o.mem.data {
		h = (h << 5) - h + uint32(int8(b))
	}
	return int32(h), nil
}

// ValueTypeEquals reports whether two boxed values have the same class and
// identical payloads.
func ValueTypeEquals(a, b *Object) (bool, error) {
	if b == nil {
		return false, argNull("that")
	}
	if a == nil {
		return false, argNull("this")
	}
	if a.class != b.class {
		return false, nil
	}
	return a.mem.Equal(0, &b.mem, 0, a.mem.Len()), nil
}

// NewUninitialized allocates an instance of c without running any
// constructor. A rank-1 array class yields an empty vector.
func (d *Domain) NewUninitialized(c *Class) (Ref, error) {
	switch {
	case c == nil:
		return nil, argNull("type")
	case c.Rank == 1:
		return d.NewVector(c.Elem, 0)
	case c.Rank > 1:
		return nil, argInvalid("type", "cannot create an uninitialized multi-dimensional array")
	case c.intrinsic == KindString:
		return d.NewString(""), nil
	case c.IsInterface() || c.Flags&TypeAbstract != 0:
		return nil, argInvalid("type", fmt.Sprintf("%s is abstract", c.FullName()))
	}
	if err := c.instanceLayoutErr(); err != nil {
		return nil, err
	}
	return d.NewObject(c), nil
}
