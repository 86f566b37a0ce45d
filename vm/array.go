package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Array: vectors and multi-dimensional arrays
// ---------------------------------------------------------------------------

// maxArrayBytes bounds the payload of a single array.
const maxArrayBytes = math.MaxInt32

// Bound is the lower bound and length of one dimension.
type Bound struct {
	LowerBound int
	Length     int
}

// Array is a managed array. A vector (rank 1, zero lower bound, created
// without explicit bounds) carries no bounds table; every other array
// carries one Bound per dimension. Elements are stored row-major.
type Array struct {
	header
	bounds []Bound
	length int
	mem    Memory
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return a.class.Rank }

// Len returns the total element count.
func (a *Array) Len() int { return a.length }

// IsVector reports whether the array has no bounds table.
func (a *Array) IsVector() bool { return a.bounds == nil }

// ElementType returns the element type descriptor.
func (a *Array) ElementType() *Type { return a.class.Elem }

// ElementClass returns the class of the elements.
func (a *Array) ElementClass() *Class { return a.class.elemClass }

// Memory exposes the element storage.
func (a *Array) Memory() *Memory { return &a.mem }

// Bounds returns one Bound per dimension.
func (a *Array) Bounds() []Bound {
	if a.bounds == nil {
		return []Bound{{LowerBound: 0, Length: a.length}}
	}
	return append([]Bound(nil), a.bounds...)
}

func (a *Array) elementSize() int { return a.class.Elem.Size() }

// GetLength returns the length of dimension dim.
func (a *Array) GetLength(dim int) (int, error) {
	if dim < 0 || dim >= a.Rank() {
		return 0, ErrIndexOutOfRange
	}
	if a.bounds == nil {
		return a.length, nil
	}
	return a.bounds[dim].Length, nil
}

// GetLowerBound returns the lower bound of dimension dim.
func (a *Array) GetLowerBound(dim int) (int, error) {
	if dim < 0 || dim >= a.Rank() {
		return 0, ErrIndexOutOfRange
	}
	if a.bounds == nil {
		return 0, nil
	}
	return a.bounds[dim].LowerBound, nil
}

// position maps a full index tuple to a row-major element position. Every
// dimension is checked before the position is computed.
func (a *Array) position(indices []int) (int, error) {
	if indices == nil {
		return 0, argNull("indices")
	}
	if len(indices) != a.Rank() {
		return 0, argInvalid("indices", fmt.Sprintf("%d indices for an array of rank %d", len(indices), a.Rank()))
	}
	if a.bounds == nil {
		i := indices[0]
		if i < 0 || i >= a.length {
			return 0, ErrIndexOutOfRange
		}
		return i, nil
	}
	for i, b := range a.bounds {
		if idx := indices[i]; idx < b.LowerBound || idx-b.LowerBound >= b.Length {
			return 0, ErrIndexOutOfRange
		}
	}
	pos := indices[0] - a.bounds[0].LowerBound
	for i := 1; i < len(a.bounds); i++ {
		pos = pos*a.bounds[i].Length + indices[i] - a.bounds[i].LowerBound
	}
	return pos, nil
}

// GetValue reads the element at indices. Value-type elements are boxed.
func (a *Array) GetValue(indices []int) (Ref, error) {
	pos, err := a.position(indices)
	if err != nil {
		return nil, err
	}
	return a.GetValueImpl(pos)
}

// SetValue stores value at indices with the coercion rules of SetValueImpl.
func (a *Array) SetValue(value Ref, indices []int) error {
	pos, err := a.position(indices)
	if err != nil {
		return err
	}
	return a.SetValueImpl(value, pos)
}

// GetValueImpl reads the element at a flat position.
func (a *Array) GetValueImpl(pos int) (Ref, error) {
	if pos < 0 || pos >= a.length {
		return nil, ErrIndexOutOfRange
	}
	esize := a.elementSize()
	off := pos * esize
	if a.class.Elem.IsReference() {
		return a.mem.Ref(off), nil
	}
	return a.domain.Box(a.class.elemClass, &a.mem, off), nil
}

// SetValueImpl stores value at a flat position.
//
// A null value zero-fills the slot. Reference elements accept any instance
// of the element class. Value-type elements accept a boxed instance of the
// same class; primitive elements additionally accept boxed primitives that
// widen losslessly. Narrowing pairs fail with ErrNotWidening, everything
// else with ErrInvalidCast.
func (a *Array) SetValueImpl(value Ref, pos int) error {
	if pos < 0 || pos >= a.length {
		return ErrIndexOutOfRange
	}
	esize := a.elementSize()
	off := pos * esize
	if isNilRef(value) {
		a.mem.Zero(off, esize)
		return nil
	}

	elem := a.class.Elem
	ec := a.class.elemClass
	vc := value.Class()
	vk := vc.Type().Kind

	switch elem.Kind {
	case KindString:
		if vk != KindString {
			return ErrInvalidCast
		}
	case KindBoolean:
		if vk != KindBoolean {
			if classify(vk) != numNone {
				return notWidening()
			}
			return ErrInvalidCast
		}
	}

	if elem.IsReference() {
		if !ec.IsAssignableFrom(vc) {
			return ErrInvalidCast
		}
		a.mem.SetRef(off, value)
		return nil
	}

	obj, ok := value.(*Object)
	if !ok || !vc.ValueType {
		return ErrInvalidCast
	}
	if vc == ec {
		a.mem.Copy(off, &obj.mem, 0, esize)
		return nil
	}
	if elem.ByRef || elem.Pointer {
		return ErrInvalidCast
	}

	switch Widening(elem.Kind, vk) {
	case ConvExact:
		a.mem.Copy(off, &obj.mem, 0, esize)
	case ConvWiden:
		widen(&a.mem, off, elem.Kind, &obj.mem, 0, vk)
	case ConvNotWidening:
		return notWidening()
	default:
		return ErrInvalidCast
	}
	return nil
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

// CreateArray allocates an array of elem with one length per dimension and
// optional lower bounds. A single dimension without lower bounds yields a
// vector.
func (d *Domain) CreateArray(elem *Type, lengths, lowerBounds []int) (*Array, error) {
	switch {
	case elem == nil:
		return nil, argNull("elementType")
	case lengths == nil:
		return nil, argNull("lengths")
	case len(lengths) == 0:
		return nil, argInvalid("lengths", "must have at least one dimension")
	case lowerBounds != nil && len(lowerBounds) != len(lengths):
		return nil, argInvalid("lowerBounds", "must have one entry per dimension")
	case elem.Kind == KindVoid || elem.ByRef:
		return nil, argInvalid("elementType", fmt.Sprintf("no arrays of %v", elem))
	}

	total := 1
	for _, n := range lengths {
		if n < 0 {
			return nil, argOutOfRange("lengths", "length is negative")
		}
		if n != 0 && total > maxArrayBytes/n {
			return nil, argOutOfRange("lengths", "array is too large")
		}
		total *= n
	}
	if elem.Kind == KindValueType && !elem.Pointer {
		if err := elem.Class.instanceLayoutErr(); err != nil {
			return nil, err
		}
	}
	esize := elem.Size()
	if esize != 0 && total > maxArrayBytes/esize {
		return nil, argOutOfRange("lengths", "array is too large")
	}

	a := &Array{
		header: d.newHeader(d.Registry.ArrayClass(elem, len(lengths))),
		length: total,
		mem:    newMemory(total*esize, typeHasRefs(elem), d.Order),
	}
	if len(lengths) > 1 || lowerBounds != nil {
		a.bounds = make([]Bound, len(lengths))
		for i, n := range lengths {
			a.bounds[i].Length = n
			if lowerBounds != nil {
				a.bounds[i].LowerBound = lowerBounds[i]
			}
		}
	}
	return a, nil
}

// NewVector allocates a zero-based single-dimension array of n elements.
func (d *Domain) NewVector(elem *Type, n int) (*Array, error) {
	return d.CreateArray(elem, []int{n}, nil)
}

func (a *Array) clone(d *Domain) *Array {
	c := &Array{
		header: d.newHeader(a.class),
		length: a.length,
		mem:    a.mem.clone(),
	}
	if a.bounds != nil {
		c.bounds = append([]Bound(nil), a.bounds...)
	}
	return c
}

// ---------------------------------------------------------------------------
// Bulk operations
// ---------------------------------------------------------------------------

// FastCopy copies length elements between arrays of the same element type.
// Overlapping ranges within one array are handled.
func FastCopy(src *Array, srcIndex int, dst *Array, dstIndex int, length int) error {
	if src == nil {
		return argNull("source")
	}
	if dst == nil {
		return argNull("dest")
	}
	if !src.class.Elem.Equal(dst.class.Elem) {
		return argInvalid("dest", "array element types differ")
	}
	if length < 0 || srcIndex < 0 || dstIndex < 0 ||
		srcIndex > src.length-length || dstIndex > dst.length-length {
		return argOutOfRange("length", "range exceeds array bounds")
	}
	esize := src.elementSize()
	dst.mem.Copy(dstIndex*esize, &src.mem, srcIndex*esize, length*esize)
	return nil
}

// Initialize fills a primitive or enum array from a little-endian literal
// blob. Multi-byte elements are byte-swapped when the domain is big-endian.
func (a *Array) Initialize(literal []byte) error {
	if literal == nil {
		return argNull("literal")
	}
	k := a.class.Elem.Underlying().Kind
	if !k.IsPrimitive() || a.class.Elem.ByRef || a.class.Elem.Pointer {
		return argInvalid("array", "only primitive arrays can be initialised from a literal")
	}
	esize := k.primitiveSize()
	size := a.length * esize
	if len(literal) < size {
		return argInvalid("literal", fmt.Sprintf("literal has %d bytes, array needs %d", len(literal), size))
	}
	a.mem.PutBytes(0, literal[:size])
	if esize == 1 || !isBigEndian(a.mem.order) {
		return nil
	}
	for off := 0; off < size; off += esize {
		switch esize {
		case 2:
			a.mem.PutUint16(off, binary.LittleEndian.Uint16(literal[off:]))
		case 4:
			a.mem.PutUint32(off, binary.LittleEndian.Uint32(literal[off:]))
		case 8:
			a.mem.PutUint64(off, binary.LittleEndian.Uint64(literal[off:]))
		}
	}
	return nil
}

// InitializeFromField fills the array from the RVA data of a field.
func (a *Array) InitializeFromField(f *Field) error {
	if f == nil {
		return argNull("fldHandle")
	}
	if f.Attrs&FieldHasFieldRVA == 0 {
		return argInvalid("fldHandle", fmt.Sprintf("%s has no initial data", f))
	}
	return a.Initialize(f.RVA)
}
