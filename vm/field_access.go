package vm

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

// GetFieldValue reads field f. Static fields come from the domain's static
// storage for the declaring class, instance fields from obj. Reference
// fields return the stored reference; value-type fields return a boxed copy.
// Literal fields return their decoded constant.
func (d *Domain) GetFieldValue(f *Field, obj Ref) (Ref, error) {
	if f == nil {
		return nil, argNull("field")
	}
	if f.IsLiteral() {
		return d.literalValue(f)
	}
	mem, off, err := d.fieldStorage(f, obj)
	if err != nil {
		return nil, err
	}
	if f.Type.IsReference() {
		return mem.Ref(off), nil
	}
	return d.Box(d.Registry.ClassOf(f.Type), mem, off), nil
}

// SetFieldValue writes field f. A nil value clears the field. Value-type
// fields accept a boxed instance of the field's class, or of the enum or
// underlying class it is interchangeable with.
func (d *Domain) SetFieldValue(f *Field, obj Ref, value Ref) error {
	if f == nil {
		return argNull("field")
	}
	if f.IsLiteral() {
		return argInvalid("field", fmt.Sprintf("%s is a constant", f))
	}
	mem, off, err := d.fieldStorage(f, obj)
	if err != nil {
		return err
	}

	if f.Type.IsReference() {
		if !isNilRef(value) && !d.Registry.ClassOf(f.Type).IsAssignableFrom(value.Class()) {
			return fmt.Errorf("%w: %s into field %s", ErrInvalidCast, value.Class().FullName(), f)
		}
		mem.SetRef(off, value)
		return nil
	}

	size := f.Type.Size()
	if isNilRef(value) {
		mem.Zero(off, size)
		return nil
	}
	vo, ok := value.(*Object)
	fc := d.Registry.ClassOf(f.Type)
	if !ok || !sameValueClass(fc, vo.class) {
		return fmt.Errorf("%w: %s into field %s", ErrInvalidCast, value.Class().FullName(), f)
	}
	mem.Copy(off, &vo.mem, 0, size)
	return nil
}

func sameValueClass(a, b *Class) bool {
	if a == b {
		return true
	}
	if !a.ValueType || !b.ValueType {
		return false
	}
	ua, ub := a.Type().Underlying(), b.Type().Underlying()
	return ua.Kind.IsPrimitive() && ua.Equal(ub)
}

// fieldStorage locates the memory holding f.
func (d *Domain) fieldStorage(f *Field, obj Ref) (*Memory, int, error) {
	if f.Parent == nil {
		return nil, 0, fmt.Errorf("%w: field %s has no declaring class", ErrBadImageFormat, f.Name)
	}
	if f.IsStatic() {
		if err := f.Parent.Layout(); err != nil {
			return nil, 0, err
		}
		return d.StaticStorage(f.Parent), f.Offset, nil
	}
	if err := f.Parent.instanceLayoutErr(); err != nil {
		return nil, 0, err
	}
	if isNilRef(obj) {
		return nil, 0, argNull("obj")
	}
	o, ok := obj.(*Object)
	if !ok || !f.Parent.IsAssignableFrom(o.class) {
		return nil, 0, argInvalid("obj", fmt.Sprintf("field %s is not defined on %s", f, obj.Class().FullName()))
	}
	return &o.mem, f.Offset, nil
}

// literalValue decodes the blob constant of a literal field. Scalars are
// boxed, strings are decoded from UTF-16, and a reference-typed constant is
// the null reference.
func (d *Domain) literalValue(f *Field) (Ref, error) {
	blob, err := f.Constant()
	if err != nil {
		return nil, err
	}
	t := f.Type.Underlying()
	switch {
	case t.Kind == KindString:
		if len(blob)%2 != 0 {
			return nil, fmt.Errorf("%w: string constant of odd length for %s", ErrBadImageFormat, f)
		}
		units := make([]uint16, len(blob)/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(blob[2*i:])
		}
		return d.NewString(string(utf16.Decode(units))), nil
	case t.IsReference():
		return nil, nil
	case t.Kind.IsPrimitive():
		width := t.Kind.primitiveSize()
		if len(blob) < width {
			return nil, fmt.Errorf("%w: constant for %s has %d bytes, want %d", ErrBadImageFormat, f, len(blob), width)
		}
		o := d.NewObject(d.Registry.ClassOf(f.Type))
		o.mem.storeBits(0, t.Kind, readLittleEndian(blob, width))
		return o, nil
	}
	return nil, fmt.Errorf("%w: no constant encoding for %v field %s", ErrBadImageFormat, f.Type, f)
}
