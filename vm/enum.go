package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// EnumInfo is the decoded literal table of an enum: one name and raw value
// per constant, in declaration order.
type EnumInfo struct {
	Underlying *Type
	Names      []string
	Values     []uint64
}

// Len returns the number of constants.
func (e *EnumInfo) Len() int { return len(e.Names) }

// Int64 returns constant i sign-extended when the underlying type is signed.
func (e *EnumInfo) Int64(i int) int64 {
	v := e.Values[i]
	switch e.Underlying.Kind {
	case KindI1:
		return int64(int8(v))
	case KindI2:
		return int64(int16(v))
	case KindI4:
		return int64(int32(v))
	}
	return int64(v)
}

// Lookup returns the value of the constant called name.
func (e *EnumInfo) Lookup(name string) (uint64, bool) {
	for i, n := range e.Names {
		if n == name {
			return e.Values[i], true
		}
	}
	return 0, false
}

// enumWidth returns the literal width of an enum base kind. Any other base
// kind means corrupt metadata.
func enumWidth(k Kind) int {
	switch k {
	case KindU1, KindI1:
		return 1
	case KindU2, KindI2, KindChar:
		return 2
	case KindU4, KindI4:
		return 4
	case KindU8, KindI8:
		return 8
	}
	panic(fmt.Sprintf("vm: implement type %v in DecodeEnumLiterals", k))
}

// DecodeEnumLiterals reads every literal of an enum from its module's blob
// heap. Constants are little-endian in the heap.
func DecodeEnumLiterals(c *Class) (*EnumInfo, error) {
	if c == nil {
		return nil, argNull("enumType")
	}
	if !c.Enum || c.EnumBase == nil {
		return nil, argInvalid("enumType", fmt.Sprintf("%s is not an enum", c.FullName()))
	}
	width := enumWidth(c.EnumBase.Kind)
	info := &EnumInfo{Underlying: c.EnumBase}
	for _, f := range c.Fields {
		if f.Name == EnumValueFieldName {
			continue
		}
		blob, err := f.Constant()
		if err != nil {
			return nil, fmt.Errorf("enum %s literal %s: %w", c.FullName(), f.Name, err)
		}
		if len(blob) < width {
			return nil, fmt.Errorf("%w: enum %s literal %s has %d bytes, want %d",
				ErrBadImageFormat, c.FullName(), f.Name, len(blob), width)
		}
		info.Names = append(info.Names, f.Name)
		info.Values = append(info.Values, readLittleEndian(blob, width))
	}
	return info, nil
}

func readLittleEndian(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// EnumToObject boxes value as an instance of the enum class. value must be
// a boxed enum or a boxed integer of 1 to 8 bytes; the smaller of the two
// payload widths is copied.
func (d *Domain) EnumToObject(enum *Class, value Ref) (*Object, error) {
	if enum == nil {
		return nil, argNull("enumType")
	}
	if isNilRef(value) {
		return nil, argNull("value")
	}
	if !enum.Enum {
		return nil, argInvalid("enumType", fmt.Sprintf("%s is not an enum", enum.FullName()))
	}
	obj, ok := value.(*Object)
	vc := value.Class()
	vk := vc.Type().Kind
	if !ok || !(vc.Enum || vk >= KindI1 && vk <= KindU8) {
		return nil, argInvalid("value", fmt.Sprintf("%s is not an integral value", vc.FullName()))
	}

	s1, s2 := enum.InstanceSize(), vc.InstanceSize()
	n := min(s1, s2)
	res := d.NewObject(enum)
	if isBigEndian(d.Order) {
		res.mem.Copy(s1-n, &obj.mem, s2-n, n)
	} else {
		res.mem.Copy(0, &obj.mem, 0, n)
	}
	return res, nil
}

// EnumValue unboxes an enum into a boxed instance of its underlying type.
// The null reference yields nil.
func (d *Domain) EnumValue(value Ref) (*Object, error) {
	if isNilRef(value) {
		return nil, nil
	}
	obj, ok := value.(*Object)
	if !ok || !obj.class.Enum || obj.class.EnumBase == nil {
		return nil, argInvalid("value", fmt.Sprintf("%s is not an enum", value.Class().FullName()))
	}
	return d.Box(d.Registry.ClassOf(obj.class.EnumBase), &obj.mem, 0), nil
}
