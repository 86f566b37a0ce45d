package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Kind: the tag of a type descriptor
// ---------------------------------------------------------------------------

// Kind identifies the variant of a Type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBoolean
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindR4
	KindR8
	KindI // native int
	KindU // native unsigned int
	KindString
	KindObject
	KindClass     // reference class
	KindValueType // user value type
	KindEnum
	KindArray

	numKinds
)

// RefSize is the width of a reference or pointer slot in object memory.
const RefSize = 8

var kindNames = [numKinds]string{
	KindVoid:      "void",
	KindBoolean:   "bool",
	KindChar:      "char",
	KindI1:        "int8",
	KindU1:        "uint8",
	KindI2:        "int16",
	KindU2:        "uint16",
	KindI4:        "int32",
	KindU4:        "uint32",
	KindI8:        "int64",
	KindU8:        "uint64",
	KindR4:        "float32",
	KindR8:        "float64",
	KindI:         "nint",
	KindU:         "nuint",
	KindString:    "string",
	KindObject:    "object",
	KindClass:     "class",
	KindValueType: "valuetype",
	KindEnum:      "enum",
	KindArray:     "array",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsPrimitive reports whether k is one of Boolean through R8.
func (k Kind) IsPrimitive() bool {
	return k >= KindBoolean && k <= KindR8
}

// primitiveSize returns the intrinsic width of a scalar kind, or 0.
func (k Kind) primitiveSize() int {
	switch k {
	case KindBoolean, KindI1, KindU1:
		return 1
	case KindChar, KindI2, KindU2:
		return 2
	case KindI4, KindU4, KindR4:
		return 4
	case KindI8, KindU8, KindR8, KindI, KindU:
		return 8
	}
	return 0
}

// ---------------------------------------------------------------------------
// Type: canonical type descriptor
// ---------------------------------------------------------------------------

// Type describes one type: a primitive, a class, an array or an enum, with an
// optional byref or pointer modifier. Types are immutable once constructed and
// compare structurally with Equal.
type Type struct {
	Kind    Kind
	Class   *Class // KindClass, KindValueType, KindEnum
	Elem    *Type  // KindArray
	Rank    int    // KindArray
	ByRef   bool
	Pointer bool
}

// Predeclared descriptors for the primitive and built-in reference kinds.
var (
	TypeVoid    = &Type{Kind: KindVoid}
	TypeBoolean = &Type{Kind: KindBoolean}
	TypeChar    = &Type{Kind: KindChar}
	TypeInt8    = &Type{Kind: KindI1}
	TypeUInt8   = &Type{Kind: KindU1}
	TypeInt16   = &Type{Kind: KindI2}
	TypeUInt16  = &Type{Kind: KindU2}
	TypeInt32   = &Type{Kind: KindI4}
	TypeUInt32  = &Type{Kind: KindU4}
	TypeInt64   = &Type{Kind: KindI8}
	TypeUInt64  = &Type{Kind: KindU8}
	TypeFloat32 = &Type{Kind: KindR4}
	TypeFloat64 = &Type{Kind: KindR8}
	TypeIntPtr  = &Type{Kind: KindI}
	TypeUIntPtr = &Type{Kind: KindU}
	TypeString  = &Type{Kind: KindString}
	TypeObject  = &Type{Kind: KindObject}
)

// PrimitiveType returns the shared descriptor for a scalar or built-in kind.
// It panics for kinds that need a payload (class, array, enum).
func PrimitiveType(k Kind) *Type {
	switch k {
	case KindVoid:
		return TypeVoid
	case KindBoolean:
		return TypeBoolean
	case KindChar:
		return TypeChar
	case KindI1:
		return TypeInt8
	case KindU1:
		return TypeUInt8
	case KindI2:
		return TypeInt16
	case KindU2:
		return TypeUInt16
	case KindI4:
		return TypeInt32
	case KindU4:
		return TypeUInt32
	case KindI8:
		return TypeInt64
	case KindU8:
		return TypeUInt64
	case KindR4:
		return TypeFloat32
	case KindR8:
		return TypeFloat64
	case KindI:
		return TypeIntPtr
	case KindU:
		return TypeUIntPtr
	case KindString:
		return TypeString
	case KindObject:
		return TypeObject
	}
	panic(fmt.Sprintf("vm: PrimitiveType: kind %v carries a payload", k))
}

// ClassType returns the descriptor of a reference class.
func ClassType(c *Class) *Type {
	return &Type{Kind: KindClass, Class: c}
}

// ValueTypeOf returns the descriptor of a user value type.
func ValueTypeOf(c *Class) *Type {
	return &Type{Kind: KindValueType, Class: c}
}

// EnumType returns the descriptor of an enum class.
func EnumType(c *Class) *Type {
	return &Type{Kind: KindEnum, Class: c}
}

// ArrayOf returns the descriptor of an array of elem with the given rank.
func ArrayOf(elem *Type, rank int) *Type {
	return &Type{Kind: KindArray, Elem: elem, Rank: rank}
}

// MakeByRef returns a byref copy of t.
func (t *Type) MakeByRef() *Type {
	c := *t
	c.ByRef = true
	return &c
}

// MakePointer returns an unmanaged-pointer copy of t.
func (t *Type) MakePointer() *Type {
	c := *t
	c.Pointer = true
	return &c
}

// Equal reports structural equality. Classes compare by identity because the
// registry holds exactly one descriptor per class.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.Kind != o.Kind || t.ByRef != o.ByRef || t.Pointer != o.Pointer {
		return false
	}
	switch t.Kind {
	case KindClass, KindValueType, KindEnum:
		return t.Class == o.Class
	case KindArray:
		return t.Rank == o.Rank && t.Elem.Equal(o.Elem)
	}
	return true
}

// IsReference reports whether values of t are stored as references.
func (t *Type) IsReference() bool {
	if t.ByRef || t.Pointer {
		return false
	}
	switch t.Kind {
	case KindString, KindObject, KindClass, KindArray:
		return true
	}
	return false
}

// Underlying returns the enum base type for enums and t otherwise.
func (t *Type) Underlying() *Type {
	if t.Kind == KindEnum && !t.ByRef && !t.Pointer && t.Class != nil && t.Class.EnumBase != nil {
		return t.Class.EnumBase
	}
	return t
}

// Size returns the number of bytes a value of t occupies in a field or
// array slot.
func (t *Type) Size() int {
	if t.ByRef || t.Pointer {
		return RefSize
	}
	if n := t.Kind.primitiveSize(); n > 0 {
		return n
	}
	switch t.Kind {
	case KindString, KindObject, KindClass, KindArray:
		return RefSize
	case KindValueType:
		return t.Class.InstanceSize()
	case KindEnum:
		return t.Underlying().Size()
	}
	panic(fmt.Sprintf("vm: Type.Size: unhandled kind %v", t.Kind))
}

// Align returns the natural alignment of t.
func (t *Type) Align() int {
	if t.Kind == KindValueType && !t.ByRef && !t.Pointer {
		return t.Class.alignment()
	}
	return t.Size()
}

func (t *Type) String() string {
	var b strings.Builder
	t.writeName(&b)
	return b.String()
}

func (t *Type) writeName(b *strings.Builder) {
	switch t.Kind {
	case KindClass, KindValueType, KindEnum:
		b.WriteString(t.Class.FullName())
	case KindArray:
		t.Elem.writeName(b)
		b.WriteByte('[')
		for i := 1; i < t.Rank; i++ {
			b.WriteByte(',')
		}
		b.WriteByte(']')
	default:
		b.WriteString(primitiveClassNames[t.Kind])
	}
	if t.Pointer {
		b.WriteByte('*')
	}
	if t.ByRef {
		b.WriteByte('&')
	}
}

// primitiveClassNames maps built-in kinds to their corlib class names.
var primitiveClassNames = map[Kind]string{
	KindVoid:    "System.Void",
	KindBoolean: "System.Boolean",
	KindChar:    "System.Char",
	KindI1:      "System.SByte",
	KindU1:      "System.Byte",
	KindI2:      "System.Int16",
	KindU2:      "System.UInt16",
	KindI4:      "System.Int32",
	KindU4:      "System.UInt32",
	KindI8:      "System.Int64",
	KindU8:      "System.UInt64",
	KindR4:      "System.Single",
	KindR8:      "System.Double",
	KindI:       "System.IntPtr",
	KindU:       "System.UIntPtr",
	KindString:  "System.String",
	KindObject:  "System.Object",
}

// ---------------------------------------------------------------------------
// TypeCode
// ---------------------------------------------------------------------------

// TypeCode mirrors System.TypeCode.
type TypeCode uint32

const (
	TypeCodeEmpty TypeCode = iota
	TypeCodeObject
	TypeCodeDBNull
	TypeCodeBoolean
	TypeCodeChar
	TypeCodeSByte
	TypeCodeByte
	TypeCodeInt16
	TypeCodeUInt16
	TypeCodeInt32
	TypeCodeUInt32
	TypeCodeInt64
	TypeCodeUInt64
	TypeCodeSingle
	TypeCodeDouble
	TypeCodeDecimal
	TypeCodeDateTime
	TypeCodeString TypeCode = 18
)

// GetTypeCode classifies t. Enums report their underlying type; the corlib
// value types Decimal, DateTime and DBNull are recognised by name. A nil
// type is Empty.
func GetTypeCode(t *Type) TypeCode {
	if t == nil {
		return TypeCodeEmpty
	}
	if t.Pointer {
		return TypeCodeObject
	}
	for t.Kind == KindEnum {
		t = t.Underlying()
		if t.Kind == KindEnum {
			panic("vm: GetTypeCode: enum without base type")
		}
	}
	switch t.Kind {
	case KindVoid:
		return TypeCodeObject
	case KindBoolean:
		return TypeCodeBoolean
	case KindU1:
		return TypeCodeByte
	case KindI1:
		return TypeCodeSByte
	case KindU2:
		return TypeCodeUInt16
	case KindI2:
		return TypeCodeInt16
	case KindChar:
		return TypeCodeChar
	case KindI, KindU:
		return TypeCodeObject
	case KindU4:
		return TypeCodeUInt32
	case KindI4:
		return TypeCodeInt32
	case KindU8:
		return TypeCodeUInt64
	case KindI8:
		return TypeCodeInt64
	case KindR4:
		return TypeCodeSingle
	case KindR8:
		return TypeCodeDouble
	case KindValueType:
		if t.Class.Namespace == "System" {
			switch t.Class.Name {
			case "Decimal":
				return TypeCodeDecimal
			case "DateTime":
				return TypeCodeDateTime
			case "DBNull":
				return TypeCodeDBNull
			}
		}
		return TypeCodeObject
	case KindString:
		return TypeCodeString
	case KindArray, KindObject, KindClass:
		return TypeCodeObject
	}
	panic(fmt.Sprintf("vm: type %v not handled in GetTypeCode", t.Kind))
}
