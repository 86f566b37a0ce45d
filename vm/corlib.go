package vm

// ---------------------------------------------------------------------------
// Corlib: built-in classes
// ---------------------------------------------------------------------------

// CorlibModule is the module name of the built-in classes.
const CorlibModule = "corlib"

// Corlib holds the built-in classes every registry starts with.
type Corlib struct {
	Module *Module

	Object    *Class
	ValueType *Class
	Enum      *Class
	String    *Class
	Array     *Class

	Boolean *Class
	Char    *Class
	SByte   *Class
	Byte    *Class
	Int16   *Class
	UInt16  *Class
	Int32   *Class
	UInt32  *Class
	Int64   *Class
	UInt64  *Class
	Single  *Class
	Double  *Class
	IntPtr  *Class
	UIntPtr *Class

	Decimal  *Class
	DateTime *Class
	DBNull   *Class

	primitives [numKinds]*Class
	nextToken  uint32
}

func newCorlib(r *Registry) *Corlib {
	cl := &Corlib{Module: r.Module(CorlibModule), nextToken: 0x02000001}

	cl.Object = cl.define("Object", nil, TypePublic|TypeSerializable, KindObject)
	cl.ValueType = cl.define("ValueType", cl.Object, TypePublic|TypeAbstract|TypeSerializable, KindVoid)
	cl.Enum = cl.define("Enum", cl.ValueType, TypePublic|TypeAbstract|TypeSerializable, KindVoid)
	cl.String = cl.define("String", cl.Object, TypePublic|TypeSealed|TypeSerializable, KindString)
	cl.Array = cl.define("Array", cl.Object, TypePublic|TypeAbstract|TypeSerializable, KindVoid)

	cl.Boolean = cl.primitive("Boolean", KindBoolean)
	cl.Char = cl.primitive("Char", KindChar)
	cl.SByte = cl.primitive("SByte", KindI1)
	cl.Byte = cl.primitive("Byte", KindU1)
	cl.Int16 = cl.primitive("Int16", KindI2)
	cl.UInt16 = cl.primitive("UInt16", KindU2)
	cl.Int32 = cl.primitive("Int32", KindI4)
	cl.UInt32 = cl.primitive("UInt32", KindU4)
	cl.Int64 = cl.primitive("Int64", KindI8)
	cl.UInt64 = cl.primitive("UInt64", KindU8)
	cl.Single = cl.primitive("Single", KindR4)
	cl.Double = cl.primitive("Double", KindR8)
	cl.IntPtr = cl.primitive("IntPtr", KindI)
	cl.UIntPtr = cl.primitive("UIntPtr", KindU)
	cl.primitives[KindObject] = cl.Object
	cl.primitives[KindString] = cl.String

	cl.Decimal = cl.NewValueType("System", "Decimal")
	cl.Decimal.AddField("flags", TypeInt32, FieldPrivate)
	cl.Decimal.AddField("hi", TypeInt32, FieldPrivate)
	cl.Decimal.AddField("lo", TypeInt32, FieldPrivate)
	cl.Decimal.AddField("mid", TypeInt32, FieldPrivate)

	cl.DateTime = cl.NewValueType("System", "DateTime")
	cl.DateTime.AddField("ticks", TypeInt64, FieldPrivate)

	cl.DBNull = cl.define("DBNull", cl.Object, TypePublic|TypeSealed|TypeSerializable, KindVoid)
	cl.DBNull.AddField("Value", ClassType(cl.DBNull), FieldPublic|FieldStatic|FieldInitOnly)

	for _, c := range []*Class{cl.Decimal, cl.DateTime} {
		c.Module = cl.Module
		c.Token = cl.token()
	}
	for _, c := range []*Class{
		cl.Object, cl.ValueType, cl.Enum, cl.String, cl.Array,
		cl.Boolean, cl.Char, cl.SByte, cl.Byte, cl.Int16, cl.UInt16,
		cl.Int32, cl.UInt32, cl.Int64, cl.UInt64, cl.Single, cl.Double,
		cl.IntPtr, cl.UIntPtr, cl.Decimal, cl.DateTime, cl.DBNull,
	} {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return cl
}

func (cl *Corlib) token() uint32 {
	t := cl.nextToken
	cl.nextToken++
	return t
}

func (cl *Corlib) define(name string, parent *Class, flags TypeAttributes, k Kind) *Class {
	c := NewClass("System", name, parent)
	c.Module = cl.Module
	c.Token = cl.token()
	c.Flags = flags
	c.intrinsic = k
	return c
}

func (cl *Corlib) primitive(name string, k Kind) *Class {
	c := cl.define(name, cl.ValueType, TypePublic|TypeSealed|TypeSerializable|TypeSequentialLayout, k)
	c.ValueType = true
	c.AddField("m_value", PrimitiveType(k), FieldPrivate)
	cl.primitives[k] = c
	return c
}

// Primitive returns the corlib class of a built-in kind, or nil.
func (cl *Corlib) Primitive(k Kind) *Class {
	if k < numKinds {
		return cl.primitives[k]
	}
	return nil
}

// NewValueType creates a sealed value type deriving from System.ValueType.
func (cl *Corlib) NewValueType(namespace, name string) *Class {
	c := NewClass(namespace, name, cl.ValueType)
	c.Flags |= TypeSealed | TypeSequentialLayout
	c.ValueType = true
	return c
}

// NewEnum creates an enum over the given integral type, including its
// value__ instance field.
func (cl *Corlib) NewEnum(namespace, name string, underlying *Type) *Class {
	c := NewClass(namespace, name, cl.Enum)
	c.Flags |= TypeSealed
	c.ValueType = true
	c.Enum = true
	c.EnumBase = underlying
	c.AddField(EnumValueFieldName, underlying, FieldPublic|FieldSpecialName|FieldRTSpecialName)
	return c
}
