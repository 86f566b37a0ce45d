package vm

import (
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// FieldAttributes mirrors the Field flags of the metadata tables.
type FieldAttributes uint16

const (
	FieldAccessMask    FieldAttributes = 0x0007
	FieldPrivateScope  FieldAttributes = 0x0000
	FieldPrivate       FieldAttributes = 0x0001
	FieldFamANDAssem   FieldAttributes = 0x0002
	FieldAssembly      FieldAttributes = 0x0003
	FieldFamily        FieldAttributes = 0x0004
	FieldFamORAssem    FieldAttributes = 0x0005
	FieldPublic        FieldAttributes = 0x0006
	FieldStatic        FieldAttributes = 0x0010
	FieldInitOnly      FieldAttributes = 0x0020
	FieldLiteral       FieldAttributes = 0x0040
	FieldNotSerialized FieldAttributes = 0x0080
	FieldHasFieldRVA   FieldAttributes = 0x0100
	FieldSpecialName   FieldAttributes = 0x0200
	FieldRTSpecialName FieldAttributes = 0x0400
	FieldHasDefault    FieldAttributes = 0x8000
)

// EnumValueFieldName is the instance field that holds an enum's value.
const EnumValueFieldName = "value__"

// Field describes one field. Offset is assigned when the declaring class is
// laid out; literal fields keep -1.
type Field struct {
	Name   string
	Parent *Class
	Type   *Type
	Attrs  FieldAttributes
	Offset int

	// ConstantIndex is the blob heap index of the default value of a
	// HasDefault field.
	ConstantIndex uint32

	// RVA holds the initial data of a HasFieldRVA field, the source of
	// array literal initialisation.
	RVA []byte

	constOnce sync.Once
	constant  []byte
	constErr  error
}

func (f *Field) MemberName() string     { return f.Name }
func (f *Field) DeclaringClass() *Class { return f.Parent }
func (f *Field) IsPublic() bool         { return f.Attrs&FieldAccessMask == FieldPublic }
func (f *Field) IsStatic() bool         { return f.Attrs&FieldStatic != 0 }
func (f *Field) IsLiteral() bool        { return f.Attrs&FieldLiteral != 0 }

// Constant returns the raw default-value blob of the field. The blob is
// fetched from the declaring module on first use and cached.
func (f *Field) Constant() ([]byte, error) {
	f.constOnce.Do(func() {
		if f.Attrs&FieldHasDefault == 0 {
			f.constErr = argInvalid("field", fmt.Sprintf("%s has no default value", f))
			return
		}
		if f.Parent == nil || f.Parent.Module == nil {
			f.constErr = fmt.Errorf("%w: field %s has no owning module", ErrBadImageFormat, f.Name)
			return
		}
		f.constant, f.constErr = f.Parent.Module.Blobs.Blob(f.ConstantIndex)
	})
	return f.constant, f.constErr
}

func (f *Field) String() string {
	if f.Parent == nil {
		return f.Name
	}
	return f.Parent.FullName() + "::" + f.Name
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// MethodAttributes mirrors the MethodDef flags of the metadata tables.
type MethodAttributes uint16

const (
	MethodMemberAccessMask MethodAttributes = 0x0007
	MethodPrivate          MethodAttributes = 0x0001
	MethodFamANDAssem      MethodAttributes = 0x0002
	MethodAssembly         MethodAttributes = 0x0003
	MethodFamily           MethodAttributes = 0x0004
	MethodFamORAssem       MethodAttributes = 0x0005
	MethodPublic           MethodAttributes = 0x0006
	MethodStatic           MethodAttributes = 0x0010
	MethodFinal            MethodAttributes = 0x0020
	MethodVirtual          MethodAttributes = 0x0040
	MethodHideBySig        MethodAttributes = 0x0080
	MethodAbstract         MethodAttributes = 0x0400
	MethodSpecialName      MethodAttributes = 0x0800
	MethodRTSpecialName    MethodAttributes = 0x1000
)

const (
	ConstructorName     = ".ctor"
	TypeConstructorName = ".cctor"
)

// Method describes a method signature. Bodies are not modelled.
type Method struct {
	Name   string
	Parent *Class
	Attrs  MethodAttributes
	Return *Type
	Params []*Type
	Token  uint32
}

func (m *Method) MemberName() string     { return m.Name }
func (m *Method) DeclaringClass() *Class { return m.Parent }
func (m *Method) IsPublic() bool         { return m.Attrs&MethodMemberAccessMask == MethodPublic }
func (m *Method) IsStatic() bool         { return m.Attrs&MethodStatic != 0 }

// IsConstructor reports whether m is an instance or type constructor.
func (m *Method) IsConstructor() bool {
	return m.Name == ConstructorName || m.Name == TypeConstructorName
}

// Signature renders the method as Name(T1,T2).
func (m *Method) Signature() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (m *Method) String() string {
	if m.Parent == nil {
		return m.Signature()
	}
	return m.Parent.FullName() + "::" + m.Signature()
}

// sameParams reports exact per-parameter type equality.
func (m *Method) sameParams(args []*Type) bool {
	if len(m.Params) != len(args) {
		return false
	}
	for i, p := range m.Params {
		if !p.Equal(args[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Properties and events
// ---------------------------------------------------------------------------

// Property takes its visibility and staticness from its getter, or from its
// setter when there is no getter.
type Property struct {
	Name   string
	Parent *Class
	Attrs  uint16
	Get    *Method
	Set    *Method
}

func (p *Property) accessor() *Method {
	if p.Get != nil {
		return p.Get
	}
	return p.Set
}

func (p *Property) MemberName() string     { return p.Name }
func (p *Property) DeclaringClass() *Class { return p.Parent }

func (p *Property) IsPublic() bool {
	m := p.accessor()
	return m != nil && m.IsPublic()
}

func (p *Property) IsStatic() bool {
	m := p.accessor()
	return m != nil && m.IsStatic()
}

// IndexParams returns the index parameter types of an indexed property.
func (p *Property) IndexParams() []*Type {
	if p.Get != nil {
		return p.Get.Params
	}
	if p.Set != nil && len(p.Set.Params) > 0 {
		return p.Set.Params[:len(p.Set.Params)-1]
	}
	return nil
}

// Event takes its visibility and staticness from its add accessor, or from
// its remove accessor when there is no add accessor.
type Event struct {
	Name   string
	Parent *Class
	Attrs  uint16
	Add    *Method
	Remove *Method
	Raise  *Method
}

func (e *Event) accessor() *Method {
	if e.Add != nil {
		return e.Add
	}
	return e.Remove
}

func (e *Event) MemberName() string     { return e.Name }
func (e *Event) DeclaringClass() *Class { return e.Parent }

func (e *Event) IsPublic() bool {
	m := e.accessor()
	return m != nil && m.IsPublic()
}

func (e *Event) IsStatic() bool {
	m := e.accessor()
	return m != nil && m.IsStatic()
}
