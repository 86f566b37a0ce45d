package vm

import (
	"fmt"
	"iter"
	"strings"
)

// ---------------------------------------------------------------------------
// Binding flags and member queries
// ---------------------------------------------------------------------------

// BindingFlags mirrors System.Reflection.BindingFlags.
type BindingFlags uint32

const (
	BindingIgnoreCase BindingFlags = 1 << iota
	BindingDeclaredOnly
	BindingInstance
	BindingStatic
	BindingPublic
	BindingNonPublic
)

// MemberQuery is the decoded form of BindingFlags. A member passes when its
// visibility is selected (Public or NonPublic) and its storage is selected
// (Static or Instance).
type MemberQuery struct {
	Public       bool
	NonPublic    bool
	Static       bool
	Instance     bool
	DeclaredOnly bool
	IgnoreCase   bool
}

// Query decodes f.
func (f BindingFlags) Query() MemberQuery {
	return MemberQuery{
		Public:       f&BindingPublic != 0,
		NonPublic:    f&BindingNonPublic != 0,
		Static:       f&BindingStatic != 0,
		Instance:     f&BindingInstance != 0,
		DeclaredOnly: f&BindingDeclaredOnly != 0,
		IgnoreCase:   f&BindingIgnoreCase != 0,
	}
}

// Flags encodes q.
func (q MemberQuery) Flags() BindingFlags {
	var f BindingFlags
	if q.Public {
		f |= BindingPublic
	}
	if q.NonPublic {
		f |= BindingNonPublic
	}
	if q.Static {
		f |= BindingStatic
	}
	if q.Instance {
		f |= BindingInstance
	}
	if q.DeclaredOnly {
		f |= BindingDeclaredOnly
	}
	if q.IgnoreCase {
		f |= BindingIgnoreCase
	}
	return f
}

// Matches applies the visibility and storage filters to m.
func (q MemberQuery) Matches(m Member) bool {
	if m.IsPublic() {
		if !q.Public {
			return false
		}
	} else if !q.NonPublic {
		return false
	}
	if m.IsStatic() {
		return q.Static
	}
	return q.Instance
}

func (q MemberQuery) nameMatches(a, b string) bool {
	if q.IgnoreCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// levels yields the classes a query walks: c alone for DeclaredOnly,
// otherwise c and every ancestor, derived first.
func (q MemberQuery) levels(c *Class) iter.Seq[*Class] {
	if q.DeclaredOnly {
		return func(yield func(*Class) bool) { yield(c) }
	}
	return c.Lineage()
}

// ---------------------------------------------------------------------------
// Member enumeration
// ---------------------------------------------------------------------------

// Member is the common view of fields, methods, properties, events and
// nested types.
type Member interface {
	MemberName() string
	DeclaringClass() *Class
	IsPublic() bool
	IsStatic() bool
}

// MemberKind selects the member table EnumerateMembers reads.
type MemberKind uint8

const (
	MemberField MemberKind = iota
	MemberMethod
	MemberConstructor
	MemberProperty
	MemberEvent
	MemberNestedType
)

var memberKindNames = [...]string{"field", "method", "constructor", "property", "event", "nested type"}

func (k MemberKind) String() string {
	if int(k) < len(memberKindNames) {
		return memberKindNames[k]
	}
	return fmt.Sprintf("member(%d)", uint8(k))
}

// collect walks levels and keeps each member of table that passes keep.
// Results are ordered level by level, derived first, declaration order
// within a level.
func collect[M Member](levels iter.Seq[*Class], table func(*Class) []M, keep func(M) bool) []M {
	var out []M
	for k := range levels {
		for _, m := range table(k) {
			if keep(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// GetFields returns the fields of c and its ancestors that match q.
func GetFields(c *Class, q MemberQuery) []*Field {
	if c == nil {
		return nil
	}
	return collect(q.levels(c), func(k *Class) []*Field { return k.Fields },
		func(f *Field) bool { return q.Matches(f) })
}

// GetMethods returns the non-constructor methods that match q.
func GetMethods(c *Class, q MemberQuery) []*Method {
	if c == nil {
		return nil
	}
	return collect(q.levels(c), func(k *Class) []*Method { return k.Methods },
		func(m *Method) bool { return !m.IsConstructor() && q.Matches(m) })
}

// GetConstructors returns the instance and type constructors that match q.
func GetConstructors(c *Class, q MemberQuery) []*Method {
	if c == nil {
		return nil
	}
	return collect(q.levels(c), func(k *Class) []*Method { return k.Methods },
		func(m *Method) bool { return m.IsConstructor() && q.Matches(m) })
}

// GetProperties returns the properties that match q.
func GetProperties(c *Class, q MemberQuery) []*Property {
	if c == nil {
		return nil
	}
	return collect(q.levels(c), func(k *Class) []*Property { return k.Properties },
		func(p *Property) bool { return q.Matches(p) })
}

// GetEvents returns the events that match q.
func GetEvents(c *Class, q MemberQuery) []*Event {
	if c == nil {
		return nil
	}
	return collect(q.levels(c), func(k *Class) []*Event { return k.Events },
		func(e *Event) bool { return q.Matches(e) })
}

// GetNestedTypes returns the nested types declared directly on c. Only the
// visibility half of q applies; nested types are never inherited.
func GetNestedTypes(c *Class, q MemberQuery) []*Class {
	if c == nil {
		return nil
	}
	var out []*Class
	for _, n := range c.Nested {
		if n.IsPublic() && q.Public || !n.IsPublic() && q.NonPublic {
			out = append(out, n)
		}
	}
	return out
}

// EnumerateMembers returns the members of one kind as the Member interface.
func EnumerateMembers(c *Class, kind MemberKind, q MemberQuery) []Member {
	switch kind {
	case MemberField:
		return asMembers(GetFields(c, q))
	case MemberMethod:
		return asMembers(GetMethods(c, q))
	case MemberConstructor:
		return asMembers(GetConstructors(c, q))
	case MemberProperty:
		return asMembers(GetProperties(c, q))
	case MemberEvent:
		return asMembers(GetEvents(c, q))
	case MemberNestedType:
		return asMembers(GetNestedTypes(c, q))
	}
	panic(fmt.Sprintf("vm: EnumerateMembers: unknown member kind %v", kind))
}

func asMembers[M Member](ms []M) []Member {
	out := make([]Member, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

// ---------------------------------------------------------------------------
// Member lookup
// ---------------------------------------------------------------------------

// FindField returns the first field named name that matches q, searching
// derived classes first.
func FindField(c *Class, name string, q MemberQuery) *Field {
	if c == nil {
		return nil
	}
	for k := range q.levels(c) {
		for _, f := range k.Fields {
			if q.nameMatches(f.Name, name) && q.Matches(f) {
				return f
			}
		}
	}
	return nil
}

// FindMethod returns the first method named name whose attributes include
// every bit of required. A nil args matches any signature; otherwise the
// parameter types must be equal one for one.
func FindMethod(c *Class, name string, required MethodAttributes, args []*Type) *Method {
	if c == nil {
		return nil
	}
	for k := range c.Lineage() {
		for _, m := range k.Methods {
			if m.Attrs&required != required || m.Name != name {
				continue
			}
			if args == nil || m.sameParams(args) {
				return m
			}
		}
	}
	return nil
}

// FindConstructor returns the instance constructor taking args.
func FindConstructor(c *Class, args []*Type) *Method {
	return FindMethod(c, ConstructorName, MethodRTSpecialName, args)
}

// FindProperty returns the property named name declared on c. A non-nil
// indexTypes selects among indexed properties by their index parameters.
func FindProperty(c *Class, name string, indexTypes []*Type) *Property {
	if c == nil {
		return nil
	}
	for _, p := range c.Properties {
		if p.Name != name {
			continue
		}
		if indexTypes == nil || sameTypes(p.IndexParams(), indexTypes) {
			return p
		}
	}
	return nil
}

func sameTypes(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Type queries
// ---------------------------------------------------------------------------

// GetInterfaces returns the interfaces declared by c and each ancestor,
// derived first. Duplicates are kept.
func GetInterfaces(c *Class) []*Class {
	if c == nil {
		return nil
	}
	var out []*Class
	for k := range c.Lineage() {
		out = append(out, k.Interfaces...)
	}
	return out
}

// ElementType returns the underlying type of an enum, the element type of an
// array, or nil.
func ElementType(t *Type) *Type {
	if t == nil || t.ByRef || t.Pointer {
		return nil
	}
	switch t.Kind {
	case KindEnum:
		if t.Class.EnumBase != nil {
			return t.Class.EnumBase
		}
	case KindArray:
		return t.Elem
	}
	return nil
}

// IsSubtypeOf reports whether t derives from c. With checkInterfaces, an
// interface c is matched against the interfaces t implements (or, when t is
// itself an interface, the interfaces it directly extends).
func (r *Registry) IsSubtypeOf(t, c *Type, checkInterfaces bool) bool {
	if t == nil || c == nil {
		return false
	}
	k, kc := r.ClassOf(t), r.ClassOf(c)
	if k == nil || kc == nil {
		return false
	}
	if checkInterfaces && kc.IsInterface() {
		if !k.IsInterface() {
			return k.Implements(kc)
		}
		for _, i := range k.Interfaces {
			if i == kc {
				return true
			}
		}
		return false
	}
	if k.IsInterface() {
		return false
	}
	return k.IsSubclassOf(kc)
}

// TypeInfo summarises a type for reflection callers.
type TypeInfo struct {
	Name        string
	Namespace   string
	Parent      *Type
	NestedIn    *Type
	Attrs       TypeAttributes
	Rank        int
	ElementType *Type
	IsByRef     bool
	IsPointer   bool
	IsPrimitive bool
}

// TypeInfo describes t. A nil type has the zero description.
func (r *Registry) TypeInfo(t *Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	base := *t
	base.ByRef, base.Pointer = false, false
	c := r.ClassOf(&base)
	info := TypeInfo{
		IsByRef:     t.ByRef,
		IsPointer:   t.Pointer,
		IsPrimitive: t.Kind.IsPrimitive(),
		ElementType: ElementType(t),
	}
	if c == nil {
		info.Name, info.Namespace = "Void", "System"
		return info
	}
	info.Name = c.Name
	info.Namespace = c.Namespace
	info.Attrs = c.Flags
	info.Rank = c.Rank
	if c.Parent != nil {
		info.Parent = c.Parent.Type()
	}
	if c.NestedIn != nil {
		info.NestedIn = c.NestedIn.Type()
	}
	return info
}
