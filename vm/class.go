package vm

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// ---------------------------------------------------------------------------
// Class: runtime class descriptor
// ---------------------------------------------------------------------------

// TypeAttributes mirrors the TypeDef flags of the metadata tables.
type TypeAttributes uint32

const (
	TypeVisibilityMask    TypeAttributes = 0x0007
	TypeNotPublic         TypeAttributes = 0x0000
	TypePublic            TypeAttributes = 0x0001
	TypeNestedPublic      TypeAttributes = 0x0002
	TypeNestedPrivate     TypeAttributes = 0x0003
	TypeNestedFamily      TypeAttributes = 0x0004
	TypeNestedAssembly    TypeAttributes = 0x0005
	TypeNestedFamANDAssem TypeAttributes = 0x0006
	TypeNestedFamORAssem  TypeAttributes = 0x0007
	TypeSequentialLayout  TypeAttributes = 0x0008
	TypeInterface         TypeAttributes = 0x0020
	TypeAbstract          TypeAttributes = 0x0080
	TypeSealed            TypeAttributes = 0x0100
	TypeSpecialName       TypeAttributes = 0x0400
	TypeSerializable      TypeAttributes = 0x2000
)

// Module is a loaded unit of metadata. Classes point back at the module that
// defined them so literal constants can be fetched from its blob heap.
type Module struct {
	Name  string
	Blobs BlobHeap
}

// Class is the shared descriptor of one class. Member tables are filled by a
// loader before the class is published; after that they are read-only.
// Layout is computed lazily, once, on first use.
type Class struct {
	Name      string
	Namespace string
	Module    *Module
	Token     uint32
	Flags     TypeAttributes

	Parent   *Class
	NestedIn *Class

	Fields     []*Field
	Methods    []*Method
	Properties []*Property
	Events     []*Event
	Interfaces []*Class
	Nested     []*Class

	ValueType bool
	Enum      bool
	EnumBase  *Type // underlying integral type, enums only

	// Array classes
	Elem      *Type
	Rank      int
	elemClass *Class

	// intrinsic is the built-in kind of a corlib class (Int32, String, ...),
	// KindVoid for everything else.
	intrinsic Kind

	layoutOnce   sync.Once
	layoutErr    error
	instanceSize int
	align        int
	instanceRefs bool

	staticOnce sync.Once
	staticErr  error
	staticSize int
	staticRefs bool

	arrayMu sync.Mutex
	arrays  map[int]*Class
}

// NewClass creates a reference class deriving from parent.
func NewClass(namespace, name string, parent *Class) *Class {
	return &Class{
		Name:      name,
		Namespace: namespace,
		Parent:    parent,
		Flags:     TypePublic,
	}
}

// FullName returns Namespace.Name, with '+' separating nested classes.
func (c *Class) FullName() string {
	if c.Rank > 0 {
		return c.Type().String()
	}
	if c.NestedIn != nil {
		return c.NestedIn.FullName() + "+" + c.Name
	}
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "." + c.Name
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.FullName()
}

// Type returns the by-value type descriptor of the class.
func (c *Class) Type() *Type {
	switch {
	case c.Rank > 0:
		return ArrayOf(c.Elem, c.Rank)
	case c.intrinsic != KindVoid:
		return PrimitiveType(c.intrinsic)
	case c.Enum:
		return EnumType(c)
	case c.ValueType:
		return ValueTypeOf(c)
	}
	return ClassType(c)
}

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool { return c.Flags&TypeInterface != 0 }

// ElementClass returns the element class of an array class, or nil.
func (c *Class) ElementClass() *Class { return c.elemClass }

// ---------------------------------------------------------------------------
// Member declaration
// ---------------------------------------------------------------------------

// AddField declares a field and returns it.
func (c *Class) AddField(name string, t *Type, attrs FieldAttributes) *Field {
	f := &Field{Name: name, Parent: c, Type: t, Attrs: attrs, Offset: -1}
	c.Fields = append(c.Fields, f)
	return f
}

// AddLiteral declares a static literal field whose value lives in the blob
// heap at constIndex.
func (c *Class) AddLiteral(name string, t *Type, attrs FieldAttributes, constIndex uint32) *Field {
	f := c.AddField(name, t, attrs|FieldStatic|FieldLiteral|FieldHasDefault)
	f.ConstantIndex = constIndex
	return f
}

// AddMethod declares a method and returns it.
func (c *Class) AddMethod(name string, attrs MethodAttributes, ret *Type, params ...*Type) *Method {
	if ret == nil {
		ret = TypeVoid
	}
	m := &Method{Name: name, Parent: c, Attrs: attrs, Return: ret, Params: params}
	c.Methods = append(c.Methods, m)
	return m
}

// AddConstructor declares an instance constructor, or the type initializer
// when attrs includes MethodStatic.
func (c *Class) AddConstructor(attrs MethodAttributes, params ...*Type) *Method {
	name := ConstructorName
	if attrs&MethodStatic != 0 {
		name = TypeConstructorName
	}
	return c.AddMethod(name, attrs|MethodSpecialName|MethodRTSpecialName, TypeVoid, params...)
}

// AddProperty declares a property over existing accessor methods.
func (c *Class) AddProperty(name string, get, set *Method) *Property {
	p := &Property{Name: name, Parent: c, Get: get, Set: set}
	c.Properties = append(c.Properties, p)
	return p
}

// AddEvent declares an event over existing accessor methods.
func (c *Class) AddEvent(name string, add, remove, raise *Method) *Event {
	e := &Event{Name: name, Parent: c, Add: add, Remove: remove, Raise: raise}
	c.Events = append(c.Events, e)
	return e
}

// AddInterface records that c directly implements iface.
func (c *Class) AddInterface(iface *Class) {
	c.Interfaces = append(c.Interfaces, iface)
}

// AddNested declares n as a nested type of c.
func (c *Class) AddNested(n *Class) {
	n.NestedIn = c
	if n.Flags&TypeVisibilityMask == TypePublic {
		n.Flags = n.Flags&^TypeVisibilityMask | TypeNestedPublic
	}
	c.Nested = append(c.Nested, n)
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// Layout assigns field offsets and reports a class that cannot be laid
// out, such as a value type that contains itself by value.
func (c *Class) Layout() error {
	c.layoutOnce.Do(c.computeLayout)
	if c.layoutErr != nil {
		return c.layoutErr
	}
	c.staticOnce.Do(c.computeStaticLayout)
	return c.staticErr
}

// InstanceSize returns the payload size of an instance (the boxed size for
// value types).
func (c *Class) InstanceSize() int {
	c.layoutOnce.Do(c.computeLayout)
	return c.instanceSize
}

// StaticSize returns the size of the class's static storage.
func (c *Class) StaticSize() int {
	c.staticOnce.Do(c.computeStaticLayout)
	return c.staticSize
}

func (c *Class) alignment() int {
	c.layoutOnce.Do(c.computeLayout)
	return c.align
}

func (c *Class) hasInstanceRefs() bool {
	c.layoutOnce.Do(c.computeLayout)
	return c.instanceRefs
}

func (c *Class) hasStaticRefs() bool {
	c.staticOnce.Do(c.computeStaticLayout)
	return c.staticRefs
}

func (c *Class) instanceLayoutErr() error {
	c.layoutOnce.Do(c.computeLayout)
	return c.layoutErr
}

// computeLayout assigns instance field offsets after the parent's payload.
// Literal fields have no storage. A class that reaches a value-type cycle
// gets no instance fields and keeps the error.
func (c *Class) computeLayout() {
	size, align := 0, 1
	if c.Parent != nil {
		if err := c.Parent.instanceLayoutErr(); err != nil {
			c.layoutErr = fmt.Errorf("%s: %w", c.FullName(), err)
		}
		size = c.Parent.InstanceSize()
		align = c.Parent.alignment()
		c.instanceRefs = c.Parent.hasInstanceRefs()
	}
	if c.layoutErr == nil {
		c.layoutErr = c.checkValueCycle()
	}
	for _, f := range c.Fields {
		if f.IsLiteral() || f.IsStatic() {
			continue
		}
		if c.layoutErr != nil {
			f.Offset = -1
			continue
		}
		size = alignUp(size, f.Type.Align())
		f.Offset = size
		size += f.Type.Size()
		align = max(align, f.Type.Align())
		c.instanceRefs = c.instanceRefs || typeHasRefs(f.Type)
	}
	if n := c.intrinsic.primitiveSize(); n > 0 {
		size, align = n, n
	}
	if c.ValueType && size == 0 {
		size = 1
	}
	c.instanceSize = alignUp(size, align)
	c.align = align
	if c.layoutErr != nil {
		log.Errorf("cannot lay out %s: %v", c.FullName(), c.layoutErr)
		return
	}
	log.Debugf("laid out %s: instance %d bytes", c.FullName(), c.instanceSize)
}

// computeStaticLayout assigns static field offsets in their own space. It
// only needs the instance layout of field types, so a value type may hold a
// static field of its own type.
func (c *Class) computeStaticLayout() {
	size := 0
	for _, f := range c.Fields {
		if f.IsLiteral() {
			f.Offset = -1
			continue
		}
		if !f.IsStatic() {
			continue
		}
		t := f.Type
		if t.Kind == KindValueType && !t.ByRef && !t.Pointer {
			if err := t.Class.instanceLayoutErr(); err != nil {
				c.staticErr = fmt.Errorf("%s: static field %s: %w", c.FullName(), f.Name, err)
				f.Offset = -1
				continue
			}
		}
		size = alignUp(size, t.Align())
		f.Offset = size
		size += t.Size()
		c.staticRefs = c.staticRefs || typeHasRefs(t)
	}
	c.staticSize = size
	log.Debugf("laid out %s: static %d bytes", c.FullName(), c.staticSize)
}

// checkValueCycle walks the by-value instance fields reachable from c and
// fails if a value type is reached again while it is still being walked.
func (c *Class) checkValueCycle() error {
	var (
		path []*Class
		done = make(map[*Class]bool)
	)
	var visit func(k *Class) error
	visit = func(k *Class) error {
		if done[k] {
			return nil
		}
		if slices.Contains(path, k) {
			return fmt.Errorf("%w: value type %s contains itself", ErrTypeLoad, k.FullName())
		}
		path = append(path, k)
		for _, f := range k.Fields {
			t := f.Type
			if f.IsStatic() || f.IsLiteral() || t.ByRef || t.Pointer || t.Kind != KindValueType || t.Class == nil {
				continue
			}
			if err := visit(t.Class); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		done[k] = true
		return nil
	}
	return visit(c)
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// typeHasRefs reports whether a slot of type t contains reference slots.
func typeHasRefs(t *Type) bool {
	if t.IsReference() {
		return true
	}
	if t.Kind == KindValueType && !t.ByRef && !t.Pointer {
		return t.Class.hasInstanceRefs()
	}
	return false
}

// ---------------------------------------------------------------------------
// Hierarchy
// ---------------------------------------------------------------------------

// Lineage yields c and then each ancestor up to the root.
func (c *Class) Lineage() iter.Seq[*Class] {
	return func(yield func(*Class) bool) {
		for current := c; current != nil; current = current.Parent {
			if !yield(current) {
				return
			}
		}
	}
}

// IsSubclassOf returns true if c is other or derives from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Parent {
		if current == other {
			return true
		}
	}
	return false
}

// Implements reports whether c, an ancestor, or an inherited interface
// declares iface.
func (c *Class) Implements(iface *Class) bool {
	for current := range c.Lineage() {
		for _, i := range current.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableFrom reports whether a value whose class is k can be stored
// where c is expected. Reference-element arrays are covariant.
func (c *Class) IsAssignableFrom(k *Class) bool {
	if c == nil || k == nil {
		return false
	}
	if k.IsSubclassOf(c) {
		return true
	}
	if c.IsInterface() {
		return k.Implements(c)
	}
	if c.Rank > 0 && k.Rank == c.Rank {
		if c.Elem.IsReference() && k.Elem.IsReference() {
			return c.elemClass.IsAssignableFrom(k.elemClass)
		}
		return c.Elem.Equal(k.Elem)
	}
	return false
}

// IsInstance reports whether r is non-nil and assignable to c.
func (c *Class) IsInstance(r Ref) bool {
	return !isNilRef(r) && c.IsAssignableFrom(r.Class())
}

// ---------------------------------------------------------------------------
// Member interface for nested types
// ---------------------------------------------------------------------------

func (c *Class) MemberName() string     { return c.Name }
func (c *Class) DeclaringClass() *Class { return c.NestedIn }
func (c *Class) IsStatic() bool         { return false }
func (c *Class) IsPublic() bool {
	switch c.Flags & TypeVisibilityMask {
	case TypePublic, TypeNestedPublic:
		return true
	}
	return false
}
