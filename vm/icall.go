package vm

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// ---------------------------------------------------------------------------
// Internal-call table
// ---------------------------------------------------------------------------

// ICallTable maps qualified names ("Namespace.Class::Method") to Go
// functions. Functions are stored as reflect.Values and invoked with
// argument checking; a trailing error result is split off.
type ICallTable struct {
	mu    sync.RWMutex
	funcs map[string]reflect.Value
}

// NewICallTable creates an empty table.
func NewICallTable() *ICallTable {
	return &ICallTable{funcs: make(map[string]reflect.Value)}
}

// Register binds name to fn. fn must be a function; re-registering a name
// replaces the previous binding.
func (t *ICallTable) Register(name string, fn any) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("vm: icall %s: %T is not a function", name, fn))
	}
	t.mu.Lock()
	t.funcs[name] = v
	t.mu.Unlock()
}

// Lookup returns the function bound to name.
func (t *ICallTable) Lookup(name string) (reflect.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[name]
	return fn, ok
}

// Names returns every registered name in sorted order.
func (t *ICallTable) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.funcs))
	for n := range t.funcs {
		names = append(names, n)
	}
	t.mu.RUnlock()
	slices.Sort(names)
	return names
}

var errorType = reflect.TypeFor[error]()

// Invoke calls the function bound to name. A nil argument for a pointer
// parameter is an ArgumentNull error; for other nillable parameters it
// becomes the zero value. The function's results are returned
// without the trailing error, which is returned separately.
func (t *ICallTable) Invoke(name string, args ...any) ([]any, error) {
	fn, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingMethod, name)
	}
	ft := fn.Type()
	if len(args) != ft.NumIn() {
		return nil, argInvalid("args", fmt.Sprintf("%s takes %d arguments, got %d", name, ft.NumIn(), len(args)))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := ft.In(i)
		if a == nil {
			switch pt.Kind() {
			case reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
				in[i] = reflect.Zero(pt)
				continue
			}
			return nil, argNull(fmt.Sprintf("arg%d", i))
		}
		v := reflect.ValueOf(a)
		switch {
		case v.Type().AssignableTo(pt):
		case isIntegerKind(v.Kind()) && isIntegerKind(pt.Kind()):
			v = v.Convert(pt)
		default:
			return nil, fmt.Errorf("%w: %s argument %d is %s, want %s", ErrInvalidCast, name, i, v.Type(), pt)
		}
		in[i] = v
	}

	out := fn.Call(in)
	results := make([]any, 0, len(out))
	for i, o := range out {
		if i == len(out)-1 && ft.Out(i) == errorType {
			if !o.IsNil() {
				return results, o.Interface().(error)
			}
			continue
		}
		results = append(results, o.Interface())
	}
	return results, nil
}

func isIntegerKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uint64
}

// ---------------------------------------------------------------------------
// Core bindings
// ---------------------------------------------------------------------------

// RegisterCoreICalls binds the object-model internal calls for domain d.
func RegisterCoreICalls(t *ICallTable, d *Domain) {
	reg := d.Registry

	// System.Array
	t.Register("System.Array::GetValue", (*Array).GetValue)
	t.Register("System.Array::SetValue", (*Array).SetValue)
	t.Register("System.Array::GetValueImpl", (*Array).GetValueImpl)
	t.Register("System.Array::SetValueImpl", (*Array).SetValueImpl)
	t.Register("System.Array::GetRank", (*Array).Rank)
	t.Register("System.Array::GetLength", (*Array).GetLength)
	t.Register("System.Array::GetLowerBound", (*Array).GetLowerBound)
	t.Register("System.Array::CreateInstanceImpl", d.CreateArray)
	t.Register("System.Array::FastCopy", FastCopy)
	t.Register("System.Array::Clone", func(a *Array) Ref { return d.Clone(a) })
	t.Register("System.Runtime.CompilerServices.RuntimeHelpers::InitializeArray", (*Array).InitializeFromField)

	// System.Buffer
	t.Register("System.Buffer::ByteLengthInternal", ByteLength)
	t.Register("System.Buffer::GetByteInternal", GetByte)
	t.Register("System.Buffer::SetByteInternal", SetByte)
	t.Register("System.Buffer::BlockCopyInternal", BlockCopy)

	// System.Object and System.ValueType
	t.Register("System.Object::MemberwiseClone", d.Clone)
	t.Register("System.Object::GetType", TypeOf)
	t.Register("System.Object::GetHashCode", func(r Ref) int32 {
		if isNilRef(r) {
			return 0
		}
		return r.IdentityHash()
	})
	t.Register("System.ValueType::GetHashCode", ValueTypeHash)
	t.Register("System.ValueType::Equals", ValueTypeEquals)
	t.Register("System.Runtime.Serialization.FormatterServices::GetUninitializedObjectInternal", d.NewUninitialized)

	// Fields
	t.Register("System.Reflection.MonoField::GetValue", func(f *Field, obj Ref) (Ref, error) {
		return d.GetFieldValue(f, obj)
	})
	t.Register("System.Reflection.FieldInfo::SetValueInternal", func(f *Field, obj, value Ref) error {
		return d.SetFieldValue(f, obj, value)
	})

	// Enums
	t.Register("System.MonoEnumInfo::get_enum_info", DecodeEnumLiterals)
	t.Register("System.Enum::get_value", d.EnumValue)
	t.Register("System.Enum::ToObject", d.EnumToObject)

	// System.Type
	t.Register("System.Type::get_constructor", FindConstructor)
	t.Register("System.Type::get_property", FindProperty)
	t.Register("System.Type::type_is_subtype_of", reg.IsSubtypeOf)
	t.Register("System.Type::Equals", (*Type).Equal)
	t.Register("System.Type::GetTypeCode", GetTypeCode)

	// System.MonoType
	t.Register("System.MonoType::get_method", func(c *Class, name string, args []*Type) *Method {
		return FindMethod(c, name, 0, args)
	})
	t.Register("System.MonoType::get_attributes", func(c *Class) TypeAttributes { return c.Flags })
	t.Register("System.MonoType::get_type_info", reg.TypeInfo)
	t.Register("System.MonoType::GetElementType", ElementType)
	t.Register("System.MonoType::GetInterfaces", GetInterfaces)
	t.Register("System.MonoType::GetField", func(c *Class, name string, f BindingFlags) *Field {
		return FindField(c, name, f.Query())
	})
	t.Register("System.MonoType::GetFields", func(c *Class, f BindingFlags) []*Field {
		return GetFields(c, f.Query())
	})
	t.Register("System.MonoType::GetMethods", func(c *Class, f BindingFlags) []*Method {
		return GetMethods(c, f.Query())
	})
	t.Register("System.MonoType::GetConstructors", func(c *Class, f BindingFlags) []*Method {
		return GetConstructors(c, f.Query())
	})
	t.Register("System.MonoType::GetProperties", func(c *Class, f BindingFlags) []*Property {
		return GetProperties(c, f.Query())
	})
	t.Register("System.MonoType::GetEvents", func(c *Class, f BindingFlags) []*Event {
		return GetEvents(c, f.Query())
	})
	t.Register("System.MonoType::GetNestedTypes", func(c *Class, f BindingFlags) []*Class {
		return GetNestedTypes(c, f.Query())
	})
}
