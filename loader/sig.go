package loader

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chazu/objcore/vm"
)

// TypeSig names a type in an image: a primitive alias ("int"), a corlib or
// image class by full name ("Demo.Color", "Demo.Outer+Inner"), optionally
// wrapped in arrays and a byref or pointer modifier. Its text form is
// "Name[][,]&": array suffixes apply innermost first.
type TypeSig struct {
	Name    string `cbor:"1,keyasint"`
	Ranks   []int  `cbor:"2,keyasint,omitempty"`
	ByRef   bool   `cbor:"3,keyasint,omitempty"`
	Pointer bool   `cbor:"4,keyasint,omitempty"`
}

// ParseTypeSig parses the text form of a signature.
func ParseTypeSig(s string) (TypeSig, error) {
	var sig TypeSig
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutSuffix(s, "&"); ok {
		sig.ByRef, s = true, rest
	}
	if rest, ok := strings.CutSuffix(s, "*"); ok {
		sig.Pointer, s = true, rest
	}
	for strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open < 0 {
			return TypeSig{}, fmt.Errorf("loader: bad type signature %q", s)
		}
		dims := s[open+1 : len(s)-1]
		if strings.Trim(dims, ",") != "" {
			return TypeSig{}, fmt.Errorf("loader: bad array suffix %q", s[open:])
		}
		sig.Ranks = append(sig.Ranks, len(dims)+1)
		s = s[:open]
	}
	// Suffixes were collected outermost first.
	for i, j := 0, len(sig.Ranks)-1; i < j; i, j = i+1, j-1 {
		sig.Ranks[i], sig.Ranks[j] = sig.Ranks[j], sig.Ranks[i]
	}
	if s == "" || strings.ContainsAny(s, "[]&* ") {
		return TypeSig{}, fmt.Errorf("loader: bad type name %q", s)
	}
	sig.Name = s
	return sig, nil
}

// MustParseTypeSig is ParseTypeSig for signatures known to be valid.
func MustParseTypeSig(s string) TypeSig {
	sig, err := ParseTypeSig(s)
	if err != nil {
		panic(err)
	}
	return sig
}

func (s TypeSig) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, r := range s.Ranks {
		b.WriteByte('[')
		b.WriteString(strings.Repeat(",", r-1))
		b.WriteByte(']')
	}
	if s.Pointer {
		b.WriteByte('*')
	}
	if s.ByRef {
		b.WriteByte('&')
	}
	return b.String()
}

// IsZero reports whether the signature is unset.
func (s TypeSig) IsZero() bool {
	return s.Name == ""
}

// UnmarshalYAML reads a signature from its text form.
func (s *TypeSig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: type signature must be a string", n.Line)
	}
	sig, err := ParseTypeSig(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = sig
	return nil
}

// MarshalYAML writes the text form.
func (s TypeSig) MarshalYAML() (any, error) {
	return s.String(), nil
}

// ---------------------------------------------------------------------------
// Built-in names
// ---------------------------------------------------------------------------

// aliases maps the short names accepted in signatures to built-in types.
var aliases = map[string]*vm.Type{
	"void":   vm.TypeVoid,
	"bool":   vm.TypeBoolean,
	"char":   vm.TypeChar,
	"sbyte":  vm.TypeInt8,
	"byte":   vm.TypeUInt8,
	"short":  vm.TypeInt16,
	"ushort": vm.TypeUInt16,
	"int":    vm.TypeInt32,
	"uint":   vm.TypeUInt32,
	"long":   vm.TypeInt64,
	"ulong":  vm.TypeUInt64,
	"float":  vm.TypeFloat32,
	"double": vm.TypeFloat64,
	"nint":   vm.TypeIntPtr,
	"nuint":  vm.TypeUIntPtr,
	"string": vm.TypeString,
	"object": vm.TypeObject,
}

// builtinType returns the type an alias or a System primitive name denotes.
func builtinType(name string) (*vm.Type, bool) {
	if t := aliases[name]; t != nil {
		return t, true
	}
	if name == "System.Void" {
		return vm.TypeVoid, true
	}
	for k := vm.KindBoolean; k <= vm.KindObject; k++ {
		if t := vm.PrimitiveType(k); t.String() == name {
			return t, true
		}
	}
	return nil, false
}

// builtinKind is the kind of a built-in type name, for constant encoding.
func builtinKind(name string) (vm.Kind, bool) {
	if t, ok := builtinType(name); ok {
		return t.Kind, true
	}
	return vm.KindVoid, false
}
