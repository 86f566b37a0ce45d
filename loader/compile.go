package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"gopkg.in/yaml.v3"

	"github.com/chazu/objcore/vm"
)

// Token bases for definitions that leave their token unset.
const (
	typeTokenBase   uint32 = 0x02000001
	methodTokenBase uint32 = 0x06000001
)

// Compile parses a YAML module definition into an image. Missing tokens are
// assigned in declaration order, enum members default to literals of the
// enum type, and literal values are packed into the blob heap.
func Compile(data []byte) (*Image, error) {
	var img Image
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&img); err != nil {
		return nil, fmt.Errorf("loader: parse definition: %w", err)
	}
	if err := img.pack(); err != nil {
		return nil, err
	}
	return &img, nil
}

// pack validates a freshly decoded definition and fills in the derived
// parts of the image.
func (img *Image) pack() error {
	if img.Name == "" {
		return fmt.Errorf("loader: definition has no module name")
	}
	if img.Name == vm.CorlibModule {
		return fmt.Errorf("loader: module name %q is reserved", img.Name)
	}

	defs := make(map[string]*TypeDef, len(img.Types))
	tokens := make(map[uint32]string, len(img.Types))
	methodToken := methodTokenBase
	for i := range img.Types {
		td := &img.Types[i]
		if td.Name == "" {
			return fmt.Errorf("loader: type %d has no name", i)
		}
		switch td.kind() {
		case KindClass, KindStruct, KindEnum, KindInterface:
		default:
			return fmt.Errorf("loader: %s: unknown kind %q", td.FullName(), td.Kind)
		}
		if td.Token == 0 {
			td.Token = typeTokenBase + uint32(i)
		}
		name := td.FullName()
		if _, dup := defs[name]; dup {
			return fmt.Errorf("loader: type %s defined twice", name)
		}
		if other, dup := tokens[td.Token]; dup {
			return fmt.Errorf("loader: %s and %s share token 0x%08x", other, name, td.Token)
		}
		defs[name] = td
		tokens[td.Token] = name

		for j := range td.Methods {
			if td.Methods[j].Token == 0 {
				td.Methods[j].Token = methodToken
			}
			methodToken++
		}
		if td.kind() == KindEnum {
			if td.Underlying.IsZero() {
				td.Underlying = TypeSig{Name: "int"}
			}
			for j := range td.Fields {
				f := &td.Fields[j]
				if f.Type.IsZero() {
					f.Type = TypeSig{Name: name}
					f.Literal = true
				}
			}
		}
	}

	heap := vm.NewBlobHeap()
	for i := range img.Types {
		td := &img.Types[i]
		for j := range td.Fields {
			f := &td.Fields[j]
			if f.Type.IsZero() {
				return fmt.Errorf("loader: %s::%s has no type", td.FullName(), f.Name)
			}
			if !f.Literal {
				if f.Value != nil {
					return fmt.Errorf("loader: %s::%s has a value but is not a literal", td.FullName(), f.Name)
				}
				continue
			}
			blob, err := encodeConstant(f.Type, f.Value, defs)
			if err != nil {
				return fmt.Errorf("loader: %s::%s: %w", td.FullName(), f.Name, err)
			}
			heap, f.Constant = vm.AppendBlob(heap, blob)
			f.HasDefault = true
			f.Static = true
		}
	}
	img.Blobs = heap
	return nil
}

// encodeConstant produces the little-endian blob of a literal value.
func encodeConstant(sig TypeSig, v any, defs map[string]*TypeDef) ([]byte, error) {
	if len(sig.Ranks) > 0 || sig.ByRef || sig.Pointer {
		return nullConstant(v)
	}
	k, ok := builtinKind(sig.Name)
	if !ok {
		td := defs[sig.Name]
		switch {
		case td != nil && td.kind() == KindEnum:
			if k, ok = builtinKind(td.Underlying.Name); !ok {
				return nil, fmt.Errorf("enum %s has underlying type %s", td.FullName(), td.Underlying)
			}
		case td != nil && td.kind() == KindStruct:
			return nil, fmt.Errorf("struct %s cannot have a constant", td.FullName())
		default:
			return nullConstant(v)
		}
	}

	switch k {
	case vm.KindString:
		s, ok := v.(string)
		if !ok {
			if v == nil {
				return nullConstant(v)
			}
			return nil, fmt.Errorf("want a string constant, got %T", v)
		}
		var out []byte
		for _, u := range utf16.Encode([]rune(s)) {
			out = binary.LittleEndian.AppendUint16(out, u)
		}
		return out, nil
	case vm.KindObject:
		return nullConstant(v)
	case vm.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want a bool constant, got %T", v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case vm.KindR4:
		f, err := floatValue(v)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case vm.KindR8:
		f, err := floatValue(v)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil
	case vm.KindChar:
		if s, ok := v.(string); ok {
			units := utf16.Encode([]rune(s))
			if len(units) != 1 {
				return nil, fmt.Errorf("char constant %q is not one UTF-16 unit", s)
			}
			return binary.LittleEndian.AppendUint16(nil, units[0]), nil
		}
	}
	return integerConstant(k, v)
}

// nullConstant encodes the null reference, the only constant a reference
// type other than string can hold.
func nullConstant(v any) ([]byte, error) {
	if v != nil {
		return nil, fmt.Errorf("reference constants must be null, got %v", v)
	}
	return []byte{0, 0, 0, 0}, nil
}

func floatValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("want a numeric constant, got %T", v)
}

// integerConstant range-checks v against k and encodes it.
func integerConstant(k vm.Kind, v any) ([]byte, error) {
	var (
		bits   uint64
		signed bool
	)
	switch x := v.(type) {
	case int:
		bits, signed = uint64(x), x < 0
	case int64:
		bits, signed = uint64(x), x < 0
	case uint64:
		bits = x
	default:
		return nil, fmt.Errorf("want an integer constant, got %T", v)
	}

	var size int
	var lo int64
	var hi uint64
	switch k {
	case vm.KindI1:
		size, lo, hi = 1, math.MinInt8, math.MaxInt8
	case vm.KindU1:
		size, hi = 1, math.MaxUint8
	case vm.KindI2:
		size, lo, hi = 2, math.MinInt16, math.MaxInt16
	case vm.KindU2, vm.KindChar:
		size, hi = 2, math.MaxUint16
	case vm.KindI4:
		size, lo, hi = 4, math.MinInt32, math.MaxInt32
	case vm.KindU4:
		size, hi = 4, math.MaxUint32
	case vm.KindI8, vm.KindI:
		size, lo, hi = 8, math.MinInt64, math.MaxInt64
	case vm.KindU8, vm.KindU:
		size, hi = 8, math.MaxUint64
	default:
		return nil, fmt.Errorf("no constant encoding for %v", k)
	}
	if signed && int64(bits) < lo || !signed && bits > hi {
		return nil, fmt.Errorf("constant %v out of range for %v", v, k)
	}

	out := binary.LittleEndian.AppendUint64(nil, bits)
	return out[:size], nil
}
