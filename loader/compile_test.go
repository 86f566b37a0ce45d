package loader

import (
	"bytes"
	"math"
	"testing"

	"github.com/chazu/objcore/vm"
)

func TestEncodeConstant(t *testing.T) {
	defs := map[string]*TypeDef{
		"Demo.Small": {Namespace: "Demo", Name: "Small", Kind: KindEnum, Underlying: TypeSig{Name: "short"}},
		"Demo.Point": {Namespace: "Demo", Name: "Point", Kind: KindStruct},
	}
	tests := []struct {
		sig  string
		v    any
		want []byte
	}{
		{"int", 5, []byte{5, 0, 0, 0}},
		{"int", -1, []byte{0xff, 0xff, 0xff, 0xff}},
		{"byte", 255, []byte{255}},
		{"sbyte", -1, []byte{0xff}},
		{"long", -2, []byte{0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"ulong", uint64(math.MaxUint64), bytes.Repeat([]byte{0xff}, 8)},
		{"ushort", 0x1234, []byte{0x34, 0x12}},
		{"bool", true, []byte{1}},
		{"bool", false, []byte{0}},
		{"char", "A", []byte{0x41, 0}},
		{"char", 0x42, []byte{0x42, 0}},
		{"string", "hi", []byte{'h', 0, 'i', 0}},
		{"string", "", nil},
		{"string", nil, []byte{0, 0, 0, 0}},
		{"object", nil, []byte{0, 0, 0, 0}},
		{"int[]", nil, []byte{0, 0, 0, 0}},
		{"Demo.Unknown", nil, []byte{0, 0, 0, 0}},
		{"double", 1.5, []byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f}},
		{"float", 1, []byte{0, 0, 0x80, 0x3f}},
		{"Demo.Small", -2, []byte{0xfe, 0xff}},
	}
	for _, tt := range tests {
		got, err := encodeConstant(MustParseTypeSig(tt.sig), tt.v, defs)
		if err != nil {
			t.Errorf("encodeConstant(%s, %v): %v", tt.sig, tt.v, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encodeConstant(%s, %v) = %x, want %x", tt.sig, tt.v, got, tt.want)
		}
	}
}

func TestEncodeConstantErrors(t *testing.T) {
	defs := map[string]*TypeDef{
		"Demo.Point": {Namespace: "Demo", Name: "Point", Kind: KindStruct},
	}
	tests := []struct {
		sig string
		v   any
	}{
		{"byte", 256},
		{"byte", -1},
		{"int", int64(math.MaxInt32) + 1},
		{"uint", -1},
		{"long", uint64(math.MaxUint64)},
		{"int", "five"},
		{"bool", 1},
		{"char", "AB"},
		{"double", "x"},
		{"object", 1},
		{"string", 3},
		{"Demo.Point", nil},
		{"int[]", []any{1}},
	}
	for _, tt := range tests {
		if got, err := encodeConstant(MustParseTypeSig(tt.sig), tt.v, defs); err == nil {
			t.Errorf("encodeConstant(%s, %v) = %x, want error", tt.sig, tt.v, got)
		}
	}
}

const shapesYAML = `
module: shapes
types:
  - namespace: Shapes
    name: Kind
    kind: enum
    underlying: byte
    fields:
      - {name: Round, value: 1}
      - {name: Square, value: 2}
  - namespace: Shapes
    name: Box
    token: 0x02000010
    fields:
      - {name: kind, type: Shapes.Kind}
      - {name: Name, type: string, literal: true, value: box}
    methods:
      - {name: .ctor}
      - {name: Open, token: 0x06000100}
      - {name: Close}
`

func TestCompile(t *testing.T) {
	img, err := Compile([]byte(shapesYAML))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if img.Name != "shapes" || len(img.Types) != 2 {
		t.Fatalf("image = %s with %d types", img.Name, len(img.Types))
	}

	kind, box := &img.Types[0], &img.Types[1]
	if kind.Token != 0x02000001 || box.Token != 0x02000010 {
		t.Errorf("tokens = 0x%08x, 0x%08x", kind.Token, box.Token)
	}
	wantMethods := []uint32{0x06000001, 0x06000100, 0x06000003}
	for i, m := range box.Methods {
		if m.Token != wantMethods[i] {
			t.Errorf("%s token = 0x%08x, want 0x%08x", m.Name, m.Token, wantMethods[i])
		}
	}

	for _, f := range kind.Fields {
		if !f.Literal || !f.Static || !f.HasDefault || f.Type.Name != "Shapes.Kind" {
			t.Errorf("enum member %s = %+v", f.Name, f)
		}
	}
	if box.Fields[0].Literal || box.Fields[0].HasDefault {
		t.Error("plain field should not be a literal")
	}

	heap := vm.BlobHeap(img.Blobs)
	blob, err := heap.Blob(kind.Fields[1].Constant)
	if err != nil || !bytes.Equal(blob, []byte{2}) {
		t.Errorf("Square constant = %x, %v", blob, err)
	}
	blob, err = heap.Blob(box.Fields[1].Constant)
	if err != nil || !bytes.Equal(blob, []byte{'b', 0, 'o', 0, 'x', 0}) {
		t.Errorf("Name constant = %x, %v", blob, err)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no module", "types: []"},
		{"reserved module", "module: corlib"},
		{"unknown key", "module: m\nversion: 2"},
		{"unnamed type", "module: m\ntypes:\n  - {kind: class}"},
		{"unknown kind", "module: m\ntypes:\n  - {name: A, kind: union}"},
		{"duplicate type", "module: m\ntypes:\n  - {name: A}\n  - {name: A}"},
		{"duplicate token", "module: m\ntypes:\n  - {name: A, token: 5}\n  - {name: B, token: 5}"},
		{"untyped field", "module: m\ntypes:\n  - name: A\n    fields: [{name: f}]"},
		{"value on plain field", "module: m\ntypes:\n  - name: A\n    fields: [{name: f, type: int, value: 1}]"},
		{"bad constant", "module: m\ntypes:\n  - name: A\n    fields: [{name: f, type: byte, literal: true, value: 300}]"},
		{"bad signature", "module: m\ntypes:\n  - name: A\n    fields: [{name: f, type: \"int[x]\"}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile([]byte(tt.src)); err == nil {
				t.Error("Compile should fail")
			}
		})
	}
}
