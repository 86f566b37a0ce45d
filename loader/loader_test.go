package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"

	"github.com/chazu/objcore/vm"
)

const demoYAML = `
module: demo
types:
  - namespace: Demo
    name: Color
    kind: enum
    fields:
      - {name: Red, value: 0}
      - {name: Green, value: 1}
      - {name: Blue, value: -1}
  - namespace: Demo
    name: Shape
    abstract: true
    interfaces: [Demo.IDrawable]
    fields:
      - {name: color, type: Demo.Color, access: private}
      - {name: count, type: int, static: true}
      - {name: Unit, type: double, literal: true, value: 1.5}
      - {name: Label, type: string, literal: true, value: shape}
    methods:
      - {name: .ctor, access: protected, params: [Demo.Color]}
      - {name: .cctor, access: private}
      - {name: Area, virtual: true, abstract: true, returns: double}
      - {name: get_Color, returns: Demo.Color}
      - {name: set_Color, params: [Demo.Color]}
    properties:
      - {name: Color, get: get_Color, set: "set_Color(Demo.Color)"}
  - namespace: Demo
    name: Circle
    parent: Demo.Shape
    sealed: true
    fields:
      - {name: radius, type: double}
      - {name: center, type: Demo.Point}
      - {name: next, type: Demo.Circle}
      - {name: path, type: "Demo.Point[]"}
    methods:
      - {name: Area, virtual: true, final: true, returns: double}
  - namespace: Demo
    name: Point
    kind: struct
    fields:
      - {name: X, type: int}
      - {name: Y, type: int}
  - name: Corner
    nested_in: Demo.Point
    kind: enum
    underlying: byte
    access: private
    fields:
      - {name: TopLeft, value: 0}
      - {name: BottomRight, value: 3}
  - namespace: Demo
    name: IDrawable
    kind: interface
    methods:
      - {name: Draw, virtual: true, abstract: true}
`

const appYAML = `
module: app
types:
  - namespace: App
    name: Widget
    parent: Demo.Shape
    fields:
      - {name: tint, type: Demo.Color}
      - {name: corners, type: "Demo.Point+Corner[]"}
`

func mustCompile(t *testing.T, src string) *Image {
	t.Helper()
	img, err := Compile([]byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return img
}

func mustLoader(t *testing.T, srcs ...string) *Loader {
	t.Helper()
	var images []*Image
	for _, src := range srcs {
		images = append(images, mustCompile(t, src))
	}
	l, err := New(images...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func mustFind(t *testing.T, r *vm.Registry, name string) *vm.Class {
	t.Helper()
	c, ok := r.FindClass(name)
	if !ok {
		t.Fatalf("FindClass(%s) failed", name)
	}
	return c
}

func TestLoadHierarchy(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML))
	circle, err := reg.Resolve("demo", 0x02000003)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if circle.FullName() != "Demo.Circle" {
		t.Fatalf("token 0x02000003 = %s", circle.FullName())
	}

	shape := mustFind(t, reg, "Demo.Shape")
	drawable := mustFind(t, reg, "Demo.IDrawable")
	point := mustFind(t, reg, "Demo.Point")

	if circle.Parent != shape || shape.Parent != reg.Corlib.Object {
		t.Errorf("parents = %v, %v", circle.Parent, shape.Parent)
	}
	if circle.Flags&vm.TypeSealed == 0 || shape.Flags&vm.TypeAbstract == 0 {
		t.Errorf("flags: circle 0x%x, shape 0x%x", circle.Flags, shape.Flags)
	}
	if !drawable.IsInterface() || drawable.Parent != nil {
		t.Error("IDrawable should be a root interface")
	}
	if !point.ValueType || point.Parent != reg.Corlib.ValueType {
		t.Error("Point should be a value type")
	}
	if got := vm.GetInterfaces(circle); len(got) != 1 || got[0] != drawable {
		t.Errorf("GetInterfaces(Circle) = %v", got)
	}
	if !reg.IsSubtypeOf(circle.Type(), drawable.Type(), true) {
		t.Error("Circle should implement IDrawable")
	}
	if got := len(reg.Classes("demo")); got != 6 {
		t.Errorf("demo has %d classes, want 6", got)
	}
}

func TestLoadFields(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML))
	if err := reg.Load("demo"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	circle := mustFind(t, reg, "Demo.Circle")
	point := mustFind(t, reg, "Demo.Point")
	shape := mustFind(t, reg, "Demo.Shape")

	types := map[string]*vm.Type{}
	for _, f := range circle.Fields {
		types[f.Name] = f.Type
	}
	if !types["center"].Equal(point.Type()) {
		t.Errorf("center type = %v", types["center"])
	}
	if !types["next"].Equal(circle.Type()) {
		t.Errorf("next type = %v", types["next"])
	}
	if !types["path"].Equal(vm.ArrayOf(point.Type(), 1)) {
		t.Errorf("path type = %v", types["path"])
	}

	tests := []struct {
		name   string
		access vm.FieldAttributes
		static bool
	}{
		{"color", vm.FieldPrivate, false},
		{"count", vm.FieldPublic, true},
		{"Unit", vm.FieldPublic, true},
	}
	for _, tt := range tests {
		f := vm.FindField(shape, tt.name, vm.BindingFlags(0x3c).Query())
		if f == nil {
			t.Errorf("field %s missing", tt.name)
			continue
		}
		if f.Attrs&vm.FieldAccessMask != tt.access || f.IsStatic() != tt.static {
			t.Errorf("field %s attrs = 0x%x", tt.name, f.Attrs)
		}
	}
}

func TestLoadLiterals(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML))
	if err := reg.Load("demo"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := vm.NewDomain(reg)
	shape := mustFind(t, reg, "Demo.Shape")
	color := mustFind(t, reg, "Demo.Color")

	field := func(c *vm.Class, name string) *vm.Field {
		for _, f := range c.Fields {
			if f.Name == name {
				return f
			}
		}
		t.Fatalf("%s has no field %s", c.FullName(), name)
		return nil
	}

	v, err := d.GetFieldValue(field(shape, "Label"), nil)
	if s, ok := v.(*vm.String); err != nil || !ok || s.Value() != "shape" {
		t.Errorf("Label = %v, %v", v, err)
	}
	v, err = d.GetFieldValue(field(shape, "Unit"), nil)
	if o, ok := v.(*vm.Object); err != nil || !ok || o.Unbox() != 1.5 {
		t.Errorf("Unit = %v, %v", v, err)
	}
	v, err = d.GetFieldValue(field(color, "Blue"), nil)
	if o, ok := v.(*vm.Object); err != nil || !ok || o.Class() != color || o.Unbox() != int32(-1) {
		t.Errorf("Blue = %v, %v", v, err)
	}

	info, err := vm.DecodeEnumLiterals(color)
	if err != nil {
		t.Fatalf("DecodeEnumLiterals: %v", err)
	}
	if !slices.Equal(info.Names, []string{"Red", "Green", "Blue"}) || info.Int64(2) != -1 {
		t.Errorf("Color literals = %v %v", info.Names, info.Values)
	}

	corner := mustFind(t, reg, "Demo.Point+Corner")
	if corner.EnumBase != vm.TypeUInt8 || corner.Flags&vm.TypeVisibilityMask != vm.TypeNestedPrivate {
		t.Errorf("Corner base %v flags 0x%x", corner.EnumBase, corner.Flags)
	}
	info, err = vm.DecodeEnumLiterals(corner)
	if err != nil {
		t.Fatalf("DecodeEnumLiterals(Corner): %v", err)
	}
	if v, ok := info.Lookup("BottomRight"); !ok || v != 3 {
		t.Errorf("BottomRight = %d, %v", v, ok)
	}
}

func TestLoadMethods(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML))
	if err := reg.Load("demo"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	shape := mustFind(t, reg, "Demo.Shape")
	circle := mustFind(t, reg, "Demo.Circle")
	color := mustFind(t, reg, "Demo.Color")

	ctor := vm.FindConstructor(shape, []*vm.Type{color.Type()})
	if ctor == nil || ctor.Token != 0x06000001 || ctor.Attrs&vm.MethodMemberAccessMask != vm.MethodFamily {
		t.Errorf("ctor = %v", ctor)
	}
	cctor := vm.FindMethod(shape, vm.TypeConstructorName, vm.MethodStatic, nil)
	if cctor == nil || cctor.Token != 0x06000002 {
		t.Errorf("cctor = %v", cctor)
	}

	area := vm.FindMethod(circle, "Area", vm.MethodVirtual|vm.MethodFinal, nil)
	if area == nil || area.Parent != circle || !area.Return.Equal(vm.TypeFloat64) {
		t.Errorf("Circle.Area = %v", area)
	}
	if m := vm.FindMethod(circle, "Area", vm.MethodAbstract, nil); m == nil || m.Parent != shape {
		t.Errorf("abstract Area = %v", m)
	}

	p := vm.FindProperty(shape, "Color", nil)
	if p == nil || p.Get == nil || p.Get.Name != "get_Color" || p.Set == nil || p.Set.Name != "set_Color" {
		t.Fatalf("Color property = %+v", p)
	}
	if !p.Get.Return.Equal(color.Type()) {
		t.Errorf("get_Color returns %v", p.Get.Return)
	}
}

func TestLoadCrossModule(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML, appYAML))
	widget, err := reg.Resolve("app", 0x02000001)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	shape := mustFind(t, reg, "Demo.Shape")
	if widget.Parent != shape {
		t.Errorf("Widget parent = %v", widget.Parent)
	}
	corner := mustFind(t, reg, "Demo.Point+Corner")
	if got := widget.Fields[1].Type; !got.Equal(vm.ArrayOf(corner.Type(), 1)) {
		t.Errorf("corners type = %v", got)
	}
	if c, err := reg.Resolve("demo", 0x02000001); err != nil || c.FullName() != "Demo.Color" {
		t.Errorf("demo should already be loaded: %v, %v", c, err)
	}
}

func TestLoadAll(t *testing.T) {
	l := mustLoader(t, appYAML, demoYAML)
	if got := l.Modules(); !slices.Equal(got, []string{"app", "demo"}) {
		t.Errorf("Modules() = %v", got)
	}
	if _, ok := l.Image("demo"); !ok {
		t.Error("Image(demo) missing")
	}
	reg := vm.NewRegistry(l)
	if err := l.LoadAll(reg); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n := len(reg.Classes("app")) + len(reg.Classes("demo")); n != 7 {
		t.Errorf("loaded %d classes, want 7", n)
	}
	if err := reg.Load("nope"); err == nil {
		t.Error("loading an unknown module should fail")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"unresolved", "module: m\ntypes:\n  - name: A\n    parent: Nowhere.B", vm.ErrTypeLoad},
		{"derive from struct", "module: m\ntypes:\n  - {name: S, kind: struct}\n  - {name: A, parent: S}", vm.ErrTypeLoad},
		{"derive from sealed", "module: m\ntypes:\n  - {name: S, sealed: true}\n  - {name: A, parent: S}", vm.ErrTypeLoad},
		{"not an interface", "module: m\ntypes:\n  - {name: S}\n  - {name: A, interfaces: [S]}", vm.ErrTypeLoad},
		{"struct with parent", "module: m\ntypes:\n  - {name: S, kind: struct, parent: object}", vm.ErrBadImageFormat},
		{"float enum", "module: m\ntypes:\n  - {name: E, kind: enum, underlying: double}", vm.ErrBadImageFormat},
		{"enum instance field", "module: m\ntypes:\n  - name: E\n    kind: enum\n    fields: [{name: x, type: int}]", vm.ErrBadImageFormat},
		{"bad access", "module: m\ntypes:\n  - name: A\n    fields: [{name: x, type: int, access: secret}]", vm.ErrBadImageFormat},
		{"missing accessor", "module: m\ntypes:\n  - name: A\n    properties: [{name: P, get: get_P}]", vm.ErrBadImageFormat},
		{"unknown outer", "module: m\ntypes:\n  - {name: I, nested_in: Nowhere}", vm.ErrTypeLoad},
		{"void field", "module: m\ntypes:\n  - name: A\n    fields: [{name: x, type: void}]", vm.ErrTypeLoad},
		{"self-containing struct", "module: m\ntypes:\n  - name: S\n    kind: struct\n    fields: [{name: s, type: S}]", vm.ErrTypeLoad},
		{"mutually containing structs", "module: m\ntypes:\n  - name: S\n    kind: struct\n    fields: [{name: t, type: T}]\n  - name: T\n    kind: struct\n    fields: [{name: s, type: S}]", vm.ErrTypeLoad},
		{"array of void", "module: m\ntypes:\n  - name: A\n    fields: [{name: x, type: \"void[]\"}]", vm.ErrTypeLoad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := vm.NewRegistry(mustLoader(t, tt.src))
			for range 2 {
				if err := reg.Load("m"); !errors.Is(err, tt.want) {
					t.Errorf("Load error = %v, want %v", err, tt.want)
				}
				if got := reg.Classes("m"); len(got) != 0 {
					t.Errorf("failed load published %v", got)
				}
			}
		})
	}
}

const brokenAppYAML = `
module: app
types:
  - namespace: App
    name: Good
    parent: Demo.Shape
  - namespace: App
    name: Bad
    fields:
      - {name: x, type: App.Missing}
`

func TestFailedLoadPublishesNothing(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML, brokenAppYAML))

	for range 2 {
		if _, err := reg.Resolve("app", 0x02000001); !errors.Is(err, vm.ErrTypeLoad) {
			t.Fatalf("Resolve error = %v, want %v", err, vm.ErrTypeLoad)
		}
		if c, ok := reg.Lookup("app", 0x02000001); ok {
			t.Fatalf("Lookup after a failed load returned %v", c)
		}
		for _, name := range []string{"App.Good", "Demo.Shape"} {
			if c, ok := reg.FindClass(name); ok {
				t.Fatalf("FindClass(%s) after a failed load returned %v", name, c)
			}
		}
	}

	// demo was only staged by the failed load; it loads on its own.
	shape, err := reg.Resolve("demo", 0x02000002)
	if err != nil {
		t.Fatalf("Resolve(demo): %v", err)
	}
	if shape.FullName() != "Demo.Shape" || shape.Parent == nil || len(shape.Fields) == 0 {
		t.Errorf("Demo.Shape is not populated: parent %v, %d fields", shape.Parent, len(shape.Fields))
	}
}

func TestLoadMutuallyDependentModules(t *testing.T) {
	const nodesYAML = `
module: nodes
types:
  - namespace: Nodes
    name: Node
    fields:
      - {name: peer, type: Peers.Peer}
`
	const peersYAML = `
module: peers
types:
  - namespace: Peers
    name: Peer
    parent: Nodes.Node
`
	reg := vm.NewRegistry(mustLoader(t, nodesYAML, peersYAML))
	if err := reg.Load("nodes"); err != nil {
		t.Fatalf("Load(nodes): %v", err)
	}
	node := mustFind(t, reg, "Nodes.Node")
	peer := mustFind(t, reg, "Peers.Peer")
	if peer.Parent != node {
		t.Errorf("Peer parent = %v, want Nodes.Node", peer.Parent)
	}
	if got := node.Fields[0].Type.Class; got != peer {
		t.Errorf("peer field class = %v", got)
	}
	if got := reg.Classes("peers"); len(got) != 1 {
		t.Errorf("Classes(peers) = %v", got)
	}
}

func TestConcurrentResolveSeesPopulatedClasses(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML, appYAML))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			widget, err := reg.Resolve("app", 0x02000001)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			if widget.Parent == nil || widget.Parent.FullName() != "Demo.Shape" || len(widget.Fields) != 2 {
				t.Errorf("Widget resolved unpopulated: parent %v, %d fields", widget.Parent, len(widget.Fields))
			}
		}()
		go func() {
			defer wg.Done()
			for {
				if shape, ok := reg.FindClass("Demo.Shape"); ok {
					if shape.Parent == nil || len(shape.Methods) == 0 {
						t.Errorf("FindClass returned Demo.Shape unpopulated")
					}
					return
				}
				runtime.Gosched()
			}
		}()
	}
	wg.Wait()
}

func TestNewRejectsDuplicateModules(t *testing.T) {
	a, b := mustCompile(t, demoYAML), mustCompile(t, demoYAML)
	if _, err := New(a, b); err == nil {
		t.Error("two images for one module should be rejected")
	}
}

func TestOpenAll(t *testing.T) {
	dir := t.TempDir()
	demo := filepath.Join(dir, "demo.yaml")
	if err := os.WriteFile(demo, []byte(demoYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	app := filepath.Join(dir, "app.img")
	if err := WriteFile(app, mustCompile(t, appYAML)); err != nil {
		t.Fatal(err)
	}

	l, err := OpenAll(context.Background(), demo, app)
	if err != nil {
		t.Fatalf("OpenAll: %v", err)
	}
	if got := l.Modules(); !slices.Equal(got, []string{"app", "demo"}) {
		t.Errorf("Modules() = %v", got)
	}
	reg := vm.NewRegistry(l)
	if _, err := reg.Resolve("app", 0x02000001); err != nil {
		t.Errorf("Resolve after OpenAll: %v", err)
	}

	if _, err := OpenAll(context.Background(), demo, filepath.Join(dir, "missing.img")); err == nil {
		t.Error("a missing file should fail OpenAll")
	}
	if _, err := OpenAll(context.Background(), demo, demo); err == nil {
		t.Error("opening a module twice should fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := OpenAll(ctx, demo); !errors.Is(err, context.Canceled) {
		t.Errorf("OpenAll on a cancelled context = %v", err)
	}
}

func TestResolveType(t *testing.T) {
	reg := vm.NewRegistry(mustLoader(t, demoYAML))
	if err := reg.Load("demo"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	color := mustFind(t, reg, "Demo.Color")

	tests := []struct {
		sig  string
		want *vm.Type
	}{
		{"int", vm.TypeInt32},
		{"System.String[]", vm.ArrayOf(vm.TypeString, 1)},
		{"Demo.Color", color.Type()},
		{"Demo.Color[,]&", vm.ArrayOf(color.Type(), 2).MakeByRef()},
	}
	for _, tt := range tests {
		got, err := ResolveType(reg, MustParseTypeSig(tt.sig))
		if err != nil || !got.Equal(tt.want) {
			t.Errorf("ResolveType(%s) = %v, %v; want %v", tt.sig, got, err, tt.want)
		}
	}
	if _, err := ResolveType(reg, MustParseTypeSig("Demo.Missing")); !errors.Is(err, vm.ErrTypeLoad) {
		t.Errorf("ResolveType(Demo.Missing) error = %v", err)
	}
}
