package vm

import (
	"encoding/binary"
	"testing"
)

func TestIdentityHash(t *testing.T) {
	d := newTestDomain(t)
	c := NewClass("N", "Thing", d.Corlib().Object)

	seen := make(map[int32]bool)
	for range 1000 {
		o := d.NewObject(c)
		h := o.IdentityHash()
		if h < 0 {
			t.Fatalf("negative identity hash %d", h)
		}
		if h != o.IdentityHash() {
			t.Fatal("identity hash is not stable")
		}
		if seen[h] {
			t.Fatalf("duplicate identity hash %d", h)
		}
		seen[h] = true
	}
}

func TestCloneObject(t *testing.T) {
	d := newTestDomain(t)
	c := NewClass("N", "Pair", d.Corlib().Object)
	c.AddField("n", TypeInt32, FieldPublic)
	c.AddField("s", TypeString, FieldPublic)

	o := d.NewObject(c)
	o.Memory().PutUint32(0, 5)
	s := d.NewString("shared")
	o.Memory().SetRef(8, s)

	cl := d.Clone(o).(*Object)
	if cl == o || cl.IdentityHash() == o.IdentityHash() {
		t.Error("clone should be a distinct object")
	}
	if cl.Memory().Uint32(0) != 5 || cl.Memory().Ref(8) != Ref(s) {
		t.Error("clone should copy fields shallowly")
	}
	cl.Memory().PutUint32(0, 6)
	if o.Memory().Uint32(0) != 5 {
		t.Error("clone shares payload with the original")
	}

	str := d.Clone(s).(*String)
	if str.Value() != "shared" || str == s {
		t.Error("string clone should be a new string with the same value")
	}
	if d.Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}

func TestValueTypeHash(t *testing.T) {
	d := newTestDomain(t, WithByteOrder(binary.LittleEndian))
	o := mustBox(t, d, d.Corlib().Int32, int32(-2))

	// Payload FE FF FF FF, bytes taken as signed.
	var h uint32
	for _, b := range []int8{-2, -1, -1, -1} {
		h = h*31 + uint32(b)
	}
	got, err := ValueTypeHash(o)
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(h) {
		t.Errorf("ValueTypeHash = %d, want %d", got, int32(h))
	}

	other := mustBox(t, d, d.Corlib().Int32, int32(-2))
	if h2, _ := ValueTypeHash(other); h2 != got {
		t.Error("equal payloads should hash equally")
	}
	_, err = ValueTypeHash(nil)
	wantErr(t, err, ErrArgumentNull)
}

func TestValueTypeEquals(t *testing.T) {
	d := newTestDomain(t)
	cl := d.Corlib()
	a := mustBox(t, d, cl.Int32, 7)
	b := mustBox(t, d, cl.Int32, 7)
	c := mustBox(t, d, cl.Int32, 8)
	u := mustBox(t, d, cl.UInt32, 7)

	tests := []struct {
		name string
		x, y *Object
		want bool
	}{
		{"same payload", a, b, true},
		{"different payload", a, c, false},
		{"different class", a, u, false},
	}
	for _, tt := range tests {
		got, err := ValueTypeEquals(tt.x, tt.y)
		if err != nil || got != tt.want {
			t.Errorf("%s: ValueTypeEquals = %v, %v; want %v", tt.name, got, err, tt.want)
		}
	}
	_, err := ValueTypeEquals(a, nil)
	wantErr(t, err, ErrArgumentNull)
}

func TestBoxValue(t *testing.T) {
	d := newTestDomain(t)
	cl := d.Corlib()
	tests := []struct {
		c    *Class
		in   any
		want any
	}{
		{cl.Boolean, true, true},
		{cl.Char, 'A', uint16('A')},
		{cl.SByte, -1, int8(-1)},
		{cl.Byte, 300, uint8(44)},
		{cl.Int64, int32(-9), int64(-9)},
		{cl.Single, 2.5, float32(2.5)},
		{cl.Double, -7, float64(-7)},
	}
	for _, tt := range tests {
		o, err := d.BoxValue(tt.c, tt.in)
		if err != nil {
			t.Errorf("BoxValue(%s, %v): %v", tt.c, tt.in, err)
			continue
		}
		if got := o.Unbox(); got != tt.want {
			t.Errorf("BoxValue(%s, %v).Unbox() = %#v, want %#v", tt.c, tt.in, got, tt.want)
		}
	}

	for _, bad := range []struct {
		c  *Class
		in any
	}{
		{cl.Boolean, 1},
		{cl.Int32, true},
		{cl.Int32, 1.5},
		{cl.String, 1},
		{cl.Int32, "1"},
	} {
		_, err := d.BoxValue(bad.c, bad.in)
		wantErr(t, err, ErrInvalidCast)
	}
}

func TestTypeOf(t *testing.T) {
	d := newTestDomain(t)
	if got := TypeOf(d.NewString("s")); got != TypeString {
		t.Errorf("TypeOf(string) = %v", got)
	}
	if got := TypeOf(mustVector(t, d, TypeInt8, 1)); !got.Equal(ArrayOf(TypeInt8, 1)) {
		t.Errorf("TypeOf(int8[]) = %v", got)
	}
	if TypeOf(nil) != nil {
		t.Error("TypeOf(nil) should be nil")
	}
}

func TestNewUninitialized(t *testing.T) {
	d := newTestDomain(t)
	c := NewClass("N", "Plain", d.Corlib().Object)
	c.AddField("x", TypeInt64, FieldPublic)

	r, err := d.NewUninitialized(c)
	if err != nil {
		t.Fatal(err)
	}
	if o := r.(*Object); o.Class() != c || o.Memory().Uint64(0) != 0 {
		t.Error("NewUninitialized should return a zeroed instance")
	}
	_, err = d.NewUninitialized(nil)
	wantErr(t, err, ErrArgumentNull)
	_, err = d.NewUninitialized(d.Corlib().ValueType)
	wantErr(t, err, ErrArgument)
}

func TestDomainIdentity(t *testing.T) {
	reg := NewRegistry(nil)
	a, b := NewDomain(reg), NewDomain(reg)
	if a.ID == b.ID {
		t.Error("domains should have distinct IDs")
	}
	if a.Order != binary.NativeEndian {
		t.Error("default byte order should be the host order")
	}
}
