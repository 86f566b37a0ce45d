package vm

import (
	"encoding/binary"
	"testing"
)

func TestMemoryEqual(t *testing.T) {
	d := littleEndianDomain(t)
	s := d.NewString("x")

	plain := newMemory(16, false, binary.LittleEndian)
	plain.PutUint32(4, 7)

	tests := []struct {
		name string
		word uint32
		refs bool
		ref  Ref
		want bool
	}{
		{"no planes", 7, false, nil, true},
		{"nil refs against no plane", 7, true, nil, true},
		{"live ref against no plane", 7, true, s, false},
		{"byte mismatch", 8, true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemory(16, tt.refs, binary.LittleEndian)
			m.PutUint32(4, tt.word)
			if tt.ref != nil {
				m.SetRef(8, tt.ref)
			}
			if got := m.Equal(0, &plain, 0, 16); got != tt.want {
				t.Errorf("m.Equal(plain) = %v, want %v", got, tt.want)
			}
			if got := plain.Equal(0, &m, 0, 16); got != tt.want {
				t.Errorf("plain.Equal(m) = %v, want %v", got, tt.want)
			}
		})
	}

	a := newMemory(16, true, binary.LittleEndian)
	b := newMemory(16, true, binary.LittleEndian)
	a.SetRef(8, s)
	b.SetRef(8, s)
	if !a.Equal(0, &b, 0, 16) {
		t.Error("memories holding the same reference should be equal")
	}
	b.SetRef(8, d.NewString("x"))
	if a.Equal(0, &b, 0, 16) {
		t.Error("references compare by identity")
	}
	if !a.Equal(0, &b, 0, 8) {
		t.Error("a range before the reference slot should compare equal")
	}
}
