package vm

import (
	"bytes"
	"testing"
)

func TestBlobRoundTrip(t *testing.T) {
	sizes := []int{0, 5, 0x7F, 0x80, 200, 0x3FFF, 0x4000, 20000}
	h := NewBlobHeap()
	idx := make([]uint32, len(sizes))
	for i, n := range sizes {
		h, idx[i] = AppendBlob(h, bytes.Repeat([]byte{byte(i + 1)}, n))
	}
	for i, n := range sizes {
		got, err := h.Blob(idx[i])
		if err != nil {
			t.Errorf("Blob(%d bytes): %v", n, err)
			continue
		}
		if !bytes.Equal(got, bytes.Repeat([]byte{byte(i + 1)}, n)) {
			t.Errorf("Blob(%d bytes) returned %d bytes of wrong content", n, len(got))
		}
	}
}

func TestBlobLengthPrefix(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{5, []byte{0x05}},
		{200, []byte{0x80, 0xC8}},
		{20000, []byte{0xC0, 0x00, 0x4E, 0x20}},
	}
	for _, tt := range tests {
		h, idx := AppendBlob(nil, make([]byte, tt.n))
		if idx != 1 {
			t.Errorf("index = %d, want 1", idx)
		}
		if got := []byte(h[1 : 1+len(tt.want)]); !bytes.Equal(got, tt.want) {
			t.Errorf("prefix for %d = % x, want % x", tt.n, got, tt.want)
		}
	}
}

func TestBlobErrors(t *testing.T) {
	h := NewBlobHeap()
	if b, err := h.Blob(0); err != nil || len(b) != 0 {
		t.Errorf("Blob(0) = %v, %v; want empty", b, err)
	}
	if b, err := BlobHeap(nil).Blob(0); err != nil || b != nil {
		t.Errorf("empty heap Blob(0) = %v, %v", b, err)
	}

	_, err := h.Blob(9)
	wantErr(t, err, ErrBadImageFormat)

	overrun := BlobHeap{0, 0x10, 1, 2}
	_, err = overrun.Blob(1)
	wantErr(t, err, ErrBadImageFormat)

	bad := BlobHeap{0, 0xE0}
	_, err = bad.Blob(1)
	wantErr(t, err, ErrBadImageFormat)

	truncated := BlobHeap{0, 0xC0, 0}
	_, err = truncated.Blob(1)
	wantErr(t, err, ErrBadImageFormat)
}
