package vm

import "fmt"

// ---------------------------------------------------------------------------
// Blob heap
// ---------------------------------------------------------------------------

// BlobHeap is a module's #Blob stream: length-prefixed byte strings addressed
// by their starting offset. Index 0 is the empty blob.
//
// Lengths use the compressed encoding of the metadata format:
//
//	0xxxxxxx                             1 byte,  up to 0x7F
//	10xxxxxx xxxxxxxx                    2 bytes, up to 0x3FFF
//	110xxxxx xxxxxxxx xxxxxxxx xxxxxxxx  4 bytes, up to 0x1FFFFFFF
type BlobHeap []byte

// NewBlobHeap returns a heap holding only the empty blob.
func NewBlobHeap() BlobHeap {
	return BlobHeap{0}
}

// Blob returns the bytes stored at index. The returned slice aliases the heap.
func (h BlobHeap) Blob(index uint32) ([]byte, error) {
	if int64(index) >= int64(len(h)) {
		if index == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: blob index 0x%x beyond heap of %d bytes", ErrBadImageFormat, index, len(h))
	}
	p := h[index:]
	n, hdr, err := decodeBlobLength(p)
	if err != nil {
		return nil, fmt.Errorf("blob 0x%x: %w", index, err)
	}
	if hdr+n > len(p) {
		return nil, fmt.Errorf("%w: blob 0x%x length %d overruns heap", ErrBadImageFormat, index, n)
	}
	return p[hdr : hdr+n], nil
}

func decodeBlobLength(p []byte) (n, hdr int, err error) {
	if len(p) == 0 {
		return 0, 0, fmt.Errorf("%w: truncated blob length", ErrBadImageFormat)
	}
	b := p[0]
	switch {
	case b&0x80 == 0:
		return int(b), 1, nil
	case b&0xC0 == 0x80:
		if len(p) < 2 {
			return 0, 0, fmt.Errorf("%w: truncated blob length", ErrBadImageFormat)
		}
		return int(b&0x3F)<<8 | int(p[1]), 2, nil
	case b&0xE0 == 0xC0:
		if len(p) < 4 {
			return 0, 0, fmt.Errorf("%w: truncated blob length", ErrBadImageFormat)
		}
		return int(b&0x1F)<<24 | int(p[1])<<16 | int(p[2])<<8 | int(p[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("%w: invalid blob length prefix 0x%02x", ErrBadImageFormat, b)
}

// AppendBlob appends data to h and returns the grown heap and the index of
// the new blob.
func AppendBlob(h BlobHeap, data []byte) (BlobHeap, uint32) {
	if len(h) == 0 {
		h = NewBlobHeap()
	}
	index := uint32(len(h))
	n := len(data)
	switch {
	case n <= 0x7F:
		h = append(h, byte(n))
	case n <= 0x3FFF:
		h = append(h, byte(n>>8)|0x80, byte(n))
	case n <= 0x1FFFFFFF:
		h = append(h, byte(n>>24)|0xC0, byte(n>>16), byte(n>>8), byte(n))
	default:
		panic(fmt.Sprintf("vm: blob of %d bytes exceeds the compressed length range", n))
	}
	return append(h, data...), index
}
