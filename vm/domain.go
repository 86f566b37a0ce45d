package vm

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Domain: an isolated allocation and static-storage context
// ---------------------------------------------------------------------------

// Domain allocates objects and owns per-class static storage. Class
// descriptors come from a Registry that may be shared between domains.
type Domain struct {
	ID       uuid.UUID
	Registry *Registry
	Order    binary.ByteOrder

	statics  sync.Map // *Class -> *Memory
	allocSeq atomic.Uint32
}

// DomainOption configures a Domain.
type DomainOption func(*Domain)

// WithByteOrder sets the byte order of object memory. The default is the
// host order.
func WithByteOrder(order binary.ByteOrder) DomainOption {
	return func(d *Domain) {
		d.Order = order
	}
}

// NewDomain creates a domain over reg.
func NewDomain(reg *Registry, opts ...DomainOption) *Domain {
	d := &Domain{
		ID:       uuid.New(),
		Registry: reg,
		Order:    binary.NativeEndian,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Corlib is shorthand for d.Registry.Corlib.
func (d *Domain) Corlib() *Corlib { return d.Registry.Corlib }

// StaticStorage returns the static area of c in this domain, installing a
// zeroed one on first use. Concurrent first uses observe the same area.
func (d *Domain) StaticStorage(c *Class) *Memory {
	if m, ok := d.statics.Load(c); ok {
		return m.(*Memory)
	}
	fresh := newMemory(c.StaticSize(), c.hasStaticRefs(), d.Order)
	actual, loaded := d.statics.LoadOrStore(c, &fresh)
	if !loaded {
		log.Debugf("domain %s: installed static storage for %s (%d bytes)", d.ID, c.FullName(), fresh.Len())
	}
	return actual.(*Memory)
}

// nextHash assigns the identity hash of a new allocation. Values are
// spread by the golden-ratio multiplier and kept non-negative.
func (d *Domain) nextHash() int32 {
	n := d.allocSeq.Add(1)
	return int32((n * 2654435761) & 0x7fffffff)
}

func (d *Domain) newHeader(c *Class) header {
	return header{class: c, domain: d, hash: d.nextHash()}
}
