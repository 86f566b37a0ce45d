package vm

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("objcore.vm")

// ---------------------------------------------------------------------------
// Registry: process-wide class descriptors
// ---------------------------------------------------------------------------

// ClassKey identifies a class by defining module and metadata token.
type ClassKey struct {
	Module string
	Token  uint32
}

func (k ClassKey) String() string {
	return fmt.Sprintf("%s:0x%08x", k.Module, k.Token)
}

// ClassLoader builds the classes of one module. It stages them on txn; the
// registry publishes them only once the whole load has succeeded. A loader
// that needs another module calls txn.Require, never Registry.Load.
type ClassLoader interface {
	LoadModule(txn *LoadTxn, module string) error
}

// Registry owns one descriptor per class. Descriptors are shared across
// domains; loading a module happens at most once even under concurrent
// resolution, and a class becomes visible only fully populated.
type Registry struct {
	Corlib *Corlib

	loader ClassLoader
	loadMu sync.Mutex // serializes load transactions

	mu      sync.RWMutex
	classes map[ClassKey]*Class
	byName  map[string]*Class
	modules map[string]*Module
	loaded  map[string]bool
	loads   singleflight.Group
}

// NewRegistry creates a registry seeded with the corlib classes. loader may be
// nil when every class is registered up front.
func NewRegistry(loader ClassLoader) *Registry {
	r := &Registry{
		loader:  loader,
		classes: make(map[ClassKey]*Class),
		byName:  make(map[string]*Class),
		modules: make(map[string]*Module),
		loaded:  make(map[string]bool),
	}
	r.Corlib = newCorlib(r)
	return r
}

// Module returns the named module, creating an empty one on first use.
func (r *Registry) Module(name string) *Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[name]
	if !ok {
		m = &Module{Name: name, Blobs: NewBlobHeap()}
		r.modules[name] = m
	}
	return m
}

// Register publishes c under its module and token. Nested classes are
// registered along with it.
func (r *Registry) Register(c *Class) error {
	if c.Module == nil {
		return fmt.Errorf("vm: class %s has no module", c.FullName())
	}
	key := ClassKey{Module: c.Module.Name, Token: c.Token}

	r.mu.Lock()
	if old, ok := r.classes[key]; ok && old != c {
		r.mu.Unlock()
		return fmt.Errorf("vm: %s already registered as %s", key, old.FullName())
	}
	r.classes[key] = c
	r.byName[c.FullName()] = c
	r.mu.Unlock()

	for _, n := range c.Nested {
		if n.Module == nil {
			n.Module = c.Module
		}
		if err := r.Register(n); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns an already-registered class without triggering a load.
func (r *Registry) Lookup(module string, token uint32) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[ClassKey{Module: module, Token: token}]
	return c, ok
}

// FindClass returns a registered class by its full name.
func (r *Registry) FindClass(fullName string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[fullName]
	return c, ok
}

// Classes returns the classes of a module ordered by token.
func (r *Registry) Classes(module string) []*Class {
	r.mu.RLock()
	var out []*Class
	for k, c := range r.classes {
		if k.Module == module {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Class) int { return cmp.Compare(a.Token, b.Token) })
	return out
}

// Resolve returns the class for (module, token), asking the loader for the
// module if the class is not yet known. Concurrent callers share one load.
func (r *Registry) Resolve(module string, token uint32) (*Class, error) {
	if c, ok := r.Lookup(module, token); ok {
		return c, nil
	}
	key := ClassKey{Module: module, Token: token}
	if err := r.Load(module); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTypeLoad, key, err)
	}
	if c, ok := r.Lookup(module, token); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTypeLoad, key)
}

// Load asks the loader to populate module unless it already has. Modules
// are loaded at most once; concurrent callers wait for the same load. A
// failed load publishes nothing and may be retried.
func (r *Registry) Load(module string) error {
	if r.loader == nil {
		return fmt.Errorf("%w: module %s (no class loader)", ErrTypeLoad, module)
	}
	_, err, _ := r.loads.Do(module, func() (any, error) {
		r.loadMu.Lock()
		defer r.loadMu.Unlock()
		if r.isLoaded(module) {
			return nil, nil
		}
		txn := newLoadTxn(r)
		if err := txn.Require(module); err != nil {
			log.Debugf("load of module %s failed: %v", module, err)
			return nil, err
		}
		return nil, r.commit(txn)
	})
	return err
}

func (r *Registry) isLoaded(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[module]
}

// commit publishes every module and class staged on txn, or nothing if a
// staged class collides with a registered one.
func (r *Registry) commit(txn *LoadTxn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range txn.classes {
		if old, ok := r.classes[key]; ok && old != c {
			return fmt.Errorf("vm: %s already registered as %s", key, old.FullName())
		}
	}
	for _, name := range txn.order {
		r.modules[name] = txn.modules[name]
		r.loaded[name] = true
	}
	for key, c := range txn.classes {
		r.classes[key] = c
		r.byName[c.FullName()] = c
	}
	log.Debugf("published modules %v: %d classes", txn.order, len(txn.classes))
	return nil
}

// ---------------------------------------------------------------------------
// Load transactions
// ---------------------------------------------------------------------------

// LoadTxn stages the modules and classes of one load. Modules required while
// loading join the same transaction, so modules may refer to each other.
// Nothing staged is visible through the registry until the load commits.
type LoadTxn struct {
	reg     *Registry
	modules map[string]*Module
	order   []string
	classes map[ClassKey]*Class
	byName  map[string]*Class
}

func newLoadTxn(r *Registry) *LoadTxn {
	return &LoadTxn{
		reg:     r,
		modules: make(map[string]*Module),
		classes: make(map[ClassKey]*Class),
		byName:  make(map[string]*Class),
	}
}

// Registry returns the registry the transaction commits to.
func (txn *LoadTxn) Registry() *Registry { return txn.reg }

// Require loads module into the transaction unless it is already loaded or
// being loaded by it.
func (txn *LoadTxn) Require(module string) error {
	if _, ok := txn.modules[module]; ok || txn.reg.isLoaded(module) {
		return nil
	}
	txn.Module(module)
	log.Debugf("loading module %s", module)
	return txn.reg.loader.LoadModule(txn, module)
}

// Module returns the staged module named name, creating it on first use.
func (txn *LoadTxn) Module(name string) *Module {
	m, ok := txn.modules[name]
	if !ok {
		m = &Module{Name: name, Blobs: NewBlobHeap()}
		txn.modules[name] = m
		txn.order = append(txn.order, name)
	}
	return m
}

// Stage adds c and its nested classes to the transaction. Staging the same
// class twice is allowed; two classes under one token are not.
func (txn *LoadTxn) Stage(c *Class) error {
	if c.Module == nil {
		return fmt.Errorf("vm: class %s has no module", c.FullName())
	}
	key := ClassKey{Module: c.Module.Name, Token: c.Token}
	if old, ok := txn.classes[key]; ok && old != c {
		return fmt.Errorf("vm: %s staged twice, as %s and %s", key, old.FullName(), c.FullName())
	}
	txn.classes[key] = c
	txn.byName[c.FullName()] = c
	for _, n := range c.Nested {
		if n.Module == nil {
			n.Module = c.Module
		}
		if err := txn.Stage(n); err != nil {
			return err
		}
	}
	return nil
}

// FindClass returns a class staged on the transaction or already published.
func (txn *LoadTxn) FindClass(fullName string) (*Class, bool) {
	if c, ok := txn.byName[fullName]; ok {
		return c, true
	}
	return txn.reg.FindClass(fullName)
}

// ClassOf maps a type descriptor to the class that boxes or holds its values.
// Byref and pointer types map to IntPtr.
func (r *Registry) ClassOf(t *Type) *Class {
	if t.ByRef || t.Pointer {
		return r.Corlib.IntPtr
	}
	switch t.Kind {
	case KindClass, KindValueType, KindEnum:
		return t.Class
	case KindArray:
		return r.ArrayClass(t.Elem, t.Rank)
	case KindVoid:
		return nil
	}
	return r.Corlib.Primitive(t.Kind)
}

// ArrayClass returns the shared array class for (element class, rank),
// creating it on first request.
func (r *Registry) ArrayClass(elem *Type, rank int) *Class {
	ec := r.ClassOf(elem)
	if ec == nil {
		panic(fmt.Sprintf("vm: no array class for element type %v", elem))
	}
	ec.arrayMu.Lock()
	defer ec.arrayMu.Unlock()
	if ac, ok := ec.arrays[rank]; ok {
		return ac
	}
	ac := &Class{
		Name:      ec.Name,
		Namespace: ec.Namespace,
		Module:    ec.Module,
		Flags:     TypePublic | TypeSealed | TypeSerializable,
		Parent:    r.Corlib.Array,
		Elem:      elem,
		Rank:      rank,
		elemClass: ec,
	}
	if ec.arrays == nil {
		ec.arrays = make(map[int]*Class)
	}
	ec.arrays[rank] = ac
	return ac
}
