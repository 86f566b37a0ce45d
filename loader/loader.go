package loader

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/objcore/vm"
)

var log = commonlog.GetLogger("objcore.loader")

// Loader serves a set of images to a vm.Registry. It implements
// vm.ClassLoader: the registry calls LoadModule the first time a class of a
// module is resolved, and publishes the classes once the load succeeds.
type Loader struct {
	images map[string]*Image
	owner  map[string]string // type full name -> module
}

// New creates a loader over images. Module names must be unique.
func New(images ...*Image) (*Loader, error) {
	l := &Loader{
		images: make(map[string]*Image, len(images)),
		owner:  make(map[string]string),
	}
	for _, img := range images {
		if _, dup := l.images[img.Name]; dup {
			return nil, fmt.Errorf("loader: module %s provided twice", img.Name)
		}
		l.images[img.Name] = img
		for i := range img.Types {
			l.owner[img.Types[i].FullName()] = img.Name
		}
	}
	return l, nil
}

// OpenAll reads image files concurrently and returns a loader over them.
func OpenAll(ctx context.Context, paths ...string) (*Loader, error) {
	images := make([]*Image, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := ReadFile(path)
			if err != nil {
				return err
			}
			log.Debugf("read image %s from %s (%d types)", img.Name, path, len(img.Types))
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(images...)
}

// Modules returns the module names in sorted order.
func (l *Loader) Modules() []string {
	names := make([]string, 0, len(l.images))
	for n := range l.images {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Image returns the image of a module.
func (l *Loader) Image(module string) (*Image, bool) {
	img, ok := l.images[module]
	return img, ok
}

// LoadAll loads every module into r.
func (l *Loader) LoadAll(r *vm.Registry) error {
	for _, m := range l.Modules() {
		if err := r.Load(m); err != nil {
			return err
		}
	}
	return nil
}

// LoadModule materialises every type of module into txn. Types are
// declared and staged first, then populated, so members may refer to any
// type of the module regardless of order.
func (l *Loader) LoadModule(txn *vm.LoadTxn, module string) error {
	img, ok := l.images[module]
	if !ok {
		return fmt.Errorf("loader: no image for module %s", module)
	}
	m := txn.Module(module)
	if len(img.Blobs) > 0 {
		m.Blobs = vm.BlobHeap(img.Blobs)
	}

	ml := &moduleLoad{
		loader:  l,
		txn:     txn,
		reg:     txn.Registry(),
		img:     img,
		module:  m,
		classes: make(map[string]*vm.Class, len(img.Types)),
	}
	if err := ml.declare(); err != nil {
		return err
	}
	for i := range img.Types {
		if err := ml.populate(&img.Types[i]); err != nil {
			return err
		}
	}
	if err := ml.checkValueCycles(); err != nil {
		return err
	}
	log.Infof("built module %s: %d types", module, len(img.Types))
	return nil
}

// ---------------------------------------------------------------------------
// Module load
// ---------------------------------------------------------------------------

type moduleLoad struct {
	loader  *Loader
	txn     *vm.LoadTxn // nil when resolving against published classes only
	reg     *vm.Registry
	img     *Image
	module  *vm.Module
	classes map[string]*vm.Class
}

// declare creates, nests and stages a class shell for every type.
func (ml *moduleLoad) declare() error {
	cl := ml.reg.Corlib
	for i := range ml.img.Types {
		td := &ml.img.Types[i]
		var c *vm.Class
		switch td.kind() {
		case KindStruct:
			c = cl.NewValueType(td.Namespace, td.Name)
		case KindEnum:
			underlying := td.Underlying.String()
			if td.Underlying.IsZero() {
				underlying = "int"
			}
			base, ok := builtinType(underlying)
			if !ok || !isIntegral(base) {
				return fmt.Errorf("%w: enum %s has non-integral underlying type %s",
					vm.ErrBadImageFormat, td.FullName(), td.Underlying)
			}
			c = cl.NewEnum(td.Namespace, td.Name, base)
		case KindInterface:
			c = vm.NewClass(td.Namespace, td.Name, nil)
			c.Flags |= vm.TypeInterface | vm.TypeAbstract
		case KindClass:
			c = vm.NewClass(td.Namespace, td.Name, nil)
		default:
			return fmt.Errorf("%w: %s has unknown kind %q", vm.ErrBadImageFormat, td.FullName(), td.Kind)
		}
		c.Module = ml.module
		c.Token = td.Token
		if td.Abstract {
			c.Flags |= vm.TypeAbstract
		}
		if td.Sealed {
			c.Flags |= vm.TypeSealed
		}
		ml.classes[td.FullName()] = c
	}

	for i := range ml.img.Types {
		td := &ml.img.Types[i]
		c := ml.classes[td.FullName()]
		vis, err := typeVisibility(td.Access, td.DeclaringType != "")
		if err != nil {
			return fmt.Errorf("%s: %w", td.FullName(), err)
		}
		if td.DeclaringType != "" {
			outer := ml.classes[td.DeclaringType]
			if outer == nil {
				return fmt.Errorf("%w: %s is nested in unknown type %s",
					vm.ErrTypeLoad, td.Name, td.DeclaringType)
			}
			outer.AddNested(c)
		}
		c.Flags = c.Flags&^vm.TypeVisibilityMask | vis
	}

	for i := range ml.img.Types {
		if err := ml.txn.Stage(ml.classes[ml.img.Types[i].FullName()]); err != nil {
			return err
		}
	}
	return nil
}

// populate fills in the hierarchy and member tables of one class.
func (ml *moduleLoad) populate(td *TypeDef) error {
	c := ml.classes[td.FullName()]
	wrap := func(err error) error { return fmt.Errorf("%s: %w", td.FullName(), err) }

	if td.kind() == KindClass {
		c.Parent = ml.reg.Corlib.Object
		if !td.Parent.IsZero() {
			p, err := ml.resolveClass(td.Parent)
			if err != nil {
				return wrap(err)
			}
			if p.ValueType || p.IsInterface() || p.Flags&vm.TypeSealed != 0 {
				return wrap(fmt.Errorf("%w: cannot derive from %s", vm.ErrTypeLoad, p.FullName()))
			}
			c.Parent = p
		}
	} else if !td.Parent.IsZero() {
		return wrap(fmt.Errorf("%w: only classes declare a parent", vm.ErrBadImageFormat))
	}

	for _, sig := range td.Interfaces {
		iface, err := ml.resolveClass(sig)
		if err != nil {
			return wrap(err)
		}
		if !iface.IsInterface() {
			return wrap(fmt.Errorf("%w: %s is not an interface", vm.ErrTypeLoad, iface.FullName()))
		}
		c.AddInterface(iface)
	}

	for i := range td.Fields {
		if err := ml.addField(c, td, &td.Fields[i]); err != nil {
			return wrap(err)
		}
	}
	for i := range td.Methods {
		if err := ml.addMethod(c, &td.Methods[i]); err != nil {
			return wrap(err)
		}
	}
	for _, pd := range td.Properties {
		get, err := findAccessor(c, pd.Get)
		if err != nil {
			return wrap(fmt.Errorf("property %s: %w", pd.Name, err))
		}
		set, err := findAccessor(c, pd.Set)
		if err != nil {
			return wrap(fmt.Errorf("property %s: %w", pd.Name, err))
		}
		c.AddProperty(pd.Name, get, set)
	}
	for _, ed := range td.Events {
		var acc [3]*vm.Method
		for i, name := range []string{ed.Add, ed.Remove, ed.Raise} {
			m, err := findAccessor(c, name)
			if err != nil {
				return wrap(fmt.Errorf("event %s: %w", ed.Name, err))
			}
			acc[i] = m
		}
		c.AddEvent(ed.Name, acc[0], acc[1], acc[2])
	}
	return nil
}

func (ml *moduleLoad) addField(c *vm.Class, td *TypeDef, fd *FieldDef) error {
	if fd.Name == vm.EnumValueFieldName && c.Enum {
		return nil
	}
	t, err := ml.resolve(fd.Type)
	if err != nil {
		return fmt.Errorf("field %s: %w", fd.Name, err)
	}
	if t.Kind == vm.KindVoid && !t.Pointer {
		return fmt.Errorf("%w: field %s has type void", vm.ErrTypeLoad, fd.Name)
	}
	access, err := accessLevel(fd.Access)
	if err != nil {
		return fmt.Errorf("field %s: %w", fd.Name, err)
	}
	attrs := vm.FieldAttributes(access)
	if fd.ReadOnly {
		attrs |= vm.FieldInitOnly
	}

	if fd.Literal {
		if !fd.HasDefault {
			return fmt.Errorf("%w: literal %s has no constant", vm.ErrBadImageFormat, fd.Name)
		}
		c.AddLiteral(fd.Name, t, attrs, fd.Constant)
		return nil
	}
	if td.kind() == KindEnum && !fd.Static {
		return fmt.Errorf("%w: enum %s declares instance field %s", vm.ErrBadImageFormat, td.FullName(), fd.Name)
	}
	if td.kind() == KindInterface && !fd.Static {
		return fmt.Errorf("%w: interface %s declares instance field %s", vm.ErrBadImageFormat, td.FullName(), fd.Name)
	}
	if fd.Static {
		attrs |= vm.FieldStatic
	}
	if len(fd.Data) > 0 {
		attrs |= vm.FieldHasFieldRVA
	}
	f := c.AddField(fd.Name, t, attrs)
	f.RVA = fd.Data
	return nil
}

func (ml *moduleLoad) addMethod(c *vm.Class, md *MethodDef) error {
	access, err := accessLevel(md.Access)
	if err != nil {
		return fmt.Errorf("method %s: %w", md.Name, err)
	}
	attrs := vm.MethodAttributes(access)
	for _, flag := range []struct {
		set  bool
		attr vm.MethodAttributes
	}{
		{md.Static, vm.MethodStatic},
		{md.Virtual, vm.MethodVirtual},
		{md.Abstract, vm.MethodAbstract},
		{md.Final, vm.MethodFinal},
	} {
		if flag.set {
			attrs |= flag.attr
		}
	}

	params := make([]*vm.Type, len(md.Params))
	for i, sig := range md.Params {
		if params[i], err = ml.resolve(sig); err != nil {
			return fmt.Errorf("method %s parameter %d: %w", md.Name, i, err)
		}
	}

	var m *vm.Method
	switch md.Name {
	case vm.ConstructorName:
		m = c.AddConstructor(attrs&^vm.MethodStatic, params...)
	case vm.TypeConstructorName:
		m = c.AddConstructor(attrs|vm.MethodStatic, params...)
	default:
		var ret *vm.Type
		if !md.Return.IsZero() {
			if ret, err = ml.resolve(md.Return); err != nil {
				return fmt.Errorf("method %s return: %w", md.Name, err)
			}
		}
		m = c.AddMethod(md.Name, attrs, ret, params...)
	}
	m.Token = md.Token
	return nil
}

// checkValueCycles rejects value types that contain themselves by value;
// they have no finite size.
func (ml *moduleLoad) checkValueCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*vm.Class]int)
	var visit func(c *vm.Class) error
	visit = func(c *vm.Class) error {
		switch state[c] {
		case visiting:
			return fmt.Errorf("%w: value type %s contains itself", vm.ErrTypeLoad, c.FullName())
		case done:
			return nil
		}
		state[c] = visiting
		for _, f := range c.Fields {
			t := f.Type
			if f.IsStatic() || t.ByRef || t.Pointer || t.Kind != vm.KindValueType {
				continue
			}
			if err := visit(t.Class); err != nil {
				return err
			}
		}
		state[c] = done
		return nil
	}
	for i := range ml.img.Types {
		c := ml.classes[ml.img.Types[i].FullName()]
		if c.ValueType && !c.Enum {
			if err := visit(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// findAccessor locates a property or event accessor by name or signature.
// An empty reference means the accessor is absent.
func findAccessor(c *vm.Class, ref string) (*vm.Method, error) {
	if ref == "" {
		return nil, nil
	}
	bySignature := strings.Contains(ref, "(")
	for _, m := range c.Methods {
		if bySignature && m.Signature() == ref || !bySignature && m.Name == ref {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: no accessor method %s on %s", vm.ErrBadImageFormat, ref, c.FullName())
}

// ---------------------------------------------------------------------------
// Signature resolution
// ---------------------------------------------------------------------------

// resolve turns a signature into a type. Names are looked up as built-in
// aliases, then in this module, then in the registry, and finally in the
// other images this loader serves.
func (ml *moduleLoad) resolve(sig TypeSig) (*vm.Type, error) {
	if sig.IsZero() {
		return nil, fmt.Errorf("%w: empty type signature", vm.ErrBadImageFormat)
	}
	t, ok := builtinType(sig.Name)
	if !ok {
		c, err := ml.lookup(sig.Name)
		if err != nil {
			return nil, err
		}
		t = c.Type()
	}
	for _, rank := range sig.Ranks {
		if t.Kind == vm.KindVoid {
			return nil, fmt.Errorf("%w: array of void", vm.ErrTypeLoad)
		}
		t = vm.ArrayOf(t, rank)
	}
	if sig.Pointer {
		t = t.MakePointer()
	}
	if sig.ByRef {
		t = t.MakeByRef()
	}
	return t, nil
}

// ResolveType resolves sig against the classes already registered in r.
func ResolveType(r *vm.Registry, sig TypeSig) (*vm.Type, error) {
	ml := &moduleLoad{loader: &Loader{}, reg: r, img: &Image{}}
	return ml.resolve(sig)
}

// resolveClass resolves a signature that must name a plain class.
func (ml *moduleLoad) resolveClass(sig TypeSig) (*vm.Class, error) {
	if len(sig.Ranks) > 0 || sig.ByRef || sig.Pointer {
		return nil, fmt.Errorf("%w: %s is not a class", vm.ErrTypeLoad, sig)
	}
	t, ok := builtinType(sig.Name)
	if ok {
		if c := ml.reg.ClassOf(t); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s is not a class", vm.ErrTypeLoad, sig)
	}
	return ml.lookup(sig.Name)
}

func (ml *moduleLoad) lookup(name string) (*vm.Class, error) {
	if c, ok := ml.classes[name]; ok {
		return c, nil
	}
	if ml.txn == nil {
		if c, ok := ml.reg.FindClass(name); ok {
			return c, nil
		}
		return nil, fmt.Errorf("%w: unresolved type %s", vm.ErrTypeLoad, name)
	}
	if c, ok := ml.txn.FindClass(name); ok {
		return c, nil
	}
	if other, ok := ml.loader.owner[name]; ok && other != ml.img.Name {
		if err := ml.txn.Require(other); err != nil {
			return nil, err
		}
		if c, ok := ml.txn.FindClass(name); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: unresolved type %s in module %s", vm.ErrTypeLoad, name, ml.img.Name)
}

func isIntegral(t *vm.Type) bool {
	switch t.Kind {
	case vm.KindI1, vm.KindU1, vm.KindI2, vm.KindU2, vm.KindI4, vm.KindU4, vm.KindI8, vm.KindU8, vm.KindChar:
		return !t.ByRef && !t.Pointer
	}
	return false
}

// ---------------------------------------------------------------------------
// Access names
// ---------------------------------------------------------------------------

// accessLevels maps access names to the shared 3-bit member access values.
var accessLevels = map[string]uint16{
	"":                   6,
	"public":             6,
	"famorassem":         5,
	"protected internal": 5,
	"family":             4,
	"protected":          4,
	"assembly":           3,
	"internal":           3,
	"famandassem":        2,
	"private protected":  2,
	"private":            1,
	"privatescope":       0,
}

func accessLevel(name string) (uint16, error) {
	level, ok := accessLevels[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown access %q", vm.ErrBadImageFormat, name)
	}
	return level, nil
}

// typeVisibility maps an access name to TypeDef visibility bits.
func typeVisibility(name string, nested bool) (vm.TypeAttributes, error) {
	level, err := accessLevel(name)
	if err != nil {
		return 0, err
	}
	if !nested {
		if level == 6 {
			return vm.TypePublic, nil
		}
		return vm.TypeNotPublic, nil
	}
	switch level {
	case 6:
		return vm.TypeNestedPublic, nil
	case 5:
		return vm.TypeNestedFamORAssem, nil
	case 4:
		return vm.TypeNestedFamily, nil
	case 3:
		return vm.TypeNestedAssembly, nil
	case 2:
		return vm.TypeNestedFamANDAssem, nil
	}
	return vm.TypeNestedPrivate, nil
}
