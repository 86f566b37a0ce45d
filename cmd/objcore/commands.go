package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chazu/objcore/loader"
	"github.com/chazu/objcore/vm"
)

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// withSession wraps a command body that needs the loaded registry.
func withSession(s *session, opts *options, run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := s.open(cmd.Context(), opts); err != nil {
			return err
		}
		return run(cmd, args)
	}
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func newBuildCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build <definition.yaml>",
		Short: "Compile a YAML module definition into a CBOR image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			img, err := loader.ReadFile(src)
			if err != nil {
				return err
			}
			dst := out
			if dst == "" {
				dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".img"
			}
			if dst == src {
				return fmt.Errorf("refusing to overwrite %s", src)
			}
			if err := loader.WriteFile(dst, img); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: module %s, %d types, %d blob bytes\n",
				dst, img.Name, len(img.Types), len(img.Blobs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output image path (default: input with .img extension)")
	return cmd
}

// ---------------------------------------------------------------------------
// members
// ---------------------------------------------------------------------------

type memberView struct {
	Kind     string `yaml:"kind"`
	Name     string `yaml:"name"`
	Declared string `yaml:"declared_in"`
	Type     string `yaml:"type,omitempty"`
	Public   bool   `yaml:"public"`
	Static   bool   `yaml:"static,omitempty"`
}

var memberKinds = map[string][]vm.MemberKind{
	"field":       {vm.MemberField},
	"method":      {vm.MemberMethod},
	"constructor": {vm.MemberConstructor},
	"property":    {vm.MemberProperty},
	"event":       {vm.MemberEvent},
	"nested":      {vm.MemberNestedType},
	"all": {vm.MemberField, vm.MemberMethod, vm.MemberConstructor,
		vm.MemberProperty, vm.MemberEvent, vm.MemberNestedType},
}

func newMembersCmd(s *session, opts *options) *cobra.Command {
	var (
		kind  string
		flags uint32
	)
	cmd := &cobra.Command{
		Use:   "members <class>",
		Short: "List the members of a class selected by binding flags",
		Long: `List the members of a class. --flags takes System.Reflection.BindingFlags
bits: 0x2 DeclaredOnly, 0x4 Instance, 0x8 Static, 0x10 Public, 0x20 NonPublic.
Members are listed derived class first.`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			kinds, ok := memberKinds[kind]
			if !ok {
				return fmt.Errorf("unknown member kind %q", kind)
			}
			c, err := s.class(args[0])
			if err != nil {
				return err
			}
			q := vm.BindingFlags(flags).Query()
			views := []memberView{}
			for _, k := range kinds {
				for _, m := range vm.EnumerateMembers(c, k, q) {
					views = append(views, describeMember(k, m))
				}
			}
			return writeYAML(cmd.OutOrStdout(), views)
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "all", "Member kind: field, method, constructor, property, event, nested or all")
	cmd.Flags().Uint32VarP(&flags, "flags", "f", uint32(vm.BindingInstance|vm.BindingStatic|vm.BindingPublic), "BindingFlags mask")
	return cmd
}

func describeMember(k vm.MemberKind, m vm.Member) memberView {
	v := memberView{
		Kind:   k.String(),
		Name:   m.MemberName(),
		Public: m.IsPublic(),
		Static: m.IsStatic(),
	}
	if c := m.DeclaringClass(); c != nil {
		v.Declared = c.FullName()
	}
	switch x := m.(type) {
	case *vm.Field:
		v.Type = x.Type.String()
	case *vm.Method:
		v.Name = x.Signature()
		v.Type = x.Return.String()
	case *vm.Property:
		if a := x.Get; a != nil {
			v.Type = a.Return.String()
		} else if x.Set != nil && len(x.Set.Params) > 0 {
			v.Type = x.Set.Params[len(x.Set.Params)-1].String()
		}
	}
	return v
}

// ---------------------------------------------------------------------------
// method
// ---------------------------------------------------------------------------

type methodView struct {
	Signature string `yaml:"signature"`
	Declared  string `yaml:"declared_in"`
	Returns   string `yaml:"returns"`
	Token     string `yaml:"token,omitempty"`
	Attrs     string `yaml:"attributes"`
}

func newMethodCmd(s *session, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "method <class> <name> [param-type...]",
		Short: "Look up a method by name, optionally by exact parameter types",
		Long: `Look up a method along the class hierarchy. Without parameter types every
overload is listed; with them, the single exact match is shown. Use "()" to
select the parameterless overload.`,
		Args: cobra.MinimumNArgs(2),
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			c, err := s.class(args[0])
			if err != nil {
				return err
			}
			name := args[1]

			var found []*vm.Method
			if len(args) == 2 {
				all := vm.BindingFlags(0x3c).Query()
				for _, m := range vm.GetMethods(c, all) {
					if m.Name == name {
						found = append(found, m)
					}
				}
				for _, m := range vm.GetConstructors(c, all) {
					if m.Name == name {
						found = append(found, m)
					}
				}
			} else {
				params := []*vm.Type{}
				if !(len(args) == 3 && args[2] == "()") {
					for _, p := range args[2:] {
						sig, err := loader.ParseTypeSig(p)
						if err != nil {
							return err
						}
						t, err := loader.ResolveType(s.registry, sig)
						if err != nil {
							return err
						}
						params = append(params, t)
					}
				}
				if m := vm.FindMethod(c, name, 0, params); m != nil {
					found = append(found, m)
				}
			}
			if len(found) == 0 {
				return fmt.Errorf("%s has no method %s", c.FullName(), name)
			}

			views := make([]methodView, len(found))
			for i, m := range found {
				views[i] = methodView{
					Signature: m.Signature(),
					Declared:  m.Parent.FullName(),
					Returns:   m.Return.String(),
					Attrs:     methodAttrs(m.Attrs),
				}
				if m.Token != 0 {
					views[i].Token = fmt.Sprintf("0x%08x", m.Token)
				}
			}
			return writeYAML(cmd.OutOrStdout(), views)
		}),
	}
}

var accessNames = [...]string{"privatescope", "private", "famandassem", "assembly", "family", "famorassem", "public"}

func methodAttrs(a vm.MethodAttributes) string {
	parts := []string{"compilercontrolled"}
	if acc := int(a & vm.MethodMemberAccessMask); acc < len(accessNames) {
		parts[0] = accessNames[acc]
	}
	for _, f := range []struct {
		bit  vm.MethodAttributes
		name string
	}{
		{vm.MethodStatic, "static"},
		{vm.MethodFinal, "final"},
		{vm.MethodVirtual, "virtual"},
		{vm.MethodAbstract, "abstract"},
		{vm.MethodSpecialName, "specialname"},
	} {
		if a&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// enum
// ---------------------------------------------------------------------------

type enumView struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

func newEnumCmd(s *session, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "enum <enum>",
		Short: "Decode the literals of an enum",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			c, err := s.class(args[0])
			if err != nil {
				return err
			}
			info, err := vm.DecodeEnumLiterals(c)
			if err != nil {
				return err
			}
			views := make([]enumView, info.Len())
			for i, name := range info.Names {
				views[i] = enumView{Name: name, Value: info.Values[i]}
				if signedKind(info.Underlying.Kind) {
					views[i].Value = info.Int64(i)
				}
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{
				"enum":       c.FullName(),
				"underlying": info.Underlying.String(),
				"literals":   views,
			})
		}),
	}
}

func signedKind(k vm.Kind) bool {
	switch k {
	case vm.KindI1, vm.KindI2, vm.KindI4, vm.KindI8:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// icalls
// ---------------------------------------------------------------------------

func newICallsCmd(s *session, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "icalls [prefix]",
		Short: "List the registered internal calls",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			names := []string{}
			for _, n := range s.icalls.Names() {
				if len(args) == 0 || strings.HasPrefix(n, args[0]) {
					names = append(names, n)
				}
			}
			return writeYAML(cmd.OutOrStdout(), names)
		}),
	}
}

// ---------------------------------------------------------------------------
// layout
// ---------------------------------------------------------------------------

type layoutView struct {
	Class        string      `yaml:"class"`
	Parent       string      `yaml:"parent,omitempty"`
	Attributes   string      `yaml:"attributes"`
	ValueType    bool        `yaml:"value_type"`
	InstanceSize int         `yaml:"instance_size"`
	StaticSize   int         `yaml:"static_size"`
	Fields       []fieldSlot `yaml:"fields,omitempty"`
}

type fieldSlot struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset int    `yaml:"offset"`
	Size   int    `yaml:"size"`
	Static bool   `yaml:"static,omitempty"`
}

func newLayoutCmd(s *session, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "layout <class>",
		Short: "Show the instance and static layout of a class",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			c, err := s.class(args[0])
			if err != nil {
				return err
			}
			info := s.registry.TypeInfo(c.Type())
			v := layoutView{
				Class:        c.FullName(),
				Attributes:   fmt.Sprintf("0x%08x", uint32(info.Attrs)),
				ValueType:    c.ValueType,
				InstanceSize: c.InstanceSize(),
				StaticSize:   c.StaticSize(),
			}
			if info.Parent != nil {
				v.Parent = info.Parent.String()
			}
			for k := range c.Lineage() {
				for _, f := range k.Fields {
					if f.IsLiteral() || (f.IsStatic() && k != c) {
						continue
					}
					v.Fields = append(v.Fields, fieldSlot{
						Name:   f.String(),
						Type:   f.Type.String(),
						Offset: f.Offset,
						Size:   f.Type.Size(),
						Static: f.IsStatic(),
					})
				}
			}
			return writeYAML(cmd.OutOrStdout(), v)
		}),
	}
}
