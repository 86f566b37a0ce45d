// objcore loads metadata images into the object-model core and inspects
// the classes they define.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/objcore/loader"
	"github.com/chazu/objcore/manifest"
	"github.com/chazu/objcore/vm"
)

var log = commonlog.GetLogger("objcore.cli")

func main() {
	if err := newRootCmd(&session{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags of one command tree.
type options struct {
	config    string
	images    []string
	verbosity int
}

// session is the state shared by every command of a process, including
// the commands an interactive shell runs.
type session struct {
	logConfigured bool
	inShell       bool

	manifest *manifest.Manifest
	loader   *loader.Loader
	registry *vm.Registry
	domain   *vm.Domain
	icalls   *vm.ICallTable
}

func newRootCmd(s *session) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "objcore",
		Short: "Inspect metadata images with the object-model core",
		Long: `objcore loads metadata images (CBOR .img files or YAML definitions) into a
class registry and answers reflection queries against them.

Images come from --image flags or from the [images] section of the nearest
objcore.toml, together with the images of its dependencies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.configure(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", ".", "Directory to search upward for objcore.toml")
	root.PersistentFlags().StringSliceVarP(&opts.images, "image", "i", nil, "Image or definition file to load (repeatable)")
	root.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "Increase log verbosity")

	root.AddCommand(
		newBuildCmd(),
		newMembersCmd(s, opts),
		newMethodCmd(s, opts),
		newEnumCmd(s, opts),
		newICallsCmd(s, opts),
		newLayoutCmd(s, opts),
		newShellCmd(s, opts),
	)
	return root
}

// configure finds the manifest and sets up logging, once per process.
func (s *session) configure(opts *options) error {
	if s.logConfigured {
		return nil
	}
	m, err := manifest.FindAndLoad(opts.config)
	if err != nil {
		return err
	}
	s.manifest = m

	verbosity := opts.verbosity
	var path *string
	if m != nil {
		verbosity = max(verbosity, m.Log.Verbosity)
		if p := m.LogFilePath(); p != "" {
			path = &p
		}
	}
	commonlog.Configure(verbosity, path)
	s.logConfigured = true
	if m != nil {
		log.Debugf("using %s", filepath.Join(m.Dir, manifest.FileName))
	}
	return nil
}

// open loads the images and creates the registry and domain, once per
// process.
func (s *session) open(ctx context.Context, opts *options) error {
	if s.registry != nil {
		return nil
	}
	files := opts.images
	if len(files) == 0 && s.manifest != nil {
		var err error
		if files, err = manifest.NewResolver(s.manifest).ImageFiles(); err != nil {
			return err
		}
	}
	if len(files) == 0 {
		log.Info("no images configured; only corlib is available")
	}

	l, err := loader.OpenAll(ctx, files...)
	if err != nil {
		return err
	}
	reg := vm.NewRegistry(l)
	if err := l.LoadAll(reg); err != nil {
		return err
	}

	var domainOpts []vm.DomainOption
	if s.manifest != nil {
		order, err := s.manifest.ByteOrder()
		if err != nil {
			return err
		}
		if order != nil {
			domainOpts = append(domainOpts, vm.WithByteOrder(order))
		}
	}
	s.loader = l
	s.registry = reg
	s.domain = vm.NewDomain(reg, domainOpts...)
	s.icalls = vm.NewICallTable()
	vm.RegisterCoreICalls(s.icalls, s.domain)
	log.Infof("loaded %d modules", len(l.Modules()))
	return nil
}

// class resolves a type name, alias or signature to its class.
func (s *session) class(name string) (*vm.Class, error) {
	sig, err := loader.ParseTypeSig(name)
	if err != nil {
		return nil, err
	}
	t, err := loader.ResolveType(s.registry, sig)
	if err != nil {
		return nil, err
	}
	c := s.registry.ClassOf(t)
	if c == nil {
		return nil, fmt.Errorf("%s has no class", name)
	}
	return c, nil
}
