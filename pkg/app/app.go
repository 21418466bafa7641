// Package app provides the cobra/viper bootstrap used by the cmd/syncd
// server binary (cmd/syncdctl builds plain cobra commands instead): bind an
// Options struct to flags,
// load matching environment/config-file values through viper, validate, and
// hand off to a RunFunc.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/fsnotify/fsnotify" // enables viper.WatchConfig
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SetupSignalContext returns a context canceled on SIGINT/SIGTERM, the
// shutdown trigger every long-running syncd server waits on.
func SetupSignalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// RunFunc is the entry point invoked once options are loaded and validated.
type RunFunc func() error

// NamedFlagSetOptions is implemented by a binary's root Options struct: it
// groups its sub-options (http, grpc, log, ...) into named flag sets for a
// readable --help output.
type NamedFlagSetOptions interface {
	Flags() NamedFlagSets
	Complete() error
	Validate() error
}

// NamedFlagSets groups flags under named sections, mirroring
// k8s.io/component-base/cli/flag.NamedFlagSets without pulling in the
// Kubernetes dependency tree this module has no other use for.
type NamedFlagSets struct {
	order []string
	sets  map[string]*pflag.FlagSet
}

// FlagSet returns (creating if necessary) the named flag set, preserving
// first-seen order for help text.
func (n *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if n.sets == nil {
		n.sets = map[string]*pflag.FlagSet{}
	}
	if _, ok := n.sets[name]; !ok {
		n.sets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		n.order = append(n.order, name)
	}
	return n.sets[name]
}

// AddFlagSetsTo registers every named set onto fs in insertion order.
func (n *NamedFlagSets) AddFlagSetsTo(fs *pflag.FlagSet) {
	for _, name := range n.order {
		fs.AddFlagSet(n.sets[name])
	}
}

// App wraps a cobra.Command with the options lifecycle syncd binaries share.
type App struct {
	name        string
	short       string
	description string
	run         RunFunc
	opts        NamedFlagSetOptions
	validArgs   cobra.PositionalArgs
	ctxExtract  map[string]func(context.Context) string
	cmd         *cobra.Command
}

// Option configures an App during construction.
type Option func(*App)

// WithDescription sets the long help text shown by `--help`.
func WithDescription(desc string) Option { return func(a *App) { a.description = desc } }

// WithOptions attaches the binary's root options struct.
func WithOptions(opts NamedFlagSetOptions) Option { return func(a *App) { a.opts = opts } }

// WithRunFunc sets the function invoked after options are bound and validated.
func WithRunFunc(run RunFunc) Option { return func(a *App) { a.run = run } }

// WithDefaultValidArgs rejects any positional arguments, the default for a
// long-running server process.
func WithDefaultValidArgs() Option {
	return func(a *App) { a.validArgs = cobra.NoArgs }
}

// WithLoggerContextExtractor stores named functions that pull log fields
// (owner_id, session_id, ...) out of a request-scoped context.Context. The
// App keeps them but does not pass them to the logger or to any handler.
func WithLoggerContextExtractor(extractors map[string]func(context.Context) string) Option {
	return func(a *App) { a.ctxExtract = extractors }
}

// NewApp builds an App. Call Run to execute it.
func NewApp(name, short string, opts ...Option) *App {
	a := &App{name: name, short: short}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.short,
		Long:         a.description,
		Args:         a.validArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runE()
		},
	}
	cmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)

	if a.opts != nil {
		fss := a.opts.Flags()
		fss.AddFlagSetsTo(cmd.Flags())
		bindViper(cmd.Flags())
	}

	a.cmd = cmd
}

// Run executes the command, returning any error for main to report.
func (a *App) Run() error {
	return a.cmd.Execute()
}

func (a *App) runE() error {
	if a.opts != nil {
		if err := viper.Unmarshal(a.opts); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := a.opts.Complete(); err != nil {
			return fmt.Errorf("failed to complete options: %w", err)
		}
		if err := a.opts.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if a.run == nil {
		return nil
	}
	return a.run()
}

// wordSepNormalizeFunc allows `--foo-bar` and `--foo_bar` interchangeably, a
// convenience viper users expect when flags and env vars share names.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// bindViper wires every flag into viper so config-file and environment
// values fall back correctly when a flag is left at its default.
func bindViper(fs *pflag.FlagSet) {
	_ = viper.BindPFlags(fs)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	if cfgFile := os.Getenv("SYNCD_CONFIG"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
		viper.WatchConfig()
	}
}
