package options

import (
	"errors"
	"time"

	"github.com/driftsync/syncd/internal/syncd"
	"github.com/driftsync/syncd/internal/sync/version"
	"github.com/driftsync/syncd/pkg/app"
	"github.com/driftsync/syncd/pkg/log"
	"github.com/driftsync/syncd/pkg/options"
)

// ServerOptions is the root configuration for the syncd binary: every
// component's option group, grouped for readable --help output and a
// single viper-backed config tree.
type ServerOptions struct {
	EtcdOptions      *options.EtcdOptions      `json:"etcd" mapstructure:"etcd"`
	SQLiteOptions    *options.SQLiteOptions    `json:"sqlite" mapstructure:"sqlite"`
	WebSocketOptions *options.WebSocketOptions `json:"websocket" mapstructure:"websocket"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	ContentGrpc      *options.GrpcOptions      `json:"content-grpc" mapstructure:"content-grpc"`
	ProgressGrpc     *options.GrpcOptions      `json:"progress-grpc" mapstructure:"progress-grpc"`
	TutorGrpc        *options.GrpcOptions      `json:"tutor-grpc" mapstructure:"tutor-grpc"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	Log              *log.Options              `json:"log" mapstructure:"log"`

	// VersionCacheSize bounds the version store's in-process LRU of
	// recently touched records.
	VersionCacheSize int `json:"version-cache-size" mapstructure:"version-cache-size"`

	// GraceWindow is how long a tombstoned or manually-conflicted record
	// stays in the version store before the GC sweep archives and removes
	// it (see internal/sync/version.Config).
	GraceWindow time.Duration `json:"grace-window" mapstructure:"grace-window"`

	// SweepInterval controls how often the GC sweep runs.
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

// NewServerOptions returns a ServerOptions with local-development defaults,
// the content and progress adapters dialing distinct local ports.
func NewServerOptions() *ServerOptions {
	content := options.NewGrpcOptions()
	content.Addr = "127.0.0.1:8091"
	progress := options.NewGrpcOptions()
	progress.Addr = "127.0.0.1:8092"
	tutor := options.NewGrpcOptions()
	tutor.Addr = "127.0.0.1:8093"

	return &ServerOptions{
		EtcdOptions:      options.NewEtcdOptions(),
		SQLiteOptions:    options.NewSQLiteOptions(),
		WebSocketOptions: options.NewWebSocketOptions(),
		HttpOptions:      options.NewHttpOptions(),
		ContentGrpc:      content,
		ProgressGrpc:     progress,
		TutorGrpc:        tutor,
		S3Options:        options.NewS3Options(),
		Log:              log.NewOptions(),
		VersionCacheSize: 4096,
		GraceWindow:      version.DefaultGraceWindow,
		SweepInterval:    1 * time.Hour,
	}
}

func (o *ServerOptions) Flags() app.NamedFlagSets {
	fss := app.NamedFlagSets{}
	o.EtcdOptions.AddFlags(fss.FlagSet("etcd"))
	o.SQLiteOptions.AddFlags(fss.FlagSet("sqlite"))
	o.WebSocketOptions.AddFlags(fss.FlagSet("websocket"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.ContentGrpc.AddFlags(fss.FlagSet("content-grpc"), "content-grpc")
	o.ProgressGrpc.AddFlags(fss.FlagSet("progress-grpc"), "progress-grpc")
	o.TutorGrpc.AddFlags(fss.FlagSet("tutor-grpc"), "tutor-grpc")
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))

	misc := fss.FlagSet("misc")
	misc.IntVar(&o.VersionCacheSize, "version-cache-size", o.VersionCacheSize, "Size of the version store's in-process record cache.")
	misc.DurationVar(&o.GraceWindow, "grace-window", o.GraceWindow, "How long a tombstoned or conflicted record stays queryable before it is archived and removed.")
	misc.DurationVar(&o.SweepInterval, "sweep-interval", o.SweepInterval, "How often the version store is scanned for expired records.")
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	var errs []error
	errs = append(errs, o.EtcdOptions.Validate()...)
	errs = append(errs, o.SQLiteOptions.Validate()...)
	errs = append(errs, o.WebSocketOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.ContentGrpc.Validate()...)
	errs = append(errs, o.ProgressGrpc.Validate()...)
	errs = append(errs, o.TutorGrpc.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.VersionCacheSize <= 0 {
		errs = append(errs, errors.New("version-cache-size must be positive"))
	}
	if o.GraceWindow <= 0 {
		errs = append(errs, errors.New("grace-window must be positive"))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep-interval must be positive"))
	}
	return errors.Join(errs...)
}

// Config builds the internal/syncd.Config this binary's server is
// constructed from.
func (o *ServerOptions) Config() (*syncd.Config, error) {
	return &syncd.Config{
		EtcdOptions:      o.EtcdOptions,
		SQLiteOptions:    o.SQLiteOptions,
		WebSocketOptions: o.WebSocketOptions,
		HttpOptions:      o.HttpOptions,
		ContentGrpc:      o.ContentGrpc,
		ProgressGrpc:     o.ProgressGrpc,
		TutorGrpc:        o.TutorGrpc,
		S3Options:        o.S3Options,
		VersionCacheSize: o.VersionCacheSize,
		GraceWindow:      o.GraceWindow,
		SweepInterval:    o.SweepInterval,
	}, nil
}
