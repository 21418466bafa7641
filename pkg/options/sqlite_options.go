package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SQLiteOptions)(nil)

// SQLiteOptions configures the server-edge Queue Store (C4).
type SQLiteOptions struct {
	// Path to the SQLite database file. An in-memory URI is valid; the tests
	// use "file::memory:?cache=shared".
	Path string `json:"path" mapstructure:"path"`

	// MaxOpenConns bounds concurrent writers; SQLite serializes writes
	// regardless, but this avoids pile-ups under load.
	MaxOpenConns int `json:"max-open-conns" mapstructure:"max-open-conns"`
}

func NewSQLiteOptions() *SQLiteOptions {
	return &SQLiteOptions{
		Path:         "syncd-queue.db",
		MaxOpenConns: 4,
	}
}

func (o *SQLiteOptions) Validate() []error {
	var errs []error
	if o.Path == "" {
		errs = append(errs, fmt.Errorf("sqlite.path must not be empty"))
	}
	if o.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("sqlite.max-open-conns must be positive"))
	}
	return errs
}

func (o *SQLiteOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "sqlite.path", o.Path, "Path to the queue store SQLite database file.")
	fs.IntVar(&o.MaxOpenConns, "sqlite.max-open-conns", o.MaxOpenConns, "Maximum open connections to the queue store database.")
}
