package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*EtcdOptions)(nil)

// EtcdOptions configures the etcd client backing the Version Store (C2):
// the owner log and record snapshots live under Prefix, keyed per owner.
type EtcdOptions struct {
	Endpoints   []string      `json:"endpoints" mapstructure:"endpoints"`
	DialTimeout time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	Username    string        `json:"username" mapstructure:"username"`
	Password    string        `json:"password" mapstructure:"password"`

	// Prefix namespaces every key this process writes, so multiple
	// deployments can share one etcd cluster.
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// NewEtcdOptions returns an EtcdOptions with single-node local defaults.
func NewEtcdOptions() *EtcdOptions {
	return &EtcdOptions{
		Endpoints:   []string{"127.0.0.1:2379"},
		DialTimeout: 5 * time.Second,
		Prefix:      "/syncd",
	}
}

func (o *EtcdOptions) Validate() []error {
	var errs []error
	if len(o.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("etcd.endpoints must not be empty"))
	}
	if o.Prefix == "" {
		errs = append(errs, fmt.Errorf("etcd.prefix must not be empty"))
	}
	return errs
}

func (o *EtcdOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.Endpoints, "etcd.endpoints", o.Endpoints, "etcd cluster endpoints backing the version store.")
	fs.DurationVar(&o.DialTimeout, "etcd.dial-timeout", o.DialTimeout, "Timeout for the initial etcd dial.")
	fs.StringVar(&o.Username, "etcd.username", o.Username, "etcd auth username.")
	fs.StringVar(&o.Password, "etcd.password", o.Password, "etcd auth password.")
	fs.StringVar(&o.Prefix, "etcd.prefix", o.Prefix, "Key prefix namespacing this deployment's owner logs.")
}
