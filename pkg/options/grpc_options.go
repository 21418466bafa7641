package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configures the outbound gRPC dial used by the external adapter
// facades (C9) to reach the content/tutor/progress services.
type GrpcOptions struct {
	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Addr is the target address to dial (host:port).
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout is not read by the adapter client: its unary interceptor
	// applies the fixed DefaultRPCTimeout (10s) to calls without a deadline.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Insecure disables transport credentials, for local/dev adapters.
	Insecure bool `json:"insecure" mapstructure:"insecure"`
}

// NewGrpcOptions returns a GrpcOptions with safe local-development defaults.
func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Network:  "tcp",
		Addr:     "127.0.0.1:8091",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GrpcOptions) Validate() []error {
	var errors []error

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags controlling the adapter gRPC dial to the specified
// FlagSet. A prefix may be supplied to namespace the flags when a process
// dials more than one adapter (e.g. "content-grpc", "progress-grpc");
// it defaults to "grpc".
func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := "grpc"
	if len(prefixes) > 0 && prefixes[0] != "" {
		p = prefixes[0]
	}
	fs.StringVar(&o.Network, p+".network", o.Network, "Specify the network for the adapter gRPC dial.")
	fs.StringVar(&o.Addr, p+".addr", o.Addr, "Target address for the adapter gRPC services.")
	fs.DurationVar(&o.Timeout, p+".timeout", o.Timeout, "Per-call timeout for adapter gRPC calls (not read; a fixed 10s default applies).")
	fs.BoolVar(&o.Insecure, p+".insecure", o.Insecure, "Dial without transport credentials.")
}
