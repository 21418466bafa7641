package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*WebSocketOptions)(nil)

// WebSocketOptions configures the per-session duplex transport of the
// Broadcast Gateway (C8): heartbeat cadence and outbound buffer size. The
// reconnect window and handshake timeout are accepted as settings but are
// not read by the gateway.
type WebSocketOptions struct {
	// HeartbeatInterval is the period between PING frames.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// MissedHeartbeatLimit is how many PING frames that could not be queued
	// on the outbound buffer trigger a transport-local close. The count is
	// never reset, and PONG replies are not tracked.
	MissedHeartbeatLimit int `json:"missed-heartbeat-limit" mapstructure:"missed-heartbeat-limit"`

	// ReconnectWindow is not read by the gateway: a session is torn down as
	// soon as its connection ends.
	ReconnectWindow time.Duration `json:"reconnect-window" mapstructure:"reconnect-window"`

	// OutboundBufferSize bounds the per-session outbound queue; a frame that
	// still finds it full after a few retries is dropped and counted.
	OutboundBufferSize int `json:"outbound-buffer-size" mapstructure:"outbound-buffer-size"`

	// HandshakeTimeout is not read by the gateway; the HELLO read has no
	// deadline.
	HandshakeTimeout time.Duration `json:"handshake-timeout" mapstructure:"handshake-timeout"`
}

func NewWebSocketOptions() *WebSocketOptions {
	return &WebSocketOptions{
		HeartbeatInterval:    15 * time.Second,
		MissedHeartbeatLimit: 3,
		ReconnectWindow:      60 * time.Second,
		OutboundBufferSize:   1024,
		HandshakeTimeout:     10 * time.Second,
	}
}

func (o *WebSocketOptions) Validate() []error {
	var errs []error
	if o.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("websocket.heartbeat-interval must be positive"))
	}
	if o.MissedHeartbeatLimit <= 0 {
		errs = append(errs, fmt.Errorf("websocket.missed-heartbeat-limit must be positive"))
	}
	if o.OutboundBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("websocket.outbound-buffer-size must be positive"))
	}
	return errs
}

func (o *WebSocketOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.HeartbeatInterval, "websocket.heartbeat-interval", o.HeartbeatInterval, "Interval between gateway heartbeat pings.")
	fs.IntVar(&o.MissedHeartbeatLimit, "websocket.missed-heartbeat-limit", o.MissedHeartbeatLimit, "Heartbeat pings that could not be queued before transport-local close.")
	fs.DurationVar(&o.ReconnectWindow, "websocket.reconnect-window", o.ReconnectWindow, "Grace period for a session to reconnect (not read by the gateway).")
	fs.IntVar(&o.OutboundBufferSize, "websocket.outbound-buffer-size", o.OutboundBufferSize, "Bounded outbound buffer size per session.")
	fs.DurationVar(&o.HandshakeTimeout, "websocket.handshake-timeout", o.HandshakeTimeout, "Timeout for completing the HELLO handshake (not read by the gateway).")
}
