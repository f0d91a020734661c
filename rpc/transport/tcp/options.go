package tcp

import (
	"crypto/tls"
	"time"

	"github.com/gostdlib/base/values/sizes"
)

type config struct {
	// network is passed to net.Dial and net.Listen.
	network string
	// tlsConfig enables TLS when set.
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	bufferSize  int
	// keepAlive of zero disables keep-alives.
	keepAlive time.Duration
}

func defaultConfig() *config {
	return &config{
		network:     "tcp",
		dialTimeout: 10 * time.Second,
		bufferSize:  int(64 * sizes.KiB),
		keepAlive:   30 * time.Second,
	}
}

func (c *config) apply(opts []Option) *config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a TCP transport.
type Option func(*config)

// WithNetwork sets the network used to dial and listen, such as "tcp4" or
// "unix". Default is "tcp".
func WithNetwork(network string) Option {
	return func(c *config) {
		c.network = network
	}
}

// WithTLSConfig sets the TLS configuration. Without it plain TCP is used.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = cfg
	}
}

// WithDialTimeout sets the timeout for connection establishment. Default is 10 seconds.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = timeout
	}
}

// WithBufferSize sets the size of the read and write buffers. Default is 64KiB.
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithKeepAlive sets the keep-alive period. Default is 30 seconds, zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}
