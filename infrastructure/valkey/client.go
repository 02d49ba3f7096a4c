package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-restyle/core/config"
)

const defaultDialTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	Address     string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// OptionsFromConfig maps the database section of the app config.
func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		Address:   cfg.ValkeyAddress,
		Password:  cfg.ValkeyPassword,
		DB:        cfg.ValkeyDB,
		KeyPrefix: cfg.ValkeyKeyPrefix,
	}
}

// Client is a namespaced handle on a Valkey server. Every key built through
// Key carries the configured prefix so several deployments can share a server.
type Client struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewClient connects and pings once. Close must be called when done.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, fmt.Errorf("valkey address is empty")
	}

	inner, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{opts.Address},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := inner.Do(pingCtx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("valkey at %s unreachable after %v: %w", opts.Address, timeout, err)
	}

	return &Client{inner: inner, keyPrefix: normalizePrefix(opts.KeyPrefix)}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func (c *Client) Inner() valkeylib.Client {
	return c.inner
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins parts with ":" under the client prefix.
// Key("session", "abc") -> "restyle:session:abc"
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.keyPrefix, ":")
	}
	return c.keyPrefix + strings.Join(parts, ":")
}

// Ping reports whether the server answers within ctx.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// IsNil reports whether err is a Valkey nil reply (missing key).
func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}
