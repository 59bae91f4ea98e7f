package transport

import (
	"net"
	"net/http"
	"time"

	"github.com/goliatone/go-larkauth/core"
)

// newPooledClient builds the transport's private connection pool. The pool
// is never exposed; Close releases its idle connections.
func newPooledClient(pool core.PoolConfig, cfg core.TransportConfig) (*http.Client, *http.Transport) {
	defaults := core.DefaultConfig()
	if pool.MaxIdlePerHost <= 0 {
		pool.MaxIdlePerHost = defaults.Pool.MaxIdlePerHost
	}
	if pool.IdleTimeout <= 0 {
		pool.IdleTimeout = defaults.Pool.IdleTimeout
	}
	if pool.ConnectTimeout <= 0 {
		pool.ConnectTimeout = defaults.Pool.ConnectTimeout
	}
	headerTimeout := cfg.ResponseHeaderTimeout
	if pool.ReadTimeout > 0 {
		headerTimeout = pool.ReadTimeout
	}
	if headerTimeout <= 0 {
		headerTimeout = defaults.Transport.ResponseHeaderTimeout
	}

	dialer := &net.Dialer{
		Timeout:   pool.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          pool.MaxIdlePerHost,
		MaxIdleConnsPerHost:   pool.MaxIdlePerHost,
		IdleConnTimeout:       pool.IdleTimeout,
		TLSHandshakeTimeout:   pool.ConnectTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport}, transport
}
