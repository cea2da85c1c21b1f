// Package netfix works around flaky dual-stack networks for outbound bot
// API traffic. Some ISPs blackhole IPv6 connects, which surfaces as long
// hangs on every Telegram/Discord request. The fix mirrors what the process
// dialer should have done: Happy-Eyeballs with a short attempt timeout, and
// a one-shot IPv4-only fallback when a connect fails with a known network
// error.
//
// State is applied-once and process-global; monitors that want isolation
// construct their own Client.
package netfix

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

// connectAttemptTimeout is the per-address connect pacing. The default
// dialer freezes its connect options at construction, so we carry our own.
const connectAttemptTimeout = 300 * time.Millisecond

// DNSResultOrder selects address family ordering for dials.
type DNSResultOrder string

const (
	OrderIPv4First DNSResultOrder = "ipv4first"
	OrderVerbatim  DNSResultOrder = "verbatim"
)

// Options mirror the configurable knobs.
type Options struct {
	// AutoSelectFamily enables Happy-Eyeballs dual-stack dialing.
	AutoSelectFamily bool
	DNSResultOrder   DNSResultOrder
}

var (
	mu      sync.Mutex
	applied *Options
	client  *http.Client
)

// Apply installs the shared transport once. Subsequent calls with the same
// options are no-ops; differing options are ignored in favor of the first
// application (the applied-values guard).
func Apply(opts Options) {
	mu.Lock()
	defer mu.Unlock()
	if applied != nil {
		return
	}
	applied = &opts
	client = buildClient(opts)
}

// HTTPClient returns the shared client, applying defaults on first use.
func HTTPClient() *http.Client {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		applied = &Options{AutoSelectFamily: true}
		client = buildClient(*applied)
	}
	return client
}

// Applied reports the currently applied options, if any.
func Applied() (Options, bool) {
	mu.Lock()
	defer mu.Unlock()
	if applied == nil {
		return Options{}, false
	}
	return *applied, true
}

// reset clears applied state. Test hook.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	applied = nil
	client = nil
}

func buildClient(opts Options) *http.Client {
	return &http.Client{
		Transport: buildTransport(opts, false),
		Timeout:   60 * time.Second,
	}
}

func buildTransport(opts Options, forceIPv4 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if opts.AutoSelectFamily && !forceIPv4 {
		dialer.FallbackDelay = connectAttemptTimeout
	} else {
		// Negative delay disables dual-stack racing entirely.
		dialer.FallbackDelay = -1
	}

	network := "tcp"
	if forceIPv4 || opts.DNSResultOrder == OrderIPv4First {
		network = "tcp4"
	}

	return &http.Transport{
		// Keep the environment proxy: never overwrite a proxy-like dispatcher
		// the operator configured.
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// IsRetryableNetworkError reports whether err looks like the class of
// connect failure the IPv4 fallback can help with.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connect timeout") || strings.Contains(msg, "connection timed out")
}

// FallbackToIPv4 swaps the shared transport to IPv4-only. Applied once; a
// second call is a no-op. Callers retry their request exactly once after.
func FallbackToIPv4() {
	mu.Lock()
	defer mu.Unlock()
	if applied == nil {
		applied = &Options{}
	}
	if applied.DNSResultOrder == OrderIPv4First && !applied.AutoSelectFamily {
		return
	}
	applied.AutoSelectFamily = false
	applied.DNSResultOrder = OrderIPv4First
	client = &http.Client{
		Transport: buildTransport(*applied, true),
		Timeout:   60 * time.Second,
	}
}

// Do issues req on the shared client, applying the one-shot IPv4 fallback
// and retry when the failure matches a known network error.
func Do(req *http.Request) (*http.Response, error) {
	resp, err := HTTPClient().Do(req)
	if err == nil || !IsRetryableNetworkError(err) {
		return resp, err
	}
	FallbackToIPv4()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, err
		}
		retry.Body = body
	}
	return HTTPClient().Do(retry)
}
