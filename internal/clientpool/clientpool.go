// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clientpool builds the shared upstream HTTP clients the dataplane
// describes: a verifying client and a non-verifying ("insecure") client,
// both offering HTTP/1.1 and HTTP/2 over TLS via ALPN, a 60-second idle
// timeout, and an idle-per-host cap proportional to the worker count.
//
// net/http's default client only negotiates HTTP/2 over TLS ALPN, so a
// third client, H2C, is kept for clusters whose backend_protocol is H2
// without TLS (prior-knowledge HTTP/2 over plaintext) — there is no ALPN to
// negotiate it with otherwise, hence golang.org/x/net/http2's client-side
// h2c support.
package clientpool

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	idleTimeout     = 60 * time.Second
	idlePerHostBase = 1024
	dialTimeout     = 10 * time.Second
)

// Pool is the set of shared upstream clients. Secure and Insecure share the
// same pool parameters and differ only in TLS verification; H2C shares the
// idle timeout but sets no idle-connection caps.
type Pool struct {
	// Secure verifies upstream certificates against the system root store.
	Secure *http.Client
	// Insecure accepts any upstream certificate. Selected only when a
	// cluster sets tls_insecure_skip_verify; explicitly dangerous.
	Insecure *http.Client
	// H2C speaks HTTP/2 over plaintext by prior knowledge, for clusters
	// with backend_protocol H2 (no TLS).
	H2C *http.Client
}

// New builds a Pool sized for workerCount logical workers (idle-per-host cap
// is 1024 × workerCount).
func New(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	maxIdlePerHost := idlePerHostBase * workerCount

	dialer := &net.Dialer{Timeout: dialTimeout}

	secureTransport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       idleTimeout,
		MaxIdleConns:          maxIdlePerHost,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	insecureTransport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		IdleConnTimeout:     idleTimeout,
		MaxIdleConns:        maxIdlePerHost,
		MaxIdleConnsPerHost: maxIdlePerHost,
		TLSClientConfig: &tls.Config{
			NextProtos:         []string{"h2", "http/1.1"},
			InsecureSkipVerify: true, //nolint:gosec // explicit opt-in via cluster config
		},
	}

	h2cTransport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		IdleConnTimeout: idleTimeout,
	}

	return &Pool{
		Secure:   &http.Client{Transport: secureTransport},
		Insecure: &http.Client{Transport: insecureTransport},
		H2C:      &http.Client{Transport: h2cTransport},
	}
}

// For selects the client to use for a cluster given its backend protocol
// and insecure flag.
func (p *Pool) For(insecure bool, h2Cleartext bool) *http.Client {
	if h2Cleartext {
		return p.H2C
	}
	if insecure {
		return p.Insecure
	}
	return p.Secure
}
