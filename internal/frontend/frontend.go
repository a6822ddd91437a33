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

// Package frontend runs the two inbound listeners the dataplane exposes: a
// plaintext listener (HTTP/1.1 and h2c) and a TLS listener (HTTP/1.1 and
// HTTP/2 via ALPN), each attaching the frontend_is_tls flag to every
// request they serve before handing it to internal/forward.Handler.
package frontend

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/glideproxy/dataplane/internal/forward"
	"github.com/glideproxy/dataplane/internal/sni"
)

const shutdownGrace = 15 * time.Second

// Listener runs one frontend socket (plaintext or TLS).
type Listener struct {
	Addr      string
	IsTLS     bool
	Resolver  *sni.Resolver // only used when IsTLS
	Handler   *forward.Handler
	Log       logrus.FieldLogger

	server *http.Server
}

func (l *Listener) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// tagTLS wraps the forwarding handler so every request context carries
// frontend_is_tls.
func (l *Listener) tagTLS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := forward.WithFrontendTLS(r.Context(), l.IsTLS)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Run starts the listener and blocks until ctx is canceled, then drains
// in-flight connections before returning.
// Matches the AddContext signature expected by internal/workgroup.Group.
func (l *Listener) Run(ctx context.Context) {
	handler := l.tagTLS(l.Handler)

	if l.IsTLS {
		h2Handler := handler
		l.server = &http.Server{
			Addr:    l.Addr,
			Handler: h2Handler,
			TLSConfig: &tls.Config{
				GetCertificate: l.Resolver.GetCertificate,
				NextProtos:     []string{"h2", "http/1.1", "http/1.0"},
			},
		}
		if err := http2.ConfigureServer(l.server, &http2.Server{}); err != nil {
			l.log().WithError(err).Error("frontend: failed to configure HTTP/2 on TLS listener")
		}
	} else {
		h2s := &http2.Server{}
		l.server = &http.Server{
			Addr:    l.Addr,
			Handler: h2c.NewHandler(handler, h2s),
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if l.IsTLS {
			// Certificates come from TLSConfig.GetCertificate, so the file
			// arguments to ListenAndServeTLS are left empty.
			err = l.server.ListenAndServeTLS("", "")
		} else {
			err = l.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		l.log().WithError(err).Error("frontend: listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := l.server.Shutdown(shutdownCtx); err != nil {
		l.log().WithError(err).Warn("frontend: graceful shutdown timed out")
	}
}

// ValidateAddr is a convenience check used by main before starting the
// workgroup. It rejects only an empty address; other bind errors surface
// when the listener starts.
func ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty listen address")
	}
	return nil
}
