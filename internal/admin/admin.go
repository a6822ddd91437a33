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

// Package admin runs the ADMIN_PORT surface: /echo, /healthz, /readyz, and
// /metrics, adapted from internal/httpsvc's Runnable-compatible HTTP/1.x
// Service, paired with a Prometheus registry the way contour's
// internal/grpc server pairs grpc_prometheus metrics with a registry.
package admin

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/glideproxy/dataplane/internal/state"
)

// Service is the admin HTTP/1.x endpoint.
type Service struct {
	Addr     string
	Port     int
	State    *state.Shared
	Registry *prometheus.Registry

	Log logrus.FieldLogger

	mux *http.ServeMux
}

func (s *Service) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Service) routes() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", s.handleEcho)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	registry := s.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux = mux
	return mux
}

func (s *Service) handleEcho(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r.Body)
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.State.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// Run starts the admin server and blocks until ctx is canceled, draining
// with a short grace period, matching the internal/workgroup.Group
// AddContext signature.
func (s *Service) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:           net.JoinHostPort(s.Addr, strconv.Itoa(s.Port)),
		Handler:        s.routes(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxHeaderBytes: 1 << 11,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log().WithField("address", srv.Addr).Info("admin: started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.log().WithError(err).Error("admin: server failed")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	s.log().Info("admin: stopped")
}
