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

package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/glideproxy/dataplane/internal/admin"
	"github.com/glideproxy/dataplane/internal/certgen"
	"github.com/glideproxy/dataplane/internal/clientpool"
	"github.com/glideproxy/dataplane/internal/config"
	"github.com/glideproxy/dataplane/internal/forward"
	"github.com/glideproxy/dataplane/internal/frontend"
	"github.com/glideproxy/dataplane/internal/reconciler"
	"github.com/glideproxy/dataplane/internal/sni"
	"github.com/glideproxy/dataplane/internal/state"
	"github.com/glideproxy/dataplane/internal/tlswatch"
	"github.com/glideproxy/dataplane/internal/workgroup"
)

func main() {
	log := logrus.StandardLogger()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.WithError(err).Warn("main: failed to set GOMAXPROCS from cgroup quota")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("main: invalid configuration")
	}

	fallback, err := certgen.GenerateSelfSigned("dataplane-fallback")
	if err != nil {
		log.WithError(err).Fatal("main: unable to mint fallback certificate")
	}

	sniResolver := sni.NewResolver(&fallback)
	sharedState := state.New(sniResolver)
	pool := clientpool.New(cfg.CountThreads)

	registry := prometheus.NewRegistry()
	clientMetrics := grpc_prometheus.NewClientMetrics()
	registry.MustRegister(clientMetrics)

	recon := &reconciler.Reconciler{
		ControllerAddr: cfg.ControllerAddr,
		NodeID:         cfg.NodeID,
		CertsDir:       cfg.CertsDir,
		State:          sharedState,
		Log:            log.WithField("component", "reconciler"),
		ClientMetrics:  clientMetrics,
	}

	watcher := &tlswatch.Watcher{
		CertsDir: cfg.CertsDir,
		State:    sharedState,
		Log:      log.WithField("component", "tlswatch"),
	}

	handler := &forward.Handler{
		State: sharedState,
		Pool:  pool,
		Log:   log.WithField("component", "forward"),
	}

	plaintext := &frontend.Listener{
		Addr:    net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		IsTLS:   false,
		Handler: handler,
		Log:     log.WithField("component", "frontend-http"),
	}
	if err := frontend.ValidateAddr(plaintext.Addr); err != nil {
		log.WithError(err).Fatal("main: invalid HTTP_PORT")
	}

	secure := &frontend.Listener{
		Addr:     net.JoinHostPort("", strconv.Itoa(cfg.HTTPSPort)),
		IsTLS:    true,
		Resolver: sniResolver,
		Handler:  handler,
		Log:      log.WithField("component", "frontend-https"),
	}
	if err := frontend.ValidateAddr(secure.Addr); err != nil {
		log.WithError(err).Fatal("main: invalid HTTPS_PORT")
	}

	adminSvc := &admin.Service{
		Addr:     "",
		Port:     cfg.AdminPort,
		State:    sharedState,
		Registry: registry,
		Log:      log.WithField("component", "admin"),
	}

	var g workgroup.Group
	g.AddContext(recon.Run)
	g.AddContext(watcher.Run)
	g.AddContext(plaintext.Run)
	g.AddContext(secure.Run)
	g.AddContext(adminSvc.Run)

	g.Add(func(stop <-chan struct{}) error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-c:
			log.WithField("signal", sig).Info("main: shutting down")
		case <-stop:
		}
		return nil
	})

	if err := g.Run(); err != nil {
		log.WithError(err).Fatal("main: exited with error")
	}

	log.Info("main: shutdown complete")
}
