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

// Package reconciler runs the long-lived control-plane watch as a
// Disconnected → Connecting → Streaming → Disconnected loop, with
// exponential backoff, mandatory mTLS, and atomic publication of each
// received snapshot's derived route table and SNI map into internal/state.
package reconciler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/glideproxy/dataplane/internal/certgen"
	"github.com/glideproxy/dataplane/internal/controlplane"
	"github.com/glideproxy/dataplane/internal/routetable"
	"github.com/glideproxy/dataplane/internal/sni"
	"github.com/glideproxy/dataplane/internal/snapshot"
	"github.com/glideproxy/dataplane/internal/state"
)

const (
	connectTimeout = 10 * time.Second
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// Reconciler owns the connection to the control plane.
type Reconciler struct {
	ControllerAddr string
	NodeID         string
	CertsDir       string
	State          *state.Shared
	Log            logrus.FieldLogger

	// ClientMetrics exports grpc_client_* counters for the
	// watch stream, mirroring internal/grpc/server.go's server-side
	// grpc_prometheus.NewServerMetrics wiring, on the client side.
	ClientMetrics *grpc_prometheus.ClientMetrics
}

func (r *Reconciler) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// Run drives the Disconnected → Connecting → Streaming loop until ctx is
// canceled.
func (r *Reconciler) Run(ctx context.Context) {
	go r.watchCertsDir(ctx, r.CertsDir)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := r.connect(ctx)
		if err != nil {
			r.log().WithError(err).Warn("reconciler: connect failed, backing off")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		streamErr := r.stream(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if streamErr != nil {
			r.log().WithError(streamErr).Warn("reconciler: stream ended, reconnecting")
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// connect builds the mTLS channel to the control plane. Empty CA or client
// identity material defers the attempt indefinitely rather than falling
// back to plaintext.
func (r *Reconciler) connect(ctx context.Context) (*grpc.ClientConn, error) {
	caPEM := r.State.CAPEM()
	certPEM := r.State.ClientCertPEM()
	keyPEM := r.State.ClientKeyPEM()
	if len(caPEM) == 0 || len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, fmt.Errorf("mTLS identity not yet loaded, deferring connection")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client certificate/key: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("unable to append control-plane CA to pool")
	}

	serverName, err := serverNameFromAddr(r.ControllerAddr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
	}
	creds := credentials.NewTLS(tlsConfig)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
	}
	if r.ClientMetrics != nil {
		opts = append(opts,
			grpc.WithChainStreamInterceptor(r.ClientMetrics.StreamClientInterceptor()),
			grpc.WithChainUnaryInterceptor(r.ClientMetrics.UnaryClientInterceptor()),
		)
	}

	target, err := dialTarget(r.ControllerAddr)
	if err != nil {
		return nil, err
	}

	return grpc.DialContext(dialCtx, target, opts...) //nolint:staticcheck // grpc.DialContext retained for its blocking connect-timeout semantics
}

func serverNameFromAddr(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parsing CONTROLLER_ADDR: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("CONTROLLER_ADDR %q has no host", addr)
	}
	return u.Hostname(), nil
}

func dialTarget(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parsing CONTROLLER_ADDR: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("CONTROLLER_ADDR %q has no host:port", addr)
	}
	return u.Host, nil
}

// stream runs the Streaming state: opens the watch and consumes snapshots
// until the stream ends, errors, or ctx/identity changes fire. Ready is
// marked by applySnapshot when a snapshot arrives, not when the watch opens.
func (r *Reconciler) stream(ctx context.Context, conn *grpc.ClientConn) error {
	client := controlplane.NewDataplaneConfigClient(conn)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watch, err := client.Watch(streamCtx, &controlplane.WatchRequest{NodeId: r.NodeID})
	if err != nil {
		return fmt.Errorf("opening watch: %w", err)
	}

	recvCh := make(chan recvResult, 1)
	go func() {
		for {
			snap, err := watch.Recv()
			recvCh <- recvResult{snap: snap, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.State.CAChanged:
			r.log().Info("reconciler: CA material changed, reconnecting")
			return nil
		case <-r.State.ClientPairChanged:
			r.log().Info("reconciler: client identity changed, reconnecting")
			return nil
		case res := <-recvCh:
			if res.err != nil {
				return res.err
			}
			r.applySnapshot(res.snap)
		}
	}
}

type recvResult struct {
	snap *controlplane.Snapshot
	err  error
}

// applySnapshot decodes a received snapshot, builds the route table and SNI
// map, atomically swaps both in, marks state ready, and logs the result.
func (r *Reconciler) applySnapshot(wire *controlplane.Snapshot) {
	snap := decodeSnapshot(wire)

	table := routetable.Build(snap, r.log())
	var fallback *tls.Certificate
	if cur := r.State.SNIResolver(); cur != nil {
		fallback = cur.Fallback()
	}
	if fallback == nil {
		cert, err := certgen.GenerateSelfSigned("dataplane-fallback")
		if err != nil {
			r.log().WithError(err).Error("reconciler: failed to mint fallback certificate")
		} else {
			fallback = &cert
		}
	}
	sniMap := sni.Build(snap, fallback, r.log())

	r.State.StoreRouteTable(table)
	r.State.SNIResolver().Store(sniMap)
	r.State.MarkReady()

	r.log().WithFields(logrus.Fields{
		"version":       snap.Version,
		"route_count":   len(snap.Routes),
		"cluster_count": len(snap.Clusters),
	}).Info("reconciler: applied snapshot")
}

func decodeSnapshot(wire *controlplane.Snapshot) *snapshot.Snapshot {
	out := &snapshot.Snapshot{Version: wire.Version}

	for _, rt := range wire.Routes {
		out.Routes = append(out.Routes, snapshot.RouteEntry{
			Host:     rt.Host,
			Path:     rt.Path,
			PathType: snapshot.PathType(rt.PathType),
			Cluster:  rt.Cluster,
			Priority: rt.Priority,
		})
	}

	for _, c := range wire.Clusters {
		cluster := snapshot.Cluster{
			Name:                  c.Name,
			LBPolicy:              snapshot.LBPolicy(c.LbPolicy),
			TimeoutMS:             c.TimeoutMs,
			Retries:               c.Retries,
			BackendProtocol:       snapshot.BackendProtocol(c.BackendProtocol),
			TLSInsecureSkipVerify: c.TlsInsecureSkipVerify,
		}
		for _, ep := range c.Endpoints {
			cluster.Endpoints = append(cluster.Endpoints, snapshot.Endpoint{Address: ep.Address, Port: ep.Port})
		}
		for _, hr := range c.RequestHeaders {
			cluster.RequestHeaderRewrites = append(cluster.RequestHeaderRewrites, snapshot.HeaderRewrite{
				Name: hr.Name, Value: hr.Value, Mode: snapshot.HeaderRewriteMode(hr.Mode),
			})
		}
		if c.Auth != nil {
			cluster.Auth = &snapshot.AuthConfig{
				AuthURL:         c.Auth.AuthUrl,
				Signin:          c.Auth.Signin,
				ResponseHeaders: append([]string(nil), c.Auth.ResponseHeaders...),
				SkipPaths:       append([]string(nil), c.Auth.SkipPaths...),
				CookieName:      c.Auth.CookieName,
			}
		}
		out.Clusters = append(out.Clusters, cluster)
	}

	for _, st := range wire.ServerTls {
		out.ServerTLS = append(out.ServerTLS, snapshot.ServerTLSEntry{
			SNI:     append([]string(nil), st.Sni...),
			CertPEM: append([]byte(nil), st.CertPem...),
			KeyPEM:  append([]byte(nil), st.KeyPem...),
		})
	}

	return out
}
