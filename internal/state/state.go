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

// Package state holds the shared, concurrency-safe cells the dataplane
// describes: the atomically-swappable route table and SNI map, the sticky
// "ready" flag, and the atomically-swappable TLS identity material used to
// dial the control plane. Every field here is written by exactly one
// producer (the reconciler for route table/SNI map/ready, the file watcher
// for the PEM bytes) and read by many consumers without locking.
package state

import (
	"bytes"
	"sync/atomic"

	"github.com/glideproxy/dataplane/internal/routetable"
	"github.com/glideproxy/dataplane/internal/sni"
)

// Shared is the process-wide state cell threaded into every component that
// needs the current configuration.
type Shared struct {
	routeTable atomic.Pointer[routetable.Table]
	sniMap     *sni.Resolver

	ready atomic.Bool

	caPEM         atomic.Pointer[[]byte]
	clientCertPEM atomic.Pointer[[]byte]
	clientKeyPEM  atomic.Pointer[[]byte]

	// CAChanged and ClientPairChanged are edge-triggered, capacity-1
	// notifiers: the file watcher sends (non-blocking) whenever the
	// corresponding PEM bytes change, and the reconciler drains them to
	// force a reconnect with the new identity.
	CAChanged         chan struct{}
	ClientPairChanged chan struct{}
}

// New builds a Shared cell wired to the given SNI resolver (which owns its
// own fallback self-signed certificate and is itself swapped independently
// of Shared.routeTable).
func New(sniResolver *sni.Resolver) *Shared {
	return &Shared{
		sniMap:            sniResolver,
		CAChanged:         make(chan struct{}, 1),
		ClientPairChanged: make(chan struct{}, 1),
	}
}

// RouteTable returns the currently published route table. Callers should
// load it once per request and use that instance throughout, since a
// concurrent reconciler update may swap in a newer table mid-request.
func (s *Shared) RouteTable() *routetable.Table { return s.routeTable.Load() }

// StoreRouteTable atomically publishes a new route table.
func (s *Shared) StoreRouteTable(t *routetable.Table) { s.routeTable.Store(t) }

// SNIResolver returns the dynamic certificate resolver for the TLS listener.
func (s *Shared) SNIResolver() *sni.Resolver { return s.sniMap }

// Ready reports whether the first snapshot has been observed. It is sticky
// and never resets on stream loss or reconnect.
func (s *Shared) Ready() bool { return s.ready.Load() }

// MarkReady transitions ready false→true. Subsequent calls are no-ops.
func (s *Shared) MarkReady() { s.ready.Store(true) }

// CAPEM returns the currently-loaded CA bundle, or nil if never set.
func (s *Shared) CAPEM() []byte { return derefBytes(s.caPEM.Load()) }

// ClientCertPEM returns the currently-loaded client certificate.
func (s *Shared) ClientCertPEM() []byte { return derefBytes(s.clientCertPEM.Load()) }

// ClientKeyPEM returns the currently-loaded client private key.
func (s *Shared) ClientKeyPEM() []byte { return derefBytes(s.clientKeyPEM.Load()) }

// SetCAPEM stores new CA bytes and, if they differ from the current value,
// signals CAChanged (non-blocking).
func (s *Shared) SetCAPEM(b []byte) {
	if setIfChanged(&s.caPEM, b) {
		notify(s.CAChanged)
	}
}

// SetClientCertPEM stores a new client certificate and signals
// ClientPairChanged if it differs.
func (s *Shared) SetClientCertPEM(b []byte) {
	if setIfChanged(&s.clientCertPEM, b) {
		notify(s.ClientPairChanged)
	}
}

// SetClientKeyPEM stores a new client private key and signals
// ClientPairChanged if it differs.
func (s *Shared) SetClientKeyPEM(b []byte) {
	if setIfChanged(&s.clientKeyPEM, b) {
		notify(s.ClientPairChanged)
	}
}

func derefBytes(p *[]byte) []byte {
	if p == nil {
		return nil
	}
	return *p
}

func setIfChanged(slot *atomic.Pointer[[]byte], b []byte) bool {
	cur := slot.Load()
	if cur != nil && bytes.Equal(*cur, b) {
		return false
	}
	cp := append([]byte(nil), b...)
	slot.Store(&cp)
	return true
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
