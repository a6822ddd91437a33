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

// Package sni builds and resolves the atomically-swappable host→certificate
// map used by the frontend TLS listener's tls.Config.GetCertificate hook.
// Resolution never fails: an unknown SNI name always falls back to a
// self-signed default key, minted by internal/certgen.
package sni

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/glideproxy/dataplane/internal/snapshot"
)

// Map is the immutable host→certificate index built from one snapshot.
type Map struct {
	byHost   map[string]*tls.Certificate
	fallback *tls.Certificate
}

// Build parses every ServerTLSEntry's PEM material into a *tls.Certificate
// and indexes it by each of its configured SNI hostnames (lowercased).
// Entries whose PEM fails to parse are logged and skipped; the snapshot is
// still otherwise usable, following a "malformed PEM degrades
// gracefully" intent.
func Build(snap *snapshot.Snapshot, fallback *tls.Certificate, log logrus.FieldLogger) *Map {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byHost := make(map[string]*tls.Certificate)
	for _, entry := range snap.ServerTLS {
		cert, err := tls.X509KeyPair(entry.CertPEM, entry.KeyPEM)
		if err != nil {
			log.WithError(err).WithField("sni", entry.SNI).Warn("sni: skipping entry with invalid PEM material")
			continue
		}
		for _, host := range entry.SNI {
			byHost[strings.ToLower(host)] = &cert
		}
	}
	return &Map{byHost: byHost, fallback: fallback}
}

// Resolve runs the certificate-selection algorithm: exact match, then
// "*.<parent>" wildcard, then the fallback default key. The result is nil
// only when nothing matches and the Map was built without a fallback.
func (m *Map) Resolve(serverName string) *tls.Certificate {
	name := strings.ToLower(serverName)
	if cert, ok := m.byHost[name]; ok {
		return cert
	}
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		wildcard := "*." + name[dot+1:]
		if cert, ok := m.byHost[wildcard]; ok {
			return cert
		}
	}
	return m.fallback
}

// Resolver is a dynamic, atomically-swappable holder of the current Map,
// suitable for tls.Config.GetCertificate.
type Resolver struct {
	current atomic.Pointer[Map]
}

// NewResolver creates a Resolver seeded with an empty Map backed by the
// given fallback certificate, so TLS handshakes succeed even before the
// first snapshot arrives.
func NewResolver(fallback *tls.Certificate) *Resolver {
	r := &Resolver{}
	r.current.Store(&Map{byHost: map[string]*tls.Certificate{}, fallback: fallback})
	return r
}

// Store atomically publishes a newly built Map. Readers that already loaded
// the previous Map continue to see it undisturbed.
func (r *Resolver) Store(m *Map) { r.current.Store(m) }

// Fallback returns the default certificate backing this Resolver, so callers
// rebuilding a Map from a new snapshot can carry it forward unchanged.
func (r *Resolver) Fallback() *tls.Certificate {
	if m := r.current.Load(); m != nil {
		return m.fallback
	}
	return nil
}

// GetCertificate is a tls.Config.GetCertificate implementation: one atomic
// pointer load, no lock held across the TLS handshake.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	m := r.current.Load()
	if m == nil {
		return nil, fmt.Errorf("sni: resolver not yet initialized")
	}
	return m.Resolve(hello.ServerName), nil
}
