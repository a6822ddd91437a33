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

// Package routetable builds the immutable, atomically-swappable index that
// maps host+path to a cluster and a cluster name to a load-balanced
// endpoint. A Table is built once from a snapshot.Snapshot and never
// mutated; Builds from consecutive snapshots are independent, so
// LeastConn counters never leak across a reconfiguration.
package routetable

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/glideproxy/dataplane/internal/snapshot"
)

// RouteRule is one sorted entry in a host bucket.
type RouteRule struct {
	Path     string
	PathType snapshot.PathType
	Cluster  string
	Priority int32
}

// endpointKey identifies one endpoint slot within a cluster, keyed by
// position so that LeastConn counters are scoped to a single ClusterRule
// generation.
type endpointKey struct {
	address string
	port    int32
	index   int
}

// ClusterRule is the derived, per-cluster routing state: its endpoint list,
// LB policy, and the live counters/cursor used to pick among endpoints.
type ClusterRule struct {
	Name                  string
	LBPolicy              snapshot.LBPolicy
	Endpoints             []snapshot.Endpoint
	TimeoutMS             int32
	Retries               int32
	BackendProtocol       snapshot.BackendProtocol
	RequestHeaderRewrites []snapshot.HeaderRewrite
	TLSInsecureSkipVerify bool
	Auth                  *snapshot.AuthConfig

	rrCursor uint64 // atomic

	counters    map[endpointKey]*atomic.Uint64
	counterList []*atomic.Uint64 // parallel to Endpoints, for quick lookup by index
}

// SelectedEndpoint is the result of a load-balancing decision: an endpoint
// plus an optional handle onto its active-connection counter.
type SelectedEndpoint struct {
	Endpoint snapshot.Endpoint
	Counter  *atomic.Uint64
}

// Table is the immutable route+cluster index built from one Snapshot.
// All lookup methods are safe for concurrent use without locking; the only
// mutations that happen after Build returns are atomic: advancing a
// cluster's round-robin cursor, and incrementing/decrementing per-endpoint
// counters through an ActiveConnGuard wrapping the counter GetEndpoint
// returns.
type Table struct {
	Version      int64
	routesByHost map[string][]RouteRule
	clusters     map[string]*ClusterRule
	RouteCount   int
	ClusterCount int
}

// Build derives a Table from a snapshot. Routes or clusters referencing an
// unknown path-type or LB policy are dropped and logged; an unrecognized
// backend protocol defaults to H1 rather than dropping the cluster.
func Build(snap *snapshot.Snapshot, log logrus.FieldLogger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}

	clusters := make(map[string]*ClusterRule, len(snap.Clusters))
	for _, c := range snap.Clusters {
		switch c.LBPolicy {
		case snapshot.LBRoundRobin, snapshot.LBLeastConn:
		default:
			log.WithFields(logrus.Fields{"cluster": c.Name, "lb_policy": c.LBPolicy}).
				Warn("routetable: dropping cluster with unknown lb_policy")
			continue
		}

		protocol := c.BackendProtocol
		switch protocol {
		case snapshot.ProtoH1, snapshot.ProtoH2, snapshot.ProtoH1SSL, snapshot.ProtoH2SSL:
		default:
			log.WithFields(logrus.Fields{"cluster": c.Name, "backend_protocol": c.BackendProtocol}).
				Warn("routetable: unknown backend_protocol, defaulting to H1")
			protocol = snapshot.ProtoH1
		}

		rule := &ClusterRule{
			Name:                  c.Name,
			LBPolicy:              c.LBPolicy,
			Endpoints:             append([]snapshot.Endpoint(nil), c.Endpoints...),
			TimeoutMS:             c.TimeoutMS,
			Retries:               c.Retries,
			BackendProtocol:       protocol,
			RequestHeaderRewrites: c.RequestHeaderRewrites,
			TLSInsecureSkipVerify: c.TLSInsecureSkipVerify,
			Auth:                  c.Auth,
			counters:              make(map[endpointKey]*atomic.Uint64, len(c.Endpoints)),
			counterList:           make([]*atomic.Uint64, len(c.Endpoints)),
		}
		for i, ep := range c.Endpoints {
			counter := &atomic.Uint64{}
			rule.counters[endpointKey{address: ep.Address, port: ep.Port, index: i}] = counter
			rule.counterList[i] = counter
		}

		clusters[strings.ToLower(c.Name)] = rule
	}

	buckets := make(map[string][]RouteRule)
	for _, r := range snap.Routes {
		switch r.PathType {
		case snapshot.PathExact, snapshot.PathPrefix:
		default:
			log.WithFields(logrus.Fields{"host": r.Host, "path": r.Path, "path_type": r.PathType}).
				Warn("routetable: dropping route with unknown path_type")
			continue
		}
		host := strings.ToLower(r.Host)
		buckets[host] = append(buckets[host], RouteRule{
			Path:     r.Path,
			PathType: r.PathType,
			Cluster:  r.Cluster,
			Priority: r.Priority,
		})
	}

	for host, rules := range buckets {
		rs := rules
		sort.SliceStable(rs, func(i, j int) bool {
			a, b := rs[i], rs[j]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if len(a.Path) != len(b.Path) {
				return len(a.Path) > len(b.Path)
			}
			// Exact sorts before Prefix when priority and path length tie.
			if a.PathType != b.PathType {
				return a.PathType == snapshot.PathExact
			}
			return false
		})
		buckets[host] = rs
	}

	return &Table{
		Version:      snap.Version,
		routesByHost: buckets,
		clusters:     clusters,
		RouteCount:   len(snap.Routes),
		ClusterCount: len(clusters),
	}
}

// ChooseRoute looks up the host bucket, falling back to the wildcard
// (empty-string) bucket, and returns the first rule whose path matches.
func (t *Table) ChooseRoute(host, path string) (*RouteRule, bool) {
	if rules, ok := t.routesByHost[host]; ok {
		if r, ok := matchInBucket(rules, path); ok {
			return r, true
		}
	}
	if rules, ok := t.routesByHost[""]; ok {
		if r, ok := matchInBucket(rules, path); ok {
			return r, true
		}
	}
	return nil, false
}

func matchInBucket(rules []RouteRule, path string) (*RouteRule, bool) {
	for i := range rules {
		r := &rules[i]
		switch r.PathType {
		case snapshot.PathExact:
			if r.Path == path {
				return r, true
			}
		case snapshot.PathPrefix:
			if strings.HasPrefix(path, r.Path) {
				return r, true
			}
		}
	}
	return nil, false
}

// GetClusterRule does a direct lookup by cluster name.
func (t *Table) GetClusterRule(name string) (*ClusterRule, bool) {
	r, ok := t.clusters[strings.ToLower(name)]
	return r, ok
}

// GetEndpoint selects an endpoint from the named cluster according to its
// LB policy. It returns false if the cluster is unknown or has zero
// endpoints.
func (t *Table) GetEndpoint(clusterName string) (SelectedEndpoint, bool) {
	rule, ok := t.clusters[strings.ToLower(clusterName)]
	if !ok {
		return SelectedEndpoint{}, false
	}
	return rule.selectEndpoint()
}

func (r *ClusterRule) selectEndpoint() (SelectedEndpoint, bool) {
	if len(r.Endpoints) == 0 {
		return SelectedEndpoint{}, false
	}
	switch r.LBPolicy {
	case snapshot.LBLeastConn:
		return r.leastConn()
	default:
		return r.roundRobin()
	}
}

func (r *ClusterRule) roundRobin() (SelectedEndpoint, bool) {
	n := len(r.Endpoints)
	idx := int(atomic.AddUint64(&r.rrCursor, 1)-1) % n
	return SelectedEndpoint{Endpoint: r.Endpoints[idx], Counter: r.counterList[idx]}, true
}

func (r *ClusterRule) leastConn() (SelectedEndpoint, bool) {
	if len(r.counterList) == 0 {
		return r.roundRobin()
	}
	minIdx := 0
	minVal := r.counterList[0].Load()
	for i := 1; i < len(r.counterList); i++ {
		v := r.counterList[i].Load()
		if v < minVal {
			minVal = v
			minIdx = i
		}
	}
	return SelectedEndpoint{Endpoint: r.Endpoints[minIdx], Counter: r.counterList[minIdx]}, true
}

// ActiveConnGuard increments an endpoint's active-connection counter on
// creation and decrements it exactly once, however the caller exits.
type ActiveConnGuard struct {
	counter  *atomic.Uint64
	released bool
}

// NewActiveConnGuard acquires the guard; counter may be nil, in which case
// the guard is a no-op.
func NewActiveConnGuard(counter *atomic.Uint64) *ActiveConnGuard {
	if counter != nil {
		counter.Add(1)
	}
	return &ActiveConnGuard{counter: counter}
}

// Release decrements the counter. Safe to call multiple times.
func (g *ActiveConnGuard) Release() {
	if g == nil || g.released || g.counter == nil {
		if g != nil {
			g.released = true
		}
		return
	}
	g.counter.Add(^uint64(0)) // -1
	g.released = true
}
