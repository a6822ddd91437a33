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

package routetable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glideproxy/dataplane/internal/snapshot"
)

func buildTable(t *testing.T, snap *snapshot.Snapshot) *Table {
	t.Helper()
	return Build(snap, nil)
}

func TestChooseRoute_PriorityAndPathLength(t *testing.T) {
	snap := &snapshot.Snapshot{
		Routes: []snapshot.RouteEntry{
			{Host: "h", Path: "/api", PathType: snapshot.PathPrefix, Cluster: "c_api", Priority: 10},
			{Host: "h", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c_root", Priority: 1},
		},
		Clusters: []snapshot.Cluster{
			{Name: "c_api", LBPolicy: snapshot.LBRoundRobin, Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
			{Name: "c_root", LBPolicy: snapshot.LBRoundRobin, Endpoints: []snapshot.Endpoint{{Address: "b", Port: 1}}},
		},
	}
	tbl := buildTable(t, snap)

	r, ok := tbl.ChooseRoute("h", "/api/x")
	require.True(t, ok)
	assert.Equal(t, "c_api", r.Cluster)
}

func TestChooseRoute_ExactBeatsPrefixAtSamePriority(t *testing.T) {
	snap := &snapshot.Snapshot{
		Routes: []snapshot.RouteEntry{
			{Host: "h", Path: "/health", PathType: snapshot.PathExact, Cluster: "c_h", Priority: 1},
			{Host: "h", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c_root", Priority: 1},
		},
		Clusters: []snapshot.Cluster{
			{Name: "c_h", LBPolicy: snapshot.LBRoundRobin, Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
			{Name: "c_root", LBPolicy: snapshot.LBRoundRobin, Endpoints: []snapshot.Endpoint{{Address: "b", Port: 1}}},
		},
	}
	tbl := buildTable(t, snap)

	r, ok := tbl.ChooseRoute("h", "/health")
	require.True(t, ok)
	assert.Equal(t, "c_h", r.Cluster)
}

func TestChooseRoute_WildcardHostFallback(t *testing.T) {
	snap := &snapshot.Snapshot{
		Routes: []snapshot.RouteEntry{
			{Host: "", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c_default", Priority: 0},
		},
		Clusters: []snapshot.Cluster{
			{Name: "c_default", LBPolicy: snapshot.LBRoundRobin, Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
		},
	}
	tbl := buildTable(t, snap)

	r, ok := tbl.ChooseRoute("unknown.example", "/anything")
	require.True(t, ok)
	assert.Equal(t, "c_default", r.Cluster)
}

func TestChooseRoute_NoMatch(t *testing.T) {
	tbl := buildTable(t, &snapshot.Snapshot{})
	_, ok := tbl.ChooseRoute("h", "/")
	assert.False(t, ok)
}

func TestGetEndpoint_EmptyClusterYieldsNone(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{Name: "empty", LBPolicy: snapshot.LBRoundRobin, Endpoints: nil},
		},
	}
	tbl := buildTable(t, snap)
	_, ok := tbl.GetEndpoint("empty")
	assert.False(t, ok)
}

func TestGetEndpoint_RoundRobinDistribution(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{
				Name:     "c1",
				LBPolicy: snapshot.LBRoundRobin,
				Endpoints: []snapshot.Endpoint{
					{Address: "10.0.0.1", Port: 80},
					{Address: "10.0.0.2", Port: 80},
				},
			},
		},
	}
	tbl := buildTable(t, snap)

	var seen []string
	for i := 0; i < 4; i++ {
		sel, ok := tbl.GetEndpoint("c1")
		require.True(t, ok)
		seen = append(seen, sel.Endpoint.Address)
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.2"}, seen)
}

func TestGetEndpoint_RoundRobinConcurrentIsBalanced(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{
				Name:     "c1",
				LBPolicy: snapshot.LBRoundRobin,
				Endpoints: []snapshot.Endpoint{
					{Address: "a", Port: 1}, {Address: "b", Port: 1}, {Address: "c", Port: 1},
				},
			},
		},
	}
	tbl := buildTable(t, snap)

	const n = 300
	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sel, ok := tbl.GetEndpoint("c1")
			require.True(t, ok)
			mu.Lock()
			counts[sel.Endpoint.Address]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, c := range counts {
		assert.InDelta(t, n/3, c, 2)
	}
}

func TestGetEndpoint_LeastConnPicksMinimum(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{
				Name:     "c1",
				LBPolicy: snapshot.LBLeastConn,
				Endpoints: []snapshot.Endpoint{
					{Address: "a", Port: 1},
					{Address: "b", Port: 1},
				},
			},
		},
	}
	tbl := buildTable(t, snap)

	sel1, ok := tbl.GetEndpoint("c1")
	require.True(t, ok)
	guard1 := NewActiveConnGuard(sel1.Counter)

	// a now has an active connection; b should be picked next.
	sel2, ok := tbl.GetEndpoint("c1")
	require.True(t, ok)
	assert.NotEqual(t, sel1.Endpoint.Address, sel2.Endpoint.Address)

	guard1.Release()
}

func TestClusterRuleCounters_DoNotLeakAcrossSwap(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{Name: "c1", LBPolicy: snapshot.LBLeastConn, Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
		},
	}
	tbl1 := buildTable(t, snap)
	sel, ok := tbl1.GetEndpoint("c1")
	require.True(t, ok)
	NewActiveConnGuard(sel.Counter) // leave "in flight", never released

	tbl2 := buildTable(t, snap)
	sel2, ok := tbl2.GetEndpoint("c1")
	require.True(t, ok)
	assert.Equal(t, uint64(0), sel2.Counter.Load())
}

func TestBuild_DropsUnknownPathTypeAndLBPolicy(t *testing.T) {
	snap := &snapshot.Snapshot{
		Routes: []snapshot.RouteEntry{
			{Host: "h", Path: "/", PathType: "Regex", Cluster: "c1"},
		},
		Clusters: []snapshot.Cluster{
			{Name: "c1", LBPolicy: "Weighted", Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
		},
	}
	tbl := buildTable(t, snap)
	_, ok := tbl.ChooseRoute("h", "/")
	assert.False(t, ok)
	_, ok = tbl.GetClusterRule("c1")
	assert.False(t, ok)
}

func TestBuild_UnknownBackendProtocolDefaultsToH1(t *testing.T) {
	snap := &snapshot.Snapshot{
		Clusters: []snapshot.Cluster{
			{Name: "c1", LBPolicy: snapshot.LBRoundRobin, BackendProtocol: "grpc-web", Endpoints: []snapshot.Endpoint{{Address: "a", Port: 1}}},
		},
	}
	tbl := buildTable(t, snap)
	rule, ok := tbl.GetClusterRule("c1")
	require.True(t, ok)
	assert.Equal(t, snapshot.ProtoH1, rule.BackendProtocol)
}
