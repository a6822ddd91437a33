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

package controlplane

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotMarshalRoundTrip(t *testing.T) {
	in := &Snapshot{
		Version: 7,
		Routes: []*RouteEntry{
			{Host: "a.example", Path: "/api", PathType: "Prefix", Cluster: "c1", Priority: 10},
		},
		Clusters: []*Cluster{
			{
				Name:     "c1",
				LbPolicy: "RoundRobin",
				Endpoints: []*Endpoint{
					{Address: "10.0.0.1", Port: 80},
					{Address: "10.0.0.2", Port: 80},
				},
				TimeoutMs:       50,
				Retries:         3,
				BackendProtocol: "H1",
				RequestHeaders: []*HeaderRewrite{
					{Name: "x-env", Value: "prod", Mode: "Set"},
				},
				Auth: &AuthConfig{
					AuthUrl:         "https://auth.internal/verify",
					Signin:          "https://id/$host?r=$escaped_request_uri",
					ResponseHeaders: []string{"x-user"},
					SkipPaths:       []string{"/public"},
					CookieName:      "session",
				},
			},
		},
		ServerTls: []*ServerTLSEntry{
			{Sni: []string{"a.example", "*.example"}, CertPem: []byte("cert"), KeyPem: []byte("key")},
		},
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out := &Snapshot{}
	require.NoError(t, out.Unmarshal(b))

	require.Equal(t, in.Version, out.Version)
	require.Len(t, out.Routes, 1)
	require.Equal(t, in.Routes[0].Host, out.Routes[0].Host)
	require.Len(t, out.Clusters, 1)
	require.Equal(t, in.Clusters[0].Name, out.Clusters[0].Name)
	require.Len(t, out.Clusters[0].Endpoints, 2)
	require.Equal(t, in.Clusters[0].Auth.CookieName, out.Clusters[0].Auth.CookieName)
	require.Len(t, out.ServerTls, 1)
	require.Equal(t, in.ServerTls[0].Sni, out.ServerTls[0].Sni)
	require.Equal(t, in.ServerTls[0].CertPem, out.ServerTls[0].CertPem)
}

func TestWatchRequestRoundTrip(t *testing.T) {
	in := &WatchRequest{NodeId: "dp-1"}
	b, err := in.Marshal()
	require.NoError(t, err)

	out := &WatchRequest{}
	require.NoError(t, out.Unmarshal(b))
	require.Equal(t, "dp-1", out.NodeId)
}
