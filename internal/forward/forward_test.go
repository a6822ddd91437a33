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

package forward

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glideproxy/dataplane/internal/clientpool"
	"github.com/glideproxy/dataplane/internal/routetable"
	"github.com/glideproxy/dataplane/internal/sni"
	"github.com/glideproxy/dataplane/internal/snapshot"
	"github.com/glideproxy/dataplane/internal/state"
)

func endpointFor(t *testing.T, ts *httptest.Server) snapshot.Endpoint {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return snapshot.Endpoint{Address: host, Port: int32(port)}
}

func newHandler(t *testing.T, snap *snapshot.Snapshot) *Handler {
	t.Helper()
	table := routetable.Build(snap, nil)
	sh := state.New(sni.NewResolver(nil))
	sh.StoreRouteTable(table)
	return &Handler{State: sh, Pool: clientpool.New(1)}
}

func TestServeHTTP_RouteMiss404(t *testing.T) {
	h := newHandler(t, &snapshot.Snapshot{Version: 1})
	req := httptest.NewRequest(http.MethodGet, "http://a.example/nope", nil)
	req = req.WithContext(WithFrontendTLS(req.Context(), false))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "route not found", rr.Body.String())
}

func TestServeHTTP_MissingHost400(t *testing.T) {
	h := newHandler(t, &snapshot.Snapshot{Version: 1})
	req := httptest.NewRequest(http.MethodGet, "http://a.example/", nil)
	req.Host = ""
	req.URL.Host = ""
	req = req.WithContext(WithFrontendTLS(req.Context(), false))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Missing Host", rr.Body.String())
}

func TestServeHTTP_ForwardsAndStripsHopHeaders(t *testing.T) {
	var gotConnection, gotXFP string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		gotXFP = r.Header.Get("X-Forwarded-Proto")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	snap := &snapshot.Snapshot{
		Version: 1,
		Clusters: []snapshot.Cluster{{
			Name: "c1", LBPolicy: snapshot.LBRoundRobin, Retries: 1, TimeoutMS: 2000,
			BackendProtocol: snapshot.ProtoH1,
			Endpoints:       []snapshot.Endpoint{endpointFor(t, upstream)},
		}},
		Routes: []snapshot.RouteEntry{{Host: "a.example", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c1"}},
	}
	h := newHandler(t, snap)

	req := httptest.NewRequest(http.MethodGet, "http://a.example/hi", nil)
	req.Header.Set("Connection", "close")
	req = req.WithContext(WithFrontendTLS(req.Context(), false))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "hello", rr.Body.String())
	require.Empty(t, gotConnection, "hop-by-hop Connection header must not reach upstream")
	require.Equal(t, "http", gotXFP)
	require.Empty(t, rr.Header().Get("Connection"), "hop-by-hop Connection header must not reach downstream")
	require.Equal(t, "yes", rr.Header().Get("X-Upstream"))
}

func TestServeHTTP_RoundRobinAlternates(t *testing.T) {
	var hits [2]atomic.Uint64
	mk := func(i int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i].Add(1)
			w.WriteHeader(http.StatusOK)
		}))
	}
	s0, s1 := mk(0), mk(1)
	defer s0.Close()
	defer s1.Close()

	snap := &snapshot.Snapshot{
		Version: 1,
		Clusters: []snapshot.Cluster{{
			Name: "c1", LBPolicy: snapshot.LBRoundRobin, Retries: 1, TimeoutMS: 2000,
			BackendProtocol: snapshot.ProtoH1,
			Endpoints:       []snapshot.Endpoint{endpointFor(t, s0), endpointFor(t, s1)},
		}},
		Routes: []snapshot.RouteEntry{{Host: "a.example", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c1"}},
	}
	h := newHandler(t, snap)

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "http://a.example/", nil)
		req = req.WithContext(WithFrontendTLS(req.Context(), false))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.EqualValues(t, 2, hits[0].Load())
	require.EqualValues(t, 2, hits[1].Load())
}

func TestServeHTTP_EndpointMissing502(t *testing.T) {
	snap := &snapshot.Snapshot{
		Version: 1,
		Clusters: []snapshot.Cluster{{Name: "c1", LBPolicy: snapshot.LBRoundRobin, BackendProtocol: snapshot.ProtoH1}},
		Routes:   []snapshot.RouteEntry{{Host: "a.example", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c1"}},
	}
	h := newHandler(t, snap)
	req := httptest.NewRequest(http.MethodGet, "http://a.example/", nil)
	req = req.WithContext(WithFrontendTLS(req.Context(), false))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "endpoint not found", rr.Body.String())
}

func TestServeHTTP_RetriesExhaustedOnBodylessRequest(t *testing.T) {
	snap := &snapshot.Snapshot{
		Version: 1,
		Clusters: []snapshot.Cluster{{
			Name: "c1", LBPolicy: snapshot.LBRoundRobin, Retries: 3, TimeoutMS: 2000,
			BackendProtocol: snapshot.ProtoH1,
			Endpoints:       []snapshot.Endpoint{{Address: "127.0.0.1", Port: 1}}, // nothing listens on port 1
		}},
		Routes: []snapshot.RouteEntry{{Host: "a.example", Path: "/", PathType: snapshot.PathPrefix, Cluster: "c1"}},
	}
	h := newHandler(t, snap)
	req := httptest.NewRequest(http.MethodGet, "http://a.example/", nil)
	req = req.WithContext(WithFrontendTLS(req.Context(), false))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestAuthorize_SigninRedirectWhenCookieMissing(t *testing.T) {
	auth := &snapshot.AuthConfig{CookieName: "session", Signin: "https://id/$host?r=$escaped_request_uri"}
	h := &Handler{State: state.New(sni.NewResolver(nil)), Pool: clientpool.New(1)}

	req := httptest.NewRequest(http.MethodGet, "http://a/secret", nil)
	rr := httptest.NewRecorder()
	ok := h.authorize(rr, req, auth, "a", false, h.Pool.For(false, false))

	require.False(t, ok)
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "https://id/a?r=%2Fsecret", rr.Header().Get("Location"))
}

func TestAuthorize_SkipPathBypassesAuth(t *testing.T) {
	auth := &snapshot.AuthConfig{AuthURL: "http://unused.invalid/auth", SkipPaths: []string{"/public"}}
	h := &Handler{State: state.New(sni.NewResolver(nil)), Pool: clientpool.New(1)}

	req := httptest.NewRequest(http.MethodGet, "http://a/public/x", nil)
	rr := httptest.NewRecorder()
	ok := h.authorize(rr, req, auth, "a", false, h.Pool.For(false, false))
	require.True(t, ok)
}

func TestAuthorize_MissingAuthURLFailsClosed(t *testing.T) {
	auth := &snapshot.AuthConfig{AuthURL: ""}
	h := &Handler{State: state.New(sni.NewResolver(nil)), Pool: clientpool.New(1)}

	req := httptest.NewRequest(http.MethodGet, "http://a/secret", nil)
	rr := httptest.NewRecorder()
	ok := h.authorize(rr, req, auth, "a", false, h.Pool.For(false, false))

	require.False(t, ok)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "authorization url not found", rr.Body.String())
}
