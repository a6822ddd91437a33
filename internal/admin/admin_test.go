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

package admin

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glideproxy/dataplane/internal/sni"
	"github.com/glideproxy/dataplane/internal/state"
)

func TestHandleEcho(t *testing.T) {
	s := &Service{State: state.New(sni.NewResolver(nil))}
	req := httptest.NewRequest("POST", "/echo", strings.NewReader("hello"))
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.Equal(t, "hello", rr.Body.String())
}

func TestHandleReadyz_NotReadyThenReady(t *testing.T) {
	st := state.New(sni.NewResolver(nil))
	s := &Service{State: st}

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, 503, rr.Code)

	st.MarkReady()

	rr = httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, 200, rr.Code)
}

func TestHandleHealthz_AlwaysOK(t *testing.T) {
	s := &Service{State: state.New(sni.NewResolver(nil))}
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, 200, rr.Code)
}
