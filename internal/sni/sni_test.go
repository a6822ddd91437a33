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

package sni

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glideproxy/dataplane/internal/certgen"
)

func certFor(t *testing.T, hosts ...string) (cert tls.Certificate) {
	t.Helper()
	c, err := certgen.GenerateSelfSigned(hosts...)
	require.NoError(t, err)
	return c
}

func TestResolve_ExactThenWildcardThenDefault(t *testing.T) {
	exact := certFor(t, "a.example")
	wildcard := certFor(t, "*.example")
	fallback := certFor(t, "fallback")

	m := &Map{
		byHost: map[string]*tls.Certificate{
			"a.example": &exact,
			"*.example": &wildcard,
		},
		fallback: &fallback,
	}

	require.Same(t, &exact, m.Resolve("a.example"))
	require.Same(t, &wildcard, m.Resolve("x.example"))
	require.Same(t, &fallback, m.Resolve("unrelated.test"))
}

func TestResolve_CaseInsensitive(t *testing.T) {
	exact := certFor(t, "a.example")
	fallback := certFor(t, "fallback")
	m := &Map{byHost: map[string]*tls.Certificate{"a.example": &exact}, fallback: &fallback}

	require.Same(t, &exact, m.Resolve("A.Example"))
}

func TestResolver_NeverFails(t *testing.T) {
	fallback := certFor(t, "fallback")
	r := NewResolver(&fallback)

	got, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "whatever.unknown"})
	require.NoError(t, err)
	require.Same(t, &fallback, got)
}
