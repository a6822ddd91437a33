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

// Package snapshot holds the plain value types decoded from a control-plane
// Snapshot message. These are short-lived: they exist only to be consumed by
// internal/routetable and internal/sni when building the derived, immutable
// indices actually used on the hot path.
package snapshot

// PathType is the matching mode of a RouteEntry.
type PathType string

const (
	PathExact  PathType = "Exact"
	PathPrefix PathType = "Prefix"
)

// LBPolicy selects how a Cluster distributes requests across its endpoints.
type LBPolicy string

const (
	LBRoundRobin LBPolicy = "RoundRobin"
	LBLeastConn  LBPolicy = "LeastConn"
)

// BackendProtocol is the wire protocol spoken to a Cluster's endpoints.
type BackendProtocol string

const (
	ProtoH1    BackendProtocol = "H1"
	ProtoH2    BackendProtocol = "H2"
	ProtoH1SSL BackendProtocol = "H1-SSL"
	ProtoH2SSL BackendProtocol = "H2-SSL"
)

// HeaderRewriteMode is the action a HeaderRewrite applies to a request header.
type HeaderRewriteMode string

const (
	HeaderSet    HeaderRewriteMode = "Set"
	HeaderAppend HeaderRewriteMode = "Append"
	HeaderRemove HeaderRewriteMode = "Remove"
)

// Endpoint is a single upstream address:port pair.
type Endpoint struct {
	Address string
	Port    int32
}

// HeaderRewrite is one request-header rewrite rule, applied in declaration
// order by internal/forward.
type HeaderRewrite struct {
	Name  string
	Value string // empty for Remove
	Mode  HeaderRewriteMode
}

// AuthConfig configures forward-auth for a cluster. A nil *AuthConfig means
// the cluster has no forward-auth requirement.
type AuthConfig struct {
	AuthURL         string
	Signin          string // template with $host, $scheme, $escaped_request_uri
	ResponseHeaders []string
	SkipPaths       []string
	CookieName      string // empty means no fast-path cookie check
}

// Cluster is a named set of endpoints sharing a load-balancing policy and
// request-shaping rules.
type Cluster struct {
	Name                  string
	LBPolicy              LBPolicy
	Endpoints             []Endpoint
	TimeoutMS             int32
	Retries               int32
	BackendProtocol       BackendProtocol
	RequestHeaderRewrites []HeaderRewrite
	TLSInsecureSkipVerify bool
	Auth                  *AuthConfig
}

// RouteEntry maps a host+path match to a cluster.
type RouteEntry struct {
	Host     string // ASCII-lowercased; empty = wildcard host
	Path     string
	PathType PathType
	Cluster  string
	Priority int32
}

// ServerTLSEntry is one SNI certificate/key bundle for the frontend TLS
// listener's certificate resolver.
type ServerTLSEntry struct {
	SNI     []string
	CertPEM []byte
	KeyPEM  []byte
}

// Snapshot is the decoded control-plane message for a single configuration
// version. Snapshot values are short-lived: each one is consumed to rebuild
// the route table and SNI map, then discarded.
type Snapshot struct {
	Version   int64
	Routes    []RouteEntry
	Clusters  []Cluster
	ServerTLS []ServerTLSEntry
}
