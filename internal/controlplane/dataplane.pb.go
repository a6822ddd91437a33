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

// Package controlplane is the Go binding for proto/dataplane.proto: the
// WatchRequest/Snapshot wire contract spoken between the control plane and
// internal/reconciler. The types below implement the legacy
// github.com/golang/protobuf Message interface (Reset/String/ProtoMessage)
// plus direct Marshal/Unmarshal methods, the same shape protoc-gen-go
// emitted before the APIv2 rewrite and the shape go-control-plane's older
// envoy/api/v2 packages still ship. They are hand-authored rather than
// protoc-generated because no protobuf compiler is available in this build
// environment — see DESIGN.md for the reasoning and tradeoffs.
package controlplane

import (
	"bytes"
	"fmt"

	"github.com/golang/protobuf/proto"
)

// WatchRequest is the single message the dataplane sends to open a Watch
// stream.
type WatchRequest struct {
	NodeId string `protobuf:"bytes,1,opt,name=node_id,json=nodeId,proto3"`
}

func (m *WatchRequest) Reset()         { *m = WatchRequest{} }
func (m *WatchRequest) String() string { return proto.CompactTextString(m) }
func (*WatchRequest) ProtoMessage()    {}

func (m *WatchRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.NodeId)
	return buf.Bytes(), nil
}

func (m *WatchRequest) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.NodeId = s
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Endpoint is a single upstream address:port pair.
type Endpoint struct {
	Address string `protobuf:"bytes,1,opt,name=address,proto3"`
	Port    int32  `protobuf:"varint,2,opt,name=port,proto3"`
}

func (m *Endpoint) Reset()         { *m = Endpoint{} }
func (m *Endpoint) String() string { return proto.CompactTextString(m) }
func (*Endpoint) ProtoMessage()    {}

func (m *Endpoint) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.Address)
	appendInt32(&buf, 2, m.Port)
	return buf.Bytes(), nil
}

func (m *Endpoint) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Address = s
		case 2:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.Port = int32(v)
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// HeaderRewrite is one request-header rewrite rule.
type HeaderRewrite struct {
	Name  string `protobuf:"bytes,1,opt,name=name,proto3"`
	Value string `protobuf:"bytes,2,opt,name=value,proto3"`
	Mode  string `protobuf:"bytes,3,opt,name=mode,proto3"`
}

func (m *HeaderRewrite) Reset()         { *m = HeaderRewrite{} }
func (m *HeaderRewrite) String() string { return proto.CompactTextString(m) }
func (*HeaderRewrite) ProtoMessage()    {}

func (m *HeaderRewrite) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.Name)
	appendString(&buf, 2, m.Value)
	appendString(&buf, 3, m.Mode)
	return buf.Bytes(), nil
}

func (m *HeaderRewrite) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			if m.Name, err = r.readString(); err != nil {
				return err
			}
		case 2:
			if m.Value, err = r.readString(); err != nil {
				return err
			}
		case 3:
			if m.Mode, err = r.readString(); err != nil {
				return err
			}
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// AuthConfig configures forward-auth for a Cluster.
type AuthConfig struct {
	AuthUrl         string   `protobuf:"bytes,1,opt,name=auth_url,json=authUrl,proto3"`
	Signin          string   `protobuf:"bytes,2,opt,name=signin,proto3"`
	ResponseHeaders []string `protobuf:"bytes,3,rep,name=response_headers,json=responseHeaders,proto3"`
	SkipPaths       []string `protobuf:"bytes,4,rep,name=skip_paths,json=skipPaths,proto3"`
	CookieName      string   `protobuf:"bytes,5,opt,name=cookie_name,json=cookieName,proto3"`
}

func (m *AuthConfig) Reset()         { *m = AuthConfig{} }
func (m *AuthConfig) String() string { return proto.CompactTextString(m) }
func (*AuthConfig) ProtoMessage()    {}

func (m *AuthConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.AuthUrl)
	appendString(&buf, 2, m.Signin)
	for _, h := range m.ResponseHeaders {
		appendString(&buf, 3, h)
	}
	for _, p := range m.SkipPaths {
		appendString(&buf, 4, p)
	}
	appendString(&buf, 5, m.CookieName)
	return buf.Bytes(), nil
}

func (m *AuthConfig) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			if m.AuthUrl, err = r.readString(); err != nil {
				return err
			}
		case 2:
			if m.Signin, err = r.readString(); err != nil {
				return err
			}
		case 3:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.ResponseHeaders = append(m.ResponseHeaders, s)
		case 4:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.SkipPaths = append(m.SkipPaths, s)
		case 5:
			if m.CookieName, err = r.readString(); err != nil {
				return err
			}
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cluster is a named set of endpoints sharing a load-balancing policy.
type Cluster struct {
	Name                  string           `protobuf:"bytes,1,opt,name=name,proto3"`
	LbPolicy              string           `protobuf:"bytes,2,opt,name=lb_policy,json=lbPolicy,proto3"`
	Endpoints             []*Endpoint      `protobuf:"bytes,3,rep,name=endpoints,proto3"`
	TimeoutMs             int32            `protobuf:"varint,4,opt,name=timeout_ms,json=timeoutMs,proto3"`
	Retries               int32            `protobuf:"varint,5,opt,name=retries,proto3"`
	BackendProtocol       string           `protobuf:"bytes,6,opt,name=backend_protocol,json=backendProtocol,proto3"`
	RequestHeaders        []*HeaderRewrite `protobuf:"bytes,7,rep,name=request_headers,json=requestHeaders,proto3"`
	TlsInsecureSkipVerify bool             `protobuf:"varint,8,opt,name=tls_insecure_skip_verify,json=tlsInsecureSkipVerify,proto3"`
	Auth                  *AuthConfig      `protobuf:"bytes,9,opt,name=auth,proto3"`
}

func (m *Cluster) Reset()         { *m = Cluster{} }
func (m *Cluster) String() string { return proto.CompactTextString(m) }
func (*Cluster) ProtoMessage()    {}

func (m *Cluster) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.Name)
	appendString(&buf, 2, m.LbPolicy)
	for _, e := range m.Endpoints {
		if err := appendMessage(&buf, 3, e); err != nil {
			return nil, err
		}
	}
	appendInt32(&buf, 4, m.TimeoutMs)
	appendInt32(&buf, 5, m.Retries)
	appendString(&buf, 6, m.BackendProtocol)
	for _, h := range m.RequestHeaders {
		if err := appendMessage(&buf, 7, h); err != nil {
			return nil, err
		}
	}
	appendBool(&buf, 8, m.TlsInsecureSkipVerify)
	if m.Auth != nil {
		if err := appendMessage(&buf, 9, m.Auth); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (m *Cluster) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			if m.Name, err = r.readString(); err != nil {
				return err
			}
		case 2:
			if m.LbPolicy, err = r.readString(); err != nil {
				return err
			}
		case 3:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			e := &Endpoint{}
			if err := e.Unmarshal(body); err != nil {
				return err
			}
			m.Endpoints = append(m.Endpoints, e)
		case 4:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.TimeoutMs = int32(v)
		case 5:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.Retries = int32(v)
		case 6:
			if m.BackendProtocol, err = r.readString(); err != nil {
				return err
			}
		case 7:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			h := &HeaderRewrite{}
			if err := h.Unmarshal(body); err != nil {
				return err
			}
			m.RequestHeaders = append(m.RequestHeaders, h)
		case 8:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.TlsInsecureSkipVerify = v != 0
		case 9:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			a := &AuthConfig{}
			if err := a.Unmarshal(body); err != nil {
				return err
			}
			m.Auth = a
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// RouteEntry maps a host+path match to a cluster name.
type RouteEntry struct {
	Host     string `protobuf:"bytes,1,opt,name=host,proto3"`
	Path     string `protobuf:"bytes,2,opt,name=path,proto3"`
	PathType string `protobuf:"bytes,3,opt,name=path_type,json=pathType,proto3"`
	Cluster  string `protobuf:"bytes,4,opt,name=cluster,proto3"`
	Priority int32  `protobuf:"varint,5,opt,name=priority,proto3"`
}

func (m *RouteEntry) Reset()         { *m = RouteEntry{} }
func (m *RouteEntry) String() string { return proto.CompactTextString(m) }
func (*RouteEntry) ProtoMessage()    {}

func (m *RouteEntry) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendString(&buf, 1, m.Host)
	appendString(&buf, 2, m.Path)
	appendString(&buf, 3, m.PathType)
	appendString(&buf, 4, m.Cluster)
	appendInt32(&buf, 5, m.Priority)
	return buf.Bytes(), nil
}

func (m *RouteEntry) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			if m.Host, err = r.readString(); err != nil {
				return err
			}
		case 2:
			if m.Path, err = r.readString(); err != nil {
				return err
			}
		case 3:
			if m.PathType, err = r.readString(); err != nil {
				return err
			}
		case 4:
			if m.Cluster, err = r.readString(); err != nil {
				return err
			}
		case 5:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.Priority = int32(v)
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// ServerTLSEntry is one SNI certificate/key bundle.
type ServerTLSEntry struct {
	Sni     []string `protobuf:"bytes,1,rep,name=sni,proto3"`
	CertPem []byte   `protobuf:"bytes,2,opt,name=cert_pem,json=certPem,proto3"`
	KeyPem  []byte   `protobuf:"bytes,3,opt,name=key_pem,json=keyPem,proto3"`
}

func (m *ServerTLSEntry) Reset()         { *m = ServerTLSEntry{} }
func (m *ServerTLSEntry) String() string { return proto.CompactTextString(m) }
func (*ServerTLSEntry) ProtoMessage()    {}

func (m *ServerTLSEntry) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range m.Sni {
		appendString(&buf, 1, s)
	}
	appendBytes(&buf, 2, m.CertPem)
	appendBytes(&buf, 3, m.KeyPem)
	return buf.Bytes(), nil
}

func (m *ServerTLSEntry) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Sni = append(m.Sni, s)
		case 2:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			m.CertPem = append([]byte(nil), body...)
		case 3:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			m.KeyPem = append([]byte(nil), body...)
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot is a versioned bundle of routes, clusters, and TLS material
// pushed by the control plane.
type Snapshot struct {
	Version   int64             `protobuf:"varint,1,opt,name=version,proto3"`
	Routes    []*RouteEntry     `protobuf:"bytes,2,rep,name=routes,proto3"`
	Clusters  []*Cluster        `protobuf:"bytes,3,rep,name=clusters,proto3"`
	ServerTls []*ServerTLSEntry `protobuf:"bytes,4,rep,name=server_tls,json=serverTls,proto3"`
}

func (m *Snapshot) Reset()         { *m = Snapshot{} }
func (m *Snapshot) String() string { return proto.CompactTextString(m) }
func (*Snapshot) ProtoMessage()    {}

func (m *Snapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	appendInt64(&buf, 1, m.Version)
	for _, r := range m.Routes {
		if err := appendMessage(&buf, 2, r); err != nil {
			return nil, err
		}
	}
	for _, c := range m.Clusters {
		if err := appendMessage(&buf, 3, c); err != nil {
			return nil, err
		}
	}
	for _, s := range m.ServerTls {
		if err := appendMessage(&buf, 4, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (m *Snapshot) Unmarshal(b []byte) error {
	r := newWireReader(b)
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return err
			}
			m.Version = int64(v)
		case 2:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			route := &RouteEntry{}
			if err := route.Unmarshal(body); err != nil {
				return err
			}
			m.Routes = append(m.Routes, route)
		case 3:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			c := &Cluster{}
			if err := c.Unmarshal(body); err != nil {
				return err
			}
			m.Clusters = append(m.Clusters, c)
		case 4:
			body, err := r.readBytes()
			if err != nil {
				return err
			}
			s := &ServerTLSEntry{}
			if err := s.Unmarshal(body); err != nil {
				return err
			}
			m.ServerTls = append(m.ServerTls, s)
		default:
			if err := r.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ fmt.Stringer = (*Snapshot)(nil)
