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

// Package forward implements the request pipeline: match a
// route, pick an endpoint, optionally forward-authenticate, reshape the
// request for the upstream leg, dispatch with retries, and stream the
// response back. It is the http.Handler installed on both frontend
// listeners (internal/frontend).
package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/glideproxy/dataplane/internal/clientpool"
	"github.com/glideproxy/dataplane/internal/routetable"
	"github.com/glideproxy/dataplane/internal/snapshot"
	"github.com/glideproxy/dataplane/internal/state"
)

// hopHeaders are stripped from both the upstream request and the downstream
// response, per RFC 7230 §6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Proxy-Connection",
	"Keep-Alive",
}

// Handler is the forwarding handler. One Handler serves both listeners; the
// TLS flag is carried per-request via frontendTLSKey in the request context.
type Handler struct {
	State *state.Shared
	Pool  *clientpool.Pool
	Log   logrus.FieldLogger
}

type ctxKey int

const frontendTLSKey ctxKey = iota

// WithFrontendTLS returns a context recording whether the inbound leg used
// TLS. internal/frontend calls this for every request it serves, before
// handing the request to the Handler.
func WithFrontendTLS(ctx context.Context, isTLS bool) context.Context {
	return context.WithValue(ctx, frontendTLSKey, isTLS)
}

func frontendIsTLS(ctx context.Context) bool {
	v, _ := ctx.Value(frontendTLSKey).(bool)
	return v
}

func (h *Handler) log() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

// ServeHTTP runs the full forwarding pipeline: route match, endpoint
// selection, optional forward-auth, request reshaping, dispatch, and
// response streaming.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	isTLS := frontendIsTLS(r.Context())
	reqID := uuid.NewString()
	log := h.log().WithField("request_id", reqID)

	table := h.State.RouteTable()
	if table == nil {
		httpError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}

	host, err := extractHost(r)
	if err != nil {
		if err == errMissingHost {
			httpError(w, http.StatusBadRequest, "Missing Host")
		} else {
			httpError(w, http.StatusBadRequest, "Invalid Host header")
		}
		return
	}
	log = log.WithField("host", host)

	route, ok := table.ChooseRoute(host, r.URL.Path)
	if !ok {
		httpError(w, http.StatusNotFound, "route not found")
		return
	}

	cluster, ok := table.GetClusterRule(route.Cluster)
	if !ok {
		httpError(w, http.StatusNotFound, "cluster rules not found")
		return
	}

	selected, ok := table.GetEndpoint(route.Cluster)
	if !ok {
		httpError(w, http.StatusBadGateway, "endpoint not found")
		return
	}
	guard := routetable.NewActiveConnGuard(selected.Counter)
	defer guard.Release()

	client := h.clientFor(cluster)

	if cluster.Auth != nil {
		if !h.authorize(w, r, cluster.Auth, host, isTLS, client) {
			return
		}
	}

	upReq, err := h.buildUpstreamRequestWithLog(r, cluster, selected.Endpoint, host, isTLS, log)
	if err != nil {
		httpError(w, http.StatusBadGateway, fmt.Sprintf("request build failed: %v", err))
		return
	}

	resp, err := h.dispatch(r.Context(), client, upReq, cluster)
	if err != nil {
		log.WithError(err).Warn("forward: upstream dispatch failed")
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	copyResponse(w, resp)
}

// clientFor selects the shared client for a cluster's backend protocol and
// whether the cluster requires cleartext HTTP/2.
func (h *Handler) clientFor(c *routetable.ClusterRule) *http.Client {
	h2Cleartext := c.BackendProtocol == snapshot.ProtoH2
	return h.Pool.For(c.TLSInsecureSkipVerify, h2Cleartext)
}

func upstreamScheme(protocol snapshot.BackendProtocol) string {
	if protocol == snapshot.ProtoH1SSL || protocol == snapshot.ProtoH2SSL {
		return "https"
	}
	return "http"
}

// buildUpstreamRequestWithLog clones method,
// path, and body onto a request addressed at the selected endpoint, strip
// hop-by-hop headers, set forwarding headers, and apply configured header
// rewrites in order.
func (h *Handler) buildUpstreamRequestWithLog(r *http.Request, cluster *routetable.ClusterRule, ep snapshot.Endpoint, originalHost string, isTLS bool, log logrus.FieldLogger) (*http.Request, error) {
	scheme := upstreamScheme(cluster.BackendProtocol)
	authority := joinAuthority(ep.Address, ep.Port, scheme)

	pathAndQuery := r.URL.RequestURI()
	if pathAndQuery == "" {
		pathAndQuery = "/"
	}

	upstreamURL := &url.URL{Scheme: scheme, Host: authority, Opaque: ""}
	parsedPQ, err := url.Parse(pathAndQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid request URI: %w", err)
	}
	upstreamURL.Path = parsedPQ.Path
	upstreamURL.RawPath = parsedPQ.RawPath
	upstreamURL.RawQuery = parsedPQ.RawQuery
	if upstreamURL.Path == "" {
		upstreamURL.Path = "/"
	}

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	upReq.ContentLength = r.ContentLength
	upReq.Header = cloneHeader(r.Header)
	stripHopHeaders(upReq.Header)

	if cluster.BackendProtocol == snapshot.ProtoH2 || cluster.BackendProtocol == snapshot.ProtoH2SSL {
		upReq.ProtoMajor, upReq.ProtoMinor = 2, 0
	} else {
		upReq.ProtoMajor, upReq.ProtoMinor = 1, 1
	}

	upReq.Host = originalHost

	fwdProto := "http"
	if isTLS {
		fwdProto = "https"
	}
	upReq.Header.Set("X-Forwarded-Proto", fwdProto)
	if upReq.Header.Get("X-Forwarded-Host") == "" {
		upReq.Header.Set("X-Forwarded-Host", originalHost)
	}

	applyHeaderRewrites(upReq.Header, cluster.RequestHeaderRewrites, log)

	return upReq, nil
}

func joinAuthority(address string, port int32, scheme string) string {
	defaultPort := int32(80)
	if scheme == "https" {
		defaultPort = 443
	}
	if port == defaultPort {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(int(port)))
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func stripHopHeaders(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for _, tok := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// applyHeaderRewrites applies Set/Append/Remove rules in declaration order.
// Invalid values (containing CR or LF) are logged and skipped rather than
// aborting the request.
func applyHeaderRewrites(h http.Header, rules []snapshot.HeaderRewrite, log logrus.FieldLogger) {
	for _, rule := range rules {
		if rule.Mode != snapshot.HeaderRemove && containsCRLF(rule.Value) {
			log.WithFields(logrus.Fields{"header": rule.Name}).Warn("forward: skipping header rewrite with invalid value")
			continue
		}
		switch rule.Mode {
		case snapshot.HeaderSet:
			h.Set(rule.Name, rule.Value)
		case snapshot.HeaderAppend:
			h.Add(rule.Name, rule.Value)
		case snapshot.HeaderRemove:
			h.Del(rule.Name)
		default:
			log.WithFields(logrus.Fields{"header": rule.Name, "mode": rule.Mode}).Warn("forward: unknown header rewrite mode")
		}
	}
}

func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// dispatch attempts up to max(retries,1) tries,
// each under the cluster's per-attempt timeout, retried only while the
// request body is end-of-stream and the failure was a transport error or
// timeout (never a 5xx response).
func (h *Handler) dispatch(ctx context.Context, client *http.Client, upReq *http.Request, cluster *routetable.ClusterRule) (*http.Response, error) {
	attempts := int(cluster.Retries)
	if attempts < 1 {
		attempts = 1
	}
	bodyReusable := upReq.ContentLength == 0

	timeout := time.Duration(cluster.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		attemptReq := upReq
		if attempt > 0 {
			if !bodyReusable {
				break
			}
			cloned := upReq.Clone(ctx)
			cloned.Body = http.NoBody
			attemptReq = cloned
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		attemptReq = attemptReq.WithContext(attemptCtx)

		resp, err := client.Do(attemptReq)
		if err != nil {
			cancel()
			lastErr = err
			if !bodyReusable {
				break
			}
			continue
		}
		// The attempt's timeout must stay in force until the caller finishes
		// reading the response body, not just until headers arrive.
		resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("upstream request failed with no body remaining to retry")
	}
	return nil, fmt.Errorf("upstream dispatch failed: %w", lastErr)
}

// cancelOnClose releases an attempt's timeout context once the response
// body has been fully read and closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	stripHopHeaders(resp.Header)
	dst := w.Header()
	for k, v := range resp.Header {
		dst[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
