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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/glideproxy/dataplane/internal/snapshot"
)

// authorize runs the forward-auth subrequest. It returns true if the request
// is authorized to continue to the upstream dispatch; otherwise it has
// already written the terminal response (redirect, 401, or 502) and the
// caller must return without further processing.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, auth *snapshot.AuthConfig, host string, isTLS bool, client *http.Client) bool {
	for _, prefix := range auth.SkipPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}

	scheme := "http"
	if isTLS {
		scheme = "https"
	}

	if auth.CookieName != "" && auth.Signin != "" && !hasCookie(r, auth.CookieName) {
		redirectToSignin(w, auth.Signin, host, scheme, r.URL.RequestURI())
		return false
	}

	if auth.AuthURL == "" {
		httpError(w, http.StatusBadGateway, "authorization url not found")
		return false
	}

	subReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, auth.AuthURL, nil)
	if err != nil {
		httpError(w, http.StatusBadGateway, "forward-auth request build failed")
		return false
	}
	if c := r.Header.Get("Cookie"); c != "" {
		subReq.Header.Set("Cookie", c)
	}
	if a := r.Header.Get("Authorization"); a != "" {
		subReq.Header.Set("Authorization", a)
	}
	subReq.Header.Set("X-Forwarded-Proto", scheme)
	subReq.Header.Set("X-Forwarded-Host", host)
	subReq.Header.Set("X-Forwarded-Uri", r.URL.RequestURI())
	subReq.Header.Set("X-Original-Uri", r.URL.RequestURI())
	subReq.Header.Set("X-Auth-Request-Redirect", renderSignin(auth.Signin, host, scheme, r.URL.RequestURI()))

	resp, err := client.Do(subReq)
	if err != nil {
		httpError(w, http.StatusBadGateway, "forward-auth subrequest failed: "+err.Error())
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		for _, name := range auth.ResponseHeaders {
			if v := resp.Header.Get(name); v != "" {
				r.Header.Set(name, v)
			}
		}
		return true
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if auth.Signin != "" {
			redirectToSignin(w, auth.Signin, host, scheme, r.URL.RequestURI())
		} else {
			httpError(w, http.StatusUnauthorized, "unauthorized")
		}
		return false
	default:
		httpError(w, http.StatusBadGateway, "forward-auth denied the request")
		return false
	}
}

func hasCookie(r *http.Request, name string) bool {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return true
		}
	}
	return false
}

func redirectToSignin(w http.ResponseWriter, signin, host, scheme, requestURI string) {
	target := renderSignin(signin, host, scheme, requestURI)
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

// renderSignin substitutes $host, $scheme, and $escaped_request_uri into a
// signin template, in that order, so a literal "$scheme" inside the escaped
// URI can never reintroduce a substitution.
func renderSignin(template, host, scheme, requestURI string) string {
	out := strings.ReplaceAll(template, "$host", host)
	out = strings.ReplaceAll(out, "$scheme", scheme)
	out = strings.ReplaceAll(out, "$escaped_request_uri", url.QueryEscape(requestURI))
	return out
}
