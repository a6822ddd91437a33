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
	"fmt"
	"net"
	"net/http"
	"strings"
)

// extractHost prefers the Host header,
// parsed as an authority (host component only, lowercased, trailing dot
// stripped); fall back to the request URI's host if the Host header is
// absent. Go's net/http moves the wire "Host:" header into Request.Host
// and strips it from the Header map, so Request.Host is the authority the
// client sent.
func extractHost(r *http.Request) (string, error) {
	authority := r.Host
	if authority == "" {
		authority = r.URL.Host
	}
	if authority == "" {
		return "", errMissingHost
	}

	host := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", errInvalidHost
	}
	return host, nil
}

var (
	errMissingHost = fmt.Errorf("missing host")
	errInvalidHost = fmt.Errorf("invalid host")
)
