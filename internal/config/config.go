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

// Package config parses the dataplane's environment-variable configuration
// surface into a typed, validated Config, the same role contour's
// pkg/config plays for its YAML configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config is the fully-resolved process configuration, built once in main
// before any goroutine starts.
type Config struct {
	HTTPPort  int
	HTTPSPort int
	AdminPort int

	ControllerAddr string
	NodeID         string

	CountThreads int

	CertsDir string
}

const (
	defaultHTTPPort  = 8080
	defaultHTTPSPort = 8443
	defaultAdminPort = 8181

	defaultControllerAddr = "https://127.0.0.1:18000"
	defaultNodeID         = "dp-axum"

	defaultCertsDir = "/certs"
)

// FromEnv reads the dataplane's environment variables, applying the
// documented defaults.
func FromEnv() (Config, error) {
	httpPort, err := envInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return Config{}, err
	}
	httpsPort, err := envInt("HTTPS_PORT", defaultHTTPSPort)
	if err != nil {
		return Config{}, err
	}
	adminPort, err := envInt("ADMIN_PORT", defaultAdminPort)
	if err != nil {
		return Config{}, err
	}
	countThreads, err := envInt("COUNT_THREADS", runtime.GOMAXPROCS(0))
	if err != nil {
		return Config{}, err
	}
	if countThreads < 1 {
		countThreads = 1
	}

	return Config{
		HTTPPort:       httpPort,
		HTTPSPort:      httpsPort,
		AdminPort:      adminPort,
		ControllerAddr: envString("CONTROLLER_ADDR", defaultControllerAddr),
		NodeID:         envString("NODE_ID", defaultNodeID),
		CountThreads:   countThreads,
		CertsDir:       envString("CERTS_DIR", defaultCertsDir),
	}, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}
