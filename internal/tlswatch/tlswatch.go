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

// Package tlswatch polls the control-plane mTLS identity files on disk:
// a 2-second ticker, not an inotify watch, so identity rotation is picked
// up uniformly regardless of what the underlying filesystem can offer.
package tlswatch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/glideproxy/dataplane/internal/state"
)

const pollInterval = 2 * time.Second

const (
	caFile   = "ca.crt"
	certFile = "tls.crt"
	keyFile  = "tls.key"
)

// Watcher polls CertsDir for ca.crt/tls.crt/tls.key and publishes byte
// changes into state.Shared.
type Watcher struct {
	CertsDir string
	State    *state.Shared
	Log      logrus.FieldLogger
}

func (w *Watcher) log() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}

// Run polls every 2 seconds until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	w.pollOnce()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	w.pollOne(caFile, w.State.SetCAPEM)
	w.pollOne(certFile, w.State.SetClientCertPEM)
	w.pollOne(keyFile, w.State.SetClientKeyPEM)
}

func (w *Watcher) pollOne(name string, set func([]byte)) {
	path := filepath.Join(w.CertsDir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		w.log().WithError(err).WithField("file", path).Debug("tlswatch: read failed, skipping")
		return
	}
	if len(b) == 0 {
		w.log().WithField("file", path).Debug("tlswatch: file empty, skipping")
		return
	}
	set(b)
}
