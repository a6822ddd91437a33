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

package reconciler

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// watchCertsDir watches the parent directory of the control-plane mTLS
// identity files defensively, in case the mount is replaced wholesale
// (directory recreate) rather than the individual files being rewritten in
// place. internal/tlswatch's 2-second poll is the authoritative change
// detector; this is a best-effort nudge that forces an
// earlier reconnect attempt by firing the same notifier the poll loop uses,
// the same defensive pattern as cmd/contour/filewatcher.go's
// initializeWatch.
func (r *Reconciler) watchCertsDir(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log().WithError(err).Warn("reconciler: unable to start defensive directory watch")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		r.log().WithError(err).WithField("dir", dir).Warn("reconciler: unable to watch certs directory")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.log().WithField("event", ev.String()).Info("reconciler: certs directory changed, nudging reconnect")
				notify(r.State.CAChanged)
				notify(r.State.ClientPairChanged)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log().WithError(err).Warn("reconciler: directory watch error")
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
