/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package pathwait waits for a filesystem path to be created by some other
// process (init, udev, the kernel device-mapper driver) within a bounded
// time, without busy-polling.
package pathwait

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// For waits up to timeout for path to appear on disk. It watches path's
// parent directory with fsnotify rather than polling stat() in a loop; if
// the watch can't be established (missing parent directory, platform
// without inotify) it falls back to a short stat poll so a slow-starting
// parent directory doesn't make the wait fail outright.
func For(path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	deadline := time.Now().Add(timeout)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollFor(path, deadline)
	}
	defer watcher.Close()

	dir := parentDir(path)
	if err := watcher.Add(dir); err != nil {
		return pollFor(path, deadline)
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Errorf("timed out waiting for %s to appear", path)
		}

		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return pollFor(path, deadline)
			}
			if ev.Name == path {
				if _, err := os.Stat(path); err == nil {
					return nil
				}
			}
		case <-watcher.Errors:
			// Ignore and keep waiting until the deadline; a watcher
			// error doesn't mean the path will never appear.
		case <-time.After(remaining):
			if _, err := os.Stat(path); err == nil {
				return nil
			}
			return errors.Errorf("timed out waiting for %s to appear", path)
		}
	}
}

func pollFor(path string, deadline time.Time) error {
	const interval = 10 * time.Millisecond
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for %s to appear", path)
		}
		time.Sleep(interval)
	}
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
