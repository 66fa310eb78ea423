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

package avb

import (
	"os"
	"strings"
)

// androidbootPrefix is prepended to every key CmdlineBootConfigReader
// looks for, matching the "androidboot.<key>=<value>" convention the
// kernel command line and /proc/bootconfig both use to carry bootloader
// parameters through to userspace.
const androidbootPrefix = "androidboot."

// CmdlineBootConfigReader reads key from the kernel command line
// (/proc/cmdline) and, if not found there, from the newer bootconfig
// file (/proc/bootconfig). Both paths are read fresh on every call: boot
// configuration is read exactly once per boot in practice, so caching
// would be premature.
func CmdlineBootConfigReader(key string) (string, bool) {
	if v, ok := lookupInFile("/proc/cmdline", " ", key); ok {
		return v, ok
	}
	return lookupInFile("/proc/bootconfig", "\n", key)
}

func lookupInFile(path, sep, key string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	wantKey := androidbootPrefix + key
	for _, tok := range strings.Split(string(data), sep) {
		tok = strings.TrimSpace(tok)
		name, value, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == wantKey {
			return strings.Trim(strings.TrimSpace(value), `"`), true
		}
	}
	return "", false
}
