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

package devicemapper

import (
	"context"
	"sync"
)

// FakeMapper is an in-memory DeviceMapper for tests: it never touches a
// real device-mapper control path, just records what it was asked to
// create so a test can assert on the table string that would have been
// programmed.
type FakeMapper struct {
	mu      sync.Mutex
	tables  map[string]string
	PathDir string
}

// NewFakeMapper returns a FakeMapper that serves device paths under dir
// (default "/dev/mapper" if dir is empty).
func NewFakeMapper(dir string) *FakeMapper {
	return &FakeMapper{tables: make(map[string]string), PathDir: dir}
}

func (f *FakeMapper) CreateDevice(_ context.Context, name, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = table
	return nil
}

func (f *FakeMapper) RemoveDevice(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[name]; !ok {
		return errNoDevice(name)
	}
	delete(f.tables, name)
	return nil
}

func (f *FakeMapper) DevicePath(name string) string {
	dir := f.PathDir
	if dir == "" {
		dir = "/dev/mapper"
	}
	return dir + "/" + name
}

// Table returns the table string a prior CreateDevice call recorded for
// name, for test assertions.
func (f *FakeMapper) Table(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[name]
	return t, ok
}
