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

// Package singleton serializes access to the host-provided, process-wide
// resources the validator touches: the device-mapper control path and the
// rollback-index hook. Neither is safe to drive concurrently, but a single
// validation pass is itself single-threaded (see the design notes on
// scheduling); this only matters if a host ever runs more than one pass in
// parallel, e.g. validating two root partitions concurrently during boot.
package singleton

import "github.com/moby/locker"

// locks names two well-known resources with a shared named-mutex locker,
// the same primitive the teacher reaches for whenever a set of named
// objects each need their own serialization without allocating N mutexes
// up front.
var locks = locker.New()

const (
	deviceMapperKey = "devicemapper"
	rollbackHookKey = "rollback-hook"
)

// WithDeviceMapper runs fn while holding the device-mapper singleton lock.
func WithDeviceMapper(fn func() error) error {
	locks.Lock(deviceMapperKey)
	defer locks.Unlock(deviceMapperKey)
	return fn()
}

// WithRollbackHook runs fn while holding the rollback-hook singleton lock.
func WithRollbackHook(fn func() error) error {
	locks.Lock(rollbackHookKey)
	defer locks.Unlock(rollbackHookKey)
	return fn()
}
