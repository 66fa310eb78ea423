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

import "github.com/openavb/avbverify/internal/singleton"

// checkRollback consults hook under the rollback-hook singleton lock, so
// a platform-provided hook backed by shared tamper-evident storage never
// races with a concurrent caller of LoadAndVerifyVbmeta.
func checkRollback(hook RollbackHook, partitionName string, rollbackIndex uint64) (rolledBack bool, err error) {
	err = singleton.WithRollbackHook(func() error {
		rolledBack = hook(partitionName, rollbackIndex)
		return nil
	})
	return rolledBack, err
}
