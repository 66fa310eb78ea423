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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckRollbackDefaultNeverReportsRollback(t *testing.T) {
	rolledBack, err := checkRollback(NoRollbackProtection, "vbmeta", 7)
	require.NoError(t, err)
	require.False(t, rolledBack)
}

func TestCheckRollbackPropagatesHookResult(t *testing.T) {
	hook := func(partitionName string, rollbackIndex uint64) bool {
		return partitionName == "vbmeta" && rollbackIndex < 5
	}

	rolledBack, err := checkRollback(hook, "vbmeta", 1)
	require.NoError(t, err)
	require.True(t, rolledBack)

	rolledBack, err = checkRollback(hook, "vbmeta", 9)
	require.NoError(t, err)
	require.False(t, rolledBack)
}

func TestCheckRollbackSerializesConcurrentCallers(t *testing.T) {
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	hook := func(string, uint64) bool {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		inFlight.Add(-1)
		return false
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := checkRollback(hook, "vbmeta", 1)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInFlight.Load())
}
