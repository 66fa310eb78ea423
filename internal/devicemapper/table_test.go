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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableParamsBuildBasic(t *testing.T) {
	table, err := TableParams{
		DataDevice:     "/dev/block/system",
		HashDevice:     "/dev/block/system",
		Version:        1,
		DataBlockSize:  4096,
		HashBlockSize:  4096,
		NumDataBlocks:  1000,
		HashStartBlock: 1000,
		Algorithm:      "sha256",
		RootDigest:     strings.Repeat("ab", 32),
		Salt:           strings.Repeat("cd", 16),
	}.Build()
	require.NoError(t, err)
	require.Equal(t, "1 /dev/block/system /dev/block/system 4096 4096 1000 1000 sha256 "+
		strings.Repeat("ab", 32)+" "+strings.Repeat("cd", 16), table)
}

func TestTableParamsBuildWithOptions(t *testing.T) {
	table, err := TableParams{
		DataDevice:         "/dev/block/system",
		HashDevice:         "/dev/block/system",
		Version:            1,
		DataBlockSize:      4096,
		HashBlockSize:      4096,
		NumDataBlocks:      1000,
		HashStartBlock:     1000,
		Algorithm:          "sha256",
		RootDigest:         "deadbeef",
		Salt:               "cafef00d",
		IgnoreZeroBlocks:   true,
		CorruptionBehavior: CorruptionRestart,
		FECDevice:          "/dev/block/system",
		FECNumRoots:        2,
		FECOffsetBytes:     4096000,
	}.Build()
	require.NoError(t, err)
	require.Contains(t, table, "ignore_zero_blocks")
	require.Contains(t, table, "restart_on_corruption")
	require.Contains(t, table, "use_fec_from_device /dev/block/system")
	require.Contains(t, table, "fec_roots 2")

	// The FEC bug: fec_blocks and fec_start both come out to the same
	// value, FECOffsetBytes/DataBlockSize.
	want := "fec_blocks 1000 fec_start 1000"
	require.Contains(t, table, want)
}

func TestTableParamsBuildDefaultCorruptionAddsNoArg(t *testing.T) {
	table, err := TableParams{
		DataDevice:     "/dev/block/system",
		HashDevice:     "/dev/block/system",
		DataBlockSize:  4096,
		HashBlockSize:  4096,
		NumDataBlocks:  1000,
		HashStartBlock: 1000,
		Algorithm:      "sha256",
		RootDigest:     "deadbeef",
		Salt:           "cafef00d",
	}.Build()
	require.NoError(t, err)
	require.NotContains(t, table, "restart_on_corruption")
	require.NotContains(t, table, "ignore_corruption")
}

func TestTableParamsBuildUsesDescriptorVersion(t *testing.T) {
	table, err := TableParams{
		DataDevice:     "/dev/block/system",
		HashDevice:     "/dev/block/system",
		Version:        2,
		DataBlockSize:  4096,
		HashBlockSize:  4096,
		NumDataBlocks:  1000,
		HashStartBlock: 1000,
		Algorithm:      "sha256",
		RootDigest:     "deadbeef",
		Salt:           "cafef00d",
	}.Build()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(table, "2 "), "table should lead with the descriptor's own version, got %q", table)
}

func TestTableParamsBuildRejectsMissingDevice(t *testing.T) {
	_, err := TableParams{}.Build()
	require.Error(t, err)
}

func TestCorruptionBehaviorFromVerityMode(t *testing.T) {
	cases := map[string]CorruptionBehavior{
		"":          CorruptionRestart,
		"eio":       CorruptionDefault,
		"enforcing": CorruptionRestart,
		"logging":   CorruptionIgnore,
		"panic":     CorruptionPanic,
	}
	for mode, want := range cases {
		got, err := CorruptionBehaviorFromVerityMode(mode)
		require.NoError(t, err, mode)
		require.Equal(t, want, got, mode)
	}

	_, err := CorruptionBehaviorFromVerityMode("bogus")
	require.Error(t, err)
}
