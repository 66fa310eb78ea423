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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFooterRoundTrip(t *testing.T) {
	f := &Footer{
		VersionMajor:      1,
		VersionMinor:      0,
		OriginalImageSize: 4 * 1024 * 1024,
		VBMetaOffset:      4*1024*1024 - AVBFooterSize - 4096,
		VBMetaSize:        4096,
	}

	partition := make([]byte, 4*1024*1024)
	copy(partition[len(partition)-AVBFooterSize:], encodeFooter(f))

	got, err := ReadFooter(bytes.NewReader(partition), int64(len(partition)))
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestReadFooterRejectsBadMagic(t *testing.T) {
	partition := make([]byte, 4096)
	_, err := ReadFooter(bytes.NewReader(partition), int64(len(partition)))
	require.Error(t, err)
}

func TestReadFooterRejectsTooSmall(t *testing.T) {
	_, err := ReadFooter(bytes.NewReader(make([]byte, 8)), 8)
	require.Error(t, err)
}
