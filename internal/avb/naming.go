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

import "strings"

const otherSuffix = "_other"

// PartitionToDevicePartition maps an AVB partition name to the name of
// the physical device partition backing it, applying the A/B slot
// suffix policy: a name ending in "_other" refers to the inactive slot
// (strip "_other", append abOtherSuffix); every other name refers to the
// active slot (append abSuffix). Both suffixes are "" on a non-A/B
// device, making this the identity function.
func PartitionToDevicePartition(partitionName, abSuffix, abOtherSuffix string) string {
	if strings.HasSuffix(partitionName, otherSuffix) {
		base := strings.TrimSuffix(partitionName, otherSuffix)
		return base + abOtherSuffix
	}
	return partitionName + abSuffix
}

// IsVBMetaPartition reports whether name refers to a vbmeta struct
// partition (one carrying a whole VBMeta image) as opposed to a data
// partition with a trailing footer, per the "vbmeta" prefix rule used to
// size the speculative read in LoadAndVerifyVbmeta.
func IsVBMetaPartition(name string) bool {
	return strings.HasPrefix(name, "vbmeta")
}
