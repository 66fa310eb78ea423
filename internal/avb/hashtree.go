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

import "github.com/openavb/avbverify/internal/errdefs"

// ParsedVBMeta is one node already walked by LoadAndVerifyVbmeta: its raw
// bytes plus the header parsed out of them. The chain walker accumulates
// one of these per vbmeta struct it loads, in load order, and hands the
// slice to GetHashtreeDescriptor once the whole chain has been verified.
type ParsedVBMeta struct {
	VBMeta *VBMetaData
	Header *Header
}

func (p *ParsedVBMeta) descriptorBlock() []byte {
	auxStart := int(headerSize) + int(p.Header.AuthenticationDataBlockSize)
	descStart := auxStart + int(p.Header.DescriptorsOffset)
	descEnd := descStart + int(p.Header.DescriptorsSize)
	data := p.VBMeta.Data()
	if descStart < 0 || descEnd > len(data) || descStart > descEnd {
		return nil
	}
	return data[descStart:descEnd]
}

// GetHashtreeDescriptor scans images in order, the same order they were
// loaded in (root vbmeta first, then chained/footer vbmeta structs in
// descriptor order), and returns the first hashtree descriptor whose
// partition name is an exact match for partitionName.
//
// Matching the first hit rather than requiring uniqueness mirrors the
// reference behavior: a platform is free to describe the same partition
// from more than one vbmeta struct, and the first one found wins.
func GetHashtreeDescriptor(partitionName string, images []*ParsedVBMeta) (*HashtreeDescriptor, error) {
	for _, img := range images {
		block := img.descriptorBlock()
		if block == nil {
			continue
		}

		var found *HashtreeDescriptor
		err := EnumerateDescriptors(block, func(tag uint64, payload []byte) error {
			if found != nil || tag != tagHashtree {
				return nil
			}
			// A descriptor that fails to parse is skipped rather than
			// treated as fatal here: lookup is a best-effort scan over
			// already-signature-verified data, not the chain walk
			// itself, and one bad hashtree descriptor shouldn't hide a
			// good one later in the same vbmeta struct.
			d, err := parseHashtreeDescriptor(payload)
			if err != nil {
				return nil
			}
			if d.PartitionName == partitionName {
				found = d
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, errdefs.Structuralf(nil, "no hashtree descriptor found for partition %q", partitionName)
}
