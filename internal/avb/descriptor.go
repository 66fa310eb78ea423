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
	"encoding/binary"
	"encoding/hex"

	"github.com/opencontainers/go-digest"

	"github.com/openavb/avbverify/internal/errdefs"
)

// Descriptor tags, matching the AVB wire format. Only the two tags this
// validator consumes have named constants; anything else is skipped
// during enumeration.
const (
	tagHashtree       = 1
	tagChainPartition = 4
)

// descriptorHeader is the common 16-byte prefix of every descriptor:
// enough to find the next one without understanding this one's payload.
type descriptorHeader struct {
	Tag               uint64
	NumBytesFollowing uint64
}

const descriptorHeaderSize = 16

// EnumerateDescriptors walks data, which must already be the descriptor
// block (header.DescriptorsSize bytes starting at
// header.DescriptorsOffset inside the auxiliary data block), invoking
// visit once per descriptor. NumBytesFollowing is padded to a
// multiple of 8 on the wire; EnumerateDescriptors honors that padding
// when advancing but passes visit only the declared payload.
func EnumerateDescriptors(data []byte, visit func(tag uint64, payload []byte) error) error {
	for len(data) > 0 {
		if len(data) < descriptorHeaderSize {
			return errdefs.Structural(nil, "truncated descriptor header")
		}
		var hdr descriptorHeader
		if err := binary.Read(bytes.NewReader(data[:descriptorHeaderSize]), binary.BigEndian, &hdr); err != nil {
			return errdefs.Structural(err, "failed to decode descriptor header")
		}

		total := descriptorHeaderSize + int(hdr.NumBytesFollowing)
		if total < 0 || total > len(data) {
			return errdefs.Structural(nil, "descriptor overruns descriptor block")
		}
		padded := (total + 7) &^ 7
		if padded > len(data) {
			padded = total
		}

		if err := visit(hdr.Tag, data[descriptorHeaderSize:total]); err != nil {
			return err
		}
		data = data[padded:]
	}
	return nil
}

// rawHashtreeDescriptor is the fixed-size portion of an
// AvbHashtreeDescriptor, following its 16-byte common header. It is
// itself followed by partition_name, salt and root_digest, back to back
// with no padding between them.
type rawHashtreeDescriptor struct {
	DmVerityVersion  uint32
	ImageSize        uint64
	TreeOffset       uint64
	DataBlockSize    uint32
	HashBlockSize    uint32
	FECNumRoots      uint32
	FECSize          uint64
	FECOffset        uint64
	HashAlgorithm    [32]byte
	PartitionNameLen uint32
	SaltLen          uint32
	RootDigestLen    uint32
	Flags            uint32
	Reserved         [60]byte
}

// parseHashtreeDescriptor validates and byte-swaps the payload of a
// tagHashtree descriptor (everything after the 16-byte common header).
func parseHashtreeDescriptor(payload []byte) (*HashtreeDescriptor, error) {
	const fixedSize = 4 + 8 + 8 + 4 + 4 + 4 + 8 + 8 + 32 + 4 + 4 + 4 + 4 + 60
	if len(payload) < fixedSize {
		return nil, errdefs.Structural(nil, "truncated hashtree descriptor")
	}

	var raw rawHashtreeDescriptor
	if err := binary.Read(bytes.NewReader(payload[:fixedSize]), binary.BigEndian, &raw); err != nil {
		return nil, errdefs.Structural(err, "failed to decode hashtree descriptor")
	}

	rest := payload[fixedSize:]
	nameLen := int(raw.PartitionNameLen)
	saltLen := int(raw.SaltLen)
	digestLen := int(raw.RootDigestLen)
	if nameLen < 0 || saltLen < 0 || digestLen < 0 || nameLen+saltLen+digestLen > len(rest) {
		return nil, errdefs.Structural(nil, "hashtree descriptor variable-length fields overrun payload")
	}

	name := string(rest[:nameLen])
	rest = rest[nameLen:]
	salt := rest[:saltLen]
	rest = rest[saltLen:]
	rootDigest := rest[:digestLen]

	algo := cstring(raw.HashAlgorithm[:])

	return &HashtreeDescriptor{
		PartitionName:   name,
		ImageSize:       raw.ImageSize,
		DataBlockSize:   raw.DataBlockSize,
		HashBlockSize:   raw.HashBlockSize,
		TreeOffset:      raw.TreeOffset,
		FECSize:         raw.FECSize,
		FECOffset:       raw.FECOffset,
		FECNumRoots:     raw.FECNumRoots,
		DMVerityVersion: raw.DmVerityVersion,
		HashAlgorithm:   algo,
		Salt:            digest.NewDigestFromEncoded(hashAlgoToDigestAlgorithm(algo), hex.EncodeToString(salt)),
		RootDigest:      digest.NewDigestFromEncoded(hashAlgoToDigestAlgorithm(algo), hex.EncodeToString(rootDigest)),
	}, nil
}

func hashAlgoToDigestAlgorithm(name string) digest.Algorithm {
	switch name {
	case "sha256":
		return digest.SHA256
	case "sha512":
		return digest.SHA512
	default:
		return digest.SHA256
	}
}

// rawChainPartitionDescriptor is the fixed-size portion of an
// AvbChainPartitionDescriptor, following its 16-byte common header and
// itself followed by partition_name and public_key.
type rawChainPartitionDescriptor struct {
	RollbackIndexLocation uint32
	PartitionNameLen      uint32
	PublicKeyLen          uint32
	Reserved              [64]byte
}

func parseChainPartitionDescriptor(payload []byte) (*ChainInfo, error) {
	const fixedSize = 4 + 4 + 4 + 64
	if len(payload) < fixedSize {
		return nil, errdefs.Structural(nil, "truncated chain partition descriptor")
	}

	var raw rawChainPartitionDescriptor
	if err := binary.Read(bytes.NewReader(payload[:fixedSize]), binary.BigEndian, &raw); err != nil {
		return nil, errdefs.Structural(err, "failed to decode chain partition descriptor")
	}

	rest := payload[fixedSize:]
	nameLen := int(raw.PartitionNameLen)
	keyLen := int(raw.PublicKeyLen)
	if nameLen < 0 || keyLen < 0 || nameLen+keyLen > len(rest) {
		return nil, errdefs.Structural(nil, "chain partition descriptor variable-length fields overrun payload")
	}

	name := string(rest[:nameLen])
	pubKey := append([]byte(nil), rest[nameLen:nameLen+keyLen]...)

	return &ChainInfo{
		PartitionName:    name,
		PublicKeyBlob:    pubKey,
		RollbackIndexLoc: raw.RollbackIndexLocation,
	}, nil
}
