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

// Package avb loads, byte-swaps and cryptographically verifies VBMeta
// blobs, walks the chain-of-trust between partitions, and extracts
// hashtree descriptors for the device-mapper programmer in
// internal/devicemapper. It never touches the kernel device-mapper
// interface itself; that boundary lives one package over.
package avb

import "github.com/opencontainers/go-digest"

// AVBFooterSize is the fixed size of the footer trailer read from the
// tail of every non-vbmeta partition.
const AVBFooterSize = 64

// MaxVBMetaSize is the implementation-defined ceiling on any VBMetaData's
// size, enforced both for the root vbmeta partition (which is read
// speculatively at this size) and for every chained partition (whose
// footer-declared size must also fall within it).
const MaxVBMetaSize = 64 * 1024

// VBMetaData is an owned, immutable buffer of bytes read from a
// partition, together with the partition name it came from and its
// authoritative size after header inspection. Once appended to an
// Accumulator it is never mutated again.
type VBMetaData struct {
	partition string
	data      []byte
	size      int
}

// NewVBMetaData wraps data as belonging to partition. size is len(data);
// the chain walker trims data to the header's TotalSize before wrapping
// it, so size is the header's authoritative extent.
func NewVBMetaData(partition string, data []byte) *VBMetaData {
	return &VBMetaData{partition: partition, data: data, size: len(data)}
}

// Partition is the AVB-level partition name this blob was read from.
func (v *VBMetaData) Partition() string { return v.partition }

// Data is the full owned buffer. Callers past the header/descriptor
// readers should treat this as read-only.
func (v *VBMetaData) Data() []byte { return v.data }

// Size is len(Data()) as passed to NewVBMetaData.
func (v *VBMetaData) Size() int { return v.size }

// VerifyResult is the outcome of verifying one VBMeta node, or of
// merging the outcomes of a subtree.
type VerifyResult int

const (
	// ResultUnknown is the zero value; never returned deliberately.
	ResultUnknown VerifyResult = iota
	// ResultSuccess: signature and hash checked out.
	ResultSuccess
	// ResultErrorVerification: cryptographic mismatch or unsigned blob.
	// Recoverable by the caller when allowed.
	ResultErrorVerification
	// ResultError: structural failure. Never recoverable.
	ResultError
)

func (r VerifyResult) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultErrorVerification:
		return "ErrorVerification"
	case ResultError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ChainInfo is a delegation handed from a VBMeta's chain-partition
// descriptor to the recursive call that verifies the delegate.
type ChainInfo struct {
	PartitionName   string
	PublicKeyBlob   []byte
	RollbackIndexLoc uint32
}

// HashtreeDescriptor is the dm-verity-relevant subset of a verified
// AvbHashtreeDescriptor, with its trailing salt/digest decoded to hex
// digests.
type HashtreeDescriptor struct {
	PartitionName   string
	ImageSize       uint64
	DataBlockSize   uint32
	HashBlockSize   uint32
	TreeOffset      uint64
	FECSize         uint64
	FECOffset       uint64
	FECNumRoots     uint32
	DMVerityVersion uint32
	HashAlgorithm   string
	Salt            digest.Digest
	RootDigest      digest.Digest
}

// DevicePathConstructor maps a device-partition name (already through the
// A/B suffix policy) to a filesystem path. It is a capability supplied by
// the caller, never a hardcoded layout assumption.
type DevicePathConstructor func(devicePartitionName string) string

// BootConfigReader reads a single boot-time configuration key. The only
// key the core consumes is "veritymode" (internal/devicemapper), but the
// signature is kept generic to match the external get_boot_config(key,
// out) collaborator described in the design.
type BootConfigReader func(key string) (value string, ok bool)

// RollbackHook reports whether partitionName's on-disk rollback_index has
// been superseded by a higher index already committed to tamper-evident
// storage. The default hook always answers false: rollback-index
// persistence is out of scope for the core (see Non-goals) and is an
// intentional extension point for the platform.
type RollbackHook func(partitionName string, rollbackIndex uint64) bool

// NoRollbackProtection is the default RollbackHook: it never reports a
// rollback.
func NoRollbackProtection(string, uint64) bool { return false }

// DigestCache is a narrow, optional extension point keyed by partition
// name. Options carries one, but LoadAndVerifyVbmeta never consults it:
// every call reads the footer and header from the device.
type DigestCache interface {
	Get(partitionName string) (digest.Digest, bool)
	Put(partitionName string, d digest.Digest)
}

// noopDigestCache is the default DigestCache: every lookup misses.
type noopDigestCache struct{}

func (noopDigestCache) Get(string) (digest.Digest, bool) { return "", false }
func (noopDigestCache) Put(string, digest.Digest)        {}

// NoDigestCache is the default, no-op DigestCache.
var NoDigestCache DigestCache = noopDigestCache{}
