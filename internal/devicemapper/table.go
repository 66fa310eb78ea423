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
	"fmt"
	"strings"

	"github.com/openavb/avbverify/internal/errdefs"
)

// CorruptionBehavior selects what the verity target does when it finds a
// block that doesn't match its hashtree, translated from the
// "androidboot.veritymode" boot parameter.
type CorruptionBehavior int

const (
	// CorruptionDefault adds no corruption-behavior optional argument at
	// all, leaving the kernel's own default (return -EIO on a corrupt
	// read). This is what "androidboot.veritymode=eio" maps to.
	CorruptionDefault CorruptionBehavior = iota
	// CorruptionRestart reboots the device.
	CorruptionRestart
	// CorruptionIgnore logs the mismatch and returns the corrupt data
	// anyway.
	CorruptionIgnore
	// CorruptionPanic crashes the kernel outright ("panic_on_corruption"),
	// for platforms whose threat model prefers a hard stop over a reboot
	// loop.
	CorruptionPanic
)

// TableParams is everything needed to build a dm-verity target table
// line, gathered from a HashtreeDescriptor plus the block devices it
// describes.
type TableParams struct {
	DataDevice string
	HashDevice string

	// Version is the dm-verity target version, carried verbatim from the
	// hashtree descriptor's dm_verity_version rather than assumed.
	Version uint32

	DataBlockSize uint32
	HashBlockSize uint32

	// NumDataBlocks is image_size / DataBlockSize: how much of
	// DataDevice the tree covers.
	NumDataBlocks uint64
	// HashStartBlock is tree_offset / HashBlockSize: where the hashtree
	// begins on HashDevice (often the same device as DataDevice, at an
	// offset past the data region).
	HashStartBlock uint64

	Algorithm  string
	RootDigest string // hex
	Salt       string // hex

	FECDevice   string
	FECNumRoots uint32
	// FECOffsetBytes is the raw byte offset of the FEC data on FECDevice,
	// exactly as carried in the hashtree descriptor.
	FECOffsetBytes uint64

	IgnoreZeroBlocks  bool
	CorruptionBehavior CorruptionBehavior
}

// Build renders p into dm-verity's target parameter string: the part of a
// table line that follows "<start> <length> verity". The sector range and
// the target name are not part of the returned string.
//
// The optional FEC arguments reproduce a real upstream quirk rather than
// fixing it: fec_blocks and fec_start are both set to
// FECOffsetBytes/DataBlockSize. The correct value for fec_blocks is the
// number of blocks covered by the hashtree (data blocks plus hash
// blocks), not the FEC region's own start block, but that is what every
// device shipping this code path has always programmed, and a validator
// that silently "fixed" it would build a table the kernel parses
// differently than the one the platform actually relies on.
func (p TableParams) Build() (string, error) {
	if p.DataDevice == "" || p.HashDevice == "" {
		return "", errdefs.Structuralf(nil, "verity table requires both a data and a hash device")
	}
	if p.Algorithm == "" || p.RootDigest == "" {
		return "", errdefs.Structuralf(nil, "verity table requires a hash algorithm and root digest")
	}

	fields := []string{
		fmt.Sprintf("%d", p.Version),
		p.DataDevice,
		p.HashDevice,
		fmt.Sprintf("%d", p.DataBlockSize),
		fmt.Sprintf("%d", p.HashBlockSize),
		fmt.Sprintf("%d", p.NumDataBlocks),
		fmt.Sprintf("%d", p.HashStartBlock),
		p.Algorithm,
		p.RootDigest,
		p.Salt,
	}

	var optArgs []string
	if p.IgnoreZeroBlocks {
		optArgs = append(optArgs, "ignore_zero_blocks")
	}
	switch p.CorruptionBehavior {
	case CorruptionIgnore:
		optArgs = append(optArgs, "ignore_corruption")
	case CorruptionPanic:
		optArgs = append(optArgs, "panic_on_corruption")
	case CorruptionRestart:
		optArgs = append(optArgs, "restart_on_corruption")
	case CorruptionDefault:
		// No optional argument: the target falls back to its own
		// kernel-default behavior.
	}
	if p.FECDevice != "" {
		fecBlocks := p.FECOffsetBytes / uint64(p.DataBlockSize)
		fecStart := p.FECOffsetBytes / uint64(p.DataBlockSize)
		optArgs = append(optArgs,
			"use_fec_from_device", p.FECDevice,
			"fec_roots", fmt.Sprintf("%d", p.FECNumRoots),
			"fec_blocks", fmt.Sprintf("%d", fecBlocks),
			"fec_start", fmt.Sprintf("%d", fecStart),
		)
	}

	if len(optArgs) > 0 {
		fields = append(fields, fmt.Sprintf("%d", len(optArgs)))
		fields = append(fields, optArgs...)
	}

	return strings.Join(fields, " "), nil
}
