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

// Package bootvalidator is the top-level driver: it wires the avb and
// devicemapper packages together against a loaded Config and a caller's
// fstab entries. Everything it does, it does by calling into those two
// packages; it holds no cryptographic or binary-format logic of its own.
package bootvalidator

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/openavb/avbverify/internal/avb"
	"github.com/openavb/avbverify/internal/config"
	"github.com/openavb/avbverify/internal/devicemapper"
	"github.com/openavb/avbverify/internal/errdefs"
	"github.com/openavb/avbverify/internal/fstab"
	"github.com/openavb/avbverify/internal/log"
)

// Pass describes one run of the validator: which root partitions to
// load, which of their descendants have fstab entries that need
// dm-verity programming, and the policy and collaborators to use.
type Pass struct {
	Config *config.Config

	// DevicePath maps a device-partition name (already through the A/B
	// suffix policy) to a block device path. Required.
	DevicePath avb.DevicePathConstructor

	// Entries maps an AVB partition name to the fstab entry that should
	// have its blk_device rewritten once that partition's hashtree
	// descriptor has been verified. A partition with no entry here is
	// verified but never handed to the device-mapper programmer (for
	// example, vbmeta itself, which carries no hashtree of its own).
	Entries map[string]*fstab.Entry

	// BootConfig resolves "androidboot.veritymode"; defaults to
	// avb.CmdlineBootConfigReader.
	BootConfig avb.BootConfigReader

	Mapper          devicemapper.DeviceMapper
	RollbackHook    avb.RollbackHook
	Primitive       avb.Primitive
	Opener          avb.PartitionOpener // defaults to avb.FileOpener{}
	TrustedRootKeys []string            // e.g. "sha256:abcd..." public key digests
}

// PartitionReport is one root partition's verification outcome plus, for
// every partition under it that had a matching fstab.Entry, whether its
// hashtree was successfully programmed.
type PartitionReport struct {
	avb.SlotResult
	HashtreeSetups map[string]error
}

// Report is the outcome of a whole Pass.
type Report struct {
	Partitions []PartitionReport
	Overall    avb.VerifyResult
}

// Run executes one validation pass: verify every root partition in
// cfg.RootPartitions, then program dm-verity for every verified
// descendant that has a matching fstab entry.
func Run(ctx context.Context, p Pass) (*Report, error) {
	if p.Config == nil {
		return nil, errdefs.Structural(nil, "bootvalidator.Run requires a Config")
	}
	if p.DevicePath == nil {
		return nil, errdefs.Structural(nil, "bootvalidator.Run requires a DevicePath constructor")
	}

	bootConfig := p.BootConfig
	if bootConfig == nil {
		bootConfig = avb.CmdlineBootConfigReader
	}

	opts := avb.NewOptions()
	opts.ABSuffix = p.Config.ABSuffix
	opts.ABOtherSuffix = p.Config.ABOtherSuffix
	opts.AllowVerificationError = p.Config.AllowVerificationError
	opts.LoadChainedVbmeta = p.Config.LoadChainedVbmeta
	opts.RollbackProtection = p.Config.RollbackProtection
	opts.VBMetaMaxSizeBytes = p.Config.VBMetaMaxSizeBytes
	opts.DevicePath = p.DevicePath
	if p.RollbackHook != nil {
		opts.RollbackHookFn = p.RollbackHook
	}
	if p.Primitive != nil {
		opts.Primitive = p.Primitive
	}
	if p.Opener != nil {
		opts.Opener = p.Opener
	}
	for _, rawDigest := range p.TrustedRootKeys {
		d, err := digest.Parse(rawDigest)
		if err != nil {
			return nil, errdefs.Structuralf(err, "invalid trusted root key digest %q", rawDigest)
		}
		opts.TrustedRootKeyDigests = append(opts.TrustedRootKeyDigests, d)
	}

	slotResults, overall := avb.VerifySlot(p.Config.RootPartitions, opts)

	report := &Report{Overall: overall}
	for _, sr := range slotResults {
		pr := PartitionReport{SlotResult: sr, HashtreeSetups: map[string]error{}}
		if sr.Err == nil {
			pr.HashtreeSetups = programHashtrees(ctx, sr.Result.Accumulator.Nodes(), p, bootConfig)
		}
		report.Partitions = append(report.Partitions, pr)
	}

	return report, nil
}

func programHashtrees(ctx context.Context, nodes []*avb.ParsedVBMeta, p Pass, bootConfig avb.BootConfigReader) map[string]error {
	results := map[string]error{}

	mode, _ := bootConfig("veritymode")
	behavior, err := devicemapper.CorruptionBehaviorFromVerityMode(mode)
	if err != nil {
		log.G(ctx).WithError(err).Warn("invalid androidboot.veritymode, refusing to program any hashtree")
		for name := range p.Entries {
			results[name] = err
		}
		return results
	}

	for name, entry := range p.Entries {
		d, err := avb.GetHashtreeDescriptor(name, nodes)
		if err != nil {
			results[name] = err
			continue
		}

		desc := devicemapper.Descriptor{
			ImageSize:       d.ImageSize,
			DataBlockSize:   d.DataBlockSize,
			HashBlockSize:   d.HashBlockSize,
			TreeOffset:      d.TreeOffset,
			FECSize:         d.FECSize,
			FECOffset:       d.FECOffset,
			FECNumRoots:     d.FECNumRoots,
			DMVerityVersion: d.DMVerityVersion,
			HashAlgorithm:   d.HashAlgorithm,
			Salt:            d.Salt.Encoded(),
			RootDigest:      d.RootDigest.Encoded(),
		}

		setupOpts := devicemapper.SetupOptions{
			Mapper:             p.Mapper,
			CorruptionBehavior: behavior,
			IgnoreZeroBlocks:   true,
		}
		if d.FECSize > 0 {
			setupOpts.FECDevice = entry.BlkDevice
		}

		results[name] = devicemapper.HashtreeDmVeritySetup(ctx, entry, desc, setupOpts)
	}

	return results
}
