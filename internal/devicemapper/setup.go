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
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openavb/avbverify/internal/errdefs"
	"github.com/openavb/avbverify/internal/fstab"
	"github.com/openavb/avbverify/internal/log"
	"github.com/openavb/avbverify/internal/pathwait"
	"github.com/openavb/avbverify/internal/singleton"
)

// setupNamespace scopes the deterministic setup-id uuid derived below to
// this package, the same way the erofs differ scopes its own
// content-derived uuids to "erofs:blobs/" under uuid.NameSpaceURL.
var setupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("avbverify:hashtree-setup/"))

// Descriptor is the subset of an avb.HashtreeDescriptor this package
// needs, restated locally so devicemapper never imports avb: the two
// packages compose only through the caller that wires them together.
type Descriptor struct {
	ImageSize       uint64
	DataBlockSize   uint32
	HashBlockSize   uint32
	TreeOffset      uint64
	FECSize         uint64
	FECOffset       uint64
	FECNumRoots     uint32
	DMVerityVersion uint32
	HashAlgorithm   string
	Salt            string // hex
	RootDigest      string // hex
}

// SetupOptions configures HashtreeDmVeritySetup.
type SetupOptions struct {
	Mapper DeviceMapper

	// CorruptionBehavior is used as given; HashtreeDmVeritySetup does not
	// read the boot configuration itself. The zero value,
	// CorruptionDefault, is itself meaningful (no optional argument), so
	// the caller resolves it with CorruptionBehaviorFromVerityMode first.
	CorruptionBehavior CorruptionBehavior

	IgnoreZeroBlocks bool

	// FECDevice, if non-empty, is the block device carrying the FEC
	// region (often the same device as the data partition, at
	// FECOffset).
	FECDevice string

	WaitForDevice time.Duration

	// MarkReadOnly is called on the original block device once the
	// verity device above it is up. Defaults to
	// SetBlockDeviceReadOnly; tests substitute a no-op so they don't
	// need a real block device to ioctl against.
	MarkReadOnly func(path string) error
}

// DefaultWaitForDevice matches the reference implementation's
// WaitForFile(dev_path, 1s) call once a verity device has been created.
const DefaultWaitForDevice = 1 * time.Second

// CorruptionBehaviorFromVerityMode maps the "androidboot.veritymode"
// boot configuration value to a CorruptionBehavior. An absent key
// defaults to "enforcing": a device with no opinion set in its boot
// configuration gets the strict behavior, not the lenient one. Only
// "eio" asks for no optional argument at all, leaving the kernel's own
// default. Any value other than the recognized ones is a structural
// error: a platform that sets "androidboot.veritymode" to something no
// verity build understands has a configuration bug, not a verification
// failure.
func CorruptionBehaviorFromVerityMode(mode string) (CorruptionBehavior, error) {
	switch mode {
	case "", "enforcing":
		return CorruptionRestart, nil
	case "eio":
		return CorruptionDefault, nil
	case "logging":
		return CorruptionIgnore, nil
	case "panic":
		return CorruptionPanic, nil
	default:
		return CorruptionDefault, errdefs.Structuralf(nil, "unrecognized androidboot.veritymode %q", mode)
	}
}

// HashtreeDmVeritySetup programs d into the kernel's dm-verity target on
// top of entry.BlkDevice, then rewrites entry.BlkDevice in place to the
// resulting /dev/mapper path and marks the original block device
// read-only. The mapper device is named after the mount point's
// basename, matching the reference implementation's naming (e.g.
// "/system" becomes the mapper device "system").
//
// Programming is serialized on the device-mapper singleton lock: nothing
// about dmsetup's control path is safe to drive concurrently.
func HashtreeDmVeritySetup(ctx context.Context, entry *fstab.Entry, d Descriptor, opts SetupOptions) error {
	name := mapperName(entry.MountPoint)

	table, err := TableParams{
		DataDevice:         entry.BlkDevice,
		HashDevice:         entry.BlkDevice,
		Version:            d.DMVerityVersion,
		DataBlockSize:      d.DataBlockSize,
		HashBlockSize:      d.HashBlockSize,
		NumDataBlocks:      d.ImageSize / uint64(d.DataBlockSize),
		HashStartBlock:     d.TreeOffset / uint64(d.HashBlockSize),
		Algorithm:          d.HashAlgorithm,
		RootDigest:         d.RootDigest,
		Salt:               d.Salt,
		FECDevice:          opts.FECDevice,
		FECNumRoots:        d.FECNumRoots,
		FECOffsetBytes:     d.FECOffset,
		IgnoreZeroBlocks:   opts.IgnoreZeroBlocks,
		CorruptionBehavior: opts.CorruptionBehavior,
	}.Build()
	if err != nil {
		return err
	}

	if err := singleton.WithDeviceMapper(func() error {
		return opts.Mapper.CreateDevice(ctx, name, table)
	}); err != nil {
		return err
	}

	devPath := opts.Mapper.DevicePath(name)

	waitFor := opts.WaitForDevice
	if waitFor == 0 {
		waitFor = DefaultWaitForDevice
	}
	if err := pathwait.For(devPath, waitFor); err != nil {
		log.G(ctx).WithField(log.Device, devPath).Warn("dm-verity device did not appear in time")
		return err
	}

	markReadOnly := opts.MarkReadOnly
	if markReadOnly == nil {
		markReadOnly = SetBlockDeviceReadOnly
	}
	if err := markReadOnly(entry.BlkDevice); err != nil {
		return err
	}

	// Deterministic, not random: the same partition programmed with the
	// same root digest twice (e.g. across a warm reboot) gets the same
	// setup_id, so log aggregation can correlate them without the
	// validator persisting any state of its own.
	setupID := uuid.NewSHA1(setupNamespace, []byte(name+":"+d.RootDigest))

	log.G(ctx).
		WithField(log.MapperName, name).
		WithField(log.Device, devPath).
		WithField(log.RootDigest, d.RootDigest).
		WithField(log.SetupID, setupID.String()).
		Info("dm-verity device programmed")

	entry.BlkDevice = devPath
	return nil
}

func mapperName(mountPoint string) string {
	i := len(mountPoint) - 1
	for i >= 0 && mountPoint[i] == '/' {
		i--
	}
	end := i + 1
	for i >= 0 && mountPoint[i] != '/' {
		i--
	}
	start := i + 1
	if start >= end {
		return "root"
	}
	return mountPoint[start:end]
}
