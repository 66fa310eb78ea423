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

// Package devicemapper programs a verified hashtree descriptor into the
// kernel's dm-verity target, the step that turns a partition the avb
// package has merely vouched for into one the block layer enforces on
// every read.
package devicemapper

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	exec "golang.org/x/sys/execabs"
	"golang.org/x/sys/unix"

	"github.com/openavb/avbverify/internal/errdefs"
	"github.com/openavb/avbverify/internal/log"
)

// DeviceMapper is the capability this package needs from the host's
// device-mapper control path. The production implementation shells out
// to dmsetup(8); tests substitute an in-memory fake so the verity-table
// and setup logic can be exercised without root or a real kernel module.
type DeviceMapper interface {
	// CreateDevice creates name with the given single-line target table
	// and activates it, returning once the kernel has the device ready.
	CreateDevice(ctx context.Context, name, table string) error
	// RemoveDevice tears down a previously created device.
	RemoveDevice(ctx context.Context, name string) error
	// DevicePath returns the /dev/mapper path a created device is
	// reachable at.
	DevicePath(name string) string
}

// DmsetupMapper drives the real dmsetup(8) binary, the same collaborator
// containerd's thin-pool snapshotter drives for its own device-mapper
// targets.
type DmsetupMapper struct {
	// Path overrides PATH lookup of the dmsetup binary; empty uses
	// "dmsetup".
	Path string
}

func (m DmsetupMapper) binary() string {
	if m.Path != "" {
		return m.Path
	}
	return "dmsetup"
}

func (m DmsetupMapper) CreateDevice(ctx context.Context, name, table string) error {
	_, err := m.run(ctx, "create", name, "--table", table)
	if err != nil {
		return errors.Wrapf(err, "dmsetup create %s", name)
	}
	log.G(ctx).WithField(log.MapperName, name).Debug("created dm-verity device")
	return nil
}

func (m DmsetupMapper) RemoveDevice(ctx context.Context, name string) error {
	_, err := m.run(ctx, "remove", "--force", name)
	if err != nil {
		return errors.Wrapf(err, "dmsetup remove %s", name)
	}
	return nil
}

func (m DmsetupMapper) DevicePath(name string) string {
	return "/dev/mapper/" + name
}

// run execs dmsetup and translates a non-zero exit into the unix.Errno
// dmsetup reported in its own textual output, the same best-effort
// translation the thin-pool snapshotter's dmsetup wrapper performs,
// since dmsetup itself doesn't expose a machine-readable error channel.
func (m DmsetupMapper) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errno := parseDmsetupError(string(out)); errno != 0 {
			return string(out), errno
		}
		return string(out), errors.Wrapf(err, "dmsetup %s failed: %s", strings.Join(args, " "), string(out))
	}
	return string(out), nil
}

// errTable maps the textual errno name dmsetup prints in its "device-mapper:
// ... : <name>" diagnostics back to the unix.Errno it came from, mirroring
// the equivalent table the thin-pool snapshotter keeps for the same
// reason: dmsetup reports failures as text, not as a structured errno.
var errTable = map[string]unix.Errno{
	"Operation not permitted":        unix.EPERM,
	"No such file or directory":      unix.ENOENT,
	"Device or resource busy":        unix.EBUSY,
	"File exists":                    unix.EEXIST,
	"Invalid argument":               unix.EINVAL,
	"No space left on device":        unix.ENOSPC,
	"Cannot allocate memory":         unix.ENOMEM,
}

func parseDmsetupError(output string) unix.Errno {
	for text, errno := range errTable {
		if strings.Contains(output, text) {
			return errno
		}
	}
	return 0
}

// IsSupported reports whether the running kernel exposes the dm-verity
// target and the dmsetup binary used to program it is on PATH.
func IsSupported(dmsetupPath string) bool {
	bin := dmsetupPath
	if bin == "" {
		bin = "dmsetup"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return false
	}
	return hasVerityTarget()
}

func hasVerityTarget() bool {
	out, err := exec.Command("dmsetup", "targets").CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "verity")
}

// errNoDevice is returned by fakes/tests when a named device was never
// created; kept here so it satisfies the same errdefs.Structural shape
// production errors use.
func errNoDevice(name string) error {
	return errdefs.Structuralf(nil, "no such device-mapper device: %s", name)
}
