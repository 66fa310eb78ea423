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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetBlockDeviceReadOnly marks the block device at path read-only at the
// kernel level with a BLKROSET ioctl, the same call the reference
// implementation makes on the underlying partition once its hashtree has
// been programmed: the verity target enforces integrity on reads, but
// nothing stops a write through the original block device unless the
// kernel itself is told to refuse one.
func SetBlockDeviceReadOnly(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer unix.Close(fd)

	readOnly := 1
	if err := unix.IoctlSetInt(fd, unix.BLKROSET, readOnly); err != nil {
		return errors.Wrapf(err, "BLKROSET failed on %s", path)
	}
	return nil
}
