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

package bootvalidator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openavb/avbverify/internal/avb"
	"github.com/openavb/avbverify/internal/config"
	"github.com/openavb/avbverify/internal/fstab"
)

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Pass{DevicePath: func(string) string { return "" }})
	require.Error(t, err)
}

func TestRunRequiresDevicePath(t *testing.T) {
	cfg := config.Default()
	_, err := Run(context.Background(), Pass{Config: &cfg})
	require.Error(t, err)
}

func TestRunRejectsMalformedTrustedRootKey(t *testing.T) {
	cfg := config.Default()
	_, err := Run(context.Background(), Pass{
		Config:          &cfg,
		DevicePath:      func(string) string { return "" },
		Opener:          failingOpener{},
		TrustedRootKeys: []string{"not-a-digest"},
	})
	require.Error(t, err)
}

// TestProgramHashtreesRecordsMissingDescriptor exercises the wiring
// between avb.GetHashtreeDescriptor's failure and the per-partition
// report a Pass with no corresponding hashtree descriptor in the
// accumulated chain should produce, without needing a fully signed
// VBMeta fixture (internal/avb's own test suite already covers
// descriptor byte-layout fidelity).
func TestProgramHashtreesRecordsMissingDescriptor(t *testing.T) {
	entry := &fstab.Entry{MountPoint: "/system", BlkDevice: "/dev/block/by-name/system"}
	p := Pass{Entries: map[string]*fstab.Entry{"system": entry}}

	results := programHashtrees(context.Background(), nil, p, func(string) (string, bool) { return "", false })
	require.Contains(t, results, "system")
	require.Error(t, results["system"])
	require.Equal(t, "/dev/block/by-name/system", entry.BlkDevice)
}

// TestProgramHashtreesRejectsBadVerityMode makes sure an unrecognized
// androidboot.veritymode value fails closed for every pending entry
// instead of silently picking a default corruption behavior.
func TestProgramHashtreesRejectsBadVerityMode(t *testing.T) {
	entry := &fstab.Entry{MountPoint: "/vendor", BlkDevice: "/dev/block/by-name/vendor"}
	p := Pass{Entries: map[string]*fstab.Entry{"vendor": entry}}

	results := programHashtrees(context.Background(), nil, p, func(string) (string, bool) { return "bogus", true })
	require.Error(t, results["vendor"])
	require.ErrorContains(t, results["vendor"], "veritymode")
}

type failingOpener struct{}

func (failingOpener) Open(string) (avb.ReadAtCloser, int64, error) {
	return nil, 0, errOpenerUnused{}
}

type errOpenerUnused struct{}

func (errOpenerUnused) Error() string { return "opener should not have been reached" }
