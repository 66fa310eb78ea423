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
	"io"
	"os"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/openavb/avbverify/internal/errdefs"
	"github.com/openavb/avbverify/internal/pathwait"
)

// ReadAtCloser is the minimal capability the chain walker needs from an
// opened partition: random-access reads plus a close. *os.File satisfies
// it; tests substitute an in-memory fake.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// PartitionOpener opens the device path a DevicePathConstructor produced.
// The default implementation waits for the path to appear (udev/the
// kernel can still be creating it during early boot) and then does a
// plain read-only open.
type PartitionOpener interface {
	Open(devicePath string) (ReadAtCloser, int64, error)
}

// FileOpener is the production PartitionOpener: it waits up to
// PathWaitTimeout for devicePath to exist, then opens it O_RDONLY.
type FileOpener struct {
	PathWaitTimeout time.Duration
}

// DefaultPathWaitTimeout matches the reference implementation's
// WaitForFile budget at the hashtree device-mapper boundary, applied
// here too since raw partition block devices can be just as late to
// appear under early boot.
const DefaultPathWaitTimeout = 1 * time.Second

func (o FileOpener) Open(devicePath string) (ReadAtCloser, int64, error) {
	timeout := o.PathWaitTimeout
	if timeout == 0 {
		timeout = DefaultPathWaitTimeout
	}
	if err := pathwait.For(devicePath, timeout); err != nil {
		return nil, 0, errdefs.Structural(err, "partition device never appeared")
	}

	f, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, 0, errdefs.Structural(err, "failed to open partition device")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errdefs.Structural(err, "failed to stat partition device")
	}
	return f, info.Size(), nil
}

// Options configures a single call to LoadAndVerifyVbmeta. Zero-value
// Primitive, DevicePath and Opener are not usable; NewOptions fills in
// production defaults for everything else.
type Options struct {
	ABSuffix      string
	ABOtherSuffix string

	AllowVerificationError bool
	LoadChainedVbmeta      bool
	RollbackProtection     bool

	VBMetaMaxSizeBytes int64

	RollbackHookFn RollbackHook
	Primitive      Primitive
	DevicePath     DevicePathConstructor
	Opener         PartitionOpener

	// TrustedRootKeyDigests, if non-empty, restricts which public key the
	// top-level vbmeta struct (the one not reached via any chain
	// descriptor) may carry. Chained partitions are always constrained by
	// their chain descriptor's own embedded key instead. Leaving this
	// empty trusts whatever key the root vbmeta carries, matching the
	// reference implementation, which has no equivalent check of its own.
	TrustedRootKeyDigests []digest.Digest

	DigestCache DigestCache
}

// NewOptions returns an Options with every non-policy field defaulted to
// its production implementation. Callers still need to set ABSuffix,
// DevicePath and the policy booleans.
func NewOptions() Options {
	return Options{
		VBMetaMaxSizeBytes: MaxVBMetaSize,
		RollbackHookFn:     NoRollbackProtection,
		Primitive:          DefaultPrimitive,
		Opener:             FileOpener{},
		DigestCache:        NoDigestCache,
	}
}

// Accumulator collects every VBMeta struct loaded during one call to
// LoadAndVerifyVbmeta, in load order, for later hashtree descriptor
// lookup. It is not safe for concurrent use; a single validation pass is
// single-threaded by design (see internal/singleton).
type Accumulator struct {
	nodes []*ParsedVBMeta
}

// Nodes returns every loaded VBMeta struct, root first.
func (a *Accumulator) Nodes() []*ParsedVBMeta { return a.nodes }

func (a *Accumulator) append(v *VBMetaData, h *Header) {
	a.nodes = append(a.nodes, &ParsedVBMeta{VBMeta: v, Header: h})
}

// Result is the outcome of LoadAndVerifyVbmeta: the merged verdict for
// the whole subtree and every VBMeta struct loaded along the way.
type Result struct {
	Verdict     VerifyResult
	Accumulator *Accumulator
}

// LoadAndVerifyVbmeta is the recursive driver: it loads partitionName's
// VBMeta struct, verifies its signature, consults the rollback hook, and
// — if opts.LoadChainedVbmeta is set — recurses into every chain
// descriptor it finds, merging every subtree's verdict into one.
//
// A structural error (corrupt, truncated, or otherwise uninterpretable
// data) is always fatal and returned as err regardless of policy. A
// verification error (bad signature or hash, unsigned struct, rejected
// public key) is fatal in the same way unless opts.AllowVerificationError
// is set, in which case it is folded into the returned Verdict as
// ResultErrorVerification. A detected rollback is always fatal.
func LoadAndVerifyVbmeta(partitionName string, opts Options) (*Result, error) {
	acc := &Accumulator{}
	verdict, err := loadAndVerify(partitionName, nil, opts, acc)
	// Result is always returned, even on a fatal error: every partition
	// successfully loaded before the failure is still in the
	// accumulator, and a caller deciding whether to boot anyway wants to
	// see exactly how far the chain got.
	return &Result{Verdict: verdict, Accumulator: acc}, err
}

// loadAndVerify verifies partitionName and, if expected is non-nil,
// treats this call as having been reached through that chain descriptor
// (so the embedded public key and header flags are held to the chained
// rules rather than the root rules).
func loadAndVerify(partitionName string, expected *ChainInfo, opts Options, acc *Accumulator) (VerifyResult, error) {
	devicePartition := PartitionToDevicePartition(partitionName, opts.ABSuffix, opts.ABOtherSuffix)
	devicePath := opts.DevicePath(devicePartition)

	vbmeta, header, err := readVBMetaStruct(partitionName, devicePath, opts)
	if err != nil {
		return ResultError, err
	}

	verdict, embeddedKey, err := verifyVBMetaSignature(vbmeta.Data(), header, opts.Primitive)
	if err != nil {
		return ResultError, err
	}

	if expected != nil {
		if !verifyPublicKeyBlob(embeddedKey, [][]byte{expected.PublicKeyBlob}) {
			verdict = worstOf(verdict, ResultErrorVerification)
		}
	} else if len(opts.TrustedRootKeyDigests) > 0 {
		if !publicKeyDigestTrusted(embeddedKey, opts.TrustedRootKeyDigests) {
			verdict = worstOf(verdict, ResultErrorVerification)
		}
	}

	if verdict == ResultErrorVerification && !opts.AllowVerificationError {
		return ResultError, errdefs.Verificationf(nil, "partition %q failed verification and allow_verification_error is false", partitionName)
	}

	if opts.RollbackProtection {
		rolledBack, err := checkRollback(opts.RollbackHookFn, partitionName, header.RollbackIndex)
		if err != nil {
			return ResultError, errors.Wrap(err, "rollback hook failed")
		}
		if rolledBack {
			// Unconditional: unlike a verification failure, a detected
			// rollback has no allow_verification_error escape hatch.
			return ResultError, errdefs.Verificationf(nil, "partition %q rollback index %d has been superseded", partitionName, header.RollbackIndex)
		}
	}

	if expected != nil && header.Flags != 0 {
		return ResultError, errdefs.Structuralf(nil, "chained vbmeta %q carries non-zero flags", partitionName)
	}

	acc.append(vbmeta, header)

	if header.HasFlag(FlagVerificationDisabled) {
		return verdict, nil
	}

	if !opts.LoadChainedVbmeta {
		return verdict, nil
	}

	block := (&ParsedVBMeta{VBMeta: vbmeta, Header: header}).descriptorBlock()
	err = EnumerateDescriptors(block, func(tag uint64, payload []byte) error {
		if tag != tagChainPartition {
			return nil
		}
		info, err := parseChainPartitionDescriptor(payload)
		if err != nil {
			return err
		}
		childVerdict, err := loadAndVerify(info.PartitionName, info, opts, acc)
		if err != nil {
			return err
		}
		verdict = worstOf(verdict, childVerdict)
		return nil
	})
	if err != nil {
		return ResultError, err
	}

	return verdict, nil
}

// readVBMetaStruct opens devicePath, reads the VBMeta struct belonging to
// partitionName, and parses its header. For a vbmeta-struct partition the
// whole thing is read speculatively up to opts.VBMetaMaxSizeBytes; for
// any other partition, the footer at the end of the device locates a
// (offset, size) region that must itself fall within the same ceiling.
func readVBMetaStruct(partitionName, devicePath string, opts Options) (*VBMetaData, *Header, error) {
	f, size, err := opts.Opener.Open(devicePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var offset int64
	readSize := opts.VBMetaMaxSizeBytes

	if !IsVBMetaPartition(partitionName) {
		footer, err := ReadFooter(f, size)
		if err != nil {
			return nil, nil, err
		}
		if int64(footer.VBMetaSize) > opts.VBMetaMaxSizeBytes {
			return nil, nil, errdefs.Structuralf(nil, "partition %q footer declares vbmeta_size %d exceeding ceiling %d", partitionName, footer.VBMetaSize, opts.VBMetaMaxSizeBytes)
		}
		offset = int64(footer.VBMetaOffset)
		readSize = int64(footer.VBMetaSize)
	} else if readSize > size {
		readSize = size
	}

	buf := make([]byte, readSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, nil, errdefs.Structural(err, "failed to read vbmeta struct")
	}
	buf = buf[:n]

	header, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}

	trueSize := header.TotalSize()
	if trueSize > uint64(opts.VBMetaMaxSizeBytes) {
		return nil, nil, errdefs.Structuralf(nil, "partition %q header declares size %d exceeding ceiling %d", partitionName, trueSize, opts.VBMetaMaxSizeBytes)
	}
	if trueSize > uint64(len(buf)) {
		return nil, nil, errdefs.Structuralf(nil, "partition %q header declares size %d beyond the %d bytes read", partitionName, trueSize, len(buf))
	}
	buf = buf[:trueSize]

	return NewVBMetaData(partitionName, buf), header, nil
}

func worstOf(a, b VerifyResult) VerifyResult {
	if a == ResultError || b == ResultError {
		return ResultError
	}
	if a == ResultErrorVerification || b == ResultErrorVerification {
		return ResultErrorVerification
	}
	return ResultSuccess
}

func publicKeyDigestTrusted(key []byte, trusted []digest.Digest) bool {
	d := digest.FromBytes(key)
	for _, t := range trusted {
		if d == t {
			return true
		}
	}
	return false
}
