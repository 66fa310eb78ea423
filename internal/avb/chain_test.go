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
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// memPartition is a ReadAtCloser over an in-memory byte slice, standing
// in for a real block device in tests.
type memPartition struct {
	*bytes.Reader
}

func (memPartition) Close() error { return nil }

// fakeOpener serves pre-built partition images by device path, with no
// filesystem or pathwait involved.
type fakeOpener struct {
	images map[string][]byte
}

func (f fakeOpener) Open(devicePath string) (ReadAtCloser, int64, error) {
	img, ok := f.images[devicePath]
	if !ok {
		return nil, 0, errStructural("no such test partition: " + devicePath)
	}
	return memPartition{bytes.NewReader(img)}, int64(len(img)), nil
}

func errStructural(msg string) error { return &testError{msg} }

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

// signedVBMeta builds a minimal, well-formed VBMeta struct signed with
// key, with descriptorBlock appended verbatim as the descriptor region.
func signedVBMeta(t *testing.T, key *rsa.PrivateKey, algo AlgorithmType, rollbackIndex uint64, flags HeaderFlag, descriptors []byte) []byte {
	t.Helper()

	pubKeyBlob := encodeTestPublicKeyBlob(key)

	auxSize := uint64(len(pubKeyBlob) + len(descriptors))
	h := &Header{
		AlgorithmType:          algo,
		AuxiliaryDataBlockSize: auxSize,
		PublicKeyOffset:        0,
		PublicKeySize:          uint64(len(pubKeyBlob)),
		DescriptorsOffset:      uint64(len(pubKeyBlob)),
		DescriptorsSize:        uint64(len(descriptors)),
		RollbackIndex:          rollbackIndex,
		Flags:                  flags,
	}

	aux := append(append([]byte{}, pubKeyBlob...), descriptors...)

	hashSize := 32
	sigSize := key.Size()
	h.HashOffset, h.HashSize = 0, uint64(hashSize)
	h.SignatureOffset, h.SignatureSize = uint64(hashSize), uint64(sigSize)
	h.AuthenticationDataBlockSize = uint64(hashSize + sigSize)

	headerBytes := encodeHeader(h)
	toHash := append(append([]byte{}, headerBytes...), aux...)
	hash := DefaultPrimitive.Hash(algo, toHash)

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, algo.hash, hash)
	require.NoError(t, err)

	auth := append(append([]byte{}, hash...), sig...)

	full := append(append([]byte{}, headerBytes...), auth...)
	full = append(full, aux...)
	return full
}

func encodeTestPublicKeyBlob(key *rsa.PrivateKey) []byte {
	modulus := key.PublicKey.N.Bytes()
	bits := uint32(len(modulus) * 8)
	blob := make([]byte, 8+2*len(modulus))
	binary.BigEndian.PutUint32(blob[0:4], bits)
	copy(blob[8:8+len(modulus)], modulus)
	return blob
}

func fixedDevicePath(name string) string { return "/dev/block/by-name/" + name }

func TestLoadAndVerifyVbmetaSuccess(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, 0, nil)

	opts := NewOptions()
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Verdict)
	require.Len(t, res.Accumulator.Nodes(), 1)
}

func TestLoadAndVerifyVbmetaDetectsTamperAllowed(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, 0, nil)
	img[len(img)-1] ^= 0xFF // corrupt a trailing auxiliary byte

	opts := NewOptions()
	opts.AllowVerificationError = true
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.NoError(t, err)
	require.Equal(t, ResultErrorVerification, res.Verdict)
}

func TestLoadAndVerifyVbmetaDetectsTamperFatalByDefault(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, 0, nil)
	img[len(img)-1] ^= 0xFF // corrupt a trailing auxiliary byte

	opts := NewOptions()
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.Error(t, err)
	require.Equal(t, ResultError, res.Verdict)
	require.Empty(t, res.Accumulator.Nodes())
}

func TestLoadAndVerifyVbmetaVerificationDisabledSkipsRecursion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// A chain descriptor pointing at a partition that the fake opener
	// doesn't know about: if the walker recursed into it despite the
	// VERIFICATION_DISABLED flag, the whole call would fail.
	chainDescriptor := buildChainPartitionDescriptor(t, "vbmeta_vendor", 0, []byte{0x01, 0x02})
	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, FlagVerificationDisabled, chainDescriptor)

	opts := NewOptions()
	opts.LoadChainedVbmeta = true
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Verdict)
	require.Len(t, res.Accumulator.Nodes(), 1)
}

func TestLoadAndVerifyVbmetaRecursesIntoChainPartition(t *testing.T) {
	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	systemKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	systemImg := signedVBMeta(t, systemKey, algoSHA256RSA2048, 5, 0, nil)

	chainDescriptor := buildChainPartitionDescriptor(t, "vbmeta_system", 0, encodeTestPublicKeyBlob(systemKey))
	rootImg := signedVBMeta(t, rootKey, algoSHA256RSA2048, 1, 0, chainDescriptor)

	opts := NewOptions()
	opts.LoadChainedVbmeta = true
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{
		fixedDevicePath("vbmeta"):        rootImg,
		fixedDevicePath("vbmeta_system"): systemImg,
	}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Verdict)
	require.Len(t, res.Accumulator.Nodes(), 2)
}

func TestLoadAndVerifyVbmetaRollbackDetectedFatalRegardlessOfAllowedError(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, 0, nil)

	opts := NewOptions()
	opts.AllowVerificationError = true
	opts.RollbackProtection = true
	opts.RollbackHookFn = func(string, uint64) bool { return true }
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.Error(t, err)
	require.Equal(t, ResultError, res.Verdict)
	require.Empty(t, res.Accumulator.Nodes())
}

func TestLoadAndVerifyVbmetaNoRollbackDetectedSucceeds(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	img := signedVBMeta(t, key, algoSHA256RSA2048, 1, 0, nil)

	opts := NewOptions()
	opts.RollbackProtection = true
	opts.RollbackHookFn = func(string, uint64) bool { return false }
	opts.DevicePath = fixedDevicePath
	opts.Opener = fakeOpener{images: map[string][]byte{fixedDevicePath("vbmeta"): img}}

	res, err := LoadAndVerifyVbmeta("vbmeta", opts)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Verdict)
}

func buildChainPartitionDescriptor(t *testing.T, partitionName string, rollbackLoc uint32, pubKey []byte) []byte {
	t.Helper()
	raw := rawChainPartitionDescriptor{
		RollbackIndexLocation: rollbackLoc,
		PartitionNameLen:      uint32(len(partitionName)),
		PublicKeyLen:          uint32(len(pubKey)),
	}
	var payload bytes.Buffer
	require.NoError(t, binary.Write(&payload, binary.BigEndian, &raw))
	payload.WriteString(partitionName)
	payload.Write(pubKey)

	var out bytes.Buffer
	hdr := descriptorHeader{Tag: tagChainPartition, NumBytesFollowing: uint64(payload.Len())}
	require.NoError(t, binary.Write(&out, binary.BigEndian, &hdr))
	out.Write(payload.Bytes())
	for out.Len()%8 != 0 {
		out.WriteByte(0)
	}
	return out.Bytes()
}
