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

	"github.com/openavb/avbverify/internal/errdefs"
)

var headerMagic = [4]byte{'A', 'V', 'B', '0'}

// HeaderFlag bits, taken from the AVB wire format. FlagVerificationDisabled
// stops LoadAndVerifyVbmeta from descending into the chain descriptors of
// the vbmeta struct carrying it (that struct's own signature is still
// checked); it is meaningful only on the top-level vbmeta partition, since
// a chained struct with any flag set is rejected.
type HeaderFlag uint32

const (
	FlagHashtreeDisabled     HeaderFlag = 1 << 0
	FlagVerificationDisabled HeaderFlag = 1 << 1
)

// rawHeader is the fixed-size prefix of a VBMeta image. It is followed by
// three variable-length regions at the offsets it carries: authentication
// data (hash + signature), auxiliary data (public key + public key
// metadata + descriptors), and padding to a block boundary. Everything is
// big-endian on the wire.
type rawHeader struct {
	Magic                        [4]byte
	RequiredLibavbVersionMajor   uint32
	RequiredLibavbVersionMinor   uint32
	AuthenticationDataBlockSize  uint64
	AuxiliaryDataBlockSize       uint64
	AlgorithmType                uint32
	HashOffset                   uint64
	HashSize                     uint64
	SignatureOffset               uint64
	SignatureSize                uint64
	PublicKeyOffset              uint64
	PublicKeySize                uint64
	PublicKeyMetadataOffset      uint64
	PublicKeyMetadataSize        uint64
	DescriptorsOffset            uint64
	DescriptorsSize              uint64
	RollbackIndex                uint64
	Flags                        uint32
	RollbackIndexLocation        uint32
	ReleaseString                [47]byte
	Reserved                     [81]byte
}

const headerSize = 4 + 4 + 4 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 4 + 47 + 81

// Header is a validated, byte-swapped AvbVBMetaImageHeader.
type Header struct {
	AlgorithmType           AlgorithmType
	AuthenticationDataBlockSize uint64
	AuxiliaryDataBlockSize  uint64
	HashOffset              uint64
	HashSize                uint64
	SignatureOffset         uint64
	SignatureSize           uint64
	PublicKeyOffset         uint64
	PublicKeySize           uint64
	PublicKeyMetadataOffset uint64
	PublicKeyMetadataSize   uint64
	DescriptorsOffset       uint64
	DescriptorsSize         uint64
	RollbackIndex           uint64
	Flags                   HeaderFlag
	RollbackIndexLocation   uint32
	ReleaseString           string
}

// HasFlag reports whether f is set in the header's flags word.
func (h *Header) HasFlag(f HeaderFlag) bool { return h.Flags&f != 0 }

// TotalSize is the number of bytes occupied by this VBMeta struct:
// the fixed header plus its two variable-length data blocks.
func (h *Header) TotalSize() uint64 {
	return headerSize + h.AuthenticationDataBlockSize + h.AuxiliaryDataBlockSize
}

// ParseHeader validates and byte-swaps the fixed-size header at the start
// of data. data must be at least headerSize bytes; the caller is
// responsible for having bounded the read to MaxVBMetaSize beforehand.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, errdefs.Structural(nil, "buffer too small to contain a vbmeta header")
	}

	var raw rawHeader
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.BigEndian, &raw); err != nil {
		return nil, errdefs.Structural(err, "failed to decode vbmeta header")
	}
	if raw.Magic != headerMagic {
		return nil, errdefs.Structural(nil, "vbmeta header magic mismatch")
	}

	algo, ok := algorithmByID(raw.AlgorithmType)
	if !ok {
		return nil, errdefs.Structuralf(nil, "unsupported algorithm type %d", raw.AlgorithmType)
	}

	return &Header{
		AlgorithmType:               algo,
		AuthenticationDataBlockSize: raw.AuthenticationDataBlockSize,
		AuxiliaryDataBlockSize:      raw.AuxiliaryDataBlockSize,
		HashOffset:                  raw.HashOffset,
		HashSize:                    raw.HashSize,
		SignatureOffset:              raw.SignatureOffset,
		SignatureSize:                raw.SignatureSize,
		PublicKeyOffset:              raw.PublicKeyOffset,
		PublicKeySize:                raw.PublicKeySize,
		PublicKeyMetadataOffset:      raw.PublicKeyMetadataOffset,
		PublicKeyMetadataSize:        raw.PublicKeyMetadataSize,
		DescriptorsOffset:            raw.DescriptorsOffset,
		DescriptorsSize:              raw.DescriptorsSize,
		RollbackIndex:                raw.RollbackIndex,
		Flags:                        HeaderFlag(raw.Flags),
		RollbackIndexLocation:        raw.RollbackIndexLocation,
		ReleaseString:                cstring(raw.ReleaseString[:]),
	}, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// encodeHeader is the inverse of ParseHeader, used only to synthesize
// test fixtures.
func encodeHeader(h *Header) []byte {
	raw := rawHeader{
		Magic:                       headerMagic,
		AlgorithmType:               uint32(h.AlgorithmType.id),
		AuthenticationDataBlockSize: h.AuthenticationDataBlockSize,
		AuxiliaryDataBlockSize:      h.AuxiliaryDataBlockSize,
		HashOffset:                  h.HashOffset,
		HashSize:                    h.HashSize,
		SignatureOffset:             h.SignatureOffset,
		SignatureSize:               h.SignatureSize,
		PublicKeyOffset:             h.PublicKeyOffset,
		PublicKeySize:               h.PublicKeySize,
		PublicKeyMetadataOffset:     h.PublicKeyMetadataOffset,
		PublicKeyMetadataSize:       h.PublicKeyMetadataSize,
		DescriptorsOffset:           h.DescriptorsOffset,
		DescriptorsSize:             h.DescriptorsSize,
		RollbackIndex:               h.RollbackIndex,
		Flags:                       uint32(h.Flags),
		RollbackIndexLocation:       h.RollbackIndexLocation,
	}
	copy(raw.ReleaseString[:], h.ReleaseString)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &raw); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
