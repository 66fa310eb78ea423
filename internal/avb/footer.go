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
	"io"

	"github.com/pkg/errors"

	"github.com/openavb/avbverify/internal/errdefs"
)

var footerMagic = [4]byte{'A', 'V', 'B', 'f'}

// rawFooter is the wire layout of the 64-byte trailer written at the very
// end of every non-vbmeta partition. All multi-byte integers are
// big-endian on the wire; Footer holds them already converted to host
// order.
type rawFooter struct {
	Magic             [4]byte
	VersionMajor      uint32
	VersionMinor      uint32
	OriginalImageSize uint64
	VBMetaOffset      uint64
	VBMetaSize        uint64
	Reserved          [28]byte
}

// Footer is a validated, byte-swapped AvbFooter.
type Footer struct {
	VersionMajor      uint32
	VersionMinor      uint32
	OriginalImageSize uint64
	VBMetaOffset      uint64
	VBMetaSize        uint64
}

// ReadFooter reads and validates the AVBFooterSize-byte footer located at
// the last AVBFooterSize bytes of a partition whose total size is
// totalSize. r must support random access (ReaderAt); partitions are
// opened read-only with no seek position shared across goroutines.
func ReadFooter(r io.ReaderAt, totalSize int64) (*Footer, error) {
	if totalSize < AVBFooterSize {
		return nil, errdefs.Structural(nil, "partition too small to contain a footer")
	}

	buf := make([]byte, AVBFooterSize)
	if _, err := r.ReadAt(buf, totalSize-AVBFooterSize); err != nil {
		return nil, errdefs.Structural(err, "failed to read footer")
	}
	return decodeFooter(buf)
}

func decodeFooter(buf []byte) (*Footer, error) {
	var raw rawFooter
	if err := binary.Read(bytes.NewReader(buf), binary.BigEndian, &raw); err != nil {
		return nil, errdefs.Structural(err, "failed to decode footer")
	}
	if raw.Magic != footerMagic {
		return nil, errdefs.Structural(nil, "footer magic mismatch")
	}
	return &Footer{
		VersionMajor:      raw.VersionMajor,
		VersionMinor:      raw.VersionMinor,
		OriginalImageSize: raw.OriginalImageSize,
		VBMetaOffset:      raw.VBMetaOffset,
		VBMetaSize:        raw.VBMetaSize,
	}, nil
}

// encodeFooter is the inverse of decodeFooter, used only by tests that
// need to synthesize a partition image.
func encodeFooter(f *Footer) []byte {
	raw := rawFooter{
		Magic:             footerMagic,
		VersionMajor:      f.VersionMajor,
		VersionMinor:      f.VersionMinor,
		OriginalImageSize: f.OriginalImageSize,
		VBMetaOffset:      f.VBMetaOffset,
		VBMetaSize:        f.VBMetaSize,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &raw); err != nil {
		panic(errors.Wrap(err, "encodeFooter: unreachable"))
	}
	return buf.Bytes()
}
