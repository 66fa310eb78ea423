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

	"github.com/openavb/avbverify/internal/errdefs"
)

// verifyVBMetaSignature checks the header's embedded authentication block
// (hash + signature, both inside the authentication data region) against
// the auxiliary data region it covers, using prim for the actual
// cryptographic work. It returns the embedded public key blob so the
// caller can check it against an allow-list or a chain descriptor's
// expected key, regardless of the verdict: a rejected public key is
// still the key that was present.
//
// data must be the full struct: header bytes, then authentication data,
// then auxiliary data, exactly as ParseHeader saw it.
func verifyVBMetaSignature(data []byte, header *Header, prim Primitive) (VerifyResult, []byte, error) {
	if header.AlgorithmType.IsNone() {
		return ResultErrorVerification, nil, nil
	}

	authStart := int64(headerSize)
	auxStart := authStart + int64(header.AuthenticationDataBlockSize)

	if header.HashOffset+header.HashSize > header.AuthenticationDataBlockSize ||
		header.SignatureOffset+header.SignatureSize > header.AuthenticationDataBlockSize {
		return ResultError, nil, errdefs.Structuralf(nil, "authentication data block offsets out of range")
	}
	if header.PublicKeyOffset+header.PublicKeySize > header.AuxiliaryDataBlockSize ||
		header.PublicKeyMetadataOffset+header.PublicKeyMetadataSize > header.AuxiliaryDataBlockSize {
		return ResultError, nil, errdefs.Structuralf(nil, "auxiliary data block offsets out of range")
	}

	auxEnd := auxStart + int64(header.AuxiliaryDataBlockSize)
	if auxEnd > int64(len(data)) {
		return ResultError, nil, errdefs.Structuralf(nil, "vbmeta struct shorter than header declares")
	}

	embeddedHash := data[authStart+int64(header.HashOffset) : authStart+int64(header.HashOffset)+int64(header.HashSize)]
	embeddedSignature := data[authStart+int64(header.SignatureOffset) : authStart+int64(header.SignatureOffset)+int64(header.SignatureSize)]
	publicKeyBlob := data[auxStart+int64(header.PublicKeyOffset) : auxStart+int64(header.PublicKeyOffset)+int64(header.PublicKeySize)]

	// The hash covers everything except the authentication data block
	// itself: the fixed header plus the auxiliary data block, with the
	// authentication data's own bytes zeroed out conceptually by simply
	// never being included in the hashed range.
	hashed := make([]byte, 0, headerSize+int(header.AuxiliaryDataBlockSize))
	hashed = append(hashed, data[:headerSize]...)
	hashed = append(hashed, data[auxStart:auxEnd]...)

	computedHash := prim.Hash(header.AlgorithmType, hashed)
	if !bytes.Equal(computedHash, embeddedHash) {
		return ResultErrorVerification, publicKeyBlob, nil
	}

	if !prim.VerifySignature(header.AlgorithmType, embeddedHash, embeddedSignature, publicKeyBlob) {
		return ResultErrorVerification, publicKeyBlob, nil
	}

	return ResultSuccess, publicKeyBlob, nil
}

// verifyPublicKeyBlob reports whether got matches one of the acceptable
// blobs in want. An empty want list means "any key is acceptable".
// loadAndVerify always passes a chained partition's descriptor key as a
// one-element list, so that key must match byte for byte.
func verifyPublicKeyBlob(got []byte, want [][]byte) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if bytes.Equal(got, w) {
			return true
		}
	}
	return false
}
