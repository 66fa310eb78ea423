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
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"math/big"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// AlgorithmType names one of the fixed set of (hash, signature) pairings
// a vbmeta header's algorithm_type field may select. Unlike most of this
// package, this set is not meant to grow: it is the trust boundary
// between this implementation and whatever signed the image, and a new
// entry here is a change to what the validator is willing to trust.
type AlgorithmType struct {
	id            uint32
	name          string
	hash          crypto.Hash
	signatureSize int
}

// String is the algorithm's wire name, e.g. "SHA256_RSA4096".
func (a AlgorithmType) String() string { return a.name }

// IsNone reports whether this algorithm signs nothing: a vbmeta struct
// using it carries no signature block at all and is only acceptable when
// the caller has explicitly opted into unsigned images.
func (a AlgorithmType) IsNone() bool { return a.id == algoNone.id }

var (
	algoNone          = AlgorithmType{id: 0, name: "NONE"}
	algoSHA256RSA2048 = AlgorithmType{id: 1, name: "SHA256_RSA2048", hash: crypto.SHA256, signatureSize: 256}
	algoSHA256RSA4096 = AlgorithmType{id: 2, name: "SHA256_RSA4096", hash: crypto.SHA256, signatureSize: 512}
	algoSHA256RSA8192 = AlgorithmType{id: 3, name: "SHA256_RSA8192", hash: crypto.SHA256, signatureSize: 1024}
	algoSHA512RSA2048 = AlgorithmType{id: 4, name: "SHA512_RSA2048", hash: crypto.SHA512, signatureSize: 256}
	algoSHA512RSA4096 = AlgorithmType{id: 5, name: "SHA512_RSA4096", hash: crypto.SHA512, signatureSize: 512}
	algoSHA512RSA8192 = AlgorithmType{id: 6, name: "SHA512_RSA8192", hash: crypto.SHA512, signatureSize: 1024}
)

var algorithmsByID = map[uint32]AlgorithmType{
	algoNone.id:          algoNone,
	algoSHA256RSA2048.id: algoSHA256RSA2048,
	algoSHA256RSA4096.id: algoSHA256RSA4096,
	algoSHA256RSA8192.id: algoSHA256RSA8192,
	algoSHA512RSA2048.id: algoSHA512RSA2048,
	algoSHA512RSA4096.id: algoSHA512RSA4096,
	algoSHA512RSA8192.id: algoSHA512RSA8192,
}

func algorithmByID(id uint32) (AlgorithmType, bool) {
	a, ok := algorithmsByID[id]
	return a, ok
}

// Primitive is the cryptographic trust boundary: everything above this
// interface is ordinary Go parsing and bookkeeping, everything below it
// is the one place an actual signature check happens. Tests substitute a
// fake to exercise the verifier logic without real keys.
type Primitive interface {
	// Hash returns the digest of data under algo's hash function.
	Hash(algo AlgorithmType, data []byte) []byte
	// VerifySignature reports whether signature is a valid signature of
	// hash under the RSA public key encoded in publicKeyBlob (an AVB
	// public-key blob, see decodePublicKeyBlob; not a DER or PEM
	// structure).
	VerifySignature(algo AlgorithmType, hash, signature, publicKeyBlob []byte) bool
}

// DefaultPrimitive is the production Primitive: SHA-256 hashing goes
// through minio/sha256-simd for hardware acceleration, SHA-512 and RSA
// PKCS#1 v1.5 verification go through the standard library, which has no
// pack-provided replacement for asymmetric crypto.
var DefaultPrimitive Primitive = defaultPrimitive{}

type defaultPrimitive struct{}

func (defaultPrimitive) Hash(algo AlgorithmType, data []byte) []byte {
	switch algo.hash {
	case crypto.SHA256:
		sum := sha256simd.Sum256(data)
		return sum[:]
	case crypto.SHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	default:
		return nil
	}
}

func (defaultPrimitive) VerifySignature(algo AlgorithmType, hash, signature, publicKeyBlob []byte) bool {
	pub, err := decodePublicKeyBlob(publicKeyBlob)
	if err != nil {
		return false
	}
	err = rsa.VerifyPKCS1v15(pub, algo.hash, hash, signature)
	return err == nil
}

// decodePublicKeyBlob reads the AVB wire format for an RSA public key: an
// 8-byte header (a big-endian uint32 modulus bit length, then a uint32
// n0inv Montgomery constant), followed by two big-endian integers of that
// bit length, the modulus and the Montgomery rr value. Only the modulus
// is read; the precomputed Montgomery values are ignored since this
// implementation verifies with the standard library's own modexp. The
// public exponent is fixed at 65537.
func decodePublicKeyBlob(blob []byte) (*rsa.PublicKey, error) {
	if len(blob) < 8 {
		return nil, errors.New("public key blob too short")
	}
	modulusSizeBits := beUint32(blob[0:4])
	modulusSizeBytes := int(modulusSizeBits / 8)
	headerSize := 8
	if len(blob) < headerSize+2*modulusSizeBytes {
		return nil, errors.New("public key blob truncated")
	}
	modulus := blob[headerSize : headerSize+modulusSizeBytes]

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: 65537,
	}, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
