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

// Package errdefs defines the two error kinds the validator ever returns
// to a caller: a structural failure and a cryptographic verification
// failure. Everything else is a detail wrapped around one of these two.
package errdefs

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// ErrVerification marks a cryptographic mismatch or an unsigned blob: the
// blob was well-formed but didn't check out against the expected key or
// hash. Recoverable by the caller when verification errors are allowed.
var ErrVerification = errors.New("avb: verification error")

// ErrStructural marks a condition that makes the blob or device state
// uninterpretable: a bad footer, a corrupt descriptor found during a
// chain walk, an unknown verity mode, a kernel mapper rejection, a
// missing device path. Never recoverable.
var ErrStructural = errors.New("avb: structural error")

// Verification wraps err as an ErrVerification with msg as context.
func Verification(err error, msg string) error {
	if err == nil {
		err = ErrVerification
	}
	return pkgerrors.Wrap(joinCause(err, ErrVerification), msg)
}

// Verificationf is the Sprintf-style form of Verification.
func Verificationf(err error, format string, args ...interface{}) error {
	if err == nil {
		err = ErrVerification
	}
	return pkgerrors.Wrapf(joinCause(err, ErrVerification), format, args...)
}

// Structural wraps err as an ErrStructural with msg as context.
func Structural(err error, msg string) error {
	if err == nil {
		err = ErrStructural
	}
	return pkgerrors.Wrap(joinCause(err, ErrStructural), msg)
}

// Structuralf is the Sprintf-style form of Structural.
func Structuralf(err error, format string, args ...interface{}) error {
	if err == nil {
		err = ErrStructural
	}
	return pkgerrors.Wrapf(joinCause(err, ErrStructural), format, args...)
}

// IsVerificationError reports whether err (or anything it wraps) is an
// ErrVerification.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrVerification)
}

// IsStructuralError reports whether err (or anything it wraps) is an
// ErrStructural.
func IsStructuralError(err error) bool {
	return errors.Is(err, ErrStructural)
}

// joinCause makes err satisfy errors.Is(_, kind) without discarding err's
// own message, by joining both into one error whose Unwrap() []error makes
// both reachable to errors.Is.
func joinCause(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return errors.Join(err, kind)
}
