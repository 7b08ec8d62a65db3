// Package fhe is the boundary to the homomorphic encryption library.
// The game only ever holds opaque handles and combines them through an Evaluator.
package fhe

import (
	"errors"
)

var (
	// ErrUnknownHandle is returned when a handle does not reference a ciphertext.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
	// ErrIncompatibleCiphertexts is returned when ciphertexts can't be combined.
	ErrIncompatibleCiphertexts = errors.New("incompatible ciphertexts")
)

// Handle is an opaque reference to an encrypted value.
type Handle string

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h == ""
}

// Evaluator performs homomorphic operations on encrypted values.
// Unsigned arithmetic wraps at 64 bits.
type Evaluator interface {
	// TrivialEncrypt wraps a plaintext unsigned value as a ciphertext.
	TrivialEncrypt(v uint64) (Handle, error)
	// TrivialEncryptBool wraps a plaintext boolean as a ciphertext.
	TrivialEncryptBool(b bool) (Handle, error)
	// Random returns an encrypted uniformly random unsigned value.
	Random() (Handle, error)
	// AddScalar returns the encryption of a + s.
	AddScalar(a Handle, s uint64) (Handle, error)
	// RemScalar returns the encryption of a mod m. m must be non-zero.
	RemScalar(a Handle, m uint64) (Handle, error)
	// Ge returns the encrypted boolean a >= b.
	Ge(a, b Handle) (Handle, error)
	// And returns the encrypted boolean a && b.
	And(a, b Handle) (Handle, error)
	// Not returns the encrypted boolean !a.
	Not(a Handle) (Handle, error)
}

// Releaser is implemented by evaluators that hold ciphertexts in memory and
// can free the ones the game no longer references.
type Releaser interface {
	Release(handles ...Handle)
}
