package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	_ Evaluator = &MemoryEvaluator{}
	_ Releaser  = &MemoryEvaluator{}
)

type plaintext struct {
	value  uint64
	isBool bool
}

// MemoryEvaluator keeps plaintexts behind random handles.
// It is a development stand-in for a real FHE coprocessor; the
// oracle simulator uses Decrypt to answer requests.
type MemoryEvaluator struct {
	lock        sync.RWMutex
	ciphertexts map[Handle]plaintext
}

func NewMemoryEvaluator() *MemoryEvaluator {
	return &MemoryEvaluator{
		ciphertexts: make(map[Handle]plaintext),
	}
}

func (e *MemoryEvaluator) store(p plaintext) Handle {
	e.lock.Lock()
	defer e.lock.Unlock()
	h := Handle(uuid.NewString())
	e.ciphertexts[h] = p
	return h
}

// Release forgets the given handles. Unknown handles are ignored.
func (e *MemoryEvaluator) Release(handles ...Handle) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, h := range handles {
		delete(e.ciphertexts, h)
	}
}

// Len returns the number of ciphertexts held.
func (e *MemoryEvaluator) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return len(e.ciphertexts)
}

func (e *MemoryEvaluator) load(h Handle) (plaintext, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	p, ok := e.ciphertexts[h]
	if !ok {
		return plaintext{}, fmt.Errorf("%w: %q", ErrUnknownHandle, h)
	}
	return p, nil
}

func (e *MemoryEvaluator) loadUint(h Handle) (uint64, error) {
	p, err := e.load(h)
	if err != nil {
		return 0, err
	}
	if p.isBool {
		return 0, fmt.Errorf("%w: %q is a boolean", ErrIncompatibleCiphertexts, h)
	}
	return p.value, nil
}

func (e *MemoryEvaluator) loadBool(h Handle) (bool, error) {
	p, err := e.load(h)
	if err != nil {
		return false, err
	}
	if !p.isBool {
		return false, fmt.Errorf("%w: %q is not a boolean", ErrIncompatibleCiphertexts, h)
	}
	return p.value == 1, nil
}

func boolPlaintext(b bool) plaintext {
	if b {
		return plaintext{value: 1, isBool: true}
	}
	return plaintext{value: 0, isBool: true}
}

func (e *MemoryEvaluator) TrivialEncrypt(v uint64) (Handle, error) {
	return e.store(plaintext{value: v}), nil
}

func (e *MemoryEvaluator) TrivialEncryptBool(b bool) (Handle, error) {
	return e.store(boolPlaintext(b)), nil
}

func (e *MemoryEvaluator) Random() (Handle, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %v", err)
	}
	return e.store(plaintext{value: binary.BigEndian.Uint64(buf[:])}), nil
}

func (e *MemoryEvaluator) AddScalar(a Handle, s uint64) (Handle, error) {
	v, err := e.loadUint(a)
	if err != nil {
		return "", err
	}
	return e.store(plaintext{value: v + s}), nil
}

func (e *MemoryEvaluator) RemScalar(a Handle, m uint64) (Handle, error) {
	if m == 0 {
		return "", fmt.Errorf("%w: modulus is zero", ErrIncompatibleCiphertexts)
	}
	v, err := e.loadUint(a)
	if err != nil {
		return "", err
	}
	return e.store(plaintext{value: v % m}), nil
}

func (e *MemoryEvaluator) Ge(a, b Handle) (Handle, error) {
	x, err := e.loadUint(a)
	if err != nil {
		return "", err
	}
	y, err := e.loadUint(b)
	if err != nil {
		return "", err
	}
	return e.store(boolPlaintext(x >= y)), nil
}

func (e *MemoryEvaluator) And(a, b Handle) (Handle, error) {
	x, err := e.loadBool(a)
	if err != nil {
		return "", err
	}
	y, err := e.loadBool(b)
	if err != nil {
		return "", err
	}
	return e.store(boolPlaintext(x && y)), nil
}

func (e *MemoryEvaluator) Not(a Handle) (Handle, error) {
	x, err := e.loadBool(a)
	if err != nil {
		return "", err
	}
	return e.store(boolPlaintext(!x)), nil
}

// Decrypt returns the plaintext behind a handle and whether it is a boolean.
func (e *MemoryEvaluator) Decrypt(h Handle) (uint64, bool, error) {
	p, err := e.load(h)
	if err != nil {
		return 0, false, err
	}
	return p.value, p.isBool, nil
}
