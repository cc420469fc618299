package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of master and derived keys
const KeySize = 32

// ParseKey decodes a master key given as hex or standard base64.
// The decoded key must be exactly KeySize bytes.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyKey
	}

	key, err := hex.DecodeString(s)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.Join(ErrInvalidKeyEncoding, err)
		}
	}

	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// DeriveKey derives an independent KeySize key for one purpose, e.g. the name of
// an event source, from the master key with HKDF-SHA256. Leaking a derived key
// reveals nothing about the master or any other purpose's key.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if purpose == "" {
		return nil, ErrEmptyPurpose
	}

	reader := hkdf.New(sha256.New, master, nil, []byte(infoPrefix+purpose))

	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return derived, nil
}

// GenerateKey creates a new random master key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// infoPrefix separates jobq's derived keys from other HKDF users of the same master
const infoPrefix = "jobq-v1:"
