// Package refresh implements rotating opaque refresh tokens with reuse
// detection.
//
// A refresh token on the wire is base64url(recordID || secret). The record id
// locates the stored record; the secret is the holder's proof. Only
// sha256(secret) is ever persisted, so a copy of the store leaks nothing
// replayable.
package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	recordIDSize = 16
	secretSize   = 32
	rawTokenSize = recordIDSize + secretSize
)

// RecordID identifies one stored refresh-token record.
type RecordID [recordIDSize]byte

// NewRecordID returns a random record id.
func NewRecordID() (RecordID, error) {
	var id RecordID
	_, err := rand.Read(id[:])
	return id, err
}

// String renders the id as compact base64url without padding.
func (r RecordID) String() string {
	return base64.RawURLEncoding.EncodeToString(r[:])
}

// ParseRecordID is the inverse of String.
func ParseRecordID(s string) (RecordID, error) {
	var id RecordID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("refresh: invalid record id size")
	}
	copy(id[:], raw)
	return id, nil
}

// NewSecret returns a fresh 256-bit holder secret.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the only form of the secret that touches storage.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken packs the record id and secret into the wire form handed to
// the client exactly once.
func EncodeToken(id RecordID, secret [secretSize]byte) string {
	var raw [rawTokenSize]byte
	copy(raw[:recordIDSize], id[:])
	copy(raw[recordIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken splits a wire token back into record id and secret.
func DecodeToken(token string) (RecordID, [secretSize]byte, error) {
	var (
		id     RecordID
		secret [secretSize]byte
	)
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, errors.New("refresh: invalid token encoding")
	}
	if len(raw) != rawTokenSize {
		return id, secret, errors.New("refresh: invalid token size")
	}
	copy(id[:], raw[:recordIDSize])
	copy(secret[:], raw[recordIDSize:])
	return id, secret, nil
}
