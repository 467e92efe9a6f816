package flowcipher

import (
	"crypto/sha256"
	"encoding/base64"
	"unicode/utf8"
)

// Filename coding: file names are stored XOR-crypted with the keystream at
// offset zero and base64url-encoded, with a trailing signature character
// derived from the key. DecodeName uses the signature to reject names that
// were encrypted under a different password (or not encrypted at all) and
// returns "" in that case, which callers treat as "keep the original name".

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// EncodeName encrypts a file name for storage.
func EncodeName(password string, kind Kind, name string) string {
	if name == "" {
		return ""
	}
	fc, err := New(kind, password, 0)
	if err != nil {
		return ""
	}
	buf := []byte(name)
	fc.EncryptTransform().Apply(buf, buf)
	return base64.RawURLEncoding.EncodeToString(buf) + string(nameSignature(fc))
}

// DecodeName reverses EncodeName. It returns "" when the encoded form is not
// valid under the given password and kind.
func DecodeName(password string, kind Kind, encoded string) string {
	if len(encoded) < 2 {
		return ""
	}
	fc, err := New(kind, password, 0)
	if err != nil {
		return ""
	}
	if encoded[len(encoded)-1] != nameSignature(fc) {
		return ""
	}
	buf, err := base64.RawURLEncoding.DecodeString(encoded[:len(encoded)-1])
	if err != nil {
		return ""
	}
	fc.DecryptTransform().Apply(buf, buf)
	if !utf8.Valid(buf) {
		return ""
	}
	return string(buf)
}

// nameSignature maps the key to a single base64url character.
func nameSignature(fc *FlowCipher) byte {
	sum := sha256.Sum256(fc.key)
	return nameAlphabet[int(sum[0])%len(nameAlphabet)]
}
