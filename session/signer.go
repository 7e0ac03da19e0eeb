package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	signedPrefix = "s:"
	hkdfInfo     = "webserver session cookie v1"
)

// signer produces and verifies s:<id>.<mac> cookie values
type signer struct {
	key []byte
}

func newSigner(secret string) (*signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret cannot be empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive session signing key: %w", err)
	}
	return &signer{key: key}, nil
}

func (s *signer) mac(id string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(id))
	return h.Sum(nil)
}

func (s *signer) sign(id string) string {
	return signedPrefix + id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

// unsign returns the session ID if value carries a valid signature
func (s *signer) unsign(value string) (string, bool) {
	rest, ok := strings.CutPrefix(value, signedPrefix)
	if !ok {
		return "", false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 {
		return "", false
	}
	id, encoded := rest[:dot], rest[dot+1:]
	sig, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(sig, s.mac(id)) {
		return "", false
	}
	return id, true
}
