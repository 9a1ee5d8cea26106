// Package sso opens the encrypted user context the provider hands to
// embedded apps.
package sso

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.UserContextDecrypter = (*Decrypter)(nil)

var (
	// ErrMissingSecret is returned when no shared secret is configured.
	ErrMissingSecret = errors.New("sso shared secret is not configured")

	// ErrMalformedPayload is returned when the payload is not in a known format.
	ErrMalformedPayload = errors.New("malformed sso payload")

	// ErrDecryptFailed is returned when the payload does not open with the secret.
	ErrDecryptFailed = errors.New("sso payload did not decrypt")
)

const opensslMagic = "Salted__"

// Decrypter opens two payload formats:
//
//   - OpenSSL salted AES-256-CBC as produced by CryptoJS.AES.encrypt with a
//     passphrase, base64 encoded ("U2FsdGVkX1...").
//   - A JSON envelope {iv, cipherText, tag} of base64url fields sealed with
//     AES-256-GCM under SHA-256(secret).
type Decrypter struct {
	secret []byte
}

// NewDecrypter creates a decrypter for the shared secret.
func NewDecrypter(secret string) (*Decrypter, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Decrypter{secret: []byte(secret)}, nil
}

// Decrypt opens the payload and normalizes the resulting context.
func (d *Decrypter) Decrypt(encrypted string) (*domain.UserContext, error) {
	encrypted = strings.TrimSpace(encrypted)
	var (
		plain []byte
		err   error
	)
	if strings.HasPrefix(encrypted, "{") {
		plain, err = d.openEnvelope(encrypted)
	} else {
		plain, err = d.openSalted(encrypted)
	}
	if err != nil {
		return nil, err
	}
	return parseContext(plain)
}

func (d *Decrypter) openSalted(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) < 16 || string(raw[:8]) != opensslMagic {
		return nil, fmt.Errorf("%w: missing salt header", ErrMalformedPayload)
	}
	salt, body := raw[8:16], raw[16:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", ErrMalformedPayload)
	}

	key, iv := evpBytesToKey(d.secret, salt, 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return pkcs7Unpad(out)
}

type envelope struct {
	IV         string `json:"iv"`
	CipherText string `json:"cipherText"`
	Tag        string `json:"tag"`
}

func (d *Decrypter) openEnvelope(payload string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	iv, err1 := decodeBase64URL(env.IV)
	ct, err2 := decodeBase64URL(env.CipherText)
	tag, err3 := decodeBase64URL(env.Tag)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	key := sha256.Sum256(d.secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// evpBytesToKey is OpenSSL's MD5-based key derivation with one iteration.
func evpBytesToKey(password, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrDecryptFailed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrDecryptFailed
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, ErrDecryptFailed
	}
	return b[:len(b)-n], nil
}

func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// rawContext covers the field spellings seen in provider payloads.
type rawContext struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	Type             string `json:"type"`
	ActiveCompanyID  string `json:"activeCompanyId"`
	CompanyID        string `json:"companyId"`
	ActiveLocationID string `json:"activeLocationId"`
	LocationID       string `json:"locationId"`
	User             *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Type  string `json:"type"`
		Role  string `json:"role"`
	} `json:"user"`
}

func parseContext(plain []byte) (*domain.UserContext, error) {
	var raw rawContext
	if err := json.Unmarshal(plain, &raw); err != nil {
		return nil, fmt.Errorf("%w: context is not JSON", ErrDecryptFailed)
	}
	uc := &domain.UserContext{
		UserID:           raw.UserID,
		Email:            raw.Email,
		Role:             raw.Role,
		Type:             raw.Type,
		ActiveCompanyID:  firstNonEmpty(raw.ActiveCompanyID, raw.CompanyID),
		ActiveLocationID: firstNonEmpty(raw.ActiveLocationID, raw.LocationID),
	}
	if u := raw.User; u != nil {
		uc.UserID = firstNonEmpty(uc.UserID, u.ID)
		uc.Email = firstNonEmpty(uc.Email, u.Email)
		uc.Type = firstNonEmpty(uc.Type, u.Type)
		uc.Role = firstNonEmpty(uc.Role, u.Role)
	}
	return uc, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
