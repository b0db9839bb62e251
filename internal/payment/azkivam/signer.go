package azkivam

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signer builds the MerchantId and Signature headers. A signature embeds the
// current unix time, so it is computed for every attempt and never reused.
type Signer struct {
	merchantID string
	apiKey     string
	block      cipher.Block
	now        func() time.Time
}

func NewSigner(merchantID, apiKey, secretHex string) (*Signer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return &Signer{merchantID: merchantID, apiKey: apiKey, block: block, now: time.Now}, nil
}

// Sign encrypts "{subpath}#{unix}#{method}#{apiKey}" with AES-CBC under a
// zero IV and returns it hex encoded.
func (s *Signer) Sign(subpath, method string) string {
	plain := subpath + "#" + strconv.FormatInt(s.now().Unix(), 10) + "#" + strings.ToUpper(method) + "#" + s.apiKey
	padded := pkcs7Pad([]byte(plain), s.block.BlockSize())

	iv := make([]byte, s.block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(out)
}

func (s *Signer) Headers(subpath, method string) http.Header {
	return http.Header{
		"MerchantId": {s.merchantID},
		"Signature":  {s.Sign(subpath, method)},
	}
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}
