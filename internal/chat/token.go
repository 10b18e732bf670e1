// Package chat continues a conversation with the model that answered the
// original query, charging follow-up turns against the same spark balance.
package chat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Token ties a follow-up conversation back to its originating query and the
// model that won it. Tokens are handed to clients with successful results
// and presented back on continuation calls.
type Token struct {
	OriginalQuery string `json:"original_query"`
	ModelID       string `json:"model_id"`
}

var ErrInvalidToken = errors.New("invalid context token")

// Encode serializes the token for transport without sealing. Sealed transport
// goes through a Codec.
func (t Token) Encode() string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses a plain encoded context token.
func DecodeToken(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return tokenFromJSON(raw)
}

func tokenFromJSON(raw []byte) (Token, error) {
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if t.OriginalQuery == "" {
		return Token{}, fmt.Errorf("%w: missing original query", ErrInvalidToken)
	}
	return t, nil
}

// Codec encodes and decodes context tokens. With a key configured the token
// is sealed with AES-256-GCM so clients cannot read or alter the query it
// carries; without one it is plain base64 JSON.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from a hex-encoded 32-byte key. An empty key
// yields a Codec that passes tokens through unsealed.
func NewCodec(hexKey string) (*Codec, error) {
	if hexKey == "" {
		return &Codec{}, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding hex token key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encode serializes and, when a key is configured, seals the token.
func (c *Codec) Encode(t Token) (string, error) {
	if c == nil || c.aead == nil {
		return t.Encode(), nil
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, raw, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode parses an encoded context token, unsealing it when a key is
// configured. Tampered or foreign tokens fail with ErrInvalidToken.
func (c *Codec) Decode(s string) (Token, error) {
	if c == nil || c.aead == nil {
		return DecodeToken(s)
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return Token{}, fmt.Errorf("%w: sealed token too short", ErrInvalidToken)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	raw, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return tokenFromJSON(raw)
}
