// Package passqr renders a ticket unit as an encrypted QR pass. The door
// scanner decodes the QR, sends the opaque payload to the scan endpoint, and
// the service decrypts it back into a ticket reference.
package passqr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

// Payload is what the pass carries. Ownership is re-checked server side at
// scan time; the pass is a reference, not a bearer credential for entry.
type Payload struct {
	TicketID    string    `json:"ticketId"`
	EventID     string    `json:"eventId"`
	OwnerUserID string    `json:"ownerUserId"`
	IssuedAt    time.Time `json:"issuedAt"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// GeneratePNG encrypts the payload and renders it as a QR code PNG.
func (g *Generator) GeneratePNG(payload Payload) ([]byte, error) {
	encrypted, err := g.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// Encrypt serializes and encrypts the payload into an opaque string.
func (g *Generator) Encrypt(payload Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

// Decrypt reverses Encrypt. Garbage or a wrong key yields an error, never a
// partially decoded payload.
func (g *Generator) Decrypt(encrypted string) (*Payload, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("invalid pass encoding: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("pass payload too short")
	}

	block, err := aes.NewCipher(g.secret)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid pass payload: %w", err)
	}
	if payload.TicketID == "" {
		return nil, errors.New("pass payload missing ticket id")
	}
	return &payload, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
