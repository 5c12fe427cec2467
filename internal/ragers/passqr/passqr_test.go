package passqr

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		TicketID:    "ticket-1",
		EventID:     "event456",
		OwnerUserID: "user123",
		IssuedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	gen := NewGenerator("super-secret-key")
	payload := testPayload()

	encrypted, err := gen.Encrypt(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, encrypted)
	assert.NotContains(t, encrypted, payload.TicketID)

	decrypted, err := gen.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, payload.TicketID, decrypted.TicketID)
	assert.Equal(t, payload.EventID, decrypted.EventID)
	assert.Equal(t, payload.OwnerUserID, decrypted.OwnerUserID)
	assert.True(t, payload.IssuedAt.Equal(decrypted.IssuedAt))
}

func TestEncryptIsNotDeterministic(t *testing.T) {
	gen := NewGenerator("super-secret-key")
	payload := testPayload()

	first, err := gen.Encrypt(payload)
	require.NoError(t, err)
	second, err := gen.Encrypt(payload)
	require.NoError(t, err)

	// Random IV per pass; identical payloads must not produce identical passes
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongKey(t *testing.T) {
	gen := NewGenerator("super-secret-key")
	other := NewGenerator("a-different-key")

	encrypted, err := gen.Encrypt(testPayload())
	require.NoError(t, err)

	payload, err := other.Decrypt(encrypted)
	assert.Error(t, err)
	assert.Nil(t, payload)
}

func TestDecryptGarbage(t *testing.T) {
	gen := NewGenerator("super-secret-key")

	payload, err := gen.Decrypt("not base64 at all!!!")
	assert.Error(t, err)
	assert.Nil(t, payload)

	payload, err = gen.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
	assert.Nil(t, payload)
}

func TestDecryptMissingTicketID(t *testing.T) {
	gen := NewGenerator("super-secret-key")

	encrypted, err := gen.Encrypt(Payload{EventID: "event456"})
	require.NoError(t, err)

	payload, err := gen.Decrypt(encrypted)
	assert.Error(t, err)
	assert.Nil(t, payload)
}

func TestGeneratePNG(t *testing.T) {
	gen := NewGenerator("super-secret-key")

	png, err := gen.GeneratePNG(testPayload())
	require.NoError(t, err)

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	assert.True(t, bytes.HasPrefix(png, pngHeader), "expected a PNG image")
}
