package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceivedAt(t *testing.T) {
	assert.Equal(t, "2024-03-01T12:30:00Z", receivedAt("Fri, 01 Mar 2024 09:30:00 -0300", 0))
	assert.Equal(t, "2024-03-01T12:30:00Z", receivedAt("garbage", 1709296200000))
	assert.NotEmpty(t, receivedAt("", 0))
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: lista\r\n\r\n??>>")

	got, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeBase64URL(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeBase64URL("***")
	assert.Error(t, err)
}
