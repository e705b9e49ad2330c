package whatsapp

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQR(t *testing.T) {
	url, err := RenderQR("2@Zm9vYmFy,abc,def", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}

func TestRenderQRWithoutPayload(t *testing.T) {
	_, err := RenderQR("", 256)
	assert.ErrorIs(t, err, ErrNoPairingCode)
}
