package micloud

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedNonce(t *testing.T) {
	got, err := SignedNonce("9wR21gAtfAyn+KDX1ok/Iw==", "BejIOTLgvecBs9sT")
	require.NoError(t, err)
	assert.Equal(t, "zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=", got)
}

func TestGenerateSignature(t *testing.T) {
	sig, err := GenerateSignature(
		"/home/device_list",
		"zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=",
		"BejIOTLgvecBs9sT",
		map[string]any{"data": map[string]any{"getVirtualModel": false, "getHuamiDevices": 0}},
	)
	require.NoError(t, err)
	assert.Equal(t, "6KEUC7sycg/Vhh0Jz7bZqT1JCza7bv36B3WcKnuW9J8=", sig)
}

func TestGenerateSignatureIgnoresKeyOrder(t *testing.T) {
	params1 := map[string]any{"a": 1, "b": 2}
	params2 := map[string]any{"b": 2, "a": 1}

	sig1, err := GenerateSignature("/p", "c25lZA==", "bm9uY2U=", params1)
	require.NoError(t, err)
	sig2, err := GenerateSignature("/p", "c25lZA==", "bm9uY2U=", params2)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
}

func TestSignedNonceRejectsInvalidBase64(t *testing.T) {
	_, err := SignedNonce("not-base64!!", "BejIOTLgvecBs9sT")
	assert.ErrorIs(t, err, ErrMalformedSecret)
}

func TestGenerateNonceShape(t *testing.T) {
	n1, err := GenerateNonce()
	require.NoError(t, err)
	n2, err := GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2, "nonce must not repeat across calls")

	raw, err := base64.StdEncoding.DecodeString(n1)
	require.NoError(t, err)
	assert.Len(t, raw, 12)
}
