package micloud

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerJSONStripsSentinel(t *testing.T) {
	data, err := ParseServerJSON(`&&&START&&&{"ok":true}`)
	require.NoError(t, err)
	assert.Equal(t, true, data["ok"])
}

func TestParseServerJSONWithoutSentinel(t *testing.T) {
	data, err := ParseServerJSON(`{"ok":true}`)
	require.NoError(t, err)
	assert.Equal(t, true, data["ok"])
}

func TestParseServerJSONMalformed(t *testing.T) {
	_, err := ParseServerJSON(`&&&START&&&not json`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFormURLEncode(t *testing.T) {
	got, err := FormURLEncode(map[string]any{
		"_nonce":    "BejIOTLgvecBs9sT",
		"data":      map[string]any{"getVirtualModel": false, "getHuamiDevices": 0},
		"signature": "6KEUC7sycg/Vhh0Jz7bZqT1JCza7bv36B3WcKnuW9J8=",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"_nonce=BejIOTLgvecBs9sT&data=%7B%22getHuamiDevices%22%3A0%2C%22getVirtualModel%22%3Afalse%7D&signature=6KEUC7sycg%2FVhh0Jz7bZqT1JCza7bv36B3WcKnuW9J8%3D",
		got,
	)
}

func TestExtractCookie(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	u, err := url.Parse("https://account.xiaomi.com")
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{})

	_, ok := ExtractCookie(jar, u, "serviceToken")
	assert.False(t, ok)
}
