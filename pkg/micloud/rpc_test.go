package micloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authenticatedSession() *Session {
	s := New()
	s.region = "cn"
	s.serviceToken = "T"
	s.ssecurity = "c2VjdXJpdHk=" // base64("security")
	s.userID = "1"
	return s
}

func withStubBaseURL(t *testing.T, server *httptest.Server) {
	t.Helper()
	orig := resolveBaseURL
	resolveBaseURL = func(string) string { return server.URL }
	t.Cleanup(func() { resolveBaseURL = orig })
}

func TestCallNotAuthenticated(t *testing.T) {
	s := New()
	_, err := s.GetDevices(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCallUnsupportedRegion(t *testing.T) {
	s := authenticatedSession()
	_, err := s.GetDevices(context.Background(), nil, "xx")
	assert.ErrorIs(t, err, ErrUnsupportedRegion)
}

func TestCallServerRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer server.Close()
	withStubBaseURL(t, server)

	s := authenticatedSession()

	_, err := s.call(context.Background(), "/home/device_list", map[string]any{}, "", "fallback")
	require.Error(t, err)

	var rejected *ServerRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "boom", rejected.Message)
}

func TestCallServerRejectedUsesFallbackMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{}}`)
	}))
	defer server.Close()
	withStubBaseURL(t, server)

	s := authenticatedSession()

	_, err := s.call(context.Background(), "/home/device_list", map[string]any{}, "", "fallback message")
	require.Error(t, err)

	var rejected *ServerRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "fallback message", rejected.Message)
}

func TestGetDevicesParsesListAndExtra(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"list":[{"did":"123","name":"Lamp","model":"yeelink.light.color1","isOnline":true,"extraField":"x"}]}}`)
	}))
	defer server.Close()
	withStubBaseURL(t, server)

	s := authenticatedSession()

	devices, err := s.GetDevices(context.Background(), nil, "")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "123", devices[0].Did)
	assert.Equal(t, "yeelink.light.color1", devices[0].Model)
	assert.True(t, devices[0].IsOnline)
	assert.JSONEq(t, `"x"`, string(devices[0].Extra["extraField"]))
}

func TestCallSignsOverParsedObjectNotJSONText(t *testing.T) {
	var gotNonce, gotData, gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotNonce = r.Form.Get("_nonce")
		gotData = r.Form.Get("data")
		gotSignature = r.Form.Get("signature")
		fmt.Fprint(w, `{"result":{"ok":true}}`)
	}))
	defer server.Close()
	withStubBaseURL(t, server)

	s := authenticatedSession()
	_, err := s.call(context.Background(), "/home/device_list", map[string]any{"getVirtualModel": false}, "", "fallback")
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotData), &data))

	signedNonce, err := SignedNonce(s.ssecurity, gotNonce)
	require.NoError(t, err)
	wantSignature, err := GenerateSignature("/home/device_list", signedNonce, gotNonce, map[string]any{"data": data})
	require.NoError(t, err)

	assert.Equal(t, wantSignature, gotSignature)
}

func TestCallDeviceBuildsRPCPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"result":{"ok":true}}`)
	}))
	defer server.Close()
	withStubBaseURL(t, server)

	s := authenticatedSession()
	_, err := s.CallDevice(context.Background(), "dev1", "get_prop", []string{"power"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/home/rpc/dev1", gotPath)
}
