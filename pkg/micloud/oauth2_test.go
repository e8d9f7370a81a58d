package micloud

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkThirdPartyHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/authorize", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `&&&START&&&{"data":{"oauthLoginUrl":"http://%s/login1"}}`, r.Host)
	})
	mux.HandleFunc("/login1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `&&&START&&&{"_sign":"X","callback":"https://sts.api.io.mi.com/sts","sid":"oauth2","qs":"%3Fsid%3Doauth2"}`)
	})
	mux.HandleFunc("/pass/serviceLoginAuth2", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "X", r.Form.Get("_sign"))
		fmt.Fprintf(w, `&&&START&&&{"location":"http://%s/redirect"}`, r.Host)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://open.account.xiaomi.com/oauth2/authorize?code=abc123")
		w.WriteHeader(http.StatusFound)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	oldAuthorize := oauth2AuthorizeBaseForTest
	oauth2AuthorizeBaseForTest = server.URL
	defer func() { oauth2AuthorizeBaseForTest = oldAuthorize }()

	oldLogin := serviceLoginAuth2BaseForTest
	serviceLoginAuth2BaseForTest = server.URL
	defer func() { serviceLoginAuth2BaseForTest = oldLogin }()

	code, err := LinkThirdParty(context.Background(), "client_id=1", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
}
