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

func TestLoginHappyPath(t *testing.T) {
	var step1Calls int

	mux := http.NewServeMux()
	mux.HandleFunc("/step1", func(w http.ResponseWriter, r *http.Request) {
		step1Calls++
		fmt.Fprint(w, `&&&START&&&{"_sign":"X"}`)
	})
	mux.HandleFunc("/step2", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "X", r.Form.Get("_sign"))
		fmt.Fprintf(w, `&&&START&&&{"ssecurity":"zzz","userId":42,"location":"%s/step3"}`, testServerURL(r))
	})
	mux.HandleFunc("/step3", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "serviceToken", Value: "T"})
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.urls = Urls{LoginStep1: server.URL + "/step1", LoginStep2: server.URL + "/step2"}

	err := s.Login(context.Background(), "u", "p")
	require.NoError(t, err)

	assert.Equal(t, "42", s.UserID())
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, 1, step1Calls)
}

func TestLoginCaptchaRetry(t *testing.T) {
	var step1Calls int

	mux := http.NewServeMux()
	mux.HandleFunc("/step1", func(w http.ResponseWriter, r *http.Request) {
		step1Calls++
		if r.URL.Query().Get("captCode") == "" {
			fmt.Fprint(w, `&&&START&&&{"captchaUrl":"/c"}`)
			return
		}
		assert.Equal(t, "ABCD", r.URL.Query().Get("captCode"))
		fmt.Fprint(w, `&&&START&&&{"_sign":"X"}`)
	})
	mux.HandleFunc("/step2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `&&&START&&&{"ssecurity":"zzz","userId":7,"location":"%s/step3"}`, testServerURL(r))
	})
	mux.HandleFunc("/step3", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "serviceToken", Value: "T2"})
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.urls = Urls{LoginStep1: server.URL + "/step1", LoginStep2: server.URL + "/step2"}
	s.OnCaptchaRequested(func(url string) {
		assert.Equal(t, "https://account.xiaomi.com/c", url)
		s.CaptchaSolve("ABCD")
	})

	err := s.Login(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "7", s.UserID())
	assert.Equal(t, 2, step1Calls)
}

func TestLoginCaptchaCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/step1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `&&&START&&&{"captchaUrl":"/c"}`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.urls = Urls{LoginStep1: server.URL + "/step1"}
	s.OnCaptchaRequested(func(url string) {
		assert.Equal(t, "https://account.xiaomi.com/c", url)
		s.CaptchaCancel()
	})

	err := s.Login(context.Background(), "u", "p")
	assert.ErrorIs(t, err, ErrCaptchaCancelled)
}

func TestLoginStep1MissingSignIsProtocolViolation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/step1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `&&&START&&&{}`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.urls = Urls{LoginStep1: server.URL + "/step1"}

	err := s.Login(context.Background(), "u", "p")
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func testServerURL(r *http.Request) string {
	return "http://" + r.Host
}
