package micloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// oauth2AuthorizeBaseForTest and serviceLoginAuth2BaseForTest let tests
// redirect the OAuth2 sub-flow at an httptest.Server instead of the real
// account.xiaomi.com hosts, mirroring resolveBaseURL in rpc.go.
var (
	oauth2AuthorizeBaseForTest   = "https://account.xiaomi.com"
	serviceLoginAuth2BaseForTest = "https://account.xiaomi.com"
)

// LinkThirdParty runs the OAuth2 authorize sub-flow used by third-party
// apps that link a Xiaomi account instead of calling Login directly:
// GET the authorize endpoint, follow its embedded oauthLoginUrl to reach
// a normal step-1 response, POST step 2's credentials, then GET step 2's
// location on the no-redirect client and read the "code" query param off
// that response's Location header. Grounded on pkg/xiaomi/auth.go's OAuth2 and
// oauth2Authorize.
func LinkThirdParty(ctx context.Context, params, username, password string) (code string, err error) {
	hs, err := newHTTPSession(New().userAgent)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: %w", err)
	}

	sign, callback, sid, qs, err := oauth2Authorize(ctx, hs, params)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: %w", err)
	}

	passwordMD5 := hashPasswordMD5(password)

	form := url.Values{
		"_json":    {"true"},
		"hash":     {passwordMD5},
		"sid":      {sid},
		"callback": {callback},
		"_sign":    {sign},
		"qs":       {qs},
		"user":     {username},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceLoginAuth2BaseForTest+"/pass/serviceLoginAuth2", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: %w", err)
	}
	req.Header.Set("User-Agent", hs.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := hs.follow.Do(req)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: step 2: %w", ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: step 2: read body: %w", ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: step 2: %w", err)
	}
	location, ok := data["location"].(string)
	if !ok || location == "" {
		return "", fmt.Errorf("micloud: oauth2: step 2: missing location: %w", ErrProtocolViolation)
	}

	_, finalLoc, err := noRedirectGet(ctx, hs.noRedirect, location)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: final redirect: %w", err)
	}
	if finalLoc == "" {
		return "", fmt.Errorf("micloud: oauth2: missing final Location: %w", ErrProtocolViolation)
	}

	finalURL, err := url.Parse(finalLoc)
	if err != nil {
		return "", fmt.Errorf("micloud: oauth2: malformed final Location: %w", ErrProtocolViolation)
	}
	code = finalURL.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("micloud: oauth2: malformed final Location: %w", ErrProtocolViolation)
	}

	return code, nil
}

// oauth2Authorize follows the two-hop authorize handshake and returns the
// _sign/callback/sid/qs fields a normal step 2 POST needs.
func oauth2Authorize(ctx context.Context, hs *httpSession, params string) (sign, callback, sid, qs string, err error) {
	authorizeURL := oauth2AuthorizeBaseForTest + "/oauth2/authorize?" + params

	req, err := hs.newRequest(http.MethodGet, authorizeURL)
	if err != nil {
		return "", "", "", "", err
	}
	req = req.WithContext(ctx)

	res, err := hs.follow.Do(req)
	if err != nil {
		return "", "", "", "", fmt.Errorf("%w", ErrTransportFailure)
	}
	body, err := drainBody(res)
	if err != nil {
		return "", "", "", "", err
	}

	var authorizeResp struct {
		Data struct {
			OauthLoginURL string `json:"oauthLoginUrl"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(string(body), responseSentinel)), &authorizeResp); err != nil {
		return "", "", "", "", fmt.Errorf("%w", ErrMalformedResponse)
	}
	if authorizeResp.Data.OauthLoginURL == "" {
		return "", "", "", "", fmt.Errorf("missing oauthLoginUrl: %w", ErrProtocolViolation)
	}

	loginReq, err := hs.newRequest(http.MethodGet, authorizeResp.Data.OauthLoginURL)
	if err != nil {
		return "", "", "", "", err
	}
	loginReq = loginReq.WithContext(ctx)

	loginRes, err := hs.follow.Do(loginReq)
	if err != nil {
		return "", "", "", "", fmt.Errorf("%w", ErrTransportFailure)
	}
	loginBody, err := drainBody(loginRes)
	if err != nil {
		return "", "", "", "", err
	}

	data, err := ParseServerJSON(string(loginBody))
	if err != nil {
		return "", "", "", "", err
	}

	sign, _ = data["_sign"].(string)
	callback, _ = data["callback"].(string)
	sid, _ = data["sid"].(string)
	qs, _ = data["qs"].(string)
	if sign == "" || sid == "" {
		return "", "", "", "", fmt.Errorf("missing _sign/sid: %w", ErrProtocolViolation)
	}

	return sign, callback, sid, qs, nil
}

func drainBody(res *http.Response) ([]byte, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w", ErrTransportFailure)
	}
	return body, nil
}
