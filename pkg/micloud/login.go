package micloud

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Login runs the C5 state machine: steps 1-3, with optional CAPTCHA and
// 2FA sub-flows, populating the session's secrets on success (spec.md
// §4.5). One httpSession (one cookie jar) is used for the whole call and
// discarded afterwards.
func (s *Session) Login(ctx context.Context, username, password string) error {
	hs, err := newHTTPSession(s.userAgent)
	if err != nil {
		return fmt.Errorf("micloud: login: %w", err)
	}

	if err := seedPreStepCookies(hs, username, s.clientID); err != nil {
		return fmt.Errorf("micloud: login: %w", err)
	}

	passwordMD5 := hashPasswordMD5(password)

	sign, err := s.step1WithCaptcha(ctx, hs, username)
	if err != nil {
		return err
	}

	res2, err := s.step2WithCaptcha(ctx, hs, username, passwordMD5, sign)
	if err != nil {
		return err
	}

	var serviceToken, userID, ssecurity string

	if res2.notificationURL != "" {
		serviceToken, userID, ssecurity, err = s.twoFactorFlow(ctx, hs, res2.notificationURL)
		if err != nil {
			return err
		}
	} else {
		serviceToken, err = s.step3(ctx, hs, res2.location)
		if err != nil {
			return err
		}
		userID = strconv.FormatInt(res2.userID, 10)
		ssecurity = res2.ssecurity
	}

	s.mu.Lock()
	s.username = username
	s.passwordMD5 = passwordMD5
	s.ssecurity = ssecurity
	s.userID = userID
	s.serviceToken = serviceToken
	s.mu.Unlock()

	return nil
}

func hashPasswordMD5(password string) string {
	sum := md5.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func seedPreStepCookies(hs *httpSession, username, clientID string) error {
	u, err := url.Parse("https://account.xiaomi.com")
	if err != nil {
		return err
	}
	hs.jar.SetCookies(u, []*http.Cookie{
		{Name: "userId", Value: username},
		{Name: "deviceId", Value: clientID},
	})
	return nil
}

// step1WithCaptcha runs login step 1, looping through the CAPTCHA
// sub-flow until a _sign is produced or the user cancels.
func (s *Session) step1WithCaptcha(ctx context.Context, hs *httpSession, username string) (string, error) {
	captCode := ""
	for {
		sign, captchaURL, err := s.loginStep1(ctx, hs, username, captCode)
		if err != nil {
			return "", err
		}
		if captchaURL == "" {
			return sign, nil
		}

		code, err := s.resolveCaptcha(ctx, captchaURL)
		if err != nil {
			return "", err
		}
		captCode = code
	}
}

func (s *Session) loginStep1(ctx context.Context, hs *httpSession, username, captCode string) (sign, captchaURL string, err error) {
	base := s.urls.LoginStep1
	if base == "" {
		base = defaultLoginStep1
	}

	q := url.Values{
		"sid":     {"xiaomiio"},
		"_json":   {"true"},
		"_locale": {"en_US"},
	}
	if captCode != "" {
		q.Set("captCode", captCode)
	}

	req, err := hs.newRequest(http.MethodGet, base+"?"+q.Encode())
	if err != nil {
		return "", "", err
	}
	req = req.WithContext(ctx)

	res, err := hs.follow.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("micloud: login step 1: %w", ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", "", fmt.Errorf("micloud: login step 1: read body: %w", ErrTransportFailure)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", "", fmt.Errorf("micloud: login step 1: status %d: %w", res.StatusCode, ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return "", "", fmt.Errorf("micloud: login step 1: %w", err)
	}

	if u, ok := data["captchaUrl"].(string); ok && u != "" {
		return "", u, nil
	}

	sign, ok := data["_sign"].(string)
	if !ok || sign == "" {
		return "", "", fmt.Errorf("micloud: login step 1: missing _sign: %w", ErrProtocolViolation)
	}

	return sign, "", nil
}

type step2Result struct {
	ssecurity       string
	userID          int64
	location        string
	notificationURL string
}

// step2WithCaptcha runs login step 2, looping through the CAPTCHA
// sub-flow exactly like step 1.
func (s *Session) step2WithCaptcha(ctx context.Context, hs *httpSession, username, passwordMD5, sign string) (step2Result, error) {
	captCode := ""
	for {
		res, captchaURL, err := s.loginStep2(ctx, hs, username, passwordMD5, sign, captCode)
		if err != nil {
			return step2Result{}, err
		}
		if captchaURL == "" {
			return res, nil
		}

		code, err := s.resolveCaptcha(ctx, captchaURL)
		if err != nil {
			return step2Result{}, err
		}
		captCode = code
	}
}

func (s *Session) loginStep2(ctx context.Context, hs *httpSession, username, passwordMD5, sign, captCode string) (res step2Result, captchaURL string, err error) {
	base := s.urls.LoginStep2
	if base == "" {
		base = defaultLoginStep2
	}

	form := url.Values{
		"hash":     {passwordMD5},
		"_json":    {"true"},
		"sid":      {"xiaomiio"},
		"callback": {"https://sts.api.io.mi.com/sts"},
		"qs":       {"%3Fsid%3Dxiaomiio%26_json%3Dtrue"},
		"_sign":    {sign},
		"user":     {username},
		"captCode": {captCode},
	}

	req, err := http.NewRequest(http.MethodPost, base, strings.NewReader(form.Encode()))
	if err != nil {
		return step2Result{}, "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hs.follow.Do(req)
	if err != nil {
		return step2Result{}, "", fmt.Errorf("micloud: login step 2: %w", ErrTransportFailure)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return step2Result{}, "", fmt.Errorf("micloud: login step 2: read body: %w", ErrTransportFailure)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return step2Result{}, "", fmt.Errorf("micloud: login step 2: status %d: %w", resp.StatusCode, ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return step2Result{}, "", fmt.Errorf("micloud: login step 2: %w", err)
	}

	if u, ok := data["captchaUrl"].(string); ok && u != "" {
		return step2Result{}, u, nil
	}

	if notif, ok := data["notificationUrl"].(string); ok && notif != "" {
		return step2Result{notificationURL: notif}, "", nil
	}

	ssecurity, hasSsecurity := data["ssecurity"].(string)
	userIDFloat, hasUserID := data["userId"].(float64)
	location, hasLocation := data["location"].(string)

	if !hasSsecurity || !hasUserID || !hasLocation {
		return step2Result{}, "", fmt.Errorf("micloud: login step 2: %w", ErrProtocolViolation)
	}

	return step2Result{ssecurity: ssecurity, userID: int64(userIDFloat), location: location}, "", nil
}

// step3 GETs location via the redirect-following client and harvests the
// serviceToken cookie off the response (spec.md §4.5 step 3).
func (s *Session) step3(ctx context.Context, hs *httpSession, location string) (string, error) {
	req, err := hs.newRequest(http.MethodGet, location)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)

	res, err := hs.follow.Do(req)
	if err != nil {
		return "", fmt.Errorf("micloud: login step 3: %w", ErrTransportFailure)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	token, ok := cookieFromResponseOrJar(hs, res, "serviceToken")
	if !ok {
		return "", fmt.Errorf("micloud: login step 3: missing serviceToken: %w", ErrProtocolViolation)
	}

	return token, nil
}

// cookieFromResponseOrJar looks first at the Set-Cookie headers on res
// (the value may never have round-tripped back into the jar if the
// request's URL didn't match the cookie's domain), falling back to the
// jar entry for res.Request.URL.
func cookieFromResponseOrJar(hs *httpSession, res *http.Response, name string) (string, bool) {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	if res.Request != nil {
		if v, ok := ExtractCookie(hs.jar, res.Request.URL, name); ok {
			return v, true
		}
	}
	return "", false
}
