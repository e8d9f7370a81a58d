package micloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var finishLocPattern = regexp.MustCompile(`https://account\.xiaomi\.com/identity/result/check\?[^"']+`)

// twoFactorFlow runs the full 2FA sub-flow (spec.md §4.5) starting from
// step 2's notificationUrl, returning the harvested serviceToken, userId,
// and ssecurity. Grounded on original_source/src-tauri/miio/src/lib.rs's
// login_step3 2FA branch and src-tauri/miio/src/async_challenge.rs for the
// slot contract.
func (s *Session) twoFactorFlow(ctx context.Context, hs *httpSession, notificationURL string) (serviceToken, userID, ssecurity string, err error) {
	parsed, err := url.Parse(notificationURL)
	if err != nil {
		return "", "", "", fmt.Errorf("micloud: 2fa: %w", ErrProtocolViolation)
	}
	context_ := parsed.Query().Get("context")
	if context_ == "" {
		return "", "", "", fmt.Errorf("micloud: 2fa: missing context: %w", ErrProtocolViolation)
	}

	if err := getDiscard(ctx, hs.follow, notificationURL); err != nil {
		return "", "", "", fmt.Errorf("micloud: 2fa: init: %w", err)
	}

	flag, err := s.identityList(ctx, hs, context_, notificationURL)
	if err != nil {
		return "", "", "", err
	}

	if err := s.sendTicket(ctx, hs, flag); err != nil {
		return "", "", "", err
	}

	verifyLocation, err := s.verifyTicketLoop(ctx, hs, flag)
	if err != nil {
		return "", "", "", err
	}

	finishLoc, err := s.resolveFinishLoc(ctx, hs, context_, verifyLocation)
	if err != nil {
		return "", "", "", err
	}

	endURL := finishLoc
	if strings.Contains(finishLoc, "identity/result/check") {
		_, loc, err := noRedirectGet(ctx, hs.noRedirect, finishLoc)
		if err != nil {
			return "", "", "", fmt.Errorf("micloud: 2fa: finish_loc: %w", err)
		}
		if loc == "" {
			return "", "", "", fmt.Errorf("micloud: 2fa: finish_loc: no Location: %w", ErrProtocolViolation)
		}
		endURL = loc
	}

	res, body, err := noRedirectGetFull(ctx, hs.noRedirect, endURL)
	if err != nil {
		return "", "", "", fmt.Errorf("micloud: 2fa: end_url: %w", err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 && strings.Contains(body, "Xiaomi Account - Tips") {
		res, body, err = noRedirectGetFull(ctx, hs.noRedirect, endURL)
		if err != nil {
			return "", "", "", fmt.Errorf("micloud: 2fa: end_url retry: %w", err)
		}
	}

	ssecurity, err = extractSsecurityFromHeader(res)
	if err != nil {
		return "", "", "", err
	}

	stsURL, err := resolveSTSURL(res, body)
	if err != nil {
		return "", "", "", err
	}

	stsReq, err := hs.newRequest(http.MethodGet, stsURL)
	if err != nil {
		return "", "", "", err
	}
	stsReq = stsReq.WithContext(ctx)
	stsRes, err := hs.follow.Do(stsReq)
	if err != nil {
		return "", "", "", fmt.Errorf("micloud: 2fa: sts: %w", ErrTransportFailure)
	}
	defer stsRes.Body.Close()
	io.Copy(io.Discard, stsRes.Body)

	stsU, _ := url.Parse("https://sts.api.io.mi.com")
	token, ok := ExtractCookie(hs.jar, stsU, "serviceToken")
	if !ok {
		return "", "", "", fmt.Errorf("micloud: 2fa: missing serviceToken cookie: %w", ErrProtocolViolation)
	}

	acctU, _ := url.Parse("https://account.xiaomi.com/")
	userIDStr, ok := ExtractCookie(hs.jar, acctU, "userId")
	if !ok {
		return "", "", "", fmt.Errorf("micloud: 2fa: missing userId cookie: %w", ErrProtocolViolation)
	}
	if _, err := strconv.ParseInt(userIDStr, 10, 64); err != nil {
		return "", "", "", fmt.Errorf("micloud: 2fa: userId not an integer: %w", ErrProtocolViolation)
	}

	return token, userIDStr, ssecurity, nil
}

func (s *Session) identityList(ctx context.Context, hs *httpSession, context_, notificationURL string) (flag int64, err error) {
	q := url.Values{
		"sid":           {"xiaomiio"},
		"context":       {context_},
		"supportedMask": {"0"},
	}
	listURL := "https://account.xiaomi.com/identity/list?" + q.Encode()

	req, err := hs.newRequest(http.MethodGet, listURL)
	if err != nil {
		return 0, err
	}
	req = req.WithContext(ctx)

	res, err := hs.follow.Do(req)
	if err != nil {
		return 0, fmt.Errorf("micloud: 2fa: identity/list: %w", ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("micloud: 2fa: identity/list: read body: %w", ErrTransportFailure)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, fmt.Errorf("micloud: 2fa: identity/list: status %d: %w", res.StatusCode, ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return 0, fmt.Errorf("micloud: 2fa: identity/list: %w", err)
	}

	options, _ := data["options"].([]any)
	if len(options) == 0 {
		return 0, fmt.Errorf("micloud: 2fa: account not configured for two-factor (see %s): %w", notificationURL, ErrAccountNotConfigured)
	}

	flagFloat, ok := data["flag"].(float64)
	if !ok {
		return 0, fmt.Errorf("micloud: 2fa: identity/list: missing flag: %w", ErrProtocolViolation)
	}

	return int64(flagFloat), nil
}

func (s *Session) sendTicket(ctx context.Context, hs *httpSession, flag int64) error {
	endpoint := "sendEmailTicket"
	if flag == 4 {
		endpoint = "sendPhoneTicket"
	}

	dc := strconv.FormatInt(time.Now().UnixMilli(), 10)
	reqURL := fmt.Sprintf("https://account.xiaomi.com/identity/auth/%s?_dc=%s", endpoint, dc)
	form := "retry=0&icode=&_json=true"

	req, err := http.NewRequest(http.MethodPost, reqURL, strings.NewReader(form))
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", hs.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := hs.follow.Do(req)
	if err != nil {
		return fmt.Errorf("micloud: 2fa: %s: %w", endpoint, ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("micloud: 2fa: %s: read body: %w", endpoint, ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return fmt.Errorf("micloud: 2fa: %s: %w", endpoint, err)
	}

	code, _ := data["code"].(float64)
	if code != 0 {
		return fmt.Errorf("micloud: 2fa: %s rejected: %w", endpoint, ErrTwoFactorSendFailed)
	}

	return nil
}

func (s *Session) verifyTicketLoop(ctx context.Context, hs *httpSession, flag int64) (string, error) {
	endpoint := "verifyEmail"
	if flag == 4 {
		endpoint = "verifyPhone"
	}
	flagStr := strconv.FormatInt(flag, 10)

	s.mu.Lock()
	handler := s.twoFactorHandler
	s.mu.Unlock()
	if handler == nil {
		return "", fmt.Errorf("micloud: 2fa: %w", ErrTwoFactorUnsupported)
	}

	lastError := ""
	for {
		outcome, err := s.twoFASlot.RequestSolve(ctx, flagStr, func(string) {
			handler(flagStr, lastError)
		})
		if err != nil {
			return "", fmt.Errorf("micloud: 2fa: %w", err)
		}
		if outcome.Cancelled {
			return "", ErrTwoFactorCancelled
		}

		code, location, err := s.verifyTicket(ctx, hs, endpoint, flagStr, outcome.Value)
		if err != nil {
			return "", err
		}
		if code == 70014 {
			lastError = "Incorrect code. Please try again."
			continue
		}
		if code != 0 {
			return "", fmt.Errorf("micloud: 2fa: %w", ErrTwoFactorRejected)
		}
		return location, nil
	}
}

func (s *Session) verifyTicket(ctx context.Context, hs *httpSession, endpoint, flagStr, ticket string) (code int64, location string, err error) {
	dc := strconv.FormatInt(time.Now().UnixMilli(), 10)
	reqURL := fmt.Sprintf("https://account.xiaomi.com/identity/auth/%s?_dc=%s", endpoint, dc)
	form := url.Values{
		"_flag":  {flagStr},
		"ticket": {ticket},
		"trust":  {"false"},
		"_json":  {"true"},
	}.Encode()

	req, err := http.NewRequest(http.MethodPost, reqURL, strings.NewReader(form))
	if err != nil {
		return 0, "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", hs.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := hs.follow.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("micloud: 2fa: %s: %w", endpoint, ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, "", fmt.Errorf("micloud: 2fa: %s: read body: %w", endpoint, ErrTransportFailure)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, "", fmt.Errorf("micloud: 2fa: %s: status %d: %w", endpoint, res.StatusCode, ErrTransportFailure)
	}

	data, err := ParseServerJSON(string(body))
	if err != nil {
		return 0, "", fmt.Errorf("micloud: 2fa: %s: %w", endpoint, err)
	}

	codeFloat, ok := data["code"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("micloud: 2fa: %s: missing code: %w", endpoint, ErrProtocolViolation)
	}

	if int64(codeFloat) == 0 {
		location, _ = data["location"].(string)
	}

	return int64(codeFloat), location, nil
}

func (s *Session) resolveFinishLoc(ctx context.Context, hs *httpSession, context_, verifyLocation string) (string, error) {
	if verifyLocation != "" {
		return verifyLocation, nil
	}

	q := url.Values{
		"sid":     {"xiaomiio"},
		"context": {context_},
		"_locale": {"en_US"},
	}
	checkURL := "https://account.xiaomi.com/identity/result/check?" + q.Encode()

	res, body, err := noRedirectGetFull(ctx, hs.noRedirect, checkURL)
	if err == nil {
		if loc := res.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		if m := finishLocPattern.FindString(body); m != "" {
			return m, nil
		}
	}

	_, loc, err := noRedirectGet(ctx, hs.noRedirect, checkURL)
	if err != nil {
		return "", fmt.Errorf("micloud: 2fa: resolve finish_loc: %w", err)
	}
	if loc == "" {
		return "", fmt.Errorf("micloud: 2fa: resolve finish_loc: %w", ErrProtocolViolation)
	}
	return loc, nil
}

func extractSsecurityFromHeader(res *http.Response) (string, error) {
	pragma := res.Header.Get("extension-pragma")
	if pragma == "" {
		return "", fmt.Errorf("micloud: 2fa: missing extension-pragma header: %w", ErrProtocolViolation)
	}

	var v map[string]any
	if err := json.Unmarshal([]byte(pragma), &v); err != nil {
		return "", fmt.Errorf("micloud: 2fa: extension-pragma: %w", ErrMalformedResponse)
	}

	ssecurity, ok := v["ssecurity"].(string)
	if !ok || ssecurity == "" {
		return "", fmt.Errorf("micloud: 2fa: extension-pragma missing ssecurity: %w", ErrProtocolViolation)
	}

	return ssecurity, nil
}

const stsMarker = "https://sts.api.io.mi.com/sts"

func resolveSTSURL(res *http.Response, body string) (string, error) {
	if loc := res.Header.Get("Location"); loc != "" {
		return loc, nil
	}

	if !strings.Contains(body, stsMarker) {
		return "", fmt.Errorf("micloud: 2fa: resolve sts url: %w", ErrProtocolViolation)
	}

	rest := between(body, stsMarker, `"`)
	if len(rest) > 300 {
		rest = rest[:300]
	}

	return stsMarker + rest, nil
}

// between returns the text found strictly after the first occurrence of
// sub1 and up to the next occurrence of sub2 (or the remainder of s if
// sub2 never appears); "" if sub1 is absent. Grounded on pkg/core's
// helpers.go Between, which the teacher used for HTML-scraping login
// tokens — the same find-a-marker-then-slice idiom the STS URL heuristic
// needs.
func between(s, sub1, sub2 string) string {
	i := strings.Index(s, sub1)
	if i < 0 {
		return ""
	}
	s = s[i+len(sub1):]

	if i = strings.Index(s, sub2); i >= 0 {
		return s[:i]
	}
	return s
}

func getDiscard(ctx context.Context, client *http.Client, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w", ErrTransportFailure)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return nil
}

// noRedirectGet issues a GET on a non-following client and returns the
// response together with its Location header (body discarded) — used for
// header-only probes.
func noRedirectGet(ctx context.Context, client *http.Client, rawURL string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w", ErrTransportFailure)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return res, res.Header.Get("Location"), nil
}

// noRedirectGetFull issues a GET on a non-following client and returns
// the full response (body already drained into the returned string) —
// used when both headers and body matter.
func noRedirectGetFull(ctx context.Context, client *http.Client, rawURL string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w", ErrTransportFailure)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w", ErrTransportFailure)
	}
	return res, string(body), nil
}
