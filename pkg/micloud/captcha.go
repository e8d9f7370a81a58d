package micloud

import (
	"context"
	"fmt"
	"strings"
)

// resolveCaptcha publishes the full CAPTCHA URL to the installed handler
// and blocks until the driver calls CaptchaSolve or CaptchaCancel (or ctx
// is cancelled). captchaURL as returned by step 1/2 is relative to
// account.xiaomi.com (spec.md §4.5, §8 scenario 5); the handler is
// promised a full URL (session.go's OnCaptchaRequested), so it is
// qualified here before publishing. Grounded on
// original_source/src-tauri/miio/src/captcha.rs's CaptchaState and
// src-tauri/cli/src/main.rs's captcha handler wiring.
func (s *Session) resolveCaptcha(ctx context.Context, captchaURL string) (string, error) {
	s.mu.Lock()
	handler := s.captchaHandler
	s.mu.Unlock()

	if handler == nil {
		return "", fmt.Errorf("micloud: captcha required but no handler installed: %w", ErrCaptchaCancelled)
	}

	fullURL := qualifyCaptchaURL(captchaURL)

	outcome, err := s.captchaSlot.RequestSolve(ctx, fullURL, handler)
	if err != nil {
		return "", fmt.Errorf("micloud: captcha: %w", err)
	}
	if outcome.Cancelled {
		return "", ErrCaptchaCancelled
	}

	return outcome.Value, nil
}

// qualifyCaptchaURL prefixes captchaUrl with the account host per spec.md
// §4.5 ("https://account.xiaomi.com" + captchaUrl). Login step 1/2 only
// ever return a relative path (§8 scenario 5), but an already-absolute
// URL is passed through unchanged rather than double-prefixed.
func qualifyCaptchaURL(captchaURL string) string {
	if strings.HasPrefix(captchaURL, "http://") || strings.HasPrefix(captchaURL, "https://") {
		return captchaURL
	}
	return "https://account.xiaomi.com" + captchaURL
}
