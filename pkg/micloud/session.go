package micloud

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

const (
	agentSuffixChars = "ABCDEF"
	agentSuffixLen   = 13
	locale           = "en"
)

// Urls holds the two login endpoints. The device-API base is not part of
// it: call resolves that from the region via regionBaseURL. Overridable on a Session for tests; production code should leave it at
// the zero value (the empty login endpoints fall back to the fixed
// production ones).
type Urls struct {
	LoginStep1 string
	LoginStep2 string
}

const (
	defaultLoginStep1 = "https://account.xiaomi.com/pass/serviceLogin"
	defaultLoginStep2 = "https://account.xiaomi.com/pass/serviceLoginAuth2"
)

// Session owns all per-user state for one Mi Cloud account (spec.md §3).
// All exported operations are safe to call from multiple goroutines; a
// single mutex serializes mutation of session fields, matching spec.md
// §5's "one writer at a time" requirement and design note on the
// original's unsynchronized global mutation.
type Session struct {
	mu sync.Mutex

	region       string
	username     string
	passwordMD5  string
	ssecurity    string
	userID       string
	serviceToken string

	userAgent string
	clientID  string
	urls      Urls

	captchaSlot Coordinator[string]
	twoFASlot   Coordinator[string]

	captchaHandler   func(url string)
	twoFactorHandler func(flag, lastError string)
}

// New constructs a Session with a freshly chosen user agent and client
// ID, region defaulted to "cn" (spec.md §3).
func New() *Session {
	return &Session{
		region:    "cn",
		userAgent: fmt.Sprintf("Android-7.1.1-1.0.0-ONEPLUS A3010-136-%s APP/xiaomi.smarthome APPV/62830", randAgentSuffix()),
		clientID:  "android_" + uuid.NewString(),
	}
}

func randAgentSuffix() string {
	b := make([]byte, agentSuffixLen)
	for i := range b {
		b[i] = agentSuffixChars[rand.Intn(len(agentSuffixChars))]
	}
	return string(b)
}

// GetRegions returns the closed, order-preserved region set (spec.md §6).
func (s *Session) GetRegions() []Region {
	out := make([]Region, len(Regions))
	copy(out, Regions)
	return out
}

// SetRegion changes the active region; silently ignored if tag is not in
// the supported set.
func (s *Session) SetRegion(tag string) {
	if !IsSupportedRegion(tag) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.region = tag
}

// Region returns the currently selected region tag.
func (s *Session) Region() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// IsAuthenticated reports whether login has populated the session's
// secrets.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceToken != ""
}

// UserID returns the numeric account id as a string, empty before login.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// OnCaptchaRequested installs the CAPTCHA handler: invoked with the full
// CAPTCHA URL whenever a login needs one. The driver is expected to
// eventually call CaptchaSolve or CaptchaCancel.
func (s *Session) OnCaptchaRequested(handler func(url string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captchaHandler = handler
}

// OnTwoFactorRequested installs the 2FA handler: invoked with the channel
// flag ("4" = phone, else email) and the last error message (empty on
// the first prompt). The driver is expected to eventually call
// TwoFactorSolve or TwoFactorCancel.
func (s *Session) OnTwoFactorRequested(handler func(flag, lastError string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twoFactorHandler = handler
}

// CaptchaSolve delivers a solved CAPTCHA code to the pending login.
func (s *Session) CaptchaSolve(code string) { s.captchaSlot.Solve(code) }

// CaptchaCancel abandons a pending CAPTCHA challenge.
func (s *Session) CaptchaCancel() { s.captchaSlot.Cancel() }

// TwoFactorSolve delivers a solved 2FA ticket code to the pending login.
func (s *Session) TwoFactorSolve(code string) { s.twoFASlot.Solve(code) }

// TwoFactorCancel abandons a pending 2FA challenge.
func (s *Session) TwoFactorCancel() { s.twoFASlot.Cancel() }
