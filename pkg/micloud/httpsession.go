package micloud

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// httpSession is the C4 component: a cookie-jar-backed redirect-following
// client plus a no-redirect sibling sharing the same jar, scoped to one
// login attempt. Grounded on pkg/garmin/client.go and pkg/tanita/client.go
// (cookiejar.New(nil) + &http.Client{Timeout: time.Minute, Jar: jar}) and
// on pkg/xiaomi/auth.go's OAuth2, which stops following redirects after a
// fixed hop count — generalized here into a client that never follows at
// all, used whenever only headers off a 3xx response matter.
type httpSession struct {
	jar        http.CookieJar
	follow     *http.Client
	noRedirect *http.Client
	userAgent  string
}

func newHTTPSession(userAgent string) (*httpSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &httpSession{
		jar: jar,
		follow: &http.Client{
			Timeout: time.Minute,
			Jar:     jar,
		},
		noRedirect: &http.Client{
			Timeout: time.Minute,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}, nil
}

func (s *httpSession) newRequest(method, url string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	return req, nil
}
