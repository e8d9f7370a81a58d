package micloud

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const responseSentinel = "&&&START&&&"

// ParseServerJSON strips the "&&&START&&&" sentinel prefix (if present)
// and parses the remainder as JSON (spec.md §4.2, §6).
func ParseServerJSON(text string) (map[string]any, error) {
	text = strings.TrimPrefix(text, responseSentinel)

	var v map[string]any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("micloud: parse server json: %w", ErrMalformedResponse)
	}
	return v, nil
}

// FormURLEncode encodes only the top-level keys of flat in iteration
// order (sorted, to stay deterministic): strings verbatim, booleans as
// true/false, numbers in natural JSON form, and objects/arrays as their
// compact JSON form — each URL-encoded — joined with "&" (spec.md §4.2,
// §8.2).
func FormURLEncode(flat map[string]any) (string, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s, err := stringifyTopLevel(flat[k])
		if err != nil {
			return "", fmt.Errorf("micloud: form-encode key %q: %w", k, err)
		}
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(s))
	}

	return strings.Join(parts, "&"), nil
}

func stringifyTopLevel(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// ExtractCookie returns the value of the first cookie named name
// attached to u within jar, or ok=false if absent.
func ExtractCookie(jar http.CookieJar, u *url.URL, name string) (value string, ok bool) {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
