package micloud

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GenerateNonce produces 8 random bytes followed by a big-endian 32-bit
// signed minute counter, base64-encoded (spec.md §4.1).
func GenerateNonce() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf[:8]); err != nil {
		return "", fmt.Errorf("micloud: generate nonce: %w", err)
	}

	minute := int32(time.Now().Unix() / 60)
	binary.BigEndian.PutUint32(buf[8:], uint32(minute))

	return base64.StdEncoding.EncodeToString(buf), nil
}

// SignedNonce derives the HMAC key material: base64-decode both inputs,
// concatenate ssecurity||nonce, SHA-256, base64-encode (spec.md §4.1).
func SignedNonce(ssecurity, nonce string) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", fmt.Errorf("micloud: decode ssecurity: %w", ErrMalformedSecret)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("micloud: decode nonce: %w", ErrMalformedSecret)
	}

	h := sha256.New()
	h.Write(secretBytes)
	h.Write(nonceBytes)

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// GenerateSignature builds the token list [path, signedNonce, nonce] plus
// one "key=compactJSON" token per key of params in ascending lexical
// order, joins with "&", and HMAC-SHA256s the result under
// base64_decode(signedNonce) (spec.md §4.1).
func GenerateSignature(path, signedNonce, nonce string, params map[string]any) (string, error) {
	tokens := []string{path, signedNonce, nonce}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		compact, err := compactJSON(params[k])
		if err != nil {
			return "", fmt.Errorf("micloud: encode signature param %q: %w", k, err)
		}
		tokens = append(tokens, k+"="+compact)
	}

	joined := tokens[0]
	for _, t := range tokens[1:] {
		joined += "&" + t
	}

	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return "", fmt.Errorf("micloud: decode signed nonce: %w", ErrMalformedSecret)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(joined))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// compactJSON serializes v the way encoding/json's Marshal does by
// default: no extra whitespace, object keys sorted (Go's json package
// already sorts map[string]any keys during Marshal).
func compactJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
