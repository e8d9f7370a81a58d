package micloud

import (
	"context"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// resolveHealthBaseURL is a test seam, mirroring rpc.go's resolveBaseURL.
var resolveHealthBaseURL = regionHealthBaseURL

// CallHealthAPI exercises the older RC4-enveloped request scheme used by
// Xiaomi's health/fitness endpoints (distinct from the HMAC-SHA256
// envelope of call/rpc.go — the two APIs genuinely sign differently).
// Grounded on pkg/xiaomi/auth.go's Request/Crypt/GenSignature64/GenNonce.
func (s *Session) CallHealthAPI(ctx context.Context, apiPath string, params any, regionOverride string) (json.RawMessage, error) {
	s.mu.Lock()
	serviceToken := s.serviceToken
	ssecurity := s.ssecurity
	clientID := s.clientID
	userAgent := s.userAgent
	region := s.region
	s.mu.Unlock()

	if serviceToken == "" {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, ErrNotAuthenticated)
	}
	if regionOverride != "" {
		region = regionOverride
	}
	if !IsSupportedRegion(region) {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, ErrUnsupportedRegion)
	}

	dataJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, err)
	}

	nonce := generateRawNonce()
	signedNonce, err := signedNonceBytes(ssecurity, nonce)
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, err)
	}

	form := url.Values{"data": {string(dataJSON)}}
	form.Set("rc4_hash__", generateSignature64("POST", apiPath, form, signedNonce))

	for key, values := range form {
		ciphertext, err := rc4Crypt(signedNonce, []byte(values[0]))
		if err != nil {
			return nil, fmt.Errorf("micloud: health call %s: encrypt %s: %w", apiPath, key, err)
		}
		form[key][0] = base64.StdEncoding.EncodeToString(ciphertext)
	}

	form.Set("signature", generateSignature64("POST", apiPath, form, signedNonce))
	form.Set("_nonce", base64.StdEncoding.EncodeToString(nonce))

	reqURL := resolveHealthBaseURL(region) + apiPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", fmt.Sprintf("deviceId=%s; serviceToken=%s", clientID, serviceToken))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, ErrTransportFailure)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("micloud: health call %s: status %d: %w", apiPath, res.StatusCode, ErrTransportFailure)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: read body: %w", apiPath, ErrTransportFailure)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, ErrMalformedResponse)
	}

	plaintext, err := rc4Crypt(signedNonce, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("micloud: health call %s: decrypt: %w", apiPath, err)
	}

	var parsed struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(plaintext, &parsed); err != nil {
		return nil, fmt.Errorf("micloud: health call %s: %w", apiPath, ErrMalformedResponse)
	}

	if parsed.Code != 0 {
		return nil, &ServerRejectedError{Message: parsed.Message}
	}

	return parsed.Result, nil
}

// generateRawNonce mirrors GenerateNonce but returns raw bytes rather
// than a base64 string, matching the health API's byte-oriented pipeline.
func generateRawNonce() []byte {
	nonce := make([]byte, 12)
	_, _ = rand.Read(nonce[:8])
	binary.BigEndian.PutUint32(nonce[8:], uint32(time.Now().Unix()/60))
	return nonce
}

func signedNonceBytes(ssecurity string, nonce []byte) ([]byte, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return nil, fmt.Errorf("micloud: decode ssecurity: %w", ErrMalformedSecret)
	}

	h := sha256.New()
	h.Write(secretBytes)
	h.Write(nonce)
	return h.Sum(nil), nil
}

func rc4Crypt(key, plaintext []byte) ([]byte, error) {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}

	discard := make([]byte, 1024)
	cipher.XORKeyStream(discard, discard)

	ciphertext := make([]byte, len(plaintext))
	cipher.XORKeyStream(ciphertext, plaintext)
	return ciphertext, nil
}

// generateSignature64 is the health API's SHA-1 based signature, distinct
// from GenerateSignature's HMAC-SHA256.
func generateSignature64(method, path string, values url.Values, signedNonce []byte) string {
	s := method + "&" + path + "&data=" + values.Get("data")
	if values.Has("rc4_hash__") {
		s += "&rc4_hash__=" + values.Get("rc4_hash__")
	}
	s += "&" + base64.StdEncoding.EncodeToString(signedNonce)

	h := sha1.New()
	h.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
