package micloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const clientSDKVersion = "accountsdk-18.8.15"
const mishopClientID = "180100041079"

// resolveBaseURL is regionBaseURL by default; tests swap it to
// point at an httptest server instead of the real cloud hosts.
var resolveBaseURL = regionBaseURL

// call runs the C6 RPC pipeline: build the signed envelope, POST it to
// <region_base>+path, and return the parsed "result" field (spec.md §4.6).
// data is the parsed request body, not a pre-marshaled string: the
// signature (spec.md §4.1/§8) is computed over the object form
// ({"k":"v"}), and compactJSON would instead produce a quoted/escaped
// string literal if handed JSON text directly.
func (s *Session) call(ctx context.Context, path string, data map[string]any, regionOverride string, fallbackMessage string) (json.RawMessage, error) {
	s.mu.Lock()
	serviceToken := s.serviceToken
	ssecurity := s.ssecurity
	userID := s.userID
	clientID := s.clientID
	userAgent := s.userAgent
	region := s.region
	s.mu.Unlock()

	if serviceToken == "" {
		return nil, fmt.Errorf("micloud: call %s: %w", path, ErrNotAuthenticated)
	}

	if regionOverride != "" {
		region = regionOverride
	}
	if !IsSupportedRegion(region) {
		return nil, fmt.Errorf("micloud: call %s: %w", path, ErrUnsupportedRegion)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}
	signedNonce, err := SignedNonce(ssecurity, nonce)
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}
	signature, err := GenerateSignature(path, signedNonce, nonce, map[string]any{"data": data})
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}

	encoded, err := FormURLEncode(map[string]any{
		"_nonce":    nonce,
		"data":      string(dataJSON),
		"signature": signature,
	})
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}

	reqURL := resolveBaseURL(region) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	req.Header.Set("mishop-client-id", mishopClientID)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", fmt.Sprintf(
		"sdkVersion=%s; deviceId=%s; userId=%s; serviceToken=%s; yetAnotherServiceToken=%s; locale=%s; channel=MI_APP_STORE",
		clientSDKVersion, clientID, userID, serviceToken, serviceToken, locale,
	))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, ErrTransportFailure)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("micloud: call %s: read body: %w", path, ErrTransportFailure)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("micloud: call %s: status %d: %w", path, res.StatusCode, ErrTransportFailure)
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("micloud: call %s: %w", path, ErrMalformedResponse)
	}

	if len(parsed.Result) > 0 && string(parsed.Result) != "null" {
		return parsed.Result, nil
	}

	message := parsed.Error.Message
	if message == "" {
		message = fallbackMessage
	}
	return nil, &ServerRejectedError{Message: message}
}

// GetDevices lists devices, optionally restricted to dids (spec.md §4.7).
func (s *Session) GetDevices(ctx context.Context, dids []string, regionOverride string) ([]Device, error) {
	var body map[string]any
	if len(dids) > 0 {
		body = map[string]any{"dids": dids}
	} else {
		body = map[string]any{"getVirtualModel": false, "getHuamiDevices": 0}
	}

	result, err := s.call(ctx, "/home/device_list", body, regionOverride, "Miio call for device listing failed")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		List []Device `json:"list"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("micloud: get devices: %w", ErrMalformedResponse)
	}

	return parsed.List, nil
}

// GetDevice is a convenience wrapper fetching exactly one device by did.
func (s *Session) GetDevice(ctx context.Context, did string, regionOverride string) (Device, error) {
	devices, err := s.GetDevices(ctx, []string{did}, regionOverride)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, &ServerRejectedError{Message: fmt.Sprintf("device %s not found", did)}
	}
	return devices[0], nil
}

// CallDevice invokes a device method via the /home/rpc/<did> path
// (spec.md §4.7).
func (s *Session) CallDevice(ctx context.Context, did, method string, params any, regionOverride string) (json.RawMessage, error) {
	body := map[string]any{"method": method, "params": params}

	return s.call(ctx, "/home/rpc/"+did, body, regionOverride, fmt.Sprintf("Miio call for device %s failed", did))
}
