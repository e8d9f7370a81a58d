package micloud

import "encoding/json"

// Device is the opaque bag of fields the cloud returns per device. Only
// Did and Model are ever interpreted by this package; everything else
// passes through verbatim (spec.md §3).
type Device struct {
	Did      string `json:"did"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	LocalIP  string `json:"localip"`
	Token    string `json:"token"`
	IsOnline bool   `json:"isOnline"`

	// Extra carries any server field not promoted to a named field above.
	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the named fields typed while stashing every other
// server field verbatim in Extra.
func (d *Device) UnmarshalJSON(data []byte) error {
	type alias Device
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, known := range []string{"did", "name", "model", "localip", "token", "isOnline"} {
		delete(raw, known)
	}

	*d = Device(a)
	d.Extra = raw
	return nil
}

// MarshalJSON re-merges Extra with the named fields so round-tripping a
// Device preserves every server field.
func (d Device) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+6)
	for k, v := range d.Extra {
		out[k] = v
	}

	type alias Device
	named, err := json.Marshal(alias(d))
	if err != nil {
		return nil, err
	}

	var namedMap map[string]json.RawMessage
	if err = json.Unmarshal(named, &namedMap); err != nil {
		return nil, err
	}
	for k, v := range namedMap {
		out[k] = v
	}

	return json.Marshal(out)
}
