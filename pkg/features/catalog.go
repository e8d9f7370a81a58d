package features

import (
	"strconv"
	"strings"
)

// featPower toggles the light on/off; grounded on FEAT_POWER.
var featPower = FeatureSpec{
	ID:    "power",
	Label: "Power",
	Style: ControlStyle{Kind: Toggle, On: "1", Off: "0"},
	Get: func() Call {
		return Call{Method: "get_prop", Params: []string{"power"}}
	},
	Set: func(val string) Call {
		v := "off"
		if val == "1" || val == "true" || val == "on" {
			v = "on"
		}
		return Call{Method: "set_power", Params: []any{v, "smooth", 500}}
	},
}

// featRGB sets the light's color; grounded on FEAT_RGB. Accepts "#RRGGBB",
// "0xRRGGBB", or a bare hex string.
var featRGB = FeatureSpec{
	ID:    "rgb",
	Label: "RGB Color",
	Style: ControlStyle{Kind: ColorPicker},
	Get: func() Call {
		return Call{Method: "get_prop", Params: []string{"rgb"}}
	},
	Set: func(val string) Call {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(val, "#"), "0x")
		v, err := strconv.ParseUint(trimmed, 16, 32)
		if err != nil {
			v = 0
		}
		return Call{Method: "set_rgb", Params: []any{v, "smooth", 500}}
	},
}

// featBright sets brightness 1-100; grounded on FEAT_BRIGHT.
var featBright = FeatureSpec{
	ID:    "bright",
	Label: "Brightness",
	Style: ControlStyle{Kind: Slider, Min: 1, Max: 100, Step: 1},
	Get: func() Call {
		return Call{Method: "get_prop", Params: []string{"bright"}}
	},
	Set: func(val string) Call {
		n, err := strconv.Atoi(val)
		if err != nil {
			n = 50
		}
		if n < 1 {
			n = 1
		}
		if n > 100 {
			n = 100
		}
		return Call{Method: "set_bright", Params: []any{n, "smooth", 500}}
	},
}

// featLAN toggles the device's direct-LAN-control mode; grounded on
// FEAT_LAN.
var featLAN = FeatureSpec{
	ID:    "lan_mode",
	Label: "LAN Control",
	Style: ControlStyle{Kind: Toggle, On: "1", Off: "0"},
	Get: func() Call {
		return Call{Method: "get_prop", Params: []string{"lan_ctrl"}}
	},
	Set: func(val string) Call {
		v := "0"
		if val == "1" || val == "true" || val == "on" {
			v = "1"
		}
		return Call{Method: "set_ps", Params: []any{"cfg_lan_ctrl", v}}
	},
}

// Resolve maps a device model string to its ordered feature list.
// Grounded on original_source/src-tauri/devices/src/devices.rs's resolve.
func Resolve(model string) []FeatureSpec {
	var out []FeatureSpec

	if strings.HasPrefix(model, "yeelink.light") {
		out = append(out, featPower)

		monochrome := strings.Contains(model, "mono") || strings.Contains(model, "ceiling")
		if !monochrome {
			out = append(out, featRGB)
		}

		out = append(out, featBright, featLAN)
	}

	return out
}
